// internal/report/report.go

// Package report periodically logs per-session usage totals: message counts,
// pending permissions, and token usage, estimating tokens locally for
// messages the upstream attached no accounting to.
package report

import (
	"fmt"
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
	"github.com/robfig/cron/v3"

	"github.com/user/sessionrelay/internal/store"
	"github.com/user/sessionrelay/internal/types"
)

// Reporter walks the store on a cron schedule and logs a summary line per
// session.
type Reporter struct {
	store     *store.Store
	schedule  string
	tokenizer *tiktoken.Tiktoken
	cron      *cron.Cron
}

// New creates a Reporter firing on the given cron schedule (descriptors like
// "@every 10m" are accepted). model selects the tokenizer used for local
// token estimates.
func New(st *store.Store, schedule, model string) (*Reporter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Reporter{
		store:     st,
		schedule:  schedule,
		tokenizer: enc,
		cron:      cron.New(),
	}, nil
}

// Start registers the schedule and starts the cron ticker.
func (r *Reporter) Start() error {
	if _, err := r.cron.AddFunc(r.schedule, r.report); err != nil {
		return fmt.Errorf("invalid report schedule %q: %w", r.schedule, err)
	}
	r.cron.Start()
	slog.Info("usage reporter started", "schedule", r.schedule)
	return nil
}

// Stop stops the cron ticker.
func (r *Reporter) Stop() {
	r.cron.Stop()
}

func (r *Reporter) report() {
	for _, id := range r.store.Sessions() {
		state, ok := r.store.Snapshot(id)
		if !ok {
			continue
		}
		sum := r.Summarize(state)
		slog.Info("session usage",
			"session_id", string(id),
			"messages", sum.Messages,
			"pending_permissions", sum.PendingPermissions,
			"input_tokens", sum.InputTokens,
			"output_tokens", sum.OutputTokens,
			"estimated_tokens", sum.EstimatedTokens,
			"cost", sum.Cost,
			"last_update", state.LastUpdate,
		)
	}
}

// Summary aggregates one session's accounting. EstimatedTokens covers
// messages with no upstream usage info.
type Summary struct {
	Messages           int
	PendingPermissions int
	InputTokens        int
	OutputTokens       int
	EstimatedTokens    int
	Cost               float64
}

// Summarize computes usage totals for a snapshot.
func (r *Reporter) Summarize(state *types.SessionState) Summary {
	sum := Summary{
		Messages:           len(state.Messages),
		PendingPermissions: len(state.Permissions.Queue),
	}
	for _, msg := range state.Messages {
		if msg.Usage != nil {
			sum.InputTokens += msg.Usage.InputTokens
			sum.OutputTokens += msg.Usage.OutputTokens
			sum.Cost += msg.Usage.Cost
			continue
		}
		if r.tokenizer == nil {
			continue
		}
		for _, part := range msg.Parts {
			if part.Type == types.PartText && part.Text != "" {
				sum.EstimatedTokens += len(r.tokenizer.Encode(part.Text, nil, nil))
			}
		}
	}
	return sum
}
