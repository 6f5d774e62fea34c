// internal/upstream/ingest.go
package upstream

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/user/sessionrelay/internal/types"
)

// EventSource opens the upstream event feed. Satisfied by *Client.
type EventSource interface {
	Events(ctx context.Context) (io.ReadCloser, error)
}

// Ingester maintains exactly one open read of the upstream event feed,
// decodes its frames, and hands each event to the handler. It knows nothing
// about sessions.
type Ingester struct {
	source  EventSource
	handler func(types.Event)
	backoff *Backoff

	// sleep is swapped out by tests; defaults to time.Sleep honoring ctx.
	sleep    func(ctx context.Context, d time.Duration)
	inflight atomic.Bool
}

// NewIngester creates an Ingester that forwards every decoded event to
// handler. The handler is invoked from the read loop, one event at a time.
func NewIngester(source EventSource, handler func(types.Event)) *Ingester {
	return &Ingester{
		source:  source,
		handler: handler,
		backoff: DefaultBackoff(),
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Run reads the event feed until ctx is cancelled, reconnecting with
// exponential backoff whenever the stream ends. Concurrent Run calls beyond
// the first return immediately.
func (i *Ingester) Run(ctx context.Context) {
	if !i.inflight.CompareAndSwap(false, true) {
		slog.Warn("ingester already running")
		return
	}
	defer i.inflight.Store(false)

	for ctx.Err() == nil {
		body, err := i.source.Events(ctx)
		if err != nil {
			delay := i.backoff.Next()
			slog.Warn("upstream connect failed", "error", err, "retry_in", delay)
			i.sleep(ctx, delay)
			continue
		}
		i.backoff.Reset()
		slog.Info("upstream event stream connected")

		err = i.readLoop(ctx, body)
		body.Close()
		if ctx.Err() != nil {
			return
		}
		delay := i.backoff.Next()
		slog.Warn("upstream event stream ended", "error", err, "retry_in", delay)
		i.sleep(ctx, delay)
	}
}

// readLoop consumes SSE framing: `data:` lines accumulate, a blank line
// flushes the payload as one JSON event. Comments, ids, retry hints, and
// event-name lines are accepted and ignored. A malformed payload is logged
// and skipped; it never ends the loop.
func (i *Ingester) readLoop(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var data []byte
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimRight(scanner.Text(), "\r")

		if line == "" {
			if len(data) == 0 {
				continue
			}
			ev, err := types.DecodeEvent(data)
			data = nil
			if err != nil {
				slog.Warn("malformed event frame skipped", "error", err)
				continue
			}
			i.handler(ev)
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if after, ok := strings.CutPrefix(line, "data:"); ok {
			chunk := strings.TrimPrefix(after, " ")
			if len(data) > 0 {
				data = append(data, '\n')
			}
			data = append(data, chunk...)
		}
		// event:, id:, retry: and anything else fall through untouched.
	}
	return scanner.Err()
}
