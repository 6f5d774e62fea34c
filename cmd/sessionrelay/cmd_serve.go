package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/sessionrelay/internal/gate"
	"github.com/user/sessionrelay/internal/journal"
	"github.com/user/sessionrelay/internal/notify"
	"github.com/user/sessionrelay/internal/report"
	"github.com/user/sessionrelay/internal/server"
	"github.com/user/sessionrelay/internal/store"
	"github.com/user/sessionrelay/internal/stream"
	"github.com/user/sessionrelay/internal/types"
	"github.com/user/sessionrelay/internal/upstream"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sessionrelay daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "sessionrelay.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Write PID file
	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := types.SystemClock{}
	client := upstream.NewClient(cfg.Upstream.BaseURL)

	// Fan-out chain: store -> gate -> connection manager.
	manager := stream.NewManager()
	buffering := gate.New(manager)
	st := store.New(clock, buffering)

	// Permission notifications
	notifiers := notify.NewRegistry()
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			return fmt.Errorf("create telegram notifier: %w", err)
		}
		notifiers.Register("telegram", tg.Notify)
		slog.Info("telegram notifier registered", "chat_id", cfg.Telegram.ChatID)
	} else {
		slog.Warn("telegram notifier disabled (no token or chat id)")
	}
	st.SetPermissionHook(notifiers.Announce)

	// Optional raw-event journal
	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		jnl = journal.New(cfg.DataDir, clock)
		slog.Info("event journal enabled", "dir", cfg.DataDir)
	}

	handle := func(ev types.Event) {
		if jnl != nil {
			if err := jnl.Record(ev); err != nil {
				slog.Warn("journal write failed", "error", err)
			}
		}
		st.Apply(ev)
	}

	ingester := upstream.NewIngester(client, handle)
	go ingester.Run(ctx)

	hydrator := upstream.NewHydrator(client, st.Apply, int64(cfg.Hydration.MaxConcurrent))

	// Usage reporter
	reporter, err := report.New(st, cfg.Report.Schedule, cfg.Report.Model)
	if err != nil {
		return fmt.Errorf("create reporter: %w", err)
	}
	if err := reporter.Start(); err != nil {
		return fmt.Errorf("start reporter: %w", err)
	}
	defer reporter.Stop()

	keepalive := time.Duration(cfg.HTTP.KeepaliveSeconds) * time.Second
	srv := server.New(st, buffering, manager, client, hydrator, keepalive)
	httpServer := &http.Server{
		Addr:    cfg.HTTP.Listen,
		Handler: srv,
	}
	go func() {
		slog.Info("downstream server started", "listen", cfg.HTTP.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("downstream server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		httpServer.Close()
	}()

	slog.Info("sessionrelay started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"upstream", cfg.Upstream.BaseURL,
		"listen", cfg.HTTP.Listen,
		"keepalive", keepalive,
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			// Clean up PID file before re-exec
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				// Re-write PID file since we failed to re-exec
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		// SIGINT or SIGTERM
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
