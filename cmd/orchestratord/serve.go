package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus/internal/rtconfig"
	"github.com/haasonsaas/nexus/internal/runtime"
	"github.com/haasonsaas/nexus/internal/shutdown"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestration runtime",
		Long: `Start the orchestration runtime.

The server will:
1. Load configuration from the specified file (or built-in defaults)
2. Restore organization state and conversations from the configured
   persistence backend, if any
3. Start the scheduler's dispatch loop

Graceful shutdown is handled on SIGINT/SIGTERM; a second signal during
drain forces immediate exit.`,
		Example: `  # Start with default config
  orchestratord serve

  # Start with a specific config file
  orchestratord serve --config /etc/orchestratord/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (empty uses built-in defaults)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func loadConfig(configPath string) (*rtconfig.Config, error) {
	if configPath == "" {
		return rtconfig.Default(), nil
	}
	return rtconfig.Load(configPath)
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	slog.Info("starting orchestratord", "version", version, "commit", commit, "config", configPath, "debug", debug)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	rt, err := runtime.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to wire runtime: %w", err)
	}

	sigCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rt.Start(sigCtx); err != nil {
		return fmt.Errorf("failed to start runtime: %w", err)
	}

	slog.Info("orchestratord started",
		"persistence_backend", cfg.Persistence.Backend,
		"llm_provider", cfg.LLM.DefaultProvider,
		"max_concurrent", cfg.Scheduler.MaxConcurrent,
	)

	<-sigCtx.Done()

	return drainOnSignal(rt, "first signal")
}

// drainOnSignal runs the cooperative two-phase shutdown: the first signal
// requests a drain with a bounded timeout; any further signal received
// while draining is treated as a demand for immediate exit, since
// shutdown.Manager.Request only returns true once.
func drainOnSignal(rt *runtime.Runtime, signalName string) error {
	if !rt.Shutdown.Request() {
		slog.Warn("shutdown already in progress, ignoring duplicate signal")
		return nil
	}

	slog.Info("shutdown signal received, draining", "signal", signalName)

	forceExit := make(chan os.Signal, 1)
	signal.Notify(forceExit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(forceExit)

	drainCtx, cancel := context.WithTimeout(context.Background(), rt.Config.Shutdown.TimeoutDuration())
	defer cancel()

	done := make(chan struct{})
	var summary shutdown.Summary
	go func() {
		summary = rt.Drain(drainCtx, signalName)
		close(done)
	}()

	select {
	case <-done:
		slog.Info("shutdown drain complete",
			"pending_messages", summary.PendingMessages,
			"active_agents", summary.ActiveAgents,
			"timed_out", summary.TimedOut,
		)
		return nil
	case <-forceExit:
		slog.Warn("second shutdown signal received, exiting immediately without waiting for drain")
		os.Exit(1)
		return nil
	}
}
