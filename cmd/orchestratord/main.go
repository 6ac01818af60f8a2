// Package main provides the CLI entry point for orchestratord, the
// multi-agent orchestration runtime: a message bus, scheduler, and
// LLM-backed handler loop that dispatch work across a tree of agents.
//
// # Basic Usage
//
// Start the runtime:
//
//	orchestratord serve --config orchestratord.yaml
//
// Validate a configuration file without starting anything:
//
//	orchestratord config check --config orchestratord.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "orchestratord",
		Short: "orchestratord - multi-agent orchestration runtime",
		Long: `orchestratord dispatches work across a tree of agents through a
message bus, a single dispatch scheduler, and an LLM-backed tool-calling
handler loop.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildConfigCmd(),
	)

	return rootCmd
}
