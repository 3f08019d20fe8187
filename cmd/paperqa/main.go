// Package main is the paperqa CLI. It runs the question-answering pipeline
// in-process and prints results as JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/knoguchi/paperqa/internal/app"
	"github.com/knoguchi/paperqa/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// rootCmd is the base command for the paperqa CLI.
var rootCmd = &cobra.Command{
	Use:   "paperqa",
	Short: "Ask questions about a corpus of academic papers",
	Long: `paperqa answers natural-language questions over an indexed paper corpus.
It retrieves candidate chunks from the vector index, optionally reranks them,
and synthesizes an answer with [n] citations.

Configuration is read from the environment and an optional .env file, the same
way the paperqad server reads it.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "log pipeline progress to stderr")
}

// withApp loads configuration, builds the pipeline and runs fn with it.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
