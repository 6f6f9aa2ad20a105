package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirillkom/agentic-rag-assistant/internal/bootstrap"
	"github.com/kirillkom/agentic-rag-assistant/internal/config"
	"github.com/kirillkom/agentic-rag-assistant/internal/observability/logging"
)

type rootOptions struct {
	configFile string
	jsonOutput bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "docqa",
		Short:         "Ask questions about your own documents",
		Long:          "docqa indexes PDF, Word, PowerPoint, CSV and text files and answers questions using only their content.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML config file (overrides CONFIG_FILE)")
	cmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "print machine-readable JSON")

	cmd.AddCommand(
		newIngestCmd(opts),
		newAskCmd(opts),
		newHistoryCmd(opts),
		newStatusCmd(opts),
		newEventsCmd(opts),
		newMCPCmd(opts),
	)
	return cmd
}

func (o *rootOptions) loadConfig() (config.Config, error) {
	if o.configFile != "" {
		if err := os.Setenv("CONFIG_FILE", o.configFile); err != nil {
			return config.Config{}, fmt.Errorf("set CONFIG_FILE: %w", err)
		}
	}
	return config.Load()
}

// logger writes to stderr; stdout carries command output and the MCP transport.
func (o *rootOptions) logger(cfg config.Config) *slog.Logger {
	logger := logging.NewJSONLoggerTo(os.Stderr, "docqa-cli", cfg.LogLevel)
	slog.SetDefault(logger)
	return logger
}

func (o *rootOptions) withApp(ctx context.Context, fn func(*bootstrap.App) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	app, err := bootstrap.New(ctx, cfg, o.logger(cfg))
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
