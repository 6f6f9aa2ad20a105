package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	mcpadapter "github.com/kirillkom/agentic-rag-assistant/internal/adapters/mcp"
	"github.com/kirillkom/agentic-rag-assistant/internal/bootstrap"
	"github.com/kirillkom/agentic-rag-assistant/internal/core/domain"
	"github.com/kirillkom/agentic-rag-assistant/internal/core/ports"
	"github.com/kirillkom/agentic-rag-assistant/internal/infrastructure/queue/nats"
)

func newIngestCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest PATH...",
		Short: "Index documents into the session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(app *bootstrap.App) error {
				result, err := app.Session.IngestPaths(cmd.Context(), args)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), result)
				}
				printUploadResult(cmd.OutOrStdout(), result)
				return nil
			})
		},
	}
}

func printUploadResult(w io.Writer, result ports.UploadResult) {
	for _, file := range result.Accepted {
		fmt.Fprintf(w, "accepted  %s (%d bytes)\n", file.Name, file.Size)
	}
	for _, name := range result.Skipped {
		fmt.Fprintf(w, "skipped   %s\n", name)
	}
	switch {
	case result.Indexed:
		fmt.Fprintln(w, "documents processed, ready for questions")
	case len(result.Accepted) > 0:
		fmt.Fprintln(w, "no text could be indexed from the accepted files")
	}
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			return opts.withApp(cmd.Context(), func(app *bootstrap.App) error {
				answer, err := app.Session.Ask(cmd.Context(), question)
				if domain.IsKind(err, domain.ErrNotReady) {
					return errors.New("no documents are indexed yet; run `docqa ingest` first")
				}
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), answer)
				}
				printAnswer(cmd.OutOrStdout(), answer)
				return nil
			})
		},
	}
}

func printAnswer(w io.Writer, answer domain.ChatMessage) {
	fmt.Fprintln(w, answer.Content)
	if len(answer.Sources) == 0 {
		return
	}
	fmt.Fprintln(w, "\nSources:")
	for i, source := range answer.Sources {
		fmt.Fprintf(w, "[%d] %s\n", i+1, snippet(source, 200))
	}
}

func snippet(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the chat history of the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd.Context(), func(app *bootstrap.App) error {
				messages, err := app.Session.History(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), messages)
				}
				for _, msg := range messages {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %-9s %s\n", msg.CreatedAt.Format("2006-01-02 15:04:05"), msg.Role, msg.Content)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of most recent messages")
	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index and upload state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd.Context(), func(app *bootstrap.App) error {
				status, err := app.Session.Status(cmd.Context())
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), status)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "session:         %s\n", status.SessionID)
				fmt.Fprintf(cmd.OutOrStdout(), "files processed: %t\n", status.FilesProcessed)
				fmt.Fprintf(cmd.OutOrStdout(), "vectors:         %d\n", status.Vectors)
				fmt.Fprintf(cmd.OutOrStdout(), "uploaded files:  %d\n", status.UploadedFiles)
				return nil
			})
		},
	}
}

func newEventsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Stream pipeline events published to NATS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.NATSURL == "" {
				return domain.WrapError(domain.ErrConfiguration, "events", errors.New("NATS_URL is not set"))
			}
			logger := opts.logger(cfg)

			subscriber, err := nats.New(cfg.NATSURL, nats.Options{
				SubjectPrefix: cfg.NATSSubjectPrefix,
				Logger:        logger,
			})
			if err != nil {
				return err
			}
			defer subscriber.Close()

			out := json.NewEncoder(cmd.OutOrStdout())
			err = subscriber.Subscribe(cmd.Context(), func(_ context.Context, event domain.PipelineEvent) error {
				return out.Encode(event)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the session as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd.Context(), func(app *bootstrap.App) error {
				server := mcpadapter.NewServer(app.Session, version, app.Logger)
				return server.ServeStdio(cmd.Context(), os.Stdin, os.Stdout)
			})
		},
	}
}
