package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/kirillkom/agentic-rag-assistant/internal/core/domain"
	"github.com/kirillkom/agentic-rag-assistant/internal/core/ports"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"ingest", "ask", "history", "status", "events", "mcp"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("subcommand %s not registered: %v", name, err)
		}
	}
}

func TestIngestRequiresPaths(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"ingest"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected argument error for ingest without paths")
	}
}

func TestEventsRequiresNATSURL(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("NATS_URL", "")
	t.Setenv("LLM_PROVIDER", "")

	root := newRootCmd()
	root.SetArgs([]string{"events"})
	root.SetOut(&bytes.Buffer{})
	err := root.ExecuteContext(context.Background())
	if !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestPrintUploadResult(t *testing.T) {
	var out bytes.Buffer
	printUploadResult(&out, ports.UploadResult{
		Accepted: []domain.UploadedFile{{Name: "a.pdf", Size: 12}},
		Skipped:  []string{"a.pdf"},
		Indexed:  true,
	})
	got := out.String()
	for _, want := range []string{"accepted  a.pdf (12 bytes)", "skipped   a.pdf", "ready for questions"} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in %q", want, got)
		}
	}
}

func TestPrintAnswerListsSources(t *testing.T) {
	var out bytes.Buffer
	printAnswer(&out, domain.ChatMessage{Content: "Blue.", Sources: []string{"The sky\n\nis blue."}})
	if !strings.Contains(out.String(), "Blue.\n") || !strings.Contains(out.String(), "[1] The sky is blue.") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestSnippetTruncatesByRunes(t *testing.T) {
	if got := snippet("héllo wörld", 5); got != "héllo..." {
		t.Fatalf("unexpected snippet %q", got)
	}
	if got := snippet("short", 10); got != "short" {
		t.Fatalf("unexpected snippet %q", got)
	}
}
