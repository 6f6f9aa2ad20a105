package nats

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/agentic-rag-assistant/internal/core/domain"
)

func TestSubjectForEventType(t *testing.T) {
	cases := []struct {
		prefix string
		want   string
	}{
		{"", "docqa.events.final_answer"},
		{" custom.prefix. ", "custom.prefix.final_answer"},
	}
	for _, tc := range cases {
		if got := subjectFor(normalizePrefix(tc.prefix), domain.EventFinalAnswer); got != tc.want {
			t.Fatalf("prefix %q: expected %q, got %q", tc.prefix, tc.want, got)
		}
	}
}

func TestClassifyNATSError(t *testing.T) {
	if class := classifyNATSError(fmt.Errorf("publish: %w", nats.ErrNoServers)); !class.Retryable {
		t.Fatalf("expected no-servers to be retryable")
	}
	if class := classifyNATSError(context.Canceled); class.Retryable || class.RecordFailure {
		t.Fatalf("expected cancellation to be ignored, got %+v", class)
	}
	if class := classifyNATSError(nats.ErrBadSubject); class.Retryable {
		t.Fatalf("expected bad subject to be permanent")
	}
}

func TestWrapTemporaryIfNeeded(t *testing.T) {
	if err := wrapTemporaryIfNeeded(nats.ErrTimeout); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary kind, got %v", err)
	}
	permanent := errors.New("boom")
	if err := wrapTemporaryIfNeeded(permanent); !errors.Is(err, permanent) || domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected permanent error unchanged, got %v", err)
	}
}
