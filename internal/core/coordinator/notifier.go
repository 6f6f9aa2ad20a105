package coordinator

import (
	"context"
	"log/slog"

	"github.com/kirillkom/agentic-rag-assistant/internal/core/domain"
)

// Notifier is the seam to whatever sits outside the pipeline (session, UI, event bus).
type Notifier interface {
	Notify(ctx context.Context, event domain.PipelineEvent)
}

type NotifierFunc func(ctx context.Context, event domain.PipelineEvent)

func (f NotifierFunc) Notify(ctx context.Context, event domain.PipelineEvent) {
	f(ctx, event)
}

// Fanout delivers every event to each notifier in order. A panicking notifier
// is logged and does not stop the others.
type Fanout struct {
	logger    *slog.Logger
	notifiers []Notifier
}

func NewFanout(logger *slog.Logger, notifiers ...Notifier) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	out := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	return &Fanout{logger: logger, notifiers: out}
}

func (f *Fanout) Notify(ctx context.Context, event domain.PipelineEvent) {
	for _, n := range f.notifiers {
		notifySafely(ctx, f.logger, n, event)
	}
}

func notifySafely(ctx context.Context, logger *slog.Logger, n Notifier, event domain.PipelineEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("notifier_panic", "event", string(event.Type), "trace_id", event.TraceID, "panic", r)
		}
	}()
	n.Notify(ctx, event)
}
