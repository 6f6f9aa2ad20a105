package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/agentic-rag-assistant/internal/core/domain"
	"github.com/kirillkom/agentic-rag-assistant/internal/infrastructure/resilience"
)

const DefaultSubjectPrefix = "docqa.events"

// Publisher mirrors pipeline events onto NATS subjects <prefix>.<event>.
type Publisher struct {
	conn     *nats.Conn
	prefix   string
	executor *resilience.Executor
	logger   *slog.Logger
}

type Options struct {
	SubjectPrefix        string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url string, options Options) (*Publisher, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("agentic-rag-assistant"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Publisher{
		conn:     conn,
		prefix:   normalizePrefix(options.SubjectPrefix),
		executor: options.ResilienceExecutor,
		logger:   logger,
	}, nil
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

// Subject is the subject an event type is published on.
func (p *Publisher) Subject(eventType domain.EventType) string {
	return subjectFor(p.prefix, eventType)
}

// Notify publishes the event. Failures are logged and never reach the pipeline.
func (p *Publisher) Notify(ctx context.Context, event domain.PipelineEvent) {
	if err := p.Publish(ctx, event); err != nil {
		p.logger.Error("event_publish_failed",
			"event", string(event.Type),
			"trace_id", event.TraceID,
			"error", err,
		)
	}
}

func (p *Publisher) Publish(ctx context.Context, event domain.PipelineEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := p.Subject(event.Type)

	call := func(_ context.Context) error {
		if err := p.conn.Publish(subject, data); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if p.executor != nil {
		err = p.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// Subscribe delivers every event under the prefix until ctx is done.
func (p *Publisher) Subscribe(ctx context.Context, handler func(context.Context, domain.PipelineEvent) error) error {
	sub, err := p.conn.Subscribe(p.prefix+".>", func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		var event domain.PipelineEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			p.logger.Warn("event_decode_failed", "subject", msg.Subject, "error", err)
			return
		}
		if err := handler(ctx, event); err != nil {
			p.logger.Error("event_handler_failed", "subject", msg.Subject, "trace_id", event.TraceID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := p.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := p.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		return DefaultSubjectPrefix
	}
	return prefix
}

func subjectFor(prefix string, eventType domain.EventType) string {
	return prefix + "." + string(eventType)
}
