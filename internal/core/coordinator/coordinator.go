package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/kirillkom/agentic-rag-assistant/internal/core/domain"
	"github.com/kirillkom/agentic-rag-assistant/internal/core/protocol"
)

// maxDepth bounds recursive delivery. The longest chain
// (RETRIEVAL_REQUEST -> RETRIEVAL_RESPONSE -> GENERATE_REQUEST -> GENERATE_RESPONSE)
// needs three nested hops.
const maxDepth = 4

var ErrClosed = errors.New("coordinator is closed")

// Agent is a message handler registered under a participant name.
// Handle must not call other agents; it returns the messages to route next.
type Agent interface {
	Name() protocol.Participant
	Handle(ctx context.Context, msg protocol.Message) ([]protocol.Message, error)
}

// Recorder receives routing and stage observations. Implemented by metrics.PipelineMetrics.
type Recorder interface {
	ObserveMessage(messageType, receiver, outcome string)
	ObserveStage(stage string, duration time.Duration, err error)
}

type Options struct {
	Logger   *slog.Logger
	Notifier Notifier
	Recorder Recorder
}

// Coordinator routes messages to registered agents and strings their outputs
// together through the continuation table in pipeline.go.
type Coordinator struct {
	logger   *slog.Logger
	notifier Notifier
	recorder Recorder
	agents   map[protocol.Participant]Agent
	closed   atomic.Bool
}

// New builds a coordinator with a fixed agent registry.
func New(opts Options, agents ...Agent) (*Coordinator, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := make(map[protocol.Participant]Agent, len(agents))
	for _, agent := range agents {
		if agent == nil {
			return nil, domain.WrapError(domain.ErrConfiguration, "register agent", errors.New("nil agent"))
		}
		name := agent.Name()
		switch {
		case !name.Known():
			return nil, domain.WrapError(domain.ErrConfiguration, "register agent", fmt.Errorf("unknown participant %q", name))
		case name == protocol.Coordinator || name == protocol.UI:
			return nil, domain.WrapError(domain.ErrConfiguration, "register agent", fmt.Errorf("participant %q is reserved", name))
		}
		if _, dup := registry[name]; dup {
			return nil, domain.WrapError(domain.ErrConfiguration, "register agent", fmt.Errorf("duplicate agent %q", name))
		}
		registry[name] = agent
	}

	return &Coordinator{
		logger:   logger,
		notifier: opts.Notifier,
		recorder: opts.Recorder,
		agents:   registry,
	}, nil
}

// Agents lists registered participant names in sorted order.
func (c *Coordinator) Agents() []protocol.Participant {
	out := make([]protocol.Participant, 0, len(c.agents))
	for name := range c.agents {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Send delivers msg and everything it causes before returning.
// Unroutable messages are logged and dropped; agent failures are reported to the
// notifier and returned.
func (c *Coordinator) Send(ctx context.Context, msg protocol.Message) error {
	return c.send(ctx, msg, 0)
}

func (c *Coordinator) Close() {
	c.closed.Store(true)
}

func (c *Coordinator) send(ctx context.Context, msg protocol.Message, depth int) error {
	c.logger.Info("mcp_message",
		"sender", string(msg.Sender),
		"receiver", string(msg.Receiver),
		"type", string(msg.Type()),
		"trace_id", msg.TraceID,
		"depth", depth,
	)

	if c.closed.Load() {
		return ErrClosed
	}

	if depth > maxDepth {
		c.logger.Warn("routing_failed",
			"receiver", string(msg.Receiver),
			"type", string(msg.Type()),
			"trace_id", msg.TraceID,
			"reason", "maximum routing depth exceeded",
		)
		c.observeMessage(msg, "dropped")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if agent, ok := c.agents[msg.Receiver]; ok {
		return c.deliver(ctx, agent, msg, depth)
	}
	if msg.Receiver == protocol.Coordinator {
		return c.continueChain(ctx, msg, depth)
	}

	c.logger.Warn("routing_failed",
		"receiver", string(msg.Receiver),
		"type", string(msg.Type()),
		"trace_id", msg.TraceID,
		"reason", "no agent or handler registered for receiver",
	)
	c.observeMessage(msg, "unroutable")
	return nil
}

func (c *Coordinator) deliver(ctx context.Context, agent Agent, msg protocol.Message, depth int) error {
	start := time.Now()
	replies, err := handleSafely(ctx, agent, msg)
	c.observeStage(string(agent.Name()), time.Since(start), err)
	if err != nil {
		c.observeMessage(msg, "failed")
		c.logger.Error("agent_failed",
			"agent", string(agent.Name()),
			"type", string(msg.Type()),
			"trace_id", msg.TraceID,
			"error", err,
		)
		c.notify(ctx, domain.PipelineEvent{
			Type:    domain.EventPipelineError,
			TraceID: msg.TraceID,
			Stage:   string(agent.Name()),
			Error:   err.Error(),
			At:      time.Now().UTC(),
		})
		return fmt.Errorf("%s handle %s: %w", agent.Name(), msg.Type(), err)
	}
	c.observeMessage(msg, "delivered")

	for _, reply := range replies {
		if err := c.send(ctx, reply, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) continueChain(ctx context.Context, msg protocol.Message, depth int) error {
	next, err := Continue(msg)
	if err != nil {
		c.logger.Warn("routing_failed",
			"receiver", string(msg.Receiver),
			"type", string(msg.Type()),
			"trace_id", msg.TraceID,
			"reason", err.Error(),
		)
		c.observeMessage(msg, "unroutable")
		return nil
	}
	c.observeMessage(msg, "continued")

	if next.Event != nil {
		c.notify(ctx, *next.Event)
	}
	if next.Next != nil {
		return c.send(ctx, *next.Next, depth+1)
	}
	return nil
}

func (c *Coordinator) notify(ctx context.Context, event domain.PipelineEvent) {
	if c.notifier == nil {
		c.logger.Debug("pipeline_event_dropped", "event", string(event.Type), "trace_id", event.TraceID)
		return
	}
	notifySafely(ctx, c.logger, c.notifier, event)
}

func (c *Coordinator) observeMessage(msg protocol.Message, outcome string) {
	if c.recorder == nil {
		return
	}
	c.recorder.ObserveMessage(string(msg.Type()), string(msg.Receiver), outcome)
}

func (c *Coordinator) observeStage(stage string, duration time.Duration, err error) {
	if c.recorder == nil {
		return
	}
	c.recorder.ObserveStage(stage, duration, err)
}

func handleSafely(ctx context.Context, agent Agent, msg protocol.Message) (replies []protocol.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent panic: %v", r)
		}
	}()
	return agent.Handle(ctx, msg)
}
