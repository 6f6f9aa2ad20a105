package coordinator

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/agentic-rag-assistant/internal/core/domain"
	"github.com/kirillkom/agentic-rag-assistant/internal/core/protocol"
)

type agentFake struct {
	name    protocol.Participant
	handle  func(ctx context.Context, msg protocol.Message) ([]protocol.Message, error)
	mu      sync.Mutex
	handled []protocol.Message
}

func (a *agentFake) Name() protocol.Participant { return a.name }

func (a *agentFake) Handle(ctx context.Context, msg protocol.Message) ([]protocol.Message, error) {
	a.mu.Lock()
	a.handled = append(a.handled, msg)
	a.mu.Unlock()
	if a.handle == nil {
		return nil, nil
	}
	return a.handle(ctx, msg)
}

type eventSink struct {
	mu     sync.Mutex
	events []domain.PipelineEvent
}

func (s *eventSink) Notify(_ context.Context, event domain.PipelineEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

type recorderFake struct {
	outcomes []string
	stages   []string
}

func (r *recorderFake) ObserveMessage(messageType, receiver, outcome string) {
	r.outcomes = append(r.outcomes, messageType+"/"+receiver+"/"+outcome)
}

func (r *recorderFake) ObserveStage(stage string, _ time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.stages = append(r.stages, stage+"/"+status)
}

func mustMessage(t *testing.T, sender, receiver protocol.Participant, traceID string, payload protocol.Payload) protocol.Message {
	t.Helper()
	msg, err := protocol.New(sender, receiver, traceID, payload)
	if err != nil {
		t.Fatalf("protocol.New() error = %v", err)
	}
	return msg
}

// pipelineAgents wires fakes that behave like the real stages.
func pipelineAgents(t *testing.T) (*agentFake, *agentFake, *agentFake) {
	ingestion := &agentFake{name: protocol.IngestionAgent}
	ingestion.handle = func(_ context.Context, msg protocol.Message) ([]protocol.Message, error) {
		reply, err := msg.Reply(protocol.IngestionAgent, protocol.Coordinator, protocol.EmbedRequest{
			Chunks:   []string{"c1", "c2"},
			Metadata: []domain.ChunkMetadata{{Source: "a.txt"}, {Source: "a.txt"}},
		})
		return []protocol.Message{reply}, err
	}
	retrieval := &agentFake{name: protocol.RetrievalAgent}
	retrieval.handle = func(_ context.Context, msg protocol.Message) ([]protocol.Message, error) {
		switch p := msg.Payload.(type) {
		case protocol.EmbedRequest:
			reply, err := msg.Reply(protocol.RetrievalAgent, protocol.Coordinator, protocol.IngestComplete{Added: len(p.Chunks), Total: len(p.Chunks)})
			return []protocol.Message{reply}, err
		case protocol.RetrievalRequest:
			reply, err := msg.Reply(protocol.RetrievalAgent, protocol.Coordinator, protocol.RetrievalResponse{Query: p.Query, RetrievedContext: []string{"c1"}})
			return []protocol.Message{reply}, err
		}
		t.Fatalf("unexpected payload %T", msg.Payload)
		return nil, nil
	}
	response := &agentFake{name: protocol.ResponseAgent}
	response.handle = func(_ context.Context, msg protocol.Message) ([]protocol.Message, error) {
		p := msg.Payload.(protocol.GenerateRequest)
		reply, err := msg.Reply(protocol.ResponseAgent, protocol.Coordinator, protocol.GenerateResponse{Answer: "answer to " + p.Query, Sources: p.ContextChunks})
		return []protocol.Message{reply}, err
	}
	return ingestion, retrieval, response
}

func TestIngestChainPropagatesTraceAndEmitsIngestComplete(t *testing.T) {
	ingestion, retrieval, response := pipelineAgents(t)
	sink := &eventSink{}
	c, err := New(Options{Notifier: sink}, ingestion, retrieval, response)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	msg := mustMessage(t, protocol.UI, protocol.IngestionAgent, "trace-ingest", protocol.IngestRequest{FilePaths: []string{"/tmp/a.txt"}})
	if err := c.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if len(retrieval.handled) != 1 {
		t.Fatalf("expected retrieval agent to receive the forwarded EMBED_REQUEST, got %d", len(retrieval.handled))
	}
	forwarded := retrieval.handled[0]
	if forwarded.Sender != protocol.Coordinator || forwarded.TraceID != "trace-ingest" {
		t.Fatalf("unexpected forwarded message: %+v", forwarded)
	}
	if len(forwarded.Payload.(protocol.EmbedRequest).Chunks) != 2 {
		t.Fatalf("payload must be forwarded unchanged")
	}
	if len(response.handled) != 0 {
		t.Fatalf("response agent must not be involved in ingestion")
	}

	if len(sink.events) != 1 || sink.events[0].Type != domain.EventIngestComplete || sink.events[0].TraceID != "trace-ingest" {
		t.Fatalf("unexpected events: %+v", sink.events)
	}
}

func TestQueryChainDeliversFinalAnswerWithSameTrace(t *testing.T) {
	ingestion, retrieval, response := pipelineAgents(t)
	sink := &eventSink{}
	c, err := New(Options{Notifier: sink}, ingestion, retrieval, response)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	msg := mustMessage(t, protocol.UI, protocol.RetrievalAgent, "", protocol.RetrievalRequest{Query: "why?"})
	if err := c.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if len(response.handled) != 1 {
		t.Fatalf("expected one GENERATE_REQUEST, got %d", len(response.handled))
	}
	generate := response.handled[0]
	if generate.TraceID != msg.TraceID || generate.Sender != protocol.Coordinator {
		t.Fatalf("unexpected generate message: %+v", generate)
	}
	req := generate.Payload.(protocol.GenerateRequest)
	if req.Query != "why?" || len(req.ContextChunks) != 1 || req.ContextChunks[0] != "c1" {
		t.Fatalf("unexpected generate request: %+v", req)
	}

	if len(sink.events) != 1 || sink.events[0].Type != domain.EventFinalAnswer {
		t.Fatalf("unexpected events: %+v", sink.events)
	}
	answer := sink.events[0].Payload.(protocol.GenerateResponse)
	if answer.Answer != "answer to why?" || sink.events[0].TraceID != msg.TraceID {
		t.Fatalf("unexpected final answer: %+v", sink.events[0])
	}
}

func TestUnknownReceiverIsDroppedWithoutError(t *testing.T) {
	ingestion := &agentFake{name: protocol.IngestionAgent}
	sink := &eventSink{}
	recorder := &recorderFake{}
	c, err := New(Options{Notifier: sink, Recorder: recorder}, ingestion)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// A valid message whose receiver simply has no registered handler.
	msg := mustMessage(t, protocol.UI, protocol.RetrievalAgent, "", protocol.RetrievalRequest{Query: "q"})
	if err := c.Send(context.Background(), msg); err != nil {
		t.Fatalf("expected nil error for unroutable message, got %v", err)
	}
	if len(ingestion.handled) != 0 || len(sink.events) != 0 {
		t.Fatalf("nothing should be delivered or notified")
	}
	if len(recorder.outcomes) != 1 || !strings.HasSuffix(recorder.outcomes[0], "/unroutable") {
		t.Fatalf("expected unroutable outcome, got %v", recorder.outcomes)
	}

	// A hand-built envelope with a receiver outside the participant set.
	bogus := protocol.Message{Sender: protocol.UI, Receiver: "Nobody", TraceID: "t", Payload: protocol.RetrievalRequest{Query: "q"}}
	if err := c.Send(context.Background(), bogus); err != nil {
		t.Fatalf("expected nil error for unknown receiver, got %v", err)
	}
}

func TestHandlerErrorIsNotifiedAndReturned(t *testing.T) {
	boom := errors.New("embedding service down")
	retrieval := &agentFake{name: protocol.RetrievalAgent, handle: func(context.Context, protocol.Message) ([]protocol.Message, error) {
		return nil, boom
	}}
	sink := &eventSink{}
	recorder := &recorderFake{}
	c, err := New(Options{Notifier: sink, Recorder: recorder}, retrieval)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	msg := mustMessage(t, protocol.UI, protocol.RetrievalAgent, "trace-err", protocol.RetrievalRequest{Query: "q"})
	err = c.Send(context.Background(), msg)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped handler error, got %v", err)
	}
	if len(sink.events) != 1 || sink.events[0].Type != domain.EventPipelineError {
		t.Fatalf("expected pipeline_error event, got %+v", sink.events)
	}
	event := sink.events[0]
	if event.TraceID != "trace-err" || event.Stage != string(protocol.RetrievalAgent) || !strings.Contains(event.Error, "embedding service down") {
		t.Fatalf("unexpected error event: %+v", event)
	}
	if len(recorder.stages) != 1 || recorder.stages[0] != "RetrievalAgent/error" {
		t.Fatalf("unexpected stage observations: %v", recorder.stages)
	}

	// The coordinator stays usable after a failure.
	retrieval.handle = nil
	if err := c.Send(context.Background(), msg); err != nil {
		t.Fatalf("expected coordinator to keep working, got %v", err)
	}
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	retrieval := &agentFake{name: protocol.RetrievalAgent, handle: func(context.Context, protocol.Message) ([]protocol.Message, error) {
		panic("index corrupted")
	}}
	sink := &eventSink{}
	c, err := New(Options{Notifier: sink}, retrieval)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = c.Send(context.Background(), mustMessage(t, protocol.UI, protocol.RetrievalAgent, "", protocol.RetrievalRequest{Query: "q"}))
	if err == nil || !strings.Contains(err.Error(), "index corrupted") {
		t.Fatalf("expected panic to surface as error, got %v", err)
	}
	if len(sink.events) != 1 || sink.events[0].Type != domain.EventPipelineError {
		t.Fatalf("expected pipeline_error event, got %+v", sink.events)
	}
}

func TestNotifierPanicDoesNotBreakChain(t *testing.T) {
	_, retrieval, response := pipelineAgents(t)
	sink := &eventSink{}
	fanout := NewFanout(nil, NotifierFunc(func(context.Context, domain.PipelineEvent) {
		panic("subscriber bug")
	}), nil, sink)
	c, err := New(Options{Notifier: fanout}, retrieval, response)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := c.Send(context.Background(), mustMessage(t, protocol.UI, protocol.RetrievalAgent, "", protocol.RetrievalRequest{Query: "q"})); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected healthy notifier to receive the event, got %d", len(sink.events))
	}
}

func TestDepthGuardStopsRunawayChains(t *testing.T) {
	// An agent that keeps asking the coordinator to route its own output back to it.
	retrieval := &agentFake{name: protocol.RetrievalAgent}
	retrieval.handle = func(_ context.Context, msg protocol.Message) ([]protocol.Message, error) {
		reply, err := msg.Reply(protocol.IngestionAgent, protocol.Coordinator, protocol.EmbedRequest{
			Chunks:   []string{"x"},
			Metadata: []domain.ChunkMetadata{{Source: "x"}},
		})
		return []protocol.Message{reply}, err
	}
	c, err := New(Options{}, retrieval)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	msg := mustMessage(t, protocol.Coordinator, protocol.RetrievalAgent, "", protocol.EmbedRequest{
		Chunks:   []string{"x"},
		Metadata: []domain.ChunkMetadata{{Source: "x"}},
	})
	if err := c.Send(context.Background(), msg); err != nil {
		t.Fatalf("expected depth overflow to be dropped, got %v", err)
	}
	if n := len(retrieval.handled); n == 0 || n > maxDepth {
		t.Fatalf("expected bounded deliveries, got %d", n)
	}
}

func TestNewRejectsBadRegistrations(t *testing.T) {
	cases := map[string][]Agent{
		"duplicate": {&agentFake{name: protocol.RetrievalAgent}, &agentFake{name: protocol.RetrievalAgent}},
		"reserved":  {&agentFake{name: protocol.Coordinator}},
		"unknown":   {&agentFake{name: "Stranger"}},
		"nil":       {nil},
	}
	for name, agents := range cases {
		if _, err := New(Options{}, agents...); !domain.IsKind(err, domain.ErrConfiguration) {
			t.Fatalf("%s: expected configuration error, got %v", name, err)
		}
	}
}

func TestAgentsListsRegistrationsSorted(t *testing.T) {
	c, err := New(Options{}, &agentFake{name: protocol.ResponseAgent}, &agentFake{name: protocol.IngestionAgent})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	got := c.Agents()
	if len(got) != 2 || got[0] != protocol.IngestionAgent || got[1] != protocol.ResponseAgent {
		t.Fatalf("unexpected agents: %v", got)
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	c, err := New(Options{Logger: logger}, &agentFake{name: protocol.RetrievalAgent})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.Close()

	msg := mustMessage(t, protocol.UI, protocol.RetrievalAgent, "", protocol.RetrievalRequest{Query: "q"})
	err = c.Send(context.Background(), msg)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	// The trace line is written even though nothing was dispatched.
	out := logs.String()
	for _, want := range []string{`"msg":"mcp_message"`, `"sender":"UI"`, `"receiver":"RetrievalAgent"`, `"trace_id":"` + msg.TraceID + `"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in log output, got %s", want, out)
		}
	}
}

func TestSendHonoursCancelledContext(t *testing.T) {
	retrieval := &agentFake{name: protocol.RetrievalAgent}
	c, err := New(Options{}, retrieval)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = c.Send(ctx, mustMessage(t, protocol.UI, protocol.RetrievalAgent, "", protocol.RetrievalRequest{Query: "q"}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if len(retrieval.handled) != 0 {
		t.Fatalf("cancelled request must not be delivered")
	}
}
