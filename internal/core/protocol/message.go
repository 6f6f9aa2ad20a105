package protocol

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kirillkom/agentic-rag-assistant/internal/core/domain"
)

// Message is the unit of communication between the coordinator and the agents.
// TraceID lives only in the envelope; payloads never carry it.
type Message struct {
	Sender   Participant
	Receiver Participant
	TraceID  string
	Payload  Payload
}

// New builds a validated message. An empty traceID starts a new request chain.
func New(sender, receiver Participant, traceID string, payload Payload) (Message, error) {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	msg := Message{
		Sender:   sender,
		Receiver: receiver,
		TraceID:  traceID,
		Payload:  payload,
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Reply builds the next message of the same request chain.
func (m Message) Reply(sender, receiver Participant, payload Payload) (Message, error) {
	return New(sender, receiver, m.TraceID, payload)
}

func (m Message) Type() MessageType {
	if m.Payload == nil {
		return ""
	}
	return m.Payload.Type()
}

func (m Message) Validate() error {
	if m.Payload == nil {
		return domain.WrapError(domain.ErrInvalidInput, "validate message", fmt.Errorf("payload is required"))
	}
	if !m.Sender.Known() {
		return domain.WrapError(domain.ErrInvalidInput, "validate message", fmt.Errorf("unknown sender %q", m.Sender))
	}
	if !m.Receiver.Known() {
		return domain.WrapError(domain.ErrInvalidInput, "validate message", fmt.Errorf("unknown receiver %q", m.Receiver))
	}
	if m.TraceID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "validate message", fmt.Errorf("trace id is required"))
	}
	if !legal(m.Type(), m.Sender, m.Receiver) {
		return domain.WrapError(
			domain.ErrInvalidInput,
			"validate message",
			fmt.Errorf("%s is not allowed from %s to %s", m.Type(), m.Sender, m.Receiver),
		)
	}
	return nil
}

func (m Message) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("sender", string(m.Sender)),
		slog.String("receiver", string(m.Receiver)),
		slog.String("type", string(m.Type())),
		slog.String("trace_id", m.TraceID),
	)
}
