package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/agentic-rag-assistant/internal/core/ports"
	"github.com/kirillkom/agentic-rag-assistant/internal/core/protocol"
)

const NoContextAnswer = "I'm sorry, I couldn't find any relevant information in the uploaded documents to answer your question."

const contextDelimiter = "\n\n---\n\n"

// ResponseAgent answers a query from retrieved context with one generation call.
type ResponseAgent struct {
	generator ports.Generator
	logger    *slog.Logger
}

func NewResponseAgent(generator ports.Generator, logger *slog.Logger) *ResponseAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResponseAgent{
		generator: generator,
		logger:    logger.With("agent", string(protocol.ResponseAgent)),
	}
}

func (a *ResponseAgent) Name() protocol.Participant {
	return protocol.ResponseAgent
}

func (a *ResponseAgent) Handle(ctx context.Context, msg protocol.Message) ([]protocol.Message, error) {
	switch p := msg.Payload.(type) {
	case protocol.GenerateRequest:
		return a.generate(ctx, msg, p)
	default:
		a.logger.Warn("unsupported_message", "type", string(msg.Type()), "trace_id", msg.TraceID)
		return nil, nil
	}
}

func (a *ResponseAgent) generate(ctx context.Context, msg protocol.Message, req protocol.GenerateRequest) ([]protocol.Message, error) {
	answer := NoContextAnswer
	sources := []string{}

	if len(req.ContextChunks) > 0 {
		text, err := a.generator.Generate(ctx, BuildPrompt(req.Query, req.ContextChunks))
		if err != nil {
			a.logger.Error("generation_failed", "error", err, "trace_id", msg.TraceID)
			answer = fmt.Sprintf("An error occurred while contacting the language model: %v", err)
		} else {
			answer = text
			sources = append(sources, req.ContextChunks...)
		}
	}

	reply, err := msg.Reply(protocol.ResponseAgent, protocol.Coordinator, protocol.GenerateResponse{
		Answer:  answer,
		Sources: sources,
	})
	if err != nil {
		return nil, err
	}
	return []protocol.Message{reply}, nil
}

// BuildPrompt grounds the question in the retrieved chunks.
func BuildPrompt(query string, contextChunks []string) string {
	return fmt.Sprintf(`You are a helpful assistant. Answer the user's question based only on the provided context. If the answer is not in the context, say you don't know.

CONTEXT:
%s

QUESTION:
%s

ANSWER:
`, strings.Join(contextChunks, contextDelimiter), query)
}
