package coordinator

import (
	"fmt"
	"time"

	"github.com/kirillkom/agentic-rag-assistant/internal/core/domain"
	"github.com/kirillkom/agentic-rag-assistant/internal/core/protocol"
)

// Continuation is what happens to a message addressed to the coordinator:
// either it becomes the next agent's input, or the chain ends in an event.
type Continuation struct {
	Next  *protocol.Message
	Event *domain.PipelineEvent
}

// Continue is the pipeline transition table.
//
//	EMBED_REQUEST      -> EMBED_REQUEST to RetrievalAgent (payload unchanged)
//	RETRIEVAL_RESPONSE -> GENERATE_REQUEST to ResponseAgent
//	INGEST_COMPLETE    -> ingest_complete event
//	GENERATE_RESPONSE  -> final_answer event
func Continue(msg protocol.Message) (Continuation, error) {
	switch p := msg.Payload.(type) {
	case protocol.EmbedRequest:
		next, err := msg.Reply(protocol.Coordinator, protocol.RetrievalAgent, p)
		if err != nil {
			return Continuation{}, err
		}
		return Continuation{Next: &next}, nil

	case protocol.RetrievalResponse:
		contextChunks := p.RetrievedContext
		if contextChunks == nil {
			contextChunks = []string{}
		}
		next, err := msg.Reply(protocol.Coordinator, protocol.ResponseAgent, protocol.GenerateRequest{
			Query:         p.Query,
			ContextChunks: contextChunks,
		})
		if err != nil {
			return Continuation{}, err
		}
		return Continuation{Next: &next}, nil

	case protocol.IngestComplete:
		return Continuation{Event: &domain.PipelineEvent{
			Type:    domain.EventIngestComplete,
			TraceID: msg.TraceID,
			Payload: p,
			At:      time.Now().UTC(),
		}}, nil

	case protocol.GenerateResponse:
		return Continuation{Event: &domain.PipelineEvent{
			Type:    domain.EventFinalAnswer,
			TraceID: msg.TraceID,
			Payload: p,
			At:      time.Now().UTC(),
		}}, nil

	default:
		return Continuation{}, domain.WrapError(
			domain.ErrInvalidInput,
			"continue pipeline",
			fmt.Errorf("no continuation for %q", msg.Type()),
		)
	}
}
