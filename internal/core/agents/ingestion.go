package agents

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/kirillkom/agentic-rag-assistant/internal/core/domain"
	"github.com/kirillkom/agentic-rag-assistant/internal/core/ports"
	"github.com/kirillkom/agentic-rag-assistant/internal/core/protocol"
)

// IngestionAgent turns a batch of file paths into one EMBED_REQUEST.
type IngestionAgent struct {
	extractor ports.TextExtractor
	chunker   ports.Chunker
	logger    *slog.Logger
}

func NewIngestionAgent(extractor ports.TextExtractor, chunker ports.Chunker, logger *slog.Logger) *IngestionAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestionAgent{
		extractor: extractor,
		chunker:   chunker,
		logger:    logger.With("agent", string(protocol.IngestionAgent)),
	}
}

func (a *IngestionAgent) Name() protocol.Participant {
	return protocol.IngestionAgent
}

func (a *IngestionAgent) Handle(ctx context.Context, msg protocol.Message) ([]protocol.Message, error) {
	switch p := msg.Payload.(type) {
	case protocol.IngestRequest:
		return a.ingest(ctx, msg, p)
	default:
		a.logger.Warn("unsupported_message", "type", string(msg.Type()), "trace_id", msg.TraceID)
		return nil, nil
	}
}

func (a *IngestionAgent) ingest(ctx context.Context, msg protocol.Message, req protocol.IngestRequest) ([]protocol.Message, error) {
	var (
		chunks   []string
		metadata []domain.ChunkMetadata
	)
	seen := make(map[string]struct{}, len(req.FilePaths))

	for _, path := range req.FilePaths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		source := filepath.Base(path)
		if _, dup := seen[source]; dup {
			a.logger.Warn("file_skipped", "path", path, "reason", "duplicate file name in batch", "trace_id", msg.TraceID)
			continue
		}
		seen[source] = struct{}{}

		text, err := a.extractor.Extract(ctx, path)
		if err != nil {
			a.logger.Warn("file_skipped", "path", path, "reason", "extract failed", "error", err, "trace_id", msg.TraceID)
			continue
		}

		parts := a.chunker.Split(text)
		if len(parts) == 0 {
			a.logger.Warn("file_skipped", "path", path, "reason", "no text", "trace_id", msg.TraceID)
			continue
		}
		for range parts {
			metadata = append(metadata, domain.ChunkMetadata{Source: source})
		}
		chunks = append(chunks, parts...)
		a.logger.Info("file_chunked", "source", source, "chunks", len(parts), "trace_id", msg.TraceID)
	}

	if len(chunks) == 0 {
		a.logger.Warn("ingest_batch_empty", "files", len(req.FilePaths), "trace_id", msg.TraceID)
		return nil, nil
	}

	reply, err := msg.Reply(protocol.IngestionAgent, protocol.Coordinator, protocol.EmbedRequest{
		Chunks:   chunks,
		Metadata: metadata,
	})
	if err != nil {
		return nil, err
	}
	return []protocol.Message{reply}, nil
}
