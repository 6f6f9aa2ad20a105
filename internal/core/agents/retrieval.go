package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kirillkom/agentic-rag-assistant/internal/core/domain"
	"github.com/kirillkom/agentic-rag-assistant/internal/core/ports"
	"github.com/kirillkom/agentic-rag-assistant/internal/core/protocol"
)

const DefaultTopK = 3

type RetrievalOptions struct {
	TopK   int
	Store  ports.IndexStore
	Logger *slog.Logger
}

// RetrievalAgent owns the vector index: it is the only writer and the only reader.
type RetrievalAgent struct {
	embedder ports.Embedder
	index    ports.VectorIndex
	store    ports.IndexStore
	topK     int
	logger   *slog.Logger

	// writeMu serializes append+persist so the stored generations follow index order.
	writeMu sync.Mutex
}

func NewRetrievalAgent(embedder ports.Embedder, index ports.VectorIndex, opts RetrievalOptions) *RetrievalAgent {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &RetrievalAgent{
		embedder: embedder,
		index:    index,
		store:    opts.Store,
		topK:     topK,
		logger:   logger.With("agent", string(protocol.RetrievalAgent)),
	}
}

func (a *RetrievalAgent) Name() protocol.Participant {
	return protocol.RetrievalAgent
}

// IndexSize reports how many vectors are currently searchable.
func (a *RetrievalAgent) IndexSize() int {
	return a.index.Len()
}

// HasSource reports whether any indexed chunk came from the named file.
func (a *RetrievalAgent) HasSource(name string) bool {
	for _, record := range a.index.Snapshot().Records {
		if record.Metadata.Source == name {
			return true
		}
	}
	return false
}

// Restore loads persisted state into the index. Missing or unreadable state
// leaves the index empty; it is logged, not returned.
func (a *RetrievalAgent) Restore(ctx context.Context) int {
	if a.store == nil {
		return a.index.Len()
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	snapshot, err := a.store.Load(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.logger.Info("index_restore_skipped", "reason", "no persisted index")
		return a.index.Len()
	case err != nil:
		a.logger.Error("index_restore_failed", "error", err)
		return a.index.Len()
	}

	if err := a.index.Restore(snapshot); err != nil {
		a.logger.Error("index_restore_failed", "error", err)
		return a.index.Len()
	}
	a.logger.Info("index_restored", "vectors", a.index.Len(), "dimension", a.index.Dimension())
	return a.index.Len()
}

func (a *RetrievalAgent) Handle(ctx context.Context, msg protocol.Message) ([]protocol.Message, error) {
	switch p := msg.Payload.(type) {
	case protocol.EmbedRequest:
		return a.embed(ctx, msg, p)
	case protocol.RetrievalRequest:
		return a.retrieve(ctx, msg, p)
	default:
		a.logger.Warn("unsupported_message", "type", string(msg.Type()), "trace_id", msg.TraceID)
		return nil, nil
	}
}

func (a *RetrievalAgent) embed(ctx context.Context, msg protocol.Message, req protocol.EmbedRequest) ([]protocol.Message, error) {
	if len(req.Chunks) == 0 {
		a.logger.Info("embed_request_empty", "trace_id", msg.TraceID)
		return nil, nil
	}
	if len(req.Metadata) != len(req.Chunks) {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"embed request",
			fmt.Errorf("chunks/metadata mismatch: %d/%d", len(req.Chunks), len(req.Metadata)),
		)
	}

	vectors, err := a.embedder.Embed(ctx, req.Chunks)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(req.Chunks) {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"embed chunks",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(req.Chunks)),
		)
	}

	records := make([]domain.ChunkRecord, len(req.Chunks))
	for i := range req.Chunks {
		records[i] = domain.ChunkRecord{Text: req.Chunks[i], Metadata: req.Metadata[i]}
	}

	a.writeMu.Lock()
	if err := a.index.Add(records, vectors); err != nil {
		a.writeMu.Unlock()
		return nil, fmt.Errorf("add to index: %w", err)
	}
	total := a.index.Len()
	a.persist(ctx)
	a.writeMu.Unlock()

	a.logger.Info("chunks_indexed", "added", len(records), "total", total, "trace_id", msg.TraceID)

	reply, err := msg.Reply(protocol.RetrievalAgent, protocol.Coordinator, protocol.IngestComplete{
		Added: len(records),
		Total: total,
	})
	if err != nil {
		return nil, err
	}
	return []protocol.Message{reply}, nil
}

// persist must be called with writeMu held.
func (a *RetrievalAgent) persist(ctx context.Context) {
	if a.store == nil {
		return
	}
	if err := a.store.Save(context.WithoutCancel(ctx), a.index.Snapshot()); err != nil {
		a.logger.Error("index_persist_failed", "error", err)
		return
	}
	a.logger.Debug("index_persisted", "vectors", a.index.Len())
}

func (a *RetrievalAgent) retrieve(ctx context.Context, msg protocol.Message, req protocol.RetrievalRequest) ([]protocol.Message, error) {
	retrieved := []string{}

	switch {
	case a.index.Len() == 0:
		a.logger.Info("index_empty", "trace_id", msg.TraceID)
	case strings.TrimSpace(req.Query) == "":
		a.logger.Warn("retrieval_query_empty", "trace_id", msg.TraceID)
	default:
		queryVector, err := a.embedder.EmbedQuery(ctx, req.Query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		// Search clamps k to the live index, which may have grown since the check above.
		hits, err := a.index.Search(queryVector, a.topK)
		if err != nil {
			return nil, fmt.Errorf("search index: %w", err)
		}
		for _, hit := range hits {
			retrieved = append(retrieved, hit.Record.Text)
		}
		a.logger.Info("chunks_retrieved", "count", len(retrieved), "index_size", a.index.Len(), "trace_id", msg.TraceID)
	}

	reply, err := msg.Reply(protocol.RetrievalAgent, protocol.Coordinator, protocol.RetrievalResponse{
		Query:            req.Query,
		RetrievedContext: retrieved,
	})
	if err != nil {
		return nil, err
	}
	return []protocol.Message{reply}, nil
}
