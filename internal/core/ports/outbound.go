package ports

import (
	"context"
	"io"

	"github.com/kirillkom/agentic-rag-assistant/internal/core/domain"
)

// TextExtractor maps a file path to plain text based on its extension.
type TextExtractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// Chunker splits text into overlapping segments sized for embedding.
type Chunker interface {
	Split(text string) []string
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Generator turns a prompt into natural-language text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// VectorIndex stores vectors with index-aligned chunk records.
type VectorIndex interface {
	Dimension() int
	Len() int
	Add(records []domain.ChunkRecord, vectors [][]float32) error
	Search(query []float32, k int) ([]domain.SearchHit, error)
	Snapshot() domain.IndexSnapshot
	// Restore replaces the contents with a previously taken snapshot.
	Restore(snapshot domain.IndexSnapshot) error
}

// IndexStore persists index snapshots across restarts.
type IndexStore interface {
	Save(ctx context.Context, snapshot domain.IndexSnapshot) error
	Load(ctx context.Context) (domain.IndexSnapshot, error)
}

// ObjectStorage stores uploaded source documents.
type ObjectStorage interface {
	Save(ctx context.Context, name string, data io.Reader) (domain.UploadedFile, error)
	Exists(ctx context.Context, name string) (bool, error)
	List(ctx context.Context) ([]domain.UploadedFile, error)
	// Remove deletes name. Removing a missing file is not an error.
	Remove(ctx context.Context, name string) error
}

// HistoryStore persists the chat transcript of a session.
type HistoryStore interface {
	Append(ctx context.Context, message domain.ChatMessage) error
	List(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error)
}
