package ports

import (
	"context"
	"io"

	"github.com/kirillkom/agentic-rag-assistant/internal/core/domain"
)

type UploadFile struct {
	Name string
	Body io.Reader
}

type UploadResult struct {
	Accepted []domain.UploadedFile `json:"accepted"`
	Skipped  []string              `json:"skipped"`
	Indexed  bool                  `json:"indexed"`
	TraceID  string                `json:"trace_id,omitempty"`
}

type SessionStatus struct {
	SessionID      string `json:"session_id"`
	FilesProcessed bool   `json:"files_processed"`
	Vectors        int    `json:"vectors"`
	UploadedFiles  int    `json:"uploaded_files"`
}

// DocumentUploader is the inbound contract for getting documents into the index.
type DocumentUploader interface {
	Upload(ctx context.Context, files []UploadFile) (UploadResult, error)
	IngestPaths(ctx context.Context, paths []string) (UploadResult, error)
}

// QuestionAnswerer is the inbound contract for asking questions about indexed documents.
type QuestionAnswerer interface {
	Ask(ctx context.Context, question string) (domain.ChatMessage, error)
}

// SessionReader exposes session state for the outer surfaces.
type SessionReader interface {
	History(ctx context.Context, limit int) ([]domain.ChatMessage, error)
	Status(ctx context.Context) (SessionStatus, error)
	Documents(ctx context.Context) ([]domain.UploadedFile, error)
}

// Assistant is everything the outer surfaces need from a session.
type Assistant interface {
	DocumentUploader
	QuestionAnswerer
	SessionReader
}
