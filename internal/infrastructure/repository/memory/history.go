package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/agentic-rag-assistant/internal/core/domain"
)

// HistoryStore keeps chat transcripts in process memory.
type HistoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]domain.ChatMessage
}

func NewHistoryStore() *HistoryStore {
	return &HistoryStore{sessions: make(map[string][]domain.ChatMessage)}
}

func (s *HistoryStore) Append(_ context.Context, message domain.ChatMessage) error {
	if message.SessionID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "append chat message", errors.New("session id is required"))
	}
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	message.Sources = append([]string(nil), message.Sources...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[message.SessionID] = append(s.sessions[message.SessionID], message)
	return nil
}

func (s *HistoryStore) List(_ context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		return []domain.ChatMessage{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := s.sessions[sessionID]
	start := max(len(messages)-limit, 0)
	out := make([]domain.ChatMessage, len(messages)-start)
	copy(out, messages[start:])
	return out, nil
}
