package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/agentic-rag-assistant/internal/core/domain"
)

const schemaLockID = int64(2026101501)

type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api and cli startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS chat_messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	trace_id TEXT,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	sources JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_session_created ON chat_messages(session_id, created_at);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *HistoryRepository) Append(ctx context.Context, message domain.ChatMessage) error {
	if message.SessionID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "append chat message", errors.New("session id is required"))
	}
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	sources := message.Sources
	if sources == nil {
		sources = []string{}
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO chat_messages (id, session_id, trace_id, role, content, sources, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, message.ID, message.SessionID, nullableString(message.TraceID), string(message.Role), message.Content, sourcesJSON, message.CreatedAt)
	if err != nil {
		return fmt.Errorf("append chat message: %w", err)
	}
	return nil
}

// List returns the latest limit messages of a session in chronological order.
func (r *HistoryRepository) List(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		return []domain.ChatMessage{}, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, session_id, COALESCE(trace_id, ''), role, content, sources, created_at
FROM chat_messages
WHERE session_id = $1
ORDER BY created_at DESC
LIMIT $2
`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ChatMessage, 0, limit)
	for rows.Next() {
		var (
			msg         domain.ChatMessage
			role        string
			sourcesJSON []byte
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.SessionID,
			&msg.TraceID,
			&role,
			&msg.Content,
			&sourcesJSON,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		msg.Role = domain.ChatRole(role)
		if len(sourcesJSON) > 0 {
			if err := json.Unmarshal(sourcesJSON, &msg.Sources); err != nil {
				return nil, fmt.Errorf("decode sources: %w", err)
			}
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}

	// Returned in descending order from SQL; reverse to keep chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
