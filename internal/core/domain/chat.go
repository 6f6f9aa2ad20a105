package domain

import "time"

type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	TraceID   string    `json:"trace_id,omitempty"`
	Role      ChatRole  `json:"role"`
	Content   string    `json:"content"`
	Sources   []string  `json:"sources,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
