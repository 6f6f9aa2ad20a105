package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/kirillkom/agentic-rag-assistant/internal/core/domain"
)

func TestListReturnsLatestInOrder(t *testing.T) {
	store := NewHistoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := store.Append(ctx, domain.ChatMessage{SessionID: "s1", Role: domain.RoleUser, Content: fmt.Sprintf("q%d", i)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := store.Append(ctx, domain.ChatMessage{SessionID: "other", Content: "x"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	messages, err := store.List(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(messages) != 2 || messages[0].Content != "q3" || messages[1].Content != "q4" {
		t.Fatalf("unexpected messages: %+v", messages)
	}
	if messages[0].ID == "" || messages[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp to be filled: %+v", messages[0])
	}
}

func TestAppendRequiresSession(t *testing.T) {
	err := NewHistoryStore().Append(context.Background(), domain.ChatMessage{Content: "x"})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
