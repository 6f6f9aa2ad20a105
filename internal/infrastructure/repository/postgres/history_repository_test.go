package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/agentic-rag-assistant/internal/core/domain"
)

func newRepoWithMock(t *testing.T) (*HistoryRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewHistoryRepository(db), mock, func() { _ = db.Close() }
}

func TestEnsureSchemaTakesAdvisoryLock(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(schemaLockID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS chat_messages").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAppendStoresSourcesAsJSON(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	createdAt := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO chat_messages").
		WithArgs("m1", "s1", "t1", "assistant", "answer", []byte(`["chunk a","chunk b"]`), createdAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Append(context.Background(), domain.ChatMessage{
		ID:        "m1",
		SessionID: "s1",
		TraceID:   "t1",
		Role:      domain.RoleAssistant,
		Content:   "answer",
		Sources:   []string{"chunk a", "chunk b"},
		CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAppendRequiresSession(t *testing.T) {
	repo, _, done := newRepoWithMock(t)
	defer done()

	err := repo.Append(context.Background(), domain.ChatMessage{Content: "x"})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestListReturnsChronologicalOrder(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	later := time.Date(2026, 10, 15, 12, 1, 0, 0, time.UTC)
	earlier := later.Add(-time.Minute)
	rows := sqlmock.NewRows([]string{"id", "session_id", "trace_id", "role", "content", "sources", "created_at"}).
		AddRow("m2", "s1", "t1", "assistant", "answer", []byte(`["ctx"]`), later).
		AddRow("m1", "s1", "", "user", "question", []byte(`[]`), earlier)
	mock.ExpectQuery("SELECT id, session_id").
		WithArgs("s1", 10).
		WillReturnRows(rows)

	messages, err := repo.List(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(messages) != 2 || messages[0].ID != "m1" || messages[1].ID != "m2" {
		t.Fatalf("unexpected order: %+v", messages)
	}
	if messages[1].Role != domain.RoleAssistant || len(messages[1].Sources) != 1 {
		t.Fatalf("unexpected assistant message: %+v", messages[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListNonPositiveLimitSkipsQuery(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	messages, err := repo.List(context.Background(), "s1", 0)
	if err != nil || len(messages) != 0 {
		t.Fatalf("expected empty result, got %v %v", messages, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
