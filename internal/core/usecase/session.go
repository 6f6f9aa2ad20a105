package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/agentic-rag-assistant/internal/core/agents"
	"github.com/kirillkom/agentic-rag-assistant/internal/core/domain"
	"github.com/kirillkom/agentic-rag-assistant/internal/core/ports"
	"github.com/kirillkom/agentic-rag-assistant/internal/core/protocol"
)

const DefaultHistoryLimit = 50

// DispatchFunc hands a message to the coordinator and returns once the whole
// request chain has finished.
type DispatchFunc func(ctx context.Context, msg protocol.Message) error

// SessionMetrics is implemented by metrics.PipelineMetrics.
type SessionMetrics interface {
	RecordAnswer(kind string)
	SetIndexSize(vectors int)
}

type SessionOptions struct {
	SessionID string
	Storage   ports.ObjectStorage
	History   ports.HistoryStore
	// IndexSize reports the live number of searchable vectors.
	IndexSize func() int
	// Indexed reports whether a stored upload has chunks in the index. A stored
	// file that is not indexed is replaced by a new upload of the same name.
	// Nil treats every stored file as indexed.
	Indexed func(name string) bool
	// Accept filters upload names before anything is stored. Nil accepts all.
	Accept  func(name string) bool
	Metrics SessionMetrics
	Logger  *slog.Logger
}

// Session is the state of one user conversation: what was uploaded, whether
// anything is searchable yet, and the answers produced for in-flight traces.
type Session struct {
	id        string
	storage   ports.ObjectStorage
	history   ports.HistoryStore
	indexSize func() int
	indexed   func(string) bool
	accept    func(string) bool
	metrics   SessionMetrics
	logger    *slog.Logger

	dispatchMu sync.RWMutex
	dispatch   DispatchFunc

	mu       sync.Mutex
	ready    bool
	answers  map[string]domain.ChatMessage
	ingested map[string]protocol.IngestComplete
}

func NewSession(opts SessionOptions) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := strings.TrimSpace(opts.SessionID)
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		id:        id,
		storage:   opts.Storage,
		history:   opts.History,
		indexSize: opts.IndexSize,
		indexed:   opts.Indexed,
		accept:    opts.Accept,
		metrics:   opts.Metrics,
		logger:    logger.With("session_id", id),
		answers:   make(map[string]domain.ChatMessage),
		ingested:  make(map[string]protocol.IngestComplete),
	}
}

func (s *Session) ID() string {
	return s.id
}

// SetDispatcher wires the coordinator after construction; the coordinator
// itself needs the session as its notifier.
func (s *Session) SetDispatcher(dispatch DispatchFunc) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	s.dispatch = dispatch
}

// Ready reports whether questions can be answered.
func (s *Session) Ready() bool {
	s.mu.Lock()
	ready := s.ready
	s.mu.Unlock()
	return ready || s.vectors() > 0
}

func (s *Session) Upload(ctx context.Context, files []ports.UploadFile) (ports.UploadResult, error) {
	if len(files) == 0 {
		return ports.UploadResult{}, domain.WrapError(domain.ErrInvalidInput, "upload", errors.New("no files"))
	}

	result := ports.UploadResult{
		Accepted: []domain.UploadedFile{},
		Skipped:  []string{},
	}
	seen := make(map[string]struct{}, len(files))
	paths := make([]string, 0, len(files))

	for _, file := range files {
		name, ok := cleanName(file.Name)
		if !ok {
			s.skip(&result, file.Name, "invalid file name")
			continue
		}
		if s.accept != nil && !s.accept(name) {
			s.skip(&result, name, "unsupported file type")
			continue
		}
		if _, dup := seen[name]; dup {
			s.skip(&result, name, "duplicate file name in batch")
			continue
		}
		seen[name] = struct{}{}

		exists, err := s.storage.Exists(ctx, name)
		if err != nil {
			return result, fmt.Errorf("check upload %s: %w", name, err)
		}
		if exists {
			if s.indexed == nil || s.indexed(name) {
				s.skip(&result, name, "already uploaded")
				continue
			}
			s.logger.Info("stale_upload_replaced", "file", name)
			if err := s.storage.Remove(ctx, name); err != nil {
				return result, fmt.Errorf("replace upload %s: %w", name, err)
			}
		}

		saved, err := s.storage.Save(ctx, name, file.Body)
		if domain.IsKind(err, domain.ErrAlreadyExists) {
			s.skip(&result, name, "already uploaded")
			continue
		}
		if err != nil {
			return result, fmt.Errorf("save upload %s: %w", name, err)
		}
		result.Accepted = append(result.Accepted, saved)
		paths = append(paths, saved.Path)
	}

	if len(paths) == 0 {
		return result, nil
	}

	traceID, complete, err := s.ingest(ctx, paths)
	result.TraceID = traceID
	if err != nil {
		s.rollback(ctx, traceID, &result)
		return result, fmt.Errorf("index uploaded files: %w", err)
	}
	result.Indexed = complete
	return result, nil
}

// IngestPaths copies files that already exist on disk into upload storage
// and indexes them like an upload.
func (s *Session) IngestPaths(ctx context.Context, paths []string) (ports.UploadResult, error) {
	if len(paths) == 0 {
		return ports.UploadResult{}, domain.WrapError(domain.ErrInvalidInput, "ingest paths", errors.New("no paths"))
	}

	files := make([]ports.UploadFile, 0, len(paths))
	var missing []string
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			s.logger.Warn("file_skipped", "path", path, "reason", "cannot open", "error", err)
			missing = append(missing, filepath.Base(path))
			continue
		}
		defer f.Close()
		files = append(files, ports.UploadFile{Name: filepath.Base(path), Body: f})
	}

	if len(files) == 0 {
		return ports.UploadResult{Accepted: []domain.UploadedFile{}, Skipped: missing}, nil
	}
	result, err := s.Upload(ctx, files)
	result.Skipped = append(result.Skipped, missing...)
	return result, err
}

func (s *Session) Ask(ctx context.Context, question string) (domain.ChatMessage, error) {
	query := strings.TrimSpace(question)
	if query == "" {
		return domain.ChatMessage{}, domain.WrapError(domain.ErrInvalidInput, "ask", errors.New("question is empty"))
	}
	if !s.Ready() {
		return domain.ChatMessage{}, domain.WrapError(domain.ErrNotReady, "ask", errors.New("upload and process documents first"))
	}

	msg, err := protocol.New(protocol.UI, protocol.RetrievalAgent, "", protocol.RetrievalRequest{Query: query})
	if err != nil {
		return domain.ChatMessage{}, err
	}

	s.appendHistory(ctx, domain.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: s.id,
		TraceID:   msg.TraceID,
		Role:      domain.RoleUser,
		Content:   query,
		CreatedAt: time.Now().UTC(),
	})

	dispatchErr := s.send(ctx, msg)

	answer, ok := s.takeAnswer(msg.TraceID)
	if !ok {
		if errors.Is(dispatchErr, context.Canceled) || errors.Is(dispatchErr, context.DeadlineExceeded) {
			return domain.ChatMessage{}, dispatchErr
		}
		if dispatchErr == nil {
			dispatchErr = errors.New("no answer was produced")
		}
		answer = s.apology(msg.TraceID, dispatchErr)
	}

	s.appendHistory(ctx, answer)
	s.recordAnswer(answer)
	return answer, nil
}

// Notify receives the terminal events of request chains.
func (s *Session) Notify(_ context.Context, event domain.PipelineEvent) {
	switch event.Type {
	case domain.EventIngestComplete:
		complete, _ := event.Payload.(protocol.IngestComplete)
		s.mu.Lock()
		s.ready = true
		s.ingested[event.TraceID] = complete
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.SetIndexSize(complete.Total)
		}
		s.logger.Info("ingest_complete", "trace_id", event.TraceID, "added", complete.Added, "total", complete.Total)

	case domain.EventFinalAnswer:
		response, ok := event.Payload.(protocol.GenerateResponse)
		if !ok {
			s.logger.Warn("final_answer_malformed", "trace_id", event.TraceID)
			return
		}
		sources := response.Sources
		if sources == nil {
			sources = []string{}
		}
		s.storeAnswer(domain.ChatMessage{
			ID:        uuid.NewString(),
			SessionID: s.id,
			TraceID:   event.TraceID,
			Role:      domain.RoleAssistant,
			Content:   response.Answer,
			Sources:   sources,
			CreatedAt: time.Now().UTC(),
		})

	case domain.EventPipelineError:
		s.logger.Error("pipeline_error", "trace_id", event.TraceID, "stage", event.Stage, "error", event.Error)
		s.storeAnswer(s.apology(event.TraceID, errors.New(event.Error)))
	}
}

func (s *Session) History(ctx context.Context, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	messages, err := s.history.List(ctx, s.id, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return messages, nil
}

func (s *Session) Status(ctx context.Context) (ports.SessionStatus, error) {
	files, err := s.storage.List(ctx)
	if err != nil {
		return ports.SessionStatus{}, fmt.Errorf("list uploads: %w", err)
	}
	return ports.SessionStatus{
		SessionID:      s.id,
		FilesProcessed: s.Ready(),
		Vectors:        s.vectors(),
		UploadedFiles:  len(files),
	}, nil
}

func (s *Session) Documents(ctx context.Context) ([]domain.UploadedFile, error) {
	files, err := s.storage.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	return files, nil
}

func (s *Session) ingest(ctx context.Context, paths []string) (string, bool, error) {
	msg, err := protocol.New(protocol.UI, protocol.IngestionAgent, "", protocol.IngestRequest{FilePaths: paths})
	if err != nil {
		return "", false, err
	}

	err = s.send(ctx, msg)

	s.mu.Lock()
	_, complete := s.ingested[msg.TraceID]
	delete(s.ingested, msg.TraceID)
	delete(s.answers, msg.TraceID)
	s.mu.Unlock()

	if err != nil {
		return msg.TraceID, false, err
	}
	if !complete {
		s.logger.Warn("ingest_produced_nothing", "trace_id", msg.TraceID, "files", len(paths))
	}
	return msg.TraceID, complete, nil
}

func (s *Session) send(ctx context.Context, msg protocol.Message) error {
	s.dispatchMu.RLock()
	dispatch := s.dispatch
	s.dispatchMu.RUnlock()
	if dispatch == nil {
		return domain.WrapError(domain.ErrConfiguration, "dispatch", errors.New("session has no dispatcher"))
	}
	return dispatch(ctx, msg)
}

func (s *Session) storeAnswer(answer domain.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// The first terminal event of a trace wins.
	if _, exists := s.answers[answer.TraceID]; exists {
		return
	}
	s.answers[answer.TraceID] = answer
}

func (s *Session) takeAnswer(traceID string) (domain.ChatMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	answer, ok := s.answers[traceID]
	delete(s.answers, traceID)
	return answer, ok
}

func (s *Session) apology(traceID string, cause error) domain.ChatMessage {
	return domain.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: s.id,
		TraceID:   traceID,
		Role:      domain.RoleAssistant,
		Content:   fmt.Sprintf("Sorry, something went wrong while answering your question: %v", cause),
		Sources:   []string{},
		CreatedAt: time.Now().UTC(),
	}
}

func (s *Session) appendHistory(ctx context.Context, message domain.ChatMessage) {
	if s.history == nil {
		return
	}
	if err := s.history.Append(context.WithoutCancel(ctx), message); err != nil {
		s.logger.Warn("history_append_failed", "trace_id", message.TraceID, "role", string(message.Role), "error", err)
	}
}

func (s *Session) recordAnswer(answer domain.ChatMessage) {
	if s.metrics == nil {
		return
	}
	switch {
	case len(answer.Sources) > 0:
		s.metrics.RecordAnswer("answered")
	case answer.Content == agents.NoContextAnswer:
		s.metrics.RecordAnswer("no_context")
	default:
		s.metrics.RecordAnswer("error")
	}
}

// rollback removes the files of a failed ingest so the same names can be
// uploaded again.
func (s *Session) rollback(ctx context.Context, traceID string, result *ports.UploadResult) {
	ctx = context.WithoutCancel(ctx)
	kept := []domain.UploadedFile{}
	for _, file := range result.Accepted {
		if err := s.storage.Remove(ctx, file.Name); err != nil {
			s.logger.Error("upload_rollback_failed", "file", file.Name, "trace_id", traceID, "error", err)
			kept = append(kept, file)
			continue
		}
		s.logger.Warn("file_skipped", "file", file.Name, "reason", "indexing failed", "trace_id", traceID)
		result.Skipped = append(result.Skipped, file.Name)
	}
	result.Accepted = kept
}

func (s *Session) skip(result *ports.UploadResult, name, reason string) {
	s.logger.Warn("file_skipped", "file", name, "reason", reason)
	result.Skipped = append(result.Skipped, name)
}

func (s *Session) vectors() int {
	if s.indexSize == nil {
		return 0
	}
	return s.indexSize()
}

func cleanName(name string) (string, bool) {
	base := filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	switch base {
	case "", ".", "..", "/":
		return "", false
	}
	return base, true
}
