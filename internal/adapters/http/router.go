package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/agentic-rag-assistant/internal/core/domain"
	"github.com/kirillkom/agentic-rag-assistant/internal/core/ports"
)

const (
	DefaultMaxUploadBytes = 64 << 20
	defaultInFlightWait   = 100 * time.Millisecond
	maxHistoryLimit       = 500
)

// HTTPMetrics is the request instrumentation used by the router.
// Implemented by metrics.HTTPServerMetrics.
type HTTPMetrics interface {
	Middleware(next http.Handler) http.Handler
	RecordRejected(reason string)
}

type Options struct {
	Logger         *slog.Logger
	Metrics        HTTPMetrics
	MetricsHandler http.Handler
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	InFlightWait   time.Duration
	MaxUploadBytes int64
}

type Router struct {
	assistant ports.Assistant
	opts      Options
	logger    *slog.Logger
}

func NewRouter(assistant ports.Assistant, opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.InFlightWait <= 0 {
		opts.InFlightWait = defaultInFlightWait
	}
	return &Router{
		assistant: assistant,
		opts:      opts,
		logger:    logger,
	}
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/documents", rt.uploadDocuments)
	api.HandleFunc("GET /v1/documents", rt.listDocuments)
	api.HandleFunc("POST /v1/chat", rt.chat)
	api.HandleFunc("GET /v1/chat/history", rt.chatHistory)
	api.HandleFunc("GET /v1/status", rt.status)

	var onReject func(string)
	if rt.opts.Metrics != nil {
		onReject = rt.opts.Metrics.RecordRejected
	}
	var limiter *rate.Limiter
	if rt.opts.RateLimitRPS > 0 {
		burst := rt.opts.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rt.opts.RateLimitRPS), burst)
	}
	guarded := rateLimitMiddleware(
		backpressureMiddleware(api, rt.opts.MaxInFlight, rt.opts.InFlightWait, onReject),
		limiter,
		onReject,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", rt.opts.MetricsHandler)
	}
	mux.Handle("/v1/", guarded)

	var handler http.Handler = mux
	if rt.opts.Metrics != nil {
		handler = rt.opts.Metrics.Middleware(handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) uploadDocuments(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			rt.writeError(w, r, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		rt.writeError(w, r, http.StatusBadRequest, errors.New("multipart form with field 'files' is required"))
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["file"]
	}
	if len(headers) == 0 {
		rt.writeError(w, r, http.StatusBadRequest, errors.New("multipart field 'files' is required"))
		return
	}

	files := make([]ports.UploadFile, 0, len(headers))
	opened := make([]multipart.File, 0, len(headers))
	defer func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}()
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			rt.writeError(w, r, http.StatusBadRequest, fmt.Errorf("open %s: %w", header.Filename, err))
			return
		}
		opened = append(opened, f)
		files = append(files, ports.UploadFile{Name: header.Filename, Body: f})
	}

	result, err := rt.assistant.Upload(r.Context(), files)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := rt.assistant.Documents(r.Context())
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	if docs == nil {
		docs = []domain.UploadedFile{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

type chatRequest struct {
	Question string `json:"question"`
}

type chatResponse struct {
	Answer    string   `json:"answer"`
	Sources   []string `json:"sources"`
	TraceID   string   `json:"trace_id"`
	MessageID string   `json:"message_id"`
}

func (rt *Router) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := decoder.Decode(&req); err != nil {
		rt.writeError(w, r, http.StatusBadRequest, errors.New("invalid json"))
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		rt.writeError(w, r, http.StatusBadRequest, errors.New("question is required"))
		return
	}

	answer, err := rt.assistant.Ask(r.Context(), req.Question)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	sources := answer.Sources
	if sources == nil {
		sources = []string{}
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Answer:    answer.Content,
		Sources:   sources,
		TraceID:   answer.TraceID,
		MessageID: answer.ID,
	})
}

func (rt *Router) chatHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			rt.writeError(w, r, http.StatusBadRequest, fmt.Errorf("limit must be between 1 and %d", maxHistoryLimit))
			return
		}
		limit = n
	}

	messages, err := rt.assistant.History(r.Context(), limit)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	if messages == nil {
		messages = []domain.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (rt *Router) status(w http.ResponseWriter, r *http.Request) {
	status, err := rt.assistant.Status(r.Context())
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	rt.writeError(w, r, mapErrorToHTTPStatus(err), err)
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	requestID := requestIDFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		rt.logger.Error("http_handler_failed", "request_id", requestID, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), RequestID: requestID})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
