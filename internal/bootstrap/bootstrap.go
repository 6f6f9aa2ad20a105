package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/agentic-rag-assistant/internal/config"
	"github.com/kirillkom/agentic-rag-assistant/internal/core/agents"
	"github.com/kirillkom/agentic-rag-assistant/internal/core/coordinator"
	"github.com/kirillkom/agentic-rag-assistant/internal/core/ports"
	"github.com/kirillkom/agentic-rag-assistant/internal/core/usecase"
	"github.com/kirillkom/agentic-rag-assistant/internal/infrastructure/chunking"
	"github.com/kirillkom/agentic-rag-assistant/internal/infrastructure/extractor/document"
	"github.com/kirillkom/agentic-rag-assistant/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/agentic-rag-assistant/internal/infrastructure/llm/openai"
	"github.com/kirillkom/agentic-rag-assistant/internal/infrastructure/queue/nats"
	"github.com/kirillkom/agentic-rag-assistant/internal/infrastructure/repository/memory"
	"github.com/kirillkom/agentic-rag-assistant/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/agentic-rag-assistant/internal/infrastructure/resilience"
	"github.com/kirillkom/agentic-rag-assistant/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/agentic-rag-assistant/internal/infrastructure/vector/diskstore"
	"github.com/kirillkom/agentic-rag-assistant/internal/infrastructure/vector/flat"
	"github.com/kirillkom/agentic-rag-assistant/internal/observability/metrics"
)

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.PipelineMetrics

	Session     *usecase.Session
	Coordinator *coordinator.Coordinator
	Retrieval   *agents.RetrievalAgent

	closers []func()
}

// New wires one session: agents around a restored index, the coordinator that
// drives them, and the optional Postgres history and NATS event fan-out.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewPipelineMetrics("docqa"),
	}

	embedder, generator, err := newLLM(cfg, logger)
	if err != nil {
		return nil, err
	}

	storage, err := localfs.New(cfg.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("init upload storage: %w", err)
	}
	indexStore, err := diskstore.New(cfg.IndexDir, logger)
	if err != nil {
		return nil, fmt.Errorf("init index store: %w", err)
	}

	history, err := app.newHistory(ctx, cfg, logger)
	if err != nil {
		app.Close()
		return nil, err
	}

	retrieval := agents.NewRetrievalAgent(embedder, flat.New(), agents.RetrievalOptions{
		TopK:   cfg.RetrievalTopK,
		Store:  indexStore,
		Logger: logger,
	})
	restored := retrieval.Restore(ctx)
	app.Metrics.SetIndexSize(restored)
	app.Retrieval = retrieval

	session := usecase.NewSession(usecase.SessionOptions{
		SessionID: cfg.SessionID,
		Storage:   storage,
		History:   history,
		IndexSize: retrieval.IndexSize,
		Indexed:   retrieval.HasSource,
		Accept:    document.Supported,
		Metrics:   app.Metrics,
		Logger:    logger,
	})
	app.Session = session

	notifiers := []coordinator.Notifier{session}
	if cfg.NATSURL != "" {
		publisher, err := nats.New(cfg.NATSURL, nats.Options{
			SubjectPrefix:      cfg.NATSSubjectPrefix,
			ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig().WithAttemptTimeout(5*time.Second), logger),
			Logger:             logger,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init event publisher: %w", err)
		}
		app.closers = append(app.closers, publisher.Close)
		notifiers = append(notifiers, publisher)
	}

	coord, err := coordinator.New(
		coordinator.Options{
			Logger:   logger,
			Notifier: coordinator.NewFanout(logger, notifiers...),
			Recorder: app.Metrics,
		},
		agents.NewIngestionAgent(document.NewExtractor(), chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap), logger),
		retrieval,
		agents.NewResponseAgent(generator, logger),
	)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init coordinator: %w", err)
	}
	app.closers = append(app.closers, coord.Close)
	app.Coordinator = coord
	session.SetDispatcher(coord.Send)

	logger.Info("app_initialized",
		"session_id", session.ID(),
		"llm_provider", cfg.LLMProvider,
		"agents", coord.Agents(),
		"restored_vectors", restored,
		"history", historyBackend(cfg),
		"events", cfg.NATSURL != "",
	)
	return app, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newLLM(cfg config.Config, logger *slog.Logger) (ports.Embedder, ports.Generator, error) {
	base := resilience.DefaultConfig()
	embedExec := resilience.NewExecutor(base.WithAttemptTimeout(time.Duration(cfg.EmbedTimeoutSeconds)*time.Second), logger)
	genExec := resilience.NewExecutor(base.WithAttemptTimeout(time.Duration(cfg.GenerateTimeoutSeconds)*time.Second), logger)

	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		client, err := openai.New(openai.Options{
			BaseURL:          cfg.OpenAIBaseURL,
			APIKey:           cfg.OpenAIAPIKey,
			GenModel:         cfg.OpenAIGenModel,
			EmbedModel:       cfg.OpenAIEmbedModel,
			EmbedExecutor:    embedExec,
			GenerateExecutor: genExec,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init openai client: %w", err)
		}
		return openai.NewEmbedder(client), openai.NewGenerator(client), nil
	default:
		client := ollama.New(ollama.Options{
			BaseURL:          cfg.OllamaURL,
			GenModel:         cfg.OllamaGenModel,
			EmbedModel:       cfg.OllamaEmbedModel,
			EmbedExecutor:    embedExec,
			GenerateExecutor: genExec,
		})
		return ollama.NewEmbedder(client), ollama.NewGenerator(client), nil
	}
}

func (a *App) newHistory(ctx context.Context, cfg config.Config, logger *slog.Logger) (ports.HistoryStore, error) {
	if cfg.PostgresDSN == "" {
		return memory.NewHistoryStore(), nil
	}

	db, err := postgres.OpenDB(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	a.closers = append(a.closers, func() { closeDB(db, logger) })

	repo := postgres.NewHistoryRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return repo, nil
}

func closeDB(db *sql.DB, logger *slog.Logger) {
	if err := db.Close(); err != nil {
		logger.Warn("postgres_close_failed", "error", err)
	}
}

func historyBackend(cfg config.Config) string {
	if cfg.PostgresDSN == "" {
		return "memory"
	}
	return "postgres"
}
