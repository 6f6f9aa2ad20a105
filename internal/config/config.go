package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/agentic-rag-assistant/internal/core/domain"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Config is resolved in three layers: built-in defaults, the optional YAML file
// named by CONFIG_FILE, then environment variables.
type Config struct {
	APIPort  string `yaml:"api_port"`
	LogLevel string `yaml:"log_level"`

	SessionID string `yaml:"session_id"`
	UploadDir string `yaml:"upload_dir"`
	IndexDir  string `yaml:"index_dir"`

	ChunkSize     int `yaml:"chunk_size"`
	ChunkOverlap  int `yaml:"chunk_overlap"`
	RetrievalTopK int `yaml:"retrieval_top_k"`

	LLMProvider string `yaml:"llm_provider"`

	OllamaURL        string `yaml:"ollama_url"`
	OllamaGenModel   string `yaml:"ollama_gen_model"`
	OllamaEmbedModel string `yaml:"ollama_embed_model"`

	OpenAIBaseURL    string `yaml:"openai_base_url"`
	OpenAIAPIKey     string `yaml:"openai_api_key"`
	OpenAIGenModel   string `yaml:"openai_gen_model"`
	OpenAIEmbedModel string `yaml:"openai_embed_model"`

	EmbedTimeoutSeconds    int `yaml:"embed_timeout_seconds"`
	GenerateTimeoutSeconds int `yaml:"generate_timeout_seconds"`

	PostgresDSN string `yaml:"postgres_dsn"`

	NATSURL           string `yaml:"nats_url"`
	NATSSubjectPrefix string `yaml:"nats_subject_prefix"`

	APIRateLimitRPS   float64 `yaml:"api_rate_limit_rps"`
	APIRateLimitBurst int     `yaml:"api_rate_limit_burst"`
	APIMaxInFlight    int     `yaml:"api_max_in_flight"`
}

func Defaults() Config {
	return Config{
		APIPort:  "8080",
		LogLevel: "info",

		SessionID: "default",
		UploadDir: "./data/uploads",
		IndexDir:  "./data/index",

		ChunkSize:     1000,
		ChunkOverlap:  200,
		RetrievalTopK: 3,

		LLMProvider: ProviderOllama,

		OllamaURL:        "http://localhost:11434",
		OllamaGenModel:   "llama3.1:8b",
		OllamaEmbedModel: "nomic-embed-text",

		OpenAIBaseURL:    "https://api.openai.com/v1",
		OpenAIGenModel:   "gpt-4o-mini",
		OpenAIEmbedModel: "text-embedding-3-small",

		EmbedTimeoutSeconds:    60,
		GenerateTimeoutSeconds: 120,

		NATSSubjectPrefix: "docqa.events",

		APIRateLimitRPS:   20,
		APIRateLimitBurst: 40,
		APIMaxInFlight:    32,
	}
}

// Load resolves the configuration and validates it.
func Load() (Config, error) {
	cfg := Defaults()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := mergeFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.WrapError(domain.ErrConfiguration, "read config file", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return domain.WrapError(domain.ErrConfiguration, "parse config file", fmt.Errorf("%s: %w", path, err))
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.APIPort = mustEnv("API_PORT", cfg.APIPort)
	cfg.LogLevel = mustEnv("LOG_LEVEL", cfg.LogLevel)

	cfg.SessionID = mustEnv("SESSION_ID", cfg.SessionID)
	cfg.UploadDir = mustEnv("UPLOAD_DIR", cfg.UploadDir)
	cfg.IndexDir = mustEnv("INDEX_DIR", cfg.IndexDir)

	cfg.ChunkSize = mustEnvInt("CHUNK_SIZE", cfg.ChunkSize)
	cfg.ChunkOverlap = mustEnvInt("CHUNK_OVERLAP", cfg.ChunkOverlap)
	cfg.RetrievalTopK = mustEnvInt("RETRIEVAL_TOP_K", cfg.RetrievalTopK)

	cfg.LLMProvider = strings.ToLower(mustEnv("LLM_PROVIDER", cfg.LLMProvider))

	cfg.OllamaURL = mustEnv("OLLAMA_URL", cfg.OllamaURL)
	cfg.OllamaGenModel = mustEnv("OLLAMA_GEN_MODEL", cfg.OllamaGenModel)
	cfg.OllamaEmbedModel = mustEnv("OLLAMA_EMBED_MODEL", cfg.OllamaEmbedModel)

	cfg.OpenAIBaseURL = mustEnv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.OpenAIAPIKey = mustEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIGenModel = mustEnv("OPENAI_GEN_MODEL", cfg.OpenAIGenModel)
	cfg.OpenAIEmbedModel = mustEnv("OPENAI_EMBED_MODEL", cfg.OpenAIEmbedModel)

	cfg.EmbedTimeoutSeconds = mustEnvInt("EMBED_TIMEOUT_SECONDS", cfg.EmbedTimeoutSeconds)
	cfg.GenerateTimeoutSeconds = mustEnvInt("GENERATE_TIMEOUT_SECONDS", cfg.GenerateTimeoutSeconds)

	cfg.PostgresDSN = mustEnv("POSTGRES_DSN", cfg.PostgresDSN)

	cfg.NATSURL = mustEnv("NATS_URL", cfg.NATSURL)
	cfg.NATSSubjectPrefix = mustEnv("NATS_SUBJECT_PREFIX", cfg.NATSSubjectPrefix)

	cfg.APIRateLimitRPS = mustEnvFloat("API_RATE_LIMIT_RPS", cfg.APIRateLimitRPS)
	cfg.APIRateLimitBurst = mustEnvInt("API_RATE_LIMIT_BURST", cfg.APIRateLimitBurst)
	cfg.APIMaxInFlight = mustEnvInt("API_MAX_IN_FLIGHT", cfg.APIMaxInFlight)
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var problems []error

	switch c.LLMProvider {
	case ProviderOllama:
		if strings.TrimSpace(c.OllamaURL) == "" {
			problems = append(problems, errors.New("OLLAMA_URL is required for the ollama provider"))
		}
	case ProviderOpenAI:
		if strings.TrimSpace(c.OpenAIAPIKey) == "" {
			problems = append(problems, errors.New("OPENAI_API_KEY is required for the openai provider"))
		}
	default:
		problems = append(problems, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider))
	}

	if c.ChunkSize <= 0 {
		problems = append(problems, fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize))
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		problems = append(problems, fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.ChunkOverlap))
	}
	if c.RetrievalTopK <= 0 {
		problems = append(problems, fmt.Errorf("RETRIEVAL_TOP_K must be positive, got %d", c.RetrievalTopK))
	}
	if c.EmbedTimeoutSeconds <= 0 || c.GenerateTimeoutSeconds <= 0 {
		problems = append(problems, errors.New("EMBED_TIMEOUT_SECONDS and GENERATE_TIMEOUT_SECONDS must be positive"))
	}
	if strings.TrimSpace(c.SessionID) == "" {
		problems = append(problems, errors.New("SESSION_ID must not be empty"))
	}
	if strings.TrimSpace(c.UploadDir) == "" || strings.TrimSpace(c.IndexDir) == "" {
		problems = append(problems, errors.New("UPLOAD_DIR and INDEX_DIR must not be empty"))
	}
	if c.APIRateLimitRPS < 0 || c.APIRateLimitBurst < 0 || c.APIMaxInFlight < 0 {
		problems = append(problems, errors.New("API rate limit and in-flight settings must not be negative"))
	}

	if len(problems) == 0 {
		return nil
	}
	return domain.WrapError(domain.ErrConfiguration, "validate config", errors.Join(problems...))
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return n
}
