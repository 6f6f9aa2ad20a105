package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/kirillkom/agentic-rag-assistant/internal/core/domain"
	"github.com/kirillkom/agentic-rag-assistant/internal/infrastructure/llm/llmhttp"
	"github.com/kirillkom/agentic-rag-assistant/internal/infrastructure/resilience"
)

const DefaultBaseURL = "https://api.openai.com/v1"

type Options struct {
	BaseURL    string
	APIKey     string
	GenModel   string
	EmbedModel string

	EmbedExecutor    *resilience.Executor
	GenerateExecutor *resilience.Executor
}

// Client talks to an OpenAI-compatible API.
type Client struct {
	transport  *llmhttp.Transport
	genModel   string
	embedModel string
	embedExec  *resilience.Executor
	genExec    *resilience.Executor
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, domain.WrapError(domain.ErrConfiguration, "openai client", errors.New("api key is required"))
	}
	baseURL := opts.BaseURL
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+opts.APIKey)

	return &Client{
		transport:  llmhttp.NewTransport("openai", baseURL, headers),
		genModel:   opts.GenModel,
		embedModel: opts.EmbedModel,
		embedExec:  opts.EmbedExecutor,
		genExec:    opts.GenerateExecutor,
	}, nil
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}

	var response embeddingsResponse
	err := llmhttp.Call(ctx, e.client.embedExec, "openai_embed", func(ctx context.Context) error {
		return e.client.transport.PostJSON(ctx, "/embeddings", request, &response, "embed")
	})
	if err != nil {
		return nil, err
	}
	if len(response.Data) != len(texts) {
		return nil, fmt.Errorf("openai embed: expected %d embeddings, got %d", len(texts), len(response.Data))
	}

	sort.SliceStable(response.Data, func(i, j int) bool {
		return response.Data[i].Index < response.Data[j].Index
	})
	out := make([][]float32, len(response.Data))
	for i, item := range response.Data {
		out[i] = item.Embedding
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}

type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	request := map[string]any{
		"model":    g.client.genModel,
		"messages": []chatMessage{{Role: "user", Content: prompt}},
	}

	var response chatResponse
	err := llmhttp.Call(ctx, g.client.genExec, "openai_generate", func(ctx context.Context) error {
		return g.client.transport.PostJSON(ctx, "/chat/completions", request, &response, "generate")
	})
	if err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("openai generate: empty choices")
	}
	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}
