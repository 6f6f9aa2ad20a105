package ollama

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/agentic-rag-assistant/internal/infrastructure/llm/llmhttp"
	"github.com/kirillkom/agentic-rag-assistant/internal/infrastructure/resilience"
)

type Options struct {
	BaseURL    string
	GenModel   string
	EmbedModel string

	// Separate executors so embedding and generation keep their own timeouts and breakers.
	EmbedExecutor    *resilience.Executor
	GenerateExecutor *resilience.Executor
}

type Client struct {
	transport  *llmhttp.Transport
	genModel   string
	embedModel string
	embedExec  *resilience.Executor
	genExec    *resilience.Executor
}

func New(opts Options) *Client {
	return &Client{
		transport:  llmhttp.NewTransport("ollama", opts.BaseURL, nil),
		genModel:   opts.GenModel,
		embedModel: opts.EmbedModel,
		embedExec:  opts.EmbedExecutor,
		genExec:    opts.GenerateExecutor,
	}
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	err := llmhttp.Call(ctx, e.client.embedExec, "ollama_embed", func(ctx context.Context) error {
		return e.client.transport.PostJSON(ctx, "/api/embed", request, &response, "embed")
	})
	if err != nil {
		return nil, err
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: expected %d embeddings, got %d", len(texts), len(response.Embeddings))
	}
	return response.Embeddings, nil
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

func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	request := map[string]any{
		"model":  g.client.genModel,
		"prompt": prompt,
		"stream": false,
	}

	var response struct {
		Response string `json:"response"`
	}
	err := llmhttp.Call(ctx, g.client.genExec, "ollama_generate", func(ctx context.Context) error {
		return g.client.transport.PostJSON(ctx, "/api/generate", request, &response, "generate")
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}
