package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kirillkom/agentic-rag-assistant/internal/core/domain"
)

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Options{BaseURL: "http://localhost", GenModel: "gpt"})
	if !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestEmbedOrdersByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Fatalf("missing bearer token: %q", r.Header.Get("Authorization"))
		}
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer server.Close()

	client, err := New(Options{BaseURL: server.URL + "/v1", APIKey: "key", EmbedModel: "text-embedding-3-small"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	vectors, err := NewEmbedder(client).Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if vectors[0][0] != 1 || vectors[1][1] != 1 {
		t.Fatalf("embeddings not ordered by index: %v", vectors)
	}
}

func TestGenerateUsesChatCompletions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var payload struct {
			Model    string        `json:"model"`
			Messages []chatMessage `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if payload.Model != "gpt" || len(payload.Messages) != 1 || payload.Messages[0].Content != "prompt" {
			t.Fatalf("unexpected payload: %+v", payload)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" answer "}}]}`))
	}))
	defer server.Close()

	client, err := New(Options{BaseURL: server.URL, APIKey: "key", GenModel: "gpt"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	answer, err := NewGenerator(client).Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if answer != "answer" {
		t.Fatalf("expected trimmed answer, got %q", answer)
	}
}

func TestGenerateReportsEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	client, err := New(Options{BaseURL: server.URL, APIKey: "key", GenModel: "gpt"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := NewGenerator(client).Generate(context.Background(), "prompt"); err == nil {
		t.Fatalf("expected error for empty choices")
	}
}
