// Package llmhttp holds the JSON-over-HTTP plumbing shared by the model providers.
package llmhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Transport posts JSON to one provider base URL.
type Transport struct {
	provider   string
	baseURL    string
	headers    http.Header
	httpClient *http.Client
}

func NewTransport(provider, baseURL string, headers http.Header) *Transport {
	return &Transport{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		headers:  headers.Clone(),
		// Per-call deadlines come from the resilience executor.
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

func (t *Transport) Provider() string {
	return t.provider
}

func (t *Transport) PostJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, values := range t.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s request: %w", t.provider, operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return t.statusError(operation, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func (t *Transport) statusError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &HTTPStatusError{
		Provider:   t.provider,
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
	}
}
