package agents

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/kirillkom/agentic-rag-assistant/internal/core/domain"
)

type extractorFake struct {
	texts map[string]string
	errs  map[string]error
	calls []string
}

func (f *extractorFake) Extract(_ context.Context, path string) (string, error) {
	f.calls = append(f.calls, path)
	if err, ok := f.errs[path]; ok {
		return "", err
	}
	text, ok := f.texts[path]
	if !ok {
		return "", domain.WrapError(domain.ErrUnsupportedFormat, "extract", errors.New(path))
	}
	return text, nil
}

// chunkerFake splits on "|" so tests control chunk boundaries.
type chunkerFake struct{}

func (chunkerFake) Split(text string) []string {
	var out []string
	for _, part := range strings.Split(text, "|") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var vocabulary = []string{"apple", "banana", "cherry"}

// embedderFake maps text to word counts over a tiny vocabulary.
type embedderFake struct {
	mu         sync.Mutex
	embedCalls int
	queryCalls int
	err        error
	// beforeQuery runs inside EmbedQuery, standing in for a concurrent writer.
	beforeQuery func()
}

func bagOfWords(text string) []float32 {
	vector := make([]float32, len(vocabulary))
	for _, word := range strings.Fields(strings.ToLower(text)) {
		for i, v := range vocabulary {
			if strings.Trim(word, ".,?!") == v {
				vector[i]++
			}
		}
	}
	return vector
}

func (f *embedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.embedCalls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = bagOfWords(text)
	}
	return out, nil
}

func (f *embedderFake) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.queryCalls++
	f.mu.Unlock()
	if f.beforeQuery != nil {
		f.beforeQuery()
	}
	if f.err != nil {
		return nil, f.err
	}
	return bagOfWords(text), nil
}

type generatorFake struct {
	prompts []string
	answer  string
	err     error
}

func (f *generatorFake) Generate(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

type indexStoreFake struct {
	saved   []domain.IndexSnapshot
	saveErr error
	load    domain.IndexSnapshot
	loadErr error
}

func (f *indexStoreFake) Save(_ context.Context, snapshot domain.IndexSnapshot) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, snapshot)
	return nil
}

func (f *indexStoreFake) Load(context.Context) (domain.IndexSnapshot, error) {
	return f.load, f.loadErr
}
