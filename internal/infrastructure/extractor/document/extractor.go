package document

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/agentic-rag-assistant/internal/core/domain"
)

// Extractor maps a file on disk to plain text by its extension.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// SupportedExtensions lists accepted extensions, lower-case with the dot.
func SupportedExtensions() []string {
	return []string{".pdf", ".docx", ".pptx", ".csv", ".txt", ".md"}
}

// Supported reports whether name has an accepted extension.
func Supported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, candidate := range SupportedExtensions() {
		if ext == candidate {
			return true
		}
	}
	return false
}

func (e *Extractor) Extract(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var (
		text string
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".pdf":
		text, err = extractPDF(path)
	case ".docx":
		text, err = extractDOCX(path)
	case ".pptx":
		text, err = extractPPTX(path)
	case ".csv":
		text, err = extractCSV(path)
	case ".txt", ".md":
		text, err = extractPlain(path)
	default:
		return "", domain.WrapError(
			domain.ErrUnsupportedFormat,
			"extract text",
			fmt.Errorf("%s: extension %q", filepath.Base(path), ext),
		)
	}
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", filepath.Base(path), err)
	}
	return strings.TrimSpace(text), nil
}

func extractPlain(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", domain.WrapError(domain.ErrUnsupportedFormat, "read text", fmt.Errorf("%s is not valid UTF-8", filepath.Base(path)))
	}
	return string(raw), nil
}
