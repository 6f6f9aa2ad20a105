package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kirillkom/agentic-rag-assistant/internal/core/domain"
)

// Storage keeps uploaded files flat in one directory, keyed by base name.
type Storage struct {
	basePath string
}

func New(basePath string) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/uploads"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Storage{basePath: basePath}, nil
}

// CleanName reduces a client-supplied file name to a safe base name.
func CleanName(name string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "." || base == ".." || base == "/" || base == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "clean file name", fmt.Errorf("invalid file name %q", name))
	}
	return base, nil
}

func (s *Storage) Path(name string) string {
	return filepath.Join(s.basePath, name)
}

// Save writes data under name. An existing file is never overwritten.
func (s *Storage) Save(_ context.Context, name string, data io.Reader) (domain.UploadedFile, error) {
	clean, err := CleanName(name)
	if err != nil {
		return domain.UploadedFile{}, err
	}
	path := s.Path(clean)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return domain.UploadedFile{}, domain.WrapError(domain.ErrAlreadyExists, "save file", fmt.Errorf("%s", clean))
	}
	if err != nil {
		return domain.UploadedFile{}, fmt.Errorf("create file: %w", err)
	}

	size, err := io.Copy(f, data)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return domain.UploadedFile{}, fmt.Errorf("write file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return domain.UploadedFile{}, fmt.Errorf("close file: %w", err)
	}

	return domain.UploadedFile{Name: clean, Path: path, Size: size}, nil
}

func (s *Storage) Exists(_ context.Context, name string) (bool, error) {
	clean, err := CleanName(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(s.Path(clean))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat file: %w", err)
	}
	return true, nil
}

func (s *Storage) Remove(_ context.Context, name string) error {
	clean, err := CleanName(name)
	if err != nil {
		return err
	}
	if err := os.Remove(s.Path(clean)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// List returns the stored files ordered by name.
func (s *Storage) List(_ context.Context) ([]domain.UploadedFile, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("read storage dir: %w", err)
	}

	out := make([]domain.UploadedFile, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, domain.UploadedFile{
			Name: entry.Name(),
			Path: s.Path(entry.Name()),
			Size: info.Size(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
