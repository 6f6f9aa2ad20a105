package diskstore

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/kirillkom/agentic-rag-assistant/internal/core/domain"
)

const (
	manifestFile  = "manifest.json"
	lockFile      = "index.lock"
	formatVersion = 1
	lockRetry     = 50 * time.Millisecond
)

// Manifest describes one committed generation of the index.
type Manifest struct {
	Version     int    `json:"version"`
	Generation  int64  `json:"generation"`
	Dimension   int    `json:"dimension"`
	Count       int    `json:"count"`
	VectorsFile string `json:"vectors_file"`
	RecordsFile string `json:"records_file"`
	CreatedAt   string `json:"created_at"`
}

// Store keeps index snapshots in a directory: a little-endian float32 vector
// file, a JSONL record file and a manifest that points at both. The manifest
// is replaced last, so a reader sees either the old or the new generation.
type Store struct {
	dir    string
	lock   *flock.Flock
	logger *slog.Logger
}

func New(dir string, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, domain.WrapError(domain.ErrConfiguration, "index store", errors.New("directory is required"))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir %s: %w", dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:    dir,
		lock:   flock.New(filepath.Join(dir, lockFile)),
		logger: logger,
	}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) Save(ctx context.Context, snapshot domain.IndexSnapshot) error {
	if len(snapshot.Vectors) != len(snapshot.Records) {
		return domain.WrapError(
			domain.ErrInvalidInput,
			"save index",
			fmt.Errorf("records/vectors mismatch: %d/%d", len(snapshot.Records), len(snapshot.Vectors)),
		)
	}

	locked, err := s.lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("acquire index lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("acquire index lock: %s is held", s.lock.Path())
	}
	defer func() { _ = s.lock.Unlock() }()

	previous, err := s.readManifest()
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("index_manifest_unreadable", "dir", s.dir, "error", err)
	}

	generation := previous.Generation + 1
	manifest := Manifest{
		Version:     formatVersion,
		Generation:  generation,
		Dimension:   snapshot.Dimension,
		Count:       len(snapshot.Records),
		VectorsFile: fmt.Sprintf("vectors-%d.f32", generation),
		RecordsFile: fmt.Sprintf("records-%d.jsonl", generation),
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}

	if err := writeRecords(filepath.Join(s.dir, manifest.RecordsFile), snapshot.Records); err != nil {
		return err
	}
	if err := writeVectors(filepath.Join(s.dir, manifest.VectorsFile), snapshot.Vectors, snapshot.Dimension); err != nil {
		return err
	}
	if err := s.commit(manifest); err != nil {
		return err
	}

	s.removeStale(manifest)
	return nil
}

func (s *Store) Load(ctx context.Context) (domain.IndexSnapshot, error) {
	locked, err := s.lock.TryRLockContext(ctx, lockRetry)
	if err != nil {
		return domain.IndexSnapshot{}, fmt.Errorf("acquire index lock: %w", err)
	}
	if !locked {
		return domain.IndexSnapshot{}, fmt.Errorf("acquire index lock: %s is held", s.lock.Path())
	}
	defer func() { _ = s.lock.Unlock() }()

	manifest, err := s.readManifest()
	if err != nil {
		return domain.IndexSnapshot{}, err
	}
	if manifest.Version != formatVersion {
		return domain.IndexSnapshot{}, fmt.Errorf("unsupported index version %d", manifest.Version)
	}
	if manifest.Count > 0 && manifest.Dimension <= 0 {
		return domain.IndexSnapshot{}, fmt.Errorf("invalid dimension in manifest: %d", manifest.Dimension)
	}

	records, err := readRecords(filepath.Join(s.dir, manifest.RecordsFile))
	if err != nil {
		return domain.IndexSnapshot{}, err
	}
	if len(records) != manifest.Count {
		return domain.IndexSnapshot{}, fmt.Errorf("record count mismatch: got %d want %d", len(records), manifest.Count)
	}
	vectors, err := readVectors(filepath.Join(s.dir, manifest.VectorsFile), manifest.Count, manifest.Dimension)
	if err != nil {
		return domain.IndexSnapshot{}, err
	}

	return domain.IndexSnapshot{
		Dimension: manifest.Dimension,
		Vectors:   vectors,
		Records:   records,
	}, nil
}

func (s *Store) readManifest() (Manifest, error) {
	path := filepath.Join(s.dir, manifestFile)
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Manifest{}, domain.WrapError(domain.ErrNotFound, "read manifest", err)
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return Manifest{}, fmt.Errorf("invalid manifest JSON %s: %w", path, err)
	}
	return m, nil
}

func (s *Store) commit(manifest Manifest) error {
	b, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, manifestFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("create manifest temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, filepath.Join(s.dir, manifestFile)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("commit manifest: %w", err)
	}
	return nil
}

// removeStale deletes artifacts of generations other than the committed one.
func (s *Store) removeStale(current Manifest) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("index_cleanup_failed", "dir", s.dir, "error", err)
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if name == current.VectorsFile || name == current.RecordsFile {
			continue
		}
		stale := (strings.HasPrefix(name, "vectors-") && strings.HasSuffix(name, ".f32")) ||
			(strings.HasPrefix(name, "records-") && strings.HasSuffix(name, ".jsonl"))
		if !stale {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			s.logger.Warn("index_cleanup_failed", "file", name, "error", err)
		}
	}
}

func writeRecords(path string, records []domain.ChunkRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create records file: %w", err)
	}
	bw := bufio.NewWriter(f)
	for _, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			_ = f.Close()
			return err
		}
		if _, err := bw.Write(line); err != nil {
			_ = f.Close()
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func writeVectors(path string, vectors [][]float32, dimension int) error {
	flat := make([]float32, 0, len(vectors)*dimension)
	for n, v := range vectors {
		if len(v) != dimension {
			return domain.WrapError(
				domain.ErrInvalidInput,
				"save index",
				fmt.Errorf("vector %d has dimension %d, expected %d", n, len(v), dimension),
			)
		}
		flat = append(flat, v...)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create vectors file: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, flat); err != nil {
		_ = f.Close()
		return fmt.Errorf("write vectors: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func readRecords(path string) ([]domain.ChunkRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open records file %s: %w", path, err)
	}
	defer f.Close()

	out := []domain.ChunkRecord{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record domain.ChunkRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, fmt.Errorf("invalid records JSONL %s: %w", path, err)
		}
		out = append(out, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read records file %s: %w", path, err)
	}
	return out, nil
}

func readVectors(path string, count, dimension int) ([][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vectors file %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat vectors file %s: %w", path, err)
	}
	expected := int64(count) * int64(dimension) * 4
	if st.Size() != expected {
		return nil, fmt.Errorf("vectors file size mismatch: got %d want %d (count=%d dim=%d)", st.Size(), expected, count, dimension)
	}

	flat := make([]float32, count*dimension)
	if err := binary.Read(io.LimitReader(f, expected), binary.LittleEndian, flat); err != nil {
		return nil, fmt.Errorf("read vectors from %s: %w", path, err)
	}

	out := make([][]float32, count)
	for n := range out {
		out[n] = flat[n*dimension : (n+1)*dimension : (n+1)*dimension]
	}
	return out, nil
}
