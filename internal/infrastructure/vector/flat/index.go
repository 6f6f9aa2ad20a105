package flat

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kirillkom/agentic-rag-assistant/internal/core/domain"
)

// Index is an exact L2 nearest-neighbour index over parallel vector and
// record slices. A zero dimension means nothing has been added yet.
type Index struct {
	mu        sync.RWMutex
	dimension int
	vectors   [][]float32
	records   []domain.ChunkRecord
}

func New() *Index {
	return &Index{}
}

// Restore builds an index from a snapshot.
func Restore(snapshot domain.IndexSnapshot) (*Index, error) {
	idx := New()
	if err := idx.Restore(snapshot); err != nil {
		return nil, err
	}
	return idx, nil
}

func (i *Index) Dimension() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.dimension
}

func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.records)
}

// Add appends records with their vectors. Either all of them are added or none.
func (i *Index) Add(records []domain.ChunkRecord, vectors [][]float32) error {
	if len(records) != len(vectors) {
		return domain.WrapError(
			domain.ErrInvalidInput,
			"index add",
			fmt.Errorf("records/vectors mismatch: %d/%d", len(records), len(vectors)),
		)
	}
	if len(vectors) == 0 {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	dimension := i.dimension
	if dimension == 0 {
		dimension = len(vectors[0])
	}
	if err := checkDimension(vectors, dimension); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "index add", err)
	}

	for n := range vectors {
		i.vectors = append(i.vectors, append([]float32(nil), vectors[n]...))
		i.records = append(i.records, records[n])
	}
	i.dimension = dimension
	return nil
}

// Search returns up to k hits ordered by ascending squared L2 distance.
// Equal distances keep insertion order.
func (i *Index) Search(query []float32, k int) ([]domain.SearchHit, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if k <= 0 || len(i.records) == 0 {
		return []domain.SearchHit{}, nil
	}
	if len(query) != i.dimension {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"index search",
			fmt.Errorf("query dimension %d does not match index dimension %d", len(query), i.dimension),
		)
	}

	hits := make([]domain.SearchHit, len(i.vectors))
	for n, vector := range i.vectors {
		hits[n] = domain.SearchHit{
			Position: n,
			Distance: squaredL2(query, vector),
			Record:   i.records[n],
		}
	}
	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].Distance < hits[b].Distance
	})

	return hits[:min(k, len(hits))], nil
}

// Snapshot copies the current state.
func (i *Index) Snapshot() domain.IndexSnapshot {
	i.mu.RLock()
	defer i.mu.RUnlock()

	vectors := make([][]float32, len(i.vectors))
	for n, v := range i.vectors {
		vectors[n] = append([]float32(nil), v...)
	}
	return domain.IndexSnapshot{
		Dimension: i.dimension,
		Vectors:   vectors,
		Records:   append([]domain.ChunkRecord(nil), i.records...),
	}
}

// Restore replaces the contents with snapshot after validating it.
func (i *Index) Restore(snapshot domain.IndexSnapshot) error {
	if len(snapshot.Vectors) != len(snapshot.Records) {
		return domain.WrapError(
			domain.ErrInvalidInput,
			"index restore",
			fmt.Errorf("records/vectors mismatch: %d/%d", len(snapshot.Records), len(snapshot.Vectors)),
		)
	}
	if len(snapshot.Vectors) > 0 {
		if snapshot.Dimension <= 0 {
			return domain.WrapError(domain.ErrInvalidInput, "index restore", errors.New("dimension is required"))
		}
		if err := checkDimension(snapshot.Vectors, snapshot.Dimension); err != nil {
			return domain.WrapError(domain.ErrInvalidInput, "index restore", err)
		}
	}

	vectors := make([][]float32, len(snapshot.Vectors))
	for n, v := range snapshot.Vectors {
		vectors[n] = append([]float32(nil), v...)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.dimension = snapshot.Dimension
	if len(vectors) == 0 {
		i.dimension = 0
	}
	i.vectors = vectors
	i.records = append([]domain.ChunkRecord(nil), snapshot.Records...)
	return nil
}

func checkDimension(vectors [][]float32, dimension int) error {
	if dimension == 0 {
		return errors.New("empty vector")
	}
	for n, v := range vectors {
		if len(v) != dimension {
			return fmt.Errorf("vector %d has dimension %d, expected %d", n, len(v), dimension)
		}
	}
	return nil
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for n := range a {
		d := a[n] - b[n]
		sum += d * d
	}
	return sum
}
