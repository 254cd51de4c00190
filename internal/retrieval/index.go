package retrieval

import (
	"context"
	"sort"
	"sync"

	"github.com/onnwee/tripfeed/internal/feature"
	"github.com/onnwee/tripfeed/internal/vector"
)

// Hit is one nearest-neighbour result.
type Hit struct {
	ContentID  string
	Similarity float64
}

// Index performs approximate or exact nearest-neighbour search over
// content feature vectors by cosine similarity.
type Index interface {
	// Search returns up to k hits, highest similarity first.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
}

// Writer maintains an index's contents.
type Writer interface {
	Upsert(ctx context.Context, items []feature.ContentVector) error
	Delete(ctx context.Context, ids []string) error
}

// sortHits orders hits by similarity descending, then content ID ascending.
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ContentID < hits[j].ContentID
	})
}

// MemoryIndex is an exact in-memory cosine index.
type MemoryIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewMemoryIndex creates an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{vectors: make(map[string][]float32)}
}

// NewMemoryIndexFromStore builds a MemoryIndex from a feature store snapshot.
func NewMemoryIndexFromStore(store *feature.InMemoryStore) *MemoryIndex {
	idx := NewMemoryIndex()
	_ = idx.Upsert(context.Background(), store.Snapshot())
	return idx
}

// Upsert stores normalized copies of usable vectors. Unusable ones are skipped.
func (m *MemoryIndex) Upsert(ctx context.Context, items []feature.ContentVector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		if !vector.Usable(it.Vector) {
			continue
		}
		m.vectors[it.ContentID] = vector.Normalize(it.Vector)
	}
	return nil
}

// Delete removes ids from the index.
func (m *MemoryIndex) Delete(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.vectors, id)
	}
	return nil
}

// Len returns the number of indexed vectors.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors)
}

// Search scans every vector.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	q := vector.Normalize(query)

	m.mu.RLock()
	hits := make([]Hit, 0, len(m.vectors))
	for id, v := range m.vectors {
		if len(v) != len(q) {
			continue
		}
		var dot float64
		for i := range v {
			dot += float64(v[i]) * float64(q[i])
		}
		hits = append(hits, Hit{ContentID: id, Similarity: dot})
	}
	m.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}
