// Package feature provides read access to per-content feature vectors and the
// category encoding that shapes their category segment.
package feature

import (
	"context"
	"errors"
	"sync"

	"github.com/onnwee/tripfeed/internal/vector"
)

// Feature store errors.
var (
	// ErrNotFound is returned when no vector is stored for a content ID.
	ErrNotFound = errors.New("feature vector not found")
	// ErrFeatureUnavailable is returned when a stored vector has the wrong
	// dimension, contains non-finite values or is all zeros.
	ErrFeatureUnavailable = errors.New("feature vector unavailable")
)

// ContentVector pairs a content ID with its D-dimensional feature vector.
type ContentVector struct {
	ContentID string
	Vector    []float32
}

// Store provides read access to content feature vectors.
type Store interface {
	// Get returns the vector for id, ErrNotFound, or ErrFeatureUnavailable.
	Get(ctx context.Context, id string) (ContentVector, error)
	// GetMany returns usable vectors for the given IDs. Missing or unusable
	// vectors are omitted from the result.
	GetMany(ctx context.Context, ids []string) (map[string]ContentVector, error)
}

// InMemoryStore is an in-memory Store. Vectors are copied on the way in and out.
type InMemoryStore struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{vectors: make(map[string][]float32)}
}

// Put stores v for id. Unusable vectors are stored as-is and rejected on read.
func (s *InMemoryStore) Put(id string, v []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors[id] = copyVec(v)
}

// Delete removes the vector for id.
func (s *InMemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vectors, id)
}

// Get returns a copy of the vector for id.
func (s *InMemoryStore) Get(ctx context.Context, id string) (ContentVector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vectors[id]
	if !ok {
		return ContentVector{}, ErrNotFound
	}
	if !vector.Usable(v) {
		return ContentVector{}, ErrFeatureUnavailable
	}
	return ContentVector{ContentID: id, Vector: copyVec(v)}, nil
}

// GetMany returns copies of the usable vectors among ids.
func (s *InMemoryStore) GetMany(ctx context.Context, ids []string) (map[string]ContentVector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ContentVector, len(ids))
	for _, id := range ids {
		v, ok := s.vectors[id]
		if !ok || !vector.Usable(v) {
			continue
		}
		out[id] = ContentVector{ContentID: id, Vector: copyVec(v)}
	}
	return out, nil
}

// Snapshot returns copies of every usable vector, for building an exact index.
func (s *InMemoryStore) Snapshot() []ContentVector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ContentVector, 0, len(s.vectors))
	for id, v := range s.vectors {
		if vector.Usable(v) {
			out = append(out, ContentVector{ContentID: id, Vector: copyVec(v)})
		}
	}
	return out
}

// Len returns the number of stored vectors, usable or not.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

func copyVec(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
