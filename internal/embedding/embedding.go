// Package embedding turns free text into query vectors in the shared
// content/preference layout.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/onnwee/tripfeed/internal/vector"
)

// ErrEmbedding is returned when no usable text embedding could be produced.
var ErrEmbedding = errors.New("embedding failed")

// DefaultCacheTTL is how long text embeddings are memoized.
const DefaultCacheTTL = time.Hour

// TextEmbedder produces raw text embeddings of width vector.TextDim.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Embedder produces full-width query vectors.
type Embedder interface {
	Query(ctx context.Context, text string, categories []float32) ([]float32, error)
}

// Service embeds text through a TextEmbedder with memoization.
type Service struct {
	text   TextEmbedder
	cache  *gocache.Cache
	logger *slog.Logger
}

// NewService creates a Service. A ttl of zero uses DefaultCacheTTL; a
// negative ttl disables memoization.
func NewService(text TextEmbedder, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{text: text, logger: logger}
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}
	if ttl > 0 {
		s.cache = gocache.New(ttl, 2*ttl)
	}
	return s
}

// Text returns the text embedding for text.
func (s *Service) Text(ctx context.Context, text string) ([]float32, error) {
	key := strings.Join(strings.Fields(text), " ")
	if key == "" {
		return nil, fmt.Errorf("%w: empty text", ErrEmbedding)
	}
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			return v.([]float32), nil
		}
	}

	vec, err := s.text.Embed(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if len(vec) != vector.TextDim {
		return nil, fmt.Errorf("%w: got %d dimensions, want %d", ErrEmbedding, len(vec), vector.TextDim)
	}
	if vector.IsZero(vec) {
		return nil, fmt.Errorf("%w: zero vector", ErrEmbedding)
	}

	if s.cache != nil {
		s.cache.SetDefault(key, vec)
	}
	return vec, nil
}

// Query embeds text and composes it with an optional category segment.
func (s *Service) Query(ctx context.Context, text string, categories []float32) ([]float32, error) {
	tv, err := s.Text(ctx, text)
	if err != nil {
		return nil, err
	}
	return Compose(tv, categories), nil
}

// Compose builds a full-width vector from a text embedding and a category
// segment, weighted the same way user profiles are. Each part is normalized
// before weighting; a nil or zero category segment contributes nothing.
func Compose(text, categories []float32) []float32 {
	out := vector.Zero()
	t := vector.Scale(vector.Normalize(text), vector.TextWeight)
	copy(out[vector.TextRange.Start:vector.TextRange.End], t)
	if len(categories) == vector.CategoryDim && !vector.IsZero(categories) {
		c := vector.Scale(vector.Normalize(categories), vector.CategoryWeight)
		copy(out[vector.CategoryRange.Start:vector.CategoryRange.End], c)
	}
	return out
}
