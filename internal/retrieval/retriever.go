// Package retrieval selects candidate content for a query vector by
// nearest-neighbour search followed by relational filtering.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/tripfeed/internal/content"
	"github.com/onnwee/tripfeed/internal/tracing"
	"github.com/onnwee/tripfeed/internal/vector"
)

// MinSearchK is the minimum number of neighbours fetched from the index.
const MinSearchK = 200

var (
	// ErrInvalidQuery is returned for a zero, non-finite or mis-sized query vector.
	ErrInvalidQuery = errors.New("invalid query vector")
	// ErrNoCounter is returned when filters set MaxInteractions on a
	// Retriever built without an InteractionCounter.
	ErrNoCounter = errors.New("interaction filter requires an interaction counter")
)

// InteractionCounter reports total interaction counts per content item.
type InteractionCounter interface {
	CountByContent(ctx context.Context, contentIDs []string) (map[string]int, error)
}

// RelaxationObserver is notified each time a filter stage is dropped.
type RelaxationObserver func(ctx context.Context, stage Stage, survivors int)

// Config holds the Retriever's collaborators.
type Config struct {
	Index    Index
	Contents content.Repository
	// Counter is required only when filters set MaxInteractions.
	Counter  InteractionCounter
	Logger   *slog.Logger
	Metrics  *Metrics
	Observer RelaxationObserver
	// Timeout bounds the index search and metadata loads of one call.
	// Zero relies on the caller's context.
	Timeout time.Duration
}

// Retriever intersects nearest-neighbour hits with relational filters.
type Retriever struct {
	index    Index
	contents content.Repository
	counter  InteractionCounter
	logger   *slog.Logger
	metrics  *Metrics
	observer RelaxationObserver
	timeout  time.Duration
}

// NewRetriever creates a Retriever.
func NewRetriever(cfg Config) *Retriever {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		index:    cfg.Index,
		contents: cfg.Contents,
		counter:  cfg.Counter,
		logger:   logger,
		metrics:  cfg.Metrics,
		observer: cfg.Observer,
		timeout:  cfg.Timeout,
	}
}

// SearchK returns the number of neighbours fetched for a result limit.
func SearchK(limit int) int {
	return max(limit*10, MinSearchK)
}

// Retrieve returns up to limit content IDs ordered by similarity.
func (r *Retriever) Retrieve(ctx context.Context, query []float32, filters Filters, limit int) ([]string, error) {
	hits, err := r.RetrieveHits(ctx, query, filters, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ContentID
	}
	return ids, nil
}

// RetrieveHits is Retrieve with similarities attached.
func (r *Retriever) RetrieveHits(ctx context.Context, query []float32, filters Filters, limit int) (hits []Hit, err error) {
	if !vector.Usable(query) {
		r.metrics.incRetrieval(outcomeInvalid)
		return nil, ErrInvalidQuery
	}
	if limit <= 0 {
		return nil, nil
	}
	if filters.MaxInteractions != nil && r.counter == nil {
		r.metrics.incRetrieval(outcomeError)
		return nil, ErrNoCounter
	}

	ctx, endSpan := tracing.StartSpan(ctx, "retrieval.retrieve")
	defer func() { endSpan(err) }()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	k := SearchK(limit)
	raw, err := r.index.Search(ctx, query, k)
	if err != nil {
		r.metrics.incRetrieval(outcomeError)
		return nil, fmt.Errorf("index search: %w", err)
	}
	sortHits(raw)
	tracing.SetAttributes(ctx, attribute.Int("retrieval.k", k), attribute.Int("retrieval.hits", len(raw)))

	ids := make([]string, len(raw))
	for i, h := range raw {
		ids[i] = h.ContentID
	}
	items, err := r.contents.GetMany(ctx, ids)
	if err != nil {
		r.metrics.incRetrieval(outcomeError)
		return nil, fmt.Errorf("load candidate metadata: %w", err)
	}

	var counts map[string]int
	if filters.MaxInteractions != nil {
		counts, err = r.counter.CountByContent(ctx, ids)
		if err != nil {
			r.metrics.incRetrieval(outcomeError)
			return nil, fmt.Errorf("count interactions: %w", err)
		}
	}

	current := filters
	hits = apply(raw, items, newMatcher(current, counts), limit)
	for _, stage := range relaxOrder {
		if len(hits) >= limit {
			break
		}
		if !current.hasConstraint(stage) {
			continue
		}
		current = current.relax(stage)
		hits = apply(raw, items, newMatcher(current, counts), limit)

		r.logger.Debug("relaxed retrieval filter",
			"stage", string(stage),
			"survivors", len(hits),
			"limit", limit,
		)
		r.metrics.incRelaxation(stage)
		if r.observer != nil {
			r.observer(ctx, stage, len(hits))
		}
	}

	r.metrics.observeResults(len(hits))
	r.metrics.incRetrieval(outcomeSuccess)
	return hits, nil
}

// apply keeps hits whose item matches, preserving order, up to limit.
func apply(raw []Hit, items map[string]*content.Item, m *matcher, limit int) []Hit {
	out := make([]Hit, 0, min(limit, len(raw)))
	for _, h := range raw {
		item, ok := items[h.ContentID]
		if !ok || !m.match(item) {
			continue
		}
		out = append(out, h)
		if len(out) == limit {
			break
		}
	}
	return out
}
