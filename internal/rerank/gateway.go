// Package rerank reorders ranked candidates with a cross-encoder relevance
// model, falling back to the incoming order when the model is unavailable.
package rerank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/tripfeed/internal/tracing"
)

// DefaultMaxCandidates caps how many candidates are sent to the scorer.
const DefaultMaxCandidates = 100

// ErrScoreCount is returned by scorers that answer with the wrong number of scores.
var ErrScoreCount = errors.New("scorer returned wrong number of scores")

// Candidate is one item to rerank.
type Candidate struct {
	ID      string
	Summary string
}

// Scorer assigns a relevance score to each document for a query.
// The returned slice is parallel to documents.
type Scorer interface {
	Score(ctx context.Context, query string, documents []string) ([]float64, error)
}

// Result is the outcome of a rerank.
type Result struct {
	IDs []string
	// Degraded is set when the scorer failed and the incoming order was kept.
	Degraded bool
}

// Config configures a Gateway.
type Config struct {
	Scorer        Scorer
	MaxCandidates int
	// Timeout bounds each scorer call. Zero relies on the caller's context.
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *Metrics
}

// Gateway reranks candidates through a Scorer.
type Gateway struct {
	scorer  Scorer
	max     int
	timeout time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

// NewGateway creates a Gateway.
func NewGateway(cfg Config) *Gateway {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultMaxCandidates
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gateway{
		scorer:  cfg.Scorer,
		max:     cfg.MaxCandidates,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Rerank orders candidates by scorer relevance and returns the top N IDs.
// Candidates must arrive in their ranked order; that order breaks ties.
// Candidates without a summary are dropped on every path. When the scorer
// fails or either deadline expires, the remaining candidates keep their
// incoming order and the result is marked Degraded.
func (g *Gateway) Rerank(ctx context.Context, query string, candidates []Candidate, topN int) Result {
	if topN <= 0 || len(candidates) == 0 {
		return Result{}
	}
	if len(candidates) > g.max {
		candidates = candidates[:g.max]
	}

	usable := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Summary != "" {
			usable = append(usable, c)
		}
	}
	if len(usable) == 0 {
		g.metrics.incRerank(outcomeEmpty)
		return Result{}
	}

	ctx, endSpan := tracing.StartSpan(ctx, "rerank.score")
	scoreCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		scoreCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	docs := make([]string, len(usable))
	for i, c := range usable {
		docs[i] = c.Summary
	}

	start := time.Now()
	scores, err := g.score(scoreCtx, query, docs)
	g.metrics.observeDuration(time.Since(start).Seconds())
	if err != nil {
		tracing.AddEvent(ctx, "rerank.fallback", attribute.Int("rerank.candidates", len(usable)))
	}
	endSpan(err)

	if err != nil {
		g.logger.WarnContext(ctx, "rerank unavailable, keeping ranked order",
			"error", err,
			"caller_expired", ctx.Err() != nil,
			"candidates", len(usable))
		g.metrics.incRerank(outcomeDegraded)
		return Result{IDs: ids(usable, topN), Degraded: true}
	}

	order := make([]int, len(usable))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		sa, sb := scores[order[a]], scores[order[b]]
		if math.IsNaN(sb) {
			return !math.IsNaN(sa)
		}
		if math.IsNaN(sa) {
			return false
		}
		return sa > sb
	})

	out := make([]Candidate, len(order))
	for i, idx := range order {
		out[i] = usable[idx]
	}
	g.metrics.incRerank(outcomeSuccess)
	return Result{IDs: ids(out, topN)}
}

func (g *Gateway) score(ctx context.Context, query string, docs []string) ([]float64, error) {
	if g.scorer == nil {
		return nil, errors.New("no scorer configured")
	}
	scores, err := g.scorer.Score(ctx, query, docs)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(scores) != len(docs) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrScoreCount, len(scores), len(docs))
	}
	return scores, nil
}

func ids(cs []Candidate, n int) []string {
	n = min(n, len(cs))
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = cs[i].ID
	}
	return out
}
