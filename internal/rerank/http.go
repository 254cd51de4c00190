package rerank

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/onnwee/tripfeed/internal/resilience"
)

// HTTPScorerConfig configures an HTTPScorer.
type HTTPScorerConfig struct {
	// BaseURL of the cross-encoder service, e.g. http://reranker:8080.
	BaseURL string
	Timeout time.Duration
	// RatePerSecond throttles outbound calls. Zero disables throttling.
	RatePerSecond float64
	Burst         int
	Logger        *slog.Logger
	Breaker       *resilience.Metrics
	Client        *http.Client
}

// HTTPScorer calls a cross-encoder over HTTP: POST /rerank {query, documents} -> {scores}.
type HTTPScorer struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker[[]float64]
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

// NewHTTPScorer creates an HTTPScorer.
func NewHTTPScorer(cfg HTTPScorerConfig) *HTTPScorer {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &HTTPScorer{
		url:     strings.TrimRight(cfg.BaseURL, "/") + "/rerank",
		client:  client,
		limiter: limiter,
		breaker: resilience.NewBreaker[[]float64](resilience.DefaultSettings("rerank"), cfg.Logger, cfg.Breaker),
	}
}

// Score implements Scorer.
func (s *HTTPScorer) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rerank rate limit: %w", err)
		}
	}
	return s.breaker.Execute(func() ([]float64, error) {
		return s.post(ctx, query, documents)
	})
}

func (s *HTTPScorer) post(ctx context.Context, query string, documents []string) ([]float64, error) {
	body, err := json.Marshal(rerankRequest{Query: query, Documents: documents})
	if err != nil {
		return nil, fmt.Errorf("encode rerank request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out rerankResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	return out.Scores, nil
}
