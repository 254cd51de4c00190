// Package llm wraps the OpenAI-compatible API used for text embeddings,
// reply prose, intent fallback and translation.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/onnwee/tripfeed/internal/resilience"
)

// Defaults for Config.
const (
	DefaultChatModel      = openai.GPT4oMini
	DefaultEmbeddingModel = string(openai.SmallEmbedding3)
	DefaultTimeout        = 15 * time.Second
	DefaultEmbedTimeout   = 5 * time.Second
)

// ErrEmptyResponse is returned when the API answers without content.
var ErrEmptyResponse = errors.New("empty response from model")

// Config configures a Client.
type Config struct {
	APIKey string
	// BaseURL overrides the API endpoint for compatible gateways.
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
	// Dimensions requests shortened embeddings when non-zero.
	Dimensions int
	// Timeout bounds one completion, EmbeddingTimeout one embedding call.
	Timeout          time.Duration
	EmbeddingTimeout time.Duration
	// RatePerSecond throttles outbound calls. Zero disables throttling.
	RatePerSecond float64
	Burst         int
}

// Client issues chat completions and embeddings behind circuit breakers.
type Client struct {
	api        *openai.Client
	chatModel  string
	embedModel string
	dims       int
	timeout    time.Duration
	embedWait  time.Duration
	limiter    *rate.Limiter
	chat       *resilience.Breaker[string]
	embed      *resilience.Breaker[[]float32]
	logger     *slog.Logger
}

// New creates a Client. logger and breakerMetrics may be nil.
func New(cfg Config, logger *slog.Logger, breakerMetrics *resilience.Metrics) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.EmbeddingTimeout <= 0 {
		cfg.EmbeddingTimeout = DefaultEmbedTimeout
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	apiCfg.HTTPClient = &http.Client{
		Timeout:   max(cfg.Timeout, cfg.EmbeddingTimeout),
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), max(cfg.Burst, 1))
	}

	return &Client{
		api:        openai.NewClientWithConfig(apiCfg),
		chatModel:  cfg.ChatModel,
		embedModel: cfg.EmbeddingModel,
		dims:       cfg.Dimensions,
		timeout:    cfg.Timeout,
		embedWait:  cfg.EmbeddingTimeout,
		limiter:    limiter,
		chat:       resilience.NewBreaker[string](resilience.DefaultSettings("llm_chat"), logger, breakerMetrics),
		embed:      resilience.NewBreaker[[]float32](resilience.DefaultSettings("llm_embedding"), logger, breakerMetrics),
		logger:     logger,
	}
}

// CompletionRequest is a single-turn chat completion.
type CompletionRequest struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float32
}

// Complete returns the model's reply to a system and user message pair.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	return c.chat.Execute(func() (string, error) {
		messages := make([]openai.ChatCompletionMessage, 0, 2)
		if req.System != "" {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: req.System,
			})
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: req.User,
		})

		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.chatModel,
			Messages:    messages,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		})
		if err != nil {
			return "", fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", ErrEmptyResponse
		}
		out := strings.TrimSpace(resp.Choices[0].Message.Content)
		if out == "" {
			return "", ErrEmptyResponse
		}
		return out, nil
	})
}

// Embed returns the embedding of text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.embedWait)
	defer cancel()
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.embed.Execute(func() ([]float32, error) {
		resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model:      openai.EmbeddingModel(c.embedModel),
			Input:      []string{text},
			Dimensions: c.dims,
		})
		if err != nil {
			return nil, fmt.Errorf("create embedding: %w", err)
		}
		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			return nil, ErrEmptyResponse
		}
		return resp.Data[0].Embedding, nil
	})
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("llm rate limit: %w", err)
	}
	return nil
}
