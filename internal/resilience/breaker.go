// Package resilience wraps calls to external model services with circuit
// breakers so a slow or failing dependency degrades instead of cascading.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// Settings configures a Breaker.
type Settings struct {
	Name string
	// MaxHalfOpen is the number of trial requests allowed while half-open.
	MaxHalfOpen uint32
	// Interval resets the failure counts while closed.
	Interval time.Duration
	// Timeout is how long the breaker stays open before a trial request.
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

// DefaultSettings returns the settings used for model-serving clients:
// open after 60% failures over at least 10 requests, retry after 30s.
func DefaultSettings(name string) Settings {
	return Settings{
		Name:         name,
		MaxHalfOpen:  3,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		MinRequests:  10,
		FailureRatio: 0.6,
	}
}

// Breaker is a typed circuit breaker with logging and metrics.
type Breaker[T any] struct {
	cb      *gobreaker.CircuitBreaker[T]
	name    string
	logger  *slog.Logger
	metrics *Metrics
}

// NewBreaker creates a Breaker. logger and metrics may be nil.
func NewBreaker[T any](s Settings, logger *slog.Logger, metrics *Metrics) *Breaker[T] {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Breaker[T]{name: s.Name, logger: logger, metrics: metrics}

	metrics.setState(s.Name, gobreaker.StateClosed)

	b.cb = gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxHalfOpen,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			trip := ratio >= s.FailureRatio
			if trip {
				logger.Warn("opening circuit breaker",
					"breaker", s.Name,
					"failures", counts.TotalFailures,
					"requests", counts.Requests)
			}
			return trip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
			metrics.setState(name, to)
			metrics.incTransition(name, from, to)
		},
		// Cancellation by the caller is not a dependency failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return b
}

// Execute runs fn through the breaker.
func (b *Breaker[T]) Execute(fn func() (T, error)) (T, error) {
	res, err := b.cb.Execute(fn)
	switch {
	case err == nil:
		b.metrics.incRequest(b.name, resultSuccess)
	case IsRejected(err):
		b.metrics.incRequest(b.name, resultRejected)
		b.logger.Debug("circuit breaker rejected request", "breaker", b.name, "error", err)
	default:
		b.metrics.incRequest(b.name, resultFailure)
	}
	return res, err
}

// State returns the current breaker state.
func (b *Breaker[T]) State() gobreaker.State {
	return b.cb.State()
}

// Name returns the breaker's name.
func (b *Breaker[T]) Name() string {
	return b.name
}

// IsRejected reports whether err came from an open or saturated breaker
// rather than from the wrapped call.
func IsRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
