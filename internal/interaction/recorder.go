package interaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Listener is notified after an event has been stored.
type Listener interface {
	OnInteraction(ctx context.Context, e Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, e Event) error

// OnInteraction calls f.
func (f ListenerFunc) OnInteraction(ctx context.Context, e Event) error { return f(ctx, e) }

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	Store   Store
	Deduper Deduper
	Logger  *slog.Logger
	Metrics *Metrics
	// DedupWindow defaults to ClickDedupWindow.
	DedupWindow time.Duration
	Now         func() time.Time
}

// Recorder validates, deduplicates and stores interaction events, then fans
// them out to listeners such as the profile updater and the feed cache.
type Recorder struct {
	store     Store
	deduper   Deduper
	logger    *slog.Logger
	metrics   *Metrics
	window    time.Duration
	now       func() time.Time
	listeners []Listener
}

// NewRecorder creates a Recorder. Deduper may be nil to disable click dedup.
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = ClickDedupWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Recorder{
		store:   cfg.Store,
		deduper: cfg.Deduper,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		window:  cfg.DedupWindow,
		now:     cfg.Now,
	}
}

// AddListener registers l. Not safe to call concurrently with Record.
func (r *Recorder) AddListener(l Listener) {
	r.listeners = append(r.listeners, l)
}

// Record stores e and notifies listeners. Missing IDs and timestamps are
// filled in. A repeated click inside the dedup window returns ErrDuplicate.
// Listener failures are logged and never fail the call.
func (r *Recorder) Record(ctx context.Context, e Event) (Event, error) {
	if err := e.Validate(); err != nil {
		r.metrics.incEvent(e.Action, OutcomeInvalid)
		return Event{}, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}

	if e.Action == ActionClick && r.deduper != nil {
		first, err := r.deduper.First(ctx, ClickKey(e.UserID, e.ContentID), r.window)
		if err != nil {
			// Fail open.
			r.logger.WarnContext(ctx, "click dedup unavailable", "error", err)
		} else if !first {
			r.metrics.incEvent(e.Action, OutcomeDuplicate)
			return e, ErrDuplicate
		}
	}

	if err := r.store.Append(ctx, e); err != nil {
		r.metrics.incEvent(e.Action, OutcomeError)
		return Event{}, fmt.Errorf("failed to record interaction: %w", err)
	}
	r.metrics.incEvent(e.Action, OutcomeRecorded)

	r.logger.DebugContext(ctx, "interaction recorded",
		"user_id", e.UserID,
		"content_id", e.ContentID,
		"action", string(e.Action))

	for _, l := range r.listeners {
		if err := l.OnInteraction(ctx, e); err != nil {
			r.metrics.incListenerError()
			r.logger.ErrorContext(ctx, "interaction listener failed",
				"user_id", e.UserID,
				"error", err)
		}
	}
	return e, nil
}

// IsDuplicate reports whether err marks a deduplicated event.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}
