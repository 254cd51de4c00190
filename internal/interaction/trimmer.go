package interaction

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/tripfeed/internal/jobs"
)

// DefaultTrimInterval is how often the periodic trimmer runs.
const DefaultTrimInterval = time.Hour

// JobMetrics receives background job outcomes.
type JobMetrics interface {
	Finish(jobType string, elapsed time.Duration, failure string)
}

const trimJobType = jobs.JobTypeInteractionTrim

// Trimmer enforces the per-user event cap.
type Trimmer struct {
	store      Store
	keep       int
	logger     *slog.Logger
	metrics    *Metrics
	jobMetrics JobMetrics
}

// NewTrimmer creates a Trimmer keeping the newest keep events per user.
// keep <= 0 uses UserEventLimit.
func NewTrimmer(store Store, keep int, logger *slog.Logger, metrics *Metrics, jobMetrics JobMetrics) *Trimmer {
	if keep <= 0 {
		keep = UserEventLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Trimmer{store: store, keep: keep, logger: logger, metrics: metrics, jobMetrics: jobMetrics}
}

// TrimOnce removes events beyond the cap and returns how many were removed.
func (t *Trimmer) TrimOnce(ctx context.Context) (int64, error) {
	start := time.Now()
	removed, err := t.store.TrimAll(ctx, t.keep)
	if err != nil {
		t.logger.ErrorContext(ctx, "failed to trim interactions", "error", err)
		t.finish(start, jobs.FailureFor(err, jobs.FailureStore))
		return 0, err
	}

	t.metrics.addTrimmed(removed)
	t.finish(start, "")
	if removed > 0 {
		t.logger.InfoContext(ctx, "trimmed interactions", "removed", removed, "keep_per_user", t.keep)
	}
	return removed, nil
}

func (t *Trimmer) finish(start time.Time, failure string) {
	if t.jobMetrics != nil {
		t.jobMetrics.Finish(trimJobType, time.Since(start), failure)
	}
}

// Run trims immediately and then every interval until ctx is done.
// It blocks and should be run in a goroutine.
func (t *Trimmer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTrimInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, err := t.TrimOnce(ctx); err != nil {
		t.logger.Error("initial interaction trim failed", "error", err)
	}

	for {
		select {
		case <-ticker.C:
			if _, err := t.TrimOnce(ctx); err != nil {
				t.logger.Error("periodic interaction trim failed", "error", err)
			}
		case <-ctx.Done():
			t.logger.Info("stopping interaction trimmer")
			return
		}
	}
}
