package preference

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/tripfeed/internal/content"
	"github.com/onnwee/tripfeed/internal/jobs"
)

// GlobalJobConfig configures the global profile job.
type GlobalJobConfig struct {
	// Interval is the duration between recompute cycles.
	Interval time.Duration
	// Logger for job activity.
	Logger *slog.Logger
	// JobMetrics for centralized background job tracking.
	JobMetrics JobMetrics
	// Timeout for each recompute cycle.
	Timeout time.Duration
	// Seasons, when set, fills missing season scores after each global
	// profile recompute.
	Seasons SeasonRecomputer
}

// SeasonRecomputer scores content summaries against each season.
type SeasonRecomputer interface {
	Recompute(ctx context.Context, force bool) (content.SeasonResult, error)
}

// DefaultGlobalInterval is the default interval between global recomputes.
const DefaultGlobalInterval = 24 * time.Hour

// DefaultGlobalTimeout is the default timeout for a single global recompute.
const DefaultGlobalTimeout = 10 * time.Minute

const (
	globalJobType = jobs.JobTypeGlobalProfile
	seasonJobType = jobs.JobTypeSeasonSim
)

// globalUpdater is the part of Aggregator the GlobalJob drives.
type globalUpdater interface {
	UpdateGlobalProfile(ctx context.Context, force bool) (*GlobalProfile, error)
}

// GlobalJob periodically recomputes the global preference profile.
type GlobalJob struct {
	config GlobalJobConfig
	target globalUpdater

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewGlobalJob creates a GlobalJob for agg.
func NewGlobalJob(config GlobalJobConfig, agg *Aggregator) *GlobalJob {
	return newGlobalJob(config, agg)
}

func newGlobalJob(config GlobalJobConfig, target globalUpdater) *GlobalJob {
	if config.Interval == 0 {
		config.Interval = DefaultGlobalInterval
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultGlobalTimeout
	}
	return &GlobalJob{config: config, target: target}
}

// Start begins the periodic job.
// Returns immediately; the job runs in a background goroutine.
func (j *GlobalJob) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.mu.Unlock()

	go j.run(ctx)
	return nil
}

// Stop signals the job to stop and waits for it to finish.
func (j *GlobalJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	stopCh := j.stopCh
	doneCh := j.doneCh
	j.mu.Unlock()

	close(stopCh)
	<-doneCh

	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

// IsRunning returns whether the job is currently running.
func (j *GlobalJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *GlobalJob) run(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("global profile job stopping due to context cancellation")
			return
		case <-j.stopCh:
			j.config.Logger.Info("global profile job stopping due to stop signal")
			return
		case <-ticker.C:
			j.recompute(ctx)
		}
	}
}

func (j *GlobalJob) recompute(parentCtx context.Context) {
	ctx, cancel := context.WithTimeout(parentCtx, j.config.Timeout)
	defer cancel()

	start := time.Now()
	_, err := j.target.UpdateGlobalProfile(ctx, false)

	failure := ""
	switch {
	case err == nil:
	case errors.Is(err, ErrInsufficientData), errors.Is(err, ErrLockHeld):
		j.config.Logger.Info("global profile recompute skipped", "reason", err)
	case errors.Is(err, context.DeadlineExceeded):
		failure = jobs.FailureTimeout
		j.config.Logger.Error("global profile recompute timeout exceeded", "timeout", j.config.Timeout)
	default:
		failure = jobs.FailureRecompute
		j.config.Logger.Error("global profile recompute failed", "error", err)
	}
	j.finish(globalJobType, start, failure)

	if j.config.Seasons != nil {
		j.recomputeSeasons(ctx)
	}
}

func (j *GlobalJob) recomputeSeasons(ctx context.Context) {
	start := time.Now()
	res, err := j.config.Seasons.Recompute(ctx, false)
	failure := ""
	if err != nil {
		failure = jobs.FailureFor(err, jobs.FailureRecompute)
		j.config.Logger.Error("season score recompute failed", "error", err, "scored", res.Scored)
	}
	j.finish(seasonJobType, start, failure)
	j.config.Logger.Info("season score recompute completed",
		"scored", res.Scored,
		"skipped", res.Skipped)
}

// finish records one run and logs its duration.
func (j *GlobalJob) finish(jobType string, start time.Time, failure string) {
	elapsed := time.Since(start)
	if j.config.JobMetrics != nil {
		j.config.JobMetrics.Finish(jobType, elapsed, failure)
	}
	status := jobs.StatusSuccess
	if failure != "" {
		status = jobs.StatusFailure
	}
	j.config.Logger.Info("background job finished",
		"job_type", jobType,
		"duration_seconds", elapsed.Seconds(),
		"status", status)
}

// RecomputeNow immediately runs one cycle without waiting for the ticker.
func (j *GlobalJob) RecomputeNow(ctx context.Context) {
	j.recompute(ctx)
}
