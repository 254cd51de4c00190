package preference

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/tripfeed/internal/interaction"
	"github.com/onnwee/tripfeed/internal/jobs"
)

// JobMetrics provides centralized background job metrics tracking.
type JobMetrics interface {
	Finish(jobType string, elapsed time.Duration, failure string)
}

// Updater defaults.
const (
	DefaultUpdaterInterval    = 2 * time.Second
	DefaultUpdaterConcurrency = 4
	DefaultUpdaterRetries     = 3
	DefaultUpdaterBackoff     = 200 * time.Millisecond
)

const profileUpdateJobType = jobs.JobTypeProfileUpdate

// UpdaterConfig configures an Updater.
type UpdaterConfig struct {
	Interval    time.Duration
	Concurrency int
	MaxRetries  int
	Backoff     time.Duration
	Logger      *slog.Logger
	Metrics     *Metrics
	JobMetrics  JobMetrics
}

// profileUpdater is the part of Aggregator the Updater drives.
type profileUpdater interface {
	UpdateUserProfile(ctx context.Context, userID string) (*UserProfile, error)
}

// Updater recomputes user profiles asynchronously after interactions.
type Updater struct {
	config  UpdaterConfig
	target  profileUpdater
	dirty   *DirtyTracker
	wake    chan struct{}
	sleepFn func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewUpdater creates an Updater driving agg.
func NewUpdater(config UpdaterConfig, agg *Aggregator) *Updater {
	return newUpdater(config, agg)
}

func newUpdater(config UpdaterConfig, target profileUpdater) *Updater {
	if config.Interval <= 0 {
		config.Interval = DefaultUpdaterInterval
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultUpdaterConcurrency
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultUpdaterRetries
	}
	if config.Backoff <= 0 {
		config.Backoff = DefaultUpdaterBackoff
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Updater{
		config:  config,
		target:  target,
		dirty:   NewDirtyTracker(),
		wake:    make(chan struct{}, 1),
		sleepFn: sleepCtx,
	}
}

// Enqueue marks userID for an asynchronous recompute.
func (u *Updater) Enqueue(userID string) {
	u.dirty.MarkDirty(userID)
	u.config.Metrics.setPending(u.dirty.DirtyCount())
	select {
	case u.wake <- struct{}{}:
	default:
	}
}

// OnInteraction implements interaction.Listener.
func (u *Updater) OnInteraction(ctx context.Context, e interaction.Event) error {
	u.Enqueue(e.UserID)
	return nil
}

// Pending returns the number of users waiting for a recompute.
func (u *Updater) Pending() int {
	return u.dirty.DirtyCount()
}

// Start begins processing in a background goroutine.
func (u *Updater) Start(ctx context.Context) error {
	u.mu.Lock()
	if u.running {
		u.mu.Unlock()
		return nil
	}
	u.running = true
	u.stopCh = make(chan struct{})
	u.doneCh = make(chan struct{})
	u.mu.Unlock()

	go u.run(ctx)
	return nil
}

// Stop signals the updater to stop and waits for the current batch.
func (u *Updater) Stop() {
	u.mu.Lock()
	if !u.running {
		u.mu.Unlock()
		return
	}
	stopCh, doneCh := u.stopCh, u.doneCh
	u.mu.Unlock()

	close(stopCh)
	<-doneCh

	u.mu.Lock()
	u.running = false
	u.mu.Unlock()
}

// IsRunning returns whether the updater is running.
func (u *Updater) IsRunning() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.running
}

func (u *Updater) run(ctx context.Context) {
	defer close(u.doneCh)

	ticker := time.NewTicker(u.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			u.config.Logger.Info("profile updater stopping due to context cancellation")
			return
		case <-u.stopCh:
			u.config.Logger.Info("profile updater stopping due to stop signal")
			return
		case <-u.wake:
			u.ProcessPending(ctx)
		case <-ticker.C:
			u.ProcessPending(ctx)
		}
	}
}

// ProcessPending recomputes every dirty user once and returns how many
// succeeded. Users that exhaust their retries stay dirty for the next cycle.
func (u *Updater) ProcessPending(ctx context.Context) int {
	users := u.dirty.GetDirtyUsers()
	if len(users) == 0 {
		return 0
	}
	start := time.Now()

	var (
		mu        sync.Mutex
		succeeded int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.config.Concurrency)
	for _, id := range users {
		u.dirty.ClearDirty(id)
		g.Go(func() error {
			if err := u.updateWithRetry(gctx, id); err != nil {
				u.dirty.MarkDirty(id)
				return nil
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	u.config.Metrics.setPending(u.dirty.DirtyCount())
	// A batch fails when any user is left dirty.
	failure := ""
	if succeeded < len(users) {
		failure = jobs.FailureRetriesExhausted
	}
	if u.config.JobMetrics != nil {
		u.config.JobMetrics.Finish(profileUpdateJobType, time.Since(start), failure)
	}
	u.config.Logger.Debug("profile update batch completed",
		"users", len(users),
		"succeeded", succeeded)
	return succeeded
}

func (u *Updater) updateWithRetry(ctx context.Context, userID string) error {
	var err error
	backoff := u.config.Backoff
	for attempt := 0; attempt <= u.config.MaxRetries; attempt++ {
		if attempt > 0 {
			u.config.Metrics.incRetry()
			if serr := u.sleepFn(ctx, backoff); serr != nil {
				return serr
			}
			backoff *= 2
		}
		if _, err = u.target.UpdateUserProfile(ctx, userID); err == nil {
			return nil
		}
		u.config.Logger.Warn("profile update attempt failed",
			"user_id", userID,
			"attempt", attempt+1,
			"error", err)
	}
	u.config.Logger.Error("profile update failed after retries",
		"user_id", userID,
		"retries", u.config.MaxRetries,
		"error", err)
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
