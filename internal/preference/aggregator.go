package preference

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/onnwee/tripfeed/internal/content"
	"github.com/onnwee/tripfeed/internal/feature"
	"github.com/onnwee/tripfeed/internal/interaction"
	"github.com/onnwee/tripfeed/internal/tracing"
	"github.com/onnwee/tripfeed/internal/vector"
)

// AggregatorConfig wires an Aggregator.
type AggregatorConfig struct {
	Events   interaction.Store
	Contents content.Repository
	Features feature.Store
	Profiles Store
	Locker   Locker
	Logger   *slog.Logger
	Metrics  *Metrics
	Now      func() time.Time
}

// Aggregator recomputes user and global preference profiles.
type Aggregator struct {
	events   interaction.Store
	contents content.Repository
	features feature.Store
	profiles Store
	locker   Locker
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time

	group   singleflight.Group
	pending *DirtyTracker
	locks   keyedMutex
}

// NewAggregator creates an Aggregator. A nil Locker uses an InMemoryLocker.
func NewAggregator(cfg AggregatorConfig) *Aggregator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Locker == nil {
		cfg.Locker = NewInMemoryLocker()
	}
	return &Aggregator{
		events:   cfg.Events,
		contents: cfg.Contents,
		features: cfg.Features,
		profiles: cfg.Profiles,
		locker:   cfg.Locker,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
		pending:  NewDirtyTracker(),
	}
}

// EventInput is one event joined with the data needed to aggregate it.
type EventInput struct {
	Event    interaction.Event
	Bucket   Bucket
	Features []float32
}

// ComputeUserVectors folds events into normalized experience and food
// vectors as of now. Inputs with unusable features are skipped.
func ComputeUserVectors(inputs []EventInput, now time.Time) (experience, food []float32) {
	acc := map[Bucket][]float32{
		BucketExperience: vector.Zero(),
		BucketFood:       vector.Zero(),
	}
	for _, in := range inputs {
		if !vector.Usable(in.Features) {
			continue
		}
		w := EventWeight(in.Event, now)
		if w == 0 {
			continue
		}
		bucket := in.Bucket
		if bucket != BucketFood {
			bucket = BucketExperience
		}
		dst := acc[bucket]

		catScale := CategorySegmentScale
		if in.Event.Action == interaction.ActionDislike {
			catScale = -CategorySegmentScale * DislikeImpact[bucket]
		}
		for i := vector.TextRange.Start; i < vector.TextRange.End; i++ {
			dst[i] += float32(float64(in.Features[i]) * TextSegmentScale * w)
		}
		for i := vector.CategoryRange.Start; i < vector.CategoryRange.End; i++ {
			dst[i] += float32(float64(in.Features[i]) * catScale * w)
		}
	}
	return vector.Normalize(acc[BucketExperience]), vector.Normalize(acc[BucketFood])
}

// EventWeight returns the decayed weight of a single event at now.
// Events dated in the future are treated as happening now.
func EventWeight(e interaction.Event, now time.Time) float64 {
	base, ok := ActionWeights[e.Action]
	if !ok {
		return 0
	}
	ageDays := now.Sub(e.CreatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	w := base * math.Exp(-UserDecayRate*ageDays)
	if e.Action == interaction.ActionDuration && e.DurationSeconds > 0 {
		w *= math.Log1p(e.DurationSeconds / 60)
	}
	return w
}

// UpdateUserProfile recomputes the user's profile from all of their events.
// Concurrent calls for one user share a single recompute; a call arriving
// while a recompute is in flight causes exactly one follow-up recompute.
func (a *Aggregator) UpdateUserProfile(ctx context.Context, userID string) (*UserProfile, error) {
	a.pending.MarkDirty(userID)
	for {
		v, err, shared := a.group.Do(userID, func() (any, error) {
			var p *UserProfile
			for a.pending.IsDirty(userID) {
				a.pending.ClearDirty(userID)
				var err error
				if p, err = a.recomputeUser(ctx, userID); err != nil {
					return nil, err
				}
			}
			return p, nil
		})
		if err != nil {
			return nil, err
		}
		if shared {
			a.metrics.incCoalesced()
		}
		if a.pending.IsDirty(userID) {
			continue
		}
		if p, _ := v.(*UserProfile); p != nil {
			return p, nil
		}
		// Another caller's run already covered this request.
		return a.profiles.GetUser(ctx, userID)
	}
}

func (a *Aggregator) recomputeUser(ctx context.Context, userID string) (p *UserProfile, err error) {
	unlock := a.locks.Lock(userID)
	defer unlock()

	ctx, endSpan := tracing.StartSpan(ctx, "preference.update_user")
	defer func() { endSpan(err) }()
	start := time.Now()

	events, err := a.events.ListByUser(ctx, userID)
	if err != nil {
		a.metrics.incUpdate(statusFailure)
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	ids := uniqueContentIDs(events)
	vecs, err := a.features.GetMany(ctx, ids)
	if err != nil {
		a.metrics.incUpdate(statusFailure)
		return nil, fmt.Errorf("failed to load feature vectors: %w", err)
	}
	items, err := a.contents.GetMany(ctx, ids)
	if err != nil {
		a.metrics.incUpdate(statusFailure)
		return nil, fmt.Errorf("failed to load contents: %w", err)
	}

	inputs := make([]EventInput, 0, len(events))
	skipped := 0
	for _, e := range events {
		cv, ok := vecs[e.ContentID]
		if !ok {
			skipped++
			continue
		}
		var cat1 string
		if item, ok := items[e.ContentID]; ok {
			cat1 = item.Category1
		}
		inputs = append(inputs, EventInput{Event: e, Bucket: BucketFor(cat1), Features: cv.Vector})
	}
	if skipped > 0 {
		a.metrics.addSkipped(skipped)
		a.logger.WarnContext(ctx, "skipped events without usable features",
			"user_id", userID,
			"skipped", skipped,
			"total", len(events))
	}

	now := a.now().UTC()
	exp, food := ComputeUserVectors(inputs, now)
	p = &UserProfile{UserID: userID, Experience: exp, Food: food, UpdatedAt: now}
	if err := a.profiles.SaveUser(ctx, p); err != nil {
		a.metrics.incUpdate(statusFailure)
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}

	a.metrics.incUpdate(statusSuccess)
	a.metrics.observeUpdateDuration(time.Since(start).Seconds())
	a.logger.DebugContext(ctx, "user profile updated",
		"user_id", userID,
		"events", len(events),
		"used", len(inputs))
	return p, nil
}

// RecomputeAll recomputes every user that has events and returns how many
// profiles were updated. Individual failures are logged and counted.
func (a *Aggregator) RecomputeAll(ctx context.Context) (updated, failed int, err error) {
	users, err := a.events.UsersWithEvents(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list users: %w", err)
	}
	for _, id := range users {
		if err := ctx.Err(); err != nil {
			return updated, failed, err
		}
		if _, err := a.UpdateUserProfile(ctx, id); err != nil {
			failed++
			a.logger.ErrorContext(ctx, "failed to recompute profile", "user_id", id, "error", err)
			continue
		}
		updated++
	}
	a.logger.InfoContext(ctx, "recomputed all profiles", "updated", updated, "failed", failed)
	return updated, failed, nil
}

// InteractionCount returns the number of stored events for the user.
func (a *Aggregator) InteractionCount(ctx context.Context, userID string) (int, error) {
	return a.events.CountByUser(ctx, userID)
}

func uniqueContentIDs(events []interaction.Event) []string {
	seen := make(map[string]bool, len(events))
	ids := make([]string, 0, len(events))
	for _, e := range events {
		if !seen[e.ContentID] {
			seen[e.ContentID] = true
			ids = append(ids, e.ContentID)
		}
	}
	return ids
}

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// Lock locks key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedEntry)
	}
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
