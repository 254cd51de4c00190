package preference

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/onnwee/tripfeed/internal/tracing"
	"github.com/onnwee/tripfeed/internal/vector"
)

// GlobalLockKey is the lease key guarding global recomputes.
const GlobalLockKey = "lock:global_preference"

// GlobalLockTTL bounds how long a crashed holder can block other recomputes.
const GlobalLockTTL = 700 * time.Second

// ErrLockHeld is returned when another worker holds the global lease.
var ErrLockHeld = errors.New("global preference lock held by another worker")

// globalAccumulator sums decay-weighted profile vectors per bucket.
type globalAccumulator struct {
	now    time.Time
	sums   map[Bucket][]float64
	weight map[Bucket]float64
	users  int
}

func newGlobalAccumulator(now time.Time) *globalAccumulator {
	return &globalAccumulator{
		now: now,
		sums: map[Bucket][]float64{
			BucketExperience: make([]float64, vector.Dim),
			BucketFood:       make([]float64, vector.Dim),
		},
		weight: map[Bucket]float64{},
	}
}

// ProfileDecay returns exp(-0.01 * whole days since updatedAt).
func ProfileDecay(updatedAt, now time.Time) float64 {
	days := math.Floor(now.Sub(updatedAt).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return math.Exp(-GlobalDecayRate * days)
}

func (g *globalAccumulator) add(p *UserProfile) {
	g.users++
	w := ProfileDecay(p.UpdatedAt, g.now)
	for _, b := range []Bucket{BucketExperience, BucketFood} {
		v := p.Vector(b)
		if len(v) != vector.Dim || vector.IsZero(v) {
			continue
		}
		sum := g.sums[b]
		for i, x := range v {
			sum[i] += float64(x) * w
		}
		g.weight[b] += w
	}
}

func (g *globalAccumulator) result(b Bucket) []float32 {
	out := vector.Zero()
	total := g.weight[b]
	if total < 1e-9 {
		return out
	}
	for i, x := range g.sums[b] {
		out[i] = float32(x / total)
	}
	return vector.Normalize(out)
}

// UpdateGlobalProfile recomputes the global profile under the global lease.
// With fewer than MinUsers profiles it returns ErrInsufficientData unless
// force is set. ErrLockHeld means another worker is already recomputing.
func (a *Aggregator) UpdateGlobalProfile(ctx context.Context, force bool) (g *GlobalProfile, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "preference.update_global")
	defer func() {
		if errors.Is(err, ErrInsufficientData) || errors.Is(err, ErrLockHeld) {
			endSpan(nil)
			return
		}
		endSpan(err)
	}()

	release, ok, err := a.locker.Acquire(ctx, GlobalLockKey, GlobalLockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire global lock: %w", err)
	}
	if !ok {
		a.logger.InfoContext(ctx, "global preference recompute skipped, lock held")
		return nil, ErrLockHeld
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			a.logger.WarnContext(ctx, "failed to release global lock", "error", rerr)
		}
	}()

	now := a.now().UTC()
	acc := newGlobalAccumulator(now)
	if err := a.profiles.EachUser(ctx, func(p *UserProfile) error {
		acc.add(p)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", err)
	}

	if acc.users < MinUsers && !force {
		a.logger.InfoContext(ctx, "not enough profiles for global aggregation",
			"users", acc.users,
			"min_users", MinUsers)
		return nil, ErrInsufficientData
	}

	g = &GlobalProfile{
		Experience: acc.result(BucketExperience),
		Food:       acc.result(BucketFood),
		UpdatedAt:  now,
		UserCount:  acc.users,
	}
	if err := a.profiles.SaveGlobal(ctx, g); err != nil {
		return nil, fmt.Errorf("failed to save global profile: %w", err)
	}
	a.metrics.setGlobalUsers(acc.users)
	a.logger.InfoContext(ctx, "global preference profile updated", "users", acc.users, "forced", force)
	return g, nil
}

// GlobalProfile returns the current global profile.
func (a *Aggregator) GlobalProfile(ctx context.Context) (*GlobalProfile, error) {
	return a.profiles.GetGlobal(ctx)
}

// UserProfile returns the stored profile for userID, or an all-zero profile
// when the user has none yet.
func (a *Aggregator) UserProfile(ctx context.Context, userID string) (*UserProfile, error) {
	p, err := a.profiles.GetUser(ctx, userID)
	if errors.Is(err, ErrProfileNotFound) {
		return &UserProfile{UserID: userID, Experience: vector.Zero(), Food: vector.Zero()}, nil
	}
	return p, err
}
