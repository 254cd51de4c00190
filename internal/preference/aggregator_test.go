package preference

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/tripfeed/internal/content"
	"github.com/onnwee/tripfeed/internal/feature"
	"github.com/onnwee/tripfeed/internal/interaction"
	"github.com/onnwee/tripfeed/internal/vector"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// featureVec builds a usable vector with a text value and one hot category index.
func featureVec(text float32, catIndex int) []float32 {
	v := vector.Zero()
	for i := vector.TextRange.Start; i < vector.TextRange.End; i++ {
		v[i] = text
	}
	v[vector.CategoryRange.Start+catIndex] = 1
	return v
}

type fixture struct {
	events   *interaction.InMemoryStore
	contents *content.InMemoryRepository
	features *feature.InMemoryStore
	profiles *InMemoryStore
	agg      *Aggregator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		events:   interaction.NewInMemoryStore(),
		contents: content.NewInMemoryRepository(),
		features: feature.NewInMemoryStore(),
		profiles: NewInMemoryStore(),
	}
	f.agg = NewAggregator(AggregatorConfig{
		Events:   f.events,
		Contents: f.contents,
		Features: f.features,
		Profiles: f.profiles,
		Logger:   testLogger(),
		Metrics:  NewMetrics(),
		Now:      func() time.Time { return testNow },
	})
	return f
}

func (f *fixture) addContent(id, cat1 string, vec []float32) {
	f.contents.Put(&content.Item{ID: id, Category1: cat1})
	if vec != nil {
		f.features.Put(id, vec)
	}
}

func (f *fixture) addEvent(user, contentID string, action interaction.Action, age time.Duration) {
	_ = f.events.Append(context.Background(), interaction.Event{
		ID:        user + contentID + string(action) + age.String(),
		UserID:    user,
		ContentID: contentID,
		Action:    action,
		CreatedAt: testNow.Add(-age),
	})
}

func TestBucketFor(t *testing.T) {
	tests := map[string]Bucket{
		"EX": BucketExperience, "HS": BucketExperience, "LS": BucketExperience,
		"NA": BucketExperience, "SH": BucketExperience, "VE": BucketExperience,
		"FD": BucketFood, "": BucketExperience, "ZZ": BucketExperience,
	}
	for cat, want := range tests {
		if got := BucketFor(cat); got != want {
			t.Errorf("BucketFor(%q) = %s, want %s", cat, got, want)
		}
	}
}

func TestEventWeight(t *testing.T) {
	tests := []struct {
		name  string
		event interaction.Event
		want  float64
	}{
		{"fresh like", interaction.Event{Action: interaction.ActionLike, CreatedAt: testNow}, 0.8},
		{"ten day bookmark", interaction.Event{Action: interaction.ActionBookmark, CreatedAt: testNow.Add(-240 * time.Hour)}, math.Exp(-0.5)},
		{"two minute dwell", interaction.Event{Action: interaction.ActionDuration, DurationSeconds: 120, CreatedAt: testNow}, 0.2 * math.Log1p(2)},
		{"future click", interaction.Event{Action: interaction.ActionClick, CreatedAt: testNow.Add(time.Hour)}, 0.1},
		{"unknown action", interaction.Event{Action: "share", CreatedAt: testNow}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EventWeight(tt.event, testNow); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("EventWeight() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestComputeUserVectors_DislikeNegatesCategoryOnly(t *testing.T) {
	feat := featureVec(0.5, 3)
	exp, _ := ComputeUserVectors([]EventInput{{
		Event:    interaction.Event{Action: interaction.ActionDislike, CreatedAt: testNow},
		Bucket:   BucketExperience,
		Features: feat,
	}}, testNow)

	if exp[0] <= 0 {
		t.Errorf("text segment should keep its sign, got %f", exp[0])
	}
	if exp[vector.CategoryRange.Start+3] >= 0 {
		t.Errorf("category segment should be negated, got %f", exp[vector.CategoryRange.Start+3])
	}
	if math.Abs(vector.Norm(exp)-1) > 1e-5 {
		t.Errorf("result should be unit length, got %f", vector.Norm(exp))
	}
}

func TestComputeUserVectors_FoodDislikeImpact(t *testing.T) {
	feat := featureVec(0.5, 3)
	in := func(b Bucket) []EventInput {
		return []EventInput{{
			Event:    interaction.Event{Action: interaction.ActionDislike, CreatedAt: testNow},
			Bucket:   b,
			Features: feat,
		}}
	}
	exp, _ := ComputeUserVectors(in(BucketExperience), testNow)
	_, food := ComputeUserVectors(in(BucketFood), testNow)

	ratio := func(v []float32) float64 {
		return -float64(v[vector.CategoryRange.Start+3]) / float64(v[0])
	}
	// experience: 1.4*1.0/(0.6*0.5); food: 1.4*0.7/(0.6*0.5)
	if got, want := ratio(exp), 1.4/0.3; math.Abs(got-want) > 1e-3 {
		t.Errorf("experience ratio = %f, want %f", got, want)
	}
	if got, want := ratio(food), 0.98/0.3; math.Abs(got-want) > 1e-3 {
		t.Errorf("food ratio = %f, want %f", got, want)
	}
}

func TestComputeUserVectors_Empty(t *testing.T) {
	exp, food := ComputeUserVectors(nil, testNow)
	if !vector.IsZero(exp) || !vector.IsZero(food) {
		t.Error("no events should give zero vectors")
	}
	exp, _ = ComputeUserVectors([]EventInput{{
		Event:    interaction.Event{Action: interaction.ActionLike, CreatedAt: testNow},
		Features: vector.Zero(),
	}}, testNow)
	if !vector.IsZero(exp) {
		t.Error("unusable features should be skipped")
	}
}

func TestUpdateUserProfile(t *testing.T) {
	f := newFixture(t)
	f.addContent("park", "NA", featureVec(0.1, 0))
	f.addContent("bbq", "FD", featureVec(0.2, 1))
	f.addContent("ghost", "EX", nil)

	f.addEvent("u1", "park", interaction.ActionLike, 0)
	f.addEvent("u1", "bbq", interaction.ActionBookmark, 48*time.Hour)
	f.addEvent("u1", "ghost", interaction.ActionClick, 0)

	p, err := f.agg.UpdateUserProfile(context.Background(), "u1")
	if err != nil {
		t.Fatalf("UpdateUserProfile() error = %v", err)
	}
	if vector.IsZero(p.Experience) || vector.IsZero(p.Food) {
		t.Fatal("both buckets should be populated")
	}
	if p.Experience[vector.CategoryRange.Start+1] != 0 {
		t.Error("food content leaked into the experience bucket")
	}
	if !p.UpdatedAt.Equal(testNow) {
		t.Errorf("UpdatedAt = %v, want %v", p.UpdatedAt, testNow)
	}

	stored, err := f.profiles.GetUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("profile not stored: %v", err)
	}
	if vector.Cosine(stored.Experience, p.Experience) < 0.9999 {
		t.Error("stored profile differs from returned profile")
	}

	again, _ := f.agg.UpdateUserProfile(context.Background(), "u1")
	if vector.Cosine(again.Experience, p.Experience) < 0.9999 {
		t.Error("recompute should be idempotent")
	}
}

func TestUpdateUserProfile_FoodOnlyLeavesExperienceEmpty(t *testing.T) {
	f := newFixture(t)
	for i, id := range []string{"gukbap", "milmyeon", "hoe"} {
		f.addContent(id, content.CategoryFood, featureVec(0.1*float32(i+1), i))
		f.addEvent("u1", id, interaction.ActionLike, time.Duration(i)*time.Hour)
	}

	p, err := f.agg.UpdateUserProfile(context.Background(), "u1")
	if err != nil {
		t.Fatalf("UpdateUserProfile() error = %v", err)
	}
	if !vector.IsZero(p.Experience) {
		t.Errorf("experience norm = %f, want zero", vector.Norm(p.Experience))
	}
	if math.Abs(vector.Norm(p.Food)-1) > 1e-5 {
		t.Errorf("food norm = %f, want unit length", vector.Norm(p.Food))
	}
	for i := 0; i < 3; i++ {
		if p.Food[vector.CategoryRange.Start+i] <= 0 {
			t.Errorf("food category %d = %f, want positive", i, p.Food[vector.CategoryRange.Start+i])
		}
	}
}

type blockingEvents struct {
	interaction.Store
	mu      sync.Mutex
	calls   int
	release chan struct{}
	entered chan struct{}
}

func (b *blockingEvents) ListByUser(ctx context.Context, userID string) ([]interaction.Event, error) {
	b.mu.Lock()
	b.calls++
	first := b.calls == 1
	b.mu.Unlock()
	if first {
		close(b.entered)
		<-b.release
	}
	return b.Store.ListByUser(ctx, userID)
}

func TestUpdateUserProfile_CoalescesConcurrentCalls(t *testing.T) {
	f := newFixture(t)
	f.addContent("park", "NA", featureVec(0.1, 0))
	f.addEvent("u1", "park", interaction.ActionLike, 0)

	events := &blockingEvents{Store: f.events, release: make(chan struct{}), entered: make(chan struct{})}
	f.agg.events = events

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = f.agg.UpdateUserProfile(context.Background(), "u1")
	}()
	<-events.entered

	// These arrive while the first recompute is in flight.
	const late = 5
	wg.Add(late)
	for i := 0; i < late; i++ {
		go func() {
			defer wg.Done()
			if _, err := f.agg.UpdateUserProfile(context.Background(), "u1"); err != nil {
				t.Errorf("UpdateUserProfile() error = %v", err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(events.release)
	wg.Wait()

	events.mu.Lock()
	calls := events.calls
	events.mu.Unlock()
	if calls < 2 {
		t.Errorf("expected a follow-up recompute, got %d calls", calls)
	}
	if calls > 1+late {
		t.Errorf("too many recomputes: %d", calls)
	}
}

func TestUpdateGlobalProfile(t *testing.T) {
	ctx := context.Background()

	t.Run("insufficient users", func(t *testing.T) {
		f := newFixture(t)
		for i := 0; i < MinUsers-1; i++ {
			_ = f.profiles.SaveUser(ctx, &UserProfile{UserID: string(rune('a' + i)), Experience: featureVec(0.1, 0), Food: vector.Zero(), UpdatedAt: testNow})
		}
		if _, err := f.agg.UpdateGlobalProfile(ctx, false); !errors.Is(err, ErrInsufficientData) {
			t.Fatalf("error = %v, want ErrInsufficientData", err)
		}
		g, err := f.agg.UpdateGlobalProfile(ctx, true)
		if err != nil {
			t.Fatalf("forced update error = %v", err)
		}
		if g.UserCount != MinUsers-1 {
			t.Errorf("UserCount = %d", g.UserCount)
		}
	})

	t.Run("decay weighted average", func(t *testing.T) {
		f := newFixture(t)
		for i := 0; i < MinUsers; i++ {
			_ = f.profiles.SaveUser(ctx, &UserProfile{
				UserID:     string(rune('a' + i)),
				Experience: vector.Normalize(featureVec(0, 0)),
				Food:       vector.Zero(),
				UpdatedAt:  testNow,
			})
		}
		// A stale profile pointing elsewhere weighs less.
		_ = f.profiles.SaveUser(ctx, &UserProfile{
			UserID:     "stale",
			Experience: vector.Normalize(featureVec(0, 5)),
			Food:       vector.Zero(),
			UpdatedAt:  testNow.Add(-100 * 24 * time.Hour),
		})

		g, err := f.agg.UpdateGlobalProfile(ctx, false)
		if err != nil {
			t.Fatalf("UpdateGlobalProfile() error = %v", err)
		}
		a := g.Experience[vector.CategoryRange.Start]
		b := g.Experience[vector.CategoryRange.Start+5]
		wantRatio := 10 / math.Exp(-1)
		if got := float64(a / b); math.Abs(got-wantRatio) > 1e-3 {
			t.Errorf("ratio = %f, want %f", got, wantRatio)
		}
		if !vector.IsZero(g.Food) {
			t.Error("food bucket should stay zero when no user has food taste")
		}
		stored, _ := f.profiles.GetGlobal(ctx)
		if stored.UserCount != MinUsers+1 {
			t.Errorf("stored UserCount = %d", stored.UserCount)
		}
	})

	t.Run("lock held", func(t *testing.T) {
		f := newFixture(t)
		release, ok, _ := f.agg.locker.Acquire(ctx, GlobalLockKey, time.Minute)
		if !ok {
			t.Fatal("could not take lock")
		}
		defer release(ctx)
		if _, err := f.agg.UpdateGlobalProfile(ctx, true); !errors.Is(err, ErrLockHeld) {
			t.Errorf("error = %v, want ErrLockHeld", err)
		}
	})
}

func TestProfileDecay(t *testing.T) {
	if got := ProfileDecay(testNow.Add(-36*time.Hour), testNow); math.Abs(got-math.Exp(-0.01)) > 1e-12 {
		t.Errorf("ProfileDecay(1.5 days) = %f, want exp(-0.01)", got)
	}
	if got := ProfileDecay(testNow.Add(time.Hour), testNow); got != 1 {
		t.Errorf("future profile decay = %f, want 1", got)
	}
}

func TestRecomputeAll(t *testing.T) {
	f := newFixture(t)
	f.addContent("park", "NA", featureVec(0.1, 0))
	f.addEvent("u1", "park", interaction.ActionLike, 0)
	f.addEvent("u2", "park", interaction.ActionClick, 0)

	updated, failed, err := f.agg.RecomputeAll(context.Background())
	if err != nil || updated != 2 || failed != 0 {
		t.Errorf("RecomputeAll() = %d, %d, %v", updated, failed, err)
	}
}

func TestInMemoryLocker(t *testing.T) {
	ctx := context.Background()
	l := NewInMemoryLocker()
	now := testNow
	l.now = func() time.Time { return now }

	release, ok, _ := l.Acquire(ctx, "k", time.Minute)
	if !ok {
		t.Fatal("first acquire should succeed")
	}
	if _, ok, _ := l.Acquire(ctx, "k", time.Minute); ok {
		t.Error("second acquire should fail while held")
	}
	now = now.Add(2 * time.Minute)
	release2, ok, _ := l.Acquire(ctx, "k", time.Minute)
	if !ok {
		t.Fatal("acquire after expiry should succeed")
	}
	// A stale release must not drop the new holder's lease.
	_ = release(ctx)
	if _, ok, _ := l.Acquire(ctx, "k", time.Minute); ok {
		t.Error("stale release freed the new lease")
	}
	_ = release2(ctx)
	if _, ok, _ := l.Acquire(ctx, "k", time.Minute); !ok {
		t.Error("acquire after release should succeed")
	}
}
