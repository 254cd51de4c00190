package preference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/tripfeed/internal/content"
	"github.com/onnwee/tripfeed/internal/interaction"
)

type fakeProfileUpdater struct {
	mu       sync.Mutex
	calls    map[string]int
	failures map[string]int
}

func (f *fakeProfileUpdater) UpdateUserProfile(ctx context.Context, userID string) (*UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[userID]++
	if f.failures[userID] > 0 {
		f.failures[userID]--
		return nil, errors.New("transient")
	}
	return &UserProfile{UserID: userID}, nil
}

type countingJobMetrics struct {
	mu     sync.Mutex
	totals map[string]int
	errors map[string]int
}

func (m *countingJobMetrics) Finish(jobType string, _ time.Duration, failure string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.totals == nil {
		m.totals, m.errors = map[string]int{}, map[string]int{}
	}
	if failure == "" {
		m.totals[jobType+"/"+statusSuccess]++
		return
	}
	m.totals[jobType+"/"+statusFailure]++
	m.errors[jobType+"/"+failure]++
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestUpdater_ProcessPending(t *testing.T) {
	target := &fakeProfileUpdater{failures: map[string]int{"flaky": 2, "broken": 10}}
	jm := &countingJobMetrics{}
	u := newUpdater(UpdaterConfig{Logger: testLogger(), Metrics: NewMetrics(), JobMetrics: jm}, target)
	u.sleepFn = noSleep

	u.Enqueue("ok")
	u.Enqueue("ok")
	u.Enqueue("flaky")
	u.Enqueue("broken")
	if u.Pending() != 3 {
		t.Fatalf("Pending() = %d, want 3", u.Pending())
	}

	succeeded := u.ProcessPending(context.Background())
	if succeeded != 2 {
		t.Errorf("succeeded = %d, want 2", succeeded)
	}
	if target.calls["ok"] != 1 {
		t.Errorf("ok calls = %d, want 1", target.calls["ok"])
	}
	if target.calls["flaky"] != 3 {
		t.Errorf("flaky calls = %d, want 3", target.calls["flaky"])
	}
	if target.calls["broken"] != 1+DefaultUpdaterRetries {
		t.Errorf("broken calls = %d, want %d", target.calls["broken"], 1+DefaultUpdaterRetries)
	}
	if u.Pending() != 1 {
		t.Errorf("broken user should stay pending, Pending() = %d", u.Pending())
	}
	if jm.errors[profileUpdateJobType+"/retries_exhausted"] != 1 {
		t.Errorf("job errors = %v", jm.errors)
	}
	if jm.totals[profileUpdateJobType+"/failure"] != 1 {
		t.Errorf("job totals = %v", jm.totals)
	}
}

func TestUpdater_OnInteractionAndRun(t *testing.T) {
	target := &fakeProfileUpdater{}
	u := newUpdater(UpdaterConfig{Logger: testLogger(), Interval: time.Hour}, target)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := u.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !u.IsRunning() {
		t.Fatal("updater should be running")
	}

	_ = u.OnInteraction(ctx, interaction.Event{UserID: "u1"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		target.mu.Lock()
		n := target.calls["u1"]
		target.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("updater never processed the enqueued user")
		}
		time.Sleep(10 * time.Millisecond)
	}

	u.Stop()
	if u.IsRunning() {
		t.Error("updater should be stopped")
	}
}

type fakeGlobalUpdater struct {
	err   error
	calls int
	force []bool
}

func (f *fakeGlobalUpdater) UpdateGlobalProfile(ctx context.Context, force bool) (*GlobalProfile, error) {
	f.calls++
	f.force = append(f.force, force)
	if f.err != nil {
		return nil, f.err
	}
	return &GlobalProfile{}, nil
}

func TestGlobalJob_RecomputeNow(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus string
		wantError  string
	}{
		{"success", nil, statusSuccess, ""},
		{"insufficient data is not a failure", ErrInsufficientData, statusSuccess, ""},
		{"lock held is not a failure", ErrLockHeld, statusSuccess, ""},
		{"timeout", context.DeadlineExceeded, statusFailure, "timeout"},
		{"error", errors.New("db down"), statusFailure, "recompute_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := &fakeGlobalUpdater{err: tt.err}
			jm := &countingJobMetrics{}
			j := newGlobalJob(GlobalJobConfig{Logger: testLogger(), JobMetrics: jm}, target)

			j.RecomputeNow(context.Background())

			if target.calls != 1 || target.force[0] {
				t.Errorf("calls = %d force = %v", target.calls, target.force)
			}
			if jm.totals[globalJobType+"/"+tt.wantStatus] != 1 {
				t.Errorf("job totals = %v", jm.totals)
			}
			if tt.wantError != "" && jm.errors[globalJobType+"/"+tt.wantError] != 1 {
				t.Errorf("job errors = %v", jm.errors)
			}
		})
	}
}

type fakeSeasons struct {
	calls int
	force bool
	err   error
}

func (f *fakeSeasons) Recompute(ctx context.Context, force bool) (content.SeasonResult, error) {
	f.calls++
	f.force = force
	return content.SeasonResult{Scored: 3}, f.err
}

func TestGlobalJob_RefreshesSeasonScores(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus string
		wantError  string
	}{
		{"success", nil, statusSuccess, ""},
		{"error", errors.New("embedding service down"), statusFailure, "recompute_error"},
		{"timeout", fmt.Errorf("load summaries: %w", context.DeadlineExceeded), statusFailure, "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seasons := &fakeSeasons{err: tt.err}
			jm := &countingJobMetrics{}
			j := newGlobalJob(GlobalJobConfig{Logger: testLogger(), JobMetrics: jm, Seasons: seasons}, &fakeGlobalUpdater{})

			j.RecomputeNow(context.Background())

			if seasons.calls != 1 || seasons.force {
				t.Errorf("season calls = %d force = %v", seasons.calls, seasons.force)
			}
			if jm.totals[globalJobType+"/"+statusSuccess] != 1 {
				t.Errorf("global profile totals = %v", jm.totals)
			}
			if jm.totals[seasonJobType+"/"+tt.wantStatus] != 1 {
				t.Errorf("season totals = %v", jm.totals)
			}
			if tt.wantError != "" && jm.errors[seasonJobType+"/"+tt.wantError] != 1 {
				t.Errorf("season errors = %v", jm.errors)
			}
		})
	}
}

func TestGlobalJob_StartStop(t *testing.T) {
	target := &fakeGlobalUpdater{}
	j := newGlobalJob(GlobalJobConfig{Logger: testLogger(), Interval: 10 * time.Millisecond}, target)

	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	_ = j.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	j.Stop()
	j.Stop()

	if j.IsRunning() {
		t.Error("job should be stopped")
	}
	if target.calls == 0 {
		t.Error("job should have run at least once")
	}
}

func TestDirtyTracker(t *testing.T) {
	d := NewDirtyTracker()
	d.MarkDirty("b")
	d.MarkDirty("a")
	d.MarkDirty("a")
	if d.DirtyCount() != 2 {
		t.Errorf("DirtyCount() = %d, want 2", d.DirtyCount())
	}
	users := d.GetDirtyUsers()
	if users[0] != "a" || users[1] != "b" {
		t.Errorf("GetDirtyUsers() = %v", users)
	}
	d.ClearDirty("a")
	if d.IsDirty("a") || !d.IsDirty("b") {
		t.Error("ClearDirty cleared the wrong user")
	}
}
