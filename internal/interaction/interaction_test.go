package interaction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func counterValue(t *testing.T, c *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.WithLabelValues(labels...).Write(&m); err != nil {
		t.Fatalf("failed to read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		wantErr bool
	}{
		{"valid click", Event{UserID: "u", ContentID: "c", Action: ActionClick}, false},
		{"valid duration", Event{UserID: "u", ContentID: "c", Action: ActionDuration, DurationSeconds: 90}, false},
		{"missing user", Event{ContentID: "c", Action: ActionLike}, true},
		{"missing content", Event{UserID: "u", Action: ActionLike}, true},
		{"unknown action", Event{UserID: "u", ContentID: "c", Action: "share"}, true},
		{"duration without seconds", Event{UserID: "u", ContentID: "c", Action: ActionDuration}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidEvent) {
				t.Errorf("error %v should wrap ErrInvalidEvent", err)
			}
		})
	}
}

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_ = s.Append(ctx, Event{ID: string(rune('a' + i)), UserID: "u1", ContentID: "c1", Action: ActionClick, CreatedAt: base.Add(time.Duration(5-i) * time.Hour)})
	}
	_ = s.Append(ctx, Event{ID: "z", UserID: "u2", ContentID: "c2", Action: ActionLike, CreatedAt: base})

	events, _ := s.ListByUser(ctx, "u1")
	for i := 1; i < len(events); i++ {
		if events[i].CreatedAt.Before(events[i-1].CreatedAt) {
			t.Fatal("ListByUser should return oldest first")
		}
	}

	counts, _ := s.CountByContent(ctx, []string{"c1", "c2", "c3"})
	if counts["c1"] != 5 || counts["c2"] != 1 {
		t.Errorf("CountByContent() = %v", counts)
	}
	if _, ok := counts["c3"]; ok {
		t.Error("content without events should be absent")
	}

	users, _ := s.UsersWithEvents(ctx)
	if len(users) != 2 || users[0] != "u1" {
		t.Errorf("UsersWithEvents() = %v", users)
	}

	removed, _ := s.TrimAll(ctx, 2)
	if removed != 3 {
		t.Errorf("TrimAll() removed %d, want 3", removed)
	}
	kept, _ := s.ListByUser(ctx, "u1")
	if len(kept) != 2 || !kept[1].CreatedAt.Equal(base.Add(5*time.Hour)) {
		t.Errorf("TrimAll kept the wrong events: %+v", kept)
	}
}

func TestRecorder_Record(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	metrics := NewMetrics()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	var notified []Event
	r := NewRecorder(RecorderConfig{
		Store:   store,
		Deduper: NewInMemoryDeduper(),
		Logger:  testLogger(),
		Metrics: metrics,
		Now:     func() time.Time { return now },
	})
	r.AddListener(ListenerFunc(func(ctx context.Context, e Event) error {
		notified = append(notified, e)
		return nil
	}))
	r.AddListener(ListenerFunc(func(ctx context.Context, e Event) error {
		return errors.New("listener down")
	}))

	got, err := r.Record(ctx, Event{UserID: "u", ContentID: "c", Action: ActionClick})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if got.ID == "" || !got.CreatedAt.Equal(now) {
		t.Errorf("Record() did not fill defaults: %+v", got)
	}

	if _, err := r.Record(ctx, Event{UserID: "u", ContentID: "c", Action: ActionClick}); !IsDuplicate(err) {
		t.Errorf("second click error = %v, want ErrDuplicate", err)
	}

	// Likes are never deduplicated.
	for i := 0; i < 2; i++ {
		if _, err := r.Record(ctx, Event{UserID: "u", ContentID: "c", Action: ActionLike}); err != nil {
			t.Fatalf("like %d error = %v", i, err)
		}
	}

	if _, err := r.Record(ctx, Event{UserID: "u", Action: ActionLike}); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("invalid event error = %v", err)
	}

	if n, _ := store.CountByUser(ctx, "u"); n != 3 {
		t.Errorf("stored %d events, want 3", n)
	}
	if len(notified) != 3 {
		t.Errorf("listener saw %d events, want 3", len(notified))
	}
	if v := counterValue(t, metrics.eventsTotal, "click", OutcomeDuplicate); v != 1 {
		t.Errorf("duplicate counter = %f, want 1", v)
	}
	if v := counterValue(t, metrics.eventsTotal, "like", OutcomeRecorded); v != 2 {
		t.Errorf("recorded like counter = %f, want 2", v)
	}
}

type failingDeduper struct{}

func (failingDeduper) First(ctx context.Context, key string, window time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestRecorder_DedupFailureStillRecords(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	r := NewRecorder(RecorderConfig{Store: store, Deduper: failingDeduper{}, Logger: testLogger()})

	if _, err := r.Record(ctx, Event{UserID: "u", ContentID: "c", Action: ActionClick}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if n, _ := store.CountByUser(ctx, "u"); n != 1 {
		t.Errorf("stored %d events, want 1", n)
	}
}

func TestInMemoryDeduper_Window(t *testing.T) {
	ctx := context.Background()
	d := NewInMemoryDeduper()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	key := ClickKey("u", "c")
	if first, _ := d.First(ctx, key, 30*time.Minute); !first {
		t.Fatal("first call should be first")
	}
	now = now.Add(29 * time.Minute)
	if first, _ := d.First(ctx, key, 30*time.Minute); first {
		t.Error("call inside window should not be first")
	}
	now = now.Add(2 * time.Minute)
	if first, _ := d.First(ctx, key, 30*time.Minute); !first {
		t.Error("call after window should be first again")
	}
}

type recordingJobMetrics struct {
	totals map[string]int
}

func (m *recordingJobMetrics) Finish(jobType string, _ time.Duration, failure string) {
	if m.totals == nil {
		m.totals = map[string]int{}
	}
	status := "success"
	if failure != "" {
		status = "failure/" + failure
	}
	m.totals[jobType+"/"+status]++
}

func TestTrimmer_TrimOnce(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		_ = store.Append(ctx, Event{UserID: "u", ContentID: "c", Action: ActionLike, CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}

	jm := &recordingJobMetrics{}
	tr := NewTrimmer(store, 10, testLogger(), NewMetrics(), jm)
	removed, err := tr.TrimOnce(ctx)
	if err != nil {
		t.Fatalf("TrimOnce() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if jm.totals[trimJobType+"/success"] != 1 {
		t.Errorf("job metrics = %v", jm.totals)
	}

	if removed, _ := tr.TrimOnce(ctx); removed != 0 {
		t.Errorf("second trim removed %d, want 0", removed)
	}
}

type failingTrimStore struct {
	*InMemoryStore
	err error
}

func (s failingTrimStore) TrimAll(context.Context, int) (int64, error) { return 0, s.err }

func TestTrimmer_TrimOnceFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"store error", errors.New("connection refused"), trimJobType + "/failure/store_error"},
		{"deadline", fmt.Errorf("trim: %w", context.DeadlineExceeded), trimJobType + "/failure/timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jm := &recordingJobMetrics{}
			tr := NewTrimmer(failingTrimStore{NewInMemoryStore(), tt.err}, 10, testLogger(), NewMetrics(), jm)
			if _, err := tr.TrimOnce(context.Background()); !errors.Is(err, tt.err) {
				t.Fatalf("err = %v", err)
			}
			if jm.totals[tt.want] != 1 {
				t.Errorf("job metrics = %v, want %s", jm.totals, tt.want)
			}
		})
	}
}

func TestTrimmer_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := NewTrimmer(NewInMemoryStore(), 0, testLogger(), nil, nil)

	done := make(chan struct{})
	go func() {
		tr.Run(ctx, time.Hour)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
