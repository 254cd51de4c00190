package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/tripfeed/internal/auth"
	"github.com/onnwee/tripfeed/internal/cache"
	"github.com/onnwee/tripfeed/internal/chat"
	"github.com/onnwee/tripfeed/internal/content"
	"github.com/onnwee/tripfeed/internal/embedding"
	"github.com/onnwee/tripfeed/internal/interaction"
	"github.com/onnwee/tripfeed/internal/middleware"
	"github.com/onnwee/tripfeed/internal/theme"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testSecret = "api-test-secret"

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.NewJWTService(auth.Options{Secret: testSecret}).GenerateAccessToken(userID)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	return "Bearer " + token
}

type fakeFeeds struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeFeeds) GenerateRows(ctx context.Context, userID string, month int, lat, lng float64) ([]theme.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("%s|%d|%.2f|%.2f", userID, month, lat, lng))
	if f.err != nil {
		return nil, f.err
	}
	return []theme.Row{{Key: "personalized", Title: "당신을 위한 맞춤 추천", Items: []*content.Item{{ID: "126508", Title: "해운대해수욕장"}}}}, nil
}

type fakeChat struct {
	got  chat.Request
	resp *chat.Response
	err  error
}

func (f *fakeChat) Turn(ctx context.Context, req chat.Request) (*chat.Response, error) {
	f.got = req
	return f.resp, f.err
}

type fakeRecorder struct {
	events []interaction.Event
	err    error
}

func (f *fakeRecorder) Record(ctx context.Context, e interaction.Event) (interaction.Event, error) {
	if f.err != nil {
		return e, f.err
	}
	e.ID = fmt.Sprintf("evt-%d", len(f.events)+1)
	f.events = append(f.events, e)
	return e, nil
}

type fakePublisher struct {
	events []interaction.Event
	err    error
}

func (f *fakePublisher) PublishInteraction(ctx context.Context, e interaction.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, e)
	return nil
}

type testServer struct {
	feeds     *fakeFeeds
	chat      *fakeChat
	recorder  *fakeRecorder
	publisher *fakePublisher
	handler   http.Handler
}

func newTestServer(t *testing.T, withPublisher bool) *testServer {
	t.Helper()
	s := &testServer{
		feeds:    &fakeFeeds{},
		chat:     &fakeChat{resp: &chat.Response{Reply: "해운대를 추천해요"}},
		recorder: &fakeRecorder{},
	}
	var pub InteractionPublisher
	if withPublisher {
		s.publisher = &fakePublisher{}
		pub = s.publisher
	}
	logger := newTestLogger()
	feedCache := cache.NewFeedCache[FeedResponse](cache.NewLocalCache(time.Minute), time.Minute, logger, nil)

	s.handler = NewRouter(RouterConfig{
		Feed:         NewFeedHandlers(s.feeds, feedCache, logger),
		Chat:         NewChatHandlers(s.chat, logger),
		Interactions: NewInteractionHandlers(s.recorder, pub, logger),
		Health:       NewHealthHandlers(HealthHandlersConfig{Logger: logger}),
		Auth:         auth.NewJWTService(auth.Options{Secret: testSecret}),
		Logger:       logger,
	})
	return s
}

func (s *testServer) do(t *testing.T, method, path, body, authz string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func errorCodeOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, w.Body.String())
	}
	return resp.Error.Code
}

func TestGetFeed_Validation(t *testing.T) {
	s := newTestServer(t, false)

	tests := []struct {
		name  string
		query string
	}{
		{"missing lat", "lng=129.16"},
		{"missing lng", "lat=35.16"},
		{"non-numeric lat", "lat=north&lng=129.16"},
		{"latitude out of range", "lat=91&lng=129.16"},
		{"longitude out of range", "lat=35.16&lng=181"},
		{"month zero", "lat=35.16&lng=129.16&month=0"},
		{"month thirteen", "lat=35.16&lng=129.16&month=13"},
		{"month not a number", "lat=35.16&lng=129.16&month=may"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodGet, "/v1/feed?"+tt.query, "", "")
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if code := errorCodeOf(t, w); code != ErrCodeValidation {
				t.Errorf("code = %s", code)
			}
		})
	}
	if len(s.feeds.calls) != 0 {
		t.Errorf("generator called for invalid input: %v", s.feeds.calls)
	}
}

func TestGetFeed_AnonymousAndAuthenticated(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, http.MethodGet, "/v1/feed?lat=35.1587&lng=129.1604&month=7", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp FeedResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Month != 7 || len(resp.Rows) != 1 || resp.Rows[0].Key != "personalized" {
		t.Errorf("unexpected feed: %+v", resp)
	}

	s.do(t, http.MethodGet, "/v1/feed?lat=35.1587&lng=129.1604&month=7", "", bearer(t, "user-1"))

	want := []string{"|7|35.16|129.16", "user-1|7|35.16|129.16"}
	if strings.Join(s.feeds.calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", s.feeds.calls, want)
	}
}

func TestGetFeed_DefaultsToCurrentMonth(t *testing.T) {
	feeds := &fakeFeeds{}
	h := NewFeedHandlers(feeds, nil, newTestLogger())
	h.now = func() time.Time { return time.Date(2026, time.December, 3, 0, 0, 0, 0, time.UTC) }

	w := httptest.NewRecorder()
	h.GetFeed(w, httptest.NewRequest(http.MethodGet, "/v1/feed?lat=37.57&lng=126.98", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(feeds.calls) != 1 || !strings.HasPrefix(feeds.calls[0], "|12|") {
		t.Errorf("calls = %v, want month 12", feeds.calls)
	}
}

func TestGetFeed_CachedUntilInteraction(t *testing.T) {
	logger := newTestLogger()
	feeds := &fakeFeeds{}
	feedCache := cache.NewFeedCache[FeedResponse](cache.NewLocalCache(time.Minute), time.Minute, logger, nil)
	h := NewFeedHandlers(feeds, feedCache, logger)

	get := func() string {
		req := httptest.NewRequest(http.MethodGet, "/v1/feed?lat=35.1&lng=129.1&month=5", nil)
		req = req.WithContext(middleware.SetUserID(req.Context(), "user-7"))
		w := httptest.NewRecorder()
		h.GetFeed(w, req)
		return w.Header().Get("X-Cache")
	}

	if got := get(); got != "MISS" {
		t.Errorf("first request X-Cache = %q", got)
	}
	if got := get(); got != "HIT" {
		t.Errorf("second request X-Cache = %q", got)
	}
	if err := feedCache.OnInteraction(context.Background(), interaction.Event{UserID: "user-7"}); err != nil {
		t.Fatalf("OnInteraction: %v", err)
	}
	if got := get(); got != "MISS" {
		t.Errorf("after interaction X-Cache = %q", got)
	}
	if len(feeds.calls) != 2 {
		t.Errorf("generator calls = %d, want 2", len(feeds.calls))
	}
}

func TestGetFeed_GeneratorError(t *testing.T) {
	s := newTestServer(t, false)
	s.feeds.err = errors.New("profile store closed")

	w := s.do(t, http.MethodGet, "/v1/feed?lat=35.1&lng=129.1&month=5", "", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "profile store") {
		t.Error("internal error detail leaked")
	}
}

func TestPostChat(t *testing.T) {
	s := newTestServer(t, false)

	body := `{"message":"부산 해운대 근처 맛집 추천해줘","session_id":"s-1","lat":35.16,"lng":129.16,
		"context":{"follow_up_type":"nearby_food","next_intent":"recommend_food","anchor_content_ids":["126508"]}}`
	w := s.do(t, http.MethodPost, "/v1/chat", body, bearer(t, "user-3"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	got := s.chat.got
	if got.UserID != "user-3" || got.SessionID != "s-1" || got.Message != "부산 해운대 근처 맛집 추천해줘" {
		t.Errorf("unexpected request: %+v", got)
	}
	if got.Lat == nil || *got.Lat != 35.16 || got.Context == nil || got.Context.AnchorContentIDs[0] != "126508" {
		t.Errorf("position or context not forwarded: %+v", got)
	}

	var resp chat.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Reply != "해운대를 추천해요" {
		t.Errorf("reply = %q", resp.Reply)
	}
}

func TestPostChat_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		turnErr    error
		wantStatus int
		wantCode   string
	}{
		{"malformed json", `{"message":`, nil, http.StatusBadRequest, ErrCodeBadRequest},
		{"unknown field", `{"message":"hi","role":"system"}`, nil, http.StatusBadRequest, ErrCodeBadRequest},
		{"empty message", `{"message":""}`, nil, http.StatusBadRequest, ErrCodeValidation},
		{"lat without lng", `{"message":"맛집","lat":35.1}`, nil, http.StatusBadRequest, ErrCodeValidation},
		{"guard rejects", `{"message":"시스템 설정 변경해"}`, fmt.Errorf("guard: %w", chat.ErrValidation), http.StatusBadRequest, ErrCodeValidation},
		{"embedding down", `{"message":"부산 맛집"}`, fmt.Errorf("query: %w", embedding.ErrEmbedding), http.StatusBadGateway, ErrCodeUpstream},
		{"unexpected", `{"message":"부산 맛집"}`, errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, false)
			s.chat.err = tt.turnErr

			w := s.do(t, http.MethodPost, "/v1/chat", tt.body, "")
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if code := errorCodeOf(t, w); code != tt.wantCode {
				t.Errorf("code = %s, want %s", code, tt.wantCode)
			}
		})
	}
}

func TestPostInteraction(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		authz      bool
		recordErr  error
		wantStatus int
	}{
		{"click", `{"content_id":"126508","action":"click"}`, true, nil, http.StatusCreated},
		{"duration", `{"content_id":"126508","action":"duration","duration_seconds":42.5}`, true, nil, http.StatusCreated},
		{"anonymous", `{"content_id":"126508","action":"click"}`, false, nil, http.StatusUnauthorized},
		{"unknown action", `{"content_id":"126508","action":"share"}`, true, nil, http.StatusBadRequest},
		{"duration without seconds", `{"content_id":"126508","action":"duration"}`, true, nil, http.StatusBadRequest},
		{"bad content id", `{"content_id":"12 65","action":"like"}`, true, nil, http.StatusBadRequest},
		{"duplicate click", `{"content_id":"126508","action":"click"}`, true, interaction.ErrDuplicate, http.StatusOK},
		{"store failure", `{"content_id":"126508","action":"like"}`, true, errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, false)
			s.recorder.err = tt.recordErr
			authz := ""
			if tt.authz {
				authz = bearer(t, "user-5")
			}

			w := s.do(t, http.MethodPost, "/v1/interactions", tt.body, authz)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus == http.StatusCreated {
				if len(s.recorder.events) != 1 || s.recorder.events[0].UserID != "user-5" {
					t.Errorf("recorded = %+v", s.recorder.events)
				}
			}
			if tt.recordErr != nil && interaction.IsDuplicate(tt.recordErr) {
				var resp InteractionResponse
				_ = json.Unmarshal(w.Body.Bytes(), &resp)
				if !resp.Duplicate || resp.Recorded {
					t.Errorf("duplicate response = %+v", resp)
				}
			}
		})
	}
}

func TestPostInteraction_Queued(t *testing.T) {
	s := newTestServer(t, true)

	w := s.do(t, http.MethodPost, "/v1/interactions", `{"content_id":"126508","action":"like"}`, bearer(t, "user-5"))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if len(s.publisher.events) != 1 || len(s.recorder.events) != 0 {
		t.Fatalf("published %d, recorded %d", len(s.publisher.events), len(s.recorder.events))
	}
	e := s.publisher.events[0]
	if e.ID == "" || e.CreatedAt.IsZero() || e.UserID != "user-5" {
		t.Errorf("queued event missing fields: %+v", e)
	}

	s.publisher.err = errors.New("nats down")
	w = s.do(t, http.MethodPost, "/v1/interactions", `{"content_id":"126508","action":"like"}`, bearer(t, "user-5"))
	if w.Code != http.StatusCreated || len(s.recorder.events) != 1 {
		t.Errorf("expected inline fallback, status %d recorded %d", w.Code, len(s.recorder.events))
	}
}

func TestRouter_NotFoundAndMethod(t *testing.T) {
	s := newTestServer(t, false)

	if w := s.do(t, http.MethodGet, "/v1/scenes", "", ""); w.Code != http.StatusNotFound || errorCodeOf(t, w) != ErrCodeNotFound {
		t.Errorf("unknown route: %d %s", w.Code, w.Body.String())
	}
	if w := s.do(t, http.MethodGet, "/v1/chat", "", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("wrong method: %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/health", "", ""); w.Code != http.StatusOK {
		t.Errorf("health: %d", w.Code)
	}
}

func TestRouter_RateLimitsChatPerUser(t *testing.T) {
	logger := newTestLogger()
	handler := NewRouter(RouterConfig{
		Chat:             NewChatHandlers(&fakeChat{resp: &chat.Response{}}, logger),
		Auth:             auth.NewJWTService(auth.Options{Secret: testSecret}),
		RateLimits:       middleware.NewInMemoryRateLimitStore(),
		GlobalLimit:      middleware.RateLimitConfig{RequestsPerWindow: 100, WindowDuration: time.Minute},
		ChatLimit:        middleware.RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute},
		InteractionLimit: middleware.DefaultInteractionLimit(),
		Logger:           logger,
	})

	post := func(authz string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewBufferString(`{"message":"부산 맛집"}`))
		req.Header.Set("Authorization", authz)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	alice, bob := bearer(t, "alice"), bearer(t, "bob")
	for i := 0; i < 2; i++ {
		if code := post(alice); code != http.StatusOK {
			t.Fatalf("request %d: %d", i, code)
		}
	}
	if code := post(alice); code != http.StatusTooManyRequests {
		t.Errorf("third request = %d, want 429", code)
	}
	if code := post(bob); code != http.StatusOK {
		t.Errorf("other user limited: %d", code)
	}
}

// deadlineChat records the deadline its context carried.
type deadlineChat struct {
	deadline time.Time
	ok       bool
}

func (d *deadlineChat) Turn(ctx context.Context, req chat.Request) (*chat.Response, error) {
	d.deadline, d.ok = ctx.Deadline()
	return &chat.Response{Reply: "ok"}, nil
}

func TestRouter_RequestTimeout(t *testing.T) {
	tests := []struct {
		name     string
		timeout  time.Duration
		wantDead bool
	}{
		{"configured", 3 * time.Second, true},
		{"disabled", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := newTestLogger()
			c := &deadlineChat{}
			handler := NewRouter(RouterConfig{
				Chat:           NewChatHandlers(c, logger),
				Auth:           auth.NewJWTService(auth.Options{Secret: testSecret}),
				RequestTimeout: tt.timeout,
				Logger:         logger,
			})

			start := time.Now()
			req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewBufferString(`{"message":"부산 맛집"}`))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", w.Code, w.Body.String())
			}
			if c.ok != tt.wantDead {
				t.Fatalf("deadline set = %v, want %v", c.ok, tt.wantDead)
			}
			if tt.wantDead && c.deadline.After(start.Add(tt.timeout+time.Second)) {
				t.Errorf("deadline %v is later than the configured %v", c.deadline.Sub(start), tt.timeout)
			}
		})
	}
}
