package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{"client id kept", "feed-7f3a.2", true},
		{"longest allowed id kept", strings.Repeat("a", maxRequestIDLength), true},
		{"missing id generated", "", false},
		{"overlong id replaced", strings.Repeat("a", maxRequestIDLength+1), false},
		{"newline replaced", "chat-1\nlevel=ERROR", false},
		{"space replaced", "chat 1", false},
		{"hangul replaced", "요청-1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/v1/feed", nil)
			if tt.header != "" {
				req.Header.Set(RequestIDHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if echoed := rec.Header().Get(RequestIDHeader); echoed != seen {
				t.Errorf("response header %q differs from context id %q", echoed, seen)
			}
			if tt.keep {
				if seen != tt.header {
					t.Errorf("id = %q, want client id kept", seen)
				}
				return
			}
			if _, err := uuid.Parse(seen); err != nil {
				t.Errorf("id = %q, want a generated UUID", seen)
			}
		})
	}
}

func TestRequestID_UniquePerRequest(t *testing.T) {
	ids := map[string]bool{}
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids[GetRequestID(r.Context())] = true
	}))
	for i := 0; i < 5; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/chat", nil))
	}
	if len(ids) != 5 {
		t.Errorf("got %d distinct ids over 5 requests", len(ids))
	}
}

func TestGetRequestID_Unset(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("GetRequestID() = %q, want empty", id)
	}
}
