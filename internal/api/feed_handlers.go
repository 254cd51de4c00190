package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/onnwee/tripfeed/internal/cache"
	"github.com/onnwee/tripfeed/internal/middleware"
	"github.com/onnwee/tripfeed/internal/theme"
	"github.com/onnwee/tripfeed/internal/validate"
)

// FeedGenerator builds the themed rows of a feed.
type FeedGenerator interface {
	GenerateRows(ctx context.Context, userID string, month int, lat, lng float64) ([]theme.Row, error)
}

// FeedResponse is the body of GET /v1/feed.
type FeedResponse struct {
	Rows        []theme.Row `json:"rows"`
	Month       int         `json:"month"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// FeedHandlers serves the themed feed.
type FeedHandlers struct {
	feeds  FeedGenerator
	cache  *cache.FeedCache[FeedResponse]
	logger *slog.Logger
	now    func() time.Time
}

// NewFeedHandlers creates the feed handlers. feedCache may be nil.
func NewFeedHandlers(feeds FeedGenerator, feedCache *cache.FeedCache[FeedResponse], logger *slog.Logger) *FeedHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedHandlers{feeds: feeds, cache: feedCache, logger: logger, now: time.Now}
}

type feedQuery struct {
	Lat   float64 `json:"lat" validate:"latitude"`
	Lng   float64 `json:"lng" validate:"longitude"`
	Month int     `json:"month" validate:"min=1,max=12"`
}

// parseFeedQuery reads lat, lng and month. month defaults to the current one.
func (h *FeedHandlers) parseFeedQuery(r *http.Request) (feedQuery, string) {
	q := r.URL.Query()
	var fq feedQuery
	for _, p := range []struct {
		name string
		dst  *float64
	}{{"lat", &fq.Lat}, {"lng", &fq.Lng}} {
		raw := q.Get(p.name)
		if raw == "" {
			return fq, p.name + " is required"
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fq, p.name + " must be a number"
		}
		*p.dst = v
	}

	fq.Month = int(h.now().Month())
	if raw := q.Get("month"); raw != "" {
		m, err := strconv.Atoi(raw)
		if err != nil {
			return fq, "month must be an integer"
		}
		fq.Month = m
	}

	if err := validate.Struct(&fq); err != nil {
		return fq, err.Error()
	}
	return fq, ""
}

// GetFeed handles GET /v1/feed?lat&lng&month. Authenticated users get a
// personalized feed, anonymous callers the global one.
func (h *FeedHandlers) GetFeed(w http.ResponseWriter, r *http.Request) {
	fq, msg := h.parseFeedQuery(r)
	if msg != "" {
		writeCodedError(w, r, ErrCodeValidation, msg)
		return
	}

	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	if h.cache != nil {
		if cached, ok := h.cache.Get(ctx, userID, fq.Month, fq.Lat, fq.Lng); ok {
			w.Header().Set("X-Cache", "HIT")
			writeJSON(w, r, http.StatusOK, cached)
			return
		}
	}

	rows, err := h.feeds.GenerateRows(ctx, userID, fq.Month, fq.Lat, fq.Lng)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to generate feed", "user_id", userID, "error", err)
		code, msg := errorCode(err)
		writeCodedError(w, r, code, msg)
		return
	}
	if rows == nil {
		rows = []theme.Row{}
	}

	resp := FeedResponse{Rows: rows, Month: fq.Month, GeneratedAt: h.now().UTC()}
	if h.cache != nil {
		h.cache.Put(ctx, userID, fq.Month, fq.Lat, fq.Lng, resp)
		w.Header().Set("X-Cache", "MISS")
	}
	writeJSON(w, r, http.StatusOK, resp)
}
