// Package chat answers conversational travel requests: it classifies the
// message, picks a retrieval mode, runs the recommendation pipeline and
// offers a follow-up search.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/tripfeed/internal/cache"
	"github.com/onnwee/tripfeed/internal/content"
	"github.com/onnwee/tripfeed/internal/embedding"
	"github.com/onnwee/tripfeed/internal/geo"
	"github.com/onnwee/tripfeed/internal/ranking"
	"github.com/onnwee/tripfeed/internal/rerank"
	"github.com/onnwee/tripfeed/internal/retrieval"
	"github.com/onnwee/tripfeed/internal/tracing"
	"github.com/onnwee/tripfeed/internal/validate"
	"github.com/onnwee/tripfeed/internal/vector"
)

// ErrValidation is returned for messages rejected by the input guard.
var ErrValidation = errors.New("invalid chat message")

// Defaults for Config.
const (
	DefaultCandidateLimit   = 100
	DefaultTopN             = 5
	DefaultNearbyRadiusKm   = 5.0
	DefaultLocationRadiusKm = 20.0
	DefaultSessionTTL       = 30 * time.Minute
	DefaultResultTTL        = 10 * time.Minute
)

// Mode is how a turn's candidates were retrieved.
type Mode string

// Modes.
const (
	ModeNone    Mode = ""
	ModeGeneral Mode = "general"
	ModeNearby  Mode = "nearby"
	ModeClarify Mode = "clarify"
)

// Request is one user turn.
type Request struct {
	UserID string
	// SessionID keys the stored follow-up; UserID is used when empty.
	SessionID string
	Message   string
	// Context is the follow-up offered on the previous turn, if the client
	// echoes it back. Otherwise the stored session follow-up is used.
	Context *FollowUpContext
	Lat     *float64
	Lng     *float64
}

// Response is the answer to one turn.
type Response struct {
	Reply    string           `json:"reply"`
	Results  []Card           `json:"results"`
	Schedule []ScheduleDay    `json:"schedule,omitempty"`
	FollowUp *FollowUpContext `json:"follow_up,omitempty"`
	Intent   Intent           `json:"intent,omitempty"`
	Mode     Mode             `json:"mode,omitempty"`
	Degraded bool             `json:"degraded,omitempty"`
}

// Retriever returns candidate content IDs for a query vector.
type Retriever interface {
	Retrieve(ctx context.Context, query []float32, filters retrieval.Filters, limit int) ([]string, error)
}

// Scorer scores candidates for a request.
type Scorer interface {
	Score(item *content.Item, keywords []string, now time.Time) float64
	HiddenTrendyScore(item *content.Item, now time.Time) float64
}

// Reranker reorders ranked candidates. It never fails; a degraded result
// keeps the incoming order.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []rerank.Candidate, topN int) rerank.Result
}

// CategoryEncoder builds category segments used as query hints and names
// category codes for card reasons.
type CategoryEncoder interface {
	Encode(c1, c2, c3 string) []float32
	Name(code string) string
}

// Config holds the Controller's collaborators and tunables.
type Config struct {
	Embedder  embedding.Embedder
	Retriever Retriever
	Contents  content.Repository
	Scorer    Scorer
	Reranker  Reranker
	Extractor Extractor
	Resolver  LocationResolver

	// Optional collaborators.
	Classifier IntentClassifier
	Encoder    CategoryEncoder
	Writer     *ReplyWriter
	Translator *Translator
	Sessions   *cache.Typed[FollowUpContext]
	Results    *cache.Typed[Response]

	CandidateLimit   int
	TopN             int
	NearbyRadiusKm   float64
	LocationRadiusKm float64

	Logger  *slog.Logger
	Metrics *Metrics
	Now     func() time.Time
}

// Controller runs chat turns.
type Controller struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Controller.
func New(cfg Config) *Controller {
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = DefaultCandidateLimit
	}
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultTopN
	}
	if cfg.NearbyRadiusKm <= 0 {
		cfg.NearbyRadiusKm = DefaultNearbyRadiusKm
	}
	if cfg.LocationRadiusKm <= 0 {
		cfg.LocationRadiusKm = DefaultLocationRadiusKm
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Writer == nil {
		cfg.Writer = NewReplyWriter(nil, cfg.Logger)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{cfg: cfg, logger: cfg.Logger}
}

// Turn answers one message.
func (c *Controller) Turn(ctx context.Context, req Request) (resp *Response, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "chat.turn")
	defer func() { endSpan(err) }()
	start := time.Now()
	defer func() { c.cfg.Metrics.observeDuration(time.Since(start).Seconds()) }()

	msg, err := validate.ChatMessage(req.Message)
	if err != nil {
		c.cfg.Metrics.incTurn(outcomeInvalid)
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	msg, lang := c.cfg.Translator.ToKorean(ctx, msg)
	resp, err = c.turn(ctx, req, msg)
	if err != nil {
		c.cfg.Metrics.incTurn(outcomeError)
		return nil, err
	}
	c.translate(ctx, resp, lang)
	return resp, nil
}

// translate moves the reply and the displayed text of every card and
// itinerary stop into lang with one batched call.
func (c *Controller) translate(ctx context.Context, resp *Response, lang string) {
	if c.cfg.Translator == nil || lang == "" || lang == LangKorean {
		return
	}
	texts := []string{resp.Reply}
	for _, card := range resp.Results {
		texts = append(texts, card.Title, card.Reason)
	}
	for _, day := range resp.Schedule {
		for _, stop := range day.Stops {
			texts = append(texts, stop.Title)
		}
	}

	out := c.cfg.Translator.FromKoreanAll(ctx, texts, lang)
	resp.Reply, out = out[0], out[1:]
	for i := range resp.Results {
		resp.Results[i].Title, resp.Results[i].Reason = out[0], out[1]
		out = out[2:]
	}
	for d := range resp.Schedule {
		for i := range resp.Schedule[d].Stops {
			resp.Schedule[d].Stops[i].Title, out = out[0], out[1:]
		}
	}
}

func (c *Controller) turn(ctx context.Context, req Request, msg string) (*Response, error) {
	sessionKey := c.sessionKey(req)
	fctx := req.Context
	if sessionKey != "" {
		if stored, ok := c.cfg.Sessions.Take(ctx, sessionKey); ok && fctx == nil {
			fctx = &stored
		}
	}

	if fctx != nil {
		switch ClassifyReply(msg) {
		case ReplyAffirmative:
			// "응, 부산 맛집 알려줘" is a new request, not a yes.
			if len(RuleCounts(msg)) == 0 {
				return c.followUp(ctx, req, sessionKey, *fctx)
			}
		case ReplyNegative:
			c.cfg.Metrics.incTurn(outcomeClosed)
			return &Response{Reply: ClosingReply}, nil
		}
	}

	resultKey := c.resultKey(req, msg)
	if cached, ok := c.cfg.Results.Get(ctx, resultKey); ok {
		c.cfg.Metrics.incTurn(outcomeCached)
		c.storeFollowUp(ctx, sessionKey, cached.FollowUp)
		return &cached, nil
	}

	counts := RuleCounts(msg)
	if !IsTravelRelated(msg, counts) {
		c.cfg.Metrics.incTurn(outcomeRefused)
		return &Response{Reply: RefusalReply}, nil
	}

	intent, source := ClassifyIntent(ctx, msg, counts, c.cfg.Classifier)
	c.cfg.Metrics.incIntent(intent, source)
	tracing.SetAttributes(ctx,
		attribute.String("chat.intent", string(intent)),
		attribute.String("chat.intent_source", string(source)))
	if intent == IntentAskSubIntent {
		c.cfg.Metrics.incTurn(outcomeClarify)
		return &Response{Reply: ClarifyReply, Intent: intent, Mode: ModeClarify}, nil
	}

	locations, keywords := c.cfg.Extractor.Extract(msg)
	p := c.plan(req, msg, locations)
	tracing.SetAttributes(ctx, attribute.String("chat.mode", string(p.mode)))

	filters := retrieval.Filters{Categories: intent.Categories(), Geo: p.bounds}
	if p.mode == ModeNearby {
		filters.RequireCoordinates = true
	}

	topN, days := c.cfg.TopN, 0
	if intent == IntentSchedule {
		days = TripDays(msg)
		topN = min(days*StopsPerDay, c.cfg.CandidateLimit)
	}

	items, degraded, err := c.search(ctx, intent, msg, keywords, filters, topN)
	if err != nil {
		return nil, err
	}

	resp := c.respond(ctx, msg, intent, p, items, degraded)
	if days > 0 {
		resp.Schedule = BuildSchedule(items, days)
	}
	c.storeFollowUp(ctx, sessionKey, resp.FollowUp)
	if !resp.Degraded {
		c.cfg.Results.Set(context.WithoutCancel(ctx), resultKey, *resp)
	}
	return resp, nil
}

// followUp runs an accepted follow-up around the anchors of the previous turn.
func (c *Controller) followUp(ctx context.Context, req Request, sessionKey string, fctx FollowUpContext) (*Response, error) {
	intent := fctx.NextIntent
	if _, ok := ParseIntent(string(intent)); !ok || intent == IntentAskSubIntent {
		intent = IntentTour
	}
	c.cfg.Metrics.incIntent(intent, SourceRule)

	p := plan{mode: ModeGeneral}
	anchors, err := c.cfg.Contents.GetMany(ctx, fctx.AnchorContentIDs)
	if err != nil {
		c.logger.WarnContext(ctx, "follow-up anchors unavailable", "error", err)
	}
	if lat, lng, name, ok := anchorCenter(fctx.AnchorContentIDs, anchors); ok {
		p = c.nearbyPlan(name, lat, lng)
	} else if lat, lng, ok := requestCoordinates(req); ok {
		p = c.nearbyPlan("", lat, lng)
	}

	query, keywords := followUpQuery(fctx.Type, intent)
	filters := retrieval.Filters{
		Categories: intent.Categories(),
		Geo:        p.bounds,
		Deny:       fctx.AnchorContentIDs,
	}
	if p.mode == ModeNearby {
		filters.RequireCoordinates = true
	}

	items, degraded, err := c.search(ctx, intent, query, keywords, filters, c.cfg.TopN)
	if err != nil {
		return nil, err
	}
	resp := c.respond(ctx, query, intent, p, items, degraded)
	c.storeFollowUp(ctx, sessionKey, resp.FollowUp)
	return resp, nil
}

// respond writes the reply and offers the intent's follow-up.
func (c *Controller) respond(ctx context.Context, msg string, intent Intent, p plan, items []*content.Item, degraded bool) *Response {
	resp := &Response{
		Results:  c.cards(intent, p, items),
		Intent:   intent,
		Mode:     p.mode,
		Degraded: degraded,
	}
	resp.Reply = c.cfg.Writer.Reply(ctx, msg, intent, p.location, items)
	if len(items) == 0 {
		c.cfg.Metrics.incTurn(outcomeNoResults)
		return resp
	}
	c.cfg.Metrics.incTurn(outcomeResults)

	if typ, next, suggestion, ok := FollowUpFor(intent); ok {
		anchors := make([]string, len(items))
		for i, it := range items {
			anchors[i] = it.ID
		}
		resp.FollowUp = &FollowUpContext{Type: typ, NextIntent: next, AnchorContentIDs: anchors}
		resp.Reply += "\n\n" + c.cfg.Writer.FollowUpQuestion(ctx, suggestion)
	}
	return resp
}

// plan is the retrieval mode chosen for a turn.
type plan struct {
	mode     Mode
	location string
	bounds   *geo.Bounds
}

// plan picks nearby mode for explicit proximity requests with a known
// center, and general mode otherwise, bounded to the first resolvable
// location when there is one.
func (c *Controller) plan(req Request, msg string, locations []string) plan {
	name, lat, lng, resolved := c.resolveFirst(locations)
	if IsNearby(msg) {
		if resolved {
			return c.nearbyPlan(name, lat, lng)
		}
		if rlat, rlng, ok := requestCoordinates(req); ok {
			return c.nearbyPlan("", rlat, rlng)
		}
	}
	p := plan{mode: ModeGeneral}
	if resolved {
		box := geo.BoundingBox(lat, lng, c.cfg.LocationRadiusKm)
		p.location, p.bounds = name, &box
	}
	return p
}

func (c *Controller) nearbyPlan(name string, lat, lng float64) plan {
	box := geo.BoundingBox(lat, lng, c.cfg.NearbyRadiusKm)
	return plan{mode: ModeNearby, location: name, bounds: &box}
}

func (c *Controller) resolveFirst(locations []string) (string, float64, float64, bool) {
	if c.cfg.Resolver == nil {
		return "", 0, 0, false
	}
	for _, loc := range locations {
		if lat, lng, ok := c.cfg.Resolver.Resolve(loc); ok {
			return loc, lat, lng, true
		}
	}
	return "", 0, 0, false
}

func requestCoordinates(req Request) (float64, float64, bool) {
	if req.Lat == nil || req.Lng == nil || !geo.ValidCoordinates(*req.Lat, *req.Lng) {
		return 0, 0, false
	}
	return *req.Lat, *req.Lng, true
}

// anchorCenter averages the coordinates of the anchors that have them and
// names the first such anchor.
func anchorCenter(ids []string, items map[string]*content.Item) (lat, lng float64, name string, ok bool) {
	n := 0
	for _, id := range ids {
		it := items[id]
		if it == nil || !it.HasCoordinates() {
			continue
		}
		if n == 0 {
			name = it.Title
		}
		lat += *it.Lat
		lng += *it.Lng
		n++
	}
	if n == 0 {
		return 0, 0, "", false
	}
	return lat / float64(n), lng / float64(n), name, true
}

// followUpQuery is the search text for an accepted follow-up.
func followUpQuery(typ FollowUpType, intent Intent) (string, []string) {
	switch typ {
	case FollowUpNearbyCafe:
		return "근처 카페 추천", []string{"카페"}
	case FollowUpNearbyFood:
		return "근처 맛집 추천", []string{"맛집"}
	case FollowUpNearbyTour:
		return "근처 관광 명소 추천", []string{"명소"}
	}
	return "근처 " + intent.Label() + " 추천", nil
}

// search runs retrieval, scoring and reranking for one query and returns
// up to topN items. Reranking never fails the search: when it cannot finish
// within the deadline the scored order is returned and marked degraded.
func (c *Controller) search(ctx context.Context, intent Intent, query string, keywords []string, filters retrieval.Filters, topN int) ([]*content.Item, bool, error) {
	vec, err := c.cfg.Embedder.Query(ctx, query, c.categoryHint(intent))
	if err != nil {
		if !errors.Is(err, embedding.ErrEmbedding) {
			err = fmt.Errorf("%w: %w", embedding.ErrEmbedding, err)
		}
		return nil, false, err
	}

	ids, err := c.cfg.Retriever.Retrieve(ctx, vec, filters, c.cfg.CandidateLimit)
	if err != nil {
		return nil, false, fmt.Errorf("retrieve candidates: %w", err)
	}
	if len(ids) == 0 {
		return nil, false, nil
	}
	found, err := c.cfg.Contents.GetMany(ctx, ids)
	if err != nil {
		return nil, false, fmt.Errorf("load candidates: %w", err)
	}
	items := make([]*content.Item, 0, len(ids))
	for _, id := range ids {
		if it, ok := found[id]; ok {
			items = append(items, it)
		}
	}

	now := c.cfg.Now()
	score := func(it *content.Item) float64 { return c.cfg.Scorer.Score(it, keywords, now) }
	if intent == IntentQuiet {
		score = func(it *content.Item) float64 { return c.cfg.Scorer.HiddenTrendyScore(it, now) }
	}
	ranked := ranking.Rank(items, score)

	if c.cfg.Reranker == nil {
		return topItems(ranked, topN), false, nil
	}
	candidates := make([]rerank.Candidate, len(ranked))
	byID := make(map[string]*content.Item, len(ranked))
	for i, s := range ranked {
		candidates[i] = rerank.Candidate{ID: s.Item.ID, Summary: firstNonEmpty(s.Item.Summary, s.Item.Overview)}
		byID[s.Item.ID] = s.Item
	}
	res := c.cfg.Reranker.Rerank(ctx, query, candidates, topN)
	out := make([]*content.Item, 0, len(res.IDs))
	for _, id := range res.IDs {
		if it, ok := byID[id]; ok {
			out = append(out, it)
		}
	}
	return out, res.Degraded, nil
}

// categoryHint sums the level-1 encodings of the intent's categories.
func (c *Controller) categoryHint(intent Intent) []float32 {
	if c.cfg.Encoder == nil {
		return nil
	}
	hint := make([]float32, vector.CategoryDim)
	for _, code := range intent.Categories() {
		vector.AddInto(hint, c.cfg.Encoder.Encode(code, "", ""))
	}
	return hint
}

func topItems(ranked []ranking.Scored, n int) []*content.Item {
	n = min(n, len(ranked))
	out := make([]*content.Item, n)
	for i := 0; i < n; i++ {
		out[i] = ranked[i].Item
	}
	return out
}

func (c *Controller) storeFollowUp(ctx context.Context, key string, f *FollowUpContext) {
	if key == "" || f == nil {
		return
	}
	c.cfg.Sessions.Set(context.WithoutCancel(ctx), key, *f)
}

func (c *Controller) sessionKey(req Request) string {
	id := req.SessionID
	if id == "" {
		id = req.UserID
	}
	if id == "" {
		return ""
	}
	return "chat:session:" + id
}

// resultKey keys cached responses by user, normalized message and, when
// given, the request position.
func (c *Controller) resultKey(req Request, msg string) string {
	user := req.UserID
	if user == "" {
		user = "anonymous"
	}
	key := "chat:result:" + user + ":" + strings.ToLower(strings.Join(strings.Fields(msg), " "))
	if lat, lng, ok := requestCoordinates(req); ok {
		key += fmt.Sprintf(":%.4f:%.4f", lat, lng)
	}
	return key
}
