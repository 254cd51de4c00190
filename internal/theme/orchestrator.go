// Package theme builds the home feed: a fixed set of themed recommendation
// rows retrieved concurrently from blended preference vectors.
package theme

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/tripfeed/internal/content"
	"github.com/onnwee/tripfeed/internal/geo"
	"github.com/onnwee/tripfeed/internal/preference"
	"github.com/onnwee/tripfeed/internal/retrieval"
	"github.com/onnwee/tripfeed/internal/tracing"
	"github.com/onnwee/tripfeed/internal/vector"
)

// Defaults for Config.
const (
	DefaultRowLimit        = 30
	DefaultNearbyRadiusKm  = 20.0
	DefaultHiddenGemsBelow = 20
	// DefaultHydrateGrace bounds the content lookup that finishes a feed
	// whose deadline expired while rows were still retrieving.
	DefaultHydrateGrace = 2 * time.Second
)

// Row is one themed list of content.
type Row struct {
	Key   string          `json:"key"`
	Title string          `json:"title"`
	Items []*content.Item `json:"items"`
}

// Retriever returns candidate content IDs for a query vector.
type Retriever interface {
	Retrieve(ctx context.Context, query []float32, filters retrieval.Filters, limit int) ([]string, error)
}

// Profiles exposes the preference state needed to blend row vectors.
type Profiles interface {
	UserProfile(ctx context.Context, userID string) (*preference.UserProfile, error)
	GlobalProfile(ctx context.Context) (*preference.GlobalProfile, error)
	InteractionCount(ctx context.Context, userID string) (int, error)
}

// Labeler decodes category indices into codes and display names.
type Labeler interface {
	Label(level, index int) (string, bool)
	Name(code string) string
}

// Config holds the Orchestrator's collaborators and tunables.
type Config struct {
	Retriever Retriever
	Profiles  Profiles
	Contents  content.Repository
	// Labels is optional; without it the subcategory rows are skipped.
	Labels Labeler

	RowLimit        int
	NearbyRadiusKm  float64
	HiddenGemsBelow int
	HydrateGrace    time.Duration

	Logger  *slog.Logger
	Metrics *Metrics
}

// Orchestrator generates feed rows.
type Orchestrator struct {
	retriever Retriever
	profiles  Profiles
	contents  content.Repository
	labels    Labeler

	rowLimit   int
	radiusKm   float64
	hiddenGems int
	grace      time.Duration

	logger  *slog.Logger
	metrics *Metrics
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.RowLimit <= 0 {
		cfg.RowLimit = DefaultRowLimit
	}
	if cfg.NearbyRadiusKm <= 0 {
		cfg.NearbyRadiusKm = DefaultNearbyRadiusKm
	}
	if cfg.HiddenGemsBelow <= 0 {
		cfg.HiddenGemsBelow = DefaultHiddenGemsBelow
	}
	if cfg.HydrateGrace <= 0 {
		cfg.HydrateGrace = DefaultHydrateGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		retriever:  cfg.Retriever,
		profiles:   cfg.Profiles,
		contents:   cfg.Contents,
		labels:     cfg.Labels,
		rowLimit:   cfg.RowLimit,
		radiusKm:   cfg.NearbyRadiusKm,
		hiddenGems: cfg.HiddenGemsBelow,
		grace:      cfg.HydrateGrace,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// blend holds the per-bucket query vectors for one request.
type blend struct {
	experience []float32
	food       []float32
	// personal is the user's own experience vector, used for subcategory rows.
	personal []float32
	weight   float64
}

// GenerateRows builds the feed for userID. An empty userID is served the
// global feed. Individual row failures leave that row out; only failures that
// affect every row are returned as errors. When ctx expires while rows are
// retrieving, the rows that finished are still returned.
func (o *Orchestrator) GenerateRows(ctx context.Context, userID string, month int, lat, lng float64) (rows []Row, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "theme.generate_rows")
	defer func() { endSpan(err) }()
	start := time.Now()
	defer func() { o.metrics.observeDuration(time.Since(start).Seconds()) }()

	b, err := o.blend(ctx, userID)
	if err != nil {
		return nil, err
	}
	tracing.SetAttributes(ctx, attribute.Float64("theme.personal_weight", b.weight))

	var bounds *geo.Bounds
	if geo.ValidCoordinates(lat, lng) {
		box := geo.BoundingBox(lat, lng, o.radiusKm)
		bounds = &box
	}

	plans := o.plans(b, month)
	results := make([][]string, len(plans))
	retrieved := make([]bool, len(plans))

	var g errgroup.Group
	for i, plan := range plans {
		query := b.experience
		if plan.bucket == preference.BucketFood {
			query = b.food
		}
		if !vector.Usable(query) {
			o.logger.DebugContext(ctx, "no preference signal for row", "row", plan.key)
			o.metrics.incRow(plan.key, rowOutcomeEmpty)
			continue
		}
		filters := plan.filters(bounds)
		g.Go(func() error {
			ids, err := o.retriever.Retrieve(ctx, query, filters, o.rowLimit)
			if err != nil && ctx.Err() != nil {
				o.logger.WarnContext(ctx, "theme row cut off by deadline",
					"row", plan.key,
					"user_id", userID,
					"error", err)
				o.metrics.incRow(plan.key, rowOutcomeTimeout)
				return nil
			}
			if err != nil {
				o.logger.ErrorContext(ctx, "theme row failed",
					"row", plan.key,
					"user_id", userID,
					"error", err)
				o.metrics.incRow(plan.key, rowOutcomeError)
				return nil
			}
			results[i] = ids
			retrieved[i] = true
			return nil
		})
	}
	_ = g.Wait()

	hctx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), o.grace)
		defer cancel()
	}
	ids := dedupe(plans, results, o.rowLimit)
	return o.hydrate(hctx, plans, ids, retrieved)
}

// blend loads profiles and computes the experience and food query vectors.
// A missing or unreadable user profile degrades to the global feed.
func (o *Orchestrator) blend(ctx context.Context, userID string) (blend, error) {
	global, err := o.profiles.GlobalProfile(ctx)
	if err != nil {
		return blend{}, fmt.Errorf("load global profile: %w", err)
	}

	var user *preference.UserProfile
	var weight float64
	if userID != "" {
		n, err := o.profiles.InteractionCount(ctx, userID)
		if err != nil {
			o.logger.WarnContext(ctx, "interaction count unavailable, using global feed", "user_id", userID, "error", err)
		} else {
			weight = vector.PersonalWeight(n)
		}
		if weight > 0 {
			user, err = o.profiles.UserProfile(ctx, userID)
			if err != nil {
				o.logger.WarnContext(ctx, "user profile unavailable, using global feed", "user_id", userID, "error", err)
				user, weight = nil, 0
			}
		}
	}

	b := blend{weight: weight}
	var userExp, userFood []float32
	if user != nil {
		userExp, userFood = user.Experience, user.Food
		b.personal = user.Experience
	}
	b.experience = vector.Blend(userExp, weight, global.Experience, 1-weight)
	b.food = vector.Blend(userFood, weight, global.Food, 1-weight)
	return b, nil
}

// plans lists the rows to retrieve for this request, in priority order.
func (o *Orchestrator) plans(b blend, month int) []rowPlan {
	season := content.SeasonFor(month)
	out := []rowPlan{{
		key:        RowPersonalized,
		title:      personalizedTitle,
		bucket:     preference.BucketExperience,
		categories: content.TouristCategories,
	}}

	for i, code := range o.topSubcategories(b.personal, 2) {
		out = append(out, rowPlan{
			key:         []string{RowSubcategory1, RowSubcategory2}[i],
			title:       subcategoryTitle(o.labels.Name(code)),
			bucket:      preference.BucketExperience,
			categories:  content.TouristCategories,
			subcategory: code,
			keep:        true,
		})
	}

	out = append(out,
		rowPlan{
			key:        RowSeasonal,
			title:      seasonalTitle(season),
			bucket:     preference.BucketExperience,
			categories: content.TouristCategories,
			season:     season,
		},
		rowPlan{
			key:             RowHiddenGems,
			title:           hiddenGemsTitle,
			bucket:          preference.BucketExperience,
			categories:      content.TouristCategories,
			maxInteractions: o.hiddenGems,
			needsCoords:     true,
		},
		rowPlan{
			key:        RowRestaurants,
			title:      restaurantsTitle,
			bucket:     preference.BucketFood,
			categories: []string{content.CategoryFood},
			keep:       true,
		},
	)
	return out
}

// topSubcategories decodes the user's strongest level-3 categories.
// Only positive weights count, so a segment shaped by dislikes alone yields nothing.
func (o *Orchestrator) topSubcategories(personal []float32, n int) []string {
	if o.labels == nil || len(personal) != vector.Dim || vector.IsZero(personal) {
		return nil
	}
	seg := vector.Slice(personal, vector.Level3Range)
	var out []string
	for _, idx := range vector.TopIndices(seg, n) {
		if seg[idx] <= 0 {
			break
		}
		if code, ok := o.labels.Label(3, idx); ok {
			out = append(out, code)
		}
	}
	return out
}

// dedupe removes IDs already shown in a higher-priority row and truncates
// each row to limit.
func dedupe(plans []rowPlan, results [][]string, limit int) [][]string {
	seen := make(map[string]bool)
	out := make([][]string, len(results))
	for i := range plans {
		var kept []string
		for _, id := range results[i] {
			if len(kept) == limit {
				break
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			kept = append(kept, id)
		}
		out[i] = kept
	}
	return out
}

// hydrate loads content for every row in one lookup and drops empty rows.
func (o *Orchestrator) hydrate(ctx context.Context, plans []rowPlan, ids [][]string, retrieved []bool) ([]Row, error) {
	var all []string
	for _, row := range ids {
		all = append(all, row...)
	}
	items := map[string]*content.Item{}
	if len(all) > 0 {
		var err error
		items, err = o.contents.GetMany(ctx, all)
		if err != nil {
			return nil, fmt.Errorf("load row content: %w", err)
		}
	}

	rows := make([]Row, 0, len(plans))
	for i, plan := range plans {
		row := Row{Key: plan.key, Title: plan.title}
		for _, id := range ids[i] {
			if it, ok := items[id]; ok {
				row.Items = append(row.Items, it)
			}
		}
		if len(row.Items) == 0 {
			if retrieved[i] {
				o.metrics.incRow(plan.key, rowOutcomeEmpty)
			}
			continue
		}
		o.metrics.incRow(plan.key, rowOutcomeOK)
		rows = append(rows, row)
	}
	return rows, nil
}
