package content

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/onnwee/tripfeed/internal/tracing"
	"github.com/onnwee/tripfeed/internal/vector"
)

// DefaultSeasonBatchSize is how many summaries one scoring batch loads.
const DefaultSeasonBatchSize = 500

// Seasons lists the season keys in calendar order.
var Seasons = []string{SeasonSpring, SeasonSummer, SeasonAutumn, SeasonWinter}

// seasonPrompts describe a place that suits each season. Summaries are
// scored by their embedding's cosine to these.
var seasonPrompts = map[string]string{
	SeasonSpring: "봄에 가기 좋은 여행지. 벚꽃과 꽃구경, 따뜻한 날씨의 야외 나들이.",
	SeasonSummer: "여름에 가기 좋은 여행지. 해수욕장과 계곡 물놀이, 시원한 피서지.",
	SeasonAutumn: "가을에 가기 좋은 여행지. 단풍과 억새, 선선한 날씨의 산책과 등산.",
	SeasonWinter: "겨울에 가기 좋은 여행지. 눈꽃과 스키, 온천, 따뜻한 실내 명소.",
}

// Summary is one content summary awaiting season scores.
type Summary struct {
	ContentID string
	Text      string
}

// SeasonScores holds a summary's similarity to each season, in [0, 1].
type SeasonScores struct {
	ContentID string
	Sims      map[string]float64
}

// SeasonStore reads summaries and persists their season scores.
type SeasonStore interface {
	// SeasonPending returns up to limit non-empty summaries with content IDs
	// greater than after, in ID order. Unless force is set, only summaries
	// with a missing or zero season score are returned.
	SeasonPending(ctx context.Context, after string, limit int, force bool) ([]Summary, error)
	SaveSeasonScores(ctx context.Context, scores []SeasonScores) error
}

// TextEmbedder embeds free text.
type TextEmbedder interface {
	Text(ctx context.Context, text string) ([]float32, error)
}

// SeasonResult reports one scoring pass.
type SeasonResult struct {
	Scored  int
	Skipped int
}

// SeasonScorer fills the per-season similarity of content summaries.
type SeasonScorer struct {
	store     SeasonStore
	embedder  TextEmbedder
	batchSize int
	logger    *slog.Logger
}

// NewSeasonScorer creates a SeasonScorer. A batchSize of zero uses
// DefaultSeasonBatchSize.
func NewSeasonScorer(store SeasonStore, embedder TextEmbedder, batchSize int, logger *slog.Logger) *SeasonScorer {
	if batchSize <= 0 {
		batchSize = DefaultSeasonBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SeasonScorer{store: store, embedder: embedder, batchSize: batchSize, logger: logger}
}

// Recompute scores every pending summary. With force set, all summaries are
// rescored. A summary whose embedding fails is skipped and logged.
func (s *SeasonScorer) Recompute(ctx context.Context, force bool) (res SeasonResult, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "content.season_scores")
	defer func() { endSpan(err) }()

	anchors := make(map[string][]float32, len(Seasons))
	for _, season := range Seasons {
		v, err := s.embedder.Text(ctx, seasonPrompts[season])
		if err != nil {
			return res, fmt.Errorf("embed %s prompt: %w", season, err)
		}
		anchors[season] = v
	}

	after := ""
	for {
		batch, err := s.store.SeasonPending(ctx, after, s.batchSize, force)
		if err != nil {
			return res, fmt.Errorf("load summaries: %w", err)
		}
		if len(batch) == 0 {
			return res, nil
		}
		after = batch[len(batch)-1].ContentID

		scores := make([]SeasonScores, 0, len(batch))
		for _, sum := range batch {
			v, err := s.embedder.Text(ctx, sum.Text)
			if err != nil {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				s.logger.WarnContext(ctx, "season scoring skipped summary", "content_id", sum.ContentID, "error", err)
				res.Skipped++
				continue
			}
			scores = append(scores, SeasonScores{ContentID: sum.ContentID, Sims: seasonSimilarity(v, anchors)})
		}
		if len(scores) > 0 {
			if err := s.store.SaveSeasonScores(ctx, scores); err != nil {
				return res, fmt.Errorf("save season scores: %w", err)
			}
			res.Scored += len(scores)
		}
		s.logger.DebugContext(ctx, "season scoring batch done", "after", after, "scored", res.Scored)

		if len(batch) < s.batchSize {
			return res, nil
		}
	}
}

// seasonSimilarity clamps each cosine to [0, 1].
func seasonSimilarity(v []float32, anchors map[string][]float32) map[string]float64 {
	out := make(map[string]float64, len(anchors))
	for season, a := range anchors {
		out[season] = min(max(vector.Cosine(v, a), 0), 1)
	}
	return out
}

const selectSeasonPendingQuery = `
	SELECT content_id, summary
	FROM content_summaries
	WHERE summary <> ''
	  AND content_id > $1
	  AND ($3 OR COALESCE(spring_sim, 0) = 0 OR COALESCE(summer_sim, 0) = 0
	          OR COALESCE(autumn_sim, 0) = 0 OR COALESCE(winter_sim, 0) = 0)
	ORDER BY content_id
	LIMIT $2
`

// SeasonPending implements SeasonStore.
func (r *PostgresRepository) SeasonPending(ctx context.Context, after string, limit int, force bool) (out []Summary, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "content_summaries", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := r.db.QueryContext(ctx, selectSeasonPendingQuery, after, limit, force)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ContentID, &s.Text); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate summary rows: %w", err)
	}
	return out, nil
}

const updateSeasonScoresQuery = `
	UPDATE content_summaries AS s
	SET spring_sim = v.spring, summer_sim = v.summer,
	    autumn_sim = v.autumn, winter_sim = v.winter
	FROM unnest($1::text[], $2::float8[], $3::float8[], $4::float8[], $5::float8[])
	     AS v(content_id, spring, summer, autumn, winter)
	WHERE s.content_id = v.content_id
`

// SaveSeasonScores implements SeasonStore in one statement.
func (r *PostgresRepository) SaveSeasonScores(ctx context.Context, scores []SeasonScores) (err error) {
	if len(scores) == 0 {
		return nil
	}
	ctx, endSpan := tracing.StartDBSpan(ctx, "content_summaries", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	ids := make([]string, len(scores))
	cols := make(map[string][]float64, len(Seasons))
	for i, sc := range scores {
		ids[i] = sc.ContentID
		for _, season := range Seasons {
			cols[season] = append(cols[season], sc.Sims[season])
		}
	}
	if _, err := r.db.ExecContext(ctx, updateSeasonScoresQuery,
		pq.Array(ids),
		pq.Array(cols[SeasonSpring]), pq.Array(cols[SeasonSummer]),
		pq.Array(cols[SeasonAutumn]), pq.Array(cols[SeasonWinter]),
	); err != nil {
		return fmt.Errorf("failed to update season scores: %w", err)
	}
	return nil
}
