package ranking

import (
	"sort"
	"strings"
	"time"

	"github.com/onnwee/tripfeed/internal/content"
)

// CategoryNamer resolves a category code to its display name.
type CategoryNamer interface {
	Name(code string) string
}

// Scorer computes candidate scores with calibrated weights.
// Scores never filter; every candidate gets a value.
type Scorer struct {
	weights *Weights
	names   CategoryNamer
}

// NewScorer creates a Scorer. Nil weights use DefaultWeights; a nil namer
// disables category-name matching.
func NewScorer(weights *Weights, names CategoryNamer) *Scorer {
	if weights == nil {
		weights = DefaultWeights()
	}
	return &Scorer{weights: weights, names: names}
}

// Weights returns the weights in use.
func (s *Scorer) Weights() *Weights {
	return s.weights
}

// Score rates how well item fits a query's keywords.
func (s *Scorer) Score(item *content.Item, keywords []string, now time.Time) float64 {
	w := s.weights.Score
	score := w.Base

	if len(keywords) > 0 {
		m := MatchKeywords(item.Title, s.categoryText(item), item.Overview, keywords)
		score += KeywordWeight(m, w)
	}
	if IsFresh(item.ModifiedAt, now) {
		score += w.Freshness
	}
	return score
}

// HiddenTrendyScore rates how quiet and on-trend item is. Higher is better.
func (s *Scorer) HiddenTrendyScore(item *content.Item, now time.Time) float64 {
	w := s.weights.HiddenTrendy
	score := w.Base

	if IsFresh(item.ModifiedAt, now) {
		score += w.Freshness
	}
	text := item.Title + item.Overview
	if containsAny(text, TrendyPhrases) {
		score += w.TrendyKeyword
	}
	cats := s.categoryText(item)
	if containsAny(cats, QuietCategories) {
		score += w.QuietCategory
	}
	if containsAny(cats, CrowdedCategories) {
		score += w.CrowdedCategory
	}
	if containsAny(text, MainstreamPhrases) {
		score += w.MainstreamPhrase
	}
	return score
}

func (s *Scorer) categoryText(item *content.Item) string {
	if s.names == nil {
		return ""
	}
	names := make([]string, 0, 3)
	for _, code := range item.Categories() {
		if n := s.names.Name(code); n != "" {
			names = append(names, n)
		}
	}
	return strings.Join(names, " ")
}

// Scored pairs an item with its score.
type Scored struct {
	Item  *content.Item
	Score float64
}

// Rank scores items with fn and sorts them by score descending.
// Equal scores keep their incoming order.
func Rank(items []*content.Item, fn func(*content.Item) float64) []Scored {
	out := make([]Scored, len(items))
	for i, it := range items {
		out[i] = Scored{Item: it, Score: fn(it)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}
