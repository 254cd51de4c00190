package ranking

import (
	"strings"
	"time"
)

// FreshnessWindow is how recently an item must have been modified to earn
// the freshness bonus.
const FreshnessWindow = 365 * 24 * time.Hour

// KeywordMatch identifies where a query keyword was found.
type KeywordMatch int

// Match locations in priority order.
const (
	MatchNone KeywordMatch = iota
	MatchOverview
	MatchCategory
	MatchTitle
)

// MatchKeywords returns the highest-priority field containing any keyword.
// Title beats category names, which beat the overview.
func MatchKeywords(title, categoryText, overview string, keywords []string) KeywordMatch {
	if len(keywords) == 0 {
		return MatchNone
	}
	switch {
	case containsAny(title, keywords):
		return MatchTitle
	case containsAny(categoryText, keywords):
		return MatchCategory
	case containsAny(overview, keywords):
		return MatchOverview
	}
	return MatchNone
}

// KeywordWeight converts a match location into its score bonus.
func KeywordWeight(m KeywordMatch, w ScoreWeights) float64 {
	switch m {
	case MatchTitle:
		return w.TitleKeyword
	case MatchCategory:
		return w.CategoryKeyword
	case MatchOverview:
		return w.OverviewKeyword
	}
	return 0
}

// IsFresh reports whether modifiedAt falls within FreshnessWindow of now.
// A zero time is never fresh.
func IsFresh(modifiedAt, now time.Time) bool {
	if modifiedAt.IsZero() {
		return false
	}
	return modifiedAt.After(now.Add(-FreshnessWindow))
}

// containsAny reports whether s contains any non-empty needle.
func containsAny(s string, needles []string) bool {
	if s == "" {
		return false
	}
	for _, n := range needles {
		if n != "" && strings.Contains(s, n) {
			return true
		}
	}
	return false
}
