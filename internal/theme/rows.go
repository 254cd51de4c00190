package theme

import (
	"fmt"

	"github.com/onnwee/tripfeed/internal/content"
	"github.com/onnwee/tripfeed/internal/geo"
	"github.com/onnwee/tripfeed/internal/preference"
	"github.com/onnwee/tripfeed/internal/retrieval"
)

// Row keys, in display priority order.
const (
	RowPersonalized = "personalized"
	RowSubcategory1 = "preferred_subcat_1"
	RowSubcategory2 = "preferred_subcat_2"
	RowSeasonal     = "seasonal"
	RowHiddenGems   = "hidden_gems"
	RowRestaurants  = "restaurants"
)

// RowOrder is the priority order used for deduplication and output.
var RowOrder = []string{
	RowPersonalized,
	RowSubcategory1,
	RowSubcategory2,
	RowSeasonal,
	RowHiddenGems,
	RowRestaurants,
}

var seasonLabels = map[string]string{
	content.SeasonSpring: "봄",
	content.SeasonSummer: "여름",
	content.SeasonAutumn: "가을",
	content.SeasonWinter: "겨울",
}

// SeasonLabel returns the Korean label for a season key.
func SeasonLabel(season string) string {
	if l, ok := seasonLabels[season]; ok {
		return l
	}
	return "특별"
}

// rowPlan describes how one row is retrieved.
type rowPlan struct {
	key    string
	title  string
	bucket preference.Bucket

	categories      []string
	subcategory     string
	season          string
	maxInteractions int
	needsCoords     bool
	// keep stops retrieval from relaxing the category constraint.
	keep bool
}

// filters translates the plan into retrieval filters around bounds.
func (s rowPlan) filters(bounds *geo.Bounds) retrieval.Filters {
	f := retrieval.Filters{
		Geo:                bounds,
		Categories:         s.categories,
		Subcategory:        s.subcategory,
		KeepCategory:       s.keep,
		Season:             s.season,
		RequireCoordinates: s.needsCoords,
	}
	if s.season != "" {
		f.SeasonSimThreshold = retrieval.DefaultSeasonSimThreshold
	}
	if s.maxInteractions > 0 {
		n := s.maxInteractions
		f.MaxInteractions = &n
	}
	return f
}

// Fixed row titles.
const (
	personalizedTitle = "당신을 위한 맞춤 추천"
	hiddenGemsTitle   = "숨은 명소"
	restaurantsTitle  = "당신의 입맛을 저격할 맛집"
)

func subcategoryTitle(label string) string { return fmt.Sprintf("#%s 핫플레이스", label) }

func seasonalTitle(season string) string { return SeasonLabel(season) + " 추천" }
