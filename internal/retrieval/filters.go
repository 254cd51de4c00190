package retrieval

import (
	"github.com/onnwee/tripfeed/internal/content"
	"github.com/onnwee/tripfeed/internal/geo"
)

// DefaultSeasonSimThreshold is the minimum season similarity for seasonal rows.
const DefaultSeasonSimThreshold = 0.7

// Filters constrains which retrieved items may be returned.
// The zero value imposes no constraints.
type Filters struct {
	Geo *geo.Bounds

	// Categories is an allowlist of top-level category codes.
	Categories []string
	// Subcategory pins the level-3 category code.
	Subcategory string
	// KeepCategory prevents the category constraint from being relaxed.
	KeepCategory bool

	Season             string
	SeasonSimThreshold float64

	// Allow, when non-empty, restricts results to these content IDs.
	Allow []string
	Deny  []string

	// MaxInteractions keeps only items with fewer total interactions.
	MaxInteractions    *int
	RequireCoordinates bool
}

// Stage names a relaxation step.
type Stage string

// Relaxation stages, applied in this order.
const (
	StageNone     Stage = "none"
	StageSeason   Stage = "season"
	StageCategory Stage = "category"
	StageGeo      Stage = "geo"
)

var relaxOrder = []Stage{StageSeason, StageCategory, StageGeo}

// hasConstraint reports whether f has anything for stage s to relax.
func (f Filters) hasConstraint(s Stage) bool {
	switch s {
	case StageSeason:
		return f.Season != ""
	case StageCategory:
		return !f.KeepCategory && (len(f.Categories) > 0 || f.Subcategory != "")
	case StageGeo:
		return f.Geo != nil
	}
	return false
}

// relax returns a copy of f with stage s removed.
func (f Filters) relax(s Stage) Filters {
	switch s {
	case StageSeason:
		f.Season = ""
		f.SeasonSimThreshold = 0
	case StageCategory:
		f.Categories = nil
		f.Subcategory = ""
	case StageGeo:
		f.Geo = nil
	}
	return f
}

// matcher evaluates Filters against item metadata.
type matcher struct {
	f      Filters
	allow  map[string]bool
	deny   map[string]bool
	cats   map[string]bool
	counts map[string]int
}

func newMatcher(f Filters, counts map[string]int) *matcher {
	m := &matcher{f: f, counts: counts}
	if len(f.Allow) > 0 {
		m.allow = toSet(f.Allow)
	}
	m.deny = toSet(f.Deny)
	if len(f.Categories) > 0 {
		m.cats = toSet(f.Categories)
	}
	return m
}

func (m *matcher) match(item *content.Item) bool {
	if m.allow != nil && !m.allow[item.ID] {
		return false
	}
	if m.deny[item.ID] {
		return false
	}
	if m.f.MaxInteractions != nil && m.counts[item.ID] >= *m.f.MaxInteractions {
		return false
	}
	if m.f.RequireCoordinates && !item.HasCoordinates() {
		return false
	}
	if m.cats != nil && !m.cats[item.Category1] {
		return false
	}
	if m.f.Subcategory != "" && item.Category3 != m.f.Subcategory {
		return false
	}
	if m.f.Season != "" {
		threshold := m.f.SeasonSimThreshold
		if threshold <= 0 {
			threshold = DefaultSeasonSimThreshold
		}
		if item.SeasonSim[m.f.Season] < threshold {
			return false
		}
	}
	if m.f.Geo != nil {
		if !item.HasCoordinates() || !m.f.Geo.Contains(*item.Lat, *item.Lng) {
			return false
		}
	}
	return true
}

func toSet(ids []string) map[string]bool {
	s := make(map[string]bool, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}
