// Package content provides the read-only catalog of travel content (points of
// interest, restaurants) consulted by retrieval, scoring and reranking.
package content

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a content item does not exist.
var ErrNotFound = errors.New("content not found")

// Top-level category codes.
const (
	CategoryExperience = "EX"
	CategoryHistory    = "HS"
	CategoryLeisure    = "LS"
	CategoryNature     = "NA"
	CategoryShopping   = "SH"
	CategoryVenue      = "VE"
	CategoryFood       = "FD"
)

// TouristCategories are the top-level codes shown in sightseeing rows.
var TouristCategories = []string{
	CategoryExperience,
	CategoryHistory,
	CategoryLeisure,
	CategoryNature,
	CategoryShopping,
	CategoryVenue,
}

// Season keys used for season-similarity scores.
const (
	SeasonSpring = "spring"
	SeasonSummer = "summer"
	SeasonAutumn = "autumn"
	SeasonWinter = "winter"
)

// Item is one piece of travel content.
type Item struct {
	ID       string `json:"id"`
	TypeID   string `json:"type_id,omitempty"`
	Title    string `json:"title"`
	Overview string `json:"overview,omitempty"`
	// Summary is the condensed description used by the cross-encoder.
	Summary string `json:"-"`

	Category1 string `json:"category1,omitempty"`
	Category2 string `json:"category2,omitempty"`
	Category3 string `json:"category3,omitempty"`

	Addr1      string `json:"addr1,omitempty"`
	Addr2      string `json:"addr2,omitempty"`
	FirstImage string `json:"first_image,omitempty"`

	// Lat and Lng are nil when the item has no coordinates.
	Lat *float64 `json:"lat,omitempty"`
	Lng *float64 `json:"lng,omitempty"`

	ModifiedAt time.Time `json:"modified_at"`

	// SeasonSim holds season key -> similarity in [0, 1].
	SeasonSim map[string]float64 `json:"-"`
}

// HasCoordinates reports whether the item can be placed on a map.
func (i *Item) HasCoordinates() bool {
	return i.Lat != nil && i.Lng != nil
}

// Categories returns the non-empty category codes from level 1 to 3.
func (i *Item) Categories() []string {
	out := make([]string, 0, 3)
	for _, c := range []string{i.Category1, i.Category2, i.Category3} {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// SeasonFor maps a calendar month to its season key.
// Months outside 1..12 fall back to winter.
func SeasonFor(month int) string {
	switch month {
	case 3, 4, 5:
		return SeasonSpring
	case 6, 7, 8:
		return SeasonSummer
	case 9, 10, 11:
		return SeasonAutumn
	default:
		return SeasonWinter
	}
}

// ParseModifiedTime parses the catalog's compact yyyyMMddHHmmss timestamp.
func ParseModifiedTime(s string) (time.Time, error) {
	return time.ParseInLocation("20060102150405", s, time.UTC)
}
