package ranking

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/goccy/go-json"
)

// ScoreWeights defines the relevance score for a retrieved candidate.
type ScoreWeights struct {
	Base            float64 `json:"base"`             // Score every candidate starts from (default: 0.1)
	TitleKeyword    float64 `json:"title_keyword"`    // Keyword found in the title (default: 0.8)
	CategoryKeyword float64 `json:"category_keyword"` // Keyword found in a category name (default: 0.5)
	OverviewKeyword float64 `json:"overview_keyword"` // Keyword found in the overview (default: 0.3)
	Freshness       float64 `json:"freshness"`        // Modified within FreshnessWindow (default: 0.2)
}

// HiddenTrendyWeights defines the score used by quiet-place recommendations.
type HiddenTrendyWeights struct {
	Base             float64 `json:"base"`              // default: 1.0
	Freshness        float64 `json:"freshness"`         // default: 0.5
	TrendyKeyword    float64 `json:"trendy_keyword"`    // default: 0.8
	QuietCategory    float64 `json:"quiet_category"`    // default: 0.6
	CrowdedCategory  float64 `json:"crowded_category"`  // default: -0.8
	MainstreamPhrase float64 `json:"mainstream_phrase"` // default: -1.0
}

// Weights holds all ranking weight configurations.
type Weights struct {
	Score        ScoreWeights        `json:"score"`
	HiddenTrendy HiddenTrendyWeights `json:"hidden_trendy"`
}

// CalibrationConfig represents the JSON structure of the calibration file.
type CalibrationConfig struct {
	Version string  `json:"version"` // Config version for future compatibility
	Weights Weights `json:"weights"` // Weight configurations
}

// DefaultWeights returns the default ranking weight configuration.
//
// Score formula: base + first matching of (title | category | overview) + freshness
// - Keyword bonuses are exclusive, the strongest match wins
// - Max score: 1.1
//
// Hidden-trendy formula: base + freshness + trendy + quiet + crowded + mainstream
// - Crowded and mainstream terms are penalties
// - Range: [-0.8, 2.9]
func DefaultWeights() *Weights {
	return &Weights{
		Score: ScoreWeights{
			Base:            0.1,
			TitleKeyword:    0.8,
			CategoryKeyword: 0.5,
			OverviewKeyword: 0.3,
			Freshness:       0.2,
		},
		HiddenTrendy: HiddenTrendyWeights{
			Base:             1.0,
			Freshness:        0.5,
			TrendyKeyword:    0.8,
			QuietCategory:    0.6,
			CrowdedCategory:  -0.8,
			MainstreamPhrase: -1.0,
		},
	}
}

// LoadCalibration loads ranking weights from a JSON calibration file.
// If the file doesn't exist or can't be read, returns default weights with an error.
// Partial configurations are merged with defaults.
func LoadCalibration(filePath string) (*Weights, error) {
	if filePath == "" {
		return DefaultWeights(), nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		slog.Warn("failed to read calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to read calibration file: %w", err)
	}

	var config CalibrationConfig
	if err := json.Unmarshal(data, &config); err != nil {
		slog.Warn("failed to parse calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to parse calibration file: %w", err)
	}

	defaults := DefaultWeights()
	merged := MergeCalibration(defaults, &config.Weights)
	logCalibrationOverrides(defaults, merged)

	return merged, nil
}

// MergeCalibration merges override weights with base weights.
// Only non-zero values from the override are applied.
func MergeCalibration(base *Weights, override *Weights) *Weights {
	if base == nil {
		return DefaultWeights()
	}

	result := *base
	if override == nil {
		return &result
	}

	for _, f := range calibrationFields {
		if v := *f.get(override); v != 0 {
			*f.get(&result) = v
		}
	}
	return &result
}

// weightField addresses one tunable weight by its calibration name.
type weightField struct {
	name string
	get  func(*Weights) *float64
}

var calibrationFields = []weightField{
	{"score.base", func(w *Weights) *float64 { return &w.Score.Base }},
	{"score.title_keyword", func(w *Weights) *float64 { return &w.Score.TitleKeyword }},
	{"score.category_keyword", func(w *Weights) *float64 { return &w.Score.CategoryKeyword }},
	{"score.overview_keyword", func(w *Weights) *float64 { return &w.Score.OverviewKeyword }},
	{"score.freshness", func(w *Weights) *float64 { return &w.Score.Freshness }},
	{"hidden_trendy.base", func(w *Weights) *float64 { return &w.HiddenTrendy.Base }},
	{"hidden_trendy.freshness", func(w *Weights) *float64 { return &w.HiddenTrendy.Freshness }},
	{"hidden_trendy.trendy_keyword", func(w *Weights) *float64 { return &w.HiddenTrendy.TrendyKeyword }},
	{"hidden_trendy.quiet_category", func(w *Weights) *float64 { return &w.HiddenTrendy.QuietCategory }},
	{"hidden_trendy.crowded_category", func(w *Weights) *float64 { return &w.HiddenTrendy.CrowdedCategory }},
	{"hidden_trendy.mainstream_phrase", func(w *Weights) *float64 { return &w.HiddenTrendy.MainstreamPhrase }},
}

// logCalibrationOverrides logs which weights were overridden from defaults.
func logCalibrationOverrides(defaults *Weights, loaded *Weights) {
	var overrides []string
	for _, f := range calibrationFields {
		if d, l := *f.get(defaults), *f.get(loaded); d != l {
			overrides = append(overrides, fmt.Sprintf("%s: %.2f -> %.2f", f.name, d, l))
		}
	}

	if len(overrides) > 0 {
		slog.Info("loaded ranking calibration with overrides",
			"overrides", overrides)
	} else {
		slog.Info("loaded ranking calibration (using all defaults)")
	}
}
