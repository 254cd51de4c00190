package ranking

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
)

// TestDefaultWeights verifies the default weight configuration.
func TestDefaultWeights(t *testing.T) {
	weights := DefaultWeights()

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"score.base", weights.Score.Base, 0.1},
		{"score.title_keyword", weights.Score.TitleKeyword, 0.8},
		{"score.category_keyword", weights.Score.CategoryKeyword, 0.5},
		{"score.overview_keyword", weights.Score.OverviewKeyword, 0.3},
		{"score.freshness", weights.Score.Freshness, 0.2},
		{"hidden_trendy.base", weights.HiddenTrendy.Base, 1.0},
		{"hidden_trendy.freshness", weights.HiddenTrendy.Freshness, 0.5},
		{"hidden_trendy.trendy_keyword", weights.HiddenTrendy.TrendyKeyword, 0.8},
		{"hidden_trendy.quiet_category", weights.HiddenTrendy.QuietCategory, 0.6},
		{"hidden_trendy.crowded_category", weights.HiddenTrendy.CrowdedCategory, -0.8},
		{"hidden_trendy.mainstream_phrase", weights.HiddenTrendy.MainstreamPhrase, -1.0},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("expected %s %v, got %v", c.name, c.want, c.got)
		}
	}
}

// TestLoadCalibration_DefaultFile tests loading the shipped calibration file.
func TestLoadCalibration_DefaultFile(t *testing.T) {
	configPath := filepath.Join("..", "..", "configs", "ranking.calibration.json")
	weights, err := LoadCalibration(configPath)

	if _, statErr := os.Stat(configPath); statErr == nil {
		if err != nil {
			t.Fatalf("expected no error loading default calibration file, got: %v", err)
		}
		if !weightsEqual(weights, DefaultWeights()) {
			t.Errorf("loaded weights don't match defaults:\nloaded: %+v\ndefaults: %+v",
				weights, DefaultWeights())
		}
	} else {
		if err == nil {
			t.Error("expected error when file doesn't exist")
		}
		if !weightsEqual(weights, DefaultWeights()) {
			t.Error("should return defaults when file doesn't exist")
		}
	}
}

// TestLoadCalibration_EmptyPath tests loading with empty file path.
func TestLoadCalibration_EmptyPath(t *testing.T) {
	weights, err := LoadCalibration("")
	if err != nil {
		t.Errorf("expected no error with empty path, got: %v", err)
	}
	if !weightsEqual(weights, DefaultWeights()) {
		t.Error("should return defaults when path is empty")
	}
}

// TestLoadCalibration_NonExistentFile tests loading a non-existent file.
func TestLoadCalibration_NonExistentFile(t *testing.T) {
	weights, err := LoadCalibration("/nonexistent/path/to/file.json")
	if err == nil {
		t.Error("expected error when file doesn't exist")
	}
	if !weightsEqual(weights, DefaultWeights()) {
		t.Error("should return defaults when file doesn't exist")
	}
}

// TestLoadCalibration_CustomWeights tests loading custom weight overrides.
func TestLoadCalibration_CustomWeights(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "custom.json")

	customConfig := CalibrationConfig{
		Version: "2",
		Weights: Weights{
			Score:        ScoreWeights{TitleKeyword: 1.2, Freshness: 0.4},
			HiddenTrendy: HiddenTrendyWeights{MainstreamPhrase: -2},
		},
	}
	data, err := json.MarshalIndent(customConfig, "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal config: %v", err)
	}
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	weights, err := LoadCalibration(tmpFile)
	if err != nil {
		t.Fatalf("expected no error loading custom file, got: %v", err)
	}
	if weights.Score.TitleKeyword != 1.2 {
		t.Errorf("expected score.title_keyword 1.2, got %f", weights.Score.TitleKeyword)
	}
	if weights.Score.Freshness != 0.4 {
		t.Errorf("expected score.freshness 0.4, got %f", weights.Score.Freshness)
	}
	if weights.Score.Base != 0.1 {
		t.Errorf("expected score.base unchanged at 0.1, got %f", weights.Score.Base)
	}
	if weights.HiddenTrendy.MainstreamPhrase != -2 {
		t.Errorf("expected hidden_trendy.mainstream_phrase -2, got %f", weights.HiddenTrendy.MainstreamPhrase)
	}
}

// TestLoadCalibration_InvalidJSON tests loading invalid JSON.
func TestLoadCalibration_InvalidJSON(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "invalid.json")
	if err := os.WriteFile(tmpFile, []byte("{invalid json}"), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	weights, err := LoadCalibration(tmpFile)
	if err == nil {
		t.Error("expected error when JSON is invalid")
	}
	if !weightsEqual(weights, DefaultWeights()) {
		t.Error("should return defaults when JSON is invalid")
	}
}

// TestMergeCalibration tests merging override weights with defaults.
func TestMergeCalibration(t *testing.T) {
	base := DefaultWeights()

	tests := []struct {
		name     string
		override *Weights
		validate func(*testing.T, *Weights)
	}{
		{
			name:     "partial score override",
			override: &Weights{Score: ScoreWeights{OverviewKeyword: 0.35}},
			validate: func(t *testing.T, result *Weights) {
				if result.Score.OverviewKeyword != 0.35 {
					t.Errorf("expected overview_keyword 0.35, got %f", result.Score.OverviewKeyword)
				}
				if result.Score.TitleKeyword != 0.8 {
					t.Errorf("expected title_keyword unchanged at 0.8, got %f", result.Score.TitleKeyword)
				}
			},
		},
		{
			name:     "penalty override",
			override: &Weights{HiddenTrendy: HiddenTrendyWeights{CrowdedCategory: -0.5}},
			validate: func(t *testing.T, result *Weights) {
				if result.HiddenTrendy.CrowdedCategory != -0.5 {
					t.Errorf("expected crowded_category -0.5, got %f", result.HiddenTrendy.CrowdedCategory)
				}
				if result.HiddenTrendy.MainstreamPhrase != -1.0 {
					t.Errorf("expected mainstream_phrase unchanged, got %f", result.HiddenTrendy.MainstreamPhrase)
				}
			},
		},
		{
			name:     "no override (all zeros)",
			override: &Weights{},
			validate: func(t *testing.T, result *Weights) {
				if !weightsEqual(result, base) {
					t.Error("expected weights to remain unchanged when override is all zeros")
				}
			},
		},
		{
			name:     "nil override",
			override: nil,
			validate: func(t *testing.T, result *Weights) {
				if !weightsEqual(result, base) {
					t.Error("expected a copy of base for nil override")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := MergeCalibration(base, tt.override)
			tt.validate(t, result)

			if !weightsEqual(base, DefaultWeights()) {
				t.Error("base weights should not be modified")
			}
		})
	}
}

// weightsEqual compares every calibrated weight with floating point tolerance.
func weightsEqual(a, b *Weights) bool {
	const epsilon = 0.001
	for _, f := range calibrationFields {
		if math.Abs(*f.get(a)-*f.get(b)) >= epsilon {
			return false
		}
	}
	return true
}
