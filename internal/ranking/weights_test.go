package ranking

import (
	"math"
	"testing"
	"time"

	"github.com/onnwee/tripfeed/internal/content"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type mapNamer map[string]string

func (m mapNamer) Name(code string) string { return m[code] }

var testNames = mapNamer{
	"NA":       "자연",
	"NA04":     "정원",
	"NA040100": "수목원",
	"LS":       "레저",
	"LS010100": "테마파크",
	"FD":       "음식",
	"FD010100": "한식",
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestMatchKeywords(t *testing.T) {
	tests := []struct {
		name     string
		keywords []string
		want     KeywordMatch
	}{
		{"title wins over overview", []string{"바다"}, MatchTitle},
		{"category", []string{"수목원"}, MatchCategory},
		{"overview only", []string{"산책"}, MatchOverview},
		{"no match", []string{"스키"}, MatchNone},
		{"empty keyword ignored", []string{""}, MatchNone},
		{"nil keywords", nil, MatchNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchKeywords("바다 정원", "자연 정원 수목원", "바다를 보며 산책", tt.keywords)
			if got != tt.want {
				t.Errorf("MatchKeywords = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsFresh(t *testing.T) {
	tests := []struct {
		name     string
		modified time.Time
		want     bool
	}{
		{"yesterday", testNow.AddDate(0, 0, -1), true},
		{"364 days", testNow.AddDate(0, 0, -364), true},
		{"two years", testNow.AddDate(-2, 0, 0), false},
		{"zero", time.Time{}, false},
	}
	for _, tt := range tests {
		if got := IsFresh(tt.modified, testNow); got != tt.want {
			t.Errorf("%s: IsFresh = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestScore(t *testing.T) {
	s := NewScorer(nil, testNames)
	old := testNow.AddDate(-3, 0, 0)

	tests := []struct {
		name     string
		item     *content.Item
		keywords []string
		want     float64
	}{
		{
			name: "base only",
			item: &content.Item{Title: "어딘가", ModifiedAt: old},
			want: 0.1,
		},
		{
			name:     "title keyword and fresh",
			item:     &content.Item{Title: "한강 공원", ModifiedAt: testNow.AddDate(0, -1, 0)},
			keywords: []string{"한강"},
			want:     0.1 + 0.8 + 0.2,
		},
		{
			name:     "title match is not additive with overview",
			item:     &content.Item{Title: "한강 공원", Overview: "한강 산책", ModifiedAt: old},
			keywords: []string{"한강"},
			want:     0.1 + 0.8,
		},
		{
			name:     "category name",
			item:     &content.Item{Title: "어딘가", Category1: "NA", Category3: "NA040100", ModifiedAt: old},
			keywords: []string{"수목원"},
			want:     0.1 + 0.5,
		},
		{
			name:     "overview",
			item:     &content.Item{Title: "어딘가", Overview: "조용한 산책로", ModifiedAt: old},
			keywords: []string{"산책"},
			want:     0.1 + 0.3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Score(tt.item, tt.keywords, testNow); !approx(got, tt.want) {
				t.Errorf("Score = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScore_NilNamerSkipsCategories(t *testing.T) {
	s := NewScorer(nil, nil)
	item := &content.Item{Category3: "NA040100"}
	if got := s.Score(item, []string{"수목원"}, testNow); !approx(got, 0.1) {
		t.Errorf("Score = %v, want 0.1", got)
	}
}

func TestHiddenTrendyScore(t *testing.T) {
	s := NewScorer(nil, testNames)
	old := testNow.AddDate(-3, 0, 0)

	tests := []struct {
		name string
		item *content.Item
		want float64
	}{
		{"plain", &content.Item{Title: "어딘가", ModifiedAt: old}, 1.0},
		{"fresh", &content.Item{Title: "어딘가", ModifiedAt: testNow}, 1.5},
		{"trendy", &content.Item{Title: "빈티지 소품샵", ModifiedAt: old}, 1.8},
		{"quiet category", &content.Item{Title: "어딘가", Category3: "NA040100", ModifiedAt: old}, 1.6},
		{"crowded category", &content.Item{Title: "어딘가", Category3: "LS010100", ModifiedAt: old}, 0.2},
		{"mainstream", &content.Item{Title: "어딘가", Overview: "대표 관광지", ModifiedAt: old}, 0.0},
		{
			"everything",
			&content.Item{Title: "감성 정원", Overview: "필수 코스", Category1: "NA", Category2: "NA04", Category3: "LS010100", ModifiedAt: testNow},
			1.0 + 0.5 + 0.8 + 0.6 - 0.8 - 1.0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.HiddenTrendyScore(tt.item, testNow); !approx(got, tt.want) {
				t.Errorf("HiddenTrendyScore = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRank_StableTies(t *testing.T) {
	items := []*content.Item{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}
	scores := map[string]float64{"a": 1, "b": 2, "c": 1, "d": 2}

	ranked := Rank(items, func(it *content.Item) float64 { return scores[it.ID] })

	var got []string
	for _, r := range ranked {
		got = append(got, r.Item.ID)
	}
	want := []string{"b", "d", "a", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Rank order = %v, want %v", got, want)
		}
	}
}

func TestScorer_CalibratedWeights(t *testing.T) {
	w := MergeCalibration(DefaultWeights(), &Weights{Score: ScoreWeights{TitleKeyword: 2}})
	s := NewScorer(w, nil)
	item := &content.Item{Title: "경복궁"}
	if got := s.Score(item, []string{"경복궁"}, testNow); !approx(got, 2.1) {
		t.Errorf("Score = %v, want 2.1", got)
	}
}
