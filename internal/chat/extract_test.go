package chat

import (
	"fmt"
	"math"
	"testing"
)

func defaultExtractor(t *testing.T) *DictionaryExtractor {
	t.Helper()
	e, err := DefaultExtractor()
	if err != nil {
		t.Fatalf("DefaultExtractor: %v", err)
	}
	return e
}

func TestExtract(t *testing.T) {
	e := defaultExtractor(t)
	tests := []struct {
		msg           string
		wantLocations string
		wantKeywords  string
	}{
		{"부산광역시 사하구 근처 맛집 추천해줘", "[부산광역시 사하구]", "[맛집]"},
		{"경기도 수원시 팔달구 인계동으로 가자", "[경기도 수원시 팔달구 인계동]", "[]"},
		{"서울로 여행 가고 싶어", "[서울]", "[]"},
		{"부산으로 가족 여행", "[부산]", "[가족]"},
		{"해운대 근처 카페", "[해운대]", "[카페]"},
		{"광안리나 해운대 조용한 바다", "[광안리 해운대]", "[조용한 바다]"},
		{"강남역 맛집", "[강남역]", "[맛집]"},
		{"경주 역사 유적 추천해줘", "[경주]", "[역사 유적]"},
		{"바다 경치 좋은 곳", "[]", "[바다 경치]"},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			locs, kws := e.Extract(tt.msg)
			if got := fmt.Sprint(locs); got != tt.wantLocations {
				t.Errorf("locations = %s, want %s", got, tt.wantLocations)
			}
			if got := fmt.Sprint(kws); got != tt.wantKeywords {
				t.Errorf("keywords = %s, want %s", got, tt.wantKeywords)
			}
		})
	}
}

func TestExtract_LongestNameWins(t *testing.T) {
	e := NewDictionaryExtractor([]Place{
		{Name: "제주", Lat: 33.5, Lng: 126.5},
		{Name: "제주시", Lat: 33.49, Lng: 126.53},
	})
	locs, _ := e.Extract("제주시 맛집")
	if fmt.Sprint(locs) != "[제주시]" {
		t.Errorf("locations = %v", locs)
	}
}

func TestExtract_RequiresWordBoundary(t *testing.T) {
	e := NewDictionaryExtractor([]Place{{Name: "강남", Lat: 37.49, Lng: 127.02}})
	if locs, _ := e.Extract("강남스타일 노래"); len(locs) != 0 {
		t.Errorf("locations = %v, want none", locs)
	}
	if locs, _ := e.Extract("강남에서 만나"); fmt.Sprint(locs) != "[강남]" {
		t.Errorf("locations = %v, want [강남]", locs)
	}
}

func TestResolve(t *testing.T) {
	e := defaultExtractor(t)
	tests := []struct {
		location string
		ok       bool
		near     [2]float64
	}{
		{"부산광역시 사하구", true, [2]float64{35.10, 128.97}},
		{"경기도 수원시", true, [2]float64{37.26, 127.03}},
		{"해운대", true, [2]float64{35.16, 129.16}},
		{"팔달구 인계동", false, [2]float64{}},
	}
	for _, tt := range tests {
		lat, lng, ok := e.Resolve(tt.location)
		if ok != tt.ok {
			t.Errorf("Resolve(%q) ok = %v, want %v", tt.location, ok, tt.ok)
			continue
		}
		if ok && (math.Abs(lat-tt.near[0]) > 0.1 || math.Abs(lng-tt.near[1]) > 0.1) {
			t.Errorf("Resolve(%q) = %v,%v, want near %v", tt.location, lat, lng, tt.near)
		}
	}
}

func TestIsNearby(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"해운대 근처 맛집", true},
		{"숙소 주변 카페", true},
		{"가까운 공원", true},
		{"cafes nearby", true},
		{"부산 맛집 추천해줘", false},
		{"서울 2박 3일 여행 코스", false},
	}
	for _, tt := range tests {
		if got := IsNearby(tt.msg); got != tt.want {
			t.Errorf("IsNearby(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestLoadGazetteer_Invalid(t *testing.T) {
	if _, err := LoadGazetteer([]byte("{")); err == nil {
		t.Error("expected error for malformed gazetteer")
	}
}
