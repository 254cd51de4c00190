package geo

import (
	"math"
	"testing"
)

func TestBoundingBox(t *testing.T) {
	// Haeundae, Busan
	lat, lng := 35.1587, 129.1604
	b := BoundingBox(lat, lng, 20)

	if !b.Contains(lat, lng) {
		t.Fatal("box should contain its center")
	}
	// Each edge is 20 km from the center along its meridian or parallel.
	kmPerDeg := EarthRadiusKm * math.Pi / 180
	spans := map[string]float64{
		"north": (b.MaxLat - lat) * kmPerDeg,
		"south": (lat - b.MinLat) * kmPerDeg,
		"east":  (b.MaxLng - lng) * kmPerDeg * math.Cos(lat*math.Pi/180),
		"west":  (lng - b.MinLng) * kmPerDeg * math.Cos(lat*math.Pi/180),
	}
	for edge, d := range spans {
		if math.Abs(d-20) > 0.01 {
			t.Errorf("%s edge is %.3f km away, want 20", edge, d)
		}
	}
	// Seoul is far outside.
	if b.Contains(37.5665, 126.9780) {
		t.Error("box around Busan should not contain Seoul")
	}
}

func TestBoundingBox_ClampsPoles(t *testing.T) {
	b := BoundingBox(89.99, 0, 50)
	if b.MaxLat != 90 {
		t.Errorf("MaxLat = %f, want 90", b.MaxLat)
	}
}

func TestValidCoordinates(t *testing.T) {
	tests := []struct {
		lat, lng float64
		want     bool
	}{
		{37.5, 127.0, true},
		{-90, -180, true},
		{91, 0, false},
		{0, 181, false},
		{math.NaN(), 0, false},
	}
	for _, tt := range tests {
		if got := ValidCoordinates(tt.lat, tt.lng); got != tt.want {
			t.Errorf("ValidCoordinates(%f, %f) = %v, want %v", tt.lat, tt.lng, got, tt.want)
		}
	}
}
