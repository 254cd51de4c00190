// Package geo provides the coordinate helpers used for nearby filtering.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius used for distance math.
const EarthRadiusKm = 6371.0

// Bounds is an axis-aligned latitude/longitude box.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
}

// Contains reports whether (lat, lng) lies inside the box, edges included.
func (b Bounds) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// ValidCoordinates reports whether lat and lng are finite and in range.
func ValidCoordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// BoundingBox returns the box that encloses a circle of radiusKm around
// (lat, lng). Latitude is clamped to the poles.
func BoundingBox(lat, lng, radiusKm float64) Bounds {
	dLat := radiusKm / EarthRadiusKm * 180 / math.Pi
	cosLat := math.Cos(lat * math.Pi / 180)
	dLng := 180.0
	if cosLat > 1e-9 {
		dLng = math.Min(180, dLat/cosLat)
	}
	return Bounds{
		MinLat: math.Max(-90, lat-dLat),
		MaxLat: math.Min(90, lat+dLat),
		MinLng: lng - dLng,
		MaxLng: lng + dLng,
	}
}
