package domain

import "context"

// GeocodingResult contains location data returned by a geocoding provider.
type GeocodingResult struct {
	Point       GeoPoint
	DisplayName string
	Importance  float64 // provider ranking score, 0.0 to 1.0
}

// Geocoder resolves a free-text query against an external gazetteer.
// Implementations return ErrNoResults when the gazetteer has no match and
// wrap transport failures with ErrServiceUnreachable.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (GeocodingResult, error)
}
