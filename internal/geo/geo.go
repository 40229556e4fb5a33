package geo

import (
	"math"

	"geoattend/internal/apperr"
)

// earthRadiusMeters is the mean Earth radius used by the Haversine formula.
const earthRadiusMeters = 6371000.0

// Coordinates is a WGS84 latitude/longitude pair in decimal degrees.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate rejects non-finite or out-of-range coordinates.
func (c Coordinates) Validate() error {
	if math.IsNaN(c.Latitude) || math.IsInf(c.Latitude, 0) ||
		math.IsNaN(c.Longitude) || math.IsInf(c.Longitude, 0) {
		return apperr.New(apperr.CodeInvalidCoordinates, "coordinates must be finite numbers")
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return apperr.New(apperr.CodeInvalidCoordinates, "latitude %v out of range [-90, 90]", c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return apperr.New(apperr.CodeInvalidCoordinates, "longitude %v out of range [-180, 180]", c.Longitude)
	}
	return nil
}

// Distance returns the great-circle distance in meters between two points.
func Distance(a, b Coordinates) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}

	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := radians(b.Latitude - a.Latitude)
	dLon := radians(b.Longitude - a.Longitude)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusMeters * c, nil
}

// WithinRadius reports whether distance falls inside the geofence.
// The boundary is inclusive: a point at exactly the radius passes.
func WithinRadius(distance, radius float64) bool {
	return distance <= radius
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
