package geo

import (
	"errors"
	"math"
)

// Coordinate is an immutable WGS84 point in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

var (
	ErrInvalidLatitude  = errors.New("latitude must be between -90 and 90")
	ErrInvalidLongitude = errors.New("longitude must be between -180 and 180")
)

// Validate checks the coordinate lies on the globe.
func (coordinate Coordinate) Validate() error {
	if coordinate.Lat < -90 || coordinate.Lat > 90 || math.IsNaN(coordinate.Lat) {
		return ErrInvalidLatitude
	}
	if coordinate.Lng < -180 || coordinate.Lng > 180 || math.IsNaN(coordinate.Lng) {
		return ErrInvalidLongitude
	}
	return nil
}

// IsZero reports whether the coordinate is the zero value. A (0,0) point is
// treated as "unset" throughout this codebase.
func (coordinate Coordinate) IsZero() bool {
	return coordinate.Lat == 0 && coordinate.Lng == 0
}

// Equal reports whether two coordinates match within tol degrees on both axes.
func (coordinate Coordinate) Equal(other Coordinate, tol float64) bool {
	return math.Abs(coordinate.Lat-other.Lat) <= tol && math.Abs(coordinate.Lng-other.Lng) <= tol
}
