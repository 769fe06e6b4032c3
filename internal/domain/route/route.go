package route

import "cabtrack/internal/domain/geo"

// Route sources, in fallback order.
const (
	SourceDirections   = "directions"    // primary provider, full maneuver steps
	SourcePolyline     = "polyline"      // secondary provider, geometry only
	SourceStraightLine = "straight_line" // terminal fallback, no guidance
)

// ManeuverStep is one instruction segment of a route.
type ManeuverStep struct {
	Instruction    string         `json:"instruction"`
	DistanceMeters float64        `json:"distance_meters"`
	End            geo.Coordinate `json:"end"`
	Turn           Turn           `json:"turn"`
}

// Route is an immutable path between two coordinates. It is rebuilt wholesale
// whenever origin or destination changes materially, never mutated in place.
type Route struct {
	Coordinates []geo.Coordinate `json:"coordinates"`
	Steps       []ManeuverStep   `json:"steps"`
	Source      string           `json:"source"`
}

// HasGuidance reports whether the route carries maneuver steps. The terminal
// straight-line fallback has none; callers treat that as "no guidance
// available", not as an error.
func (r Route) HasGuidance() bool {
	return len(r.Steps) > 0
}

// StraightLine builds the degenerate fallback route between two points. When
// origin and destination coincide the result collapses to a single point.
func StraightLine(origin, destination geo.Coordinate) Route {
	if origin.Equal(destination, 1e-6) {
		return Route{
			Coordinates: []geo.Coordinate{origin},
			Source:      SourceStraightLine,
		}
	}
	return Route{
		Coordinates: []geo.Coordinate{origin, destination},
		Source:      SourceStraightLine,
	}
}
