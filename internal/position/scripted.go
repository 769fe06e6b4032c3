package position

import (
	"context"
	"fmt"
	"time"

	"cabtrack/internal/domain/geo"
)

// ScriptedSource walks a list of waypoints at a constant ground speed,
// emitting interpolated fixes every tick. Useful for deterministic trip
// simulations where no recorded trace exists.
type ScriptedSource struct {
	tracker

	waypoints []geo.Coordinate
	speed     float64 // meters per second
	tick      time.Duration
}

// NewScriptedSource builds a source that moves through waypoints at
// speedMetersPerSecond, emitting one fix per tick.
func NewScriptedSource(waypoints []geo.Coordinate, speedMetersPerSecond float64, tick time.Duration) (*ScriptedSource, error) {
	if len(waypoints) < 2 {
		return nil, fmt.Errorf("scripted source needs at least 2 waypoints, got %d", len(waypoints))
	}
	for i, wp := range waypoints {
		if err := wp.Validate(); err != nil {
			return nil, fmt.Errorf("waypoint %d: %w", i, err)
		}
	}
	if speedMetersPerSecond <= 0 {
		return nil, fmt.Errorf("speed must be positive, got %f", speedMetersPerSecond)
	}
	if tick <= 0 {
		tick = time.Second
	}
	return &ScriptedSource{waypoints: waypoints, speed: speedMetersPerSecond, tick: tick}, nil
}

// Watch emits interpolated fixes leg by leg and closes the channel once the
// final waypoint is reached.
func (s *ScriptedSource) Watch(ctx context.Context) <-chan Fix {
	out := make(chan Fix)
	go func() {
		defer close(out)
		stepMeters := s.speed * s.tick.Seconds()

		if !s.emit(ctx, out, s.waypoints[0]) {
			return
		}
		for leg := 1; leg < len(s.waypoints); leg++ {
			from, to := s.waypoints[leg-1], s.waypoints[leg]
			total := geo.Haversine(from, to)
			for covered := stepMeters; covered < total; covered += stepMeters {
				select {
				case <-time.After(s.tick):
				case <-ctx.Done():
					return
				}
				if !s.emit(ctx, out, interpolate(from, to, covered/total)) {
					return
				}
			}
			select {
			case <-time.After(s.tick):
			case <-ctx.Done():
				return
			}
			if !s.emit(ctx, out, to) {
				return
			}
		}
	}()
	return out
}

func (s *ScriptedSource) emit(ctx context.Context, out chan<- Fix, c geo.Coordinate) bool {
	fix := Fix{Coordinate: c, Timestamp: time.Now()}
	s.record(fix)
	select {
	case out <- fix:
		return true
	case <-ctx.Done():
		return false
	}
}

// interpolate walks fraction t of the way from a to b. Linear in lat/lng,
// which is fine at city scale.
func interpolate(a, b geo.Coordinate, t float64) geo.Coordinate {
	return geo.Coordinate{
		Lat: a.Lat + (b.Lat-a.Lat)*t,
		Lng: a.Lng + (b.Lng-a.Lng)*t,
	}
}
