package position

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"cabtrack/internal/domain/geo"
)

// replayRecord is one line of a JSONL fixture.
type replayRecord struct {
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

// ReplaySource plays back a recorded trace. Inter-fix delays follow the
// recorded timestamps scaled by the speed factor, so a trace captured over
// ten minutes can replay in seconds.
type ReplaySource struct {
	tracker

	fixes []Fix
	speed float64
}

// NewReplaySource loads a JSONL trace file. Each line carries lat, lng and an
// RFC 3339 timestamp. speed > 1 replays faster than real time; speed <= 0
// defaults to 1.
func NewReplaySource(path string, speed float64) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()

	s := &ReplaySource{speed: speed}
	if s.speed <= 0 {
		s.speed = 1
	}

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec replayRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("parse trace line %d: %w", line, err)
		}
		coord := geo.Coordinate{Lat: rec.Latitude, Lng: rec.Longitude}
		if err := coord.Validate(); err != nil {
			return nil, fmt.Errorf("trace line %d: %w", line, err)
		}
		s.fixes = append(s.fixes, Fix{Coordinate: coord, Timestamp: rec.Timestamp})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	if len(s.fixes) == 0 {
		return nil, fmt.Errorf("trace %s holds no fixes", path)
	}
	return s, nil
}

// Watch emits the recorded fixes with scaled inter-fix delays and closes the
// channel when the trace ends.
func (s *ReplaySource) Watch(ctx context.Context) <-chan Fix {
	out := make(chan Fix)
	go func() {
		defer close(out)
		var prev time.Time
		for i, fix := range s.fixes {
			if i > 0 {
				delay := fix.Timestamp.Sub(prev)
				if delay > 0 {
					delay = time.Duration(float64(delay) / s.speed)
					select {
					case <-time.After(delay):
					case <-ctx.Done():
						return
					}
				}
			}
			prev = fix.Timestamp
			emitted := fix
			emitted.Timestamp = time.Now()
			s.record(emitted)
			select {
			case out <- emitted:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
