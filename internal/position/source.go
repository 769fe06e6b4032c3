// Package position abstracts where driver coordinates come from. On a real
// device this is the GPS; here sources replay fixtures or walk scripted
// waypoints so the rest of the system can run unchanged in simulation.
package position

import (
	"context"
	"sync"
	"time"

	"cabtrack/internal/domain/geo"
)

// Fix is a single position reading.
type Fix struct {
	Coordinate geo.Coordinate
	Timestamp  time.Time
}

// Source emits position fixes until the context is done or the source runs
// out of data.
type Source interface {
	// Watch starts emission and returns the fix stream. The channel is
	// closed when the source is exhausted or the context is canceled.
	Watch(ctx context.Context) <-chan Fix

	// Current returns the most recently emitted fix, if any.
	Current() (Fix, bool)
}

// tracker keeps the latest fix behind a mutex. Sources embed it so Current
// stays consistent while the watch goroutine emits.
type tracker struct {
	mu   sync.RWMutex
	last Fix
	set  bool
}

func (t *tracker) record(f Fix) {
	t.mu.Lock()
	t.last = f
	t.set = true
	t.mu.Unlock()
}

// Current returns the most recently emitted fix, if any.
func (t *tracker) Current() (Fix, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last, t.set
}
