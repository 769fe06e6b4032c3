package routing

import (
	"context"
	"sync"

	"cabtrack/internal/domain/geo"
	"cabtrack/internal/domain/route"
)

// Dispatcher serializes route requests with latest-wins semantics: issuing a
// new request cancels the in-flight one, and a stale response is discarded
// rather than overwriting a fresher route. Single slot, not a queue.
type Dispatcher struct {
	provider *Provider

	mu     sync.Mutex
	seq    int
	cancel context.CancelFunc
}

// NewDispatcher binds a dispatcher to a provider chain.
func NewDispatcher(provider *Provider) *Dispatcher {
	return &Dispatcher{provider: provider}
}

// Request plans a route asynchronously and delivers it to fn unless a newer
// request supersedes it first.
func (d *Dispatcher) Request(ctx context.Context, origin, destination geo.Coordinate, fn func(route.Route)) {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	reqCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.seq++
	seq := d.seq
	d.mu.Unlock()

	go func() {
		defer cancel()
		r := d.provider.Plan(reqCtx, origin, destination)

		d.mu.Lock()
		latest := seq == d.seq
		d.mu.Unlock()

		if latest && reqCtx.Err() == nil {
			fn(r)
		}
	}()
}

// Cancel aborts any in-flight request.
func (d *Dispatcher) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}
