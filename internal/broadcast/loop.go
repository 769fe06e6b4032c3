package broadcast

import (
	"context"
	"sync"
	"time"

	"cabtrack/internal/general/contracts"
	"cabtrack/internal/general/logger"
)

// Sender is the outbound side of the realtime channel.
type Sender interface {
	Send(ctx context.Context, msg any)
}

// StateFunc assembles the current driver snapshot. It returns ok=false while
// the snapshot is incomplete (no driver id or no position yet); an incomplete
// snapshot is suppressed, never sent as partial data.
type StateFunc func() (contracts.LocationMessage, bool)

// Loop publishes the driver's snapshot periodically and on demand. It owns its
// timer and is torn down deterministically via Stop.
type Loop struct {
	interval time.Duration
	sender   Sender
	state    StateFunc
	log      *logger.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
}

// NewLoop builds a stopped loop. interval <= 0 selects 10s.
func NewLoop(interval time.Duration, sender Sender, state StateFunc, log *logger.Logger) *Loop {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Loop{
		interval: interval,
		sender:   sender,
		state:    state,
		log:      log,
	}
}

// Start begins periodic broadcasting. Starting an already-running loop is a
// no-op. An immediate snapshot is attempted right away.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.stop = make(chan struct{})
	stop := l.stop
	l.mu.Unlock()

	l.publish(ctx)

	go l.run(ctx, stop)
}

// run is the periodic timer loop.
func (l *Loop) run(ctx context.Context, stop chan struct{}) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.publish(ctx)
		}
	}
}

// Trigger broadcasts immediately, outside the timer cadence. Phase or waypoint
// changes and channel re-opens call this to eliminate the staleness window.
func (l *Loop) Trigger(ctx context.Context) {
	l.mu.Lock()
	running := l.running
	l.mu.Unlock()
	if !running {
		return
	}
	l.publish(ctx)
}

// Running reports whether the loop is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Halt clears the timer without a teardown notice. Used when a trip completes:
// the feed goes quiet but the driver has not signed out.
func (l *Loop) Halt() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return false
	}
	l.running = false
	close(l.stop)
	l.stop = nil
	return true
}

// Stop clears the timer and sends the terminal teardown notice so viewers know
// the feed ended intentionally rather than dropping out.
func (l *Loop) Stop(ctx context.Context, driverID, cabNumber string) {
	if !l.Halt() {
		return
	}

	l.sender.Send(ctx, contracts.DriverDisconnectMessage{
		Type: contracts.TypeDriverDisconnect,
		Payload: contracts.DriverDisconnectPayload{
			DriverID:  driverID,
			CabNumber: cabNumber,
		},
	})
	l.log.Info(ctx, "broadcast_stopped", "Location broadcast loop stopped", map[string]any{
		"driver_id": driverID,
	})
}

// publish assembles and sends one snapshot, or suppresses it while incomplete.
func (l *Loop) publish(ctx context.Context) {
	msg, ok := l.state()
	if !ok {
		l.log.Debug(ctx, "broadcast_suppressed", "Snapshot incomplete, not sending", nil)
		return
	}
	l.sender.Send(ctx, msg)
}
