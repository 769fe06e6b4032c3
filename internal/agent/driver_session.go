// Package agent wires the client-side pieces into explicitly owned sessions.
// A DriverSession publishes the cab's position and runs the trip lifecycle; a
// ViewerSession follows one driver's feed and derives guidance from it.
package agent

import (
	"context"
	"sync"

	"cabtrack/internal/broadcast"
	"cabtrack/internal/domain/geo"
	"cabtrack/internal/domain/route"
	"cabtrack/internal/domain/trip"
	"cabtrack/internal/general/config"
	"cabtrack/internal/general/contracts"
	"cabtrack/internal/general/logger"
	"cabtrack/internal/guidance"
	"cabtrack/internal/position"
	"cabtrack/internal/realtime"
	"cabtrack/internal/routing"
)

// DriverSession owns every moving part of the driver app: the realtime
// channel, the broadcast loop, the trip controller, the route dispatcher and
// the position source. Start and Stop bound all goroutines it spawns.
type DriverSession struct {
	driverID  string
	cabNumber string

	channel    *realtime.Channel
	loop       *broadcast.Loop
	controller *trip.Controller
	dispatcher *routing.Dispatcher
	source     position.Source
	log        *logger.Logger

	mu            sync.Mutex
	pos           geo.Coordinate
	hasFix        bool
	legPending    bool
	current       route.Route
	tracker       *guidance.Tracker
	pickupAddress string
	dropAddress   string
	cancel        context.CancelFunc
	runCtx        context.Context

	onGuidance func(guidance.Status)
	onPrompt   func(distanceMeters float64)
}

// DriverConfig identifies the driver to the relay.
type DriverConfig struct {
	DriverID  string
	CabNumber string
	Token     string
	Metadata  map[string]any
}

// NewDriverSession assembles a stopped session. The provider is injected so
// simulations and tests can swap the planning chain.
func NewDriverSession(cfg *config.Config, dc DriverConfig, source position.Source, provider *routing.Provider, log *logger.Logger) *DriverSession {
	s := &DriverSession{
		driverID:   dc.DriverID,
		cabNumber:  dc.CabNumber,
		controller: trip.NewController(cfg.Trip.ArrivalThresholdMeters),
		dispatcher: routing.NewDispatcher(provider),
		source:     source,
		log:        log,
	}

	identity := realtime.Identity{
		Role:      contracts.RoleDriver,
		DriverID:  dc.DriverID,
		CabNumber: dc.CabNumber,
		Metadata:  dc.Metadata,
		Token:     dc.Token,
	}
	s.channel = realtime.NewChannel(realtime.Options{
		URL:                  cfg.Channel.URL,
		HeartbeatInterval:    cfg.Channel.HeartbeatInterval.Std(),
		ReconnectBase:        cfg.Channel.ReconnectBase.Std(),
		ReconnectCap:         cfg.Channel.ReconnectCap.Std(),
		MaxReconnectAttempts: cfg.Channel.MaxReconnectAttempts,
	}, identity, log)

	s.loop = broadcast.NewLoop(cfg.Broadcast.Interval.Std(), s.channel, s.snapshot, log)

	s.controller.OnTransition(s.handleTransition)
	s.controller.OnPickupPrompt(s.handlePickupPrompt)

	return s
}

// OnGuidance registers the maneuver guidance callback, invoked on every
// position fix while a route with steps is active.
func (s *DriverSession) OnGuidance(fn func(guidance.Status)) {
	s.mu.Lock()
	s.onGuidance = fn
	s.mu.Unlock()
}

// OnPickupPrompt registers the arrival prompt callback.
func (s *DriverSession) OnPickupPrompt(fn func(distanceMeters float64)) {
	s.mu.Lock()
	s.onPrompt = fn
	s.mu.Unlock()
}

// Start connects the channel, begins broadcasting and consumes position
// fixes until Stop or context cancellation.
func (s *DriverSession) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		cancel()
		return
	}
	s.cancel = cancel
	s.runCtx = runCtx
	s.mu.Unlock()

	// a reconnect reopens with possibly stale viewer state on the far side;
	// push a fresh snapshot immediately
	s.channel.OnOpen(func() { s.loop.Trigger(runCtx) })

	s.channel.Connect(runCtx)
	s.loop.Start(runCtx)

	go s.consumeFixes(runCtx)

	s.log.Info(runCtx, "driver_session_started", "Driver session started", map[string]any{
		"driver_id":  s.driverID,
		"cab_number": s.cabNumber,
	})
}

// Stop tears the session down: terminal notice, channel teardown, goroutine
// cancellation. Safe to call once.
func (s *DriverSession) Stop(ctx context.Context) {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}

	s.dispatcher.Cancel()
	s.loop.Stop(ctx, s.driverID, s.cabNumber)
	s.channel.Disconnect(ctx, "driver sign-out")
	cancel()

	s.log.Info(ctx, "driver_session_stopped", "Driver session stopped", map[string]any{
		"driver_id": s.driverID,
	})
}

// StartTrip begins a new trip toward pickup, then drop. Address strings are
// display-only and ride along in snapshots.
func (s *DriverSession) StartTrip(pickup, drop geo.Coordinate, pickupAddress, dropAddress string) error {
	if err := s.controller.StartTrip(pickup, drop); err != nil {
		return err
	}
	s.mu.Lock()
	s.pickupAddress = pickupAddress
	s.dropAddress = dropAddress
	s.mu.Unlock()
	return nil
}

// ConfirmPickup acknowledges the arrival prompt: the rider is on board.
func (s *DriverSession) ConfirmPickup() error { return s.controller.ConfirmPickup() }

// BeginDropOff starts navigation toward the drop point.
func (s *DriverSession) BeginDropOff() error { return s.controller.BeginDropOff() }

// DismissPickupPrompt declines the prompt; RearmPickupPrompt allows it to
// fire again.
func (s *DriverSession) DismissPickupPrompt() { s.controller.DismissPickupPrompt() }
func (s *DriverSession) RearmPickupPrompt()   { s.controller.RearmPickupPrompt() }

// Phase returns the current trip phase.
func (s *DriverSession) Phase() trip.Phase { return s.controller.Phase() }

// ResetTrip returns the trip to idle and resumes broadcasting, ready for the
// next fare.
func (s *DriverSession) ResetTrip() {
	s.controller.Reset()
	s.clearRoute()
	s.mu.Lock()
	s.pickupAddress, s.dropAddress = "", ""
	runCtx := s.runCtx
	s.mu.Unlock()
	if runCtx != nil && runCtx.Err() == nil {
		s.loop.Start(runCtx)
	}
}

// Route returns the active route.
func (s *DriverSession) Route() route.Route {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *DriverSession) consumeFixes(ctx context.Context) {
	for fix := range s.source.Watch(ctx) {
		s.mu.Lock()
		s.pos = fix.Coordinate
		s.hasFix = true
		pending := s.legPending
		s.legPending = false
		tracker := s.tracker
		onGuidance := s.onGuidance
		s.mu.Unlock()

		s.controller.ObservePosition(fix.Coordinate)

		if pending {
			s.routeActiveLeg(ctx, fix.Coordinate)
		}

		if tracker != nil && onGuidance != nil {
			onGuidance(tracker.Update(fix.Coordinate))
		}
	}
}

// deferLegRoute marks the active leg as awaiting its first fix; the route is
// requested as soon as one arrives.
func (s *DriverSession) deferLegRoute() {
	s.mu.Lock()
	s.legPending = true
	s.mu.Unlock()
}

func (s *DriverSession) routeActiveLeg(ctx context.Context, pos geo.Coordinate) {
	pickup, drop := s.controller.Waypoints()
	switch s.controller.Phase() {
	case trip.PhaseToPickup:
		s.requestRoute(ctx, pos, pickup)
	case trip.PhaseToDrop:
		s.requestRoute(ctx, pos, drop)
	}
}

// snapshot assembles the outbound location message. Suppressed until the
// first fix arrives.
func (s *DriverSession) snapshot() (contracts.LocationMessage, bool) {
	s.mu.Lock()
	pos, ok := s.pos, s.hasFix
	pickupAddr, dropAddr := s.pickupAddress, s.dropAddress
	s.mu.Unlock()

	if s.driverID == "" || !ok {
		return contracts.LocationMessage{}, false
	}

	phase := s.controller.Phase()
	var pickupPtr, dropPtr *geo.Coordinate
	if phase != trip.PhaseIdle {
		pickup, drop := s.controller.Waypoints()
		pickupPtr, dropPtr = &pickup, &drop
	}
	return contracts.NewSnapshot(s.driverID, pos, phase, pickupPtr, dropPtr, pickupAddr, dropAddr), true
}

// handleTransition reacts to phase changes: immediate broadcast, then a route
// recompute for the leg the trip just entered.
func (s *DriverSession) handleTransition(from, to trip.Phase) {
	ctx := context.Background()
	s.log.Info(ctx, "trip_phase_changed", "Trip phase changed", map[string]any{
		"driver_id": s.driverID,
		"from":      string(from),
		"to":        string(to),
	})

	s.loop.Trigger(ctx)

	s.mu.Lock()
	pos, hasFix := s.pos, s.hasFix
	s.mu.Unlock()
	pickup, drop := s.controller.Waypoints()

	switch to {
	case trip.PhaseToPickup:
		if hasFix {
			s.requestRoute(ctx, pos, pickup)
		} else {
			s.deferLegRoute()
		}
	case trip.PhaseToDrop:
		if hasFix {
			s.requestRoute(ctx, pos, drop)
		} else {
			s.deferLegRoute()
		}
	case trip.PhaseCompleted:
		// final snapshot already went out via Trigger; the feed goes quiet
		s.dispatcher.Cancel()
		s.loop.Halt()
		s.clearRoute()
	}
}

func (s *DriverSession) handlePickupPrompt(distanceMeters float64) {
	s.mu.Lock()
	fn := s.onPrompt
	s.mu.Unlock()
	if fn != nil {
		fn(distanceMeters)
	}
}

func (s *DriverSession) requestRoute(ctx context.Context, origin, destination geo.Coordinate) {
	s.dispatcher.Request(ctx, origin, destination, func(r route.Route) {
		s.mu.Lock()
		s.current = r
		s.tracker = guidance.NewTracker(r)
		s.mu.Unlock()
		s.log.Info(ctx, "route_ready", "Route computed", map[string]any{
			"driver_id": s.driverID,
			"source":    r.Source,
			"points":    len(r.Coordinates),
			"steps":     len(r.Steps),
		})
	})
}

func (s *DriverSession) clearRoute() {
	s.mu.Lock()
	s.current = route.Route{}
	s.tracker = nil
	s.legPending = false
	s.mu.Unlock()
}
