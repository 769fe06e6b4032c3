package agent

import (
	"context"
	"encoding/json"
	"sync"

	"cabtrack/internal/domain/geo"
	"cabtrack/internal/domain/route"
	"cabtrack/internal/domain/trip"
	"cabtrack/internal/general/config"
	"cabtrack/internal/general/contracts"
	"cabtrack/internal/general/logger"
	"cabtrack/internal/guidance"
	"cabtrack/internal/realtime"
	"cabtrack/internal/routing"
)

// DriftRecomputeMeters is how far the driver may stray from the last route
// origin before the viewer replans.
const DriftRecomputeMeters = 50

// ViewerSession follows one driver's feed: it consumes location updates,
// keeps a route to the driver's current destination, and derives maneuver
// guidance from each update.
type ViewerSession struct {
	viewerID      string
	trackDriverID string

	channel    *realtime.Channel
	dispatcher *routing.Dispatcher
	log        *logger.Logger

	mu          sync.Mutex
	lastPhase   trip.Phase
	current     route.Route
	routeOrigin geo.Coordinate
	routeDest   geo.Coordinate
	hasRoute    bool
	tracker     *guidance.Tracker
	cancel      context.CancelFunc

	onUpdate     func(contracts.LocationUpdateMessage)
	onGuidance   func(guidance.Status)
	onDisconnect func(contracts.DriverDisconnectPayload)
}

// ViewerConfig identifies the viewer and the feed it follows.
type ViewerConfig struct {
	ViewerID      string
	TrackDriverID string
	Token         string
}

// NewViewerSession assembles a stopped viewer session.
func NewViewerSession(cfg *config.Config, vc ViewerConfig, provider *routing.Provider, log *logger.Logger) *ViewerSession {
	s := &ViewerSession{
		viewerID:      vc.ViewerID,
		trackDriverID: vc.TrackDriverID,
		dispatcher:    routing.NewDispatcher(provider),
		log:           log,
		lastPhase:     trip.PhaseIdle,
	}

	identity := realtime.Identity{
		Role:          contracts.RoleViewer,
		ViewerID:      vc.ViewerID,
		TrackDriverID: vc.TrackDriverID,
		Token:         vc.Token,
	}
	s.channel = realtime.NewChannel(realtime.Options{
		URL:                  cfg.Channel.URL,
		HeartbeatInterval:    cfg.Channel.HeartbeatInterval.Std(),
		ReconnectBase:        cfg.Channel.ReconnectBase.Std(),
		ReconnectCap:         cfg.Channel.ReconnectCap.Std(),
		MaxReconnectAttempts: cfg.Channel.MaxReconnectAttempts,
	}, identity, log)

	s.channel.Handle(contracts.TypeLocationUpdate, s.handleLocationUpdate)
	s.channel.Handle(contracts.TypeDriverDisconnect, s.handleDriverDisconnect)

	return s
}

// OnUpdate registers the raw feed callback.
func (s *ViewerSession) OnUpdate(fn func(contracts.LocationUpdateMessage)) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

// OnGuidance registers the maneuver guidance callback.
func (s *ViewerSession) OnGuidance(fn func(guidance.Status)) {
	s.mu.Lock()
	s.onGuidance = fn
	s.mu.Unlock()
}

// OnDriverDisconnect registers the feed teardown callback.
func (s *ViewerSession) OnDriverDisconnect(fn func(contracts.DriverDisconnectPayload)) {
	s.mu.Lock()
	s.onDisconnect = fn
	s.mu.Unlock()
}

// Start connects the channel.
func (s *ViewerSession) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		cancel()
		return
	}
	s.cancel = cancel
	s.mu.Unlock()

	s.channel.Connect(runCtx)
	s.log.Info(runCtx, "viewer_session_started", "Viewer session started", map[string]any{
		"viewer_id":       s.viewerID,
		"track_driver_id": s.trackDriverID,
	})
}

// Stop disconnects and cancels in-flight route requests.
func (s *ViewerSession) Stop(ctx context.Context) {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}

	s.dispatcher.Cancel()
	s.channel.Disconnect(ctx, "viewer closed")
	cancel()
}

// Route returns the current route to the driver's destination.
func (s *ViewerSession) Route() (route.Route, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.hasRoute
}

func (s *ViewerSession) handleLocationUpdate(payload json.RawMessage) {
	var msg contracts.LocationUpdateMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.log.Warn(context.Background(), "feed_frame_invalid", "Dropping malformed location update", map[string]any{
			"error": err.Error(),
		})
		return
	}

	driverPos := msg.Location.Position()
	if driverPos.Validate() != nil {
		return
	}

	phase := msg.Location.Phase
	s.mu.Lock()
	// stale frames can arrive out of order after a reconnect; never let the
	// phase run backwards
	if phase.Valid() && phase != s.lastPhase {
		if phase.After(s.lastPhase) || phase == trip.PhaseIdle {
			s.lastPhase = phase
		} else {
			phase = s.lastPhase
		}
	}
	onUpdate := s.onUpdate
	onGuidance := s.onGuidance
	tracker := s.tracker
	s.mu.Unlock()

	if onUpdate != nil {
		onUpdate(msg)
	}

	if dest, ok := destinationFor(phase, msg.Location); ok {
		s.maybeReplan(driverPos, dest)
	}

	if tracker != nil && onGuidance != nil {
		onGuidance(tracker.Update(driverPos))
	}
}

// destinationFor picks the waypoint the driver is heading to in the given
// phase. No destination means no route to maintain.
func destinationFor(phase trip.Phase, loc contracts.LocationPayload) (geo.Coordinate, bool) {
	switch phase {
	case trip.PhaseToPickup:
		if loc.Pickup != nil {
			return *loc.Pickup, true
		}
	case trip.PhasePickupReached, trip.PhaseToDrop:
		if loc.Drop != nil {
			return *loc.Drop, true
		}
	}
	return geo.Coordinate{}, false
}

// maybeReplan requests a fresh route when there is none, the destination
// changed, or the driver drifted off the last planned origin.
func (s *ViewerSession) maybeReplan(driverPos, dest geo.Coordinate) {
	s.mu.Lock()
	needed := !s.hasRoute ||
		!s.routeDest.Equal(dest, 1e-6) ||
		geo.Haversine(driverPos, s.routeOrigin) > DriftRecomputeMeters
	s.mu.Unlock()

	if !needed {
		return
	}

	s.dispatcher.Request(context.Background(), driverPos, dest, func(r route.Route) {
		s.mu.Lock()
		s.current = r
		s.routeOrigin = driverPos
		s.routeDest = dest
		s.hasRoute = true
		s.tracker = guidance.NewTracker(r)
		s.mu.Unlock()
		s.log.Info(context.Background(), "viewer_route_ready", "Route to driver destination computed", map[string]any{
			"viewer_id": s.viewerID,
			"source":    r.Source,
			"points":    len(r.Coordinates),
		})
	})
}

func (s *ViewerSession) handleDriverDisconnect(payload json.RawMessage) {
	var msg contracts.DriverDisconnectMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return
	}

	s.mu.Lock()
	s.hasRoute = false
	s.current = route.Route{}
	s.tracker = nil
	s.lastPhase = trip.PhaseIdle
	fn := s.onDisconnect
	s.mu.Unlock()

	s.log.Info(context.Background(), "driver_feed_ended", "Tracked driver disconnected", map[string]any{
		"viewer_id":       s.viewerID,
		"track_driver_id": s.trackDriverID,
	})
	if fn != nil {
		fn(msg.Payload)
	}
}
