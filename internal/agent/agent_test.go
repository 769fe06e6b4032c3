package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cabtrack/internal/domain/geo"
	"cabtrack/internal/domain/route"
	"cabtrack/internal/domain/trip"
	"cabtrack/internal/general/config"
	"cabtrack/internal/general/contracts"
	"cabtrack/internal/general/logger"
	"cabtrack/internal/position"
	"cabtrack/internal/routing"

	"github.com/gorilla/websocket"
)

var testLog = logger.NewWithWriter("agent-test", io.Discard)

var (
	tripOrigin = geo.Coordinate{Lat: 12.9716, Lng: 77.5946}
	tripPickup = geo.Coordinate{Lat: 12.9896, Lng: 77.5946} // ~2km north
	tripDrop   = geo.Coordinate{Lat: 13.0096, Lng: 77.5946} // further north
)

// fakeRelay records every inbound frame and can push frames back.
type fakeRelay struct {
	upgrader websocket.Upgrader

	mu       sync.Mutex
	raw      []json.RawMessage
	lastConn *websocket.Conn
}

func newFakeRelay(t *testing.T) (*fakeRelay, string) {
	t.Helper()
	relay := &fakeRelay{}
	srv := httptest.NewServer(http.HandlerFunc(relay.handle))
	t.Cleanup(srv.Close)
	return relay, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (f *fakeRelay) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.lastConn = conn
	f.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.raw = append(f.raw, json.RawMessage(data))
		f.mu.Unlock()
	}
}

func (f *fakeRelay) push(t *testing.T, msg any) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		conn := f.lastConn
		f.mu.Unlock()
		if conn != nil {
			if err := conn.WriteJSON(msg); err != nil {
				t.Fatalf("push: %v", err)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no client connection to push to")
}

// locations decodes every recorded location frame.
func (f *fakeRelay) locations() []contracts.LocationMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []contracts.LocationMessage
	for _, data := range f.raw {
		var env contracts.Envelope
		if json.Unmarshal(data, &env) != nil || env.Type != contracts.TypeLocation {
			continue
		}
		var msg contracts.LocationMessage
		if json.Unmarshal(data, &msg) == nil {
			out = append(out, msg)
		}
	}
	return out
}

func (f *fakeRelay) waitForPhase(t *testing.T, phase trip.Phase) contracts.LocationMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, msg := range f.locations() {
			if msg.Location.Phase == phase {
				return msg
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no location frame with phase %s arrived", phase)
	return contracts.LocationMessage{}
}

// feedSource is a hand-driven position source.
type feedSource struct {
	mu   sync.RWMutex
	last position.Fix
	set  bool
	ch   chan position.Fix
}

func newFeedSource() *feedSource { return &feedSource{ch: make(chan position.Fix, 16)} }

func (s *feedSource) Watch(ctx context.Context) <-chan position.Fix {
	out := make(chan position.Fix)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case fix := <-s.ch:
				s.mu.Lock()
				s.last, s.set = fix, true
				s.mu.Unlock()
				select {
				case out <- fix:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (s *feedSource) Current() (position.Fix, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.set
}

func (s *feedSource) move(c geo.Coordinate) {
	s.ch <- position.Fix{Coordinate: c, Timestamp: time.Now()}
}

// stubPlanner returns straight-line routes and records every request.
type stubPlanner struct {
	mu    sync.Mutex
	dests []geo.Coordinate
}

func (p *stubPlanner) Plan(_ context.Context, origin, dest geo.Coordinate) (route.Route, error) {
	p.mu.Lock()
	p.dests = append(p.dests, dest)
	p.mu.Unlock()
	return route.Route{
		Coordinates: []geo.Coordinate{origin, dest},
		Source:      route.SourceDirections,
	}, nil
}

func (p *stubPlanner) destinations() []geo.Coordinate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]geo.Coordinate(nil), p.dests...)
}

func testConfig(url string) *config.Config {
	cfg := config.Default()
	cfg.Channel.URL = url
	cfg.Channel.HeartbeatInterval = config.Duration(time.Hour) // quiet during tests
	cfg.Broadcast.Interval = config.Duration(50 * time.Millisecond)
	return cfg
}

func TestDriverSessionTripLifecycle(t *testing.T) {
	relay, url := newFakeRelay(t)
	source := newFeedSource()
	planner := &stubPlanner{}
	provider := routing.NewProviderChain(planner, nil, time.Second, testLog)

	session := NewDriverSession(testConfig(url), DriverConfig{
		DriverID: "driver-7", CabNumber: "KA-05-7777",
	}, source, provider, testLog)

	prompts := make(chan float64, 1)
	session.OnPickupPrompt(func(d float64) { prompts <- d })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	session.Start(ctx)
	defer session.Stop(context.Background())

	source.move(tripOrigin)
	relay.waitForPhase(t, trip.PhaseIdle)

	if err := session.StartTrip(tripPickup, tripDrop, "MG Road", "Airport"); err != nil {
		t.Fatalf("StartTrip: %v", err)
	}
	msg := relay.waitForPhase(t, trip.PhaseToPickup)
	if msg.Location.Pickup == nil || msg.Location.Drop == nil {
		t.Errorf("to_pickup snapshot missing waypoints: %+v", msg.Location)
	}
	if msg.Location.PickupAddress != "MG Road" {
		t.Errorf("pickupAddress = %q", msg.Location.PickupAddress)
	}

	// approach the pickup: the confirmation prompt fires once
	source.move(geo.Coordinate{Lat: tripPickup.Lat - 0.0005, Lng: tripPickup.Lng}) // ~55m short
	select {
	case d := <-prompts:
		if d > trip.DefaultArrivalThresholdMeters {
			t.Errorf("prompt distance = %f", d)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("pickup prompt never fired")
	}

	if err := session.ConfirmPickup(); err != nil {
		t.Fatalf("ConfirmPickup: %v", err)
	}
	relay.waitForPhase(t, trip.PhasePickupReached)

	if err := session.BeginDropOff(); err != nil {
		t.Fatalf("BeginDropOff: %v", err)
	}
	relay.waitForPhase(t, trip.PhaseToDrop)

	// arriving at the drop completes the trip automatically
	source.move(tripDrop)
	relay.waitForPhase(t, trip.PhaseCompleted)
	if session.Phase() != trip.PhaseCompleted {
		t.Errorf("phase = %s, want completed", session.Phase())
	}

	// completion halts the periodic loop
	time.Sleep(150 * time.Millisecond)
	before := len(relay.locations())
	time.Sleep(200 * time.Millisecond)
	if after := len(relay.locations()); after != before {
		t.Errorf("loop still broadcasting after completion: %d -> %d", before, after)
	}

	// both legs got a route
	dests := planner.destinations()
	if len(dests) < 2 || !dests[0].Equal(tripPickup, 1e-6) || !dests[len(dests)-1].Equal(tripDrop, 1e-6) {
		t.Errorf("planned destinations = %+v", dests)
	}
}

func TestDriverSessionSuppressesSnapshotWithoutFix(t *testing.T) {
	relay, url := newFakeRelay(t)
	planner := &stubPlanner{}
	provider := routing.NewProviderChain(planner, nil, time.Second, testLog)
	session := NewDriverSession(testConfig(url), DriverConfig{DriverID: "driver-7"}, newFeedSource(), provider, testLog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	session.Start(ctx)
	defer session.Stop(context.Background())

	time.Sleep(300 * time.Millisecond)
	if got := relay.locations(); len(got) != 0 {
		t.Errorf("broadcast %d snapshots before the first fix", len(got))
	}
}

func TestDriverSessionRoutesOnFirstFix(t *testing.T) {
	_, url := newFakeRelay(t)
	source := newFeedSource()
	planner := &stubPlanner{}
	provider := routing.NewProviderChain(planner, nil, time.Second, testLog)
	session := NewDriverSession(testConfig(url), DriverConfig{DriverID: "driver-7"}, source, provider, testLog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	session.Start(ctx)
	defer session.Stop(context.Background())

	// the trip starts before the GPS produced anything
	if err := session.StartTrip(tripPickup, tripDrop, "", ""); err != nil {
		t.Fatalf("StartTrip: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if dests := planner.destinations(); len(dests) != 0 {
		t.Fatalf("route requested without a fix: %+v", dests)
	}

	// the first fix triggers the deferred pickup-leg route
	source.move(tripOrigin)
	waitFor(t, func() bool {
		dests := planner.destinations()
		return len(dests) == 1 && dests[0].Equal(tripPickup, 1e-6)
	}, "pickup route never requested after the first fix")
}

func viewerUpdate(phase trip.Phase, pos geo.Coordinate, pickup, drop *geo.Coordinate) contracts.LocationUpdateMessage {
	return contracts.LocationUpdateMessage{
		Type:     contracts.TypeLocationUpdate,
		DriverID: "driver-7",
		Location: contracts.LocationPayload{
			Latitude:  pos.Lat,
			Longitude: pos.Lng,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Phase:     phase,
			Pickup:    pickup,
			Drop:      drop,
		},
	}
}

func TestViewerSessionFollowsFeed(t *testing.T) {
	relay, url := newFakeRelay(t)
	planner := &stubPlanner{}
	provider := routing.NewProviderChain(planner, nil, time.Second, testLog)

	session := NewViewerSession(testConfig(url), ViewerConfig{
		ViewerID: "viewer-1", TrackDriverID: "driver-7",
	}, provider, testLog)

	updates := make(chan contracts.LocationUpdateMessage, 16)
	session.OnUpdate(func(m contracts.LocationUpdateMessage) { updates <- m })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	session.Start(ctx)
	defer session.Stop(context.Background())

	relay.push(t, viewerUpdate(trip.PhaseToPickup, tripOrigin, &tripPickup, &tripDrop))

	select {
	case m := <-updates:
		if m.Location.Phase != trip.PhaseToPickup {
			t.Errorf("phase = %s", m.Location.Phase)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no update delivered")
	}

	// the first update plans a route to the pickup
	waitFor(t, func() bool {
		_, ok := session.Route()
		return ok
	}, "route never computed")
	if dests := planner.destinations(); len(dests) != 1 || !dests[0].Equal(tripPickup, 1e-6) {
		t.Fatalf("planned destinations = %+v", dests)
	}

	// a small move does not replan
	relay.push(t, viewerUpdate(trip.PhaseToPickup, geo.Coordinate{Lat: tripOrigin.Lat + 0.0002, Lng: tripOrigin.Lng}, &tripPickup, &tripDrop))
	<-updates
	time.Sleep(100 * time.Millisecond)
	if dests := planner.destinations(); len(dests) != 1 {
		t.Errorf("replanned after ~20m drift: %+v", dests)
	}

	// a large move replans toward the same destination
	relay.push(t, viewerUpdate(trip.PhaseToPickup, geo.Coordinate{Lat: tripOrigin.Lat + 0.002, Lng: tripOrigin.Lng}, &tripPickup, &tripDrop))
	<-updates
	waitFor(t, func() bool { return len(planner.destinations()) == 2 }, "no replan after >50m drift")
}

func TestViewerSessionIgnoresPhaseRegression(t *testing.T) {
	relay, url := newFakeRelay(t)
	planner := &stubPlanner{}
	provider := routing.NewProviderChain(planner, nil, time.Second, testLog)

	session := NewViewerSession(testConfig(url), ViewerConfig{
		ViewerID: "viewer-1", TrackDriverID: "driver-7",
	}, provider, testLog)

	updates := make(chan contracts.LocationUpdateMessage, 16)
	session.OnUpdate(func(m contracts.LocationUpdateMessage) { updates <- m })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	session.Start(ctx)
	defer session.Stop(context.Background())

	relay.push(t, viewerUpdate(trip.PhaseToDrop, tripPickup, &tripPickup, &tripDrop))
	<-updates
	waitFor(t, func() bool { return len(planner.destinations()) == 1 }, "no initial route")

	// a stale to_pickup frame arrives after the reconnect; the session must
	// not start routing back to the pickup
	relay.push(t, viewerUpdate(trip.PhaseToPickup, tripPickup, &tripPickup, &tripDrop))
	<-updates
	time.Sleep(100 * time.Millisecond)

	for _, d := range planner.destinations() {
		if d.Equal(tripPickup, 1e-6) {
			t.Fatalf("stale phase caused a route to the pickup: %+v", planner.destinations())
		}
	}
}

func TestViewerSessionDriverDisconnect(t *testing.T) {
	relay, url := newFakeRelay(t)
	planner := &stubPlanner{}
	provider := routing.NewProviderChain(planner, nil, time.Second, testLog)

	session := NewViewerSession(testConfig(url), ViewerConfig{
		ViewerID: "viewer-1", TrackDriverID: "driver-7",
	}, provider, testLog)

	gone := make(chan contracts.DriverDisconnectPayload, 1)
	session.OnDriverDisconnect(func(p contracts.DriverDisconnectPayload) { gone <- p })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	session.Start(ctx)
	defer session.Stop(context.Background())

	relay.push(t, viewerUpdate(trip.PhaseToPickup, tripOrigin, &tripPickup, &tripDrop))
	waitFor(t, func() bool {
		_, ok := session.Route()
		return ok
	}, "route never computed")

	relay.push(t, contracts.DriverDisconnectMessage{
		Type:    contracts.TypeDriverDisconnect,
		Payload: contracts.DriverDisconnectPayload{DriverID: "driver-7", CabNumber: "KA-05-7777"},
	})

	select {
	case p := <-gone:
		if p.CabNumber != "KA-05-7777" {
			t.Errorf("payload = %+v", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("disconnect callback never fired")
	}

	if _, ok := session.Route(); ok {
		t.Error("route survived the feed teardown")
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}
