package realtime

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

	"cabtrack/internal/general/contracts"
	"cabtrack/internal/general/logger"

	"github.com/gorilla/websocket"
)

var testLog = logger.NewWithWriter("channel-test", io.Discard)

// fakeRelay is a minimal websocket endpoint recording every inbound frame.
type fakeRelay struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    int
	frames   []contracts.Envelope
	raw      []json.RawMessage
	lastConn *websocket.Conn
}

func newFakeRelay(t *testing.T) (*fakeRelay, *httptest.Server) {
	t.Helper()
	relay := &fakeRelay{t: t}
	srv := httptest.NewServer(http.HandlerFunc(relay.handle))
	t.Cleanup(srv.Close)
	return relay, srv
}

func (f *fakeRelay) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conns++
	f.lastConn = conn
	f.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env contracts.Envelope
		_ = json.Unmarshal(data, &env)
		f.mu.Lock()
		f.frames = append(f.frames, env)
		f.raw = append(f.raw, json.RawMessage(data))
		f.mu.Unlock()
	}
}

func (f *fakeRelay) connCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns
}

func (f *fakeRelay) frameTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, len(f.frames))
	for i, fr := range f.frames {
		types[i] = fr.Type
	}
	return types
}

func (f *fakeRelay) push(msg any) {
	f.mu.Lock()
	conn := f.lastConn
	f.mu.Unlock()
	if conn != nil {
		_ = conn.WriteJSON(msg)
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func driverIdentity() Identity {
	return Identity{
		Role:      contracts.RoleDriver,
		DriverID:  "drv-42",
		CabNumber: "KA-01-1234",
		Metadata:  map[string]any{"cabNumber": "KA-01-1234"},
	}
}

func TestReconnectBackoffSequence(t *testing.T) {
	b := NewReconnectBackoff(2*time.Second, 30*time.Second)

	want := []time.Duration{
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	var prev time.Duration
	for i, w := range want {
		got := b.NextBackOff()
		if got != w {
			t.Errorf("attempt %d: delay = %v, want %v", i+1, got, w)
		}
		if got < prev {
			t.Errorf("attempt %d: delay decreased from %v to %v", i+1, prev, got)
		}
		prev = got
	}

	b.Reset()
	if got := b.NextBackOff(); got != 4*time.Second {
		t.Errorf("after reset: delay = %v, want 4s", got)
	}
}

func TestConnectRegistersAndHeartbeats(t *testing.T) {
	relay, srv := newFakeRelay(t)

	ch := NewChannel(Options{
		URL:               wsURL(srv),
		HeartbeatInterval: 50 * time.Millisecond,
	}, driverIdentity(), testLog)

	ch.Connect(context.Background())
	defer ch.Disconnect(context.Background(), "test done")

	waitFor(t, 2*time.Second, func() bool {
		types := relay.frameTypes()
		return len(types) >= 2 && types[0] == contracts.TypeRegister
	})

	// register carries role and identity metadata
	relay.mu.Lock()
	var reg contracts.RegisterMessage
	if err := json.Unmarshal(relay.raw[0], &reg); err != nil {
		relay.mu.Unlock()
		t.Fatalf("decode register: %v", err)
	}
	relay.mu.Unlock()
	if reg.Role != contracts.RoleDriver || reg.DriverID != "drv-42" {
		t.Errorf("register = %+v", reg)
	}

	// heartbeat pings follow
	waitFor(t, 2*time.Second, func() bool {
		for _, ft := range relay.frameTypes() {
			if ft == contracts.TypePing {
				return true
			}
		}
		return false
	})

	if ch.State() != StateOpen {
		t.Errorf("state = %s, want open", ch.State())
	}
	if ch.Attempts() != 0 {
		t.Errorf("attempts = %d after successful open, want 0", ch.Attempts())
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	relay, srv := newFakeRelay(t)

	ch := NewChannel(Options{URL: wsURL(srv)}, driverIdentity(), testLog)
	ch.Connect(context.Background())
	defer ch.Disconnect(context.Background(), "test done")

	waitFor(t, 2*time.Second, func() bool { return ch.State() == StateOpen })

	// duplicate connects while open must not create more sockets
	ch.Connect(context.Background())
	ch.Connect(context.Background())
	time.Sleep(100 * time.Millisecond)

	if got := relay.connCount(); got != 1 {
		t.Errorf("server saw %d connections, want 1", got)
	}
}

func TestSendDroppedWhenClosed(t *testing.T) {
	_, srv := newFakeRelay(t)

	ch := NewChannel(Options{URL: wsURL(srv)}, driverIdentity(), testLog)

	// never connected: must not panic, must not block
	ch.Send(context.Background(), contracts.PingMessage{Type: contracts.TypePing})
	if ch.State() != StateClosed {
		t.Errorf("state = %s, want closed", ch.State())
	}
}

func TestDispatchByType(t *testing.T) {
	relay, srv := newFakeRelay(t)

	ch := NewChannel(Options{URL: wsURL(srv)}, driverIdentity(), testLog)

	confirmations := make(chan string, 1)
	ch.Handle(contracts.TypeRegisterConfirmation, func(payload json.RawMessage) {
		var msg contracts.RegisterConfirmationMessage
		_ = json.Unmarshal(payload, &msg)
		confirmations <- msg.Message
	})

	ch.Connect(context.Background())
	defer ch.Disconnect(context.Background(), "test done")
	waitFor(t, 2*time.Second, func() bool { return ch.State() == StateOpen })

	// an unknown type is ignored without error; a known one dispatches
	relay.push(map[string]any{"type": "fare_update", "amount": 12})
	relay.push(contracts.RegisterConfirmationMessage{
		Type:    contracts.TypeRegisterConfirmation,
		Message: "driver registered",
	})

	select {
	case got := <-confirmations:
		if got != "driver registered" {
			t.Errorf("confirmation message = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("register_confirmation was not dispatched")
	}
}

func TestReconnectAfterServerDrop(t *testing.T) {
	relay, srv := newFakeRelay(t)

	ch := NewChannel(Options{
		URL:           wsURL(srv),
		ReconnectBase: 10 * time.Millisecond,
		ReconnectCap:  50 * time.Millisecond,
	}, driverIdentity(), testLog)

	ch.Connect(context.Background())
	defer ch.Disconnect(context.Background(), "test done")
	waitFor(t, 2*time.Second, func() bool { return ch.State() == StateOpen })

	// kill the socket server-side: client must dial again and re-register
	relay.mu.Lock()
	relay.lastConn.Close()
	relay.mu.Unlock()

	waitFor(t, 3*time.Second, func() bool { return relay.connCount() >= 2 })
	waitFor(t, 2*time.Second, func() bool { return ch.State() == StateOpen })

	if ch.Attempts() != 0 {
		t.Errorf("attempts = %d after successful reconnect, want 0", ch.Attempts())
	}

	registers := 0
	for _, ft := range relay.frameTypes() {
		if ft == contracts.TypeRegister {
			registers++
		}
	}
	if registers < 2 {
		t.Errorf("saw %d register frames, want one per connection", registers)
	}
}

func TestDisconnectSuppressesReconnect(t *testing.T) {
	relay, srv := newFakeRelay(t)

	ch := NewChannel(Options{
		URL:           wsURL(srv),
		ReconnectBase: 10 * time.Millisecond,
		ReconnectCap:  50 * time.Millisecond,
	}, driverIdentity(), testLog)

	ch.Connect(context.Background())
	waitFor(t, 2*time.Second, func() bool { return ch.State() == StateOpen })

	ch.Disconnect(context.Background(), "shift over")
	waitFor(t, 2*time.Second, func() bool { return ch.State() == StateClosed })

	// the teardown notice reached the server
	waitFor(t, 2*time.Second, func() bool {
		for _, ft := range relay.frameTypes() {
			if ft == contracts.TypeDriverDisconnect {
				return true
			}
		}
		return false
	})

	// and no automatic reconnect follows
	time.Sleep(300 * time.Millisecond)
	if got := relay.connCount(); got != 1 {
		t.Errorf("server saw %d connections after intentional close, want 1", got)
	}
}
