package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"cabtrack/internal/general/contracts"
	"cabtrack/internal/general/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// State is the lifecycle state of the underlying socket.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

const dialTimeout = 10 * time.Second

// Identity describes who is registering on the channel.
type Identity struct {
	Role          string         // contracts.RoleDriver or contracts.RoleViewer
	DriverID      string         // driver clients
	ViewerID      string         // viewer clients
	TrackDriverID string         // viewer clients: the driver feed to follow
	CabNumber     string         // included in the teardown notice
	Metadata      map[string]any // cab metadata sent with register
	Token         string         // bearer token when the relay enforces auth
}

// registerMessage builds the register frame for this identity.
func (id Identity) registerMessage() contracts.RegisterMessage {
	return contracts.RegisterMessage{
		Type:          contracts.TypeRegister,
		Role:          id.Role,
		DriverID:      id.DriverID,
		ViewerID:      id.ViewerID,
		TrackDriverID: id.TrackDriverID,
		Metadata:      id.Metadata,
		Token:         id.Token,
	}
}

// logID returns whichever client id is set, for log fields.
func (id Identity) logID() string {
	if id.DriverID != "" {
		return id.DriverID
	}
	return id.ViewerID
}

// Handler consumes one parsed inbound frame of a given type.
type Handler func(payload json.RawMessage)

// Options tunes the channel. Zero values fall back to the defaults the config
// package also applies.
type Options struct {
	URL                  string
	HeartbeatInterval    time.Duration
	ReconnectBase        time.Duration
	ReconnectCap         time.Duration
	MaxReconnectAttempts int
	Dialer               *websocket.Dialer
}

func (o *Options) applyDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 25 * time.Second
	}
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = 2 * time.Second
	}
	if o.ReconnectCap <= 0 {
		o.ReconnectCap = 30 * time.Second
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 10
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
}

// NewReconnectBackoff builds the delay source for reconnect attempts:
// min(base*2^attempt, cap) with no jitter, so the first retry waits 2*base.
func NewReconnectBackoff(base, cap time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * base
	b.Multiplier = 2
	b.MaxInterval = cap
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Channel is one logical realtime connection for a single client role. It
// survives transient network loss via exponential-backoff reconnection and
// dispatches inbound JSON frames by their `type` discriminator.
//
// The channel is exclusively owned by the session that created it; transport
// failures never propagate to callers; they resolve into the reconnect path.
type Channel struct {
	opts     Options
	identity Identity
	log      *logger.Logger

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	generation int  // guards against a stale dial overwriting a newer one
	intent     bool // intentional close: suppress reconnect

	attempts int
	delays   *backoff.ExponentialBackOff
	retry    *time.Timer

	writeMu sync.Mutex

	handlers map[string]Handler
	onOpen   func()

	heartbeatStop chan struct{}
}

// NewChannel creates a closed channel for the given identity.
func NewChannel(opts Options, identity Identity, log *logger.Logger) *Channel {
	opts.applyDefaults()
	return &Channel{
		opts:     opts,
		identity: identity,
		log:      log,
		state:    StateClosed,
		delays:   NewReconnectBackoff(opts.ReconnectBase, opts.ReconnectCap),
		handlers: make(map[string]Handler),
	}
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the current reconnect attempt counter (0 after a
// successful open).
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Handle registers a dispatcher for one message type. Unknown inbound types
// are ignored without error.
func (c *Channel) Handle(msgType string, fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = fn
}

// OnOpen registers a hook fired after every successful open (including
// reconnects), once the register frame has been sent. The broadcast loop uses
// it to close the staleness window after a reconnect.
func (c *Channel) OnOpen(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOpen = fn
}

// Connect opens the socket if none is open or connecting; a duplicate call is
// a silent no-op. Dial failures are not returned; they feed the reconnect
// logic like any other transport failure. An explicit Connect also re-arms the
// channel after the attempt ceiling was hit.
func (c *Channel) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateOpen || c.state == StateConnecting {
		c.mu.Unlock()
		c.log.Debug(ctx, "channel_connect_dedup", "Connect ignored, channel already open or connecting", nil)
		return
	}
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.state = StateConnecting
	c.intent = false
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	go c.dial(ctx, gen)
}

// dial performs one connection attempt for the given generation.
func (c *Channel) dial(ctx context.Context, gen int) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := c.opts.Dialer.DialContext(dialCtx, c.opts.URL, nil)

	c.mu.Lock()
	if gen != c.generation || c.state != StateConnecting {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.log.Warn(ctx, "channel_dial_failed", "Failed to open socket", map[string]any{
			"url": c.opts.URL, "error": err.Error(),
		})
		c.handleClosed(ctx)
		return
	}

	c.conn = conn
	c.state = StateOpen
	c.attempts = 0
	c.delays.Reset()
	c.heartbeatStop = make(chan struct{})
	stop := c.heartbeatStop
	onOpen := c.onOpen
	c.mu.Unlock()

	c.log.Info(ctx, "channel_open", "Socket established", map[string]any{
		"url": c.opts.URL, "role": c.identity.Role, "client_id": c.identity.logID(),
	})

	// register first, then surface the open event
	c.Send(ctx, c.identity.registerMessage())

	go c.heartbeat(ctx, stop)
	go c.readLoop(ctx, conn, gen)

	if onOpen != nil {
		onOpen()
	}
}

// Send serializes and transmits a message only while the channel is open;
// otherwise it logs and drops. Snapshots are time-sensitive, so nothing is
// ever queued: a stale queued send is worse than a dropped one.
func (c *Channel) Send(ctx context.Context, msg any) {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || conn == nil {
		c.log.Debug(ctx, "channel_send_dropped", "Send dropped, channel not open", map[string]any{
			"state": string(c.State()),
		})
		return
	}

	c.writeMu.Lock()
	err := conn.WriteJSON(msg)
	c.writeMu.Unlock()

	if err != nil {
		// the read loop will observe the broken socket and trigger reconnect
		c.log.Warn(ctx, "channel_send_failed", "Socket write failed", map[string]any{
			"error": err.Error(),
		})
	}
}

// heartbeat sends a ping frame at a fixed interval while the socket is up.
func (c *Channel) heartbeat(ctx context.Context, stop chan struct{}) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.Send(ctx, contracts.PingMessage{Type: contracts.TypePing})
		}
	}
}

// readLoop consumes frames until the socket dies, dispatching by type.
func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			stale := gen != c.generation
			intentional := c.intent
			c.mu.Unlock()
			if stale {
				return
			}
			if !intentional {
				c.log.Warn(ctx, "channel_closed", "Socket closed unexpectedly", map[string]any{
					"error": err.Error(),
				})
			}
			c.handleClosed(ctx)
			return
		}

		var env contracts.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			c.log.Debug(ctx, "channel_bad_frame", "Dropping non-JSON or untyped frame", nil)
			continue
		}

		c.mu.Lock()
		handler := c.handlers[env.Type]
		c.mu.Unlock()

		if handler != nil {
			handler(data)
		}
	}
}

// Disconnect sends a best-effort teardown notice, closes with a normal-closure
// code, and suppresses the automatic reconnect path.
func (c *Channel) Disconnect(ctx context.Context, reason string) {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateClosing {
		c.mu.Unlock()
		return
	}
	c.intent = true
	c.state = StateClosing
	conn := c.conn
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.mu.Unlock()

	if conn != nil {
		if c.identity.Role == contracts.RoleDriver {
			// best-effort teardown notice, written directly since the state
			// already moved to closing
			c.writeMu.Lock()
			_ = conn.WriteJSON(contracts.DriverDisconnectMessage{
				Type: contracts.TypeDriverDisconnect,
				Payload: contracts.DriverDisconnectPayload{
					DriverID:  c.identity.DriverID,
					CabNumber: c.identity.CabNumber,
				},
			})
			c.writeMu.Unlock()
		}

		c.writeMu.Lock()
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
			time.Now().Add(2*time.Second),
		)
		c.writeMu.Unlock()
		_ = conn.Close()
	}

	c.teardown()
	c.log.Info(ctx, "channel_disconnected", "Channel closed intentionally", map[string]any{
		"reason": reason,
	})
}

// handleClosed runs the shared close path: cleanup plus, for non-intentional
// closures under the attempt ceiling, a scheduled reconnect.
func (c *Channel) handleClosed(ctx context.Context) {
	c.mu.Lock()
	intentional := c.intent
	c.stopHeartbeatLocked()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = StateClosed

	if intentional {
		c.mu.Unlock()
		return
	}

	if c.attempts >= c.opts.MaxReconnectAttempts {
		c.mu.Unlock()
		c.log.Error(ctx, "channel_retries_exhausted", "Reconnect attempt ceiling reached; manual reconnect required", nil, map[string]any{
			"attempts": c.opts.MaxReconnectAttempts,
		})
		return
	}

	c.attempts++
	attempt := c.attempts
	delay := c.delays.NextBackOff()
	c.retry = time.AfterFunc(delay, func() {
		c.Connect(ctx)
	})
	c.mu.Unlock()

	c.log.Info(ctx, "channel_reconnect_scheduled", "Reconnect scheduled", map[string]any{
		"attempt":  attempt,
		"delay_ms": delay.Milliseconds(),
	})
}

// teardown clears connection state after an intentional close.
func (c *Channel) teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopHeartbeatLocked()
	c.conn = nil
	c.state = StateClosed
	c.attempts = 0
	c.delays.Reset()
}

// stopHeartbeatLocked stops the heartbeat goroutine. Caller holds c.mu.
func (c *Channel) stopHeartbeatLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}
