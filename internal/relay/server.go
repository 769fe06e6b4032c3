// Package relay implements the socket server that drivers publish their
// position to and viewers follow it from. The first frame on every
// connection must be a register message; after that drivers stream location
// snapshots which fan out to the viewers tracking them.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cabtrack/internal/domain/geo"
	"cabtrack/internal/general/contracts"
	"cabtrack/internal/general/jwt"
	"cabtrack/internal/general/logger"

	"github.com/gorilla/websocket"
)

const (
	registerWindow = 5 * time.Second
	readIdleLimit  = 60 * time.Second
	pingEvery      = 30 * time.Second
	ctrlTimeout    = 5 * time.Second
)

// SnapshotArchiver persists driver snapshots. Satisfied by the Postgres
// snapshot repo.
type SnapshotArchiver interface {
	Archive(ctx context.Context, record *geo.SnapshotRecord) error
}

// SnapshotFanout publishes driver snapshots for downstream consumers.
// Satisfied by the RabbitMQ snapshot publisher.
type SnapshotFanout interface {
	PublishSnapshot(msg contracts.SnapshotQueueMessage) error
}

// Options carries the relay's optional integrations. Any nil field disables
// that integration.
type Options struct {
	Auth    *jwt.Manager     // register token verification
	Archive SnapshotArchiver // snapshot history persistence
	Fanout  SnapshotFanout   // snapshot broadcast to the message bus
}

// Server handles websocket connections from drivers and viewers.
type Server struct {
	log      *logger.Logger
	opts     Options
	hub      *hub
	upgrader websocket.Upgrader
}

// NewServer creates a relay server.
func NewServer(log *logger.Logger, opts Options) *Server {
	return &Server{
		log:  log,
		opts: opts,
		hub:  newHub(log),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Routes returns the relay's HTTP mux: the socket endpoint and a health probe.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"drivers": len(s.hub.connectedDrivers()),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error(r.Context(), "websocket_upgrade_failed", "Failed to upgrade to WebSocket", err, nil)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(1 << 20) // 1 MiB

	// the register frame must arrive inside the window
	if err := conn.SetReadDeadline(time.Now().Add(registerWindow)); err != nil {
		s.log.Error(r.Context(), "ws_set_deadline_failed", "Failed to set initial read deadline", err, nil)
		return
	}

	var reg contracts.RegisterMessage
	if err := conn.ReadJSON(&reg); err != nil {
		s.log.Error(r.Context(), "ws_register_read_failed", "Client did not register in time", err, nil)
		_ = conn.WriteJSON(contracts.ErrorMessage{Type: contracts.TypeError, Error: "registration timeout: send a register message within 5 seconds"})
		return
	}
	if reg.Type != contracts.TypeRegister {
		_ = conn.WriteJSON(contracts.ErrorMessage{Type: contracts.TypeError, Error: "first message must be register"})
		return
	}

	c, err := s.admit(conn, reg)
	if err != nil {
		s.log.Error(r.Context(), "ws_register_rejected", "Register message rejected", err, map[string]any{
			"role": reg.Role,
		})
		_ = conn.WriteJSON(contracts.ErrorMessage{Type: contracts.TypeError, Error: err.Error()})
		return
	}

	if err := c.writeJSON(contracts.RegisterConfirmationMessage{
		Type:    contracts.TypeRegisterConfirmation,
		Message: "registered as " + c.role,
	}); err != nil {
		s.log.Error(r.Context(), "ws_confirm_failed", "Failed to confirm registration", err, nil)
		return
	}

	ctx := s.log.WithDriverID(r.Context(), c.id)
	s.log.Info(ctx, "ws_registered", "Client registered", map[string]any{
		"role":            c.role,
		"track_driver_id": c.trackDriverID,
	})

	// liveness: protocol-level keepalive from the server side, on top of the
	// clients' own application pings
	_ = conn.SetReadDeadline(time.Now().Add(readIdleLimit))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readIdleLimit))
	})
	stopPings := s.startPingLoop(ctx, c)
	defer stopPings()

	switch c.role {
	case contracts.RoleDriver:
		s.hub.addDriver(c)
		defer s.hub.removeDriver(c)
		s.serveDriver(ctx, c)
	case contracts.RoleViewer:
		s.hub.addViewer(c)
		defer s.hub.removeViewer(c)
		s.hub.replayLast(c)
		s.serveViewer(ctx, c)
	}
}

// admit validates a register message and, when auth is configured, its token.
func (s *Server) admit(conn *websocket.Conn, reg contracts.RegisterMessage) (*client, error) {
	c := &client{conn: conn, role: strings.ToLower(strings.TrimSpace(reg.Role))}

	switch c.role {
	case contracts.RoleDriver:
		c.id = strings.TrimSpace(reg.DriverID)
		if c.id == "" {
			return nil, fmt.Errorf("%w: driverId", ErrMissingField)
		}
	case contracts.RoleViewer:
		c.id = strings.TrimSpace(reg.ViewerID)
		c.trackDriverID = strings.TrimSpace(reg.TrackDriverID)
		if c.id == "" {
			return nil, fmt.Errorf("%w: viewerId", ErrMissingField)
		}
		if c.trackDriverID == "" {
			return nil, fmt.Errorf("%w: trackDriverId", ErrMissingField)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, reg.Role)
	}

	if s.opts.Auth != nil {
		if _, err := s.opts.Auth.VerifyRegister(reg.Token, c.id, c.role); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (s *Server) startPingLoop(ctx context.Context, c *client) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				c.writeMu.Lock()
				err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctrlTimeout))
				c.writeMu.Unlock()
				if err != nil {
					// close the socket to unblock the reader
					_ = c.conn.Close()
					s.log.Error(ctx, "ws_ping_failed", "Failed to send ping", err, nil)
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

// serveDriver runs the driver read loop: snapshots fan out to viewers, the
// teardown notice is forwarded, pings get pongs.
func (s *Server) serveDriver(ctx context.Context, c *client) {
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(readIdleLimit))
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			s.logClose(ctx, c, err)
			return
		}

		var env contracts.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			_ = c.writeJSON(contracts.ErrorMessage{Type: contracts.TypeError, Error: "bad json"})
			continue
		}

		switch env.Type {
		case contracts.TypePing:
			_ = c.writeJSON(contracts.PongMessage{Type: contracts.TypePong})

		case contracts.TypeLocation:
			var msg contracts.LocationMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				_ = c.writeJSON(contracts.ErrorMessage{Type: contracts.TypeError, Error: "bad location message"})
				continue
			}
			s.handleSnapshot(ctx, c, msg)

		case contracts.TypeDriverDisconnect:
			var msg contracts.DriverDisconnectMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				continue
			}
			if msg.Payload.DriverID == "" {
				msg.Payload.DriverID = c.id
			}
			s.hub.notifyDisconnect(c.id, msg)
			s.log.Info(ctx, "driver_disconnect_forwarded", "Driver announced teardown", map[string]any{
				"cab_number": msg.Payload.CabNumber,
			})

		default:
			_ = c.writeJSON(contracts.ErrorMessage{Type: contracts.TypeError, Error: "unknown message type"})
		}
	}
}

// serveViewer runs the viewer read loop. Viewers only ever send pings.
func (s *Server) serveViewer(ctx context.Context, c *client) {
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(readIdleLimit))
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			s.logClose(ctx, c, err)
			return
		}

		var env contracts.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			_ = c.writeJSON(contracts.ErrorMessage{Type: contracts.TypeError, Error: "bad json"})
			continue
		}

		switch env.Type {
		case contracts.TypePing:
			_ = c.writeJSON(contracts.PongMessage{Type: contracts.TypePong})
		default:
			_ = c.writeJSON(contracts.ErrorMessage{Type: contracts.TypeError, Error: "unknown message type"})
		}
	}
}

// handleSnapshot relays one driver snapshot and feeds the optional archive
// and fanout integrations. Integration failures are logged, never propagated
// to the socket.
func (s *Server) handleSnapshot(ctx context.Context, c *client, msg contracts.LocationMessage) {
	if err := msg.Location.Position().Validate(); err != nil {
		_ = c.writeJSON(contracts.ErrorMessage{Type: contracts.TypeError, Error: err.Error()})
		return
	}

	update := contracts.LocationUpdateMessage{
		Type:     contracts.TypeLocationUpdate,
		Location: msg.Location,
		DriverID: c.id,
	}
	s.hub.broadcast(c.id, update)

	if s.opts.Archive != nil {
		record, err := geo.NewSnapshotRecord(c.id, msg.Location.Position(), string(msg.Location.Phase),
			msg.Location.Pickup, msg.Location.Drop, time.Now().UTC())
		if err == nil {
			err = s.opts.Archive.Archive(ctx, record)
		}
		if err != nil {
			s.log.Error(ctx, "snapshot_archive_failed", "Failed to archive snapshot", err, nil)
		}
	}

	if s.opts.Fanout != nil {
		err := s.opts.Fanout.PublishSnapshot(contracts.SnapshotQueueMessage{
			DriverID:  c.id,
			Location:  msg.Location,
			Timestamp: time.Now().UTC(),
			Producer:  "trackerd",
		})
		if err != nil {
			s.log.Error(ctx, "snapshot_fanout_failed", "Failed to publish snapshot", err, nil)
		}
	}
}

func (s *Server) logClose(ctx context.Context, c *client, err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
		s.log.Error(ctx, "ws_unexpected_close", "Connection closed unexpectedly", err, map[string]any{
			"role": c.role,
		})
		c.writeClose(websocket.CloseInternalServerErr, "internal error")
		return
	}
	s.log.Info(ctx, "ws_connection_closed", "Connection closed", map[string]any{
		"role": c.role,
	})
	c.writeClose(websocket.CloseNormalClosure, "bye")
}
