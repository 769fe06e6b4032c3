package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout   = 5 * time.Second
	closeAckWindow = 2 * time.Second
)

// client wraps one socket with its identity and a write lock. gorilla
// connections allow a single concurrent writer, so every outbound frame goes
// through writeJSON.
type client struct {
	conn *websocket.Conn
	role string
	id   string // driver id or viewer id

	// viewers only: the driver feed they follow
	trackDriverID string

	writeMu sync.Mutex
}

func (c *client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

// writeClose sends a close control frame with the given code and reason.
func (c *client) writeClose(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(closeAckWindow),
	)
}
