package relay

import (
	"context"
	"sync"

	"cabtrack/internal/general/contracts"
	"cabtrack/internal/general/logger"
)

// hub stores all active connections: drivers keyed by driver id, viewers
// grouped under the driver feed they follow. It also remembers each driver's
// last snapshot so a late-joining viewer gets a position immediately.
type hub struct {
	mu           sync.RWMutex
	drivers      map[string]*client
	viewers      map[string]map[*client]struct{} // tracked driver id -> viewers
	lastSnapshot map[string]contracts.LocationUpdateMessage

	log *logger.Logger
}

func newHub(log *logger.Logger) *hub {
	return &hub{
		drivers:      make(map[string]*client),
		viewers:      make(map[string]map[*client]struct{}),
		lastSnapshot: make(map[string]contracts.LocationUpdateMessage),
		log:          log,
	}
}

// addDriver registers a driver connection. A second registration for the same
// driver id replaces the first; the stale socket is closed so its read loop
// unblocks.
func (h *hub) addDriver(c *client) {
	h.mu.Lock()
	old, existed := h.drivers[c.id]
	h.drivers[c.id] = c
	h.mu.Unlock()

	if existed {
		_ = old.conn.Close()
		h.log.Info(context.Background(), "driver_conn_replaced", "Driver reconnected, replacing previous socket",
			map[string]any{"driver_id": c.id})
	}
}

// removeDriver drops a driver entry, but only if it still maps to the given
// client. A reconnect may already have replaced it.
func (h *hub) removeDriver(c *client) {
	h.mu.Lock()
	if cur, ok := h.drivers[c.id]; ok && cur == c {
		delete(h.drivers, c.id)
	}
	h.mu.Unlock()
}

func (h *hub) addViewer(c *client) {
	h.mu.Lock()
	set, ok := h.viewers[c.trackDriverID]
	if !ok {
		set = make(map[*client]struct{})
		h.viewers[c.trackDriverID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) removeViewer(c *client) {
	h.mu.Lock()
	if set, ok := h.viewers[c.trackDriverID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.viewers, c.trackDriverID)
		}
	}
	h.mu.Unlock()
}

// broadcast relays one driver snapshot to every viewer of that feed and
// records it for late joiners.
func (h *hub) broadcast(driverID string, msg contracts.LocationUpdateMessage) {
	h.mu.Lock()
	h.lastSnapshot[driverID] = msg
	targets := h.viewersOfLocked(driverID)
	h.mu.Unlock()

	for _, v := range targets {
		if err := v.writeJSON(msg); err != nil {
			h.log.Warn(context.Background(), "viewer_write_failed", "Dropping unreachable viewer", map[string]any{
				"viewer_id": v.id,
				"driver_id": driverID,
				"error":     err.Error(),
			})
			_ = v.conn.Close()
		}
	}
}

// notifyDisconnect forwards the intentional teardown notice to viewers and
// clears the driver's cached snapshot.
func (h *hub) notifyDisconnect(driverID string, msg contracts.DriverDisconnectMessage) {
	h.mu.Lock()
	delete(h.lastSnapshot, driverID)
	targets := h.viewersOfLocked(driverID)
	h.mu.Unlock()

	for _, v := range targets {
		_ = v.writeJSON(msg)
	}
}

// replayLast sends the most recent snapshot of the tracked driver, if any.
func (h *hub) replayLast(c *client) {
	h.mu.RLock()
	msg, ok := h.lastSnapshot[c.trackDriverID]
	h.mu.RUnlock()
	if ok {
		_ = c.writeJSON(msg)
	}
}

func (h *hub) viewersOfLocked(driverID string) []*client {
	set := h.viewers[driverID]
	out := make([]*client, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	return out
}

// connectedDrivers returns the ids of all registered drivers.
func (h *hub) connectedDrivers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.drivers))
	for id := range h.drivers {
		ids = append(ids, id)
	}
	return ids
}
