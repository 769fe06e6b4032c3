package contracts

import (
	"time"

	"cabtrack/internal/domain/geo"
	"cabtrack/internal/domain/trip"
)

// Envelope is the minimal frame used to peek at the `type` discriminator
// before full decoding.
type Envelope struct {
	Type string `json:"type"`
}

// RegisterMessage is sent once per successful connection, immediately after
// the socket opens. Drivers carry cab metadata; viewers name the driver whose
// feed they follow.
type RegisterMessage struct {
	Type          string         `json:"type"` // always "register"
	Role          string         `json:"role"` // "driver" | "viewer"
	DriverID      string         `json:"driverId,omitempty"`
	ViewerID      string         `json:"viewerId,omitempty"`
	TrackDriverID string         `json:"trackDriverId,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Token         string         `json:"token,omitempty"` // bearer token when the relay enforces auth
}

// PingMessage is the heartbeat; the server replies with a PongMessage which
// clients ignore beyond liveness.
type PingMessage struct {
	Type string `json:"type"` // always "ping"
}

// PongMessage is the heartbeat reply.
type PongMessage struct {
	Type string `json:"type"` // always "pong"
}

// LocationPayload is the common driver snapshot body shared by outbound
// `location` and inbound `location_update` messages.
type LocationPayload struct {
	Latitude      float64         `json:"latitude"`
	Longitude     float64         `json:"longitude"`
	Timestamp     string          `json:"timestamp"` // ISO-8601
	Phase         trip.Phase      `json:"phase"`
	Pickup        *geo.Coordinate `json:"pickup,omitempty"`
	Drop          *geo.Coordinate `json:"drop,omitempty"`
	PickupAddress string          `json:"pickupAddress,omitempty"`
	DropAddress   string          `json:"dropAddress,omitempty"`
}

// Position returns the snapshot position as a coordinate.
func (p LocationPayload) Position() geo.Coordinate {
	return geo.Coordinate{Lat: p.Latitude, Lng: p.Longitude}
}

// LocationMessage is the driver snapshot broadcast.
type LocationMessage struct {
	Type     string          `json:"type"` // always "location"
	DriverID string          `json:"driverId"`
	Role     string          `json:"role"` // always "driver"
	Location LocationPayload `json:"location"`
}

// LocationUpdateMessage is the snapshot as relayed to viewers.
type LocationUpdateMessage struct {
	Type     string          `json:"type"` // always "location_update"
	Location LocationPayload `json:"location"`
	DriverID string          `json:"driverId,omitempty"`
}

// RegisterConfirmationMessage acknowledges a register.
type RegisterConfirmationMessage struct {
	Type    string `json:"type"` // always "register_confirmation"
	Message string `json:"message"`
}

// DriverDisconnectPayload identifies the feed that ended.
type DriverDisconnectPayload struct {
	DriverID  string `json:"driverId"`
	CabNumber string `json:"cabNumber,omitempty"`
}

// DriverDisconnectMessage is the intentional teardown notice, distinct from
// ordinary snapshots: it tells viewers the feed ended on purpose.
type DriverDisconnectMessage struct {
	Type    string                  `json:"type"` // always "DRIVER_DISCONNECT"
	Payload DriverDisconnectPayload `json:"payload"`
}

// ErrorMessage reports a protocol-level problem back to a client.
type ErrorMessage struct {
	Type  string `json:"type"` // always "error"
	Error string `json:"error"`
}

// SnapshotQueueMessage is the relay's RabbitMQ fanout of a driver snapshot.
// Exchange: ExchangeSnapshotFanout (fanout, no routing key).
type SnapshotQueueMessage struct {
	DriverID  string          `json:"driver_id"`
	Location  LocationPayload `json:"location"`
	Timestamp time.Time       `json:"timestamp"`

	// cross-cutting headers, same shape as the rest of the platform
	CorrelationID string `json:"correlation_id,omitempty"`
	Producer      string `json:"producer,omitempty"`
}

// NewSnapshot builds a LocationMessage for the given driver state.
func NewSnapshot(driverID string, position geo.Coordinate, phase trip.Phase, pickup, drop *geo.Coordinate, pickupAddr, dropAddr string) LocationMessage {
	return LocationMessage{
		Type:     TypeLocation,
		DriverID: driverID,
		Role:     RoleDriver,
		Location: LocationPayload{
			Latitude:      position.Lat,
			Longitude:     position.Lng,
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
			Phase:         phase,
			Pickup:        pickup,
			Drop:          drop,
			PickupAddress: pickupAddr,
			DropAddress:   dropAddr,
		},
	}
}
