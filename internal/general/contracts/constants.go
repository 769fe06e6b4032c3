package contracts

// Socket message types. These are the `type` discriminators of the mobile wire
// protocol; DRIVER_DISCONNECT is uppercase because the deployed clients already
// send it that way.
const (
	TypeRegister             = "register"
	TypePing                 = "ping"
	TypePong                 = "pong"
	TypeLocation             = "location"
	TypeLocationUpdate       = "location_update"
	TypeRegisterConfirmation = "register_confirmation"
	TypeDriverDisconnect     = "DRIVER_DISCONNECT"
	TypeError                = "error"
)

// Client roles carried in register messages.
const (
	RoleDriver = "driver"
	RoleViewer = "viewer"
)

// RabbitMQ topology used by the relay's optional snapshot fanout.
const (
	ExchangeSnapshotFanout = "snapshot_fanout"
	QueueSnapshotArchive   = "snapshot_archive"
)
