package geo

import (
	"errors"
	"strings"
	"time"
)

// ID is a type alias for snapshot history row IDs (UUIDs in DB).
type ID string

// SnapshotRecord is the domain entity corresponding to the `snapshot_history`
// table kept by the relay when an archive database is configured.
type SnapshotRecord struct {
	ID         ID
	DriverID   string
	Position   Coordinate
	Phase      string
	Pickup     *Coordinate
	Drop       *Coordinate
	RecordedAt time.Time
}

var (
	ErrMissingDriverID    = errors.New("driver ID is missing")
	ErrMissingPhase       = errors.New("trip phase is missing")
	ErrRecordedAtZeroTime = errors.New("recorded_at must be a valid timestamp")
)

// NewSnapshotRecord constructs a SnapshotRecord. Pickup and drop are optional.
func NewSnapshotRecord(driverID string, position Coordinate, phase string, pickup, drop *Coordinate, recordedAt time.Time) (*SnapshotRecord, error) {
	record := &SnapshotRecord{
		DriverID:   strings.TrimSpace(driverID),
		Position:   position,
		Phase:      strings.TrimSpace(phase),
		Pickup:     pickup,
		Drop:       drop,
		RecordedAt: recordedAt,
	}

	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now().UTC()
	}

	if err := record.Validate(); err != nil {
		return nil, err
	}
	return record, nil
}

// Validate checks invariants of the SnapshotRecord entity.
func (record SnapshotRecord) Validate() error {
	if record.DriverID == "" {
		return ErrMissingDriverID
	}
	if record.Phase == "" {
		return ErrMissingPhase
	}
	if err := record.Position.Validate(); err != nil {
		return err
	}
	if record.Pickup != nil {
		if err := record.Pickup.Validate(); err != nil {
			return err
		}
	}
	if record.Drop != nil {
		if err := record.Drop.Validate(); err != nil {
			return err
		}
	}
	if record.RecordedAt.IsZero() {
		return ErrRecordedAtZeroTime
	}
	return nil
}
