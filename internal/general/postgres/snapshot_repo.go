package postgres

import (
	"context"
	"fmt"

	"cabtrack/internal/domain/geo"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SnapshotRepo persists driver snapshot rows using pgx and plain SQL.
type SnapshotRepo struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepo constructs a SnapshotRepo over an established pool.
func NewSnapshotRepo(pool *pgxpool.Pool) *SnapshotRepo {
	return &SnapshotRepo{pool: pool}
}

// Archive inserts a single snapshot_history record.
func (repo *SnapshotRepo) Archive(ctx context.Context, record *geo.SnapshotRecord) error {
	// validate domain invariants
	if err := record.Validate(); err != nil {
		return err
	}

	var pickupLat, pickupLng, dropLat, dropLng *float64
	if record.Pickup != nil {
		pickupLat, pickupLng = &record.Pickup.Lat, &record.Pickup.Lng
	}
	if record.Drop != nil {
		dropLat, dropLng = &record.Drop.Lat, &record.Drop.Lng
	}

	var insertedID string
	err := repo.pool.QueryRow(ctx, `
		INSERT INTO snapshot_history (
			driver_id, latitude, longitude, phase,
			pickup_latitude, pickup_longitude,
			drop_latitude, drop_longitude,
			recorded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, now()))
		RETURNING id
	`,
		record.DriverID,
		record.Position.Lat,
		record.Position.Lng,
		record.Phase,
		pickupLat,
		pickupLng,
		dropLat,
		dropLng,
		record.RecordedAt,
	).Scan(&insertedID)
	if err != nil {
		return fmt.Errorf("insert snapshot_history: %w", err)
	}

	record.ID = geo.ID(insertedID)

	return nil
}

// RecentByDriver returns the latest archived snapshots for a driver, newest
// first, capped at limit.
func (repo *SnapshotRepo) RecentByDriver(ctx context.Context, driverID string, limit int) ([]geo.SnapshotRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := repo.pool.Query(ctx, `
		SELECT id, driver_id, latitude, longitude, phase,
		       pickup_latitude, pickup_longitude,
		       drop_latitude, drop_longitude,
		       recorded_at
		FROM snapshot_history
		WHERE driver_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, driverID, limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshot_history: %w", err)
	}
	defer rows.Close()

	var records []geo.SnapshotRecord
	for rows.Next() {
		var (
			rec                  geo.SnapshotRecord
			pickupLat, pickupLng *float64
			dropLat, dropLng     *float64
		)
		if err := rows.Scan(
			&rec.ID, &rec.DriverID, &rec.Position.Lat, &rec.Position.Lng, &rec.Phase,
			&pickupLat, &pickupLng, &dropLat, &dropLng, &rec.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot_history: %w", err)
		}
		if pickupLat != nil && pickupLng != nil {
			rec.Pickup = &geo.Coordinate{Lat: *pickupLat, Lng: *pickupLng}
		}
		if dropLat != nil && dropLng != nil {
			rec.Drop = &geo.Coordinate{Lat: *dropLat, Lng: *dropLng}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
