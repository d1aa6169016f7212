package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/BathrobeBat/noise-sensor/pkg/models"
	"github.com/google/uuid"
)

// StoreReading inserts a raw reading. A zero timestamp is stored as NULL.
func (dm *DatabaseManager) StoreReading(ctx context.Context, r *models.Reading) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}

	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = time.Now().UTC()
	}

	var recordedAt sql.NullTime
	if r.HasTimestamp() {
		recordedAt = sql.NullTime{Time: r.Timestamp.UTC(), Valid: true}
	}

	query := `
        INSERT INTO readings (id, sensor_id, recorded_at, laeq, lamax, lamin, received_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `

	_, err := dm.ExecWithHealthCheck(ctx, query, r.ID, r.SensorID, recordedAt, r.LAeq, r.LAmax, r.LAmin, r.ReceivedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to store reading: %w", mapError(err))
	}
	return nil
}

// ListReadingsBetween returns a sensor's readings with from <= recorded_at < until,
// oldest first
func (dm *DatabaseManager) ListReadingsBetween(ctx context.Context, sensorID uuid.UUID, from, until time.Time) ([]models.Reading, error) {
	query := `
        SELECT id, sensor_id, recorded_at, laeq, lamax, lamin
        FROM readings
        WHERE sensor_id = $1 AND recorded_at >= $2 AND recorded_at < $3
        ORDER BY recorded_at ASC
    `

	rows, err := dm.QueryWithHealthCheck(ctx, query, sensorID, from.UTC(), until.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	readings := []models.Reading{}
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, *r)
	}

	return readings, rows.Err()
}

// LatestReading returns the reading with the greatest timestamp. Rows without
// a timestamp are never returned.
func (dm *DatabaseManager) LatestReading(ctx context.Context, sensorID uuid.UUID) (*models.Reading, error) {
	query := `
        SELECT id, sensor_id, recorded_at, laeq, lamax, lamin
        FROM readings
        WHERE sensor_id = $1 AND recorded_at IS NOT NULL
        ORDER BY recorded_at DESC
        LIMIT 1
    `

	r, err := scanReading(dm.QueryRowWithHealthCheck(ctx, query, sensorID))
	if err != nil {
		return nil, mapError(err)
	}
	return r, nil
}

// DeleteReadingsBefore removes readings recorded strictly before cutoff.
// Readings without a timestamp age by the time they were received.
func (dm *DatabaseManager) DeleteReadingsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := dm.ExecWithHealthCheck(ctx,
		`DELETE FROM readings WHERE COALESCE(recorded_at, received_at) < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete readings: %w", err)
	}
	return result.RowsAffected()
}

func scanReading(row rowScanner) (*models.Reading, error) {
	var r models.Reading
	var recordedAt sql.NullTime

	if err := row.Scan(&r.ID, &r.SensorID, &recordedAt, &r.LAeq, &r.LAmax, &r.LAmin); err != nil {
		return nil, err
	}

	if recordedAt.Valid {
		r.Timestamp = recordedAt.Time.UTC()
	}
	return &r, nil
}
