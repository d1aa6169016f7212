package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/BathrobeBat/noise-sensor/pkg/models"
	"github.com/google/uuid"
)

const sensorColumns = `id, source, external_id, location_id, created_at`

// CreateSensor inserts a sensor. ID and CreatedAt are filled in.
func (dm *DatabaseManager) CreateSensor(ctx context.Context, sensor *models.Sensor) error {
	if sensor.ID == uuid.Nil {
		sensor.ID = uuid.New()
	}

	query := `
        INSERT INTO sensors (id, source, external_id, location_id)
        VALUES ($1, $2, $3, $4)
        RETURNING created_at
    `

	err := dm.QueryRowWithHealthCheck(ctx, query,
		sensor.ID,
		sensor.Source,
		nullInt64(sensor.ExternalID),
		sensor.LocationID,
	).Scan(&sensor.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create sensor: %w", mapError(err))
	}

	return nil
}

// GetSensor returns a sensor by internal id
func (dm *DatabaseManager) GetSensor(ctx context.Context, id uuid.UUID) (*models.Sensor, error) {
	query := `SELECT ` + sensorColumns + ` FROM sensors WHERE id = $1`

	sensor, err := scanSensor(dm.QueryRowWithHealthCheck(ctx, query, id))
	if err != nil {
		return nil, mapError(err)
	}
	return sensor, nil
}

// GetSensorByExternalID returns the sensor imported with the given feed id
func (dm *DatabaseManager) GetSensorByExternalID(ctx context.Context, externalID int64) (*models.Sensor, error) {
	query := `SELECT ` + sensorColumns + ` FROM sensors WHERE external_id = $1`

	sensor, err := scanSensor(dm.QueryRowWithHealthCheck(ctx, query, externalID))
	if err != nil {
		return nil, mapError(err)
	}
	return sensor, nil
}

// ListSensors returns every sensor ordered by creation time
func (dm *DatabaseManager) ListSensors(ctx context.Context) ([]models.Sensor, error) {
	query := `SELECT ` + sensorColumns + ` FROM sensors ORDER BY created_at, id`

	rows, err := dm.QueryWithHealthCheck(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensors: %w", err)
	}
	defer rows.Close()

	sensors := []models.Sensor{}
	for rows.Next() {
		sensor, err := scanSensor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sensor: %w", err)
		}
		sensors = append(sensors, *sensor)
	}

	return sensors, rows.Err()
}

// ListSensorsWithLocation returns every sensor joined with its location
func (dm *DatabaseManager) ListSensorsWithLocation(ctx context.Context) ([]models.SensorWithLocation, error) {
	query := `
        SELECT s.id, s.source, s.external_id, s.location_id, s.created_at,
               l.id, l.external_id, l.country, l.latitude, l.longitude, l.altitude, l.indoor, l.created_at
        FROM sensors s
        JOIN locations l ON l.id = s.location_id
        ORDER BY s.created_at, s.id
    `

	rows, err := dm.QueryWithHealthCheck(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensors: %w", err)
	}
	defer rows.Close()

	result := []models.SensorWithLocation{}
	for rows.Next() {
		var item models.SensorWithLocation
		var sensorExt, locationExt sql.NullInt64

		err := rows.Scan(
			&item.Sensor.ID,
			&item.Sensor.Source,
			&sensorExt,
			&item.Sensor.LocationID,
			&item.Sensor.CreatedAt,
			&item.Location.ID,
			&locationExt,
			&item.Location.Country,
			&item.Location.Latitude,
			&item.Location.Longitude,
			&item.Location.Altitude,
			&item.Location.Indoor,
			&item.Location.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sensor: %w", err)
		}

		if sensorExt.Valid {
			item.Sensor.ExternalID = models.Int64Ptr(sensorExt.Int64)
		}
		if locationExt.Valid {
			item.Location.ExternalID = models.Int64Ptr(locationExt.Int64)
		}
		result = append(result, item)
	}

	return result, rows.Err()
}

// DeleteSensor removes a sensor together with its readings and aggregates.
// The location is removed too once no other sensor references it.
func (dm *DatabaseManager) DeleteSensor(ctx context.Context, id uuid.UUID) error {
	if err := dm.healthChecker.EnsureConnection(ctx); err != nil {
		return err
	}

	tx, err := dm.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var locationID uuid.UUID
	err = tx.QueryRowContext(ctx,
		`DELETE FROM sensors WHERE id = $1 RETURNING location_id`, id,
	).Scan(&locationID)
	if err != nil {
		return mapError(err)
	}

	_, err = tx.ExecContext(ctx, `
        DELETE FROM locations l
        WHERE l.id = $1 AND NOT EXISTS (SELECT 1 FROM sensors s WHERE s.location_id = l.id)
    `, locationID)
	if err != nil {
		return fmt.Errorf("failed to delete orphaned location: %w", err)
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSensor(row rowScanner) (*models.Sensor, error) {
	var sensor models.Sensor
	var externalID sql.NullInt64

	if err := row.Scan(
		&sensor.ID,
		&sensor.Source,
		&externalID,
		&sensor.LocationID,
		&sensor.CreatedAt,
	); err != nil {
		return nil, err
	}

	if externalID.Valid {
		sensor.ExternalID = models.Int64Ptr(externalID.Int64)
	}
	return &sensor, nil
}
