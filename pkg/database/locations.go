package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/BathrobeBat/noise-sensor/pkg/models"
	"github.com/google/uuid"
)

const locationColumns = `id, external_id, country, latitude, longitude, altitude, indoor, created_at`

// CreateLocation inserts a location. ID and CreatedAt are filled in.
func (dm *DatabaseManager) CreateLocation(ctx context.Context, loc *models.Location) error {
	if loc.ID == uuid.Nil {
		loc.ID = uuid.New()
	}

	query := `
        INSERT INTO locations (id, external_id, country, latitude, longitude, altitude, indoor)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING created_at
    `

	err := dm.QueryRowWithHealthCheck(ctx, query,
		loc.ID,
		nullInt64(loc.ExternalID),
		loc.Country,
		loc.Latitude,
		loc.Longitude,
		loc.Altitude,
		loc.Indoor,
	).Scan(&loc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create location: %w", mapError(err))
	}

	return nil
}

// GetLocation returns a location by internal id
func (dm *DatabaseManager) GetLocation(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	query := `SELECT ` + locationColumns + ` FROM locations WHERE id = $1`
	return scanLocation(dm.QueryRowWithHealthCheck(ctx, query, id))
}

// GetLocationByExternalID returns the location imported with the given feed id
func (dm *DatabaseManager) GetLocationByExternalID(ctx context.Context, externalID int64) (*models.Location, error) {
	query := `SELECT ` + locationColumns + ` FROM locations WHERE external_id = $1`
	return scanLocation(dm.QueryRowWithHealthCheck(ctx, query, externalID))
}

func scanLocation(row rowScanner) (*models.Location, error) {
	var loc models.Location
	var externalID sql.NullInt64

	err := row.Scan(
		&loc.ID,
		&externalID,
		&loc.Country,
		&loc.Latitude,
		&loc.Longitude,
		&loc.Altitude,
		&loc.Indoor,
		&loc.CreatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}

	if externalID.Valid {
		loc.ExternalID = models.Int64Ptr(externalID.Int64)
	}
	return &loc, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
