package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/BathrobeBat/noise-sensor/pkg/database"
	"github.com/BathrobeBat/noise-sensor/pkg/models"
	"go.uber.org/zap"
)

// ErrUnexpectedConstraint is returned when a create fails on a unique
// constraint other than the external id being resolved
var ErrUnexpectedConstraint = errors.New("unexpected constraint violation")

// Store is the part of the catalog store the upserter needs
type Store interface {
	GetLocationByExternalID(ctx context.Context, externalID int64) (*models.Location, error)
	CreateLocation(ctx context.Context, loc *models.Location) error
	GetSensorByExternalID(ctx context.Context, externalID int64) (*models.Sensor, error)
	CreateSensor(ctx context.Context, sensor *models.Sensor) error
}

// DirectRegistration describes a sensor that pushes its own readings
type DirectRegistration struct {
	Country   string
	Latitude  float64
	Longitude float64
	Altitude  float64
	Indoor    bool
}

// Upserter resolves feed candidates to catalog rows, creating them on first
// sight. Concurrent callers converge on the same rows through the store's
// unique constraints.
type Upserter struct {
	store  Store
	logger *zap.Logger
}

// NewUpserter creates an upserter
func NewUpserter(store Store, logger *zap.Logger) *Upserter {
	return &Upserter{store: store, logger: logger}
}

// Upsert resolves the location and then the sensor of a candidate
func (u *Upserter) Upsert(ctx context.Context, c *models.Candidate) (*models.Location, *models.Sensor, error) {
	loc, err := u.ResolveLocation(ctx, c)
	if err != nil {
		return nil, nil, err
	}

	sensor, err := u.ResolveSensor(ctx, c, loc)
	if err != nil {
		return nil, nil, err
	}

	return loc, sensor, nil
}

// ResolveLocation returns the location with the candidate's external id,
// creating it when absent. An existing row is never modified.
func (u *Upserter) ResolveLocation(ctx context.Context, c *models.Candidate) (*models.Location, error) {
	return resolve(ctx, u,
		"location", c.ExternalLocationID, database.ConstraintLocationExternalID,
		func() (*models.Location, error) {
			return u.store.GetLocationByExternalID(ctx, c.ExternalLocationID)
		},
		func() (*models.Location, error) {
			loc := &models.Location{
				ExternalID: models.Int64Ptr(c.ExternalLocationID),
				Country:    c.Country,
				Latitude:   c.Latitude,
				Longitude:  c.Longitude,
				Altitude:   c.Altitude,
				Indoor:     c.Indoor,
			}
			return loc, u.store.CreateLocation(ctx, loc)
		},
	)
}

// ResolveSensor returns the sensor with the candidate's external id, creating
// it at loc when absent. A sensor that already exists keeps its location.
func (u *Upserter) ResolveSensor(ctx context.Context, c *models.Candidate, loc *models.Location) (*models.Sensor, error) {
	return resolve(ctx, u,
		"sensor", c.ExternalSensorID, database.ConstraintSensorExternalID,
		func() (*models.Sensor, error) {
			return u.store.GetSensorByExternalID(ctx, c.ExternalSensorID)
		},
		func() (*models.Sensor, error) {
			sensor := &models.Sensor{
				Source:     models.SourceFeed,
				ExternalID: models.Int64Ptr(c.ExternalSensorID),
				LocationID: loc.ID,
			}
			return sensor, u.store.CreateSensor(ctx, sensor)
		},
	)
}

// RegisterDirect creates a location and a direct sensor without external ids
func (u *Upserter) RegisterDirect(ctx context.Context, reg DirectRegistration) (*models.Sensor, *models.Location, error) {
	loc := &models.Location{
		Country:   reg.Country,
		Latitude:  reg.Latitude,
		Longitude: reg.Longitude,
		Altitude:  reg.Altitude,
		Indoor:    reg.Indoor,
	}
	if err := u.store.CreateLocation(ctx, loc); err != nil {
		return nil, nil, fmt.Errorf("failed to create location: %w", err)
	}

	sensor := &models.Sensor{
		Source:     models.SourceDirect,
		LocationID: loc.ID,
	}
	if err := u.store.CreateSensor(ctx, sensor); err != nil {
		return nil, nil, fmt.Errorf("failed to create sensor: %w", err)
	}

	u.logger.Info("Direct sensor registered",
		zap.String("sensor_id", sensor.ID.String()),
		zap.String("location_id", loc.ID.String()),
	)
	return sensor, loc, nil
}

// resolve implements read, create, re-read. A unique violation on the
// expected constraint means a concurrent writer won; its row is returned.
func resolve[T any](
	ctx context.Context,
	u *Upserter,
	kind string,
	externalID int64,
	constraint string,
	find func() (*T, error),
	create func() (*T, error),
) (*T, error) {
	existing, err := find()
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up %s %d: %w", kind, externalID, err)
	}

	created, err := create()
	if err == nil {
		return created, nil
	}

	if !database.IsUniqueViolation(err, "") {
		return nil, fmt.Errorf("failed to create %s %d: %w", kind, externalID, err)
	}
	if !database.IsUniqueViolation(err, constraint) {
		return nil, fmt.Errorf("%w: creating %s %d: %v", ErrUnexpectedConstraint, kind, externalID, err)
	}

	u.logger.Debug("Catalog race resolved",
		zap.String("kind", kind),
		zap.Int64("external_id", externalID),
	)

	winner, err := find()
	if err != nil {
		return nil, fmt.Errorf("failed to re-read %s %d after conflict: %w", kind, externalID, err)
	}
	return winner, nil
}
