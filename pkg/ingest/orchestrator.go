package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BathrobeBat/noise-sensor/pkg/catalog"
	"github.com/BathrobeBat/noise-sensor/pkg/database"
	"github.com/BathrobeBat/noise-sensor/pkg/feed"
	"github.com/BathrobeBat/noise-sensor/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the part of the catalog and reading stores ingestion needs
type Store interface {
	GetSensor(ctx context.Context, id uuid.UUID) (*models.Sensor, error)
	GetLocation(ctx context.Context, id uuid.UUID) (*models.Location, error)
	StoreReading(ctx context.Context, r *models.Reading) error
}

// Snapshotter returns the current feed snapshot, already filtered
type Snapshotter interface {
	Snapshot(ctx context.Context) (*feed.Result, error)
}

// ReadingSink receives every reading after it was stored. Sink failures are
// logged and never fail ingestion.
type ReadingSink interface {
	WriteReading(ctx context.Context, sensor *models.Sensor, r *models.Reading) error
}

// PushedReading is a reading sent by a direct sensor. A zero Timestamp is
// stored as missing.
type PushedReading struct {
	SensorID   uuid.UUID
	LocationID uuid.UUID
	Timestamp  time.Time
	LAeq       float64
	LAmax      float64
	LAmin      float64
}

// Orchestrator drives feed polling and pushed readings into the stores
type Orchestrator struct {
	store    Store
	upserter *catalog.Upserter
	source   Snapshotter
	sinks    []ReadingSink
	logger   *zap.Logger
}

// NewOrchestrator creates an orchestrator. source may be nil when only pushed
// readings are handled.
func NewOrchestrator(store Store, upserter *catalog.Upserter, source Snapshotter, logger *zap.Logger, sinks ...ReadingSink) *Orchestrator {
	return &Orchestrator{
		store:    store,
		upserter: upserter,
		source:   source,
		sinks:    sinks,
		logger:   logger,
	}
}

// PollFeedOnce fetches one snapshot and upserts every noise candidate into
// the catalog. Readings are stored only when storeReadings is set. It returns
// the number of candidates processed.
func (o *Orchestrator) PollFeedOnce(ctx context.Context, storeReadings bool) (int, error) {
	if o.source == nil {
		return 0, errors.New("no feed source configured")
	}

	start := time.Now()
	result, err := o.source.Snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch feed: %w", err)
	}

	for _, skipped := range result.Skipped {
		o.logger.Warn("Feed report skipped",
			zap.Int("index", skipped.Index),
			zap.Int64("external_sensor_id", skipped.SensorID),
			zap.String("reason", skipped.Reason),
		)
	}

	processed := 0
	for i := range result.Candidates {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		candidate := &result.Candidates[i]
		_, sensor, err := o.upserter.Upsert(ctx, candidate)
		if err != nil {
			return processed, fmt.Errorf("failed to upsert sensor %d: %w", candidate.ExternalSensorID, err)
		}

		if storeReadings {
			if err := o.storeReading(ctx, sensor, candidate.Reading(sensor.ID)); err != nil {
				return processed, err
			}
		}
		processed++
	}

	o.logger.Info("Feed poll completed",
		zap.Int("reports", result.Total),
		zap.Int("processed", processed),
		zap.Int("skipped", len(result.Skipped)),
		zap.Bool("readings_stored", storeReadings),
		zap.Duration("duration", time.Since(start)),
	)
	return processed, nil
}

// RefreshCatalog polls the feed without storing readings
func (o *Orchestrator) RefreshCatalog(ctx context.Context) error {
	_, err := o.PollFeedOnce(ctx, false)
	return err
}

// RegisterDirectSensor creates a direct sensor and its location
func (o *Orchestrator) RegisterDirectSensor(ctx context.Context, reg catalog.DirectRegistration) (sensorID, locationID uuid.UUID, err error) {
	sensor, loc, err := o.upserter.RegisterDirect(ctx, reg)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return sensor.ID, loc.ID, nil
}

// ReceivePushedReading stores a reading for an existing sensor. Both ids must
// resolve and the location must be the sensor's own; the catalog is never
// modified.
func (o *Orchestrator) ReceivePushedReading(ctx context.Context, p PushedReading) error {
	sensor, err := o.store.GetSensor(ctx, p.SensorID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return models.ErrSensorNotFound
		}
		return fmt.Errorf("failed to look up sensor: %w", err)
	}

	if _, err := o.store.GetLocation(ctx, p.LocationID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return models.ErrLocationNotFound
		}
		return fmt.Errorf("failed to look up location: %w", err)
	}

	if sensor.LocationID != p.LocationID {
		return fmt.Errorf("%w: location %s does not belong to sensor %s", models.ErrLocationNotFound, p.LocationID, sensor.ID)
	}

	return o.storeReading(ctx, sensor, &models.Reading{
		SensorID:  sensor.ID,
		Timestamp: p.Timestamp,
		LAeq:      p.LAeq,
		LAmax:     p.LAmax,
		LAmin:     p.LAmin,
	})
}

func (o *Orchestrator) storeReading(ctx context.Context, sensor *models.Sensor, r *models.Reading) error {
	if err := o.store.StoreReading(ctx, r); err != nil {
		return fmt.Errorf("failed to store reading for sensor %s: %w", sensor.ID, err)
	}

	for _, sink := range o.sinks {
		if err := sink.WriteReading(ctx, sensor, r); err != nil {
			o.logger.Warn("Reading sink failed",
				zap.String("sensor_id", sensor.ID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}
