package aggregator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/BathrobeBat/noise-sensor/pkg/database"
	"github.com/BathrobeBat/noise-sensor/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Retention periods, counted in calendar days back from the start of the day
// after the aggregated one
const (
	ReadingRetentionDays   = 1
	AggregateRetentionDays = 30
)

// ErrAlreadyAggregated is returned when a run finds rollups that already
// exist for its day. Existing rows are left untouched.
var ErrAlreadyAggregated = errors.New("day already aggregated")

// Store is the part of the catalog and reading stores the aggregator needs
type Store interface {
	ListSensors(ctx context.Context) ([]models.Sensor, error)
	ListReadingsBetween(ctx context.Context, sensorID uuid.UUID, from, until time.Time) ([]models.Reading, error)
	DailyAggregateExists(ctx context.Context, sensorID uuid.UUID, day time.Time) (bool, error)
	StoreDailyAggregate(ctx context.Context, a *models.DailyAggregate) error
	DeleteReadingsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteDailyAggregatesBefore(ctx context.Context, day time.Time) (int64, error)
}

// RunReport summarizes one aggregation run
type RunReport struct {
	Day               time.Time `json:"day"`
	Sensors           int       `json:"sensors"`
	Aggregated        int       `json:"aggregated"`
	NoData            int       `json:"no_data"`
	AlreadyAggregated int       `json:"already_aggregated"`
	Failed            int       `json:"failed"`
	RetentionApplied  bool      `json:"retention_applied"`
	ReadingsDeleted   int64     `json:"readings_deleted"`
	AggregatesDeleted int64     `json:"aggregates_deleted"`
}

// Aggregator rolls raw readings up into daily aggregates and prunes old data
type Aggregator struct {
	store  Store
	loc    *time.Location
	logger *zap.Logger
}

// New creates an aggregator. Calendar days are evaluated in loc.
func New(store Store, loc *time.Location, logger *zap.Logger) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{store: store, loc: loc, logger: logger}
}

// Run aggregates the day before now
func (a *Aggregator) Run(ctx context.Context, now time.Time) (*RunReport, error) {
	return a.RunForDate(ctx, models.DateOf(now, a.loc).AddDate(0, 0, -1))
}

// RunForDate aggregates one calendar day for every sensor, then applies
// retention. Retention is skipped when any sensor failed to aggregate. A
// storage failure aborts the run and leaves already stored rollups in place.
func (a *Aggregator) RunForDate(ctx context.Context, day time.Time) (*RunReport, error) {
	y, m, d := day.Date()
	day = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	from, until := models.DayRange(day, a.loc)

	report := &RunReport{Day: day}
	logger := a.logger.With(zap.String("day", day.Format("2006-01-02")))

	sensors, err := a.store.ListSensors(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list sensors: %w", err)
	}
	report.Sensors = len(sensors)

	for _, sensor := range sensors {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		exists, err := a.store.DailyAggregateExists(ctx, sensor.ID, day)
		if err != nil {
			return report, fmt.Errorf("failed to check aggregate of sensor %s: %w", sensor.ID, err)
		}
		if exists {
			report.AlreadyAggregated++
			continue
		}

		readings, err := a.store.ListReadingsBetween(ctx, sensor.ID, from, until)
		if err != nil {
			return report, fmt.Errorf("failed to read readings of sensor %s: %w", sensor.ID, err)
		}
		if len(readings) == 0 {
			report.NoData++
			continue
		}

		aggregate, err := Compute(sensor.ID, day, readings)
		if err != nil {
			report.Failed++
			logger.Warn("Failed to aggregate sensor",
				zap.String("sensor_id", sensor.ID.String()),
				zap.Error(err),
			)
			continue
		}

		if err := a.store.StoreDailyAggregate(ctx, aggregate); err != nil {
			if database.IsUniqueViolation(err, database.ConstraintDailyAggregateDay) {
				report.AlreadyAggregated++
				continue
			}
			return report, fmt.Errorf("failed to store aggregate of sensor %s: %w", sensor.ID, err)
		}
		report.Aggregated++
	}

	if report.Failed > 0 {
		logger.Warn("Retention skipped after aggregation failures", zap.Int("failed", report.Failed))
	} else if err := a.applyRetention(ctx, day, report); err != nil {
		return report, err
	}

	logger.Info("Daily aggregation completed",
		zap.Int("sensors", report.Sensors),
		zap.Int("aggregated", report.Aggregated),
		zap.Int("no_data", report.NoData),
		zap.Int("already_aggregated", report.AlreadyAggregated),
		zap.Int("failed", report.Failed),
		zap.Int64("readings_deleted", report.ReadingsDeleted),
		zap.Int64("aggregates_deleted", report.AggregatesDeleted),
	)

	if report.AlreadyAggregated > 0 {
		return report, fmt.Errorf("%w: %s (%d sensors)", ErrAlreadyAggregated, day.Format("2006-01-02"), report.AlreadyAggregated)
	}
	return report, nil
}

func (a *Aggregator) applyRetention(ctx context.Context, day time.Time, report *RunReport) error {
	next := day.AddDate(0, 0, 1)

	readingCutoff := models.StartOfDay(next.AddDate(0, 0, -ReadingRetentionDays), a.loc)
	deleted, err := a.store.DeleteReadingsBefore(ctx, readingCutoff)
	if err != nil {
		return fmt.Errorf("failed to apply reading retention: %w", err)
	}
	report.ReadingsDeleted = deleted

	aggregateCutoff := next.AddDate(0, 0, -AggregateRetentionDays)
	deleted, err = a.store.DeleteDailyAggregatesBefore(ctx, aggregateCutoff)
	if err != nil {
		return fmt.Errorf("failed to apply aggregate retention: %w", err)
	}
	report.AggregatesDeleted = deleted
	report.RetentionApplied = true

	return nil
}

// Compute returns the mean LAeq, the maximum LAmax and the minimum LAmin of
// readings. Non-finite values are rejected.
func Compute(sensorID uuid.UUID, day time.Time, readings []models.Reading) (*models.DailyAggregate, error) {
	if len(readings) == 0 {
		return nil, errors.New("no readings")
	}

	sum := 0.0
	lamax := math.Inf(-1)
	lamin := math.Inf(1)
	for _, r := range readings {
		for _, v := range [...]float64{r.LAeq, r.LAmax, r.LAmin} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("reading %s has a non-finite value", r.ID)
			}
		}
		sum += r.LAeq
		lamax = math.Max(lamax, r.LAmax)
		lamin = math.Min(lamin, r.LAmin)
	}

	return &models.DailyAggregate{
		SensorID: sensorID,
		Day:      day,
		LAeq:     sum / float64(len(readings)),
		LAmax:    lamax,
		LAmin:    lamin,
	}, nil
}
