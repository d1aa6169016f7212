package window

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BathrobeBat/noise-sensor/pkg/cache"
	"github.com/BathrobeBat/noise-sensor/pkg/database"
	"github.com/BathrobeBat/noise-sensor/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the part of the catalog and reading stores queries need
type Store interface {
	GetSensor(ctx context.Context, id uuid.UUID) (*models.Sensor, error)
	GetLocation(ctx context.Context, id uuid.UUID) (*models.Location, error)
	ListSensorsWithLocation(ctx context.Context) ([]models.SensorWithLocation, error)
	ListReadingsBetween(ctx context.Context, sensorID uuid.UUID, from, until time.Time) ([]models.Reading, error)
	LatestReading(ctx context.Context, sensorID uuid.UUID) (*models.Reading, error)
	ListDailyAggregatesBetween(ctx context.Context, sensorID uuid.UUID, from, to time.Time) ([]models.DailyAggregate, error)
	ListDailyAggregates(ctx context.Context, sensorID uuid.UUID) ([]models.DailyAggregate, error)
}

// LiveFetcher returns the newest value of an upstream sensor, nil when it has
// nothing recent
type LiveFetcher interface {
	Latest(ctx context.Context, externalID int64) (*models.NoiseValue, error)
}

// CatalogRefresher updates the catalog from the feed before sensors are listed
type CatalogRefresher interface {
	RefreshCatalog(ctx context.Context) error
}

// Option configures an Engine
type Option func(*Engine)

// WithLocation sets the zone calendar days are evaluated in
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

// WithWeekStart sets the first day of the week for weekly windows
func WithWeekStart(d time.Weekday) Option {
	return func(e *Engine) { e.weekStart = d }
}

// WithLiveFetcher enables live lookups for feed sensors
func WithLiveFetcher(f LiveFetcher) Option {
	return func(e *Engine) { e.live = f }
}

// WithCache caches live lookups for ttl
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(e *Engine) {
		e.cache = c
		e.cacheTTL = ttl
	}
}

// WithCatalogRefresher makes ListAllSensors refresh the catalog first
func WithCatalogRefresher(r CatalogRefresher) Option {
	return func(e *Engine) { e.refresher = r }
}

// Engine answers window, most-recent and sensor listing queries
type Engine struct {
	store     Store
	live      LiveFetcher
	cache     cache.Cache
	cacheTTL  time.Duration
	refresher CatalogRefresher
	loc       *time.Location
	weekStart time.Weekday
	now       func() time.Time
	logger    *zap.Logger
}

// NewEngine creates a query engine. Defaults are UTC days and Monday weeks.
func NewEngine(store Store, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		loc:       time.UTC,
		weekStart: time.Monday,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ParseMode validates a window mode name
func ParseMode(s string) (models.WindowMode, error) {
	return models.ParseWindowMode(s)
}

// Window dispatches to the query of mode. ref is ignored for all-time.
func (e *Engine) Window(ctx context.Context, sensorID uuid.UUID, mode models.WindowMode, ref time.Time) (*models.SensorWindow, error) {
	switch mode {
	case models.WindowDay:
		return e.Daily(ctx, sensorID, ref)
	case models.WindowWeek:
		return e.Weekly(ctx, sensorID, ref)
	case models.WindowMonth:
		return e.Monthly(ctx, sensorID, ref)
	case models.WindowAllTime:
		return e.AllTime(ctx, sensorID)
	}
	return nil, fmt.Errorf("invalid window mode: %s", mode)
}

// Daily returns the raw readings recorded on the calendar date of ref
func (e *Engine) Daily(ctx context.Context, sensorID uuid.UUID, ref time.Time) (*models.SensorWindow, error) {
	w, err := e.newWindow(ctx, sensorID, models.WindowDay)
	if err != nil {
		return nil, err
	}

	from, until := models.DayRange(ref, e.loc)
	readings, err := e.store.ListReadingsBetween(ctx, sensorID, from, until)
	if err != nil {
		return nil, fmt.Errorf("failed to list readings: %w", err)
	}
	for i := range readings {
		w.Noises = append(w.Noises, readings[i].NoiseValue())
	}
	return w, nil
}

// Weekly returns the daily aggregates of the week containing ref
func (e *Engine) Weekly(ctx context.Context, sensorID uuid.UUID, ref time.Time) (*models.SensorWindow, error) {
	from, to := WeekBounds(ref, e.weekStart)
	return e.aggregateWindow(ctx, sensorID, models.WindowWeek, from, to)
}

// Monthly returns the daily aggregates of the calendar month containing ref
func (e *Engine) Monthly(ctx context.Context, sensorID uuid.UUID, ref time.Time) (*models.SensorWindow, error) {
	from, to := MonthBounds(ref)
	return e.aggregateWindow(ctx, sensorID, models.WindowMonth, from, to)
}

// AllTime returns every daily aggregate of the sensor
func (e *Engine) AllTime(ctx context.Context, sensorID uuid.UUID) (*models.SensorWindow, error) {
	w, err := e.newWindow(ctx, sensorID, models.WindowAllTime)
	if err != nil {
		return nil, err
	}

	aggregates, err := e.store.ListDailyAggregates(ctx, sensorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list aggregates: %w", err)
	}
	e.appendAggregates(w, aggregates)
	return w, nil
}

func (e *Engine) aggregateWindow(ctx context.Context, sensorID uuid.UUID, mode models.WindowMode, from, to time.Time) (*models.SensorWindow, error) {
	w, err := e.newWindow(ctx, sensorID, mode)
	if err != nil {
		return nil, err
	}

	aggregates, err := e.store.ListDailyAggregatesBetween(ctx, sensorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list aggregates: %w", err)
	}
	e.appendAggregates(w, aggregates)
	return w, nil
}

func (e *Engine) appendAggregates(w *models.SensorWindow, aggregates []models.DailyAggregate) {
	for i := range aggregates {
		w.Noises = append(w.Noises, aggregates[i].NoiseValue(e.loc))
	}
}

func (e *Engine) newWindow(ctx context.Context, sensorID uuid.UUID, mode models.WindowMode) (*models.SensorWindow, error) {
	sensor, err := e.lookupSensor(ctx, sensorID)
	if err != nil {
		return nil, err
	}

	loc, err := e.store.GetLocation(ctx, sensor.LocationID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, models.ErrLocationNotFound
		}
		return nil, fmt.Errorf("failed to look up location: %w", err)
	}

	return &models.SensorWindow{
		ID:       sensor.ID,
		Mode:     mode,
		Location: *loc,
		Source:   sensor.Source,
		Noises:   []models.NoiseValue{},
	}, nil
}

func (e *Engine) lookupSensor(ctx context.Context, sensorID uuid.UUID) (*models.Sensor, error) {
	sensor, err := e.store.GetSensor(ctx, sensorID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, models.ErrSensorNotFound
		}
		return nil, fmt.Errorf("failed to look up sensor: %w", err)
	}
	return sensor, nil
}

// WeekBounds returns the first and last calendar date of the week containing
// ref, both as midnight UTC
func WeekBounds(ref time.Time, weekStart time.Weekday) (from, to time.Time) {
	y, m, d := ref.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) - int(weekStart) + 7) % 7
	from = day.AddDate(0, 0, -offset)
	return from, from.AddDate(0, 0, 6)
}

// MonthBounds returns the first and last calendar date of the month
// containing ref, both as midnight UTC
func MonthBounds(ref time.Time) (from, to time.Time) {
	y, m, _ := ref.Date()
	from = time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, -1)
}

// MostRecent returns the newest value of a sensor. Direct sensors without
// readings get the placeholder value. Feed sensors are looked up live and
// yield nil when the upstream has nothing or cannot be reached.
func (e *Engine) MostRecent(ctx context.Context, sensorID uuid.UUID) (*models.NoiseValue, error) {
	sensor, err := e.lookupSensor(ctx, sensorID)
	if err != nil {
		return nil, err
	}

	if sensor.IsFeed() {
		return e.liveValue(ctx, sensor), nil
	}

	reading, err := e.store.LatestReading(ctx, sensor.ID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return models.PlaceholderNoiseValue(e.now().In(e.loc)), nil
		}
		return nil, fmt.Errorf("failed to read latest reading: %w", err)
	}
	v := reading.NoiseValue()
	return &v, nil
}

func (e *Engine) liveValue(ctx context.Context, sensor *models.Sensor) *models.NoiseValue {
	logger := e.logger.With(zap.String("sensor_id", sensor.ID.String()))

	if sensor.ExternalID == nil || e.live == nil {
		logger.Warn("No live lookup available for feed sensor")
		return nil
	}

	key := fmt.Sprintf("recent:%d", *sensor.ExternalID)
	if v := e.cached(ctx, key, logger); v != nil {
		return v
	}

	v, err := e.live.Latest(ctx, *sensor.ExternalID)
	if err != nil {
		logger.Warn("Live lookup failed",
			zap.Int64("external_sensor_id", *sensor.ExternalID),
			zap.Error(err),
		)
		return nil
	}
	if v == nil {
		return nil
	}

	if e.cache != nil {
		if data, err := json.Marshal(v); err == nil {
			if err := e.cache.Set(ctx, key, data, e.cacheTTL); err != nil {
				logger.Warn("Failed to cache live value", zap.Error(err))
			}
		}
	}
	return v
}

func (e *Engine) cached(ctx context.Context, key string, logger *zap.Logger) *models.NoiseValue {
	if e.cache == nil {
		return nil
	}

	data, err := e.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.Warn("Cache lookup failed", zap.Error(err))
		}
		return nil
	}

	var v models.NoiseValue
	if err := json.Unmarshal(data, &v); err != nil {
		logger.Warn("Discarding corrupt cache entry", zap.String("key", key), zap.Error(err))
		return nil
	}
	return &v
}

// ListAllSensors returns every known sensor with its position. The catalog is
// refreshed from the feed first when a refresher is set; a failed refresh
// only logs.
func (e *Engine) ListAllSensors(ctx context.Context) ([]models.SensorListItem, error) {
	if e.refresher != nil {
		if err := e.refresher.RefreshCatalog(ctx); err != nil {
			e.logger.Warn("Catalog refresh failed, listing stored sensors", zap.Error(err))
		}
	}

	sensors, err := e.store.ListSensorsWithLocation(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sensors: %w", err)
	}

	items := make([]models.SensorListItem, 0, len(sensors))
	for _, s := range sensors {
		item := models.SensorListItem{
			ID:        s.Sensor.ID,
			Source:    s.Sensor.Source,
			Latitude:  &s.Location.Latitude,
			Longitude: &s.Location.Longitude,
		}
		if s.Location.Country != "" {
			item.Country = &s.Location.Country
		}
		items = append(items, item)
	}
	return items, nil
}
