// Package memstore is an in-memory implementation of the catalog and reading
// stores. It enforces the same unique constraints as the PostgreSQL schema and
// reports violations with the same error types, so components can be tested
// without a database.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BathrobeBat/noise-sensor/pkg/database"
	"github.com/BathrobeBat/noise-sensor/pkg/models"
	"github.com/google/uuid"
)

type aggregateKey struct {
	sensorID uuid.UUID
	day      string
}

// Store holds every record in maps guarded by a single mutex
type Store struct {
	mu sync.RWMutex

	locations         map[uuid.UUID]models.Location
	locationsByExtID  map[int64]uuid.UUID
	sensors           map[uuid.UUID]models.Sensor
	sensorsByExtID    map[int64]uuid.UUID
	readings          map[uuid.UUID][]models.Reading
	aggregates        map[uuid.UUID][]models.DailyAggregate
	aggregateKeys     map[aggregateKey]struct{}
	failNextAggregate error
}

// New creates an empty store
func New() *Store {
	return &Store{
		locations:        make(map[uuid.UUID]models.Location),
		locationsByExtID: make(map[int64]uuid.UUID),
		sensors:          make(map[uuid.UUID]models.Sensor),
		sensorsByExtID:   make(map[int64]uuid.UUID),
		readings:         make(map[uuid.UUID][]models.Reading),
		aggregates:       make(map[uuid.UUID][]models.DailyAggregate),
		aggregateKeys:    make(map[aggregateKey]struct{}),
	}
}

// CreateLocation inserts a location
func (s *Store) CreateLocation(ctx context.Context, loc *models.Location) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if loc.ExternalID != nil {
		if _, ok := s.locationsByExtID[*loc.ExternalID]; ok {
			return &database.UniqueViolationError{Constraint: database.ConstraintLocationExternalID}
		}
	}
	if loc.ID == uuid.Nil {
		loc.ID = uuid.New()
	}
	loc.CreatedAt = time.Now().UTC()

	s.locations[loc.ID] = *loc
	if loc.ExternalID != nil {
		s.locationsByExtID[*loc.ExternalID] = loc.ID
	}
	return nil
}

// GetLocation returns a location by id
func (s *Store) GetLocation(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loc, ok := s.locations[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &loc, nil
}

// GetLocationByExternalID returns a location by feed id
func (s *Store) GetLocationByExternalID(ctx context.Context, externalID int64) (*models.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.locationsByExtID[externalID]
	if !ok {
		return nil, database.ErrNotFound
	}
	loc := s.locations[id]
	return &loc, nil
}

// CreateSensor inserts a sensor. The location must exist.
func (s *Store) CreateSensor(ctx context.Context, sensor *models.Sensor) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.locations[sensor.LocationID]; !ok {
		return &database.ForeignKeyViolationError{Constraint: "sensors_location_id_fkey"}
	}
	if sensor.ExternalID != nil {
		if _, ok := s.sensorsByExtID[*sensor.ExternalID]; ok {
			return &database.UniqueViolationError{Constraint: database.ConstraintSensorExternalID}
		}
	}
	if sensor.ID == uuid.Nil {
		sensor.ID = uuid.New()
	}
	sensor.CreatedAt = time.Now().UTC()

	s.sensors[sensor.ID] = *sensor
	if sensor.ExternalID != nil {
		s.sensorsByExtID[*sensor.ExternalID] = sensor.ID
	}
	return nil
}

// GetSensor returns a sensor by id
func (s *Store) GetSensor(ctx context.Context, id uuid.UUID) (*models.Sensor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sensor, ok := s.sensors[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &sensor, nil
}

// GetSensorByExternalID returns a sensor by feed id
func (s *Store) GetSensorByExternalID(ctx context.Context, externalID int64) (*models.Sensor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.sensorsByExtID[externalID]
	if !ok {
		return nil, database.ErrNotFound
	}
	sensor := s.sensors[id]
	return &sensor, nil
}

// ListSensors returns every sensor ordered by creation time
func (s *Store) ListSensors(ctx context.Context) ([]models.Sensor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sensors := make([]models.Sensor, 0, len(s.sensors))
	for _, sensor := range s.sensors {
		sensors = append(sensors, sensor)
	}
	sort.Slice(sensors, func(i, j int) bool {
		if sensors[i].CreatedAt.Equal(sensors[j].CreatedAt) {
			return sensors[i].ID.String() < sensors[j].ID.String()
		}
		return sensors[i].CreatedAt.Before(sensors[j].CreatedAt)
	})
	return sensors, nil
}

// ListSensorsWithLocation returns every sensor joined with its location
func (s *Store) ListSensorsWithLocation(ctx context.Context) ([]models.SensorWithLocation, error) {
	sensors, err := s.ListSensors(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.SensorWithLocation, 0, len(sensors))
	for _, sensor := range sensors {
		result = append(result, models.SensorWithLocation{
			Sensor:   sensor,
			Location: s.locations[sensor.LocationID],
		})
	}
	return result, nil
}

// DeleteSensor removes a sensor, its readings and aggregates, and its
// location when no other sensor uses it
func (s *Store) DeleteSensor(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sensor, ok := s.sensors[id]
	if !ok {
		return database.ErrNotFound
	}

	delete(s.sensors, id)
	if sensor.ExternalID != nil {
		delete(s.sensorsByExtID, *sensor.ExternalID)
	}
	delete(s.readings, id)
	for _, a := range s.aggregates[id] {
		delete(s.aggregateKeys, aggregateKey{id, a.Day.Format("2006-01-02")})
	}
	delete(s.aggregates, id)

	for _, other := range s.sensors {
		if other.LocationID == sensor.LocationID {
			return nil
		}
	}
	if loc, ok := s.locations[sensor.LocationID]; ok {
		delete(s.locations, loc.ID)
		if loc.ExternalID != nil {
			delete(s.locationsByExtID, *loc.ExternalID)
		}
	}
	return nil
}

// StoreReading appends a reading. The sensor must exist.
func (s *Store) StoreReading(ctx context.Context, r *models.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sensors[r.SensorID]; !ok {
		return &database.ForeignKeyViolationError{Constraint: "readings_sensor_id_fkey"}
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = time.Now().UTC()
	}
	s.readings[r.SensorID] = append(s.readings[r.SensorID], *r)
	return nil
}

// ListReadingsBetween returns readings with from <= timestamp < until, oldest first
func (s *Store) ListReadingsBetween(ctx context.Context, sensorID uuid.UUID, from, until time.Time) ([]models.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []models.Reading{}
	for _, r := range s.readings[sensorID] {
		if !r.HasTimestamp() || r.Timestamp.Before(from) || !r.Timestamp.Before(until) {
			continue
		}
		result = append(result, r)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// LatestReading returns the reading with the greatest timestamp
func (s *Store) LatestReading(ctx context.Context, sensorID uuid.UUID) (*models.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.Reading
	for i := range s.readings[sensorID] {
		r := s.readings[sensorID][i]
		if !r.HasTimestamp() {
			continue
		}
		if latest == nil || r.Timestamp.After(latest.Timestamp) {
			latest = &r
		}
	}
	if latest == nil {
		return nil, database.ErrNotFound
	}
	return latest, nil
}

// DeleteReadingsBefore removes readings strictly before cutoff. Readings
// without a timestamp age by the time they were received.
func (s *Store) DeleteReadingsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for sensorID, readings := range s.readings {
		kept := readings[:0]
		for _, r := range readings {
			if r.RetentionTime().Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, r)
		}
		s.readings[sensorID] = kept
	}
	return deleted, nil
}

// StoreDailyAggregate inserts a rollup, enforcing one row per (sensor, day)
func (s *Store) StoreDailyAggregate(ctx context.Context, a *models.DailyAggregate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failNextAggregate; err != nil {
		s.failNextAggregate = nil
		return err
	}
	if _, ok := s.sensors[a.SensorID]; !ok {
		return &database.ForeignKeyViolationError{Constraint: "daily_aggregates_sensor_id_fkey"}
	}

	key := aggregateKey{a.SensorID, a.Day.Format("2006-01-02")}
	if _, ok := s.aggregateKeys[key]; ok {
		return &database.UniqueViolationError{Constraint: database.ConstraintDailyAggregateDay}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	y, m, d := a.Day.Date()
	a.Day = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	s.aggregateKeys[key] = struct{}{}
	s.aggregates[a.SensorID] = append(s.aggregates[a.SensorID], *a)
	return nil
}

// DailyAggregateExists reports whether (sensor, day) has a rollup
func (s *Store) DailyAggregateExists(ctx context.Context, sensorID uuid.UUID, day time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.aggregateKeys[aggregateKey{sensorID, day.Format("2006-01-02")}]
	return ok, nil
}

// ListDailyAggregatesBetween returns rollups with from <= day <= to, oldest first
func (s *Store) ListDailyAggregatesBetween(ctx context.Context, sensorID uuid.UUID, from, to time.Time) ([]models.DailyAggregate, error) {
	fromDay, toDay := from.Format("2006-01-02"), to.Format("2006-01-02")
	return s.filterAggregates(sensorID, func(a models.DailyAggregate) bool {
		day := a.Day.Format("2006-01-02")
		return day >= fromDay && day <= toDay
	}), nil
}

// ListDailyAggregates returns every rollup of a sensor, oldest first
func (s *Store) ListDailyAggregates(ctx context.Context, sensorID uuid.UUID) ([]models.DailyAggregate, error) {
	return s.filterAggregates(sensorID, func(models.DailyAggregate) bool { return true }), nil
}

// DeleteDailyAggregatesBefore removes rollups dated strictly before day
func (s *Store) DeleteDailyAggregatesBefore(ctx context.Context, day time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := day.Format("2006-01-02")
	var deleted int64
	for sensorID, aggregates := range s.aggregates {
		kept := aggregates[:0]
		for _, a := range aggregates {
			d := a.Day.Format("2006-01-02")
			if d < cutoff {
				delete(s.aggregateKeys, aggregateKey{sensorID, d})
				deleted++
				continue
			}
			kept = append(kept, a)
		}
		s.aggregates[sensorID] = kept
	}
	return deleted, nil
}

// FailNextDailyAggregate makes the next StoreDailyAggregate call return err
func (s *Store) FailNextDailyAggregate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNextAggregate = err
}

// Counts returns the number of locations, sensors, readings and aggregates
func (s *Store) Counts() (locations, sensors, readings, aggregates int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.readings {
		readings += len(r)
	}
	for _, a := range s.aggregates {
		aggregates += len(a)
	}
	return len(s.locations), len(s.sensors), readings, aggregates
}

func (s *Store) filterAggregates(sensorID uuid.UUID, keep func(models.DailyAggregate) bool) []models.DailyAggregate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []models.DailyAggregate{}
	for _, a := range s.aggregates[sensorID] {
		if keep(a) {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Day.Before(result[j].Day)
	})
	return result
}
