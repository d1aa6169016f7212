package aggregator

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/BathrobeBat/noise-sensor/pkg/memstore"
	"github.com/BathrobeBat/noise-sensor/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// now is a typical tick shortly after midnight
var now = time.Date(2024, 5, 10, 1, 0, 0, 0, time.UTC)

func addSensor(t *testing.T, store *memstore.Store) uuid.UUID {
	ctx := context.Background()
	loc := &models.Location{}
	require.NoError(t, store.CreateLocation(ctx, loc))
	sensor := &models.Sensor{Source: models.SourceDirect, LocationID: loc.ID}
	require.NoError(t, store.CreateSensor(ctx, sensor))
	return sensor.ID
}

func addReading(t *testing.T, store *memstore.Store, sensorID uuid.UUID, ts time.Time, laeq, lamax, lamin float64) {
	require.NoError(t, store.StoreReading(context.Background(), &models.Reading{
		SensorID: sensorID, Timestamp: ts, LAeq: laeq, LAmax: lamax, LAmin: lamin,
	}))
}

func TestCompute(t *testing.T) {
	readings := []models.Reading{
		{LAeq: 40, LAmax: 55, LAmin: 35},
		{LAeq: 50, LAmax: 65, LAmin: 45},
		{LAeq: 60, LAmax: 75, LAmin: 30},
	}

	a, err := Compute(uuid.New(), now, readings)
	require.NoError(t, err)
	assert.Equal(t, 50.0, a.LAeq)
	assert.Equal(t, 75.0, a.LAmax)
	assert.Equal(t, 30.0, a.LAmin)
}

func TestCompute_RejectsNonFinite(t *testing.T) {
	_, err := Compute(uuid.New(), now, []models.Reading{{LAeq: math.NaN()}})
	assert.Error(t, err)

	_, err = Compute(uuid.New(), now, nil)
	assert.Error(t, err)
}

func TestRun_AggregatesYesterday(t *testing.T) {
	store := memstore.New()
	sensorID := addSensor(t, store)
	quiet := addSensor(t, store)

	yesterday := time.Date(2024, 5, 9, 0, 0, 0, 0, time.UTC)
	addReading(t, store, sensorID, yesterday, 40, 55, 35)
	addReading(t, store, sensorID, yesterday.Add(12*time.Hour), 50, 65, 45)
	addReading(t, store, sensorID, yesterday.AddDate(0, 0, 1).Add(-time.Microsecond), 60, 75, 30)
	// outside the day
	addReading(t, store, sensorID, yesterday.Add(-time.Nanosecond), 90, 99, 10)
	addReading(t, store, sensorID, yesterday.AddDate(0, 0, 1), 90, 99, 10)
	addReading(t, store, sensorID, now, 90, 99, 10)

	report, err := New(store, time.UTC, zap.NewNop()).Run(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, yesterday, report.Day)
	assert.Equal(t, 2, report.Sensors)
	assert.Equal(t, 1, report.Aggregated)
	assert.Equal(t, 1, report.NoData)
	assert.True(t, report.RetentionApplied)

	aggregates, err := store.ListDailyAggregates(context.Background(), sensorID)
	require.NoError(t, err)
	require.Len(t, aggregates, 1)
	assert.Equal(t, yesterday, aggregates[0].Day)
	assert.Equal(t, 50.0, aggregates[0].LAeq)
	assert.Equal(t, 75.0, aggregates[0].LAmax)
	assert.Equal(t, 30.0, aggregates[0].LAmin)

	none, err := store.ListDailyAggregates(context.Background(), quiet)
	require.NoError(t, err)
	assert.Empty(t, none, "no rollup is written for a sensor without data")
}

func TestRun_Retention(t *testing.T) {
	store := memstore.New()
	sensorID := addSensor(t, store)
	ctx := context.Background()

	for _, ts := range []time.Time{now.AddDate(0, 0, -2), now.Add(-12 * time.Hour)} {
		addReading(t, store, sensorID, ts, 50, 60, 40)
	}
	for _, received := range []time.Time{now.AddDate(0, 0, -2), now.Add(-12 * time.Hour)} {
		require.NoError(t, store.StoreReading(ctx, &models.Reading{SensorID: sensorID, LAeq: 70, ReceivedAt: received}))
	}

	today := models.DateOf(now, time.UTC)
	for _, days := range []int{31, 29} {
		require.NoError(t, store.StoreDailyAggregate(ctx, &models.DailyAggregate{
			SensorID: sensorID, Day: today.AddDate(0, 0, -days), LAeq: 50, LAmax: 60, LAmin: 40,
		}))
	}

	report, err := New(store, time.UTC, zap.NewNop()).Run(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.ReadingsDeleted, "untimed readings age by receive time")
	assert.Equal(t, int64(1), report.AggregatesDeleted)

	_, _, remaining, _ := store.Counts()
	assert.Equal(t, 2, remaining)

	readings, err := store.ListReadingsBetween(ctx, sensorID, now.AddDate(0, 0, -10), now)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, now.Add(-12*time.Hour), readings[0].Timestamp)

	aggregates, err := store.ListDailyAggregates(ctx, sensorID)
	require.NoError(t, err)
	days := make([]time.Time, 0, len(aggregates))
	for _, a := range aggregates {
		days = append(days, a.Day)
	}
	assert.NotContains(t, days, today.AddDate(0, 0, -31))
	assert.Contains(t, days, today.AddDate(0, 0, -29))
	assert.Contains(t, days, today.AddDate(0, 0, -1))
}

func TestRun_SecondRunIsAnError(t *testing.T) {
	store := memstore.New()
	sensorID := addSensor(t, store)
	addReading(t, store, sensorID, now.Add(-6*time.Hour), 50, 60, 40)

	agg := New(store, time.UTC, zap.NewNop())

	_, err := agg.Run(context.Background(), now)
	require.NoError(t, err)

	report, err := agg.Run(context.Background(), now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyAggregated))
	assert.Equal(t, 1, report.AlreadyAggregated)
	assert.Zero(t, report.Aggregated)

	_, _, _, aggregates := store.Counts()
	assert.Equal(t, 1, aggregates, "no second row for the same sensor and day")
}

func TestRun_ComputeFailureSkipsRetention(t *testing.T) {
	store := memstore.New()
	good := addSensor(t, store)
	bad := addSensor(t, store)

	addReading(t, store, good, now.Add(-6*time.Hour), 50, 60, 40)
	addReading(t, store, bad, now.Add(-6*time.Hour), math.Inf(1), 60, 40)
	addReading(t, store, good, now.AddDate(0, 0, -5), 50, 60, 40)

	report, err := New(store, time.UTC, zap.NewNop()).Run(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Aggregated)
	assert.Equal(t, 1, report.Failed)
	assert.False(t, report.RetentionApplied)

	_, _, readings, _ := store.Counts()
	assert.Equal(t, 3, readings, "raw data is kept when a rollup is missing")
}

func TestRun_StorageFailureAborts(t *testing.T) {
	store := memstore.New()
	first := addSensor(t, store)
	second := addSensor(t, store)
	addReading(t, store, first, now.Add(-6*time.Hour), 50, 60, 40)
	addReading(t, store, second, now.Add(-6*time.Hour), 50, 60, 40)
	addReading(t, store, first, now.AddDate(0, 0, -5), 50, 60, 40)

	store.FailNextDailyAggregate(errors.New("disk full"))

	report, err := New(store, time.UTC, zap.NewNop()).Run(context.Background(), now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, report.RetentionApplied)

	_, _, readings, _ := store.Counts()
	assert.Equal(t, 3, readings)
}

func TestRunForDate_TimeZone(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata not available")
	}

	store := memstore.New()
	sensorID := addSensor(t, store)

	// 23:30 UTC on May 8 is already May 9 in Berlin
	addReading(t, store, sensorID, time.Date(2024, 5, 8, 23, 30, 0, 0, time.UTC), 70, 80, 60)
	// 22:30 UTC on May 9 is May 10 in Berlin
	addReading(t, store, sensorID, time.Date(2024, 5, 9, 22, 30, 0, 0, time.UTC), 10, 20, 5)

	report, err := New(store, berlin, zap.NewNop()).RunForDate(context.Background(), time.Date(2024, 5, 9, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Aggregated)

	aggregates, err := store.ListDailyAggregates(context.Background(), sensorID)
	require.NoError(t, err)
	require.Len(t, aggregates, 1)
	assert.Equal(t, 70.0, aggregates[0].LAeq)
}
