package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BathrobeBat/noise-sensor/pkg/models"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var readingRowColumns = []string{"id", "sensor_id", "recorded_at", "laeq", "lamax", "lamin"}

func TestStoreReading(t *testing.T) {
	dm, mock := setupMockDB(t)

	sensorID := uuid.New()
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO readings`).
		WithArgs(sqlmock.AnyArg(), sensorID.String(), ts, 55.5, 70.1, 40.2, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	r := &models.Reading{SensorID: sensorID, Timestamp: ts, LAeq: 55.5, LAmax: 70.1, LAmin: 40.2}
	require.NoError(t, dm.StoreReading(context.Background(), r))
	assert.NotEqual(t, uuid.Nil, r.ID)
	assert.False(t, r.ReceivedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreReading_NullTimestamp(t *testing.T) {
	dm, mock := setupMockDB(t)

	received := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO readings`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), nil, 1.0, 2.0, 3.0, received).
		WillReturnResult(sqlmock.NewResult(0, 1))

	r := &models.Reading{SensorID: uuid.New(), LAeq: 1, LAmax: 2, LAmin: 3, ReceivedAt: received}
	require.NoError(t, dm.StoreReading(context.Background(), r))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreReading_UnknownSensor(t *testing.T) {
	dm, mock := setupMockDB(t)

	mock.ExpectExec(`INSERT INTO readings`).
		WillReturnError(&pq.Error{Code: "23503", Constraint: "readings_sensor_id_fkey"})

	err := dm.StoreReading(context.Background(), &models.Reading{SensorID: uuid.New()})

	var fk *ForeignKeyViolationError
	assert.True(t, errors.As(err, &fk))
}

func TestListReadingsBetween(t *testing.T) {
	dm, mock := setupMockDB(t)

	sensorID := uuid.New()
	from, until := models.DayRange(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), time.UTC)
	last := until.Add(-time.Microsecond)

	// The upper bound is exclusive and exactly the next midnight, so no
	// sub-microsecond value is sent that Postgres would round up.
	mock.ExpectQuery(`recorded_at >= \$2 AND recorded_at < \$3`).
		WithArgs(sensorID.String(), from, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)).
		WillReturnRows(sqlmock.NewRows(readingRowColumns).
			AddRow(uuid.NewString(), sensorID.String(), from, 40.0, 55.0, 35.0).
			AddRow(uuid.NewString(), sensorID.String(), last, 50.0, 65.0, 45.0))

	readings, err := dm.ListReadingsBetween(context.Background(), sensorID, from, until)

	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, from, readings[0].Timestamp)
	assert.Equal(t, 65.0, readings[1].LAmax)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestReading(t *testing.T) {
	dm, mock := setupMockDB(t)

	sensorID := uuid.New()
	ts := time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC)

	mock.ExpectQuery(`recorded_at IS NOT NULL\s+ORDER BY recorded_at DESC\s+LIMIT 1`).
		WithArgs(sensorID.String()).
		WillReturnRows(sqlmock.NewRows(readingRowColumns).
			AddRow(uuid.NewString(), sensorID.String(), ts, 61.0, 72.0, 50.0))

	r, err := dm.LatestReading(context.Background(), sensorID)

	require.NoError(t, err)
	assert.Equal(t, ts, r.Timestamp)
	assert.Equal(t, 61.0, r.LAeq)
}

func TestLatestReading_None(t *testing.T) {
	dm, mock := setupMockDB(t)

	mock.ExpectQuery(`FROM readings`).WillReturnRows(sqlmock.NewRows(readingRowColumns))

	_, err := dm.LatestReading(context.Background(), uuid.New())

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteReadingsBefore(t *testing.T) {
	dm, mock := setupMockDB(t)

	cutoff := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`DELETE FROM readings WHERE COALESCE\(recorded_at, received_at\) < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := dm.DeleteReadingsBefore(context.Background(), cutoff)

	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreDailyAggregate_DayFormat(t *testing.T) {
	dm, mock := setupMockDB(t)

	sensorID := uuid.New()
	day := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO daily_aggregates`).
		WithArgs(sqlmock.AnyArg(), sensorID.String(), "2024-02-29", 50.0, 75.0, 30.0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := dm.StoreDailyAggregate(context.Background(), &models.DailyAggregate{
		SensorID: sensorID, Day: day, LAeq: 50, LAmax: 75, LAmin: 30,
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreDailyAggregate_Duplicate(t *testing.T) {
	dm, mock := setupMockDB(t)

	mock.ExpectExec(`INSERT INTO daily_aggregates`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: ConstraintDailyAggregateDay})

	err := dm.StoreDailyAggregate(context.Background(), &models.DailyAggregate{SensorID: uuid.New(), Day: time.Now()})

	assert.True(t, IsUniqueViolation(err, ConstraintDailyAggregateDay))
}

func TestDailyAggregateExists(t *testing.T) {
	dm, mock := setupMockDB(t)

	sensorID := uuid.New()
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(sensorID.String(), "2024-01-07").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := dm.DailyAggregateExists(context.Background(), sensorID, time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC))

	require.NoError(t, err)
	assert.True(t, exists)
}

func TestListDailyAggregatesBetween_NormalizesDay(t *testing.T) {
	dm, mock := setupMockDB(t)

	sensorID := uuid.New()
	berlin := time.FixedZone("CET", 3600)

	mock.ExpectQuery(`day >= \$2 AND day <= \$3`).
		WithArgs(sensorID.String(), "2024-01-01", "2024-01-07").
		WillReturnRows(sqlmock.NewRows([]string{"id", "sensor_id", "day", "laeq", "lamax", "lamin"}).
			AddRow(uuid.NewString(), sensorID.String(), time.Date(2024, 1, 1, 0, 0, 0, 0, berlin), 50.0, 60.0, 40.0))

	aggregates, err := dm.ListDailyAggregatesBetween(context.Background(), sensorID,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC))

	require.NoError(t, err)
	require.Len(t, aggregates, 1)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), aggregates[0].Day)
}

func TestDeleteDailyAggregatesBefore(t *testing.T) {
	dm, mock := setupMockDB(t)

	mock.ExpectExec(`DELETE FROM daily_aggregates WHERE day < \$1`).
		WithArgs("2024-04-01").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := dm.DeleteDailyAggregatesBefore(context.Background(), time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
