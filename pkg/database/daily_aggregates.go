package database

import (
	"context"
	"fmt"
	"time"

	"github.com/BathrobeBat/noise-sensor/pkg/models"
	"github.com/google/uuid"
)

const dayLayout = "2006-01-02"

// StoreDailyAggregate inserts the rollup for (sensor, day). A second insert
// for the same pair fails with a UniqueViolationError on
// ConstraintDailyAggregateDay.
func (dm *DatabaseManager) StoreDailyAggregate(ctx context.Context, a *models.DailyAggregate) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	query := `
        INSERT INTO daily_aggregates (id, sensor_id, day, laeq, lamax, lamin)
        VALUES ($1, $2, $3, $4, $5, $6)
    `

	_, err := dm.ExecWithHealthCheck(ctx, query, a.ID, a.SensorID, a.Day.Format(dayLayout), a.LAeq, a.LAmax, a.LAmin)
	if err != nil {
		return fmt.Errorf("failed to store daily aggregate: %w", mapError(err))
	}
	return nil
}

// DailyAggregateExists reports whether (sensor, day) was already rolled up
func (dm *DatabaseManager) DailyAggregateExists(ctx context.Context, sensorID uuid.UUID, day time.Time) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM daily_aggregates WHERE sensor_id = $1 AND day = $2)`

	var exists bool
	if err := dm.QueryRowWithHealthCheck(ctx, query, sensorID, day.Format(dayLayout)).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check daily aggregate: %w", err)
	}
	return exists, nil
}

// ListDailyAggregatesBetween returns aggregates with from <= day <= to, oldest first
func (dm *DatabaseManager) ListDailyAggregatesBetween(ctx context.Context, sensorID uuid.UUID, from, to time.Time) ([]models.DailyAggregate, error) {
	query := `
        SELECT id, sensor_id, day, laeq, lamax, lamin
        FROM daily_aggregates
        WHERE sensor_id = $1 AND day >= $2 AND day <= $3
        ORDER BY day ASC
    `
	return dm.queryDailyAggregates(ctx, query, sensorID, from.Format(dayLayout), to.Format(dayLayout))
}

// ListDailyAggregates returns every aggregate of a sensor, oldest first
func (dm *DatabaseManager) ListDailyAggregates(ctx context.Context, sensorID uuid.UUID) ([]models.DailyAggregate, error) {
	query := `
        SELECT id, sensor_id, day, laeq, lamax, lamin
        FROM daily_aggregates
        WHERE sensor_id = $1
        ORDER BY day ASC
    `
	return dm.queryDailyAggregates(ctx, query, sensorID)
}

// DeleteDailyAggregatesBefore removes aggregates dated strictly before day
func (dm *DatabaseManager) DeleteDailyAggregatesBefore(ctx context.Context, day time.Time) (int64, error) {
	result, err := dm.ExecWithHealthCheck(ctx, `DELETE FROM daily_aggregates WHERE day < $1`, day.Format(dayLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to delete daily aggregates: %w", err)
	}
	return result.RowsAffected()
}

func (dm *DatabaseManager) queryDailyAggregates(ctx context.Context, query string, args ...interface{}) ([]models.DailyAggregate, error) {
	rows, err := dm.QueryWithHealthCheck(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily aggregates: %w", err)
	}
	defer rows.Close()

	aggregates := []models.DailyAggregate{}
	for rows.Next() {
		var a models.DailyAggregate
		if err := rows.Scan(&a.ID, &a.SensorID, &a.Day, &a.LAeq, &a.LAmax, &a.LAmin); err != nil {
			return nil, fmt.Errorf("failed to scan daily aggregate: %w", err)
		}
		y, m, d := a.Day.Date()
		a.Day = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		aggregates = append(aggregates, a)
	}

	return aggregates, rows.Err()
}
