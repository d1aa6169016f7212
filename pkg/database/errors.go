package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Unique constraint names, as declared in sql/000001_create_catalog.up.sql
// and sql/000002_create_readings.up.sql
const (
	ConstraintLocationExternalID = "locations_external_id_key"
	ConstraintSensorExternalID   = "sensors_external_id_key"
	ConstraintDailyAggregateDay  = "daily_aggregates_sensor_day_key"
	ConstraintUsername           = "users_username_key"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("not found")

// UniqueViolationError is returned when an insert hits a unique constraint
type UniqueViolationError struct {
	Constraint string
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("unique constraint %q violated", e.Constraint)
}

// IsUniqueViolation reports whether err is a unique violation on constraint.
// An empty constraint matches any unique violation.
func IsUniqueViolation(err error, constraint string) bool {
	var uv *UniqueViolationError
	if !errors.As(err, &uv) {
		return false
	}
	return constraint == "" || uv.Constraint == constraint
}

// ForeignKeyViolationError is returned when an insert references a missing row
type ForeignKeyViolationError struct {
	Constraint string
}

func (e *ForeignKeyViolationError) Error() string {
	return fmt.Sprintf("foreign key %q violated", e.Constraint)
}

// mapError translates driver errors into the package's error types
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqUniqueViolation:
			return &UniqueViolationError{Constraint: pqErr.Constraint}
		case pqForeignKeyViolation:
			return &ForeignKeyViolationError{Constraint: pqErr.Constraint}
		}
	}

	return err
}
