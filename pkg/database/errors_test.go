package database

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	testCases := []struct {
		name  string
		input error
		check func(t *testing.T, err error)
	}{
		{
			name:  "nil",
			input: nil,
			check: func(t *testing.T, err error) { assert.NoError(t, err) },
		},
		{
			name:  "no rows",
			input: sql.ErrNoRows,
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrNotFound) },
		},
		{
			name:  "unique violation",
			input: &pq.Error{Code: "23505", Constraint: ConstraintSensorExternalID},
			check: func(t *testing.T, err error) {
				assert.True(t, IsUniqueViolation(err, ConstraintSensorExternalID))
				assert.True(t, IsUniqueViolation(err, ""))
				assert.False(t, IsUniqueViolation(err, ConstraintLocationExternalID))
			},
		},
		{
			name:  "foreign key violation",
			input: &pq.Error{Code: "23503", Constraint: "sensors_location_id_fkey"},
			check: func(t *testing.T, err error) {
				var fk *ForeignKeyViolationError
				assert.True(t, errors.As(err, &fk))
				assert.Equal(t, "sensors_location_id_fkey", fk.Constraint)
			},
		},
		{
			name:  "other driver error passes through",
			input: &pq.Error{Code: "42P01"},
			check: func(t *testing.T, err error) {
				var pqErr *pq.Error
				assert.True(t, errors.As(err, &pqErr))
				assert.False(t, IsUniqueViolation(err, ""))
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.check(t, mapError(tc.input))
		})
	}
}

func TestIsUniqueViolation_Wrapped(t *testing.T) {
	err := fmt.Errorf("failed to create location: %w", &UniqueViolationError{Constraint: ConstraintLocationExternalID})

	assert.True(t, IsUniqueViolation(err, ConstraintLocationExternalID))
	assert.False(t, IsUniqueViolation(errors.New("boom"), ""))
}
