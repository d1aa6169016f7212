package database

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations(t *testing.T) {
	runner, err := NewMigrationsRunner(nil, nil)
	require.NoError(t, err)

	require.Len(t, runner.migrations, 3)
	for i := 1; i < len(runner.migrations); i++ {
		assert.Less(t, runner.migrations[i-1].Version, runner.migrations[i].Version)
	}

	assert.Equal(t, "create_catalog", runner.migrations[0].Name)
	assert.Contains(t, runner.migrations[0].SQL, ConstraintLocationExternalID)
	assert.Contains(t, runner.migrations[0].SQL, ConstraintSensorExternalID)
	assert.Contains(t, runner.migrations[1].SQL, ConstraintDailyAggregateDay)
	assert.Contains(t, runner.migrations[2].SQL, ConstraintUsername)

	for _, m := range runner.migrations {
		assert.False(t, strings.HasSuffix(m.Name, ".sql"), "name should not carry the extension: %s", m.Name)
	}
}

func TestRun_AppliesOnlyPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	runner, err := NewMigrationsRunner(db, nil)
	require.NoError(t, err)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version FROM schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1).AddRow(2))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS users`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).
		WithArgs(3, "create_users").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, runner.Run(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_RollsBackFailedMigration(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	runner, err := NewMigrationsRunner(db, nil)
	require.NoError(t, err)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version FROM schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS locations`).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	err = runner.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "create_catalog")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_Idempotent(t *testing.T) {
	dm := setupTestDatabaseManager(t)
	if dm == nil {
		t.Skip("Skipping test that requires real database connection")
	}
	defer dm.Close()

	// setupTestDatabaseManager already migrated once
	require.NoError(t, runMigrations(dm.GetDB()))

	var count int
	require.NoError(t, dm.GetDB().QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
	assert.Equal(t, 3, count)
}
