package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/BathrobeBat/noise-sensor/pkg/config"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// DatabaseManager handles all database operations
type DatabaseManager struct {
	db            *sql.DB
	healthChecker *HealthChecker
	logger        *zap.Logger
}

// NewDatabaseManager connects to PostgreSQL and starts health checking
func NewDatabaseManager(cfg config.DatabaseConfig, logger *zap.Logger) (*DatabaseManager, error) {
	db, err := connectDatabase(cfg)
	if err != nil {
		return nil, err
	}

	dm := NewDatabaseManagerFromDB(db, logger)
	dm.healthChecker.Start()

	return dm, nil
}

// NewDatabaseManagerFromDB wraps an existing connection pool. Health checking
// is not started.
func NewDatabaseManagerFromDB(db *sql.DB, logger *zap.Logger) *DatabaseManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DatabaseManager{
		db:            db,
		healthChecker: NewHealthChecker(db, 30*time.Second, logger),
		logger:        logger,
	}
}

// GetDB returns the underlying database connection
func (dm *DatabaseManager) GetDB() *sql.DB {
	return dm.db
}

// Close closes the database connection and stops health checking
func (dm *DatabaseManager) Close() error {
	if dm.healthChecker != nil {
		dm.healthChecker.Stop()
	}
	if dm.db != nil {
		return dm.db.Close()
	}
	return nil
}

// QueryWithHealthCheck executes a query with connection health verification
func (dm *DatabaseManager) QueryWithHealthCheck(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if err := dm.healthChecker.EnsureConnection(ctx); err != nil {
		return nil, err
	}

	return dm.db.QueryContext(ctx, query, args...)
}

// QueryRowWithHealthCheck executes a query that returns a single row. A failed
// health check surfaces as the error of Scan.
func (dm *DatabaseManager) QueryRowWithHealthCheck(ctx context.Context, query string, args ...interface{}) *sql.Row {
	if err := dm.healthChecker.EnsureConnection(ctx); err != nil {
		dm.logger.Warn("Query issued on unhealthy connection", zap.Error(err))
	}

	return dm.db.QueryRowContext(ctx, query, args...)
}

// ExecWithHealthCheck executes a statement with connection health verification
func (dm *DatabaseManager) ExecWithHealthCheck(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if err := dm.healthChecker.EnsureConnection(ctx); err != nil {
		return nil, err
	}

	return dm.db.ExecContext(ctx, query, args...)
}

// IsConnectionHealthy returns the current health status
func (dm *DatabaseManager) IsConnectionHealthy() bool {
	return dm.healthChecker.IsHealthy()
}

// Init applies pending migrations
func (dm *DatabaseManager) Init(ctx context.Context) error {
	dm.logger.Info("Running database migrations")

	runner, err := NewMigrationsRunner(dm.db, dm.logger)
	if err != nil {
		return fmt.Errorf("failed to create migration runner: %w", err)
	}

	if err := runner.Run(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	dm.logger.Info("Database initialization completed")
	return nil
}

func connectDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}

	return db, nil
}
