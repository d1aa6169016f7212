package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/BathrobeBat/noise-sensor/pkg/config"
	"github.com/BathrobeBat/noise-sensor/pkg/database"
	"github.com/BathrobeBat/noise-sensor/pkg/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const serviceName = "noise-sensor"

type environmentKey struct{}

// environment is shared by all commands through the command context
type environment struct {
	cfg    *config.Config
	logger *zap.Logger
	loc    *time.Location

	dbOnce sync.Once
	db     *database.DatabaseManager
	dbErr  error
}

// database connects on first use so commands without storage never dial
func (e *environment) database() (*database.DatabaseManager, error) {
	e.dbOnce.Do(func() {
		e.db, e.dbErr = database.NewDatabaseManager(e.cfg.Database, e.logger)
	})
	return e.db, e.dbErr
}

func (e *environment) close() {
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			e.logger.Warn("Failed to close database", zap.Error(err))
		}
	}
	_ = e.logger.Sync()
}

func getEnvironment(cmd *cobra.Command) *environment {
	return cmd.Context().Value(environmentKey{}).(*environment)
}

var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "Noise Sensor - urban noise monitoring backend",
	Long: `Noise Sensor ingests noise readings from the sensor.community feed and
from directly connected devices, rolls them up into daily aggregates and
serves windowed queries over them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, serviceName)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}

		loc, _ := cfg.Location()
		env := &environment{cfg: cfg, logger: log, loc: loc}
		cmd.SetContext(context.WithValue(cmd.Context(), environmentKey{}, env))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if env, ok := cmd.Context().Value(environmentKey{}).(*environment); ok {
			env.close()
		}
	},
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
