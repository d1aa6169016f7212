package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BathrobeBat/noise-sensor/pkg/aggregator"
	"github.com/BathrobeBat/noise-sensor/pkg/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Noise Sensor server",
	Long: `Start the HTTP API together with the hourly feed poll and the daily
aggregation.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	env := getEnvironment(cmd)
	cfg := env.cfg
	log := env.logger

	if cfg.Server.JWTSecret == "" || cfg.Server.JWTSecret == "change_me_in_production" {
		return errors.New("JWT_SECRET environment variable is not set or has an invalid value")
	}

	dbManager, err := env.database()
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// Run migrations
	if err := dbManager.Init(cmd.Context()); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	registry := InitRegistry(cmd.Context(), env, dbManager)
	defer registry.Close()

	sched, err := newScheduler(env, registry)
	if err != nil {
		return err
	}
	sched.Start()

	routeManager := NewRouteManager(RouteConfig{
		Ingest:         registry.Orchestrator,
		Queries:        registry.Queries,
		Aggregator:     registry.Aggregator,
		Scheduler:      sched,
		Users:          dbManager,
		Health:         dbManager,
		JWTSecret:      cfg.Server.JWTSecret,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Location:       env.loc,
		Logger:         log.Named("http"),
	})
	routeManager.Setup()

	addr := ":" + cfg.Server.Port
	server := &http.Server{
		Handler:      routeManager.Router,
		Addr:         addr,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 2 * cfg.Feed.Timeout,
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Shutdown signal received")

		sched.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error("Server shutdown error", zap.Error(err))
		}
	}()

	log.Info("Starting Noise Sensor server", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// newScheduler registers the feed poll and the daily aggregation
func newScheduler(env *environment, registry *Registry) (*scheduler.Scheduler, error) {
	cfg := env.cfg
	sched := scheduler.New(env.logger.Named("scheduler"))

	err := sched.Add(taskPoll, scheduler.Every(cfg.Schedule.PollInterval), func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, cfg.Schedule.PollInterval)
		defer cancel()
		_, err := registry.Orchestrator.PollFeedOnce(ctx, true)
		return err
	})
	if err != nil {
		return nil, err
	}

	hour, minute, _ := cfg.AggregationTime()
	err = sched.Add(taskAggregate, scheduler.DailyAt(hour, minute, env.loc), func(ctx context.Context) error {
		_, err := registry.Aggregator.Run(ctx, time.Now())
		if errors.Is(err, aggregator.ErrAlreadyAggregated) {
			env.logger.Warn("Aggregation found existing rollups", zap.Error(err))
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	return sched, nil
}
