package main

import (
	"context"
	"net/http"
	"time"

	"github.com/BathrobeBat/noise-sensor/pkg/aggregator"
	"github.com/BathrobeBat/noise-sensor/pkg/ingest"
	"github.com/BathrobeBat/noise-sensor/pkg/models"
	"github.com/BathrobeBat/noise-sensor/pkg/scheduler"
	"github.com/BathrobeBat/noise-sensor/pkg/window"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Scheduled task names
const (
	taskPoll      = "poll"
	taskAggregate = "aggregate"
)

// UserStore validates admin credentials
type UserStore interface {
	ValidateUser(ctx context.Context, username, password string) (*models.User, error)
}

// HealthReporter reports the state of the database connection
type HealthReporter interface {
	IsConnectionHealthy() bool
}

// RouteManager handles all API routes
type RouteManager struct {
	ingest     *ingest.Orchestrator
	queries    *window.Engine
	aggregator *aggregator.Aggregator
	scheduler  *scheduler.Scheduler
	users      UserStore
	health     HealthReporter

	jwtSecret      []byte
	allowedOrigins []string
	loc            *time.Location
	logger         *zap.Logger

	Router *mux.Router
}

// RouteConfig carries the dependencies of a RouteManager. Scheduler may be
// nil, in which case manual polls are refused.
type RouteConfig struct {
	Ingest         *ingest.Orchestrator
	Queries        *window.Engine
	Aggregator     *aggregator.Aggregator
	Scheduler      *scheduler.Scheduler
	Users          UserStore
	Health         HealthReporter
	JWTSecret      string
	AllowedOrigins []string
	Location       *time.Location
	Logger         *zap.Logger
}

// NewRouteManager creates a new RouteManager instance
func NewRouteManager(cfg RouteConfig) *RouteManager {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &RouteManager{
		ingest:         cfg.Ingest,
		queries:        cfg.Queries,
		aggregator:     cfg.Aggregator,
		scheduler:      cfg.Scheduler,
		users:          cfg.Users,
		health:         cfg.Health,
		jwtSecret:      []byte(cfg.JWTSecret),
		allowedOrigins: cfg.AllowedOrigins,
		loc:            loc,
		logger:         cfg.Logger,
		Router:         mux.NewRouter(),
	}
}

// Setup configures all API routes
func (rm *RouteManager) Setup() {
	r := rm.Router
	r.Use(rm.corsMiddleware)
	r.Use(rm.loggingMiddleware)

	// Global OPTIONS handler - catches all preflight requests. A matcher func
	// keeps unknown paths at 404 instead of 405.
	r.MatcherFunc(func(req *http.Request, _ *mux.RouteMatch) bool {
		return req.Method == http.MethodOptions
	}).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.HandleFunc("/health", rm.healthHandler).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	rm.setupAPIRoutes(api)
}

// setupAPIRoutes configures all API v1 routes. The window route is generic
// and therefore registered last.
func (rm *RouteManager) setupAPIRoutes(api *mux.Router) {
	// Devices
	api.HandleFunc("/subscribe", rm.subscribeHandler).Methods("PUT")
	api.HandleFunc("/data", rm.dataHandler).Methods("POST")

	// Auth
	api.HandleFunc("/auth/login", rm.handleLogin).Methods("POST")
	api.Handle("/auth/me", rm.JWTAuthMiddleware(http.HandlerFunc(rm.handleMe))).Methods("GET")

	// Admin
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(rm.JWTAuthMiddleware)
	admin.HandleFunc("/poll", rm.pollHandler).Methods("POST")
	admin.HandleFunc("/aggregate", rm.aggregateHandler).Methods("POST")

	// Queries
	api.HandleFunc("/allsensors", rm.allSensorsHandler).Methods("GET")
	api.HandleFunc("/recentdata/{id}", rm.recentDataHandler).Methods("GET")
	api.HandleFunc("/{mode:day|week|month|alltime}/{id}", rm.windowHandler).Methods("GET")
}
