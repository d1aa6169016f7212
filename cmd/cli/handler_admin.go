package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/BathrobeBat/noise-sensor/pkg/aggregator"
	"github.com/BathrobeBat/noise-sensor/pkg/api"
	"github.com/BathrobeBat/noise-sensor/pkg/scheduler"
	"go.uber.org/zap"
)

// pollHandler starts a feed poll in the background
func (rm *RouteManager) pollHandler(w http.ResponseWriter, r *http.Request) {
	if rm.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "Scheduler not running")
		return
	}

	switch err := rm.scheduler.RunNow(taskPoll); {
	case err == nil:
		writeJSON(w, http.StatusAccepted, api.TaskResponse{Task: taskPoll, Status: "started"})
	case errors.Is(err, scheduler.ErrTaskRunning):
		writeJSON(w, http.StatusConflict, api.TaskResponse{Task: taskPoll, Status: "running"})
	default:
		rm.logger.Error("Failed to start poll", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Failed to start poll")
	}
}

// aggregateHandler runs the daily aggregation synchronously
// Query params:
//   - date: day to aggregate (YYYY-MM-DD), defaults to yesterday
func (rm *RouteManager) aggregateHandler(w http.ResponseWriter, r *http.Request) {
	var (
		report *aggregator.RunReport
		err    error
	)

	if s := r.URL.Query().Get("date"); s != "" {
		day, parseErr := time.Parse("2006-01-02", s)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (expected YYYY-MM-DD)")
			return
		}
		report, err = rm.aggregator.RunForDate(r.Context(), day)
	} else {
		report, err = rm.aggregator.Run(r.Context(), time.Now())
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, report)
	case errors.Is(err, aggregator.ErrAlreadyAggregated):
		writeJSON(w, http.StatusConflict, report)
	default:
		rm.logger.Error("Manual aggregation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Aggregation failed")
	}
}
