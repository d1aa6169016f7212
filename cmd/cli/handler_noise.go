package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/BathrobeBat/noise-sensor/pkg/api"
	"github.com/BathrobeBat/noise-sensor/pkg/catalog"
	"github.com/BathrobeBat/noise-sensor/pkg/ingest"
	"github.com/BathrobeBat/noise-sensor/pkg/models"
	"github.com/BathrobeBat/noise-sensor/pkg/window"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// subscribeHandler registers a direct sensor and returns its ids
func (rm *RouteManager) subscribeHandler(w http.ResponseWriter, r *http.Request) {
	var req api.SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sensorID, locationID, err := rm.ingest.RegisterDirectSensor(r.Context(), catalog.DirectRegistration{
		Country:   req.Country,
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
		Altitude:  req.Altitude,
		Indoor:    req.Indoor,
	})
	if err != nil {
		rm.logger.Error("Failed to register sensor", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to register sensor")
		return
	}

	writeJSON(w, http.StatusOK, api.SubscribeResponse{SensorID: sensorID, LocationID: locationID})
}

// dataHandler stores a reading pushed by a direct sensor
func (rm *RouteManager) dataHandler(w http.ResponseWriter, r *http.Request) {
	var req api.DataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	laeq, lamax, lamin := req.Levels()
	err := rm.ingest.ReceivePushedReading(r.Context(), ingest.PushedReading{
		SensorID:   *req.SensorID,
		LocationID: *req.LocationID,
		Timestamp:  req.Timestamp.Time,
		LAeq:       laeq,
		LAmax:      lamax,
		LAmin:      lamin,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, api.SuccessResponse{Success: true})
	case errors.Is(err, models.ErrSensorNotFound), errors.Is(err, models.ErrLocationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		rm.logger.Error("Failed to store pushed reading", zap.String("sensor_id", req.SensorID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to store reading")
	}
}

// allSensorsHandler lists every known sensor
func (rm *RouteManager) allSensorsHandler(w http.ResponseWriter, r *http.Request) {
	sensors, err := rm.queries.ListAllSensors(r.Context())
	if err != nil {
		rm.logger.Error("Failed to list sensors", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to list sensors")
		return
	}
	writeJSON(w, http.StatusOK, sensors)
}

// recentDataHandler returns the newest value of a sensor, or 204 when a feed
// sensor has nothing recent
func (rm *RouteManager) recentDataHandler(w http.ResponseWriter, r *http.Request) {
	sensorID, ok := parseSensorID(w, r)
	if !ok {
		return
	}

	value, err := rm.queries.MostRecent(r.Context(), sensorID)
	if err != nil {
		rm.queryError(w, err)
		return
	}
	if value == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, value)
}

// windowHandler returns the values of a sensor for a day, week, month or its
// whole history
// Query params:
//   - date: reference date (YYYY-MM-DD), defaults to today
func (rm *RouteManager) windowHandler(w http.ResponseWriter, r *http.Request) {
	mode, err := window.ParseMode(mux.Vars(r)["mode"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	sensorID, ok := parseSensorID(w, r)
	if !ok {
		return
	}

	date := models.DateOf(time.Now(), rm.loc)
	if s := r.URL.Query().Get("date"); s != "" {
		if date, err = time.Parse("2006-01-02", s); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (expected YYYY-MM-DD)")
			return
		}
	}

	result, err := rm.queries.Window(r.Context(), sensorID, mode, date)
	if err != nil {
		rm.queryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rm *RouteManager) queryError(w http.ResponseWriter, err error) {
	if errors.Is(err, models.ErrSensorNotFound) || errors.Is(err, models.ErrLocationNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	rm.logger.Error("Query failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Query failed")
}

func parseSensorID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid sensor id format")
		return uuid.Nil, false
	}
	return id, true
}
