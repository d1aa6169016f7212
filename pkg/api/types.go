package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LocalTimestampLayout is the zone-less timestamp form sent by devices.
// Zone-less timestamps are read as UTC.
const LocalTimestampLayout = "2006-01-02T15:04:05"

var timestampLayouts = []string{time.RFC3339Nano, LocalTimestampLayout, "2006-01-02 15:04:05"}

// Timestamp accepts RFC 3339 as well as zone-less timestamps. The zero value
// is encoded as null.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		t.Time = time.Time{}
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}

	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339))
}

// SubscribeRequest registers a direct sensor
type SubscribeRequest struct {
	Country   string   `json:"country"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Altitude  float64  `json:"altitude"`
	Indoor    bool     `json:"indoor"`
}

// Validate checks the coordinates
func (r *SubscribeRequest) Validate() error {
	if r.Latitude == nil || r.Longitude == nil {
		return errors.New("latitude and longitude are required")
	}
	if *r.Latitude < -90 || *r.Latitude > 90 {
		return fmt.Errorf("latitude out of range: %v", *r.Latitude)
	}
	if *r.Longitude < -180 || *r.Longitude > 180 {
		return fmt.Errorf("longitude out of range: %v", *r.Longitude)
	}
	return nil
}

// SubscribeResponse carries the ids a device must send its readings with
type SubscribeResponse struct {
	SensorID   uuid.UUID `json:"sensor_id"`
	LocationID uuid.UUID `json:"location_id"`
}

// DataRequest is a reading pushed by a direct sensor. LAmax and LAmin
// default to LAeq.
type DataRequest struct {
	SensorID   *uuid.UUID `json:"sensor_id"`
	LocationID *uuid.UUID `json:"location_id"`
	Timestamp  Timestamp  `json:"timestamp"`
	LAeq       *float64   `json:"noise_LAeq"`
	LAmax      *float64   `json:"noise_LAmax"`
	LAmin      *float64   `json:"noise_LAmin"`
}

// Validate checks that the ids and the equivalent level are present
func (r *DataRequest) Validate() error {
	if r.SensorID == nil || r.LocationID == nil {
		return errors.New("missing uuid")
	}
	if r.LAeq == nil {
		return errors.New("missing noise_LAeq")
	}
	return nil
}

// Levels returns LAeq, LAmax and LAmin with the defaults applied
func (r *DataRequest) Levels() (laeq, lamax, lamin float64) {
	laeq = *r.LAeq
	lamax, lamin = laeq, laeq
	if r.LAmax != nil {
		lamax = *r.LAmax
	}
	if r.LAmin != nil {
		lamin = *r.LAmin
	}
	return laeq, lamax, lamin
}

// SuccessResponse is returned by endpoints without a payload
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ErrorResponse is the body of every error answer
type ErrorResponse struct {
	Error string `json:"error"`
}

// LoginRequest carries admin credentials
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the answer to a login
type LoginResponse struct {
	Success   bool      `json:"success"`
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	User      UserInfo  `json:"user,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// UserInfo identifies the logged in admin
type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// TaskResponse acknowledges a background task
type TaskResponse struct {
	Task   string `json:"task"`
	Status string `json:"status"`
}
