package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sensor sources
const (
	SourceFeed   = "feed"
	SourceDirect = "direct"
)

var (
	ErrSensorNotFound   = errors.New("sensor not found")
	ErrLocationNotFound = errors.New("location not found")
)

// Location is where a sensor is installed. ExternalID is set only for
// locations imported from the upstream feed.
type Location struct {
	ID         uuid.UUID `json:"id"`
	ExternalID *int64    `json:"external_id,omitempty"`
	Country    string    `json:"country"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Altitude   float64   `json:"altitude"`
	Indoor     bool      `json:"indoor"`
	CreatedAt  time.Time `json:"created_at"`
}

// Sensor is a noise sensor known to the catalog
type Sensor struct {
	ID         uuid.UUID `json:"id"`
	Source     string    `json:"source"`
	ExternalID *int64    `json:"external_id,omitempty"`
	LocationID uuid.UUID `json:"location_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// IsFeed reports whether the sensor was imported from the upstream feed
func (s *Sensor) IsFeed() bool {
	return s.Source == SourceFeed
}

// SensorWithLocation joins a sensor with its location
type SensorWithLocation struct {
	Sensor   Sensor   `json:"sensor"`
	Location Location `json:"location"`
}

// SensorListItem is the compact shape returned when listing all sensors
type SensorListItem struct {
	ID        uuid.UUID `json:"id"`
	Source    string    `json:"source"`
	Country   *string   `json:"country"`
	Latitude  *float64  `json:"latitude"`
	Longitude *float64  `json:"longitude"`
}

// Int64Ptr returns a pointer to v
func Int64Ptr(v int64) *int64 {
	return &v
}
