package models

import (
	"time"

	"github.com/google/uuid"
)

// Reading is a single raw measurement. A zero Timestamp means the row was
// stored without one. ReceivedAt is set by the store on insert.
type Reading struct {
	ID         uuid.UUID `json:"id"`
	SensorID   uuid.UUID `json:"sensor_id"`
	Timestamp  time.Time `json:"timestamp"`
	LAeq       float64   `json:"noise_LAeq"`
	LAmax      float64   `json:"noise_LAmax"`
	LAmin      float64   `json:"noise_LAmin"`
	ReceivedAt time.Time `json:"-"`
}

// HasTimestamp reports whether the reading carries a timestamp
func (r *Reading) HasTimestamp() bool {
	return !r.Timestamp.IsZero()
}

// RetentionTime is the instant retention ages the reading by: its timestamp,
// or the time it was received when it has none
func (r *Reading) RetentionTime() time.Time {
	if r.HasTimestamp() {
		return r.Timestamp
	}
	return r.ReceivedAt
}

// NoiseValue converts the reading into a window row
func (r *Reading) NoiseValue() NoiseValue {
	return NoiseValue{
		Timestamp: r.Timestamp,
		LAeq:      r.LAeq,
		LAmax:     r.LAmax,
		LAmin:     r.LAmin,
	}
}

// DailyAggregate is the rollup of one sensor's readings for one calendar day.
// Day is always midnight UTC of that calendar date.
type DailyAggregate struct {
	ID       uuid.UUID `json:"id"`
	SensorID uuid.UUID `json:"sensor_id"`
	Day      time.Time `json:"day"`
	LAeq     float64   `json:"noise_LAeq"`
	LAmax    float64   `json:"noise_LAmax"`
	LAmin    float64   `json:"noise_LAmin"`
}

// NoiseValue returns the aggregate as a window row stamped at midnight of
// its day in loc.
func (d *DailyAggregate) NoiseValue(loc *time.Location) NoiseValue {
	return NoiseValue{
		Timestamp: StartOfDay(d.Day, loc),
		LAeq:      d.LAeq,
		LAmax:     d.LAmax,
		LAmin:     d.LAmin,
	}
}

// Candidate is a normalized feed report ready for catalog upsert
type Candidate struct {
	ExternalSensorID   int64
	ExternalLocationID int64
	Country            string
	Latitude           float64
	Longitude          float64
	Altitude           float64
	Indoor             bool
	Timestamp          time.Time
	LAeq               float64
	LAmax              float64
	LAmin              float64
}

// Reading builds the raw reading for sensorID out of the candidate values
func (c *Candidate) Reading(sensorID uuid.UUID) *Reading {
	return &Reading{
		SensorID:  sensorID,
		Timestamp: c.Timestamp,
		LAeq:      c.LAeq,
		LAmax:     c.LAmax,
		LAmin:     c.LAmin,
	}
}
