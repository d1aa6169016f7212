package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WindowMode selects the calendar period of a window query
type WindowMode string

const (
	WindowDay     WindowMode = "day"
	WindowWeek    WindowMode = "week"
	WindowMonth   WindowMode = "month"
	WindowAllTime WindowMode = "alltime"
)

// ParseWindowMode validates a mode coming from a request path
func ParseWindowMode(s string) (WindowMode, error) {
	switch m := WindowMode(s); m {
	case WindowDay, WindowWeek, WindowMonth, WindowAllTime:
		return m, nil
	}
	return "", fmt.Errorf("invalid window mode: %s (valid: day, week, month, alltime)", s)
}

// Default values returned for a direct sensor that has not pushed anything yet
const (
	PlaceholderLAeq  = 40
	PlaceholderLAmax = 50
	PlaceholderLAmin = 30
)

// NoiseValue is one row of a window or a most-recent lookup
type NoiseValue struct {
	Timestamp   time.Time `json:"timestamp"`
	LAeq        float64   `json:"noise_LAeq"`
	LAmax       float64   `json:"noise_LAmax"`
	LAmin       float64   `json:"noise_LAmin"`
	Placeholder bool      `json:"placeholder,omitempty"`
}

// PlaceholderNoiseValue is the "no data yet" sentinel stamped at now
func PlaceholderNoiseValue(now time.Time) *NoiseValue {
	return &NoiseValue{
		Timestamp:   now,
		LAeq:        PlaceholderLAeq,
		LAmax:       PlaceholderLAmax,
		LAmin:       PlaceholderLAmin,
		Placeholder: true,
	}
}

// SensorWindow is the result of a window query
type SensorWindow struct {
	ID       uuid.UUID    `json:"id"`
	Mode     WindowMode   `json:"mode"`
	Location Location     `json:"location"`
	Source   string       `json:"source"`
	Noises   []NoiseValue `json:"noises"`
}

// DateOf returns the calendar date of t as seen in loc, encoded as midnight UTC
func DateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// StartOfDay returns midnight in loc of the calendar date carried by day
func StartOfDay(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// DayRange returns the half-open range [start, end) covering the calendar
// date carried by day in loc. end is midnight of the following date.
func DayRange(day time.Time, loc *time.Location) (start, end time.Time) {
	start = StartOfDay(day, loc)
	return start, StartOfDay(day.AddDate(0, 0, 1), loc)
}
