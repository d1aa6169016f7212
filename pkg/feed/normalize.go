package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BathrobeBat/noise-sensor/pkg/models"
)

// TimestampLayout is the layout of report timestamps. Timestamps are UTC.
const TimestampLayout = "2006-01-02 15:04:05"

const noisePrefix = "noise"

// ErrMalformedFeed is returned when the payload is empty or is not a JSON
// array of reports
var ErrMalformedFeed = errors.New("malformed feed payload")

// Report is one sensor report of the upstream feed
type Report struct {
	Sensor struct {
		ID int64 `json:"id"`
	} `json:"sensor"`
	Location struct {
		ID        int64     `json:"id"`
		Country   string    `json:"country"`
		Latitude  flexFloat `json:"latitude"`
		Longitude flexFloat `json:"longitude"`
		Altitude  flexFloat `json:"altitude"`
		Indoor    flexFloat `json:"indoor"`
	} `json:"location"`
	Timestamp        string      `json:"timestamp"`
	SensorDataValues []DataValue `json:"sensordatavalues"`
}

// DataValue is a single typed measurement of a report
type DataValue struct {
	ValueType string    `json:"value_type"`
	Value     flexFloat `json:"value"`
}

// SkippedEntry describes a report that was dropped because it could not be
// normalized. It never aborts a poll.
type SkippedEntry struct {
	Index    int
	SensorID int64
	Reason   string
}

func (s SkippedEntry) Error() string {
	return fmt.Sprintf("report %d (sensor %d) skipped: %s", s.Index, s.SensorID, s.Reason)
}

// Result is the outcome of Filter
type Result struct {
	Candidates []models.Candidate
	Skipped    []SkippedEntry
	// Total counts every report in the payload, noise or not
	Total int
}

// Filter decodes a feed payload and returns the reports that carry at least
// one noise measurement, normalized into candidates
func Filter(payload []byte) (*Result, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedFeed)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFeed, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: null payload", ErrMalformedFeed)
	}

	result := &Result{
		Candidates: []models.Candidate{},
		Total:      len(raw),
	}

	for i, entry := range raw {
		var report Report
		if err := json.Unmarshal(entry, &report); err != nil {
			// A report that is not about noise is dropped silently even when
			// other fields are broken.
			if !rawHasNoise(entry) {
				continue
			}
			result.Skipped = append(result.Skipped, SkippedEntry{Index: i, Reason: err.Error()})
			continue
		}

		if !report.HasNoise() {
			continue
		}

		candidate, err := report.Candidate()
		if err != nil {
			result.Skipped = append(result.Skipped, SkippedEntry{
				Index:    i,
				SensorID: report.Sensor.ID,
				Reason:   err.Error(),
			})
			continue
		}
		result.Candidates = append(result.Candidates, *candidate)
	}

	return result, nil
}

// HasNoise reports whether any measurement type starts with "noise"
func (r *Report) HasNoise() bool {
	for _, v := range r.SensorDataValues {
		if strings.HasPrefix(v.ValueType, noisePrefix) {
			return true
		}
	}
	return false
}

// Candidate validates the report and converts it. Noise values are taken by
// position: the first value is LAeq, the second LAmax and the third LAmin,
// with the first standing in for a missing second or third.
func (r *Report) Candidate() (*models.Candidate, error) {
	if r.Sensor.ID <= 0 {
		return nil, errors.New("missing sensor id")
	}
	if r.Location.ID <= 0 {
		return nil, errors.New("missing location id")
	}
	if !r.Location.Latitude.Valid || !r.Location.Longitude.Valid {
		return nil, errors.New("missing coordinates")
	}

	ts, err := time.ParseInLocation(TimestampLayout, r.Timestamp, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q", r.Timestamp)
	}

	values := r.SensorDataValues
	for i := 0; i < len(values) && i < 3; i++ {
		if !values[i].Value.Valid {
			return nil, fmt.Errorf("missing value for %s", values[i].ValueType)
		}
	}

	laeq := values[0].Value.Value
	lamax, lamin := laeq, laeq
	if len(values) > 1 {
		lamax = values[1].Value.Value
	}
	if len(values) > 2 {
		lamin = values[2].Value.Value
	}

	return &models.Candidate{
		ExternalSensorID:   r.Sensor.ID,
		ExternalLocationID: r.Location.ID,
		Country:            r.Location.Country,
		Latitude:           r.Location.Latitude.Value,
		Longitude:          r.Location.Longitude.Value,
		Altitude:           r.Location.Altitude.Value,
		Indoor:             r.Location.Indoor.Valid && r.Location.Indoor.Value == 1,
		Timestamp:          ts,
		LAeq:               laeq,
		LAmax:              lamax,
		LAmin:              lamin,
	}, nil
}

func rawHasNoise(entry json.RawMessage) bool {
	var probe struct {
		SensorDataValues []struct {
			ValueType string `json:"value_type"`
		} `json:"sensordatavalues"`
	}
	if err := json.Unmarshal(entry, &probe); err != nil {
		// Undecidable, count it
		return true
	}
	for _, v := range probe.SensorDataValues {
		if strings.HasPrefix(v.ValueType, noisePrefix) {
			return true
		}
	}
	return false
}

// flexFloat decodes a number sent either as a JSON number or as a string.
// null and "" leave Valid false.
type flexFloat struct {
	Value float64
	Valid bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = flexFloat{}
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unquoted)
		if s == "" {
			*f = flexFloat{}
			return nil
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %s", string(data))
	}
	*f = flexFloat{Value: v, Valid: true}
	return nil
}
