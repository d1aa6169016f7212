package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BathrobeBat/noise-sensor/pkg/models"
)

// Measurement type names used by the per-sensor endpoint
const (
	ValueTypeLAeq  = "noise_LAeq"
	ValueTypeLAmax = "noise_LA_max"
	ValueTypeLAmin = "noise_LA_min"
)

// ParseLatest picks the most recent report of a per-sensor history payload
// and reads its noise values by measurement type. It returns nil when the
// payload holds no usable noise report.
func ParseLatest(payload []byte) (*models.NoiseValue, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedFeed)
	}

	var reports []struct {
		Timestamp        string `json:"timestamp"`
		SensorDataValues []struct {
			ValueType string          `json:"value_type"`
			Value     json.RawMessage `json:"value"`
		} `json:"sensordatavalues"`
	}
	if err := json.Unmarshal(payload, &reports); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFeed, err)
	}

	var latest *models.NoiseValue
	for _, report := range reports {
		ts, err := time.ParseInLocation(TimestampLayout, report.Timestamp, time.UTC)
		if err != nil {
			continue
		}
		if latest != nil && !ts.After(latest.Timestamp) {
			continue
		}

		values := make(map[string]float64)
		for _, dv := range report.SensorDataValues {
			var f flexFloat
			if err := f.UnmarshalJSON(dv.Value); err != nil || !f.Valid {
				continue
			}
			values[dv.ValueType] = f.Value
		}

		laeq, ok := values[ValueTypeLAeq]
		if !ok {
			continue
		}
		nv := &models.NoiseValue{Timestamp: ts, LAeq: laeq, LAmax: laeq, LAmin: laeq}
		if v, ok := values[ValueTypeLAmax]; ok {
			nv.LAmax = v
		}
		if v, ok := values[ValueTypeLAmin]; ok {
			nv.LAmin = v
		}
		latest = nv
	}

	return latest, nil
}
