package sink

import (
	"context"
	"fmt"
	"strconv"

	"github.com/BathrobeBat/noise-sensor/pkg/config"
	"github.com/BathrobeBat/noise-sensor/pkg/models"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"
)

// Measurement is the InfluxDB measurement readings are written to
const Measurement = "noise"

// InfluxSink mirrors stored readings into an InfluxDB bucket. Writes are
// batched in the background; write errors are logged.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *zap.Logger
}

// NewInfluxSink connects to InfluxDB and verifies its health
func NewInfluxSink(ctx context.Context, cfg config.InfluxConfig, logger *zap.Logger) (*InfluxSink, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	if _, err := client.Health(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}

	s := &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:   logger,
	}
	go s.logErrors(s.writeAPI.Errors())

	logger.Info("InfluxDB sink connected", zap.String("url", cfg.URL), zap.String("bucket", cfg.Bucket))
	return s, nil
}

func (s *InfluxSink) logErrors(errs <-chan error) {
	for err := range errs {
		s.logger.Warn("InfluxDB write failed", zap.Error(err))
	}
}

// WriteReading queues r. Readings without timestamp are not mirrored.
func (s *InfluxSink) WriteReading(ctx context.Context, sensor *models.Sensor, r *models.Reading) error {
	if !r.HasTimestamp() {
		return nil
	}
	s.writeAPI.WritePoint(Point(sensor, r))
	return nil
}

// Flush writes all queued points
func (s *InfluxSink) Flush() {
	s.writeAPI.Flush()
}

// Close flushes pending points and closes the client
func (s *InfluxSink) Close() {
	s.writeAPI.Flush()
	s.client.Close()
}

// Point converts a reading into a line protocol point
func Point(sensor *models.Sensor, r *models.Reading) *write.Point {
	tags := map[string]string{
		"sensor_id": sensor.ID.String(),
		"source":    sensor.Source,
	}
	if sensor.ExternalID != nil {
		tags["external_id"] = strconv.FormatInt(*sensor.ExternalID, 10)
	}

	return write.NewPoint(
		Measurement,
		tags,
		map[string]interface{}{
			"laeq":  r.LAeq,
			"lamax": r.LAmax,
			"lamin": r.LAmin,
		},
		r.Timestamp,
	)
}
