package main

import (
	"context"
	"fmt"
	"math/rand"
	"os/signal"
	"syscall"
	"time"

	"github.com/BathrobeBat/noise-sensor/pkg/api"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Direct sensor tools",
}

var (
	deviceServer     string
	deviceSensorID   string
	deviceLocationID string
	deviceInterval   time.Duration
	deviceCount      int
	deviceLat        float64
	deviceLon        float64
	deviceCountry    string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Push simulated readings like a direct sensor",
	Long: `Act as a direct sensor against a running server. Without --sensor-id
and --location-id the device subscribes first and uses the returned ids.`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVar(&deviceServer, "server", "http://localhost:8080", "Server base URL")
	simulateCmd.Flags().StringVar(&deviceSensorID, "sensor-id", "", "Sensor id of an already subscribed device")
	simulateCmd.Flags().StringVar(&deviceLocationID, "location-id", "", "Location id of an already subscribed device")
	simulateCmd.Flags().DurationVar(&deviceInterval, "interval", 10*time.Second, "Time between readings")
	simulateCmd.Flags().IntVar(&deviceCount, "count", 0, "Number of readings to push, 0 runs until interrupted")
	simulateCmd.Flags().Float64Var(&deviceLat, "lat", 47.0707, "Latitude used when subscribing")
	simulateCmd.Flags().Float64Var(&deviceLon, "lon", 15.4395, "Longitude used when subscribing")
	simulateCmd.Flags().StringVar(&deviceCountry, "country", "AT", "Country used when subscribing")

	rootCmd.AddCommand(deviceCmd)
	deviceCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	log := getEnvironment(cmd).logger.Named("device")
	client := api.NewClient(deviceServer, api.WithTimeout(10*time.Second))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sensorID, locationID, err := deviceIDs(ctx, client)
	if err != nil {
		return err
	}
	log.Info("Simulating device",
		zap.String("sensor_id", sensorID.String()),
		zap.String("location_id", locationID.String()),
		zap.Duration("interval", deviceInterval))

	ticker := time.NewTicker(deviceInterval)
	defer ticker.Stop()

	level := 50.0
	for sent := 0; deviceCount == 0 || sent < deviceCount; sent++ {
		if sent > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}

		level = nextLevel(level)
		laeq, lamax, lamin := level, level+5+rand.Float64()*10, level-5-rand.Float64()*5

		err := client.PushData(ctx, api.DataRequest{
			SensorID:   &sensorID,
			LocationID: &locationID,
			Timestamp:  api.Timestamp{Time: time.Now().UTC()},
			LAeq:       &laeq,
			LAmax:      &lamax,
			LAmin:      &lamin,
		})
		if err != nil {
			if api.IsNotFound(err) {
				return fmt.Errorf("server does not know this device: %w", err)
			}
			log.Warn("Failed to push reading", zap.Error(err))
			continue
		}
		log.Info("Reading pushed", zap.Float64("laeq", laeq), zap.Float64("lamax", lamax), zap.Float64("lamin", lamin))
	}

	return nil
}

func deviceIDs(ctx context.Context, client *api.Client) (uuid.UUID, uuid.UUID, error) {
	if deviceSensorID != "" || deviceLocationID != "" {
		sensorID, err := uuid.Parse(deviceSensorID)
		if err != nil {
			return uuid.Nil, uuid.Nil, fmt.Errorf("invalid --sensor-id %q", deviceSensorID)
		}
		locationID, err := uuid.Parse(deviceLocationID)
		if err != nil {
			return uuid.Nil, uuid.Nil, fmt.Errorf("invalid --location-id %q", deviceLocationID)
		}
		return sensorID, locationID, nil
	}

	resp, err := client.Subscribe(ctx, api.SubscribeRequest{
		Country:   deviceCountry,
		Latitude:  &deviceLat,
		Longitude: &deviceLon,
	})
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	fmt.Printf("✓ Subscribed\nSensor ID:   %s\nLocation ID: %s\n", resp.SensorID, resp.LocationID)
	return resp.SensorID, resp.LocationID, nil
}

// nextLevel random-walks the equivalent level within a street-noise range
func nextLevel(level float64) float64 {
	level += rand.NormFloat64() * 2
	switch {
	case level < 30:
		return 30
	case level > 90:
		return 90
	}
	return level
}
