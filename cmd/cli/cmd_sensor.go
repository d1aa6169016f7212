package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/BathrobeBat/noise-sensor/pkg/catalog"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var sensorCmd = &cobra.Command{
	Use:   "sensor",
	Short: "Sensor catalog commands",
	Long:  `Commands for managing the noise sensor catalog.`,
}

var (
	registerCountry string
	registerLat     float64
	registerLon     float64
	registerAlt     float64
	registerIndoor  bool
)

var registerSensorCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a direct sensor",
	Long: `Create a sensor that pushes its own readings, together with its
location. The printed ids are needed to push data.`,
	RunE: runRegisterSensor,
}

var listSensorsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sensors",
	RunE:  runListSensors,
}

var deleteSensorCmd = &cobra.Command{
	Use:   "delete <sensor-id>",
	Short: "Delete a sensor with its readings and aggregates",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteSensor,
}

func init() {
	registerSensorCmd.Flags().StringVar(&registerCountry, "country", "", "ISO country code")
	registerSensorCmd.Flags().Float64Var(&registerLat, "lat", 0, "Latitude")
	registerSensorCmd.Flags().Float64Var(&registerLon, "lon", 0, "Longitude")
	registerSensorCmd.Flags().Float64Var(&registerAlt, "alt", 0, "Altitude in meters")
	registerSensorCmd.Flags().BoolVar(&registerIndoor, "indoor", false, "Sensor is installed indoors")
	_ = registerSensorCmd.MarkFlagRequired("lat")
	_ = registerSensorCmd.MarkFlagRequired("lon")

	rootCmd.AddCommand(sensorCmd)
	sensorCmd.AddCommand(registerSensorCmd, listSensorsCmd, deleteSensorCmd)
}

func runRegisterSensor(cmd *cobra.Command, args []string) error {
	if registerLat < -90 || registerLat > 90 || registerLon < -180 || registerLon > 180 {
		return fmt.Errorf("coordinates out of range: %f, %f", registerLat, registerLon)
	}

	env := getEnvironment(cmd)
	dbManager, err := env.database()
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := dbManager.Init(cmd.Context()); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	upserter := catalog.NewUpserter(dbManager, env.logger.Named("catalog"))
	sensor, loc, err := upserter.RegisterDirect(cmd.Context(), catalog.DirectRegistration{
		Country:   registerCountry,
		Latitude:  registerLat,
		Longitude: registerLon,
		Altitude:  registerAlt,
		Indoor:    registerIndoor,
	})
	if err != nil {
		return fmt.Errorf("failed to register sensor: %w", err)
	}

	fmt.Printf("✓ Sensor registered\n")
	fmt.Printf("Sensor ID:   %s\n", sensor.ID)
	fmt.Printf("Location ID: %s\n", loc.ID)
	return nil
}

func runListSensors(cmd *cobra.Command, args []string) error {
	env := getEnvironment(cmd)
	dbManager, err := env.database()
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sensors, err := dbManager.ListSensorsWithLocation(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list sensors: %w", err)
	}

	if len(sensors) == 0 {
		fmt.Println("No sensors registered")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSOURCE\tEXTERNAL ID\tCOUNTRY\tLAT\tLON\tINDOOR")
	for _, s := range sensors {
		external := "-"
		if s.Sensor.ExternalID != nil {
			external = fmt.Sprintf("%d", *s.Sensor.ExternalID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.4f\t%.4f\t%t\n",
			s.Sensor.ID, s.Sensor.Source, external, s.Location.Country,
			s.Location.Latitude, s.Location.Longitude, s.Location.Indoor)
	}
	return w.Flush()
}

func runDeleteSensor(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid sensor id %q", args[0])
	}

	env := getEnvironment(cmd)
	dbManager, err := env.database()
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := dbManager.DeleteSensor(cmd.Context(), id); err != nil {
		return fmt.Errorf("failed to delete sensor: %w", err)
	}

	fmt.Printf("✓ Sensor %s deleted\n", id)
	return nil
}
