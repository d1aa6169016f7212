package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pollCatalogOnly bool

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll the sensor.community feed once",
	Long: `Fetch the current feed snapshot, register unknown sensors and store
their readings.`,
	RunE: runPoll,
}

func init() {
	pollCmd.Flags().BoolVar(&pollCatalogOnly, "catalog-only", false, "Only update the sensor catalog, store no readings")
	rootCmd.AddCommand(pollCmd)
}

func runPoll(cmd *cobra.Command, args []string) error {
	env := getEnvironment(cmd)

	dbManager, err := env.database()
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := dbManager.Init(cmd.Context()); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	registry := InitRegistry(cmd.Context(), env, dbManager)
	defer registry.Close()

	n, err := registry.Orchestrator.PollFeedOnce(cmd.Context(), !pollCatalogOnly)
	if err != nil {
		return err
	}

	fmt.Printf("✓ Processed %d noise sensors\n", n)
	return nil
}
