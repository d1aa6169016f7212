package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/BathrobeBat/noise-sensor/pkg/aggregator"
	"github.com/spf13/cobra"
)

var aggregateDate string

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Run the daily aggregation",
	Long: `Roll the readings of one day up into daily aggregates and apply
retention. Without --date yesterday is aggregated.`,
	RunE: runAggregate,
}

func init() {
	aggregateCmd.Flags().StringVar(&aggregateDate, "date", "", "Day to aggregate (YYYY-MM-DD)")
	rootCmd.AddCommand(aggregateCmd)
}

func runAggregate(cmd *cobra.Command, args []string) error {
	env := getEnvironment(cmd)

	dbManager, err := env.database()
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := dbManager.Init(cmd.Context()); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	agg := aggregator.New(dbManager, env.loc, env.logger.Named("aggregator"))

	var report *aggregator.RunReport
	if aggregateDate != "" {
		day, parseErr := time.Parse("2006-01-02", aggregateDate)
		if parseErr != nil {
			return fmt.Errorf("invalid --date %q (expected YYYY-MM-DD)", aggregateDate)
		}
		report, err = agg.RunForDate(cmd.Context(), day)
	} else {
		report, err = agg.Run(cmd.Context(), time.Now())
	}

	if report != nil {
		printReport(report)
	}
	if errors.Is(err, aggregator.ErrAlreadyAggregated) {
		fmt.Printf("⚠ %v\n", err)
		return nil
	}
	return err
}

func printReport(r *aggregator.RunReport) {
	fmt.Printf("Day:                %s\n", r.Day.Format("2006-01-02"))
	fmt.Printf("Sensors:            %d\n", r.Sensors)
	fmt.Printf("Aggregated:         %d\n", r.Aggregated)
	fmt.Printf("Without data:       %d\n", r.NoData)
	fmt.Printf("Already aggregated: %d\n", r.AlreadyAggregated)
	fmt.Printf("Failed:             %d\n", r.Failed)
	if r.RetentionApplied {
		fmt.Printf("Readings deleted:   %d\n", r.ReadingsDeleted)
		fmt.Printf("Aggregates deleted: %d\n", r.AggregatesDeleted)
	} else {
		fmt.Println("Retention skipped")
	}
}
