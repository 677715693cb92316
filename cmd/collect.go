package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/homecharge/app"
)

var collectCmd = &cobra.Command{
	Use:   "collect <session-id>",
	Short: "Sample a live session's power and add it to the corpus",
	Args:  cobra.ExactArgs(1),
	RunE:  runCollect,
}

func init() {
	collectCmd.Flags().IntP("samples", "n", 0, "number of samples (overrides collect.samples)")
	collectCmd.Flags().DurationP("interval", "i", 0, "time between samples (overrides collect.interval)")
	rootCmd.AddCommand(collectCmd)
}

func runCollect(cmd *cobra.Command, args []string) error {
	samples, _ := cmd.Flags().GetInt("samples")
	interval, _ := cmd.Flags().GetDuration("interval")
	return withApp(func(ctx context.Context, a *app.App) error {
		c, err := a.Collector()
		if err != nil {
			return err
		}
		if samples > 0 {
			c.Config.Samples = samples
		}
		if interval > 0 {
			c.Config.Interval = interval
		}
		rec, path, err := c.Collect(ctx, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "wrote %s (%d/%d valid samples)\n", path, rec.ValidSampleCount, rec.SampleCount)
		if s := rec.Statistics; s != nil {
			fmt.Fprintf(out, "power avg %.2f kW, min %.2f, max %.2f, variance %.4f\n", s.AvgPowerKW, s.MinPowerKW, s.MaxPowerKW, s.Variance)
		}
		if rec.VehicleID != "" && rec.VehicleConfidence != nil {
			fmt.Fprintf(out, "vehicle %s (confidence %.2f)\n", rec.VehicleID, *rec.VehicleConfidence)
		}
		return nil
	})
}
