package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/homecharge/app"
	"github.com/kilianp07/homecharge/core/collect"
	"github.com/kilianp07/homecharge/core/model"
	"github.com/kilianp07/homecharge/core/monitor"
	"github.com/kilianp07/homecharge/infra/logger"
)

var (
	monitorCollect bool
	monitorEvery   time.Duration
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Detect new charging sessions",
	Long: `Checks the home charger, compares the current session with the last
one seen and stores the snapshot. With --collect a newly detected session is
sampled and classified. With --every the check repeats until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorCollect, "collect", false, "sample and classify newly detected sessions")
	monitorCmd.Flags().DurationVar(&monitorEvery, "every", 0, "repeat the check at this interval (overrides monitor.every)")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		m, err := a.Monitor()
		if err != nil {
			return err
		}
		var col *collect.Collector
		if monitorCollect {
			if col, err = a.Collector(); err != nil {
				return err
			}
		}
		out := cmd.OutOrStdout()
		every := a.Config.Monitor.Every
		if monitorEvery > 0 {
			every = monitorEvery
		}
		if every <= 0 {
			return monitorOnce(ctx, out, m, col)
		}

		log := logger.New("monitor")
		a.ServeMetrics(ctx)
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			if err := monitorOnce(ctx, out, m, col); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Errorf("check: %v", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
			}
		}
	})
}

func monitorOnce(ctx context.Context, out io.Writer, m *monitor.Monitor, col *collect.Collector) error {
	res, err := m.Check(ctx)
	if err != nil {
		return err
	}
	snap := res.Snapshot
	switch res.Change {
	case monitor.NewSession:
		fmt.Fprintf(out, "new session %s (%s)\n", snap.SessionID, snap.Status.ChargingStatus)
	case monitor.SameSession:
		fmt.Fprintf(out, "session %s continues (%s)\n", snap.SessionID, snap.Status.ChargingStatus)
	default:
		fmt.Fprintf(out, "no active session (%s)\n", snap.Status.ChargingStatus)
	}
	if col == nil || res.Change != monitor.NewSession {
		return nil
	}

	rec, path, err := col.Collect(ctx, snap.SessionID)
	if err != nil {
		return fmt.Errorf("collect %s: %w", snap.SessionID, err)
	}
	fmt.Fprintf(out, "collected %d/%d samples into %s\n", rec.ValidSampleCount, rec.SampleCount, path)
	if rec.VehicleID == "" || rec.VehicleConfidence == nil {
		return nil
	}
	fmt.Fprintf(out, "vehicle %s (confidence %.2f)\n", rec.VehicleID, *rec.VehicleConfidence)
	return m.RecordVehicle(ctx, snap.SessionID, model.Prediction{
		VehicleID:  rec.VehicleID,
		Confidence: *rec.VehicleConfidence,
	})
}
