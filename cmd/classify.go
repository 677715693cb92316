package cmd

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/homecharge/app"
	"github.com/kilianp07/homecharge/core/batch"
	"github.com/kilianp07/homecharge/core/model"
)

var classifyOpts struct {
	start, end    string
	minConfidence float64
	updateMap     bool
	labelUnknown  bool
}

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify historical sessions in a date range",
	Long: `Lists the vendor's sessions between --start-date and --end-date (both
inclusive), classifies each one and, with --update-map, stores the
predictions at or above --min-confidence as labels. Without --update-map
nothing is written.`,
	Args: cobra.NoArgs,
	RunE: runClassify,
}

func init() {
	f := classifyCmd.Flags()
	f.StringVar(&classifyOpts.start, "start-date", "", "first day, YYYY-MM-DD")
	f.StringVar(&classifyOpts.end, "end-date", "", "last day, YYYY-MM-DD (default today)")
	f.Float64Var(&classifyOpts.minConfidence, "min-confidence", batch.DefaultMinConfidence, "lowest confidence stored as a label (default classifier.min_confidence)")
	f.BoolVar(&classifyOpts.updateMap, "update-map", false, "write labels")
	f.BoolVar(&classifyOpts.labelUnknown, "label-unknown", false, "mark sessions below the threshold as Unknown")
	_ = classifyCmd.MarkFlagRequired("start-date")
	rootCmd.AddCommand(classifyCmd)
}

func runClassify(cmd *cobra.Command, _ []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		loc := a.Config.Classifier.Location()
		start, err := time.ParseInLocation(model.DateLayout, classifyOpts.start, loc)
		if err != nil {
			return fmt.Errorf("--start-date: %w", err)
		}
		end := time.Now().In(loc)
		if classifyOpts.end != "" {
			if end, err = time.ParseInLocation(model.DateLayout, classifyOpts.end, loc); err != nil {
				return fmt.Errorf("--end-date: %w", err)
			}
		}
		minConf := a.Config.Classifier.MinConfidence
		if cmd.Flags().Changed("min-confidence") {
			minConf = classifyOpts.minConfidence
		}

		d, _, err := a.Batch()
		if err != nil {
			return err
		}
		sum, err := d.Run(ctx, batch.Options{
			Start:         start,
			End:           end,
			MinConfidence: minConf,
			UpdateMap:     classifyOpts.updateMap,
			LabelUnknown:  classifyOpts.labelUnknown,
			Location:      loc,
		})
		printSummary(cmd, sum)
		return err
	})
}

func printSummary(cmd *cobra.Command, sum batch.Summary) {
	out := cmd.OutOrStdout()
	if len(sum.Predictions) > 0 {
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION\tTIME\tDEVICE\tVEHICLE\tCONFIDENCE\tACTION")
		for _, p := range sum.Predictions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.3f\t%s\n", p.SessionID, p.Time.Format(time.RFC3339), p.DeviceID, p.VehicleID, p.Confidence, p.Action)
		}
		_ = w.Flush()
	}
	fmt.Fprintf(out, "sessions %d: labeled %d, unknown %d, below threshold %d, skipped %d\n",
		sum.Sessions, sum.Labeled, sum.Unknown, sum.BelowThreshold, sum.SkippedTotal())
	for _, reason := range slices.Sorted(maps.Keys(sum.Skipped)) {
		fmt.Fprintf(out, "  skipped %s: %d\n", reason, sum.Skipped[reason])
	}
	if sum.Saved {
		fmt.Fprintln(out, "labels saved")
	}
}
