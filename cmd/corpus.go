package cmd

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/homecharge/app"
	"github.com/kilianp07/homecharge/core/backfill"
	"github.com/kilianp07/homecharge/core/model"
)

var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Manage the training corpus",
}

var backfillOpts struct {
	start, end string
	minKWh     float64
	limit      int
}

var corpusBackfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Add past full charges from the vendor history to the corpus",
	Long: `Lists the vendor's sessions between --start-date and --end-date (both
inclusive), keeps those that delivered at least --min-kwh and writes each
one's power curve to the corpus. Sessions already in the corpus are skipped.`,
	Args: cobra.NoArgs,
	RunE: runBackfill,
}

func init() {
	f := corpusBackfillCmd.Flags()
	f.StringVar(&backfillOpts.start, "start-date", "", "first day, YYYY-MM-DD")
	f.StringVar(&backfillOpts.end, "end-date", "", "last day, YYYY-MM-DD (default today)")
	f.Float64Var(&backfillOpts.minKWh, "min-kwh", backfill.DefaultMinKWh, "least energy of a full charge")
	f.IntVar(&backfillOpts.limit, "limit", 0, "write at most this many sessions, largest first (0 for all)")
	_ = corpusBackfillCmd.MarkFlagRequired("start-date")
	corpusCmd.AddCommand(corpusBackfillCmd)
	rootCmd.AddCommand(corpusCmd)
}

func runBackfill(cmd *cobra.Command, _ []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		loc := a.Config.Classifier.Location()
		start, err := time.ParseInLocation(model.DateLayout, backfillOpts.start, loc)
		if err != nil {
			return fmt.Errorf("--start-date: %w", err)
		}
		end := time.Now().In(loc)
		if backfillOpts.end != "" {
			if end, err = time.ParseInLocation(model.DateLayout, backfillOpts.end, loc); err != nil {
				return fmt.Errorf("--end-date: %w", err)
			}
		}
		b, err := a.Backfiller()
		if err != nil {
			return err
		}
		sum, err := b.Run(ctx, backfill.Options{
			Start:    start,
			End:      end,
			MinKWh:   backfillOpts.minKWh,
			Limit:    backfillOpts.limit,
			Location: loc,
		})
		out := cmd.OutOrStdout()
		for _, p := range sum.Paths {
			fmt.Fprintf(out, "wrote %s\n", p)
		}
		fmt.Fprintf(out, "sessions %d: written %d, skipped %d\n", sum.Listed, sum.Written, sum.SkippedTotal())
		for _, reason := range slices.Sorted(maps.Keys(sum.Skipped)) {
			fmt.Fprintf(out, "  skipped %s: %d\n", reason, sum.Skipped[reason])
		}
		return err
	})
}
