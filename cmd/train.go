package cmd

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/kilianp07/homecharge/app"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Rebuild vehicle profiles from the labeled corpus",
	Args:  cobra.NoArgs,
	RunE:  runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)
}

func runTrain(cmd *cobra.Command, _ []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		tr, err := a.Trainer()
		if err != nil {
			return err
		}
		res, err := tr.TrainAndSave(ctx, a.Config.Storage.Profiles)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "trained %d vehicles from %d sessions (%d skipped)\n", len(res.Profiles), res.Processed, res.Skipped)
		for _, id := range slices.Sorted(maps.Keys(res.Profiles)) {
			p := res.Profiles[id]
			fmt.Fprintf(out, "  %-16s %3d sessions  mean %.2f kW (std %.2f)\n", id, p.Count, p.MeanPower.Mean, p.MeanPower.Std)
		}

		reg, err := a.Registry()
		if err != nil {
			return err
		}
		if missing := reg.ValidateProfileIDs(res.Profiles); len(missing) > 0 {
			fmt.Fprintf(out, "profiles without a registry entry: %v\n", missing)
		}
		return nil
	})
}
