package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kilianp07/homecharge/app"
	"github.com/kilianp07/homecharge/core/model"
)

var chargeMode string

var chargeCmd = &cobra.Command{
	Use:   "charge",
	Short: "Start charging and record the run",
	Long: `Starts a charging session on the first home charger.

Scheduled modes wait for the morning scheduled-charging window to finish
before starting; manual-start starts right away. The run outcome is appended
to the run history. A failed run exits non-zero.`,
	Args: cobra.NoArgs,
	RunE: runCharge,
}

func init() {
	chargeCmd.Flags().StringVar(&chargeMode, "mode", string(model.RunScheduled), "run type: scheduled, manual-start or manual-scheduled")
	rootCmd.AddCommand(chargeCmd)
}

func runCharge(cmd *cobra.Command, _ []string) error {
	mode, ok := model.ParseRunType(chargeMode)
	if !ok {
		return fmt.Errorf("unknown mode %q", chargeMode)
	}
	return withApp(func(ctx context.Context, a *app.App) error {
		runner, err := a.ChargeRunner(os.Getenv("GITHUB_RUN_ID"))
		if err != nil {
			return err
		}
		rec, err := runner.Run(ctx, mode)
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), rec); err != nil {
			return err
		}
		if rec.Result == model.RunFailure {
			return fmt.Errorf("charging failed: %s", rec.Reason)
		}
		return nil
	})
}
