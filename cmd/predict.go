package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/homecharge/app"
	"github.com/kilianp07/homecharge/core/classifier"
)

var predictCmd = &cobra.Command{
	Use:   "predict <session-file|session-id>",
	Short: "Classify one corpus record",
	Long: `Classifies the power curve of a corpus record. The argument is either
a path to the record or a session id looked up in the corpus. Only vehicles
in service on the collection day are considered.`,
	Args: cobra.ExactArgs(1),
	RunE: runPredict,
}

func init() {
	rootCmd.AddCommand(predictCmd)
}

func runPredict(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		dir := a.Corpus()
		path := args[0]
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			if path, err = dir.Find(ctx, args[0]); err != nil {
				return err
			}
		}
		rec, err := dir.Read(path)
		if err != nil {
			return err
		}
		cls, err := a.Classifier()
		if err != nil {
			return err
		}
		reg, err := a.Registry()
		if err != nil {
			return err
		}
		asOf := rec.CollectionStart
		if asOf.IsZero() {
			asOf = time.Now()
		}
		pred := cls.Predict(rec.PowerValues(), classifier.Eligible(reg.EligibleOn(asOf)))
		if !pred.Found() {
			return fmt.Errorf("session %s: no prediction", rec.SessionID)
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"session_id": rec.SessionID,
			"vehicle":    reg.DisplayName(pred.VehicleID),
			"prediction": pred,
		})
	})
}
