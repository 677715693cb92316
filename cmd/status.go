package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/homecharge/app"
)

var statusRuns int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print every home charger's status and the latest runs",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusRuns, "runs", 5, "number of recent charge runs to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		v, err := a.Vendor()
		if err != nil {
			return err
		}
		ids, err := v.HomeChargers(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CHARGER\tMODEL\tCONNECTED\tPLUGGED IN\tSTATUS\tLAST CONNECTED")
		if len(ids) == 0 {
			fmt.Fprintln(w, "(none)\t\t\t\t\t")
		}
		for _, id := range ids {
			st, err := v.ChargerStatus(ctx, id)
			if err != nil {
				return err
			}
			last := "-"
			if !st.LastConnectedAt.IsZero() {
				last = st.LastConnectedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\t%s\n", id, st.Model, st.Connected, st.PluggedIn, st.ChargingStatus, last)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if statusRuns <= 0 {
			return nil
		}
		runs, err := a.Runs().Last(statusRuns)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout())
		w = tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tDATE\tTIME PT\tTYPE\tRESULT\tREASON")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.RunID, r.Date, r.TimePT, r.RunType, r.Result, r.Reason)
		}
		return w.Flush()
	})
}
