package cmd

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/kilianp07/homecharge/app"
	"github.com/kilianp07/homecharge/core/labels"
	"github.com/kilianp07/homecharge/core/model"
)

var labelCmd = &cobra.Command{
	Use:   "label",
	Short: "Manage session labels",
}

var (
	labelConfidence float64
	labelSource     string
)

var labelSetCmd = &cobra.Command{
	Use:   "set <session-id> <vehicle>",
	Short: "Assign a session to a vehicle",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := model.ParseLabelSource(labelSource)
		if err != nil {
			return err
		}
		var conf *float64
		if cmd.Flags().Changed("confidence") {
			conf = &labelConfidence
		}
		return withLabels(func(a *app.App, s *labels.Store) error {
			reg, err := a.Registry()
			if err != nil {
				return err
			}
			if !reg.Exists(args[1]) {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s is not in the vehicle registry\n", args[1])
			}
			return s.Label(args[0], args[1], conf, src)
		})
	},
}

var labelUnsetCmd = &cobra.Command{
	Use:   "unset <session-id>",
	Short: "Drop a session's label and list it as unknown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLabels(func(_ *app.App, s *labels.Store) error { return s.Unlabel(args[0]) })
	},
}

var labelUnknownCmd = &cobra.Command{
	Use:   "unknown <session-id>",
	Short: "Mark a session as not attributable",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := model.ParseLabelSource(labelSource)
		if err != nil {
			return err
		}
		return withLabels(func(_ *app.App, s *labels.Store) error {
			if cmd.Flags().Changed("confidence") {
				return s.MarkUnknownLabel(args[0], labelConfidence, src)
			}
			return s.Label(args[0], "", nil, src)
		})
	},
}

var labelShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a session's label",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(_ context.Context, a *app.App) error {
			s, err := a.Labels()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if l, ok := s.Get(args[0]); ok {
				return printJSON(out, l)
			}
			if s.IsUnknown(args[0]) {
				fmt.Fprintf(out, "%s: unknown\n", args[0])
				return nil
			}
			fmt.Fprintf(out, "%s: unlabeled\n", args[0])
			return nil
		})
	},
}

var labelStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print label counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(func(_ context.Context, a *app.App) error {
			s, err := a.Labels()
			if err != nil {
				return err
			}
			st := s.Statistics()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sessions %d, labeled %d, unknown %d\n", st.TotalSessions, st.LabeledSessions, st.Unknown)
			for _, v := range slices.Sorted(maps.Keys(st.PerVehicle)) {
				fmt.Fprintf(out, "  %-16s %d\n", v, st.PerVehicle[v])
			}
			if t := s.LastUpdated(); !t.IsZero() {
				fmt.Fprintf(out, "last updated %s\n", t.Format("2006-01-02 15:04:05Z07:00"))
			}
			return nil
		})
	},
}

var labelByVehicleCmd = &cobra.Command{
	Use:   "by-vehicle <vehicle>",
	Short: "List the sessions labeled with a vehicle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(_ context.Context, a *app.App) error {
			s, err := a.Labels()
			if err != nil {
				return err
			}
			ids := s.SessionsByVehicle(args[0])
			if args[0] == model.UnknownVehicle {
				ids = s.Unknown()
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		})
	},
}

// withLabels runs fn against the label store and saves it afterwards.
func withLabels(fn func(a *app.App, s *labels.Store) error) error {
	return withApp(func(_ context.Context, a *app.App) error {
		s, err := a.Labels()
		if err != nil {
			return err
		}
		if err := fn(a, s); err != nil {
			return err
		}
		return s.Save()
	})
}

func init() {
	for _, c := range []*cobra.Command{labelSetCmd, labelUnknownCmd} {
		c.Flags().Float64Var(&labelConfidence, "confidence", 0, "confidence in [0,1]")
		c.Flags().StringVar(&labelSource, "source", string(model.SourceManual), "label source: manual, classifier or batch")
	}
	labelCmd.AddCommand(labelSetCmd, labelUnsetCmd, labelUnknownCmd, labelShowCmd, labelStatsCmd, labelByVehicleCmd)
	rootCmd.AddCommand(labelCmd)
}
