package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/homecharge/app"
	"github.com/kilianp07/homecharge/core/model"
	"github.com/kilianp07/homecharge/core/registry"
)

var vehiclesCmd = &cobra.Command{
	Use:     "vehicles",
	Aliases: []string{"vehicle"},
	Short:   "Manage the vehicle registry",
}

var vehiclesLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List registered vehicles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRegistry(false, func(_ *app.App, r *registry.Registry) error {
			printVehicles(cmd, r, r.All())
			return nil
		})
	},
}

var vehicleAdd struct {
	nickname, make, model, trim string
	year                        int
	from, until                 string
	raw                         string
}

var vehiclesAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Register a vehicle",
	Long: `Registers a vehicle from flags, or from a JSON document with --json.
--from and --until give one valid period; without --from the vehicle is never
eligible for classification.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := vehicleFromFlags()
		if err != nil {
			return err
		}
		return withRegistry(true, func(_ *app.App, r *registry.Registry) error {
			return r.Add(args[0], v)
		})
	},
}

func vehicleFromFlags() (model.Vehicle, error) {
	var v model.Vehicle
	if vehicleAdd.raw != "" {
		if err := json.Unmarshal([]byte(vehicleAdd.raw), &v); err != nil {
			return v, fmt.Errorf("--json: %w", err)
		}
		return v, nil
	}
	v = model.Vehicle{
		Nickname: vehicleAdd.nickname,
		Make:     vehicleAdd.make,
		Model:    vehicleAdd.model,
		Year:     vehicleAdd.year,
		Trim:     vehicleAdd.trim,
	}
	if vehicleAdd.from != "" {
		start, err := model.ParseDate(vehicleAdd.from)
		if err != nil {
			return v, err
		}
		p := model.ValidPeriod{Start: start}
		if vehicleAdd.until != "" {
			end, err := model.ParseDate(vehicleAdd.until)
			if err != nil {
				return v, err
			}
			p.End = &end
		}
		v.ValidPeriods = []model.ValidPeriod{p}
	}
	return v, nil
}

var vehiclesUpdateCmd = &cobra.Command{
	Use:   "update <id> <field=value>...",
	Short: "Change descriptive fields of a vehicle",
	Long: "Changes fields of a registered vehicle. Values are read as JSON when they parse, as strings otherwise.\n" +
		"Updatable fields: " + strings.Join(registry.UpdatableFields(), ", "),
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := parseFields(args[1:])
		if err != nil {
			return err
		}
		return withRegistry(true, func(_ *app.App, r *registry.Registry) error {
			return r.Update(args[0], fields)
		})
	},
}

func parseFields(pairs []string) (map[string]any, error) {
	fields := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected field=value, got %q", kv)
		}
		var val any
		if err := json.Unmarshal([]byte(v), &val); err != nil {
			val = v
		}
		fields[k] = val
	}
	return fields, nil
}

var vehiclesRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a vehicle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(true, func(_ *app.App, r *registry.Registry) error {
			if !r.Exists(args[0]) {
				return fmt.Errorf("vehicle %s not found", args[0])
			}
			return r.Delete(args[0])
		})
	},
}

var eligibleDate string

var vehiclesEligibleCmd = &cobra.Command{
	Use:   "eligible",
	Short: "List the vehicles in service on a day",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRegistry(false, func(a *app.App, r *registry.Registry) error {
			asOf := time.Now().In(a.Config.Classifier.Location())
			if eligibleDate != "" {
				d, err := model.ParseDate(eligibleDate)
				if err != nil {
					return err
				}
				asOf = d.Time
			}
			printVehicles(cmd, r, r.EligibleOn(asOf))
			return nil
		})
	},
}

var vehiclesValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that every trained profile has a registry entry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRegistry(false, func(a *app.App, r *registry.Registry) error {
			cls, err := a.Classifier()
			if err != nil {
				return err
			}
			missing := r.ValidateProfileIDs(cls.Profiles())
			if len(missing) > 0 {
				return fmt.Errorf("profiles without a registry entry: %s", strings.Join(missing, ", "))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d profiles, all registered\n", len(cls.Vehicles()))
			return nil
		})
	},
}

func printVehicles(cmd *cobra.Command, r *registry.Registry, vehicles map[string]model.Vehicle) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVEHICLE\tVALID")
	for _, id := range r.IDs() {
		v, ok := vehicles[id]
		if !ok {
			continue
		}
		periods := make([]string, 0, len(v.ValidPeriods))
		for _, p := range v.ValidPeriods {
			end := "open"
			if p.End != nil {
				end = p.End.String()
			}
			periods = append(periods, p.Start.String()+".."+end)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", id, r.DisplayName(id), strings.Join(periods, " "))
	}
	_ = w.Flush()
}

// withRegistry runs fn against the registry and, when save is set, writes
// it back afterwards.
func withRegistry(save bool, fn func(a *app.App, r *registry.Registry) error) error {
	return withApp(func(_ context.Context, a *app.App) error {
		r, err := a.Registry()
		if err != nil {
			return err
		}
		if err := fn(a, r); err != nil {
			return err
		}
		if save {
			return r.Save()
		}
		return nil
	})
}

func init() {
	f := vehiclesAddCmd.Flags()
	f.StringVar(&vehicleAdd.nickname, "nickname", "", "display name")
	f.StringVar(&vehicleAdd.make, "make", "", "manufacturer")
	f.StringVar(&vehicleAdd.model, "model", "", "model name")
	f.IntVar(&vehicleAdd.year, "year", 0, "model year")
	f.StringVar(&vehicleAdd.trim, "trim", "", "trim level")
	f.StringVar(&vehicleAdd.from, "from", "", "first day in service, YYYY-MM-DD")
	f.StringVar(&vehicleAdd.until, "until", "", "last day in service, YYYY-MM-DD")
	f.StringVar(&vehicleAdd.raw, "json", "", "vehicle as a JSON object")
	vehiclesEligibleCmd.Flags().StringVar(&eligibleDate, "date", "", "day to check, YYYY-MM-DD (default today)")

	vehiclesCmd.AddCommand(vehiclesLsCmd, vehiclesAddCmd, vehiclesUpdateCmd, vehiclesRmCmd, vehiclesEligibleCmd, vehiclesValidateCmd)
	rootCmd.AddCommand(vehiclesCmd)
}
