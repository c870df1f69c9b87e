package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/rotblauer/catbike/internal/checkin"
	"github.com/rotblauer/catbike/internal/config"
	"github.com/rotblauer/catbike/internal/stats"
	"github.com/rotblauer/catbike/internal/tracker"
	"github.com/rotblauer/catbike/internal/trips"
)

// parseInstant reads an RFC3339 instant, a date (midnight in loc) or a
// duration meaning that long before now. Empty is the zero time.
func parseInstant(s string, now time.Time, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return now.Add(-d), nil
	}
	return time.Time{}, fmt.Errorf("cannot read %q as a time: use RFC3339, YYYY-MM-DD or a duration such as 72h", s)
}

func parseIndex(s string, def trips.Index) (trips.Index, error) {
	switch strings.ToLower(s) {
	case "":
		return def, nil
	case "start":
		return trips.ByStart, nil
	case "commit":
		return trips.ByCommit, nil
	}
	return 0, fmt.Errorf("unknown index %q: use start or commit", s)
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTOML(w io.Writer, v interface{}) error {
	return toml.NewEncoder(w).Encode(v)
}

func newStatsCmd() *cobra.Command {
	var (
		at     string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show distance totals for the day, week and month",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				now, err := parseInstant(at, time.Now(), a.engine.Calendar.Location)
				if err != nil {
					return err
				}
				if now.IsZero() {
					now = time.Now()
				}
				ps, err := a.engine.PeriodStats(ctx, now)
				if err != nil {
					return err
				}
				agg, err := a.engine.AggregatedStats(ctx, now)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, struct {
						At         time.Time                       `json:"at"`
						Period     stats.PeriodStats               `json:"period"`
						Aggregated map[stats.AggregatedKey]float64 `json:"aggregated"`
					}{now, ps, agg})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderPeriodStats(a.prefs, ps))
				fmt.Fprintln(cmd.OutOrStdout(), renderAggregated(a.prefs, agg))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "evaluate at this time instead of now")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newTripsCmd() *cobra.Command {
	var (
		since  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "trips",
		Short: "List trips committed since a time",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				from, err := parseInstant(since, time.Now(), a.engine.Calendar.Location)
				if err != nil {
					return err
				}
				list, err := a.store.TripsCommittedAfter(ctx, from)
				if err != nil {
					return err
				}
				if asJSON {
					return writeTripsJSON(cmd.OutOrStdout(), list)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTrips(a.prefs, list))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "only trips committed after this time (default all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print trips as JSON lines")
	return cmd
}

func newSummaryCmd() *cobra.Command {
	var (
		since  string
		until  string
		index  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Describe the distribution of trip distances",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				now := time.Now()
				loc := a.engine.Calendar.Location
				from, err := parseInstant(since, now, loc)
				if err != nil {
					return err
				}
				to, err := parseInstant(until, now, loc)
				if err != nil {
					return err
				}
				idx, err := parseIndex(index, a.engine.Index)
				if err != nil {
					return err
				}
				if !to.IsZero() && !to.After(from) {
					return errors.New("--until must be after --since")
				}
				w := trips.Between(idx, from, to)
				s, err := a.engine.Summary(ctx, w)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, s)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderSummary(a.prefs, s, w))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "window start (default the beginning)")
	cmd.Flags().StringVar(&until, "until", "", "window end, exclusive (default open)")
	cmd.Flags().StringVar(&index, "index", "", "filter on trip start or commit time (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newCheckinCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "checkin",
		Short: "Report trips since the last check-in and refresh the cached totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				first, err := a.prefs.FirstTime(ctx)
				if err != nil {
					return err
				}
				if first && !asJSON {
					fmt.Fprintln(cmd.OutOrStdout(), titleStyle.Render("Welcome to catbike.")+
						" Trips are detected while tracking is on; see 'catbike tracking'.")
				}
				r, err := checkin.New(a.engine, a.prefs).Run(ctx)
				if err != nil {
					return err
				}
				if first {
					if err := a.prefs.SetFirstTime(ctx, false); err != nil {
						return err
					}
				}
				if asJSON {
					return writeJSON(cmd, r)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderCheckIn(a.prefs, r))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newResetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every trip and all preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("reset deletes every trip; pass --yes to confirm")
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.store.Clear(ctx); err != nil {
					return err
				}
				if err := a.prefs.Reset(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "All trips and preferences deleted.")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}

func newTrackingCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "tracking [on|off]",
		Short:     "Show or set whether activity tracking is enabled",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if len(args) == 1 {
					var enabled bool
					switch strings.ToLower(args[0]) {
					case "on", "true", "yes":
						enabled = true
					case "off", "false", "no":
					default:
						return fmt.Errorf("expected on or off, got %q", args[0])
					}
					if err := a.prefs.SetTrackActivity(ctx, enabled); err != nil {
						return err
					}
				}
				enabled, err := a.prefs.TrackActivity(ctx)
				if err != nil {
					return err
				}
				state, err := a.prefs.CurrentBikingState()
				if err != nil {
					return err
				}
				status := "off"
				if enabled {
					status = "on"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tracking %s, last state %s\n", status, tracker.BikingState(state))
				return nil
			})
		},
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.CreateDefault(cfgFile)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created config file: %s\n", path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			path := cfgFile
			if path == "" {
				path = config.DefaultPath()
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Settings(cfgFile)
			if err != nil {
				return err
			}
			return writeTOML(cmd.OutOrStdout(), settings)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				path = config.DefaultPath()
			}
			out := cmd.OutOrStdout()
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				fmt.Fprintf(out, "%s does not exist, the defaults apply\n", path)
				return nil
			}
			if _, err := config.Load(path); err != nil {
				return err
			}
			unknown, err := config.UnknownKeys(path)
			if err != nil {
				return err
			}
			for _, k := range unknown {
				fmt.Fprintf(out, "unknown key: %s\n", k)
			}
			fmt.Fprintf(out, "%s: ok\n", path)
			return nil
		},
	})

	return cmd
}
