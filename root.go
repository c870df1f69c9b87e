package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rotblauer/catbike/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
	Version = "dev"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "catbike",
		Short: "Track bicycle trips and report riding statistics",
		Long: `catbike detects bicycle trips in a stream of activity classifications and
location fixes, keeps them in a trip store, and reports how far you rode
today, this week and this month.

Quick Start:
  catbike config init                 # Write the default configuration
  catbike tracking on                 # Enable activity tracking
  catbike replay < points.json        # Detect trips in recorded points
  catbike checkin                     # What happened since last time`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Config commands read the file themselves.
			if p := cmd.Parent(); p != nil && p.Name() == "config" {
				return nil
			}
			switch cmd.Name() {
			case "version", "help", "completion":
				return nil
			}
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return err
			}
			slog.SetDefault(cfg.Logger(cmd.ErrOrStderr()))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/catbike/config.toml)")

	root.AddCommand(
		// Trips
		newReplayCmd(),
		newTripsCmd(),
		newResetCmd(),

		// Statistics
		newStatsCmd(),
		newSummaryCmd(),
		newCheckinCmd(),

		// Settings
		newTrackingCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

// withApp opens the configured stores around fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) (err error) {
	ctx := cmd.Context()
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, a)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "catbike version %s\n", Version)
		},
	}
}
