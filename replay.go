package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"

	"github.com/rotblauer/catbike/internal/config"
	"github.com/rotblauer/catbike/internal/debuglog"
	"github.com/rotblauer/catbike/internal/prefs"
	"github.com/rotblauer/catbike/internal/tracker"
	"github.com/rotblauer/catbike/internal/trips"
)

// readFeatureStream decodes newline delimited geojson features. Undecodable
// lines go to the error channel; the close channel fires once at the end of
// the input.
func readFeatureStream(ctx context.Context, reader io.Reader) (chan *geojson.Feature, chan error, chan struct{}) {
	featureCh := make(chan *geojson.Feature)
	errCh := make(chan error)
	closeCh := make(chan struct{}, 1)

	breader := bufio.NewReader(reader)

	sendFeature := func(f *geojson.Feature) bool {
		select {
		case featureCh <- f:
			return true
		case <-ctx.Done():
			return false
		}
	}
	sendErr := func(err error) bool {
		select {
		case errCh <- err:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer func() { closeCh <- struct{}{} }()
		line := 0
		for {
			read, err := breader.ReadBytes('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				sendErr(fmt.Errorf("read: %w", err))
				return
			}
			line++
			if trimmed := bytes.TrimSpace(read); len(trimmed) > 0 {
				feature, uerr := geojson.UnmarshalFeature(trimmed)
				if uerr != nil {
					if !sendErr(fmt.Errorf("line %d: %w", line, uerr)) {
						return
					}
				} else if !sendFeature(feature) {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	return featureCh, errCh, closeCh
}

type replayOptions struct {
	Tracker       config.TrackerConfig
	Store         trips.Store
	Mirror        tracker.StateMirror
	Debug         debuglog.Sink
	Notifications tracker.NotificationSink

	// Flush lets pending grace periods expire after the last event, so a
	// trip winding down at the end of the input is saved.
	Flush bool
	// Finish ends any trip still in progress at the last event.
	Finish bool
}

type replayResult struct {
	Features int
	Events   int
	Skipped  int
	Trips    []trips.BikeTrip
	State    tracker.BikingState
	Last     time.Time
}

// replay runs a recorded stream through the trip detector on a virtual
// clock that follows the event timestamps. Events older than the previous
// one are skipped.
func replay(ctx context.Context, r io.Reader, opts replayOptions) (replayResult, error) {
	log := slog.Default().With("component", "replay")
	var res replayResult

	var mu sync.Mutex
	sched := tracker.NewManualScheduler(time.Time{})
	svc := tracker.NewService(tracker.ServiceOptions{
		Machine: tracker.Options{
			Store:                 opts.Store,
			Scheduler:             sched,
			Mirror:                opts.Mirror,
			Debug:                 opts.Debug,
			GracePeriod:           opts.Tracker.GracePeriod,
			MovingNotOnBikePeriod: opts.Tracker.MovingNotOnBikePeriod,
			PersistTimeout:        opts.Tracker.PersistTimeout,
			OnTrip: func(t trips.BikeTrip) {
				mu.Lock()
				defer mu.Unlock()
				res.Trips = append(res.Trips, t)
			},
		},
		Intervals: tracker.Intervals{
			Long:  opts.Tracker.LongInterval,
			Short: opts.Tracker.ShortInterval,
		},
		Notifications: opts.Notifications,
	})
	svc.Start(true)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := make(chan tracker.Event)
	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(runCtx, events) }()

	featureCh, errCh, closeCh := readFeatureStream(runCtx, r)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case feature := <-featureCh:
			res.Features++
			evs, err := TrackFeature{feature}.Events()
			if err != nil {
				res.Skipped++
				log.Warn("skipping feature", "feature", res.Features, "error", err)
				continue
			}
			for _, ev := range evs {
				if ev.At.Before(res.Last) {
					res.Skipped++
					log.Warn("skipping out of order event", "kind", ev.Kind, "at", ev.At, "last", res.Last)
					continue
				}
				res.Last = ev.At
				res.Events++
				select {
				case events <- ev:
				case <-ctx.Done():
					break loop
				}
			}
		case err := <-errCh:
			res.Skipped++
			log.Warn("skipping line", "error", err)
		case <-closeCh:
			if opts.Finish && !res.Last.IsZero() {
				select {
				case events <- tracker.FinishEvent(res.Last):
					res.Events++
				case <-ctx.Done():
				}
			}
			break loop
		}
	}
	close(events)
	if err := <-runErr; err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	if opts.Flush {
		wait := opts.Tracker.GracePeriod
		if opts.Tracker.MovingNotOnBikePeriod > wait {
			wait = opts.Tracker.MovingNotOnBikePeriod
		}
		for i := 0; sched.Pending() > 0 && i < 4; i++ {
			sched.Advance(wait)
		}
	}

	closeCtx, closeCancel := context.WithTimeout(ctx, opts.Tracker.PersistTimeout+time.Second)
	defer closeCancel()
	if err := svc.Close(closeCtx); err != nil {
		return res, fmt.Errorf("waiting for trips to be saved: %w", err)
	}
	res.State = svc.Machine.State()

	mu.Lock()
	defer mu.Unlock()
	sort.Slice(res.Trips, func(i, j int) bool { return res.Trips[i].StartTime.Before(res.Trips[j].StartTime) })
	return res, nil
}

// logNotifications renders the ongoing trip notification as log lines.
type logNotifications struct {
	log *slog.Logger
}

func (n logNotifications) Show(note tracker.Notification) {
	n.log.Info("notification shown", "title", note.Title, "subtitle", note.Subtitle, "actions", note.Actions)
}

func (n logNotifications) Update(title, subtitle string) {
	n.log.Info("notification updated", "title", title, "subtitle", subtitle)
}

func (n logNotifications) Hide() {
	n.log.Info("notification hidden")
}

func newReplayCmd() *cobra.Command {
	var (
		dryRun  bool
		noFlush bool
		finish  bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "replay [file]",
		Short: "Detect trips in a recorded stream of track points",
		Long: `Replay reads newline delimited geojson Point features, from a file or
stdin, and runs them through the trip detector. Each point needs an RFC3339
"Time" property; "Activity" and "ActivityConfidence" feed the activity
classifier and an "Action" of "finish" ends the current trip.

Detected trips are saved to the trip store and printed. Grace periods still
running at the end of the input are allowed to expire unless --no-flush is
given; --finish also ends a ride that is still going.

  zcat ~/tdata/edge.json.gz | catbike replay
  catbike replay --dry-run testdata/ride.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			var store trips.Store
			if dryRun {
				dir, err := os.MkdirTemp("", "catbike-replay")
				if err != nil {
					return err
				}
				defer os.RemoveAll(dir)
				s, err := trips.OpenSQLite(filepath.Join(dir, "trips.db"))
				if err != nil {
					return err
				}
				store = s
			} else {
				s, err := trips.Open(ctx, cfg.TripStoreOptions())
				if err != nil {
					return err
				}
				store = s
			}
			defer store.Close()

			cal, err := cfg.PeriodCalendar()
			if err != nil {
				return err
			}
			mirror := prefs.New(prefs.NewMemory(), cal)

			var sink debuglog.Sink = debuglog.Nop{}
			var file *debuglog.File
			if cfg.DebugLog.Enabled && !dryRun {
				file = debuglog.NewFile(cfg.DebugLog.Path)
				sink = file
			}

			res, err := replay(ctx, in, replayOptions{
				Tracker:       cfg.Tracker,
				Store:         store,
				Mirror:        mirror,
				Debug:         sink,
				Notifications: logNotifications{log: slog.Default().With("component", "notification")},
				Flush:         !noFlush,
				Finish:        finish,
			})
			if err != nil {
				return err
			}
			if file != nil {
				if err := file.Err(); err != nil {
					slog.Warn("trip log incomplete", "path", file.Path(), "error", err)
				}
			}
			slog.Info("replay done", "features", res.Features, "events", res.Events,
				"skipped", res.Skipped, "trips", len(res.Trips), "state", res.State)

			out := cmd.OutOrStdout()
			if asJSON {
				return writeTripsJSON(out, res.Trips)
			}
			p := prefs.New(prefs.NewMemory(), cal)
			p.UseMiles = cfg.Units.Miles
			fmt.Fprintln(out, renderTrips(p, res.Trips))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "save trips to a throwaway database")
	cmd.Flags().BoolVar(&noFlush, "no-flush", false, "do not let pending grace periods expire at the end of the input")
	cmd.Flags().BoolVar(&finish, "finish", false, "end a ride still in progress at the end of the input")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print trips as JSON lines")
	return cmd
}

// writeTripsJSON writes one JSON object per trip.
func writeTripsJSON(w io.Writer, list []trips.BikeTrip) error {
	bwriter := bufio.NewWriter(w)
	enc := json.NewEncoder(bwriter)
	for _, t := range list {
		if err := enc.Encode(t); err != nil {
			return err
		}
	}
	return bwriter.Flush()
}
