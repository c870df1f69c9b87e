// Package checkin implements the "open the app" flow: refresh the period
// totals, cache them, and report the trips committed since the last visit.
package checkin

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/rotblauer/catbike/internal/prefs"
	"github.com/rotblauer/catbike/internal/stats"
	"github.com/rotblauer/catbike/internal/trips"
)

// Report is the outcome of one check-in.
type Report struct {
	At    time.Time
	Since time.Time
	Stats stats.PeriodStats

	// Trips committed since the previous check-in.
	NewTrips    int
	NewDistance float64
	NewDuration time.Duration

	// Progress towards the previous period's total, in [0, 1].
	DayCompletion   float64
	WeekCompletion  float64
	MonthCompletion float64
}

// Completion is actual/prev capped at 1, or 0 without a previous total.
func Completion(actual, prev float64) float64 {
	if prev <= 0 {
		return 0
	}
	return math.Min(1, actual/prev)
}

type CheckIn struct {
	Engine *stats.Engine
	Store  trips.Store
	Prefs  *prefs.Preferences

	now func() time.Time
	log *slog.Logger
}

func New(engine *stats.Engine, p *prefs.Preferences) *CheckIn {
	return &CheckIn{
		Engine: engine,
		Store:  engine.Store,
		Prefs:  p,
		now:    time.Now,
		log:    slog.Default().With("component", "checkin"),
	}
}

// Run refreshes the stats and advances the check-in cursor. The cursor moves
// to the instant the trip query was issued, so a trip committed while the
// check-in runs shows up next time.
func (c *CheckIn) Run(ctx context.Context) (Report, error) {
	now := c.now()
	r := Report{At: now}

	ps, err := c.Engine.PeriodStats(ctx, now)
	if err != nil {
		return r, fmt.Errorf("period stats: %w", err)
	}
	r.Stats = ps
	r.DayCompletion = Completion(ps.Daily, ps.PrevDay)
	r.WeekCompletion = Completion(ps.Weekly, ps.PrevWeek)
	r.MonthCompletion = Completion(ps.Monthly, ps.PrevMonth)

	if err := c.Prefs.SetLastMeasures(ctx, ps.Daily, ps.Weekly, ps.Monthly, c.Engine.Calendar.DayStart(now)); err != nil {
		c.log.Warn("cache last measures", "error", err)
	}

	since, err := c.Prefs.LastCheckIn(ctx)
	if err != nil {
		return r, fmt.Errorf("last check-in: %w", err)
	}
	r.Since = since

	cursor := c.now().UTC()
	list, err := c.Store.TripsCommittedAfter(ctx, since)
	if err != nil {
		return r, fmt.Errorf("trips since %s: %w", since.Format(time.RFC3339), err)
	}
	for _, t := range list {
		r.NewTrips++
		r.NewDistance += t.Distance
		r.NewDuration += t.Duration()
	}

	if err := c.Prefs.SetLastCheckIn(ctx, cursor); err != nil {
		return r, fmt.Errorf("advance check-in cursor: %w", err)
	}
	c.log.Info("checked in", "since", since, "trips", r.NewTrips, "distance", r.NewDistance)
	return r, nil
}
