// Package stats composes trip store queries into the period views: rolling
// day/week/month totals with their previous period, and the per-period
// daily averages, best and mean trips.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/rotblauer/catbike/internal/period"
	"github.com/rotblauer/catbike/internal/trips"
)

// PeriodStats are the distance totals in meters for the current and
// previous day, week and month.
type PeriodStats struct {
	Daily     float64 `json:"daily"`
	Weekly    float64 `json:"weekly"`
	Monthly   float64 `json:"monthly"`
	PrevDay   float64 `json:"prev_day"`
	PrevWeek  float64 `json:"prev_week"`
	PrevMonth float64 `json:"prev_month"`
}

type AggregatedKey string

const (
	DailyAverageThisWeek  AggregatedKey = "DailyAverageThisWeek"
	DailyAverageThisMonth AggregatedKey = "DailyAverageThisMonth"
	BestTripToday         AggregatedKey = "BestTripToday"
	BestTripThisWeek      AggregatedKey = "BestTripThisWeek"
	BestTripThisMonth     AggregatedKey = "BestTripThisMonth"
	MeanTripToday         AggregatedKey = "MeanTripToday"
	MeanTripThisWeek      AggregatedKey = "MeanTripThisWeek"
	MeanTripThisMonth     AggregatedKey = "MeanTripThisMonth"
)

// AggregatedKeys lists the aggregated keys in display order.
var AggregatedKeys = []AggregatedKey{
	DailyAverageThisWeek,
	DailyAverageThisMonth,
	BestTripToday,
	BestTripThisWeek,
	BestTripThisMonth,
	MeanTripToday,
	MeanTripThisWeek,
	MeanTripThisMonth,
}

// Engine answers statistics queries against a trip store.
type Engine struct {
	Store    trips.Store
	Calendar period.Calendar
	// Index is the instant period windows filter on. Defaults to trips.ByStart.
	Index trips.Index

	log *slog.Logger
}

func New(store trips.Store, cal period.Calendar) *Engine {
	return &Engine{
		Store:    store,
		Calendar: cal,
		Index:    trips.ByStart,
		log:      slog.Default().With("component", "stats"),
	}
}

func (e *Engine) empty(ctx context.Context) (bool, error) {
	n, err := e.Store.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("count trips: %w", err)
	}
	return n == 0, nil
}

// PeriodStats returns the current period totals (open ended from each period
// start) and the previous period totals ([previous start, period start)).
// An empty store yields all zeros without further queries.
func (e *Engine) PeriodStats(ctx context.Context, now time.Time) (PeriodStats, error) {
	var ps PeriodStats
	empty, err := e.empty(ctx)
	if err != nil || empty {
		return ps, err
	}

	cal := e.Calendar
	day, week, month := cal.DayStart(now), cal.WeekStart(now), cal.MonthStart(now)
	queries := []struct {
		dst *float64
		w   trips.Window
	}{
		{&ps.Daily, trips.Since(e.Index, day)},
		{&ps.Weekly, trips.Since(e.Index, week)},
		{&ps.Monthly, trips.Since(e.Index, month)},
		{&ps.PrevDay, trips.Between(e.Index, cal.PreviousDay(now), day)},
		{&ps.PrevWeek, trips.Between(e.Index, cal.PreviousWeek(now), week)},
		{&ps.PrevMonth, trips.Between(e.Index, cal.PreviousMonth(now), month)},
	}
	for _, q := range queries {
		v, err := e.Store.SumDistance(ctx, q.w)
		if err != nil {
			return PeriodStats{}, fmt.Errorf("period stats: %w", err)
		}
		*q.dst = v
	}
	e.log.Debug("period stats", "now", now, "daily", ps.Daily, "weekly", ps.Weekly, "monthly", ps.Monthly)
	return ps, nil
}

// AggregatedStats returns the eight aggregated values. An empty store yields
// an empty map: callers read a missing key as "no data".
func (e *Engine) AggregatedStats(ctx context.Context, now time.Time) (map[AggregatedKey]float64, error) {
	out := map[AggregatedKey]float64{}
	empty, err := e.empty(ctx)
	if err != nil || empty {
		return out, err
	}

	cal := e.Calendar
	day := trips.Since(e.Index, cal.DayStart(now))
	week := trips.Since(e.Index, cal.WeekStart(now))
	month := trips.Since(e.Index, cal.MonthStart(now))

	steps := []struct {
		key AggregatedKey
		fn  func() (float64, error)
	}{
		{DailyAverageThisWeek, func() (float64, error) {
			return trips.DailyAverage(ctx, e.Store, week, period.DaysSpanned(week.From, now))
		}},
		{DailyAverageThisMonth, func() (float64, error) {
			return trips.DailyAverage(ctx, e.Store, month, period.DaysSpanned(month.From, now))
		}},
		{BestTripToday, func() (float64, error) { return e.Store.MaxDistance(ctx, day) }},
		{BestTripThisWeek, func() (float64, error) { return e.Store.MaxDistance(ctx, week) }},
		{BestTripThisMonth, func() (float64, error) { return e.Store.MaxDistance(ctx, month) }},
		{MeanTripToday, func() (float64, error) { return e.Store.MeanDistance(ctx, day) }},
		{MeanTripThisWeek, func() (float64, error) { return e.Store.MeanDistance(ctx, week) }},
		{MeanTripThisMonth, func() (float64, error) { return e.Store.MeanDistance(ctx, month) }},
	}
	for _, s := range steps {
		v, err := s.fn()
		if err != nil {
			return map[AggregatedKey]float64{}, fmt.Errorf("aggregated stats %s: %w", s.key, err)
		}
		out[s.key] = v
	}
	return out, nil
}

// Summary describes the distance distribution of the trips in a window.
type Summary struct {
	Count   int     `json:"count"`
	Total   float64 `json:"total"`
	Mean    float64 `json:"mean"`
	Median  float64 `json:"median"`
	P90     float64 `json:"p90"`
	StdDev  float64 `json:"stddev"`
	Longest float64 `json:"longest"`
}

// Summary computes the distribution of trip distances in w. An empty window
// yields the zero Summary.
func (e *Engine) Summary(ctx context.Context, w trips.Window) (Summary, error) {
	ds, err := e.Store.Distances(ctx, w)
	if err != nil {
		return Summary{}, fmt.Errorf("summary: %w", err)
	}
	return summarize(ds), nil
}

func summarize(ds []float64) Summary {
	if len(ds) == 0 {
		return Summary{}
	}
	data := stats.Float64Data(ds)
	s := Summary{Count: len(ds)}
	// Errors only signal empty input, handled above.
	s.Total, _ = data.Sum()
	s.Mean, _ = data.Mean()
	s.Median, _ = data.Median()
	s.P90, _ = data.Percentile(90)
	s.StdDev, _ = data.StandardDeviation()
	s.Longest, _ = data.Max()
	return s
}
