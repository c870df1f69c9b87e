package main

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/rotblauer/catbike/internal/checkin"
	"github.com/rotblauer/catbike/internal/stats"
	"github.com/rotblauer/catbike/internal/trips"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#89b4fa"))
	headerStyle = lipgloss.NewStyle().Bold(true)
	labelStyle  = lipgloss.NewStyle().Width(26)
	valueStyle  = lipgloss.NewStyle().Width(12).Align(lipgloss.Right)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6c7086"))
	filledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#a6e3a1"))
	emptyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#45475a"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// units formats distances in meters for display.
type units interface {
	DisplayDistance(d float64) string
	UnitForDistance(d float64) string
}

func formatDistance(u units, d float64) string {
	return u.DisplayDistance(d) + " " + u.UnitForDistance(d)
}

func formatDuration(d time.Duration) string {
	return d.Round(time.Second).String()
}

func row(label string, values ...string) string {
	cells := []string{labelStyle.Render(label)}
	for _, v := range values {
		cells = append(cells, valueStyle.Render(v))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cells...)
}

// progressBar draws fraction (clamped to [0, 1]) over width cells.
func progressBar(fraction float64, width int) string {
	fraction = math.Max(0, math.Min(1, fraction))
	filled := int(math.Round(fraction * float64(width)))
	return filledStyle.Render(strings.Repeat("█", filled)) +
		emptyStyle.Render(strings.Repeat("░", width-filled))
}

func completionCell(actual, prev float64) string {
	c := checkin.Completion(actual, prev)
	return fmt.Sprintf("%s %3.0f%%", progressBar(c, 10), c*100)
}

var aggregatedLabels = map[stats.AggregatedKey]string{
	stats.DailyAverageThisWeek:  "Daily average this week",
	stats.DailyAverageThisMonth: "Daily average this month",
	stats.BestTripToday:         "Best trip today",
	stats.BestTripThisWeek:      "Best trip this week",
	stats.BestTripThisMonth:     "Best trip this month",
	stats.MeanTripToday:         "Mean trip today",
	stats.MeanTripThisWeek:      "Mean trip this week",
	stats.MeanTripThisMonth:     "Mean trip this month",
}

func renderPeriodStats(u units, ps stats.PeriodStats) string {
	lines := []string{
		titleStyle.Render("Distance"),
		headerStyle.Render(row("", "current", "previous")) + "  " + headerStyle.Render("progress"),
		row("Day", formatDistance(u, ps.Daily), formatDistance(u, ps.PrevDay)) + "  " + completionCell(ps.Daily, ps.PrevDay),
		row("Week", formatDistance(u, ps.Weekly), formatDistance(u, ps.PrevWeek)) + "  " + completionCell(ps.Weekly, ps.PrevWeek),
		row("Month", formatDistance(u, ps.Monthly), formatDistance(u, ps.PrevMonth)) + "  " + completionCell(ps.Monthly, ps.PrevMonth),
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func renderAggregated(u units, agg map[stats.AggregatedKey]float64) string {
	lines := []string{titleStyle.Render("Trips")}
	for _, k := range stats.AggregatedKeys {
		lines = append(lines, row(aggregatedLabels[k], formatDistance(u, agg[k])))
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func renderSummary(u units, s stats.Summary, w trips.Window) string {
	span := "since " + w.From.Format(time.RFC3339)
	if !w.To.IsZero() {
		span = w.From.Format(time.RFC3339) + " to " + w.To.Format(time.RFC3339)
	}
	lines := []string{
		titleStyle.Render("Summary") + " " + dimStyle.Render(fmt.Sprintf("%s, by %s", span, w.Index)),
		row("Trips", fmt.Sprintf("%d", s.Count)),
	}
	if s.Count > 0 {
		lines = append(lines,
			row("Total", formatDistance(u, s.Total)),
			row("Mean", formatDistance(u, s.Mean)),
			row("Median", formatDistance(u, s.Median)),
			row("90th percentile", formatDistance(u, s.P90)),
			row("Standard deviation", formatDistance(u, s.StdDev)),
			row("Longest", formatDistance(u, s.Longest)),
		)
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func renderCheckIn(u units, r checkin.Report) string {
	lines := []string{
		titleStyle.Render("Since ") + dimStyle.Render(r.Since.Local().Format(time.RFC1123)),
		row("New trips", fmt.Sprintf("%d", r.NewTrips)),
	}
	if r.NewTrips > 0 {
		lines = append(lines,
			row("Distance", formatDistance(u, r.NewDistance)),
			row("Time", formatDuration(r.NewDuration)),
		)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)),
		renderPeriodStats(u, r.Stats),
	)
}

func renderTrips(u units, list []trips.BikeTrip) string {
	if len(list) == 0 {
		return dimStyle.Render("No trips.")
	}
	lines := []string{headerStyle.Render(row("Start", "id", "duration", "distance"))}
	for _, t := range list {
		lines = append(lines, row(
			t.StartTime.Local().Format("2006-01-02 15:04:05"),
			fmt.Sprintf("%d", t.ID),
			formatDuration(t.Duration()),
			formatDistance(u, t.Distance),
		))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
