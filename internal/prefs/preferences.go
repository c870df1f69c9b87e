package prefs

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/rotblauer/catbike/internal/period"
)

const (
	KeyFirstTime          = "firstTime"
	KeyTrackActivity      = "trackActivity"
	KeyCurrentBikingState = "currentBikingState"
	KeyLastCheckIn        = "lastCheckIn"
	KeyLastMeasureTime    = "lastMeasureTime"

	measurePrefix = "Measures-"
)

// Measure names for the last-measure cache.
const (
	MeasureDay   = "day"
	MeasureWeek  = "week"
	MeasureMonth = "month"
)

// milesPerMeter converts meters to statute miles.
const milesPerMeter = 0.00062137

// Preferences is the typed view over a Backend.
type Preferences struct {
	Backend  Backend
	Calendar period.Calendar
	UseMiles bool

	now func() time.Time
	log *slog.Logger
}

func New(b Backend, cal period.Calendar) *Preferences {
	return &Preferences{
		Backend:  b,
		Calendar: cal,
		now:      time.Now,
		log:      slog.Default().With("component", "prefs"),
	}
}

func (p *Preferences) getBool(ctx context.Context, key string, def bool) (bool, error) {
	s, ok, err := p.Backend.Get(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return def, fmt.Errorf("preference %s: %w", key, err)
	}
	return v, nil
}

func (p *Preferences) getInt(ctx context.Context, key string, def int64) (int64, error) {
	s, ok, err := p.Backend.Get(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def, fmt.Errorf("preference %s: %w", key, err)
	}
	return v, nil
}

func (p *Preferences) set(ctx context.Context, key, value string) error {
	return p.Backend.Set(ctx, map[string]string{key: value})
}

// FirstTime reports whether the app has not been set up yet.
func (p *Preferences) FirstTime(ctx context.Context) (bool, error) {
	return p.getBool(ctx, KeyFirstTime, true)
}

func (p *Preferences) SetFirstTime(ctx context.Context, v bool) error {
	return p.set(ctx, KeyFirstTime, strconv.FormatBool(v))
}

// TrackActivity reports whether activity tracking is turned on.
func (p *Preferences) TrackActivity(ctx context.Context) (bool, error) {
	return p.getBool(ctx, KeyTrackActivity, false)
}

func (p *Preferences) SetTrackActivity(ctx context.Context, v bool) error {
	return p.set(ctx, KeyTrackActivity, strconv.FormatBool(v))
}

// CurrentBikingState returns the mirrored biking state, 0 when unset.
func (p *Preferences) CurrentBikingState() (int, error) {
	v, err := p.getInt(context.Background(), KeyCurrentBikingState, 0)
	return int(v), err
}

func (p *Preferences) SetCurrentBikingState(state int) error {
	return p.set(context.Background(), KeyCurrentBikingState, strconv.Itoa(state))
}

// LastCheckIn is the commit-time cursor of the last check-in. It defaults to
// now, so a first check-in sees no old trips.
func (p *Preferences) LastCheckIn(ctx context.Context) (time.Time, error) {
	ms, err := p.getInt(ctx, KeyLastCheckIn, p.now().UTC().UnixMilli())
	return time.UnixMilli(ms).UTC(), err
}

func (p *Preferences) SetLastCheckIn(ctx context.Context, t time.Time) error {
	return p.set(ctx, KeyLastCheckIn, strconv.FormatInt(t.UTC().UnixMilli(), 10))
}

// SetLastMeasure caches a period total computed at date. All measures share
// one timestamp: the last one written.
func (p *Preferences) SetLastMeasure(ctx context.Context, name string, value float64, date time.Time) error {
	return p.Backend.Set(ctx, map[string]string{
		measurePrefix + name: strconv.FormatFloat(value, 'f', -1, 64),
		KeyLastMeasureTime:   strconv.FormatInt(date.UnixMilli(), 10),
	})
}

// SetLastMeasures caches the three period totals at once.
func (p *Preferences) SetLastMeasures(ctx context.Context, day, week, month float64, date time.Time) error {
	return p.Backend.Set(ctx, map[string]string{
		measurePrefix + MeasureDay:   strconv.FormatFloat(day, 'f', -1, 64),
		measurePrefix + MeasureWeek:  strconv.FormatFloat(week, 'f', -1, 64),
		measurePrefix + MeasureMonth: strconv.FormatFloat(month, 'f', -1, 64),
		KeyLastMeasureTime:           strconv.FormatInt(date.UnixMilli(), 10),
	})
}

func (p *Preferences) LastDayMeasure(ctx context.Context, reference time.Time) float64 {
	return p.lastMeasure(ctx, MeasureDay, p.Calendar.SameDay, reference)
}

func (p *Preferences) LastWeekMeasure(ctx context.Context, reference time.Time) float64 {
	return p.lastMeasure(ctx, MeasureWeek, p.Calendar.SameWeek, reference)
}

func (p *Preferences) LastMonthMeasure(ctx context.Context, reference time.Time) float64 {
	return p.lastMeasure(ctx, MeasureMonth, p.Calendar.SameMonth, reference)
}

// lastMeasure returns the cached value when it was measured within the
// reference's period, else 0. Unreadable values count as missing.
func (p *Preferences) lastMeasure(ctx context.Context, name string, valid func(a, b time.Time) bool, reference time.Time) float64 {
	ms, err := p.getInt(ctx, KeyLastMeasureTime, 0)
	if err != nil {
		p.log.Warn("read last measure time", "error", err)
		return 0
	}
	if ms == 0 || !valid(reference, time.UnixMilli(ms)) {
		return 0
	}
	s, ok, err := p.Backend.Get(ctx, measurePrefix+name)
	if err != nil || !ok {
		if err != nil {
			p.log.Warn("read last measure", "measure", name, "error", err)
		}
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.log.Warn("parse last measure", "measure", name, "error", err)
		return 0
	}
	return v
}

// UnitForDistance is the display unit for a distance in meters.
func (p *Preferences) UnitForDistance(d float64) string {
	switch {
	case p.UseMiles:
		return "mi"
	case d >= 1000:
		return "km"
	}
	return "m"
}

// DisplayDistance renders a distance in meters in its display unit, without
// decimals.
func (p *Preferences) DisplayDistance(d float64) string {
	switch {
	case p.UseMiles:
		d *= milesPerMeter
	case d >= 1000:
		d /= 1000
	}
	return strconv.FormatFloat(math.Round(d), 'f', 0, 64)
}

// Reset clears every preference.
func (p *Preferences) Reset(ctx context.Context) error {
	return p.Backend.Clear(ctx)
}
