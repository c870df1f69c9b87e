package prefs

import (
	"context"
	"testing"
	"time"

	"github.com/rotblauer/catbike/internal/period"
)

var utcCalendar = period.Calendar{FirstDay: time.Sunday, Location: time.UTC}

func TestLastMeasures(t *testing.T) {
	type testCase struct {
		measuredAt       time.Time
		day, week, month float64
	}

	reference := time.Date(2014, 4, 18, 10, 0, 2, 0, time.UTC)
	testCases := []testCase{
		{time.Time{}, 0, 0, 0},
		{reference.AddDate(0, -2, 0), 0, 0, 0},
		{reference.AddDate(0, 0, -9), 0, 0, 10},
		{reference.AddDate(0, 0, -2), 0, 5, 10},
		{reference.Add(-2 * time.Hour), 3, 5, 10},
	}

	ctx := context.Background()
	for i, tc := range testCases {
		p := New(NewMemory(), utcCalendar)
		if !tc.measuredAt.IsZero() {
			for name, v := range map[string]float64{MeasureDay: 3, MeasureWeek: 5, MeasureMonth: 10} {
				if err := p.SetLastMeasure(ctx, name, v, tc.measuredAt); err != nil {
					t.Fatal(err)
				}
			}
		}
		got := [3]float64{p.LastDayMeasure(ctx, reference), p.LastWeekMeasure(ctx, reference), p.LastMonthMeasure(ctx, reference)}
		if want := [3]float64{tc.day, tc.week, tc.month}; got != want {
			t.Errorf("Test case %d failed: expected %v, got %v", i, want, got)
		}
	}
}

func TestSetLastMeasures(t *testing.T) {
	ctx := context.Background()
	p := New(NewMemory(), utcCalendar)
	now := time.Date(2014, 4, 18, 10, 0, 0, 0, time.UTC)
	if err := p.SetLastMeasures(ctx, 1200, 3400.5, 9000, now); err != nil {
		t.Fatal(err)
	}
	if got := p.LastWeekMeasure(ctx, now.Add(time.Hour)); got != 3400.5 {
		t.Errorf("expected 3400.5, got %v", got)
	}
}

func TestUnreadableMeasureIsMissing(t *testing.T) {
	ctx := context.Background()
	b := NewMemory()
	p := New(b, utcCalendar)
	now := time.Date(2014, 4, 18, 10, 0, 0, 0, time.UTC)
	if err := p.SetLastMeasure(ctx, MeasureDay, 3, now); err != nil {
		t.Fatal(err)
	}
	if err := b.Set(ctx, map[string]string{"Measures-day": "lots"}); err != nil {
		t.Fatal(err)
	}
	if got := p.LastDayMeasure(ctx, now); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
}

func TestDefaults(t *testing.T) {
	ctx := context.Background()
	p := New(NewMemory(), utcCalendar)
	now := time.Date(2014, 4, 18, 10, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	if v, err := p.FirstTime(ctx); err != nil || !v {
		t.Errorf("expected first time by default, got %v (%v)", v, err)
	}
	if v, err := p.TrackActivity(ctx); err != nil || v {
		t.Errorf("expected tracking off by default, got %v (%v)", v, err)
	}
	if v, err := p.CurrentBikingState(); err != nil || v != 0 {
		t.Errorf("expected state 0 by default, got %v (%v)", v, err)
	}
	if v, err := p.LastCheckIn(ctx); err != nil || !v.Equal(now) {
		t.Errorf("expected last check-in to default to now, got %v (%v)", v, err)
	}
}

func TestTypedRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := New(NewMemory(), utcCalendar)
	checkIn := time.Date(2014, 4, 18, 10, 0, 0, 123e6, time.UTC)

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(p.SetFirstTime(ctx, false))
	must(p.SetTrackActivity(ctx, true))
	must(p.SetCurrentBikingState(3))
	must(p.SetLastCheckIn(ctx, checkIn))

	if v, _ := p.FirstTime(ctx); v {
		t.Error("expected first time cleared")
	}
	if v, _ := p.TrackActivity(ctx); !v {
		t.Error("expected tracking on")
	}
	if v, _ := p.CurrentBikingState(); v != 3 {
		t.Errorf("expected state 3, got %d", v)
	}
	if v, _ := p.LastCheckIn(ctx); !v.Equal(checkIn) {
		t.Errorf("expected %v, got %v", checkIn, v)
	}

	must(p.Reset(ctx))
	if v, _ := p.TrackActivity(ctx); v {
		t.Error("expected reset to restore the default")
	}
}

func TestBadValueIsAnError(t *testing.T) {
	ctx := context.Background()
	b := NewMemory()
	p := New(b, utcCalendar)
	if err := b.Set(ctx, map[string]string{KeyCurrentBikingState: "biking"}); err != nil {
		t.Fatal(err)
	}
	if _, err := p.CurrentBikingState(); err == nil {
		t.Error("expected an error for an unparsable state")
	}
}

func TestDisplayDistance(t *testing.T) {
	type testCase struct {
		miles    bool
		distance float64
		value    string
		unit     string
	}

	testCases := []testCase{
		{false, 0, "0", "m"},
		{false, 999.4, "999", "m"},
		{false, 1000, "1", "km"},
		{false, 12600, "13", "km"},
		{true, 500, "0", "mi"},
		{true, 16093.4, "10", "mi"},
	}

	for i, tc := range testCases {
		p := New(NewMemory(), utcCalendar)
		p.UseMiles = tc.miles
		if got := p.DisplayDistance(tc.distance); got != tc.value {
			t.Errorf("Test case %d failed: expected %v, got %v", i, tc.value, got)
		}
		if got := p.UnitForDistance(tc.distance); got != tc.unit {
			t.Errorf("Test case %d failed: expected %v, got %v", i, tc.unit, got)
		}
	}
}

func TestMemorySubscribe(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var got []string
	cancel := m.Subscribe(func(key string) { got = append(got, key) })

	_ = m.Set(ctx, map[string]string{"b": "1", "a": "1"})
	_ = m.Set(ctx, map[string]string{"a": "1"}) // unchanged
	_ = m.Clear(ctx)
	cancel()
	_ = m.Set(ctx, map[string]string{"c": "1"})

	want := []string{"a", "b", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Test case %d failed: expected %v, got %v", i, want[i], got[i])
		}
	}
}
