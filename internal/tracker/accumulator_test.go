package tracker

import (
	"math"
	"testing"
	"time"
)

var fixBase = time.Date(2014, 4, 18, 8, 0, 0, 0, time.UTC)

// fixAt is a fix on a meridian, sec seconds after fixBase.
func fixAt(lat float64, sec int) Fix {
	return Fix{Latitude: lat, Longitude: -93.25, Time: fixBase.Add(time.Duration(sec) * time.Second).UnixMilli()}
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestFixDistance(t *testing.T) {
	// 0.01 degree of latitude is a little over 1.1 km.
	d := fixAt(44.98, 0).DistanceTo(fixAt(44.99, 0))
	if d < 1100 || d > 1125 {
		t.Errorf("unexpected distance %v", d)
	}
	fixes := []Fix{fixAt(44.98, 0), fixAt(44.985, 10), fixAt(44.99, 20)}
	if got := TraversedDistance(fixes); !near(got, fixes[0].DistanceTo(fixes[1])+fixes[1].DistanceTo(fixes[2])) {
		t.Errorf("unexpected traversed distance %v", got)
	}
	if TraversedDistance(fixes[:1]) != 0 {
		t.Error("expected zero distance for a single fix")
	}
}

func TestAccumulator(t *testing.T) {
	type testCase struct {
		fixes    []Fix
		count    []bool
		ok       bool
		distance float64
	}

	a, b, c := fixAt(44.98, 0), fixAt(44.981, 30), fixAt(44.982, 60)
	ab, bc := a.DistanceTo(b), b.DistanceTo(c)

	testCases := []testCase{
		{nil, nil, false, 0},
		{[]Fix{a}, []bool{true}, false, 0},                          // single fix
		{[]Fix{a, b}, []bool{true, true}, true, ab},                 // one segment
		{[]Fix{a, b, c}, []bool{true, true, true}, true, ab + bc},   // two segments
		{[]Fix{a, b, c}, []bool{true, false, true}, true, bc},       // middle delta not counted
		{[]Fix{a, b}, []bool{true, false}, false, 0},                // nothing counted
		{[]Fix{a, fixAt(44.98, 0)}, []bool{true, true}, false, 0},   // no movement
		{[]Fix{b, fixAt(44.98, 30)}, []bool{true, true}, false, ab}, // no elapsed time
	}

	for i, tc := range testCases {
		var acc Accumulator
		for j, f := range tc.fixes {
			acc.OnFix(f, tc.count[j])
		}
		trip, ok := acc.Finish()
		if ok != tc.ok {
			t.Errorf("Test case %d failed: expected ok %v, got %v", i, tc.ok, ok)
			continue
		}
		if !near(acc.Distance(), tc.distance) {
			t.Errorf("Test case %d failed: expected distance %v, got %v", i, tc.distance, acc.Distance())
		}
		if ok {
			first, last := tc.fixes[0], tc.fixes[len(tc.fixes)-1]
			if !trip.StartTime.Equal(first.Timestamp()) || !trip.EndTime.Equal(last.Timestamp()) {
				t.Errorf("Test case %d failed: expected %v..%v, got %v..%v", i,
					first.Timestamp(), last.Timestamp(), trip.StartTime, trip.EndTime)
			}
			if trip.Distance != acc.Distance() {
				t.Errorf("Test case %d failed: trip distance %v, accumulated %v", i, trip.Distance, acc.Distance())
			}
		}
	}
}

func TestAccumulatorCarriedFix(t *testing.T) {
	a, b, c := fixAt(44.98, 0), fixAt(44.981, 30), fixAt(44.982, 60)

	var acc Accumulator
	acc.Carry(a)
	if added := acc.OnFix(b, true); !near(added, a.DistanceTo(b)) {
		t.Errorf("expected the carried segment to be added, got %v", added)
	}
	acc.OnFix(c, true)
	if !near(acc.Distance(), a.DistanceTo(b)+b.DistanceTo(c)) {
		t.Errorf("unexpected distance %v", acc.Distance())
	}
	trip, ok := acc.Finish()
	if !ok || !trip.StartTime.Equal(b.Timestamp()) {
		t.Fatalf("expected a trip starting at the first delivered fix, got %+v (%v)", trip, ok)
	}
}

func TestAccumulatorResetCarriesLastFix(t *testing.T) {
	a, b, c := fixAt(44.98, 0), fixAt(44.981, 30), fixAt(44.982, 600)

	var acc Accumulator
	acc.OnFix(a, true)
	acc.OnFix(b, true)
	acc.Reset()
	if acc.Started() || acc.Distance() != 0 {
		t.Fatal("expected a cleared accumulator")
	}
	if _, ok := acc.Finish(); ok {
		t.Fatal("expected no trip right after reset")
	}

	acc.OnFix(c, true)
	if !near(acc.Distance(), b.DistanceTo(c)) {
		t.Errorf("expected the segment from the last fix before reset, got %v", acc.Distance())
	}

	// A reset without fixes keeps the carried fix.
	acc.Reset()
	acc.Reset()
	acc.OnFix(a, true)
	if !near(acc.Distance(), c.DistanceTo(a)) {
		t.Errorf("expected carried fix to survive an empty reset, got %v", acc.Distance())
	}
}
