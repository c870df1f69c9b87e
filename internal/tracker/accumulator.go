package tracker

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/rotblauer/catbike/internal/trips"
)

// Fix is a location update.
type Fix struct {
	Latitude  float64
	Longitude float64
	Time      int64 // ms since the Unix epoch
}

func (f Fix) Point() orb.Point {
	return orb.Point{f.Longitude, f.Latitude}
}

func (f Fix) Timestamp() time.Time {
	return time.UnixMilli(f.Time).UTC()
}

// DistanceTo is the great-circle distance in meters.
func (f Fix) DistanceTo(o Fix) float64 {
	return geo.Distance(f.Point(), o.Point())
}

// TraversedDistance sums the distances between consecutive fixes.
func TraversedDistance(fixes []Fix) float64 {
	sum := 0.0
	for i := 1; i < len(fixes); i++ {
		sum += fixes[i-1].DistanceTo(fixes[i])
	}
	return sum
}

// Accumulator turns a sequence of fixes into a trip distance and time span.
// It counts whatever it is told to count; gating belongs to the caller.
// Not safe for concurrent use.
type Accumulator struct {
	previous *Fix
	carried  *Fix
	startMs  int64
	latestMs int64
	distance float64
}

// OnFix takes the next fix and returns the distance it added. With a
// previous fix the segment is added only when count is set. The first fix
// since Reset marks the trip start and consumes any carried fix.
func (a *Accumulator) OnFix(f Fix, count bool) float64 {
	added := 0.0
	if a.previous != nil {
		if count {
			added = a.previous.DistanceTo(f)
			a.distance += added
		}
		a.latestMs = f.Time
	} else {
		a.startMs = f.Time
		if a.carried != nil {
			added = a.carried.DistanceTo(f)
			a.distance += added
			a.carried = nil
		}
	}
	a.previous = &f
	return added
}

// Carry remembers f as the seed of the next trip's first segment.
func (a *Accumulator) Carry(f Fix) {
	a.carried = &f
}

func (a *Accumulator) Distance() float64 {
	return a.distance
}

// Started reports whether a fix was taken since the last Reset.
func (a *Accumulator) Started() bool {
	return a.previous != nil
}

// Finish returns the accumulated trip. A trip without distance or without
// elapsed time between its first and last fix is discarded.
func (a *Accumulator) Finish() (trips.BikeTrip, bool) {
	if a.previous == nil || a.distance <= 0 || a.latestMs <= a.startMs {
		return trips.BikeTrip{}, false
	}
	return trips.BikeTrip{
		Distance:  a.distance,
		StartTime: time.UnixMilli(a.startMs).UTC(),
		EndTime:   time.UnixMilli(a.latestMs).UTC(),
	}, true
}

// Reset clears the accumulator. The last fix taken becomes the carried fix.
func (a *Accumulator) Reset() {
	if a.previous != nil {
		a.carried = a.previous
	}
	a.previous = nil
	a.startMs, a.latestMs, a.distance = 0, 0, 0
}
