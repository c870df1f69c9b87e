package main

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/rotblauer/catbike/internal/tracker"
)

// Property names read from recorded track points.
const (
	propTime               = "Time"
	propActivity           = "Activity"
	propActivityConfidence = "ActivityConfidence"
	propAction             = "Action"

	actionFinish = "finish"
)

var (
	errCoordinateOutOfRange = errors.New("coordinate out of range")
	errMissingTime          = errors.New("missing time")
	errNoEvents             = errors.New("no activity, position or action")
)

// TrackFeature is a recorded track point: a Point feature carrying its
// timestamp and optionally an activity report and an action.
type TrackFeature struct {
	*geojson.Feature
}

// Time parses the RFC3339 "Time" property.
func (f TrackFeature) Time() (time.Time, error) {
	value, ok := f.Properties[propTime]
	if !ok {
		return time.Time{}, errMissingTime
	}
	valueStr, ok := value.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("time is a %T, not a string", value)
	}
	t, err := time.Parse(time.RFC3339, valueStr)
	if err != nil {
		return time.Time{}, err
	}
	if t.IsZero() {
		return time.Time{}, errors.New("invalid time")
	}
	return t.UTC(), nil
}

// Classification returns the reported activity. A report without a
// confidence counts as certain.
func (f TrackFeature) Classification() (tracker.Classification, bool) {
	report, ok := f.Properties[propActivity]
	if !ok || report == nil || report == "" {
		return tracker.Classification{}, false
	}
	c := tracker.Classification{
		Type:       tracker.ActivityFromReport(report),
		Confidence: 100,
	}
	if v, ok := f.Properties[propActivityConfidence].(float64); ok {
		c.Confidence = int(math.Max(0, math.Min(100, math.Round(v))))
	}
	return c, true
}

// Fix returns the point position, validated, at the feature time. Features
// without a point geometry have no fix.
func (f TrackFeature) Fix(at time.Time) (tracker.Fix, bool, error) {
	pt, ok := f.Geometry.(orb.Point)
	if !ok {
		return tracker.Fix{}, false, nil
	}
	if err := validatePoint(pt); err != nil {
		return tracker.Fix{}, false, err
	}
	return tracker.Fix{Latitude: pt.Lat(), Longitude: pt.Lon(), Time: at.UnixMilli()}, true, nil
}

// Finish reports whether the point asks to end the current trip.
func (f TrackFeature) Finish() bool {
	action, _ := f.Properties[propAction].(string)
	return strings.EqualFold(action, actionFinish)
}

// Events turns the point into tracker events, all at the feature time: the
// classification first, then the fix, then a finish.
func (f TrackFeature) Events() ([]tracker.Event, error) {
	at, err := f.Time()
	if err != nil {
		return nil, err
	}
	var out []tracker.Event
	if c, ok := f.Classification(); ok {
		out = append(out, tracker.ClassificationEvent(at, c))
	}
	fix, ok, err := f.Fix(at)
	if err != nil {
		return nil, err
	}
	if ok {
		out = append(out, tracker.FixEvent(fix))
	}
	if f.Finish() {
		out = append(out, tracker.FinishEvent(at))
	}
	if len(out) == 0 {
		return nil, errNoEvents
	}
	return out, nil
}

// validatePoint rejects out of range coordinates and the null island.
func validatePoint(pt orb.Point) error {
	if pt.Lon() < -180 || pt.Lon() > 180 || pt.Lon() == 0 {
		return fmt.Errorf("%w: longitude %f", errCoordinateOutOfRange, pt.Lon())
	}
	if pt.Lat() < -90 || pt.Lat() > 90 || pt.Lat() == 0 {
		return fmt.Errorf("%w: latitude %f", errCoordinateOutOfRange, pt.Lat())
	}
	return nil
}
