package tracker

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/montanaflynn/stats"
)

// ActivityType is a detected motion class. Ordinals follow the platform
// activity recognition API.
type ActivityType int

const (
	InVehicle ActivityType = iota
	OnBicycle
	OnFoot
	Still
	Unknown
	Tilting
)

// Confidence thresholds, in percent.
const (
	ExtremeConfidence = 85
	StrongConfidence  = 75
	WeakConfidence    = 25
)

var (
	activityVehicle = regexp.MustCompile(`(?i)vehicle|drive|driving|automotive`)
	activityBicycle = regexp.MustCompile(`(?i)bicycle|cycl|bike|biking`)
	activityFoot    = regexp.MustCompile(`(?i)foot|walk|run`)
	activityStill   = regexp.MustCompile(`(?i)still|stationary`)
	activityTilting = regexp.MustCompile(`(?i)tilt`)
	activityUnknown = regexp.MustCompile(`(?i)unknown`)
)

// Recognized reports whether a is one of the known ordinals.
func (a ActivityType) Recognized() bool {
	return a >= InVehicle && a <= Tilting
}

// Ignored reports whether classifications of this type leave the state
// machine untouched. Unrecognized types are handled as Tilting.
func (a ActivityType) Ignored() bool {
	return a == Tilting || !a.Recognized()
}

func (a ActivityType) String() string {
	switch a {
	case InVehicle:
		return "InVehicle"
	case OnBicycle:
		return "OnBicycle"
	case OnFoot:
		return "OnFoot"
	case Still:
		return "Still"
	case Unknown:
		return "Unknown"
	case Tilting:
		return "Tilting"
	}
	return fmt.Sprintf("ActivityType(%d)", int(a))
}

// ActivityFromReport parses an activity as found in recorded streams: an
// ordinal (number or numeric string) or a name such as "Bike", "Walking" or
// "Automotive". Anything else comes back as an unrecognized type.
func ActivityFromReport(report interface{}) ActivityType {
	switch v := report.(type) {
	case nil:
		return ActivityType(-1)
	case int:
		return ActivityType(v)
	case float64:
		return ActivityType(int(v))
	case ActivityType:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return ActivityType(n)
		}
		switch {
		case activityTilting.MatchString(v):
			return Tilting
		case activityStill.MatchString(v):
			return Still
		case activityBicycle.MatchString(v):
			return OnBicycle
		case activityFoot.MatchString(v):
			return OnFoot
		case activityVehicle.MatchString(v):
			return InVehicle
		case activityUnknown.MatchString(v):
			return Unknown
		}
	}
	return ActivityType(-1)
}

// Classification is a single activity recognition result.
type Classification struct {
	Type       ActivityType
	Confidence int // 0..100
}

func (c Classification) String() string {
	return fmt.Sprintf("%s@%d%%", c.Type, c.Confidence)
}

func (c Classification) is(t ActivityType) bool {
	return c.Type == t
}

// DominantActivity returns the most frequent recognized, non tilting type in
// list, or Unknown when there is none.
func DominantActivity(list []Classification) ActivityType {
	activities := []float64{}
	for _, c := range list {
		if !c.Type.Ignored() && c.Type != Unknown {
			activities = append(activities, float64(c.Type))
		}
	}
	mode, _ := stats.Float64Data(activities).Mode()
	if len(mode) == 0 {
		return Unknown
	}
	return ActivityType(mode[0])
}
