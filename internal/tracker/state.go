package tracker

import "fmt"

// BikingState is the trip detection state. Values are persisted as ints.
type BikingState int

const (
	NotBiking BikingState = iota
	Biking
	MovingNotOnBike
	InGrace
)

func (s BikingState) String() string {
	switch s {
	case NotBiking:
		return "NotBiking"
	case Biking:
		return "Biking"
	case MovingNotOnBike:
		return "MovingNotOnBike"
	case InGrace:
		return "InGrace"
	}
	return fmt.Sprintf("BikingState(%d)", int(s))
}

func (s BikingState) Valid() bool {
	return s >= NotBiking && s <= InGrace
}

// InGracePeriod reports whether a deferred finish may be pending.
func (s BikingState) InGracePeriod() bool {
	return s == MovingNotOnBike || s == InGrace
}

// Counting reports whether fix deltas add to the trip distance.
func (s BikingState) Counting() bool {
	return s == Biking || s == InGrace
}
