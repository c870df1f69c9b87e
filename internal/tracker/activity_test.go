package tracker

import (
	"testing"
	"time"
)

func TestActivityFromReport(t *testing.T) {
	type testCase struct {
		report interface{}
		want   ActivityType
	}

	testCases := []testCase{
		{"Bike", OnBicycle},
		{"OnBicycle", OnBicycle},
		{"cycling", OnBicycle},
		{"Walking", OnFoot},
		{"Running", OnFoot},
		{"OnFoot", OnFoot},
		{"Automotive", InVehicle},
		{"InVehicle", InVehicle},
		{"Stationary", Still},
		{"still", Still},
		{"Tilting", Tilting},
		{"Unknown", Unknown},
		{"1", OnBicycle},
		{float64(2), OnFoot},
		{0, InVehicle},
		{"levitating", ActivityType(-1)},
		{nil, ActivityType(-1)},
		{true, ActivityType(-1)},
	}

	for i, tc := range testCases {
		if got := ActivityFromReport(tc.report); got != tc.want {
			t.Errorf("Test case %d failed: expected %v, got %v", i, tc.want, got)
		}
	}
}

func TestActivityIgnored(t *testing.T) {
	for _, a := range []ActivityType{Tilting, ActivityType(-1), ActivityType(6), ActivityType(42)} {
		if !a.Ignored() {
			t.Errorf("expected %v to be ignored", a)
		}
	}
	for _, a := range []ActivityType{InVehicle, OnBicycle, OnFoot, Still, Unknown} {
		if a.Ignored() {
			t.Errorf("expected %v to be handled", a)
		}
	}
}

func TestDominantActivity(t *testing.T) {
	list := []Classification{
		{OnBicycle, 80}, {OnBicycle, 60}, {Tilting, 100}, {Tilting, 100},
		{Tilting, 100}, {OnFoot, 40}, {OnBicycle, 90}, {Unknown, 10},
	}
	if got := DominantActivity(list); got != OnBicycle {
		t.Errorf("expected OnBicycle, got %v", got)
	}
	if got := DominantActivity(nil); got != Unknown {
		t.Errorf("expected Unknown for no classifications, got %v", got)
	}
}

func TestManualScheduler(t *testing.T) {
	start := time.Date(2014, 4, 18, 8, 0, 0, 0, time.UTC)
	s := NewManualScheduler(start)

	var order []string
	s.AfterFunc(2*time.Minute, func() { order = append(order, "b") })
	s.AfterFunc(time.Minute, func() {
		order = append(order, "a")
		s.AfterFunc(30*time.Second, func() { order = append(order, "a2") })
	})
	s.AfterFunc(2*time.Minute, func() { order = append(order, "c") })

	s.Advance(59 * time.Second)
	if len(order) != 0 {
		t.Fatalf("expected nothing to fire yet, got %v", order)
	}
	s.Advance(61 * time.Second)
	want := []string{"a", "a2", "b", "c"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("Test case %d failed: expected %v, got %v", i, want[i], order[i])
		}
	}
	if got := s.Now(); !got.Equal(start.Add(2 * time.Minute)) {
		t.Errorf("expected clock at +2m, got %v", got)
	}
	if s.Pending() != 0 {
		t.Errorf("expected no pending callbacks, got %d", s.Pending())
	}

	s.AdvanceTo(start)
	if !s.Now().Equal(start.Add(2 * time.Minute)) {
		t.Error("expected the clock not to move backwards")
	}
}
