package tracker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// gatedSource records requests and holds each one until the gate opens.
type gatedSource struct {
	mu      sync.Mutex
	calls   []string
	entered chan struct{}
	gate    chan struct{}
}

func newGatedSource() *gatedSource {
	return &gatedSource{entered: make(chan struct{}, 16), gate: make(chan struct{})}
}

func (g *gatedSource) record(call string) {
	g.mu.Lock()
	g.calls = append(g.calls, call)
	g.mu.Unlock()
	g.entered <- struct{}{}
	<-g.gate
}

func (g *gatedSource) Start(_ context.Context, interval time.Duration) error {
	g.record(interval.String())
	return nil
}

func (g *gatedSource) Stop(context.Context) error {
	g.record("stop")
	return nil
}

func (g *gatedSource) log() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fmt.Sprint(g.calls)
}

func waitRate(t *testing.T, r *RateController) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Wait(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestRepeatedStartWhileInFlight(t *testing.T) {
	src := newGatedSource()
	r := NewRateController(src, Intervals{}, nil)

	r.SetTrackingEnabled(true, ModeLong)
	<-src.entered
	r.SetTrackingEnabled(true, ModeLong)
	r.SetTrackingEnabled(true, ModeLong)
	close(src.gate)
	waitRate(t, r)

	if got := src.log(); got != "[1m0s]" {
		t.Errorf("expected a single start, got %v", got)
	}
}

func TestModeChangeWhileInFlight(t *testing.T) {
	src := newGatedSource()
	r := NewRateController(src, Intervals{}, nil)

	r.SetTrackingEnabled(true, ModeLong)
	<-src.entered
	r.SetTrackingEnabled(true, ModeShort)
	close(src.gate)
	waitRate(t, r)

	if got := src.log(); got != "[1m0s 10s]" {
		t.Errorf("expected the new interval to be applied, got %v", got)
	}
}

func TestStopWhileStarting(t *testing.T) {
	src := newGatedSource()
	finished := 0
	r := NewRateController(src, Intervals{Long: time.Minute, Short: 5 * time.Second}, func() { finished++ })

	r.SetTrackingEnabled(true, ModeShort)
	<-src.entered
	r.SetTrackingEnabled(false, ModeShort)
	close(src.gate)
	waitRate(t, r)

	if got := src.log(); got != "[5s stop]" {
		t.Errorf("expected start then stop, got %v", got)
	}
	if finished != 1 {
		t.Errorf("expected disabling to finish the trip once, got %d", finished)
	}
}

func TestRateFollowsBikingState(t *testing.T) {
	type testCase struct {
		prev, next BikingState
		want       TrackingMode
	}

	testCases := []testCase{
		{NotBiking, Biking, ModeShort},
		{Biking, InGrace, ModeShort},
		{InGrace, MovingNotOnBike, ModeShort},
		{MovingNotOnBike, Biking, ModeShort},
		{Biking, NotBiking, ModeLong},
		{NotBiking, Biking, ModeShort},
		{InGrace, NotBiking, ModeLong},
	}

	src := newGatedSource()
	close(src.gate)
	r := NewRateController(src, Intervals{}, nil)
	r.SetTrackingEnabled(true, ModeLong)
	for i, tc := range testCases {
		r.BikingStateChanged(tc.prev, tc.next)
		if got := r.Mode(); got != tc.want {
			t.Errorf("Test case %d failed: expected %v, got %v", i, tc.want, got)
		}
	}
	waitRate(t, r)
}

func TestStateChangeWhileDisabled(t *testing.T) {
	src := newGatedSource()
	close(src.gate)
	finished := 0
	r := NewRateController(src, Intervals{}, func() { finished++ })

	r.SetTrackingEnabled(true, ModeShort)
	waitRate(t, r)
	r.SetTrackingEnabled(false, ModeShort)
	waitRate(t, r)

	// The finish caused by disabling ends the trip.
	r.BikingStateChanged(Biking, NotBiking)
	r.BikingStateChanged(NotBiking, Biking)
	r.BikingStateChanged(Biking, NotBiking)
	waitRate(t, r)

	if got := src.log(); got != "[10s stop]" {
		t.Errorf("expected the source to stay stopped, got %v", got)
	}
	if r.Enabled() {
		t.Error("expected tracking to stay disabled")
	}
	if r.Mode() != ModeLong {
		t.Errorf("expected the mode to follow the state, got %v", r.Mode())
	}
	if finished != 1 {
		t.Errorf("expected one finish, got %d", finished)
	}

	r.SetTrackingEnabled(true, r.Mode())
	waitRate(t, r)
	if got := src.log(); got != "[10s stop 1m0s]" {
		t.Errorf("expected re-enabling to start the source, got %v", got)
	}
}

func TestInflightAddDuringWait(t *testing.T) {
	var f inflight
	if err := f.wait(context.Background()); err != nil {
		t.Fatalf("expected an idle counter to return at once, got %v", err)
	}

	f.add()
	waited := make(chan error, 1)
	go func() { waited <- f.wait(context.Background()) }()
	f.add()
	f.done()
	select {
	case err := <-waited:
		t.Fatalf("wait returned with work in flight: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	f.done()
	select {
	case err := <-waited:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not return once idle")
	}

	f.add()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := f.wait(ctx); err != context.DeadlineExceeded {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	f.done()
}

func TestModeFor(t *testing.T) {
	for s, want := range map[BikingState]TrackingMode{
		NotBiking:       ModeLong,
		Biking:          ModeShort,
		InGrace:         ModeShort,
		MovingNotOnBike: ModeShort,
	} {
		if got := ModeFor(s); got != want {
			t.Errorf("expected %v for %v, got %v", want, s, got)
		}
	}
}
