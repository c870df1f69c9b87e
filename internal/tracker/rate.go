package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ClassificationSource delivers activity classifications at a requested
// interval.
type ClassificationSource interface {
	Start(ctx context.Context, interval time.Duration) error
	Stop(ctx context.Context) error
}

// TrackingMode selects the classification sampling interval.
type TrackingMode int

const (
	ModeLong TrackingMode = iota
	ModeShort
)

func (m TrackingMode) String() string {
	if m == ModeShort {
		return "short"
	}
	return "long"
}

// ModeFor is the sampling mode matching a biking state.
func ModeFor(s BikingState) TrackingMode {
	if s == NotBiking {
		return ModeLong
	}
	return ModeShort
}

// Intervals maps tracking modes to sampling intervals.
type Intervals struct {
	Long  time.Duration
	Short time.Duration
}

var DefaultIntervals = Intervals{Long: 60 * time.Second, Short: 10 * time.Second}

func (iv Intervals) For(m TrackingMode) time.Duration {
	if m == ModeShort {
		return iv.Short
	}
	return iv.Long
}

// RateController asks the classification source for a faster interval
// while a trip is active and a slower one otherwise.
type RateController struct {
	src       ClassificationSource
	intervals Intervals
	finish    func()
	log       *slog.Logger

	mu      sync.Mutex
	mode    TrackingMode
	enabled bool

	guard requestGuard
}

// NewRateController drives src. finish is called whenever tracking gets
// disabled and may be nil.
func NewRateController(src ClassificationSource, intervals Intervals, finish func()) *RateController {
	if src == nil {
		src = nopClassificationSource{}
	}
	if intervals.Long <= 0 {
		intervals.Long = DefaultIntervals.Long
	}
	if intervals.Short <= 0 {
		intervals.Short = DefaultIntervals.Short
	}
	r := &RateController{
		src:       src,
		intervals: intervals,
		finish:    finish,
		log:       slog.Default().With("component", "rate"),
	}
	r.guard = requestGuard{
		apply:   r.apply,
		timeout: 30 * time.Second,
		log:     r.log,
	}
	return r
}

// SetTrackingEnabled requests classification updates at the interval for
// mode, or stops them. Disabling also ends any trip in progress. A request
// of the same direction and mode while one is in flight is a no-op.
func (r *RateController) SetTrackingEnabled(enabled bool, mode TrackingMode) {
	r.mu.Lock()
	changed := r.mode != mode
	r.mode = mode
	r.enabled = enabled
	r.mu.Unlock()

	if !enabled && r.finish != nil {
		r.finish()
	}
	r.guard.set(enabled, enabled && changed)
}

// Mode returns the most recently requested mode.
func (r *RateController) Mode() TrackingMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

func (r *RateController) apply(ctx context.Context, req request) error {
	if req == requestStop {
		r.log.Info("disabling activity updates")
		return r.src.Stop(ctx)
	}
	mode := r.Mode()
	r.log.Info("enabling activity updates", "mode", mode, "interval", r.intervals.For(mode))
	return r.src.Start(ctx, r.intervals.For(mode))
}

// Enabled reports whether tracking was last turned on.
func (r *RateController) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// BikingStateChanged moves to the short interval when a trip starts and
// back to the long one when it ends. While tracking is off only the mode is
// recorded; the source stays stopped.
func (r *RateController) BikingStateChanged(prev, next BikingState) {
	var mode TrackingMode
	switch {
	case prev == NotBiking && next == Biking:
		mode = ModeShort
	case prev != NotBiking && next == NotBiking:
		mode = ModeLong
	default:
		return
	}

	r.mu.Lock()
	enabled := r.enabled
	if !enabled {
		r.mode = mode
	}
	r.mu.Unlock()

	if enabled {
		r.SetTrackingEnabled(true, mode)
	}
}

// Wait blocks until no request is in flight or ctx is done.
func (r *RateController) Wait(ctx context.Context) error {
	return r.guard.wait(ctx)
}

type nopClassificationSource struct{}

func (nopClassificationSource) Start(context.Context, time.Duration) error { return nil }
func (nopClassificationSource) Stop(context.Context) error                 { return nil }
