package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type EventKind int

const (
	EventClassification EventKind = iota
	EventFix
	EventFinish
)

func (k EventKind) String() string {
	switch k {
	case EventClassification:
		return "classification"
	case EventFix:
		return "fix"
	case EventFinish:
		return "finish"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one input to the trip detector. At is when it happened; a
// manual scheduler is advanced to it before the event is handled.
type Event struct {
	Kind           EventKind
	At             time.Time
	Classification Classification
	Fix            Fix
}

func ClassificationEvent(at time.Time, c Classification) Event {
	return Event{Kind: EventClassification, At: at, Classification: c}
}

func FixEvent(f Fix) Event {
	return Event{Kind: EventFix, At: f.Timestamp(), Fix: f}
}

func FinishEvent(at time.Time) Event {
	return Event{Kind: EventFinish, At: at}
}

// Handle applies a single event.
func (m *Machine) Handle(ev Event) {
	switch ev.Kind {
	case EventClassification:
		m.OnClassification(ev.Classification)
	case EventFix:
		m.OnFix(ev.Fix)
	case EventFinish:
		m.Finish()
	}
}

// advancer is implemented by virtual clocks.
type advancer interface {
	AdvanceTo(t time.Time)
}

// ServiceOptions wires a Service.
type ServiceOptions struct {
	Machine         Options
	Classifications ClassificationSource
	Intervals       Intervals
	Notifications   NotificationSink
}

// Service owns one Machine together with its rate controller and notifier,
// and feeds it events one at a time.
type Service struct {
	Machine  *Machine
	Rate     *RateController
	Notifier *Notifier

	sched   Scheduler
	mirror  StateMirror
	finishC chan struct{}
	log     *slog.Logger
}

func NewService(opts ServiceOptions) *Service {
	s := &Service{
		finishC: make(chan struct{}, 1),
		mirror:  opts.Machine.Mirror,
		log:     slog.Default().With("component", "service"),
	}
	s.Machine = NewMachine(opts.Machine)
	s.sched = s.Machine.sched
	s.Rate = NewRateController(opts.Classifications, opts.Intervals, s.RequestFinish)
	s.Machine.AddListener(s.Rate)
	if opts.Notifications != nil {
		s.Notifier = NewNotifier(opts.Notifications)
		s.Machine.AddListener(s.Notifier)
	}
	return s
}

// Start restores the mirrored state and, when tracking is on, requests
// classification updates at the interval matching that state.
func (s *Service) Start(trackActivity bool) {
	state := NotBiking
	if s.mirror != nil {
		v, err := s.mirror.CurrentBikingState()
		if err != nil {
			s.log.Warn("read persisted state", "error", err)
		} else {
			state = BikingState(v)
		}
	}
	s.Machine.Restore(state)
	if trackActivity {
		s.Rate.SetTrackingEnabled(true, ModeFor(s.Machine.State()))
	}
}

// SetTrackingEnabled turns activity tracking on or off. Turning it off
// finishes the trip in progress through the event loop.
func (s *Service) SetTrackingEnabled(enabled bool) {
	s.Rate.SetTrackingEnabled(enabled, ModeFor(s.Machine.State()))
}

// RequestFinish asks the event loop to finish the current trip. Requests
// made while one is queued are coalesced.
func (s *Service) RequestFinish() {
	select {
	case s.finishC <- struct{}{}:
	default:
	}
}

// Run handles events serially, in arrival order, until events is closed or
// ctx is done.
func (s *Service) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.finishC:
			s.Machine.Finish()
		case ev, ok := <-events:
			if !ok {
				s.drainFinish()
				return nil
			}
			if clock, ok := s.sched.(advancer); ok && !ev.At.IsZero() {
				clock.AdvanceTo(ev.At)
			}
			s.Machine.Handle(ev)
		}
	}
}

func (s *Service) drainFinish() {
	select {
	case <-s.finishC:
		s.Machine.Finish()
	default:
	}
}

// Close waits for pending writes and source requests, bounded by ctx.
func (s *Service) Close(ctx context.Context) error {
	if err := s.Machine.Close(ctx); err != nil {
		return err
	}
	return s.Rate.Wait(ctx)
}
