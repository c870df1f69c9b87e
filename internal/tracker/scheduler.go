package tracker

import (
	"sort"
	"sync"
	"time"
)

// Scheduler tells time and runs deferred callbacks. Callbacks run on their
// own goroutine (or the goroutine advancing a manual clock), never under a
// caller's lock.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func())
}

// WallScheduler uses the system clock.
type WallScheduler struct{}

func (WallScheduler) Now() time.Time { return time.Now() }

func (WallScheduler) AfterFunc(d time.Duration, f func()) { time.AfterFunc(d, f) }

type manualTimer struct {
	at  time.Time
	seq int
	f   func()
}

// ManualScheduler is a virtual clock. Time only moves through Advance and
// AdvanceTo, which run due callbacks in deadline order.
type ManualScheduler struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []manualTimer
}

func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start}
}

func (s *ManualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.timers = append(s.timers, manualTimer{at: s.now.Add(d), seq: s.seq, f: f})
}

// Pending returns the number of callbacks not yet run.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *ManualScheduler) Advance(d time.Duration) {
	s.AdvanceTo(s.Now().Add(d))
}

// AdvanceTo moves the clock to t, running every callback due by then. A
// callback may schedule further callbacks; those run too if due. Moving
// backwards is a no-op.
func (s *ManualScheduler) AdvanceTo(t time.Time) {
	for {
		s.mu.Lock()
		if len(s.timers) == 0 {
			break
		}
		sort.Slice(s.timers, func(i, j int) bool {
			if s.timers[i].at.Equal(s.timers[j].at) {
				return s.timers[i].seq < s.timers[j].seq
			}
			return s.timers[i].at.Before(s.timers[j].at)
		})
		next := s.timers[0]
		if next.at.After(t) {
			break
		}
		s.timers = s.timers[1:]
		if next.at.After(s.now) {
			s.now = next.at
		}
		s.mu.Unlock()
		next.f()
	}
	if t.After(s.now) {
		s.now = t
	}
	s.mu.Unlock()
}
