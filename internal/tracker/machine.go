package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotblauer/catbike/internal/debuglog"
	"github.com/rotblauer/catbike/internal/trips"
)

const (
	DefaultGracePeriod           = 3 * time.Minute
	DefaultMovingNotOnBikePeriod = 2 * time.Minute
	DefaultPersistTimeout        = 10 * time.Second
)

// StateMirror keeps a durable copy of the biking state for recovery after
// a restart. The machine itself stays the source of truth.
type StateMirror interface {
	CurrentBikingState() (int, error)
	SetCurrentBikingState(state int) error
}

// Options wires a Machine. Zero values get defaults; a nil Store drops
// finished trips with a warning.
type Options struct {
	Store           trips.Store
	Scheduler       Scheduler
	Location        LocationSource
	LocationRequest LocationRequest
	Mirror          StateMirror
	Debug           debuglog.Sink

	GracePeriod           time.Duration
	MovingNotOnBikePeriod time.Duration
	PersistTimeout        time.Duration

	// OnTrip is called with each trip once it was stored.
	OnTrip func(trips.BikeTrip)
}

type transition struct {
	prev, next BikingState
}

// Machine is the trip detector. It consumes classifications and fixes,
// accumulates distance while biking, and ends trips on request or when a
// grace period expires without the rider getting back on the bike.
//
// Deferred finishes are guarded by an epoch: each one captures the epoch
// when armed and does nothing if the epoch moved since.
type Machine struct {
	store          trips.Store
	sched          Scheduler
	mirror         StateMirror
	debug          debuglog.Sink
	grace          time.Duration
	movingGrace    time.Duration
	persistTimeout time.Duration
	onTrip         func(trips.BikeTrip)
	location       *locationGate
	log            *slog.Logger

	epoch atomic.Int64

	mu        sync.Mutex
	state     BikingState
	fixes     bool // fix delivery enabled
	acc       Accumulator
	listeners []Listener
	outbox    []transition
	draining  bool

	mirrorMu sync.Mutex
	bg       inflight
}

func NewMachine(opts Options) *Machine {
	m := &Machine{
		store:          opts.Store,
		sched:          opts.Scheduler,
		mirror:         opts.Mirror,
		debug:          opts.Debug,
		grace:          opts.GracePeriod,
		movingGrace:    opts.MovingNotOnBikePeriod,
		persistTimeout: opts.PersistTimeout,
		onTrip:         opts.OnTrip,
		log:            slog.Default().With("component", "tracker"),
	}
	if m.sched == nil {
		m.sched = WallScheduler{}
	}
	if m.debug == nil {
		m.debug = debuglog.Nop{}
	}
	if m.grace <= 0 {
		m.grace = DefaultGracePeriod
	}
	if m.movingGrace <= 0 {
		m.movingGrace = DefaultMovingNotOnBikePeriod
	}
	if m.persistTimeout <= 0 {
		m.persistTimeout = DefaultPersistTimeout
	}
	req := opts.LocationRequest
	if req == (LocationRequest{}) {
		req = DefaultLocationRequest
	}
	m.location = newLocationGate(opts.Location, req, m.carry)
	return m
}

// AddListener registers l for state transitions.
func (m *Machine) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Machine) State() BikingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Epoch() int64 {
	return m.epoch.Load()
}

// Distance is the running distance of the trip in progress.
func (m *Machine) Distance() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acc.Distance()
}

// FixDeliveryEnabled reports whether fixes are currently accepted.
func (m *Machine) FixDeliveryEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fixes
}

// Restore sets the state recovered from the mirror at startup. Active
// states turn fix delivery back on; grace states re-arm their deferred
// finish. Listeners are not notified.
func (m *Machine) Restore(s BikingState) {
	if !s.Valid() {
		m.log.Warn("ignoring invalid persisted state", "state", int(s))
		s = NotBiking
	}
	m.mu.Lock()
	m.state = s
	m.fixes = s != NotBiking
	switch s {
	case InGrace:
		m.armLocked(m.epoch.Add(1), m.grace)
	case MovingNotOnBike:
		m.armLocked(m.epoch.Add(1), m.movingGrace)
	}
	m.mu.Unlock()

	m.log.Info("restored state", "state", s)
	if s.InGracePeriod() {
		m.debug.DeferredEnd()
	}
	if s != NotBiking {
		m.setFixDelivery(true)
	}
}

// OnClassification advances the state machine. Tilting and unrecognized
// types are ignored.
func (m *Machine) OnClassification(c Classification) {
	m.debug.Activity(int(c.Type), c.Confidence)
	if c.Type.Ignored() {
		return
	}

	m.mu.Lock()
	prev := m.state
	started, armed := false, false
	switch m.state {
	case NotBiking:
		if c.is(OnBicycle) && c.Confidence >= StrongConfidence {
			m.state = Biking
			m.fixes = true
			started = true
		}
	case Biking:
		armed = m.checkDelayedFinishLocked(c)
	case MovingNotOnBike:
		if c.is(OnBicycle) && c.Confidence >= StrongConfidence {
			m.state = Biking
			m.epoch.Add(1)
		}
	case InGrace:
		if c.is(OnBicycle) && c.Confidence >= WeakConfidence {
			m.state = Biking
			m.epoch.Add(1)
		} else {
			armed = m.checkDelayedFinishLocked(c)
		}
	}
	next := m.state
	m.transitionLocked(prev, next)
	m.mu.Unlock()

	m.log.Debug("activity", "classification", c, "from", prev, "to", next)
	if armed {
		m.debug.DeferredEnd()
	}
	if started {
		m.setFixDelivery(true)
	}
	m.flush()
}

// checkDelayedFinishLocked moves an active trip into one of the grace
// states. The epoch is only bumped when leaving Biking; moving between
// grace states keeps the pending finish valid. It reports whether a
// deferred finish was armed.
func (m *Machine) checkDelayedFinishLocked(c Classification) bool {
	bump := !m.state.InGracePeriod()
	epoch := func() int64 {
		if bump {
			return m.epoch.Add(1)
		}
		return m.epoch.Load()
	}

	switch {
	// Fast riding is often reported as a vehicle, hence the extreme threshold.
	case (c.is(OnFoot) && c.Confidence > StrongConfidence) ||
		(c.is(InVehicle) && c.Confidence > ExtremeConfidence):
		id := epoch()
		m.state = MovingNotOnBike
		m.armLocked(id, m.movingGrace)
		return true
	case (c.is(OnBicycle) && c.Confidence < WeakConfidence) ||
		(!c.is(OnBicycle) && c.Confidence >= StrongConfidence):
		id := epoch()
		if m.state != InGrace {
			m.state = InGrace
			m.armLocked(id, m.grace)
			return true
		}
	}
	return false
}

func (m *Machine) armLocked(id int64, d time.Duration) {
	m.sched.AfterFunc(d, func() { m.deferredFinish(id) })
}

func (m *Machine) deferredFinish(id int64) {
	if m.epoch.Load() != id {
		m.log.Debug("stale deferred finish", "epoch", id)
		return
	}
	m.mu.Lock()
	if m.epoch.Load() != id || !m.state.InGracePeriod() {
		m.mu.Unlock()
		m.log.Debug("stale deferred finish", "epoch", id)
		return
	}
	f := m.finishLocked()
	m.mu.Unlock()
	m.log.Info("grace period expired")
	m.completeFinish(f)
}

// OnFix feeds a location update. Fixes arriving while delivery is off are
// dropped; deltas only count while Biking or InGrace.
func (m *Machine) OnFix(f Fix) {
	m.mu.Lock()
	if !m.fixes {
		m.mu.Unlock()
		m.log.Debug("fix ignored, delivery disabled", "time", f.Timestamp())
		return
	}
	added := m.acc.OnFix(f, m.state.Counting())
	total := m.acc.Distance()
	m.mu.Unlock()

	m.debug.Position(f.Latitude, f.Longitude, added, total)
}

func (m *Machine) carry(f Fix) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.acc.Started() {
		m.acc.Carry(f)
	}
}

// Finish ends the current trip unconditionally.
func (m *Machine) Finish() {
	m.mu.Lock()
	f := m.finishLocked()
	m.mu.Unlock()
	m.completeFinish(f)
}

type finished struct {
	trip trips.BikeTrip
	ok   bool
}

func (m *Machine) finishLocked() finished {
	m.fixes = false
	trip, ok := m.acc.Finish()
	m.acc.Reset()
	m.epoch.Add(1)
	prev := m.state
	m.state = NotBiking
	m.transitionLocked(prev, NotBiking)
	return finished{trip: trip, ok: ok}
}

func (m *Machine) completeFinish(f finished) {
	m.debug.EndTrip()
	m.setFixDelivery(false)
	if f.ok {
		m.debug.NewTrip(f.trip.Duration(), f.trip.Distance)
		m.persist(f.trip)
	} else {
		m.log.Debug("no trip to save")
	}
	if err := m.debug.Commit(); err != nil {
		m.log.Warn("commit trip log", "error", err)
	}
	m.flush()
}

func (m *Machine) setFixDelivery(enabled bool) {
	if enabled {
		m.debug.StartTrip()
	}
	m.location.setEnabled(enabled)
}

func (m *Machine) persist(trip trips.BikeTrip) {
	if m.store == nil {
		m.log.Warn("no trip store, trip dropped", "distance", trip.Distance)
		return
	}
	m.bg.add()
	go func() {
		defer m.bg.done()
		ctx, cancel := context.WithTimeout(context.Background(), m.persistTimeout)
		defer cancel()
		if err := m.store.AddTrip(ctx, &trip); err != nil {
			if errors.Is(err, trips.ErrStorageUnavailable) {
				m.log.Error("trip dropped, storage unavailable", "distance", trip.Distance, "error", err)
			} else {
				m.log.Error("trip dropped", "distance", trip.Distance, "error", err)
			}
			return
		}
		m.log.Info("trip saved", "id", trip.ID, "distance", trip.Distance, "duration", trip.Duration())
		if m.onTrip != nil {
			m.onTrip(trip)
		}
	}()
}

func (m *Machine) transitionLocked(prev, next BikingState) {
	if prev != next {
		m.outbox = append(m.outbox, transition{prev, next})
	}
}

// flush delivers queued transitions. Only one goroutine delivers at a time;
// others, including listeners calling back into the machine, leave their
// transitions to it.
func (m *Machine) flush() {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	for len(m.outbox) > 0 {
		batch := m.outbox
		m.outbox = nil
		listeners := append([]Listener(nil), m.listeners...)
		m.mu.Unlock()

		for _, t := range batch {
			m.log.Info("state changed", "from", t.prev, "to", t.next)
			m.mirrorState()
			for _, l := range listeners {
				l.BikingStateChanged(t.prev, t.next)
			}
		}

		m.mu.Lock()
	}
	m.draining = false
	m.mu.Unlock()
}

// mirrorState writes the live state to the mirror in the background.
// Writers are serialized and each writes the state current at write time,
// so the last write always carries the latest state.
func (m *Machine) mirrorState() {
	if m.mirror == nil {
		return
	}
	m.bg.add()
	go func() {
		defer m.bg.done()
		m.mirrorMu.Lock()
		defer m.mirrorMu.Unlock()
		s := m.State()
		if err := m.mirror.SetCurrentBikingState(int(s)); err != nil {
			m.log.Warn("mirror biking state", "state", s, "error", err)
		}
	}()
}

// Close waits for in-flight trip writes, state mirroring and location
// requests, bounded by ctx. Timers may keep firing while Close waits.
func (m *Machine) Close(ctx context.Context) error {
	if err := m.bg.wait(ctx); err != nil {
		return err
	}
	return m.location.guard.wait(ctx)
}
