package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type request int

const (
	requestNone request = iota
	requestStart
	requestStop
)

func (r request) String() string {
	switch r {
	case requestStart:
		return "start"
	case requestStop:
		return "stop"
	}
	return "none"
}

func requestFor(enabled bool) request {
	if enabled {
		return requestStart
	}
	return requestStop
}

// requestGuard serializes start/stop requests to an external source. At
// most one request is in flight. Requests made meanwhile only record the
// desired outcome, applied once the in-flight request returns if it differs.
type requestGuard struct {
	apply   func(ctx context.Context, r request) error
	timeout time.Duration
	log     *slog.Logger

	mu      sync.Mutex
	pending request
	want    request
	stale   bool

	running inflight
}

// set records the desired direction. changed marks a parameter change that
// needs re-applying even when the direction is the same.
func (g *requestGuard) set(enabled, changed bool) {
	g.mu.Lock()
	g.want = requestFor(enabled)
	if g.pending != requestNone {
		if changed || g.want != g.pending {
			g.stale = true
		}
		pending, want := g.pending, g.want
		g.mu.Unlock()
		g.log.Debug("request in flight", "pending", pending, "want", want)
		return
	}
	g.pending = g.want
	g.running.add()
	g.mu.Unlock()

	go g.loop()
}

func (g *requestGuard) loop() {
	defer g.running.done()
	for {
		g.mu.Lock()
		r := g.pending
		g.stale = false
		g.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
		err := g.apply(ctx, r)
		cancel()
		if err != nil {
			g.log.Warn("request failed", "request", r, "error", err)
		}

		g.mu.Lock()
		if g.stale {
			g.pending = g.want
			g.mu.Unlock()
			continue
		}
		g.pending = requestNone
		g.mu.Unlock()
		return
	}
}

func (g *requestGuard) inFlight() request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

func (g *requestGuard) wait(ctx context.Context) error {
	return g.running.wait(ctx)
}

// inflight counts background goroutines. Unlike a WaitGroup, add may race
// wait; wait returns once the count drops to zero.
type inflight struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func (f *inflight) add() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n == 0 {
		f.idle = make(chan struct{})
	}
	f.n++
}

func (f *inflight) done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n--
	if f.n == 0 {
		close(f.idle)
	}
}

func (f *inflight) wait(ctx context.Context) error {
	f.mu.Lock()
	if f.n == 0 {
		f.mu.Unlock()
		return nil
	}
	idle := f.idle
	f.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
