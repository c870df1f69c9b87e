package tracker

import (
	"context"
	"log/slog"
	"time"
)

type Priority int

const (
	PriorityHighAccuracy Priority = iota
	PriorityBalanced
	PriorityLowPower
)

// LocationRequest configures fix delivery.
type LocationRequest struct {
	Interval             time.Duration
	FastestInterval      time.Duration
	SmallestDisplacement float64 // meters
	Priority             Priority
}

var DefaultLocationRequest = LocationRequest{
	Interval:             5 * time.Second,
	FastestInterval:      2 * time.Second,
	SmallestDisplacement: 5,
	Priority:             PriorityHighAccuracy,
}

// LocationSource delivers fixes while started. Start may return the last
// known fix (ok set), which seeds the trip's first segment.
type LocationSource interface {
	Start(ctx context.Context, req LocationRequest) (last Fix, ok bool, err error)
	Stop(ctx context.Context) error
}

// locationGate turns fix delivery on and off through the request guard.
type locationGate struct {
	src   LocationSource
	req   LocationRequest
	carry func(Fix)
	log   *slog.Logger
	guard requestGuard
}

func newLocationGate(src LocationSource, req LocationRequest, carry func(Fix)) *locationGate {
	if src == nil {
		src = nopLocationSource{}
	}
	g := &locationGate{
		src:   src,
		req:   req,
		carry: carry,
		log:   slog.Default().With("component", "location"),
	}
	g.guard = requestGuard{
		apply:   g.apply,
		timeout: 30 * time.Second,
		log:     g.log,
	}
	return g
}

func (g *locationGate) setEnabled(enabled bool) {
	g.guard.set(enabled, false)
}

func (g *locationGate) apply(ctx context.Context, r request) error {
	if r == requestStop {
		g.log.Info("finished location updates")
		return g.src.Stop(ctx)
	}
	last, ok, err := g.src.Start(ctx, g.req)
	if err != nil {
		return err
	}
	g.log.Info("requested location updates", "interval", g.req.Interval, "last_known", ok)
	if ok && g.carry != nil {
		g.carry(last)
	}
	return nil
}

type nopLocationSource struct{}

func (nopLocationSource) Start(context.Context, LocationRequest) (Fix, bool, error) {
	return Fix{}, false, nil
}

func (nopLocationSource) Stop(context.Context) error { return nil }
