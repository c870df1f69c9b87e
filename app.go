package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rotblauer/catbike/internal/config"
	"github.com/rotblauer/catbike/internal/prefs"
	"github.com/rotblauer/catbike/internal/stats"
	"github.com/rotblauer/catbike/internal/trips"
)

// app holds the stores a command works against.
type app struct {
	cfg     *config.Config
	store   trips.Store
	backend prefs.Backend
	prefs   *prefs.Preferences
	engine  *stats.Engine

	closers []func() error
}

func openApp(ctx context.Context, c *config.Config) (*app, error) {
	cal, err := c.PeriodCalendar()
	if err != nil {
		return nil, err
	}
	idx, err := c.StatsIndex()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: c}
	store, err := trips.Open(ctx, c.TripStoreOptions())
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	backend, closeBackend, err := openPrefsBackend(ctx, c.Prefs)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.backend = backend
	a.closers = append(a.closers, closeBackend)

	a.prefs = prefs.New(backend, cal)
	a.prefs.UseMiles = c.Units.Miles
	a.engine = stats.New(store, cal)
	a.engine.Index = idx
	return a, nil
}

// Close releases everything in reverse opening order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openPrefsBackend returns the configured preference backend and a func
// releasing it together with any connection it owns.
func openPrefsBackend(ctx context.Context, c config.PrefsConfig) (prefs.Backend, func() error, error) {
	switch c.Backend {
	case "memory":
		m := prefs.NewMemory()
		return m, m.Close, nil
	case "redis":
		client := prefs.ConnectRedis(c.RedisAddr, c.RedisPassword, c.RedisDB)
		r, err := prefs.NewRedis(ctx, client, c.Namespace)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return r, closeRedis(r, client), nil
	case "file", "":
		f, err := prefs.OpenFile(c.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open preferences: %w", err)
		}
		return f, f.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown preference backend %q", c.Backend)
}

func closeRedis(r *prefs.Redis, client *redis.Client) func() error {
	return func() error {
		return errors.Join(r.Close(), client.Close())
	}
}
