package trips

import (
	"context"
	"fmt"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options selects and locates a Store backend.
type Options struct {
	Driver      string
	Path        string // sqlite database file
	PostgresURL string
}

// Open returns the Store configured by opts, schema applied.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", DriverSQLite:
		return OpenSQLite(opts.Path)
	case DriverPostgres:
		pool, err := ConnectPostgres(ctx, opts.PostgresURL)
		if err != nil {
			return nil, err
		}
		s := NewPostgresStore(pool)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown trip store driver %q", opts.Driver)
}
