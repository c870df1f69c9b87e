// Package trips persists finished bike trips and answers the range and
// aggregate queries the statistics views are built from.
package trips

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrStorageUnavailable wraps every failure to open, read or write the
	// underlying store. Callers get a single attempt; nothing is retried.
	ErrStorageUnavailable = errors.New("trip storage unavailable")

	// ErrInvalidTrip is returned by AddTrip for a negative distance or a trip
	// ending before it started.
	ErrInvalidTrip = errors.New("invalid trip")
)

// BikeTrip is a persisted ride.
// All instants are UTC once the trip went through a Store.
type BikeTrip struct {
	ID         int64     `json:"id"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	CommitTime time.Time `json:"commit_time"`
	Distance   float64   `json:"distance"` // meters
}

// Duration is EndTime - StartTime.
func (t BikeTrip) Duration() time.Duration {
	return t.EndTime.Sub(t.StartTime)
}

// normalize converts the trip instants to UTC and stamps an unset commit
// time with now.
func (t *BikeTrip) normalize(now time.Time) error {
	if t.Distance < 0 || math.IsNaN(t.Distance) || math.IsInf(t.Distance, 0) {
		return fmt.Errorf("%w: distance %v", ErrInvalidTrip, t.Distance)
	}
	if t.EndTime.Before(t.StartTime) {
		return fmt.Errorf("%w: ends %s before it starts %s", ErrInvalidTrip,
			t.EndTime.Format(time.RFC3339), t.StartTime.Format(time.RFC3339))
	}
	t.StartTime = t.StartTime.UTC()
	t.EndTime = t.EndTime.UTC()
	if t.CommitTime.IsZero() {
		t.CommitTime = now
	}
	t.CommitTime = t.CommitTime.UTC()
	return nil
}

// Index selects which instant a Window filters on.
type Index int

const (
	// ByStart filters on the trip start, the historical statistics query.
	ByStart Index = iota
	// ByCommit filters on the commit time.
	ByCommit
)

func (i Index) String() string {
	switch i {
	case ByStart:
		return "start"
	case ByCommit:
		return "commit"
	}
	return "unknown"
}

func (i Index) column() string {
	if i == ByCommit {
		return `"commit"`
	}
	return `"start"`
}

// Window is the half-open range [From, To) over the chosen Index.
// A zero To leaves the range open ended.
type Window struct {
	Index Index
	From  time.Time
	To    time.Time
}

// Since is the open ended window starting at from.
func Since(idx Index, from time.Time) Window {
	return Window{Index: idx, From: from}
}

// Between is the window [from, to).
func Between(idx Index, from, to time.Time) Window {
	return Window{Index: idx, From: from, To: to}
}

// where renders the window as a SQL condition. placeholder renders the n-th
// (1-based) bind parameter for the dialect.
func (w Window) where(placeholder func(n int) string) (string, []any) {
	col := w.Index.column()
	clause := fmt.Sprintf("%s >= %s", col, placeholder(1))
	args := []any{toMillis(w.From)}
	if !w.To.IsZero() {
		clause += fmt.Sprintf(" AND %s < %s", col, placeholder(2))
		args = append(args, toMillis(w.To))
	}
	return clause, args
}

// Store is the append-only trip log.
//
// Aggregates over empty windows return 0, never an error or a null.
type Store interface {
	AddTrip(ctx context.Context, trip *BikeTrip) error
	TripsCommittedAfter(ctx context.Context, t time.Time) ([]BikeTrip, error)
	Count(ctx context.Context) (int64, error)
	SumDistance(ctx context.Context, w Window) (float64, error)
	MaxDistance(ctx context.Context, w Window) (float64, error)
	MeanDistance(ctx context.Context, w Window) (float64, error)
	Distances(ctx context.Context, w Window) ([]float64, error)
	Clear(ctx context.Context) error
	Close() error
}

// DailyAverage is SumDistance(w) / days. The day count is taken as given:
// a count inconsistent with w silently yields a wrong average.
func DailyAverage(ctx context.Context, s Store, w Window, days int) (float64, error) {
	if days <= 0 {
		return 0, nil
	}
	sum, err := s.SumDistance(ctx, w)
	if err != nil {
		return 0, err
	}
	return sum / float64(days), nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
