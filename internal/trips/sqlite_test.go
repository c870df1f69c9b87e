package trips

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
)

// testStore opens a fresh SQLite trip store in a temp dir.
func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "trips.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustAdd(t *testing.T, s Store, trip BikeTrip) BikeTrip {
	t.Helper()
	if err := s.AddTrip(context.Background(), &trip); err != nil {
		t.Fatalf("AddTrip() error: %v", err)
	}
	return trip
}

func TestAddTrip(t *testing.T) {
	s := testStore(t)
	now := time.Now()

	a := mustAdd(t, s, BikeTrip{Distance: 900, StartTime: now.Add(-time.Hour), EndTime: now})
	b := mustAdd(t, s, BikeTrip{Distance: 800, StartTime: now.Add(-2 * time.Hour), EndTime: now})

	if _, err := os.Stat(s.Path()); err != nil {
		t.Fatalf("database file missing: %v", err)
	}
	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 trips, got %d", n)
	}
	if a.ID <= 0 || b.ID <= a.ID {
		t.Errorf("expected increasing ids, got %d then %d", a.ID, b.ID)
	}
}

func TestTripsCommittedAfterEmpty(t *testing.T) {
	s := testStore(t)
	got, err := s.TripsCommittedAfter(context.Background(), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected an empty slice, got nil")
	}
	if len(got) != 0 {
		t.Errorf("expected no trips, got %s", spew.Sdump(got))
	}
}

func TestTripsCommittedAfterUsesCommitTime(t *testing.T) {
	s := testStore(t)
	now := time.Now()

	// Recent ride, committed long ago: excluded.
	mustAdd(t, s, BikeTrip{
		Distance:   1200,
		StartTime:  now.Add(-50 * time.Minute),
		EndTime:    now.Add(-40 * time.Minute),
		CommitTime: now.Add(-3 * time.Hour),
	})
	// Old ride, committed just now: included.
	mustAdd(t, s, BikeTrip{
		Distance:  1400,
		StartTime: now.AddDate(0, 0, -30),
		EndTime:   now.AddDate(0, 0, -30).Add(time.Hour),
	})

	got, err := s.TripsCommittedAfter(context.Background(), now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Distance != 1400 {
		t.Fatalf("expected only the 1400m trip, got %s", spew.Sdump(got))
	}
}

func TestCommitTimeStamped(t *testing.T) {
	s := testStore(t)
	before := time.Now()
	trip := mustAdd(t, s, BikeTrip{Distance: 10, StartTime: before.Add(-time.Minute), EndTime: before})

	if d := trip.CommitTime.Sub(before); d < -time.Second || d > 5*time.Second {
		t.Errorf("commit time %v too far from insertion time %v", trip.CommitTime, before)
	}
	if trip.CommitTime.Location() != time.UTC {
		t.Errorf("expected UTC commit time, got %v", trip.CommitTime.Location())
	}
}

func TestRoundTrip(t *testing.T) {
	s := testStore(t)
	paris := time.FixedZone("CEST", 2*3600)
	start := time.Date(2014, 4, 18, 8, 15, 30, 123_000_000, paris)
	in := BikeTrip{Distance: 4321.5, StartTime: start, EndTime: start.Add(37 * time.Minute)}
	mustAdd(t, s, in)

	got, err := s.TripsCommittedAfter(context.Background(), time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one trip, got %s", spew.Sdump(got))
	}
	out := got[0]
	if out.Distance != in.Distance || !out.StartTime.Equal(in.StartTime) || !out.EndTime.Equal(in.EndTime) {
		t.Errorf("round trip mismatch:\nin  %s\nout %s", spew.Sdump(in), spew.Sdump(out))
	}
	if out.StartTime.Location() != time.UTC || out.EndTime.Location() != time.UTC {
		t.Errorf("expected UTC instants, got %v / %v", out.StartTime.Location(), out.EndTime.Location())
	}
}

func TestSumDistanceByIndex(t *testing.T) {
	s := testStore(t)
	base := time.Date(2014, 4, 1, 0, 0, 0, 0, time.UTC)

	// Start times and commit times deliberately disagree.
	var all []BikeTrip
	for i := 0; i < 8; i++ {
		start := base.Add(time.Duration(i) * 24 * time.Hour)
		all = append(all, mustAdd(t, s, BikeTrip{
			Distance:   float64(100 * (i + 1)),
			StartTime:  start,
			EndTime:    start.Add(30 * time.Minute),
			CommitTime: base.Add(time.Duration(7-i) * 24 * time.Hour).Add(time.Hour),
		}))
	}

	windows := []Window{
		Since(ByStart, base.AddDate(0, 0, 3)),
		Between(ByStart, base.AddDate(0, 0, 2), base.AddDate(0, 0, 5)),
		Since(ByCommit, base.AddDate(0, 0, 3)),
		Between(ByCommit, base.AddDate(0, 0, 2), base.AddDate(0, 0, 5)),
		Since(ByStart, base.AddDate(1, 0, 0)),
	}
	for i, w := range windows {
		want := 0.0
		for _, trip := range all {
			at := trip.StartTime
			if w.Index == ByCommit {
				at = trip.CommitTime
			}
			if !at.Before(w.From) && (w.To.IsZero() || at.Before(w.To)) {
				want += trip.Distance
			}
		}
		got, err := s.SumDistance(context.Background(), w)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("Test case %d (%s) failed: expected %v, got %v", i, w.Index, want, got)
		}
	}
}

func TestAggregatesOnEmptyWindow(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	w := Since(ByStart, time.Now().Add(-time.Hour))

	for name, fn := range map[string]func(context.Context, Window) (float64, error){
		"sum":  s.SumDistance,
		"max":  s.MaxDistance,
		"mean": s.MeanDistance,
	} {
		v, err := fn(ctx, w)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if v != 0 {
			t.Errorf("%s: expected 0, got %v", name, v)
		}
	}
	avg, err := DailyAverage(ctx, s, w, 3)
	if err != nil || avg != 0 {
		t.Errorf("daily average: expected 0, got %v (%v)", avg, err)
	}
}

func TestMaxMeanDailyAverage(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	day := time.Date(2014, 4, 18, 0, 0, 0, 0, time.UTC)
	for _, d := range []float64{300, 900, 600} {
		mustAdd(t, s, BikeTrip{Distance: d, StartTime: day.Add(8 * time.Hour), EndTime: day.Add(9 * time.Hour)})
	}
	w := Between(ByStart, day, day.AddDate(0, 0, 1))

	if v, _ := s.MaxDistance(ctx, w); v != 900 {
		t.Errorf("max: expected 900, got %v", v)
	}
	if v, _ := s.MeanDistance(ctx, w); v != 600 {
		t.Errorf("mean: expected 600, got %v", v)
	}
	if v, _ := DailyAverage(ctx, s, w, 3); v != 600 {
		t.Errorf("daily average: expected 600, got %v", v)
	}
	if v, _ := DailyAverage(ctx, s, w, 0); v != 0 {
		t.Errorf("daily average over zero days: expected 0, got %v", v)
	}
	ds, err := s.Distances(ctx, w)
	if err != nil || len(ds) != 3 {
		t.Errorf("distances: expected 3 values, got %v (%v)", ds, err)
	}
}

func TestClearDoesNotReuseIDs(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()
	first := mustAdd(t, s, BikeTrip{Distance: 1, StartTime: now, EndTime: now})
	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.Count(ctx); n != 0 {
		t.Fatalf("expected empty store after Clear, got %d", n)
	}
	second := mustAdd(t, s, BikeTrip{Distance: 1, StartTime: now, EndTime: now})
	if second.ID <= first.ID {
		t.Errorf("expected id after clear > %d, got %d", first.ID, second.ID)
	}
}

func TestAddTripRejectsInvalid(t *testing.T) {
	s := testStore(t)
	now := time.Now()
	for i, trip := range []BikeTrip{
		{Distance: -1, StartTime: now, EndTime: now},
		{Distance: 10, StartTime: now, EndTime: now.Add(-time.Minute)},
	} {
		if err := s.AddTrip(context.Background(), &trip); !errors.Is(err, ErrInvalidTrip) {
			t.Errorf("Test case %d failed: expected ErrInvalidTrip, got %v", i, err)
		}
	}
}

func TestStorageUnavailable(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "trips.db"))
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	now := time.Now()
	err = s.AddTrip(context.Background(), &BikeTrip{Distance: 5, StartTime: now, EndTime: now})
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("expected ErrStorageUnavailable, got %v", err)
	}
	if _, err := s.SumDistance(context.Background(), Since(ByStart, now)); !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestConcurrentWritesAndReads(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if err := s.AddTrip(ctx, &BikeTrip{Distance: 10, StartTime: now, EndTime: now}); err != nil {
					errs <- err
				}
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if _, err := s.SumDistance(ctx, Since(ByStart, now.Add(-time.Hour))); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if sum, _ := s.SumDistance(ctx, Since(ByStart, now.Add(-time.Hour))); sum != 400 {
		t.Errorf("expected 400m, got %v", sum)
	}
}
