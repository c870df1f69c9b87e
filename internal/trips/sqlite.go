package trips

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS bike_trips (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		"start" INTEGER NOT NULL,
		"end" INTEGER NOT NULL,
		"commit" INTEGER NOT NULL,
		distance REAL NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bike_trips_start ON bike_trips ("start")`,
	`CREATE INDEX IF NOT EXISTS idx_bike_trips_commit ON bike_trips ("commit")`,
}

// SQLiteStore keeps the trip log in a single SQLite file. Concurrent writers
// are serialized by SQLite itself; every operation runs on its own pooled
// connection.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// OpenSQLite opens (creating if needed) the trip database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, unavailable("create database directory", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, unavailable("open "+path, err)
	}
	s := &SQLiteStore{db: db, path: path, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) migrate(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return unavailable("migrate", err)
		}
	}
	return nil
}

func sqlitePlaceholder(int) string { return "?" }

func (s *SQLiteStore) AddTrip(ctx context.Context, trip *BikeTrip) error {
	if err := trip.normalize(s.now()); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO bike_trips ("start", "end", "commit", distance) VALUES (?, ?, ?, ?)`,
		toMillis(trip.StartTime), toMillis(trip.EndTime), toMillis(trip.CommitTime), trip.Distance)
	if err != nil {
		return unavailable("insert trip", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return unavailable("insert trip id", err)
	}
	trip.ID = id
	return nil
}

func (s *SQLiteStore) TripsCommittedAfter(ctx context.Context, t time.Time) ([]BikeTrip, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, "start", "end", "commit", distance FROM bike_trips WHERE "commit" >= ?`, toMillis(t))
	if err != nil {
		return nil, unavailable("query trips", err)
	}
	defer func() { _ = rows.Close() }()

	out := []BikeTrip{}
	for rows.Next() {
		var (
			trip                 BikeTrip
			start, end, commitMs int64
		)
		if err := rows.Scan(&trip.ID, &start, &end, &commitMs, &trip.Distance); err != nil {
			return nil, unavailable("scan trip", err)
		}
		trip.StartTime, trip.EndTime, trip.CommitTime = fromMillis(start), fromMillis(end), fromMillis(commitMs)
		out = append(out, trip)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate trips", err)
	}
	return out, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bike_trips`).Scan(&n); err != nil {
		return 0, unavailable("count trips", err)
	}
	return n, nil
}

func (s *SQLiteStore) aggregate(ctx context.Context, fn string, w Window) (float64, error) {
	cond, args := w.where(sqlitePlaceholder)
	q := fmt.Sprintf(`SELECT IFNULL(%s(distance), 0) FROM bike_trips WHERE %s`, fn, cond)
	var v float64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&v); err != nil {
		return 0, unavailable(fn+" distance", err)
	}
	return v, nil
}

func (s *SQLiteStore) SumDistance(ctx context.Context, w Window) (float64, error) {
	return s.aggregate(ctx, "SUM", w)
}

func (s *SQLiteStore) MaxDistance(ctx context.Context, w Window) (float64, error) {
	return s.aggregate(ctx, "MAX", w)
}

func (s *SQLiteStore) MeanDistance(ctx context.Context, w Window) (float64, error) {
	return s.aggregate(ctx, "AVG", w)
}

func (s *SQLiteStore) Distances(ctx context.Context, w Window) ([]float64, error) {
	cond, args := w.where(sqlitePlaceholder)
	rows, err := s.db.QueryContext(ctx, `SELECT distance FROM bike_trips WHERE `+cond, args...)
	if err != nil {
		return nil, unavailable("query distances", err)
	}
	defer func() { _ = rows.Close() }()

	out := []float64{}
	for rows.Next() {
		var d float64
		if err := rows.Scan(&d); err != nil {
			return nil, unavailable("scan distance", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate distances", err)
	}
	return out, nil
}

// Clear deletes every trip. Ids are not reused afterwards.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bike_trips`); err != nil {
		return unavailable("clear trips", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
