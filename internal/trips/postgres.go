package trips

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier represents the minimal database operations the Postgres store uses.
// Both *pgxpool.Pool and pgxmock pools satisfy this interface.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS bike_trips (
		id BIGSERIAL PRIMARY KEY,
		"start" BIGINT NOT NULL,
		"end" BIGINT NOT NULL,
		"commit" BIGINT NOT NULL,
		distance DOUBLE PRECISION NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bike_trips_start ON bike_trips ("start")`,
	`CREATE INDEX IF NOT EXISTS idx_bike_trips_commit ON bike_trips ("commit")`,
}

// ConnectPostgres opens a pool and pings it.
func ConnectPostgres(ctx context.Context, url string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, unavailable("connect postgres", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, unavailable("ping postgres", err)
	}
	return pool, nil
}

// PostgresStore keeps the trip log in a PostgreSQL table.
type PostgresStore struct {
	db    Querier
	now   func() time.Time
	close func()
}

func NewPostgresStore(db Querier) *PostgresStore {
	s := &PostgresStore{db: db, now: time.Now}
	if pool, ok := db.(*pgxpool.Pool); ok {
		s.close = pool.Close
	}
	return s
}

// Migrate creates the trip table and its indexes.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return unavailable("migrate", err)
		}
	}
	return nil
}

func postgresPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

func (s *PostgresStore) AddTrip(ctx context.Context, trip *BikeTrip) error {
	if err := trip.normalize(s.now()); err != nil {
		return err
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO bike_trips ("start", "end", "commit", distance)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`, toMillis(trip.StartTime), toMillis(trip.EndTime), toMillis(trip.CommitTime), trip.Distance)
	if err := row.Scan(&trip.ID); err != nil {
		return unavailable("insert trip", err)
	}
	return nil
}

func (s *PostgresStore) TripsCommittedAfter(ctx context.Context, t time.Time) ([]BikeTrip, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, "start", "end", "commit", distance
		FROM bike_trips WHERE "commit" >= $1
	`, toMillis(t))
	if err != nil {
		return nil, unavailable("query trips", err)
	}
	defer rows.Close()

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

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM bike_trips`).Scan(&n); err != nil {
		return 0, unavailable("count trips", err)
	}
	return n, nil
}

func (s *PostgresStore) aggregate(ctx context.Context, fn string, w Window) (float64, error) {
	cond, args := w.where(postgresPlaceholder)
	q := fmt.Sprintf(`SELECT COALESCE(%s(distance), 0) FROM bike_trips WHERE %s`, fn, cond)
	var v float64
	if err := s.db.QueryRow(ctx, q, args...).Scan(&v); err != nil {
		return 0, unavailable(fn+" distance", err)
	}
	return v, nil
}

func (s *PostgresStore) SumDistance(ctx context.Context, w Window) (float64, error) {
	return s.aggregate(ctx, "SUM", w)
}

func (s *PostgresStore) MaxDistance(ctx context.Context, w Window) (float64, error) {
	return s.aggregate(ctx, "MAX", w)
}

func (s *PostgresStore) MeanDistance(ctx context.Context, w Window) (float64, error) {
	return s.aggregate(ctx, "AVG", w)
}

func (s *PostgresStore) Distances(ctx context.Context, w Window) ([]float64, error) {
	cond, args := w.where(postgresPlaceholder)
	rows, err := s.db.Query(ctx, `SELECT distance FROM bike_trips WHERE `+cond, args...)
	if err != nil {
		return nil, unavailable("query distances", err)
	}
	defer rows.Close()

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

func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM bike_trips`); err != nil {
		return unavailable("clear trips", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}
