package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgCreateTable = `CREATE TABLE IF NOT EXISTS occupancy_events (
	id           BIGSERIAL PRIMARY KEY,
	ts           TIMESTAMPTZ NOT NULL,
	mass_grams   NUMERIC(10, 2) NOT NULL,
	kind         TEXT NOT NULL,
	health_level DOUBLE PRECISION,
	device_id    TEXT
)`
	pgInsert = `INSERT INTO occupancy_events (ts, mass_grams, kind, health_level, device_id) VALUES ($1, $2, $3, $4, $5)`

	pgTimeout = 5 * time.Second
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSink inserts every record into a PostgreSQL table
type PostgresSink struct {
	db       execer
	close    func(ctx context.Context) error
	deviceID string
}

// DialPostgres connects to the database and ensures the events table exists
func DialPostgres(ctx context.Context, url, deviceID string) (*PostgresSink, error) {
	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &PostgresSink{
		db:       conn,
		close:    conn.Close,
		deviceID: deviceID,
	}
	if err := s.migrate(ctx); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}

	return s, nil
}

// Record inserts the record
func (s *PostgresSink) Record(rec Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), pgTimeout)
	defer cancel()

	var deviceID any
	if s.deviceID != "" {
		deviceID = s.deviceID
	}

	if _, err := s.db.Exec(ctx, pgInsert, rec.Timestamp, rec.Mass, rec.Kind.String(), rec.Health, deviceID); err != nil {
		return fmt.Errorf("failed to insert %s event: %w", rec.Kind, err)
	}
	return nil
}

// Flush is a no-op, every insert is committed immediately
func (s *PostgresSink) Flush() error {
	return nil
}

// Close terminates the database connection
func (s *PostgresSink) Close() error {
	if s.close == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), pgTimeout)
	defer cancel()
	return s.close(ctx)
}

func (s *PostgresSink) migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, pgCreateTable); err != nil {
		return fmt.Errorf("failed to create events table: %w", err)
	}
	return nil
}
