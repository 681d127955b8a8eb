// Package telemetry records per-request throughput measurements. A sink is
// optional: the dispatcher always computes a Measurement, but persisting
// it to SQLite is only wired when a sink is configured.
package telemetry

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	_ "github.com/glebarez/sqlite"

	"edgecache/pkg/logger"
)

// Measurement is one dispatcher-side observation of a served segment.
type Measurement struct {
	Timestamp                time.Time
	Username                  string
	SessionID                string
	BytesTimesEight           int64
	RequestTimeSeconds        float64
	MeasuredThroughput        float64
	ClientReportedThroughput  float64
	TrendTerm                 float64
	ForecastTerm              float64
}

// Sink persists Measurements. Record must not block the dispatcher for
// long; callers are expected to call it synchronously but it should be
// backed by a fast, local store.
type Sink interface {
	Record(m Measurement) error
	Close() error
}

// NullSink discards every measurement. It's the default when no telemetry
// database is configured.
type NullSink struct{}

func (NullSink) Record(Measurement) error { return nil }
func (NullSink) Close() error             { return nil }

// createTableStatements is a fixed list of DDL statements executed at
// startup, tolerating "table already exists" so repeated startups are
// idempotent.
var createTableStatements = []string{
	`CREATE TABLE measurements (
		id TEXT PRIMARY KEY,
		ts INTEGER NOT NULL,
		username TEXT NOT NULL,
		session_id TEXT NOT NULL,
		bytes_x8 INTEGER NOT NULL,
		request_time_s REAL NOT NULL,
		measured_throughput REAL NOT NULL,
		client_reported_throughput REAL NOT NULL,
		trend_term REAL NOT NULL,
		forecast_term REAL NOT NULL
	)`,
}

// SQLiteSink persists Measurements to a SQLite database via the pure-Go
// glebarez/sqlite driver (no cgo).
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLiteSink opens (creating if absent) the SQLite database at path
// and ensures the measurements table exists.
func OpenSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry db: %w", err)
	}

	for _, stmt := range createTableStatements {
		if _, err := db.Exec(stmt); err != nil {
			if isAlreadyExists(err) {
				continue
			}
			db.Close()
			return nil, fmt.Errorf("create telemetry table: %w", err)
		}
	}

	return &SQLiteSink{db: db}, nil
}

func isAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(err.Error(), "already exists")
}

func containsAny(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// Record inserts one measurement row, IDed with a ULID so rows sort by
// insertion time without a separate autoincrement column.
func (s *SQLiteSink) Record(m Measurement) error {
	id, err := ulid.New(ulid.Timestamp(m.Timestamp), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate measurement id: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO measurements
			(id, ts, username, session_id, bytes_x8, request_time_s,
			 measured_throughput, client_reported_throughput, trend_term, forecast_term)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), m.Timestamp.Unix(), m.Username, m.SessionID, m.BytesTimesEight,
		m.RequestTimeSeconds, m.MeasuredThroughput, m.ClientReportedThroughput,
		m.TrendTerm, m.ForecastTerm,
	)
	if err != nil {
		logger.Error("telemetry: failed to record measurement", "err", err)
		return err
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
