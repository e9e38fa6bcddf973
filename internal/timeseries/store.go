// Package timeseries is the collector's persistence layer: a TimescaleDB
// database accessed through one shared pgx pool. It owns the schema
// (hypertables, retention, compression, continuous aggregates), idempotent
// sample inserts, the bounded per-device log windows, and every query the
// alert engine and read adapter consume.
package timeseries

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Store wraps the shared connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database. The pool is sized for the polling fan-out:
// min 2 connections, max deviceCount+4.
func New(ctx context.Context, dsn string, deviceCount int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}
	cfg.MinConns = 2
	cfg.MaxConns = int32(deviceCount + 4)
	if cfg.MaxConns < cfg.MinConns {
		cfg.MaxConns = cfg.MinConns
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	log.Info().
		Int32("minConns", cfg.MinConns).
		Int32("maxConns", cfg.MaxConns).
		Msg("Connected to time-series store")
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// scannableRows is the subset of pgx.Rows the row scanners need; tests feed
// them fakes.
type scannableRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// pgInterval renders a duration as a Postgres interval literal. Duration's
// own String emits unit forms like "500ms" that ::interval rejects, so
// express everything in seconds.
func pgInterval(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + " seconds"
}

// isNoRows reports whether err means the query matched nothing.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// nullString maps "" to SQL NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isDuplicateKey reports whether err is a unique-constraint violation
// (SQLSTATE 23505), the signal behind idempotent inserts.
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isAlreadyExists matches the "already exists" family of DDL errors the
// idempotent schema installer tolerates.
func isAlreadyExists(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "42P07", // duplicate_table
		"42710", // duplicate_object
		"42P16", // invalid_table_definition (hypertable already converted)
		"42701", // duplicate_column
		"23505": // duplicate key in policy catalogs
		return true
	}
	return false
}
