// Package sqlite implements baseline.Store on a SQLite database. Unlike the
// file driver it stores the last-updated timestamp in a column instead of
// leaning on filesystem metadata, which makes the save throttle independent
// of the storage medium.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/lockstep/internal/baseline"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

var _ baseline.Store = (*Store)(nil)

// NewStore opens (or creates) the SQLite database at dsn. Call
// EnsureNamespace before first use to apply migrations.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", dsn, err)
	}

	// A single writer connection keeps the upsert below serialized without
	// SQLITE_BUSY juggling; reads share the same connection pool.
	db.SetMaxOpenConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Read(ctx context.Context, name string) (baseline.Record, error) {
	var (
		millis    float64
		updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT millis, updated_at FROM baselines WHERE name = ?`, name,
	).Scan(&millis, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return baseline.Record{}, baseline.ErrNotFound
		}
		return baseline.Record{}, fmt.Errorf("sqlite: read baseline %q: %w", name, err)
	}

	return baseline.Record{Millis: millis, UpdatedAt: updatedAt}, nil
}

func (s *Store) Write(ctx context.Context, name string, millis float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO baselines (name, millis, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET millis = excluded.millis, updated_at = excluded.updated_at`,
		name, millis, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: write baseline %q: %w", name, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM baselines WHERE name = ?`, name,
	)
	if err != nil {
		return fmt.Errorf("sqlite: delete baseline %q: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return baseline.ErrNotFound
	}
	return nil
}

// EnsureNamespace applies all pending migrations, creating the baselines
// table on first run. Safe to call repeatedly.
func (s *Store) EnsureNamespace(_ context.Context) error {
	return s.migrate(migrateUp)
}

// DestroyNamespace rolls every migration back, dropping the baselines table
// and its records. Safe to call repeatedly.
func (s *Store) DestroyNamespace(_ context.Context) error {
	return s.migrate(migrateDown)
}

func (s *Store) Close() error { return s.db.Close() }
