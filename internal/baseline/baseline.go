// Package baseline defines the persistence contract for learned login
// baselines. A baseline is the duration, in milliseconds, of a known-good
// successful login for a given timer name. Drivers (file, sqlite) implement
// Store; the normalizer only ever reads records or proposes new values.
package baseline

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Read when no baseline has been learned yet
	// for the given name. Callers treat this as "baseline 0".
	ErrNotFound = errors.New("baseline: not found")
)

// Record is a single learned baseline. UpdatedAt is the last time the value
// was written and drives the save throttle; how it is derived (file mtime vs
// a stored column) is a driver concern.
type Record struct {
	Millis    float64
	UpdatedAt time.Time
}

// Store is the data access interface for baselines. Implementations must
// support concurrent readers and mutually exclusive writers: a Read that
// races a Write must observe either the old or the new value, never a
// partial one.
type Store interface {
	// Read returns the record for name, or ErrNotFound if none exists.
	// A record that exists but cannot be parsed is returned with Millis 0
	// rather than an error, since the value is regenerated on the next save.
	Read(ctx context.Context, name string) (Record, error)

	// Write persists millis under name, overwriting any prior record. The
	// write is exclusive against other writers for the same store.
	Write(ctx context.Context, name string, millis float64) error

	// Delete removes the record for name so the next successful login
	// relearns from scratch, free of the save throttle. Returns ErrNotFound
	// if no record exists.
	Delete(ctx context.Context, name string) error

	// EnsureNamespace creates the storage location for all records of this
	// store. Idempotent; called on install and at startup.
	EnsureNamespace(ctx context.Context) error

	// DestroyNamespace removes the storage location and every record in it.
	// Idempotent; called on uninstall.
	DestroyNamespace(ctx context.Context) error

	// Close releases any underlying resources.
	Close() error
}
