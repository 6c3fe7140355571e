// Package store provides the disk-backed key/value stores that the
// large-object cache spills to.
//
// Each record holds the wire encoding of one cached payload together with
// its discriminator and the time it was last written. Stores never
// interpret the payload bytes.
//
// Implementations:
//   - MemStore: in-process map, for tests and cache-less deployments
//   - SQLiteStore: single-file database, the default
//   - MySQLStore: shared database for deployments that already run MySQL
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested id does not exist or has expired.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("store is closed")

// Record is one persisted cache entry.
type Record struct {
	// ID is the payload id the entry is keyed by.
	ID string

	// DType is the payload discriminator used to decode Payload.
	DType string

	// Payload is the wire encoding of the native value.
	Payload []byte

	// Timestamp is the time the entry was written.
	Timestamp time.Time
}

// Store persists cache records.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Put inserts or replaces records in a single transaction where the
	// backend supports one.
	Put(ctx context.Context, records ...Record) error

	// Get returns the record for id, or ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)

	// DeleteOlderThan removes every record written before cutoff and
	// returns the number removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// Len returns the number of stored records.
	Len(ctx context.Context) (int, error)

	// Close releases the underlying resources.
	Close() error
}
