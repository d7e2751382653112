// Package storage persists the non-sensitive wallet state: wallet metadata,
// networks, mini-app manifests, mini-app data and settings. Every value is
// a typed, schema-versioned record; secrets never pass through here.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Delete when the record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrCorruptRecord is returned when a stored record cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrUnsupportedSchema is returned for records written by a newer schema.
	ErrUnsupportedSchema = errors.New("unsupported record schema version")
)

// Record is one stored value inside a collection.
type Record struct {
	ID            string
	SchemaVersion int
	Data          []byte
	UpdatedAt     time.Time
}

// Backend is the physical store behind the typed repositories.
type Backend interface {
	Put(ctx context.Context, collection string, rec Record) error
	// Get returns found=false when the record does not exist.
	Get(ctx context.Context, collection, id string) (rec Record, found bool, err error)
	Delete(ctx context.Context, collection, id string) error
	// List returns every record of collection ordered by ID.
	List(ctx context.Context, collection string) ([]Record, error)
	Close() error
}
