package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/capsula-wallet/capsula/pkg/types"
)

// Collection is a typed view over one backend collection. Records are JSON
// documents stamped with types.RecordSchemaVersion.
type Collection[T any] struct {
	backend Backend
	name    string
}

// NewCollection returns a typed collection. name must not contain '/'.
func NewCollection[T any](backend Backend, name string) (*Collection[T], error) {
	if name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("invalid collection name %q", name)
	}
	return &Collection[T]{backend: backend, name: name}, nil
}

func mustCollection[T any](backend Backend, name string) *Collection[T] {
	c, err := NewCollection[T](backend, name)
	if err != nil {
		panic(err)
	}
	return c
}

// Name returns the collection name.
func (c *Collection[T]) Name() string {
	return c.name
}

// Put stores v under id.
func (c *Collection[T]) Put(ctx context.Context, id string, v *T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", c.name, id, err)
	}
	return c.backend.Put(ctx, c.name, Record{
		ID:            id,
		SchemaVersion: types.RecordSchemaVersion,
		Data:          data,
		UpdatedAt:     time.Now().UTC(),
	})
}

// Get returns the value under id, or nil if it does not exist. A record
// that cannot be decoded is an error, never an empty value.
func (c *Collection[T]) Get(ctx context.Context, id string) (*T, error) {
	rec, found, err := c.backend.Get(ctx, c.name, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return c.decode(rec)
}

// List returns every value in the collection ordered by ID.
func (c *Collection[T]) List(ctx context.Context) ([]*T, error) {
	recs, err := c.backend.List(ctx, c.name)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(recs))
	for _, rec := range recs {
		v, err := c.decode(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// IDs returns the IDs in the collection.
func (c *Collection[T]) IDs(ctx context.Context) ([]string, error) {
	recs, err := c.backend.List(ctx, c.name)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ID)
	}
	return ids, nil
}

// Delete removes id, returning ErrNotFound if it does not exist.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	return c.backend.Delete(ctx, c.name, id)
}

// Clear removes every record in the collection.
func (c *Collection[T]) Clear(ctx context.Context) error {
	ids, err := c.IDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := c.backend.Delete(ctx, c.name, id); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

func (c *Collection[T]) decode(rec Record) (*T, error) {
	if rec.SchemaVersion > types.RecordSchemaVersion || rec.SchemaVersion <= 0 {
		return nil, fmt.Errorf("%w: %s/%s has version %d", ErrUnsupportedSchema, c.name, rec.ID, rec.SchemaVersion)
	}
	var v T
	if err := json.Unmarshal(rec.Data, &v); err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", ErrCorruptRecord, c.name, rec.ID, err)
	}
	return &v, nil
}
