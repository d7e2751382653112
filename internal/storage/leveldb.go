package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBBackend stores records under "collection/id" keys. Collection
// names never contain '/', so a prefix scan selects exactly one collection.
type LevelDBBackend struct {
	db *leveldb.DB
}

type levelRecord struct {
	SchemaVersion int             `json:"schema_version"`
	Data          json.RawMessage `json:"data"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// OpenLevelDB opens (or creates) the metadata database at path.
func OpenLevelDB(path string) (*LevelDBBackend, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}
	return &LevelDBBackend{db: db}, nil
}

// NewMemoryBackend returns a LevelDB backend held in memory.
func NewMemoryBackend() *LevelDBBackend {
	db, err := leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	if err != nil {
		panic(fmt.Sprintf("storage: open memory leveldb: %v", err))
	}
	return &LevelDBBackend{db: db}
}

func recordKey(collection, id string) []byte {
	return []byte(collection + "/" + id)
}

// Put implements Backend
func (b *LevelDBBackend) Put(ctx context.Context, collection string, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	value, err := json.Marshal(levelRecord{
		SchemaVersion: rec.SchemaVersion,
		Data:          rec.Data,
		UpdatedAt:     rec.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode record %s/%s: %w", collection, rec.ID, err)
	}
	if err := b.db.Put(recordKey(collection, rec.ID), value, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("failed to put record %s/%s: %w", collection, rec.ID, err)
	}
	return nil
}

// Get implements Backend
func (b *LevelDBBackend) Get(ctx context.Context, collection, id string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	value, err := b.db.Get(recordKey(collection, id), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to get record %s/%s: %w", collection, id, err)
	}
	rec, err := decodeLevelRecord(id, value)
	if err != nil {
		return Record{}, false, fmt.Errorf("%s/%s: %w", collection, id, err)
	}
	return rec, true, nil
}

// Delete implements Backend
func (b *LevelDBBackend) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := recordKey(collection, id)
	ok, err := b.db.Has(key, nil)
	if err != nil {
		return fmt.Errorf("failed to check record %s/%s: %w", collection, id, err)
	}
	if !ok {
		return ErrNotFound
	}
	if err := b.db.Delete(key, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("failed to delete record %s/%s: %w", collection, id, err)
	}
	return nil
}

// List implements Backend
func (b *LevelDBBackend) List(ctx context.Context, collection string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := collection + "/"
	iter := b.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	var out []Record
	for iter.Next() {
		id := strings.TrimPrefix(string(iter.Key()), prefix)
		rec, err := decodeLevelRecord(id, iter.Value())
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, err)
		}
		out = append(out, rec)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	return out, nil
}

// Close implements Backend
func (b *LevelDBBackend) Close() error {
	return b.db.Close()
}

func decodeLevelRecord(id string, value []byte) (Record, error) {
	var lr levelRecord
	if err := json.Unmarshal(value, &lr); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return Record{
		ID:            id,
		SchemaVersion: lr.SchemaVersion,
		Data:          lr.Data,
		UpdatedAt:     lr.UpdatedAt,
	}, nil
}

var _ Backend = (*LevelDBBackend)(nil)
