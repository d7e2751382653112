package securestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// LevelDBStore keeps values in a LevelDB database. On a device the database
// lives inside the app sandbox; values are expected to be wrapped by
// EncryptedStore before they reach disk.
type LevelDBStore struct {
	db *leveldb.DB
}

// OpenLevelDB opens (or creates) the database at path.
func OpenLevelDB(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{ErrorIfMissing: false})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open leveldb at %s: %v", ErrUnavailable, path, err)
	}
	return &LevelDBStore{db: db}, nil
}

// NewMemoryStore returns a LevelDB store backed by memory, used for the
// "memory" backend and in tests.
func NewMemoryStore() *LevelDBStore {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		// memory storage cannot fail to open
		panic(fmt.Sprintf("securestore: open memory leveldb: %v", err))
	}
	return &LevelDBStore{db: db}
}

// Get implements Store
func (s *LevelDBStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	value, err := s.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}
	return string(value), true, nil
}

// Set implements Store
func (s *LevelDBStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Put([]byte(key), []byte(value), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Delete implements Store
func (s *LevelDBStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Delete([]byte(key), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Close closes the underlying database
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

var _ Store = (*LevelDBStore)(nil)
