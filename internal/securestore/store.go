// Package securestore is the secure credential store: a keyed string store
// backed by encrypted on-device storage. It has no listing operation;
// callers keep their own index of the keys they write.
package securestore

import (
	"context"
	"errors"
)

// ErrUnavailable is wrapped by every backend failure (store locked, closed,
// disk error). A missing key is not an error.
var ErrUnavailable = errors.New("secure store unavailable")

// Store is the contract the key manager and PIN gate consume.
type Store interface {
	// Get returns found=false, err=nil when key does not exist.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error
}

// Key namespaces used inside the store.
const (
	CredentialKeyPrefix = "capsula.credential."
	CredentialIndexKey  = "capsula.credential.index"
	PINKey              = "capsula.pin"
)

// CredentialKey returns the store key of the credential referenced by keyRefID.
func CredentialKey(keyRefID string) string {
	return CredentialKeyPrefix + keyRefID
}
