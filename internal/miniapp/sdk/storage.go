package sdk

import (
	"context"
	"fmt"

	"github.com/capsula-wallet/capsula/internal/storage"
	apperrors "github.com/capsula-wallet/capsula/pkg/errors"
	"github.com/capsula-wallet/capsula/pkg/types"
)

// Storage limits
const (
	MaxValueSize = 256 * 1024
	MaxKeyLength = 256
)

// keyValue is one mini-app's namespace in a store.
type keyValue interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
}

// StorageCapability gives a mini-app two namespaces keyed by its own ID:
// Local persists across restarts, Session lives for the process.
type StorageCapability struct {
	Local   *StorageArea
	Session *StorageArea
}

func (*StorageCapability) Domain() Domain { return DomainStorage }
func (*StorageCapability) capability()    {}

// Methods implements Capability
func (*StorageCapability) Methods() []string {
	return []string{MethodStorageGet, MethodStorageSet, MethodStorageRemove, MethodStorageKeys, MethodStorageClear}
}

// StorageArea is a key/value namespace owned by one mini-app.
type StorageArea struct {
	guard *guard
	kv    keyValue
}

// Get returns the value under key and whether it exists.
func (a *StorageArea) Get(ctx context.Context, key string) (types.Result[StoredValue], error) {
	if err := a.guard.check(ctx, MethodStorageGet); err != nil {
		return types.Result[StoredValue]{}, err
	}
	if appErr := a.ready(key); appErr != nil {
		return types.Fail[StoredValue](appErr), nil
	}
	v, found, err := a.kv.Get(ctx, key)
	if err != nil {
		return types.Fail[StoredValue](apperrors.Storage(err)), nil
	}
	return types.Ok(StoredValue{Value: v, Found: found}), nil
}

// Set stores value under key.
func (a *StorageArea) Set(ctx context.Context, key, value string) (types.Result[types.Empty], error) {
	if err := a.guard.check(ctx, MethodStorageSet); err != nil {
		return types.Result[types.Empty]{}, err
	}
	if appErr := a.ready(key); appErr != nil {
		return types.Fail[types.Empty](appErr), nil
	}
	if len(value) > MaxValueSize {
		return types.Fail[types.Empty](apperrors.ErrStorage.WithDetail(fmt.Sprintf("value exceeds %d bytes", MaxValueSize))), nil
	}
	if err := a.kv.Set(ctx, key, value); err != nil {
		return types.Fail[types.Empty](apperrors.Storage(err)), nil
	}
	return types.Ok(types.Empty{}), nil
}

// Remove deletes key. Removing a missing key succeeds.
func (a *StorageArea) Remove(ctx context.Context, key string) (types.Result[types.Empty], error) {
	if err := a.guard.check(ctx, MethodStorageRemove); err != nil {
		return types.Result[types.Empty]{}, err
	}
	if appErr := a.ready(key); appErr != nil {
		return types.Fail[types.Empty](appErr), nil
	}
	if err := a.kv.Delete(ctx, key); err != nil {
		return types.Fail[types.Empty](apperrors.Storage(err)), nil
	}
	return types.Ok(types.Empty{}), nil
}

// Keys lists the keys in the namespace.
func (a *StorageArea) Keys(ctx context.Context) (types.Result[[]string], error) {
	if err := a.guard.check(ctx, MethodStorageKeys); err != nil {
		return types.Result[[]string]{}, err
	}
	if a.kv == nil {
		return types.Fail[[]string](apperrors.ErrStorage.WithDetail("storage not configured")), nil
	}
	keys, err := a.kv.Keys(ctx)
	if err != nil {
		return types.Fail[[]string](apperrors.Storage(err)), nil
	}
	if keys == nil {
		keys = []string{}
	}
	return types.Ok(keys), nil
}

// Clear removes every key in the namespace.
func (a *StorageArea) Clear(ctx context.Context) (types.Result[types.Empty], error) {
	if err := a.guard.check(ctx, MethodStorageClear); err != nil {
		return types.Result[types.Empty]{}, err
	}
	if a.kv == nil {
		return types.Fail[types.Empty](apperrors.ErrStorage.WithDetail("storage not configured")), nil
	}
	if err := a.kv.Clear(ctx); err != nil {
		return types.Fail[types.Empty](apperrors.Storage(err)), nil
	}
	return types.Ok(types.Empty{}), nil
}

func (a *StorageArea) ready(key string) *apperrors.AppError {
	if a.kv == nil {
		return apperrors.ErrStorage.WithDetail("storage not configured")
	}
	if key == "" {
		return apperrors.ErrStorage.WithDetail("key is required")
	}
	if len(key) > MaxKeyLength {
		return apperrors.ErrStorage.WithDetail(fmt.Sprintf("key exceeds %d bytes", MaxKeyLength))
	}
	return nil
}

// StoredValue is the result of StorageArea.Get.
type StoredValue struct {
	Value string `json:"value"`
	Found bool   `json:"found"`
}

func newPersistentArea(b storage.Backend, miniAppID string) (keyValue, error) {
	if b == nil {
		return nil, nil
	}
	repo, err := storage.NewMiniAppDataRepository(b, miniAppID)
	if err != nil {
		return nil, apperrors.ErrInvalidManifest.WithDetail(err.Error())
	}
	return repo, nil
}
