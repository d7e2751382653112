package sdk

import (
	"fmt"
	"slices"
	"sort"

	apperrors "github.com/capsula-wallet/capsula/pkg/errors"
	"github.com/capsula-wallet/capsula/pkg/types"
)

// Permission is a capability token declared in a manifest.
type Permission string

// Permission tokens. Reading, proposing, signing and broadcasting are four
// separate grants.
const (
	PermWalletRead      Permission = "wallet.read"
	PermWalletWrite     Permission = "wallet.write"
	PermTransactionSign Permission = "transaction.sign"
	PermTransactionSend Permission = "transaction.send"
	PermNetworkRead     Permission = "network.read"
	PermNetworkWrite    Permission = "network.write"
	PermStorage         Permission = "storage"
	PermUI              Permission = "ui"
	PermEvents          Permission = "events"
)

var knownPermissions = []Permission{
	PermWalletRead,
	PermWalletWrite,
	PermTransactionSign,
	PermTransactionSend,
	PermNetworkRead,
	PermNetworkWrite,
	PermStorage,
	PermUI,
	PermEvents,
}

// KnownPermissions returns every permission token the SDK understands.
func KnownPermissions() []Permission {
	return slices.Clone(knownPermissions)
}

// SDK method names, as used in the permission table, logs and errors.
const (
	MethodWalletGetAddress         = "wallet.getAddress"
	MethodWalletGetBalance         = "wallet.getBalance"
	MethodWalletPrepareTransaction = "wallet.prepareTransaction"
	MethodWalletSignTransaction    = "wallet.signTransaction"
	MethodWalletSignMessage        = "wallet.signMessage"
	MethodWalletSendTransaction    = "wallet.sendTransaction"

	MethodNetworkGetActive = "network.getActive"
	MethodNetworkSupported = "network.getSupported"
	MethodNetworkSwitch    = "network.switch"

	MethodUIShowToast     = "ui.showToast"
	MethodUIShowAlert     = "ui.showAlert"
	MethodUIConfirm       = "ui.confirm"
	MethodUIAddressQRCode = "ui.addressQRCode"

	MethodStorageGet    = "storage.get"
	MethodStorageSet    = "storage.set"
	MethodStorageRemove = "storage.remove"
	MethodStorageKeys   = "storage.keys"
	MethodStorageClear  = "storage.clear"

	MethodEventsEmit             = "events.emit"
	MethodEventsOn               = "events.on"
	MethodEventsOnWalletChanged  = "events.onWalletChanged"
	MethodEventsOnNetworkChanged = "events.onNetworkChanged"
)

// methodPermissions is the complete table of what each SDK method requires.
// A method needs every permission listed.
var methodPermissions = map[string][]Permission{
	MethodWalletGetAddress:         {PermWalletRead},
	MethodWalletGetBalance:         {PermWalletRead},
	MethodWalletPrepareTransaction: {PermWalletWrite},
	MethodWalletSignTransaction:    {PermTransactionSign},
	MethodWalletSignMessage:        {PermTransactionSign},
	MethodWalletSendTransaction:    {PermTransactionSend},

	MethodNetworkGetActive: {PermNetworkRead},
	MethodNetworkSupported: {PermNetworkRead},
	MethodNetworkSwitch:    {PermNetworkWrite},

	MethodUIShowToast:     {PermUI},
	MethodUIShowAlert:     {PermUI},
	MethodUIConfirm:       {PermUI},
	MethodUIAddressQRCode: {PermUI, PermWalletRead},

	MethodStorageGet:    {PermStorage},
	MethodStorageSet:    {PermStorage},
	MethodStorageRemove: {PermStorage},
	MethodStorageKeys:   {PermStorage},
	MethodStorageClear:  {PermStorage},

	MethodEventsEmit:             {PermEvents},
	MethodEventsOn:               {PermEvents},
	MethodEventsOnWalletChanged:  {PermEvents},
	MethodEventsOnNetworkChanged: {PermEvents},
}

// RequiredPermissions returns the permissions method needs, nil for an unknown method.
func RequiredPermissions(method string) []Permission {
	return slices.Clone(methodPermissions[method])
}

// Methods returns every SDK method name in sorted order.
func Methods() []string {
	out := make([]string, 0, len(methodPermissions))
	for m := range methodPermissions {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// PermissionSet is an immutable set of granted permissions.
type PermissionSet struct {
	granted map[Permission]struct{}
}

// NewPermissionSet parses manifest tokens. Unknown tokens are rejected so a
// typo cannot silently grant nothing or something else.
func NewPermissionSet(tokens []string) (PermissionSet, error) {
	granted := make(map[Permission]struct{}, len(tokens))
	for _, t := range tokens {
		p := Permission(t)
		if !slices.Contains(knownPermissions, p) {
			return PermissionSet{}, apperrors.ErrInvalidManifest.WithDetail(fmt.Sprintf("unknown permission %q", t))
		}
		granted[p] = struct{}{}
	}
	return PermissionSet{granted: granted}, nil
}

// Has reports whether p is granted.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s.granted[p]
	return ok
}

// Allows reports whether every permission method requires is granted.
// Unknown methods are never allowed.
func (s PermissionSet) Allows(method string) bool {
	required, ok := methodPermissions[method]
	if !ok {
		return false
	}
	for _, p := range required {
		if !s.Has(p) {
			return false
		}
	}
	return true
}

// List returns the granted permissions in sorted order.
func (s PermissionSet) List() []Permission {
	out := make([]Permission, 0, len(s.granted))
	for p := range s.granted {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// CheckPermission fails with a PermissionError when permission is absent
// from the manifest's declared permissions.
func CheckPermission(manifest *types.MiniAppManifest, permission Permission, miniAppID string) error {
	if manifest != nil && slices.Contains(manifest.Permissions, string(permission)) {
		return nil
	}
	return apperrors.NewPermissionError(string(permission), miniAppID)
}
