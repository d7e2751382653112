package sdk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/capsula-wallet/capsula/pkg/errors"
	"github.com/capsula-wallet/capsula/pkg/types"
)

func TestPermissionSet(t *testing.T) {
	set, err := NewPermissionSet([]string{"ui", "wallet.read", "ui"})
	require.NoError(t, err)

	assert.Equal(t, []Permission{PermUI, PermWalletRead}, set.List())
	assert.True(t, set.Allows(MethodUIAddressQRCode))
	assert.True(t, set.Allows(MethodWalletGetAddress))
	assert.False(t, set.Allows(MethodWalletSignTransaction))
	assert.False(t, set.Allows("wallet.exportSeed"))

	_, err = NewPermissionSet([]string{"wallet.read", "admin"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidManifest)

	var empty PermissionSet
	assert.False(t, empty.Has(PermWalletRead))
}

func TestMethodTable(t *testing.T) {
	for _, m := range Methods() {
		required := RequiredPermissions(m)
		assert.NotEmpty(t, required, m)
		for _, p := range required {
			assert.Contains(t, KnownPermissions(), p, m)
		}
	}
	assert.Nil(t, RequiredPermissions("wallet.exportSeed"))

	assert.Equal(t, []Permission{PermWalletWrite}, RequiredPermissions(MethodWalletPrepareTransaction))
	assert.Equal(t, []Permission{PermTransactionSign}, RequiredPermissions(MethodWalletSignTransaction))
	assert.Equal(t, []Permission{PermTransactionSend}, RequiredPermissions(MethodWalletSendTransaction))
}

func TestCheckPermission(t *testing.T) {
	manifest := &types.MiniAppManifest{ID: "swap", Permissions: []string{"wallet.read", "transaction.sign"}}

	tests := []struct {
		name       string
		manifest   *types.MiniAppManifest
		permission Permission
		wantErr    bool
	}{
		{name: "declared", manifest: manifest, permission: PermWalletRead},
		{name: "declared sign", manifest: manifest, permission: PermTransactionSign},
		{name: "undeclared", manifest: manifest, permission: PermTransactionSend, wantErr: true},
		{name: "nil manifest", manifest: nil, permission: PermWalletRead, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPermission(tt.manifest, tt.permission, "swap")
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			pe, ok := apperrors.IsPermissionError(err)
			require.True(t, ok)
			assert.Equal(t, apperrors.ErrCodePermissionDenied, pe.Code)
			assert.Equal(t, string(tt.permission), pe.Permission)
			assert.Equal(t, "swap", pe.MiniAppID)
		})
	}
}
