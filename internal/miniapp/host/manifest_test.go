package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/capsula-wallet/capsula/pkg/errors"
	"github.com/capsula-wallet/capsula/pkg/types"
)

func TestValidateManifest(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *types.MiniAppManifest)
		detail string
	}{
		{name: "valid", mutate: func(m *types.MiniAppManifest) {}},
		{name: "schema version", mutate: func(m *types.MiniAppManifest) { m.SchemaVersion = 0 }, detail: "schema version"},
		{name: "empty id", mutate: func(m *types.MiniAppManifest) { m.ID = "" }, detail: "invalid id"},
		{name: "id with separator", mutate: func(m *types.MiniAppManifest) { m.ID = "a/b" }, detail: "invalid id"},
		{name: "id with colon", mutate: func(m *types.MiniAppManifest) { m.ID = "a:b" }, detail: "invalid id"},
		{name: "reserved wallet id", mutate: func(m *types.MiniAppManifest) { m.ID = "wallet" }, detail: "reserved"},
		{name: "reserved network id", mutate: func(m *types.MiniAppManifest) { m.ID = "network" }, detail: "reserved"},
		{name: "reserved host id", mutate: func(m *types.MiniAppManifest) { m.ID = "host" }, detail: "reserved"},
		{name: "no name", mutate: func(m *types.MiniAppManifest) { m.Name = " " }, detail: "name"},
		{name: "no version", mutate: func(m *types.MiniAppManifest) { m.Version = "" }, detail: "version"},
		{name: "unknown type", mutate: func(m *types.MiniAppManifest) { m.Type = "remote" }, detail: "unknown type"},
		{name: "external without entry point", mutate: func(m *types.MiniAppManifest) { m.Type = types.MiniAppTypeExternal }, detail: "entry point"},
		{name: "unknown permission", mutate: func(m *types.MiniAppManifest) { m.Permissions = []string{"keys.export"} }, detail: "keys.export"},
		{name: "no networks", mutate: func(m *types.MiniAppManifest) { m.Networks = nil }, detail: "network"},
		{name: "bad chain", mutate: func(m *types.MiniAppManifest) { m.Networks = []int64{0} }, detail: "chain id"},
		{name: "duplicate chain", mutate: func(m *types.MiniAppManifest) { m.Networks = []int64{1, 1} }, detail: "duplicate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := builtIn("swap", "wallet.read")
			tt.mutate(&m)
			err := ValidateManifest(&m)
			if tt.detail == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrInvalidManifest)
			assert.Contains(t, err.Error(), tt.detail)
		})
	}

	assert.ErrorIs(t, ValidateManifest(nil), apperrors.ErrInvalidManifest)
}
