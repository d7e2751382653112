package host

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/capsula-wallet/capsula/internal/events"
	"github.com/capsula-wallet/capsula/internal/miniapp/sdk"
	apperrors "github.com/capsula-wallet/capsula/pkg/errors"
	"github.com/capsula-wallet/capsula/pkg/types"
)

// MiniAppIDPattern restricts IDs to characters that are safe as storage
// collection names and event namespaces.
var MiniAppIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)

// ValidateManifest checks m before it is registered or installed.
func ValidateManifest(m *types.MiniAppManifest) error {
	if m == nil {
		return invalid("manifest is required")
	}
	if m.SchemaVersion != types.ManifestSchemaVersion {
		return invalid(fmt.Sprintf("unsupported schema version %d (want %d)", m.SchemaVersion, types.ManifestSchemaVersion))
	}
	if !MiniAppIDPattern.MatchString(m.ID) {
		return invalid(fmt.Sprintf("invalid id %q", m.ID))
	}
	if events.IsReservedNamespace(m.ID) {
		return invalid(fmt.Sprintf("id %q is reserved", m.ID))
	}
	if strings.TrimSpace(m.Name) == "" {
		return invalid("name is required")
	}
	if strings.TrimSpace(m.Version) == "" {
		return invalid("version is required")
	}

	switch m.Type {
	case types.MiniAppTypeBuiltIn:
	case types.MiniAppTypeExternal:
		if m.EntryPoint == "" {
			return invalid("external mini-apps need an entry point")
		}
	default:
		return invalid(fmt.Sprintf("unknown type %q", m.Type))
	}

	if _, err := sdk.NewPermissionSet(m.Permissions); err != nil {
		return err
	}

	if len(m.Networks) == 0 {
		return invalid("at least one network is required")
	}
	seen := make(map[int64]struct{}, len(m.Networks))
	for _, id := range m.Networks {
		if id <= 0 {
			return invalid(fmt.Sprintf("invalid chain id %d", id))
		}
		if _, dup := seen[id]; dup {
			return invalid(fmt.Sprintf("duplicate chain id %d", id))
		}
		seen[id] = struct{}{}
	}
	return nil
}

func invalid(detail string) *apperrors.AppError {
	return apperrors.ErrInvalidManifest.WithDetail(detail)
}
