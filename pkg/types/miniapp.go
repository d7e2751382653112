package types

import "time"

// MiniAppType constants
const (
	MiniAppTypeBuiltIn  = "built-in"
	MiniAppTypeExternal = "external"
)

// ManifestSchemaVersion is the only manifest schema the host accepts.
const ManifestSchemaVersion = 1

// MiniAppManifest declares what a mini-app is and which capabilities it may use.
// The SDK never grants a permission that is absent from Permissions.
type MiniAppManifest struct {
	SchemaVersion int       `json:"schema_version"`
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Version       string    `json:"version"`
	Type          string    `json:"type"`
	Permissions   []string  `json:"permissions"`
	Networks      []int64   `json:"networks"`
	EntryPoint    string    `json:"entry_point"`
	Categories    []string  `json:"categories,omitempty"`
	InstalledAt   time.Time `json:"installed_at"`
}

// SupportsNetwork reports whether chainID is listed in the manifest.
func (m *MiniAppManifest) SupportsNetwork(chainID int64) bool {
	for _, id := range m.Networks {
		if id == chainID {
			return true
		}
	}
	return false
}
