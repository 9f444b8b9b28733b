// Package config loads the operator-facing configuration: the backend
// manifest (which upstream backends to connect C5 to) and the env-var
// bounds for C1-C3's pools. Adapted from the teacher's internal/config
// package, which loaded a single JSON preference file from the user's
// config directory; the shape here is the same load/save idiom applied to
// a different document (a list of backends instead of a provider/API-key
// pair).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ChamsBouzaiene/dodo/internal/model"
)

// Manifest is the persisted description of every backend the operator
// wants the upstream pool (C5) connected to.
type Manifest struct {
	Backends []model.BackendDescriptor `json:"backends"`
}

// ManifestManager handles loading the backend manifest from disk.
type ManifestManager struct {
	path string
}

// NewManifestManager resolves the manifest path: DODO_BACKENDS_FILE if set,
// otherwise "<user config dir>/dodo/backends.json".
func NewManifestManager() (*ManifestManager, error) {
	if override := os.Getenv("DODO_BACKENDS_FILE"); override != "" {
		return &ManifestManager{path: override}, nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("config: resolve user config dir: %w", err)
	}
	return &ManifestManager{path: filepath.Join(configDir, "dodo", "backends.json")}, nil
}

// Path returns the absolute path the manifest is read from.
func (m *ManifestManager) Path() string {
	return m.path
}

// Load reads the manifest from disk. A missing file is not an error: it
// yields an empty manifest, the same "absent means defaults" convention
// the teacher's Manager.Load used for a missing preference file.
func (m *ManifestManager) Load() (*Manifest, error) {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return &Manifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read backend manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("config: parse backend manifest: %w", err)
	}
	for i, b := range manifest.Backends {
		if b.Name == "" {
			return nil, fmt.Errorf("config: backend manifest entry %d is missing a name", i)
		}
		if b.Transport != model.TransportLocalProcess && b.Transport != model.TransportHTTPStream {
			return nil, fmt.Errorf("config: backend %q has unknown transport %q", b.Name, b.Transport)
		}
	}
	return &manifest, nil
}

// Save writes the manifest back to disk with restricted permissions
// (0600), creating the containing directory if needed.
func (m *ManifestManager) Save(manifest *Manifest) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("config: create backend manifest dir: %w", err)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal backend manifest: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0600); err != nil {
		return fmt.Errorf("config: write backend manifest: %w", err)
	}
	return nil
}
