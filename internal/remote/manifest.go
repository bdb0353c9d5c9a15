package remote

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"touchgrass/internal/config"
)

// Manifest is the per-session discovery file under <data-dir>/sessions/.
// It lets `tg ls`, `tg resume` and the reconcile loop find live sessions
// without asking the daemon.
type Manifest struct {
	ID        string    `json:"id"`
	Command   string    `json:"command"`
	Cwd       string    `json:"cwd"`
	PID       int       `json:"pid"`
	JSONLFile *string   `json:"jsonlFile"`
	StartedAt time.Time `json:"startedAt"`
}

// WriteManifest persists the manifest with owner-only permissions.
func WriteManifest(m *Manifest) error {
	if err := os.MkdirAll(config.SessionsDir(), 0o700); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	path := config.ManifestPath(m.ID)
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads a manifest by session id.
func ReadManifest(id string) (*Manifest, error) {
	data, err := os.ReadFile(config.ManifestPath(id))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", id, err)
	}
	return &m, nil
}

// RemoveManifest deletes a manifest. Missing files are not an error.
func RemoveManifest(id string) {
	_ = os.Remove(config.ManifestPath(id))
}

// ListManifests returns all manifests, newest first. Unparseable files are
// skipped.
func ListManifests() ([]*Manifest, error) {
	entries, err := os.ReadDir(config.SessionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []*Manifest
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		m, err := ReadManifest(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

// SetJSONLFile updates the manifest's jsonlFile field in place on disk.
// Called when the tail attaches to (or rolls over to) a vendor log file.
func SetJSONLFile(id, path string) error {
	m, err := ReadManifest(id)
	if err != nil {
		return err
	}
	if path == "" {
		m.JSONLFile = nil
	} else {
		m.JSONLFile = &path
	}
	return WriteManifest(m)
}
