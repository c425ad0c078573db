package models

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/mood-map/pkg/face"
)

// Manifest lists the artifacts an engine needs. File names are relative to
// the model directory and to the download base URL.
type Manifest struct {
	Artifacts []face.Artifact `yaml:"artifacts"`
}

// Names returns the artifact names in manifest order.
func (m Manifest) Names() []string {
	names := make([]string, len(m.Artifacts))
	for i, a := range m.Artifacts {
		names[i] = a.Name
	}
	return names
}

// Validate rejects empty manifests and duplicate or blank names.
func (m Manifest) Validate() error {
	if len(m.Artifacts) == 0 {
		return fmt.Errorf("manifest: no artifacts")
	}
	seen := make(map[string]bool, len(m.Artifacts))
	for i, a := range m.Artifacts {
		if a.Name == "" {
			return fmt.Errorf("manifest: artifact %d has no name", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("manifest: duplicate artifact %q", a.Name)
		}
		seen[a.Name] = true
	}
	return nil
}

// ParseManifest decodes a YAML manifest.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// LoadManifest reads a YAML manifest from disk.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ManifestOf returns a manifest of file-less artifacts, for engines that
// carry their models in-process.
func ManifestOf(names ...string) Manifest {
	m := Manifest{Artifacts: make([]face.Artifact, len(names))}
	for i, n := range names {
		m.Artifacts[i] = face.Artifact{Name: n}
	}
	return m
}
