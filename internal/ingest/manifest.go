package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestDocument is one corpus document listed in a manifest.
type ManifestDocument struct {
	ID     string `yaml:"id"`
	Path   string `yaml:"path"`
	Source string `yaml:"source,omitempty"`
}

// Manifest lists the documents that make up the corpus.
type Manifest struct {
	Documents []ManifestDocument `yaml:"documents"`
}

// LoadManifest reads a YAML manifest. Relative document paths are resolved
// against the manifest's directory, and Source defaults to the file name.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	base := filepath.Dir(path)
	seen := make(map[string]struct{}, len(m.Documents))
	for i := range m.Documents {
		doc := &m.Documents[i]
		doc.ID = strings.TrimSpace(doc.ID)
		if doc.ID == "" {
			return nil, fmt.Errorf("manifest document %d: id is required", i)
		}
		if doc.Path == "" {
			return nil, fmt.Errorf("manifest document %q: path is required", doc.ID)
		}
		if _, dup := seen[doc.ID]; dup {
			return nil, fmt.Errorf("manifest document %q: duplicate id", doc.ID)
		}
		seen[doc.ID] = struct{}{}

		if !filepath.IsAbs(doc.Path) {
			doc.Path = filepath.Join(base, doc.Path)
		}
		if doc.Source == "" {
			doc.Source = filepath.Base(doc.Path)
		}
	}
	return &m, nil
}
