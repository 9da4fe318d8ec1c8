package taxonomy

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultDocument []byte

type document struct {
	Version    int        `yaml:"version"`
	Fallback   string     `yaml:"fallback"`
	Categories []Category `yaml:"categories"`
}

// Parse builds a taxonomy from a YAML document.
func Parse(data []byte) (*Taxonomy, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("taxonomy: decode yaml: %w", err)
	}
	return New(doc.Version, doc.Fallback, doc.Categories)
}

// Load reads a YAML taxonomy from path. An empty path yields Default.
func Load(path string) (*Taxonomy, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("taxonomy: read %q: %w", path, err)
	}
	return Parse(data)
}

// Default returns the embedded taxonomy.
func Default() (*Taxonomy, error) {
	return Parse(defaultDocument)
}

// MustDefault is Default for package initialization and tests.
func MustDefault() *Taxonomy {
	t, err := Default()
	if err != nil {
		panic(err)
	}
	return t
}
