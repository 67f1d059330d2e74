package schema

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed schemas/*.yaml
var embedded embed.FS

// Catalog answers column-rule lookups per instrument kind.
type Catalog struct {
	schemas map[string]Schema
}

// Load builds the catalog from the embedded schema files. When overrideDir
// is non-empty, any *.yaml file there replaces the embedded schema of the
// same kind.
func Load(overrideDir string) (*Catalog, error) {
	c := &Catalog{schemas: make(map[string]Schema)}

	entries, err := embedded.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("read embedded schemas: %w", err)
	}
	for _, e := range entries {
		data, err := embedded.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read embedded schema %s: %w", e.Name(), err)
		}
		if err := c.add(data); err != nil {
			return nil, fmt.Errorf("embedded schema %s: %w", e.Name(), err)
		}
	}

	if overrideDir != "" {
		files, err := filepath.Glob(filepath.Join(overrideDir, "*.yaml"))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			data, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("read schema override %s: %w", f, err)
			}
			if err := c.add(data); err != nil {
				return nil, fmt.Errorf("schema override %s: %w", f, err)
			}
		}
	}

	return c, nil
}

// add decodes one schema document; unknown fields fail immediately.
func (c *Catalog) add(data []byte) error {
	var s Schema
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return err
	}
	if err := validate(&s); err != nil {
		return err
	}
	c.schemas[strings.ToLower(s.Kind)] = s
	return nil
}

// Schema returns the rules for an instrument kind.
func (c *Catalog) Schema(kind string) (Schema, bool) {
	s, ok := c.schemas[strings.ToLower(kind)]
	return s, ok
}
