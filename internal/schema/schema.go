// Package schema holds the column rules driving row validation: which
// columns are required, which are optional per quote type, and what default
// literals fill the gaps. Rules load from embedded YAML catalogs, optionally
// overridden by files in a user directory.
package schema

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Instrument kinds with a catalog entry.
const (
	KindSecurity = "security"
	KindCurrency = "currency"
)

// Column is one rule entry. In YAML it is written as the scalar
// "name" or "name,defaultLiteral".
type Column struct {
	Name       string
	Default    string
	HasDefault bool
}

func (c *Column) UnmarshalYAML(node *yaml.Node) error {
	var entry string
	if err := node.Decode(&entry); err != nil {
		return err
	}
	name, def, found := strings.Cut(entry, ",")
	if name == "" {
		return fmt.Errorf("empty column entry %q", entry)
	}
	c.Name = name
	c.Default = def
	c.HasDefault = found
	return nil
}

// Schema is the rule set for one instrument kind.
type Schema struct {
	Kind      string              `yaml:"kind"`
	StaleDays int                 `yaml:"stale_days"`
	Required  []Column            `yaml:"required"`
	Optional  map[string][]Column `yaml:"optional"`
}

// OptionalColumns returns the optional column rules for a quote type, in
// catalog order. Unknown quote types have no optional columns.
func (s Schema) OptionalColumns(quoteType string) []Column {
	return s.Optional[quoteType]
}

// Columns returns required then optional rules for a quote type, the order
// coercion walks a row in.
func (s Schema) Columns(quoteType string) []Column {
	out := make([]Column, 0, len(s.Required)+len(s.Optional[quoteType]))
	out = append(out, s.Required...)
	out = append(out, s.Optional[quoteType]...)
	return out
}

func validate(s *Schema) error {
	if s.Kind == "" {
		return fmt.Errorf("schema missing kind")
	}
	if len(s.Required) == 0 {
		return fmt.Errorf("schema %s: no required columns", s.Kind)
	}
	if s.StaleDays < 0 {
		return fmt.Errorf("schema %s: negative stale_days", s.Kind)
	}
	seen := map[string]bool{}
	for _, c := range s.Required {
		if seen[c.Name] {
			return fmt.Errorf("schema %s: duplicate required column %s", s.Kind, c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}
