// Package strict restricts event payloads to the canonical fields of their
// endpoint, for consumers that reject anything outside the standard.
package strict

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alfredjeanlab/contestfeed/internal/model"
)

//go:embed schema.yaml
var schemaYAML []byte

type schema struct {
	Entities map[string]entity `yaml:"entities"`
}

type entity struct {
	Endpoint string   `yaml:"endpoint"`
	Internal bool     `yaml:"internal"`
	Fields   []string `yaml:"fields"`
}

// Table maps endpoint types to their canonical field sets. It is
// read-only once built and safe for concurrent use.
type Table struct {
	fields map[model.EndpointType]map[string]struct{}
}

// Load builds the table from the embedded canonical schema and checks that
// it lists every feed endpoint.
func Load() (*Table, error) {
	t, err := Parse(schemaYAML)
	if err != nil {
		return nil, err
	}
	for _, typ := range model.EndpointTypes {
		if !t.has(typ) {
			return nil, fmt.Errorf("strict schema does not list endpoint %q", typ)
		}
	}
	return t, nil
}

// Parse builds a table from a schema document.
func Parse(doc []byte) (*Table, error) {
	var s schema
	if err := yaml.Unmarshal(doc, &s); err != nil {
		return nil, fmt.Errorf("parse strict schema: %w", err)
	}

	t := &Table{fields: make(map[model.EndpointType]map[string]struct{})}
	names := make([]string, 0, len(s.Entities))
	for name := range s.Entities {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ent := s.Entities[name]
		if ent.Internal {
			continue
		}
		endpoint := model.EndpointType(ent.Endpoint)
		if endpoint == "" {
			endpoint = model.EndpointType(plural(name))
		}
		if _, dup := t.fields[endpoint]; dup {
			return nil, fmt.Errorf("parse strict schema: endpoint %q defined twice (at %q)", endpoint, name)
		}
		set := make(map[string]struct{}, len(ent.Fields))
		for _, f := range ent.Fields {
			set[f] = struct{}{}
		}
		t.fields[endpoint] = set
	}
	return t, nil
}

// plural turns an entity name such as judgement_type into its endpoint
// name, judgement-types.
func plural(name string) string {
	name = strings.ReplaceAll(name, "_", "-")
	switch {
	case strings.HasSuffix(name, "y") && !strings.HasSuffix(name, "ey"):
		return strings.TrimSuffix(name, "y") + "ies"
	case strings.HasSuffix(name, "s"), strings.HasSuffix(name, "x"), strings.HasSuffix(name, "ch"):
		return name + "es"
	}
	return name + "s"
}

func (t *Table) has(typ model.EndpointType) bool {
	_, ok := t.fields[typ]
	return ok
}

// Apply keeps exactly the canonical fields of typ in p, preserving their
// order. A type the table does not list has no canonical fields and
// yields an empty object.
func (t *Table) Apply(typ model.EndpointType, p model.Payload) (model.Payload, error) {
	return p.Only(t.fields[typ])
}
