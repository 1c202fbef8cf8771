package mapping

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/stowage/pkg/types"
)

// mappingFile is the on-disk YAML shape.
type mappingFile struct {
	Entities []entityYAML `yaml:"entities"`
}

type entityYAML struct {
	Name         string            `yaml:"name"`
	Table        string            `yaml:"table"`
	ID           string            `yaml:"id"`
	Generator    string            `yaml:"generator,omitempty"`
	Fields       []fieldYAML       `yaml:"fields"`
	Associations []associationYAML `yaml:"associations,omitempty"`
}

type fieldYAML struct {
	Name     string `yaml:"name"`
	Column   string `yaml:"column,omitempty"`
	Kind     string `yaml:"kind"`
	Nullable bool   `yaml:"nullable,omitempty"`
}

type associationYAML struct {
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind"`
	Target     string `yaml:"target"`
	JoinColumn string `yaml:"join_column,omitempty"`
	MappedBy   string `yaml:"mapped_by,omitempty"`
	InversedBy string `yaml:"inversed_by,omitempty"`
}

// Parse decodes a YAML mapping document and validates it. Unknown keys are
// rejected so that typos in association attributes do not silently change
// the ownership direction.
func Parse(data []byte) (*Registry, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc mappingFile
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidMapping, err)
	}

	metas := make([]*types.EntityMeta, 0, len(doc.Entities))
	for _, e := range doc.Entities {
		m := &types.EntityMeta{
			Name:      e.Name,
			Table:     e.Table,
			ID:        e.ID,
			Generator: types.IDGenerator(e.Generator),
		}
		for _, f := range e.Fields {
			m.Fields = append(m.Fields, types.FieldMeta{
				Name:     f.Name,
				Column:   f.Column,
				Kind:     types.FieldKind(f.Kind),
				Nullable: f.Nullable,
			})
		}
		for _, a := range e.Associations {
			m.Associations = append(m.Associations, types.AssociationMeta{
				Name:       a.Name,
				Kind:       types.AssociationKind(a.Kind),
				Target:     a.Target,
				JoinColumn: a.JoinColumn,
				MappedBy:   a.MappedBy,
				InversedBy: a.InversedBy,
			})
		}
		metas = append(metas, m)
	}
	return NewRegistry(metas...)
}

// LoadFile reads and parses a YAML mapping file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mapping %s: %w", path, err)
	}
	return Parse(data)
}

// Marshal renders a registry back to the YAML mapping format.
func Marshal(r *Registry) ([]byte, error) {
	var doc mappingFile
	for _, m := range r.Entities() {
		e := entityYAML{
			Name:      m.Name,
			Table:     m.Table,
			ID:        m.ID,
			Generator: string(m.Generator),
		}
		for _, f := range m.Fields {
			col := f.Column
			if col == f.Name {
				col = ""
			}
			e.Fields = append(e.Fields, fieldYAML{Name: f.Name, Column: col, Kind: string(f.Kind), Nullable: f.Nullable})
		}
		for _, a := range m.Associations {
			e.Associations = append(e.Associations, associationYAML{
				Name:       a.Name,
				Kind:       string(a.Kind),
				Target:     a.Target,
				JoinColumn: a.JoinColumn,
				MappedBy:   a.MappedBy,
				InversedBy: a.InversedBy,
			})
		}
		doc.Entities = append(doc.Entities, e)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
