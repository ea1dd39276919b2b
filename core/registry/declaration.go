package registry

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// TableDeclaration is the static declaration of a table as it appears in
// the YAML document
type TableDeclaration struct {
	Name        string             `yaml:"name"`
	PrimaryKey  string             `yaml:"primary_key"`
	Required    []string           `yaml:"required"`
	OrderBy     string             `yaml:"order_by"`
	SerializeBy string             `yaml:"serialize_by"`
	Columns     []ColumnDescriptor `yaml:"columns"`
}

type declarationFile struct {
	Tables []TableDeclaration `yaml:"tables"`
}

// Load creates a registry from a YAML document with a top-level "tables" list
func Load(document []byte) (*Registry, error) {
	var file declarationFile
	if err := yaml.Unmarshal(document, &file); err != nil {
		return nil, fmt.Errorf("parse error in table declarations: %w", err)
	}
	return New(file.Tables)
}

// MustLoad is Load which panics on error. Use it for declarations embedded
// into the binary.
func MustLoad(document []byte) *Registry {
	r, err := Load(document)
	if err != nil {
		panic(err)
	}
	return r
}

func (decl TableDeclaration) descriptor() (*TableDescriptor, error) {
	if len(decl.Name) == 0 {
		return nil, fmt.Errorf("table without name")
	}
	t := &TableDescriptor{
		Name:        decl.Name,
		PrimaryKey:  decl.PrimaryKey,
		Required:    decl.Required,
		SerializeBy: decl.SerializeBy,
		index:       make(map[string]int),
	}

	if len(t.PrimaryKey) == 0 {
		t.PrimaryKey = DefaultPrimaryKey
		t.Columns = append(t.Columns, ColumnDescriptor{
			Name:     DefaultPrimaryKey,
			Type:     TypeText,
			Generate: GenerateRandomID,
		})
	}
	t.Columns = append(t.Columns, decl.Columns...)

	for i := range t.Columns {
		c := &t.Columns[i]
		if err := c.validate(t.Name); err != nil {
			return nil, err
		}
		if _, ok := t.index[c.Name]; ok {
			return nil, fmt.Errorf("table %s: column %s declared twice", t.Name, c.Name)
		}
		t.index[c.Name] = i
	}

	pk, ok := t.Column(t.PrimaryKey)
	if !ok {
		return nil, fmt.Errorf("table %s: unknown primary key column %s", t.Name, t.PrimaryKey)
	}
	if pk.Nullable {
		return nil, fmt.Errorf("table %s: primary key %s must not be nullable", t.Name, t.PrimaryKey)
	}

	for _, name := range t.Required {
		if !t.HasColumn(name) {
			return nil, fmt.Errorf("table %s: unknown required column %s", t.Name, name)
		}
	}

	ordering, err := parseOrdering(decl.OrderBy)
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", t.Name, err)
	}
	if ordering != nil && !t.HasColumn(ordering.Column) {
		return nil, fmt.Errorf("table %s: unknown order column %s", t.Name, ordering.Column)
	}
	t.OrderBy = ordering

	if len(t.SerializeBy) > 0 && !t.HasColumn(t.SerializeBy) {
		return nil, fmt.Errorf("table %s: unknown serialize_by column %s", t.Name, t.SerializeBy)
	}
	return t, nil
}
