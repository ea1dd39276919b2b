/*
Package registry provides the schema registry: an immutable mapping from table name
to table descriptor.

Tables are declared once at process start, usually from a YAML document:

	tables:
	  - name: user
	    required: [email, firstName, lastName]
	    columns:
	      - {name: email, type: text}
	      - {name: firstName, type: text}
	      - {name: lastName, type: text}
	      - {name: createdAt, type: timestamp, generate: now}

A table without an explicit primary_key gets an "id" text column with a random
identifier generator as its primary key. The registry has no mutation API; unknown
tables are reported by Describe returning false.
*/
package registry

import (
	"fmt"
	"sort"
	"strings"
)

// ColumnType is the semantic type of a column
type ColumnType string

// all supported column types
const (
	TypeText      ColumnType = "text"
	TypeInteger   ColumnType = "integer"
	TypeNumber    ColumnType = "number"
	TypeTimestamp ColumnType = "timestamp"
	TypeEnum      ColumnType = "enum"
)

// Generator is the default value generator of a column. It is applied on insert
// when the column is omitted from the entry.
type Generator string

// all supported generators
const (
	GenerateNone     Generator = ""
	GenerateStatic   Generator = "static"
	GenerateNow      Generator = "now"
	GenerateRandomID Generator = "random_id"
)

// DefaultPrimaryKey is the name of the implicit primary key column
const DefaultPrimaryKey = "id"

// Reference is a foreign key reference to a column of another table
type Reference struct {
	Table  string `yaml:"table" json:"table"`
	Column string `yaml:"column" json:"column"`
}

// ColumnDescriptor describes a single column
type ColumnDescriptor struct {
	Name       string      `yaml:"name" json:"name"`
	Type       ColumnType  `yaml:"type" json:"type"`
	Enum       []string    `yaml:"enum,omitempty" json:"enum,omitempty"`
	Nullable   bool        `yaml:"nullable,omitempty" json:"nullable,omitempty"`
	Generate   Generator   `yaml:"generate,omitempty" json:"generate,omitempty"`
	Static     interface{} `yaml:"static,omitempty" json:"static,omitempty"`
	References *Reference  `yaml:"references,omitempty" json:"references,omitempty"`
}

// Ordering is an explicit sort order for queries on a table
type Ordering struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending"`
}

// TableDescriptor is the static metadata of a table. Descriptors returned by the
// registry are shared and must be treated as read-only.
type TableDescriptor struct {
	Name       string             `json:"name"`
	Columns    []ColumnDescriptor `json:"columns"`
	PrimaryKey string             `json:"primary_key"`
	// Required lists the columns a full replacement (PUT) must carry
	Required []string `json:"required,omitempty"`
	// OrderBy is applied to queries unless the caller asks for a different order
	OrderBy *Ordering `json:"order_by,omitempty"`
	// SerializeBy names a column whose value serializes writes in-process
	SerializeBy string `json:"serialize_by,omitempty"`

	index map[string]int
}

// Column returns the descriptor of the named column
func (t *TableDescriptor) Column(name string) (*ColumnDescriptor, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return &t.Columns[i], true
}

// HasColumn returns true if the table has the named column
func (t *TableDescriptor) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// ColumnNames returns the column names in declaration order
func (t *TableDescriptor) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i := range t.Columns {
		names[i] = t.Columns[i].Name
	}
	return names
}

// Registry is the immutable schema registry
type Registry struct {
	tables map[string]*TableDescriptor
	// declaration order, foreign key targets come first
	order []string
}

// New creates a registry from table declarations. It validates the declarations
// and returns an error for duplicate names, unknown types, or dangling references.
func New(declarations []TableDeclaration) (*Registry, error) {
	r := &Registry{tables: make(map[string]*TableDescriptor)}
	for _, decl := range declarations {
		t, err := decl.descriptor()
		if err != nil {
			return nil, err
		}
		if _, ok := r.tables[t.Name]; ok {
			return nil, fmt.Errorf("table %s declared twice", t.Name)
		}
		// references must point to tables declared earlier, this is also the
		// order in which tables can be created
		for _, c := range t.Columns {
			if c.References == nil {
				continue
			}
			target, ok := r.tables[c.References.Table]
			if c.References.Table == t.Name {
				target, ok = t, true
			}
			if !ok {
				return nil, fmt.Errorf("table %s: column %s references unknown table %s", t.Name, c.Name, c.References.Table)
			}
			if !target.HasColumn(c.References.Column) {
				return nil, fmt.Errorf("table %s: column %s references unknown column %s.%s",
					t.Name, c.Name, c.References.Table, c.References.Column)
			}
		}
		r.tables[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	return r, nil
}

// Describe returns the descriptor for the named table; if the table does
// not exist, it returns nil and false.
func (r *Registry) Describe(name string) (*TableDescriptor, bool) {
	t, ok := r.tables[name]
	return t, ok
}

// List returns the names of all tables, sorted
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tables returns all descriptors in declaration order
func (r *Registry) Tables() []*TableDescriptor {
	tables := make([]*TableDescriptor, len(r.order))
	for i, name := range r.order {
		tables[i] = r.tables[name]
	}
	return tables
}

func (c *ColumnDescriptor) validate(table string) error {
	if len(c.Name) == 0 {
		return fmt.Errorf("table %s: column without name", table)
	}
	switch c.Type {
	case TypeText, TypeInteger, TypeNumber, TypeTimestamp:
		if len(c.Enum) > 0 {
			return fmt.Errorf("table %s: column %s has enum values but type %s", table, c.Name, c.Type)
		}
	case TypeEnum:
		if len(c.Enum) == 0 {
			return fmt.Errorf("table %s: enum column %s has no values", table, c.Name)
		}
	default:
		return fmt.Errorf("table %s: column %s has unknown type '%s'", table, c.Name, c.Type)
	}

	switch c.Generate {
	case GenerateNone:
		if c.Static != nil {
			return fmt.Errorf("table %s: column %s has a static value but no static generator", table, c.Name)
		}
	case GenerateStatic:
		if c.Static == nil {
			return fmt.Errorf("table %s: column %s has a static generator without value", table, c.Name)
		}
	case GenerateNow:
		if c.Type != TypeTimestamp {
			return fmt.Errorf("table %s: column %s generates now but is of type %s", table, c.Name, c.Type)
		}
	case GenerateRandomID:
		if c.Type != TypeText {
			return fmt.Errorf("table %s: column %s generates random identifiers but is of type %s", table, c.Name, c.Type)
		}
	default:
		return fmt.Errorf("table %s: column %s has unknown generator '%s'", table, c.Name, c.Generate)
	}

	if c.References != nil && (len(c.References.Table) == 0 || len(c.References.Column) == 0) {
		return fmt.Errorf("table %s: column %s has an incomplete reference", table, c.Name)
	}
	return nil
}

// parseOrdering parses "column" or "column asc|desc"
func parseOrdering(s string) (*Ordering, error) {
	fields := strings.Fields(s)
	switch len(fields) {
	case 0:
		return nil, nil
	case 1:
		return &Ordering{Column: fields[0]}, nil
	case 2:
		switch strings.ToLower(fields[1]) {
		case "asc":
			return &Ordering{Column: fields[0]}, nil
		case "desc":
			return &Ordering{Column: fields[0], Descending: true}, nil
		}
	}
	return nil, fmt.Errorf("cannot parse order '%s', must be 'column [asc|desc]'", s)
}
