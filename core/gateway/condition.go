package gateway

import (
	"sort"
	"strings"

	"github.com/relabs-tech/gardenbase/core/csql"
	"github.com/relabs-tech/gardenbase/core/registry"
)

// Clause is a single equality match on a column
type Clause struct {
	Column string
	Value  interface{}
}

// Condition is a conjunction of equality clauses. An empty condition matches
// all rows.
//
// There is deliberately no support for OR, ranges, or partial text matches.
type Condition []Clause

// Where is a convenience constructor for programmatic callers. Values are
// coerced by the gateway like entry values.
func Where(column string, value interface{}) Condition {
	return Condition{{Column: column, Value: value}}
}

// And returns a new condition with an additional clause
func (c Condition) And(column string, value interface{}) Condition {
	return append(append(Condition{}, c...), Clause{Column: column, Value: value})
}

// BuildCondition translates query-parameter-style key/value pairs into a validated
// condition for the table. Keys must be columns of the table, values are coerced
// to the column type.
func BuildCondition(t *registry.TableDescriptor, params map[string]string) (Condition, error) {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	condition := Condition{}
	for _, key := range keys {
		c, ok := t.Column(key)
		if !ok {
			return nil, &UnknownColumnError{Table: t.Name, Column: key}
		}
		value, err := coerceString(c, params[key])
		if err != nil {
			return nil, err
		}
		condition = append(condition, Clause{Column: key, Value: value})
	}
	return condition, nil
}

// validate checks the columns of the condition and coerces its values
func (c Condition) validate(t *registry.TableDescriptor) (Condition, error) {
	validated := make(Condition, len(c))
	for i, clause := range c {
		column, ok := t.Column(clause.Column)
		if !ok {
			return nil, &UnknownColumnError{Table: t.Name, Column: clause.Column}
		}
		value, err := coerce(column, clause.Value)
		if err != nil {
			return nil, err
		}
		validated[i] = Clause{Column: clause.Column, Value: value}
	}
	return validated, nil
}

// where renders the condition as WHERE clause. Bind parameters start after
// offset. A single clause is rendered directly, several are joined with AND.
func (c Condition) where(db *csql.DB, offset int) (string, []interface{}) {
	if len(c) == 0 {
		return "", nil
	}
	var (
		clauses    []string
		parameters []interface{}
	)
	for _, clause := range c {
		if clause.Value == nil {
			clauses = append(clauses, csql.Quote(clause.Column)+" IS NULL")
			continue
		}
		parameters = append(parameters, clause.Value)
		clauses = append(clauses, csql.Quote(clause.Column)+" = "+db.Placeholder(offset+len(parameters)))
	}
	return " WHERE " + strings.Join(clauses, " AND "), parameters
}
