// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package schema validates the shape of entries against JSON schemas derived from
// the table registry. Only presence of required fields and enum membership are
// checked here, value coercion is done by the gateway.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"

	"github.com/relabs-tech/gardenbase/core/gateway"
	"github.com/relabs-tech/gardenbase/core/registry"
)

// Validator is a utility to validate JSON objects against a set of schemas
type Validator struct {
	schemaValidators map[string]*gojsonschema.Schema
	// required columns which must not be null, by schema id
	notNull map[string][]string
}

// SchemaID returns the $id of the generated schema for a table
func SchemaID(table string) string {
	return "https://gardenbase.relabs.tech/schemas/" + table + ".json"
}

// TableSchema generates the JSON schema of a full entry of the table
func TableSchema(t *registry.TableDescriptor) map[string]interface{} {
	properties := map[string]interface{}{}
	for i := range t.Columns {
		c := &t.Columns[i]
		if c.Type != registry.TypeEnum {
			properties[c.Name] = map[string]interface{}{}
			continue
		}
		values := make([]interface{}, 0, len(c.Enum)+1)
		for _, v := range c.Enum {
			values = append(values, v)
		}
		if c.Nullable {
			values = append(values, nil)
		}
		properties[c.Name] = map[string]interface{}{"enum": values}
	}
	s := map[string]interface{}{
		"$id":        SchemaID(t.Name),
		"type":       "object",
		"properties": properties,
	}
	if len(t.Required) > 0 {
		s["required"] = t.Required
	}
	return s
}

// NewValidatorFromRegistry creates a validator with one schema per table of the registry
func NewValidatorFromRegistry(r *registry.Registry) (*Validator, error) {
	var schemas []string
	for _, t := range r.Tables() {
		s, err := json.Marshal(TableSchema(t))
		if err != nil {
			return nil, fmt.Errorf("cannot marshal schema of %s: %w", t.Name, err)
		}
		schemas = append(schemas, string(s))
	}
	validator, err := NewValidator(schemas)
	if err != nil {
		return nil, err
	}
	for _, t := range r.Tables() {
		for _, name := range t.Required {
			if c, ok := t.Column(name); ok && !c.Nullable {
				validator.notNull[SchemaID(t.Name)] = append(validator.notNull[SchemaID(t.Name)], name)
			}
		}
	}
	return validator, nil
}

// NewValidator creates a new Validator from top level JSON schemas. Each schema must
// carry an $id.
func NewValidator(schemas []string) (*Validator, error) {
	type schema struct {
		ID string `json:"$id"`
	}
	validator := Validator{
		schemaValidators: make(map[string]*gojsonschema.Schema),
		notNull:          make(map[string][]string),
	}
	for _, str := range schemas {
		s := schema{}
		err := json.Unmarshal([]byte(str), &s)
		if err != nil {
			return nil, fmt.Errorf("parse error '%v' in schema: '%s'", err, str)
		}
		if s.ID == "" {
			return nil, fmt.Errorf("schema does not contain $id: '%s'", str)
		}
		compiled, err := gojsonschema.NewSchemaLoader().Compile(gojsonschema.NewStringLoader(str))
		if err != nil {
			return nil, fmt.Errorf("cannot compile schema %s %s", s.ID, err)
		}
		validator.schemaValidators[s.ID] = compiled
	}
	return &validator, nil
}

// HasSchema returns true if schemaID is known
func (v *Validator) HasSchema(schemaID string) bool {
	_, ok := v.schemaValidators[schemaID]
	return ok
}

// ValidateEntry validates an entry against the schema of the table. Missing required
// fields, and required fields which are null but not nullable, are reported as *gateway.IncompleteEntryError, enum violations as
// *gateway.InvalidValueError.
func (v *Validator) ValidateEntry(table string, entry map[string]interface{}) error {
	schema, ok := v.schemaValidators[SchemaID(table)]
	if !ok {
		return &gateway.TableNotFoundError{Table: table}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(entry))
	if err != nil {
		return fmt.Errorf("cannot validate with schema %s: %w", SchemaID(table), err)
	}

	var (
		missing []string
		invalid []string
	)
	// a null value does not satisfy a required column which is not nullable
	for _, name := range v.notNull[SchemaID(table)] {
		if value, ok := entry[name]; ok && value == nil {
			missing = append(missing, name)
		}
	}
	if result.Valid() && len(missing) == 0 {
		return nil
	}

	for _, e := range result.Errors() {
		if e.Type() == "required" {
			if property, ok := e.Details()["property"].(string); ok {
				missing = append(missing, property)
			}
			continue
		}
		invalid = append(invalid, e.Field()+": "+e.Description())
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &gateway.IncompleteEntryError{MissingFields: missing}
	}
	if len(invalid) > 0 {
		column := strings.SplitN(invalid[0], ":", 2)[0]
		return &gateway.InvalidValueError{Column: column, Reason: strings.Join(invalid, "; ")}
	}
	return errors.New("the document is not valid")
}
