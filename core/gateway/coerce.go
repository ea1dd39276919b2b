package gateway

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/gardenbase/core/registry"
)

// coerce converts a value of an untyped entry into the representation used for
// the column's semantic type: string, int64, float64 or time.Time. Nil stays nil,
// not-null constraints are left to the store.
func coerce(c *registry.ColumnDescriptor, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	if n, ok := value.(json.Number); ok {
		return coerceString(c, string(n))
	}
	if s, ok := value.(string); ok {
		return coerceString(c, s)
	}

	invalid := func() (interface{}, error) {
		return nil, &InvalidValueError{Column: c.Name, Reason: fmt.Sprintf("cannot use %T as %s", value, c.Type)}
	}

	switch c.Type {
	case registry.TypeText:
		switch v := value.(type) {
		case int, int32, int64, float64, float32, bool:
			return fmt.Sprint(v), nil
		}
		return invalid()

	case registry.TypeInteger:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		case float32:
			return integral(c, float64(v))
		case float64:
			return integral(c, v)
		}
		return invalid()

	case registry.TypeNumber:
		switch v := value.(type) {
		case int:
			return float64(v), nil
		case int32:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case float32:
			return float64(v), nil
		case float64:
			return v, nil
		}
		return invalid()

	case registry.TypeTimestamp:
		if t, ok := value.(time.Time); ok {
			return t.UTC(), nil
		}
		return invalid()
	}
	return invalid()
}

func integral(c *registry.ColumnDescriptor, f float64) (interface{}, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, &InvalidValueError{Column: c.Name, Reason: fmt.Sprintf("%v is not an integer", f)}
	}
	return int64(f), nil
}

// coerceString is the best-effort string coercion used for query parameters
// and string-typed body values
func coerceString(c *registry.ColumnDescriptor, s string) (interface{}, error) {
	switch c.Type {
	case registry.TypeText:
		return s, nil
	case registry.TypeInteger:
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, &InvalidValueError{Column: c.Name, Reason: "'" + s + "' is not an integer"}
		}
		return i, nil
	case registry.TypeNumber:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, &InvalidValueError{Column: c.Name, Reason: "'" + s + "' is not a number"}
		}
		return f, nil
	case registry.TypeTimestamp:
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
		if err != nil {
			return nil, &InvalidValueError{Column: c.Name, Reason: "'" + s + "' is not an RFC3339 timestamp"}
		}
		return t.UTC(), nil
	case registry.TypeEnum:
		for _, v := range c.Enum {
			if v == s {
				return s, nil
			}
		}
		return nil, &InvalidValueError{Column: c.Name, Reason: "'" + s + "' is not one of " + strings.Join(c.Enum, ", ")}
	}
	return nil, &InvalidValueError{Column: c.Name, Reason: "unsupported column type " + string(c.Type)}
}

// normalize converts a scanned store value into the row representation
func normalize(c *registry.ColumnDescriptor, value interface{}) interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		value = string(v)
	case time.Time:
		return v.UTC()
	}
	switch c.Type {
	case registry.TypeNumber:
		if i, ok := value.(int64); ok {
			return float64(i)
		}
	case registry.TypeInteger:
		if f, ok := value.(float64); ok {
			return int64(f)
		}
		if s, ok := value.(string); ok {
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return i
			}
		}
	case registry.TypeTimestamp:
		if s, ok := value.(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return t.UTC()
			}
		}
	}
	return value
}
