package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// The error taxonomy of the gateway. Match with errors.Is; typed errors
// below unwrap to their sentinel.
var (
	ErrNotFound          = errors.New("not found")
	ErrUnknownColumn     = errors.New("unknown column")
	ErrInvalidValue      = errors.New("invalid value")
	ErrMissingPrimaryKey = errors.New("missing primary key")
	ErrNoMatch           = errors.New("no matching row")
	ErrAmbiguousMatch    = errors.New("ambiguous match")
	ErrIncompleteEntry   = errors.New("incomplete entry")
	ErrInsertFailed      = errors.New("insert failed")
	ErrInternal          = errors.New("internal error")
)

// TableNotFoundError is returned for tables the registry does not know
type TableNotFoundError struct {
	Table string
}

func (e *TableNotFoundError) Error() string {
	return "Table " + e.Table + " not found"
}

// Unwrap returns ErrNotFound
func (e *TableNotFoundError) Unwrap() error { return ErrNotFound }

// UnknownColumnError is returned when an entry or condition references a column
// the table does not have
type UnknownColumnError struct {
	Table  string
	Column string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("unknown column %s in table %s", e.Column, e.Table)
}

// Unwrap returns ErrUnknownColumn
func (e *UnknownColumnError) Unwrap() error { return ErrUnknownColumn }

// InvalidValueError is returned when a value cannot be coerced to the type of its column
type InvalidValueError struct {
	Column string
	Reason string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value for %s: %s", e.Column, e.Reason)
}

// Unwrap returns ErrInvalidValue
func (e *InvalidValueError) Unwrap() error { return ErrInvalidValue }

// IncompleteEntryError is returned when an entry lacks required fields
type IncompleteEntryError struct {
	MissingFields []string
}

func (e *IncompleteEntryError) Error() string {
	return "missing required fields: " + strings.Join(e.MissingFields, ", ")
}

// Unwrap returns ErrIncompleteEntry
func (e *IncompleteEntryError) Unwrap() error { return ErrIncompleteEntry }

// IsExpected returns true for errors a caller can recover from by fixing the request,
// as opposed to InsertFailed and Internal.
func IsExpected(err error) bool {
	for _, target := range []error{ErrNotFound, ErrUnknownColumn, ErrInvalidValue,
		ErrMissingPrimaryKey, ErrNoMatch, ErrAmbiguousMatch, ErrIncompleteEntry} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
