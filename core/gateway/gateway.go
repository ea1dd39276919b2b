/*
Package gateway implements the entry gateway, the only component which talks to the
backing store.

The gateway inserts entries into named tables, queries them with equality conditions
and updates or deletes single rows by primary key. Updates and deletes first look up
the rows matching the primary key and require exactly one match; they do not trust
the store's uniqueness enforcement. There is no isolation between the lookup and the
write, concurrent writers to the same row are last-write-wins.
*/
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/gardenbase/core/csql"
	"github.com/relabs-tech/gardenbase/core/logger"
	"github.com/relabs-tech/gardenbase/core/registry"
)

// DefaultLimit is the number of rows a query returns if the caller does not specify a limit
const DefaultLimit = 100

// Entry is a candidate row, a mapping from column name to value
type Entry map[string]interface{}

// Row is a row as read back from the store. Values are string, int64, float64,
// time.Time or nil.
type Row map[string]interface{}

// QueryOptions are optional parameters of Query
type QueryOptions struct {
	// Limit is the maximum number of rows, DefaultLimit if zero
	Limit int
	// OrderBy overrides the order declared for the table
	OrderBy *registry.Ordering
}

// InvalidEntry is an entry of a batch update which could not be applied
type InvalidEntry struct {
	Entry  Entry  `json:"entry"`
	Reason string `json:"reason"`
}

// BatchResult is the tally of a best-effort batch update
type BatchResult struct {
	ValidCount     int            `json:"validCount"`
	InvalidEntries []InvalidEntry `json:"invalidEntries"`
	// Updated are the rows as stored after the update, in entry order
	Updated []Row `json:"-"`
}

// Gateway is the entry gateway
type Gateway struct {
	db       *csql.DB
	registry *registry.Registry
	locks    *keyLock

	// Now returns the timestamp used by "now" generators
	Now func() time.Time
	// NewID returns identifiers for "random_id" generators
	NewID func() string
}

// New returns a gateway for the tables of the registry in db
func New(db *csql.DB, r *registry.Registry) *Gateway {
	return &Gateway{
		db:       db,
		registry: r,
		locks:    newKeyLock(),
		Now:      func() time.Time { return time.Now().UTC() },
		NewID:    func() string { return uuid.New().String() },
	}
}

// Registry returns the schema registry of the gateway
func (g *Gateway) Registry() *registry.Registry {
	return g.registry
}

// Describe returns the descriptor of the named table or a TableNotFoundError
func (g *Gateway) Describe(table string) (*registry.TableDescriptor, error) {
	t, ok := g.registry.Describe(table)
	if !ok {
		return nil, &TableNotFoundError{Table: table}
	}
	return t, nil
}

// Insert inserts an entry into the table. Omitted or null columns with a generator
// get their generated value. It returns the materialized row as stored.
func (g *Gateway) Insert(ctx context.Context, table string, entry Entry) (Row, error) {
	t, err := g.Describe(table)
	if err != nil {
		return nil, err
	}
	values, err := g.prepare(t, entry)
	if err != nil {
		return nil, err
	}
	for i := range t.Columns {
		c := &t.Columns[i]
		// null counts as omitted for generated columns
		if v, ok := values[c.Name]; ok && (v != nil || c.Generate == registry.GenerateNone) {
			continue
		}
		switch c.Generate {
		case registry.GenerateRandomID:
			values[c.Name] = g.NewID()
		case registry.GenerateNow:
			values[c.Name] = g.Now().UTC()
		case registry.GenerateStatic:
			v, err := coerce(c, c.Static)
			if err != nil {
				return nil, fmt.Errorf("%w: static default of %s: %v", ErrInternal, c.Name, err)
			}
			values[c.Name] = v
		}
	}

	var (
		columns      []string
		placeholders []string
		parameters   []interface{}
	)
	for _, name := range t.ColumnNames() {
		value, ok := values[name]
		if !ok {
			continue
		}
		parameters = append(parameters, value)
		columns = append(columns, csql.Quote(name))
		placeholders = append(placeholders, g.db.Placeholder(len(parameters)))
	}
	insertQuery := "INSERT INTO " + g.db.Table(t.Name) +
		" (" + strings.Join(columns, ", ") + ") VALUES (" + strings.Join(placeholders, ", ") + ");"

	if unlock := g.serialize(t, values); unlock != nil {
		defer unlock()
	}

	if _, err := g.db.ExecContext(ctx, insertQuery, parameters...); err != nil {
		if csql.IsConstraintViolation(err) {
			return nil, fmt.Errorf("%w: %v", ErrInsertFailed, err)
		}
		return nil, fmt.Errorf("%w: cannot execute `%s`: %v", ErrInternal, insertQuery, err)
	}

	rows, err := g.selectByPrimaryKey(ctx, t, values[t.PrimaryKey], 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: inserted %s row %v vanished", ErrInternal, t.Name, values[t.PrimaryKey])
	}
	return rows[0], nil
}

// Query returns the rows of the table matching the condition
func (g *Gateway) Query(ctx context.Context, table string, condition Condition, options QueryOptions) ([]Row, error) {
	t, err := g.Describe(table)
	if err != nil {
		return nil, err
	}
	condition, err = condition.validate(t)
	if err != nil {
		return nil, err
	}
	limit := options.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	ordering := t.OrderBy
	if options.OrderBy != nil {
		if !t.HasColumn(options.OrderBy.Column) {
			return nil, &UnknownColumnError{Table: t.Name, Column: options.OrderBy.Column}
		}
		ordering = options.OrderBy
	}
	return g.selectRows(ctx, t, condition, ordering, limit)
}

// Get returns the single row with the primary key id
func (g *Gateway) Get(ctx context.Context, table string, id interface{}) (Row, error) {
	t, err := g.Describe(table)
	if err != nil {
		return nil, err
	}
	return g.matchOne(ctx, t, id)
}

// UpdateByPrimaryKey updates the row identified by the primary key in entry with
// the other values of entry. The primary key must match exactly one row. It
// returns the row as stored after the update.
func (g *Gateway) UpdateByPrimaryKey(ctx context.Context, table string, entry Entry) (Row, error) {
	t, err := g.Describe(table)
	if err != nil {
		return nil, err
	}
	id, ok := entry[t.PrimaryKey]
	if !ok || id == nil {
		return nil, ErrMissingPrimaryKey
	}
	values, err := g.prepare(t, entry)
	if err != nil {
		return nil, err
	}
	id = values[t.PrimaryKey]

	existing, err := g.matchOne(ctx, t, id)
	if err != nil {
		return nil, err
	}

	var (
		sets       []string
		parameters []interface{}
	)
	for _, name := range t.ColumnNames() {
		value, ok := values[name]
		if !ok || name == t.PrimaryKey {
			continue
		}
		parameters = append(parameters, value)
		sets = append(sets, csql.Quote(name)+" = "+g.db.Placeholder(len(parameters)))
	}

	if unlock := g.serialize(t, existing); unlock != nil {
		defer unlock()
	}

	if len(sets) > 0 {
		parameters = append(parameters, id)
		updateQuery := "UPDATE " + g.db.Table(t.Name) + " SET " + strings.Join(sets, ", ") +
			" WHERE " + csql.Quote(t.PrimaryKey) + " = " + g.db.Placeholder(len(parameters)) + ";"
		if _, err := g.db.ExecContext(ctx, updateQuery, parameters...); err != nil {
			if csql.IsConstraintViolation(err) {
				return nil, fmt.Errorf("%w: %v", ErrInsertFailed, err)
			}
			return nil, fmt.Errorf("%w: cannot execute `%s`: %v", ErrInternal, updateQuery, err)
		}
	}

	// re-read, generated or computed columns may differ from what was supplied
	return g.matchOne(ctx, t, id)
}

// DeleteByPrimaryKey deletes the row with the primary key id. The primary key must
// match exactly one row. It returns the deleted row.
func (g *Gateway) DeleteByPrimaryKey(ctx context.Context, table string, id interface{}) (Row, error) {
	t, err := g.Describe(table)
	if err != nil {
		return nil, err
	}
	existing, err := g.matchOne(ctx, t, id)
	if err != nil {
		return nil, err
	}
	id = existing[t.PrimaryKey]

	if unlock := g.serialize(t, existing); unlock != nil {
		defer unlock()
	}

	deleteQuery := "DELETE FROM " + g.db.Table(t.Name) + " WHERE " + csql.Quote(t.PrimaryKey) + " = " + g.db.Placeholder(1) + ";"
	if _, err := g.db.ExecContext(ctx, deleteQuery, id); err != nil {
		if csql.IsConstraintViolation(err) {
			return nil, fmt.Errorf("%w: %v", ErrInsertFailed, err)
		}
		return nil, fmt.Errorf("%w: cannot execute `%s`: %v", ErrInternal, deleteQuery, err)
	}
	return existing, nil
}

// UpdateMany applies UpdateByPrimaryKey to every entry independently. It continues
// past failing entries and reports them in the result; there is no transaction
// across the batch. The error is only set if the table does not exist.
func (g *Gateway) UpdateMany(ctx context.Context, table string, entries []Entry) (BatchResult, error) {
	result := BatchResult{InvalidEntries: []InvalidEntry{}}
	if _, err := g.Describe(table); err != nil {
		return result, err
	}
	rlog := logger.FromContext(ctx)
	for _, entry := range entries {
		row, err := g.UpdateByPrimaryKey(ctx, table, entry)
		if err == nil {
			result.ValidCount++
			result.Updated = append(result.Updated, row)
			continue
		}
		reason := err.Error()
		switch {
		case IsExpected(err):
		case errors.Is(err, ErrInsertFailed):
			rlog.WithError(err).Infof("batch update of %s rejected by store", table)
			reason = ErrInsertFailed.Error()
		default:
			rlog.WithError(err).Errorf("Error 4761: batch update of %s", table)
			reason = ErrInternal.Error()
		}
		result.InvalidEntries = append(result.InvalidEntries, InvalidEntry{Entry: entry, Reason: reason})
	}
	return result, nil
}

// prepare checks that all keys of the entry are columns of the table and
// coerces the values to their column types
func (g *Gateway) prepare(t *registry.TableDescriptor, entry Entry) (map[string]interface{}, error) {
	values := make(map[string]interface{}, len(entry))
	for key, value := range entry {
		c, ok := t.Column(key)
		if !ok {
			return nil, &UnknownColumnError{Table: t.Name, Column: key}
		}
		v, err := coerce(c, value)
		if err != nil {
			return nil, err
		}
		values[key] = v
	}
	return values, nil
}

// matchOne looks up the rows with primary key id and requires exactly one
func (g *Gateway) matchOne(ctx context.Context, t *registry.TableDescriptor, id interface{}) (Row, error) {
	if id == nil || id == "" {
		return nil, ErrMissingPrimaryKey
	}
	pk, _ := t.Column(t.PrimaryKey)
	id, err := coerce(pk, id)
	if err != nil {
		return nil, err
	}
	// two are enough to detect ambiguity
	rows, err := g.selectByPrimaryKey(ctx, t, id, 2)
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, ErrNoMatch
	case 1:
		return rows[0], nil
	default:
		return nil, ErrAmbiguousMatch
	}
}

func (g *Gateway) selectByPrimaryKey(ctx context.Context, t *registry.TableDescriptor, id interface{}, limit int) ([]Row, error) {
	return g.selectRows(ctx, t, Where(t.PrimaryKey, id), nil, limit)
}

func (g *Gateway) selectRows(ctx context.Context, t *registry.TableDescriptor, condition Condition,
	ordering *registry.Ordering, limit int) ([]Row, error) {

	columns := t.ColumnNames()
	quoted := make([]string, len(columns))
	for i, name := range columns {
		quoted[i] = csql.Quote(name)
	}
	where, parameters := condition.where(g.db, 0)
	sqlQuery := "SELECT " + strings.Join(quoted, ", ") + " FROM " + g.db.Table(t.Name) + where
	if ordering != nil {
		sqlQuery += " ORDER BY " + csql.Quote(ordering.Column)
		if ordering.Descending {
			sqlQuery += " DESC"
		} else {
			sqlQuery += " ASC"
		}
	}
	parameters = append(parameters, limit)
	sqlQuery += " LIMIT " + g.db.Placeholder(len(parameters)) + ";"

	rows, err := g.db.QueryContext(ctx, sqlQuery, parameters...)
	if err != nil {
		if csql.IsInvalidTextRepresentation(err) {
			return nil, &InvalidValueError{Column: t.PrimaryKey, Reason: err.Error()}
		}
		return nil, fmt.Errorf("%w: cannot execute query `%s`: %v", ErrInternal, sqlQuery, err)
	}
	defer rows.Close()

	result := []Row{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("%w: cannot scan values: %v", ErrInternal, err)
		}
		row := make(Row, len(columns))
		for i := range t.Columns {
			row[columns[i]] = normalize(&t.Columns[i], values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return result, nil
}

// serialize locks the per-key mutex if the table serializes writes
func (g *Gateway) serialize(t *registry.TableDescriptor, values map[string]interface{}) func() {
	if len(t.SerializeBy) == 0 {
		return nil
	}
	value, ok := values[t.SerializeBy]
	if !ok || value == nil {
		return nil
	}
	return g.locks.lock(t.Name + "/" + fmt.Sprint(value))
}
