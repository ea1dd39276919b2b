package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/relabs-tech/gardenbase/core/csql"
	"github.com/relabs-tech/gardenbase/core/logger"
)

// CreateStatements returns one CREATE TABLE IF NOT EXISTS statement per table in
// declaration order. Tables are never altered once they exist.
func (r *Registry) CreateStatements(db *csql.DB) []string {
	var statements []string
	for _, t := range r.Tables() {
		statements = append(statements, createStatement(db, t))
	}
	return statements
}

// CreateTables creates all tables which do not exist yet
func (r *Registry) CreateTables(ctx context.Context, db *csql.DB) error {
	nillog := logger.FromContext(ctx)
	for i, statement := range r.CreateStatements(db) {
		nillog.Debugln("create table:", r.order[i])
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("cannot create table %s: %w", r.order[i], err)
		}
	}
	return nil
}

func createStatement(db *csql.DB, t *TableDescriptor) string {
	createColumns := make([]string, 0, len(t.Columns))
	for i := range t.Columns {
		c := &t.Columns[i]
		createColumn := csql.Quote(c.Name) + " " + sqlType(db.Driver, c.Type)
		if c.Name == t.PrimaryKey {
			createColumn += " NOT NULL PRIMARY KEY"
		} else if !c.Nullable {
			createColumn += " NOT NULL"
		}
		if c.Type == TypeEnum {
			values := make([]string, len(c.Enum))
			for j, v := range c.Enum {
				values[j] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
			}
			createColumn += " CHECK (" + csql.Quote(c.Name) + " IN (" + strings.Join(values, ",") + "))"
		}
		if c.References != nil {
			// sqlite does not accept schema qualified names in foreign key clauses
			target := csql.Quote(c.References.Table)
			if db.Driver == csql.DriverPostgres {
				target = db.Table(c.References.Table)
			}
			createColumn += " REFERENCES " + target + " (" + csql.Quote(c.References.Column) + ")"
		}
		createColumns = append(createColumns, createColumn)
	}
	return "CREATE TABLE IF NOT EXISTS " + db.Table(t.Name) + " (" + strings.Join(createColumns, ", ") + ");"
}

func sqlType(driver string, columnType ColumnType) string {
	switch columnType {
	case TypeInteger:
		if driver == csql.DriverSQLite {
			return "INTEGER"
		}
		return "BIGINT"
	case TypeNumber:
		if driver == csql.DriverSQLite {
			return "REAL"
		}
		return "DOUBLE PRECISION"
	case TypeTimestamp:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}
