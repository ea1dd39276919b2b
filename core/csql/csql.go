package csql

import (
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/lib/pq" // load database driver for postgres
	"github.com/mattn/go-sqlite3"

	"github.com/relabs-tech/gardenbase/core/logger"
)

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// DB encapsulates a standard sql.DB with a schema and the
// dialect of the driver it was opened with
type DB struct {
	*sql.DB
	Schema string
	Driver string
}

// ErrNoRows is returned by Scan when QueryRow doesn't return a
// row. In such a case, QueryRow returns a placeholder *Row value that
// defers this error until a Scan.
var ErrNoRows = sql.ErrNoRows

// OpenWithSchema opens a postgres database with a schema.
// The schema gets created if it does not exist yet.
func OpenWithSchema(dataSourceName, password, schema string) *DB {
	nillog := logger.Default()
	nillog.Infoln("connecting to postgres database: ", dataSourceName)
	if len(password) > 0 {
		dataSourceName += " password=" + password
	}
	db, err := sql.Open(DriverPostgres, dataSourceName)
	if err != nil {
		panic(err)
	}
	err = db.Ping()
	if err != nil {
		panic(err)
	}
	if len(schema) == 0 {
		schema = "public"
	} else {
		nillog.Infoln("selected database schema:", schema)
		_, err = db.Exec(`CREATE schema IF NOT EXISTS ` + schema + `;`)
		if err != nil {
			panic(err)
		}
	}
	return &DB{DB: db, Schema: schema, Driver: DriverPostgres}
}

// OpenSQLite opens a sqlite database. Foreign keys are switched on, so that
// referential integrity is enforced by the store as it is with postgres.
//
// For a private in-memory database use a DSN like "file:name?mode=memory&cache=shared".
func OpenSQLite(dataSourceName string) (*DB, error) {
	if strings.Contains(dataSourceName, "?") {
		dataSourceName += "&_foreign_keys=on"
	} else {
		dataSourceName += "?_foreign_keys=on"
	}
	db, err := sql.Open(DriverSQLite, dataSourceName)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers anyway, a single connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{DB: db, Schema: "main", Driver: DriverSQLite}, nil
}

// ClearSchema clears all the data contained in the database's schema
// Technically this is done by dropping the schema and then recreating it
func (db *DB) ClearSchema() {
	if db.Driver != DriverPostgres {
		return
	}
	if db.Schema == "public" {
		panic("refuse to drop public schema")
	}
	_, err := db.Exec(`DROP SCHEMA ` + db.Schema + ` CASCADE;
	CREATE schema IF NOT EXISTS ` + db.Schema + `;`)
	if err != nil {
		logger.Default().WithError(err).Errorln("clear schema error:", db.Schema)
	}
}

// Placeholder returns the n-th (1-based) bind parameter of the dialect
func (db *DB) Placeholder(n int) string {
	if db.Driver == DriverSQLite {
		return "?"
	}
	return "$" + strconv.Itoa(n)
}

// Quote quotes an identifier. Column names are camelCase and must keep their case.
func Quote(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

// Table returns the fully qualified and quoted name of a table
func (db *DB) Table(name string) string {
	return Quote(db.Schema) + "." + Quote(name)
}

// IsConstraintViolation returns true if err is an integrity constraint violation
// reported by the store, i.e. a not-null, foreign key, unique or check violation.
func IsConstraintViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// class 23 is integrity_constraint_violation
		return pqErr.Code.Class() == "23"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

// IsInvalidTextRepresentation returns true if the store rejected a value
// because it could not be converted to the column type (postgres 22P02)
func IsInvalidTextRepresentation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "22P02"
	}
	return false
}
