package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Dialect abstracts database-specific SQL generation and behavior.
type Dialect interface {
	// Name returns "postgres" or "sqlite".
	Name() string

	// DriverName returns the database/sql driver name ("pgx" or "sqlite").
	DriverName() string

	// Placeholder returns the parameter placeholder for the given 1-based index.
	Placeholder(index int) string

	NewParamBuilder() ParamBuilder

	// NowExpr returns the SQL expression for the current timestamp.
	NowExpr() string

	// ColumnType maps a property type to the DDL type.
	ColumnType(propertyType string, precision int) string

	// KeyColumn returns the DDL of a key column of the given property type.
	// Integer keys are generated by the database.
	KeyColumn(name, propertyType string) string

	// SystemTablesSQL returns the DDL for the system tables.
	SystemTablesSQL() string

	TableExists(ctx context.Context, db *sql.DB, tableName string) (bool, error)

	// GetColumns returns existing column names and types for a table.
	GetColumns(ctx context.Context, db *sql.DB, tableName string) (map[string]string, error)

	// IntervalDeleteExpr returns SQL matching rows older than N days.
	IntervalDeleteExpr(createdAtCol string, pb ParamBuilder, days string) string

	// ArrayParam encodes a string slice for storage.
	// PostgreSQL: the slice as-is (TEXT[]). SQLite: a JSON string.
	ArrayParam(values []string) any

	// ScanArray decodes a TEXT[] (PostgreSQL) or JSON string (SQLite).
	ScanArray(src any) ([]string, error)

	// SyncCommitOff returns SQL to disable synchronous commit in a
	// transaction, or "" if not applicable.
	SyncCommitOff() string

	// MapError maps a driver error to a sentinel error where one applies.
	MapError(err error) error

	// NeedsBoolFix reports whether booleans come back as integers.
	NeedsBoolFix() bool
}

// ParamBuilder accumulates query parameters and generates dialect-specific placeholders.
type ParamBuilder interface {
	// Add appends a value and returns its placeholder.
	Add(v any) string
	Params() []any
	Count() int
}

// NewDialect creates a Dialect for the given driver name ("postgres" or "sqlite").
func NewDialect(driver string) Dialect {
	switch driver {
	case "sqlite":
		return &SQLiteDialect{}
	default:
		return &PostgresDialect{}
	}
}

type paramBuilder struct {
	params []any
	format string
}

func (p *paramBuilder) Add(v any) string {
	p.params = append(p.params, v)
	return fmt.Sprintf(p.format, len(p.params))
}

func (p *paramBuilder) Params() []any { return p.params }
func (p *paramBuilder) Count() int    { return len(p.params) }
