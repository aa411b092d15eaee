// internal/schema/dialect.go
//
// Metadata queries per database engine.
//
// Context
// -------
// Production runs on MySQL/MariaDB, where information_schema is scoped to
// DATABASE().  Local tooling and integration tests run on SQLite through
// modernc.org/sqlite, where the same facts come from the table-valued
// pragma functions.  A Dialect hides that difference from Load().
//
// Notes
// -----
// • Both engines accept `?` placeholders and back-tick identifiers.
// • SQLite has no row locks, so LockSuffix() is empty there.
package schema

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Dialect describes one database engine.
type Dialect interface {
	Name() string
	LoadColumns(ctx context.Context, q sqlx.QueryerContext) ([]Column, error)
	LoadForeignKeys(ctx context.Context, q sqlx.QueryerContext) ([]Edge, error)
	// LockSuffix is appended to SELECTs that must lock rows inside a
	// transaction.
	LockSuffix() string
}

// DialectFor returns the dialect for a database/sql driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "mysql":
		return MySQL{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	default:
		return nil, fmt.Errorf("schema: unsupported driver %q", driver)
	}
}

//
// MySQL / MariaDB
//

// MySQL reads information_schema for the connection's default database.
type MySQL struct{}

func (MySQL) Name() string       { return "mysql" }
func (MySQL) LockSuffix() string { return " FOR UPDATE" }

const mysqlColumnsQuery = `SELECT TABLE_NAME, COLUMN_NAME, COLUMN_KEY = 'PRI'
  FROM information_schema.COLUMNS
 WHERE TABLE_SCHEMA = DATABASE()
 ORDER BY TABLE_NAME, ORDINAL_POSITION`

const mysqlForeignKeysQuery = `SELECT TABLE_NAME, COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
  FROM information_schema.KEY_COLUMN_USAGE
 WHERE TABLE_SCHEMA = DATABASE()
   AND REFERENCED_TABLE_SCHEMA = DATABASE()
   AND REFERENCED_TABLE_NAME IS NOT NULL
 ORDER BY TABLE_NAME, COLUMN_NAME`

func (MySQL) LoadColumns(ctx context.Context, q sqlx.QueryerContext) ([]Column, error) {
	return scanColumns(ctx, q, mysqlColumnsQuery)
}

func (MySQL) LoadForeignKeys(ctx context.Context, q sqlx.QueryerContext) ([]Edge, error) {
	return scanEdges(ctx, q, mysqlForeignKeysQuery)
}

//
// SQLite
//

// SQLite reads sqlite_master joined with the pragma table functions.
type SQLite struct{}

func (SQLite) Name() string       { return "sqlite" }
func (SQLite) LockSuffix() string { return "" }

const sqliteColumnsQuery = `SELECT m.name, p.name, p.pk > 0
  FROM sqlite_master m
  JOIN pragma_table_info(m.name) p
 WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%'
 ORDER BY m.name, p.cid`

const sqliteForeignKeysQuery = `SELECT m.name, p."from", p."table", COALESCE(p."to", '')
  FROM sqlite_master m
  JOIN pragma_foreign_key_list(m.name) p
 WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%'
 ORDER BY m.name, p.id, p.seq`

func (SQLite) LoadColumns(ctx context.Context, q sqlx.QueryerContext) ([]Column, error) {
	return scanColumns(ctx, q, sqliteColumnsQuery)
}

func (SQLite) LoadForeignKeys(ctx context.Context, q sqlx.QueryerContext) ([]Edge, error) {
	return scanEdges(ctx, q, sqliteForeignKeysQuery)
}

//
// shared scanners
//

func scanColumns(ctx context.Context, q sqlx.QueryerContext, query string) ([]Column, error) {
	rows, err := q.QueryxContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make([]Column, 0, 128)
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Table, &c.Name, &c.PK); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func scanEdges(ctx context.Context, q sqlx.QueryerContext, query string) ([]Edge, error) {
	rows, err := q.QueryxContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.Table, &e.Column, &e.ReferencedTable, &e.ReferencedColumn); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
