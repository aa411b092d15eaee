// Package database centralises sqlx connection helpers.  Production uses
// go-sql-driver/mysql (MySQL and MariaDB).  Local tooling and integration
// tests use modernc.org/sqlite, a pure-Go SQLite build, so no cgo is
// needed.
//
// Public entry points:
//
//	Open(dsn)                      – MySQL pool with conservative sizes.
//	OpenWithOptions(ctx, opts)     – either driver, fine-grained control.
//	OpenSQLite(path)               – file-backed SQLite with foreign keys on.
//
// Every helper pings before returning so callers can fail fast during
// bootstrap.  Callers should Close() the returned *sqlx.DB.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Driver names accepted by OpenWithOptions.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Options tunes one pool.
type Options struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingRetries     int
	RetryBackoff    time.Duration
}

// Open returns a MySQL *sqlx.DB with sane defaults: 15 max open, 5 idle,
// and a 30-minute connection lifetime.
func Open(dsn string) (*sqlx.DB, error) {
	return OpenWithOptions(context.Background(), Options{
		Driver:          DriverMySQL,
		DSN:             dsn,
		MaxOpenConns:    15,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	})
}

// OpenSQLite opens (or creates) the database file at path with foreign-key
// enforcement and a busy timeout on every connection.
func OpenSQLite(path string) (*sqlx.DB, error) {
	return OpenWithOptions(context.Background(), Options{
		Driver:       DriverSQLite,
		DSN:          SQLiteDSN(path),
		MaxOpenConns: 4,
		MaxIdleConns: 4,
	})
}

// SQLiteDSN builds the modernc DSN for path.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// OpenWithOptions opens a pool and pings it, retrying the ping up to
// opts.PingRetries times with exponential backoff so a database that is still starting does not
// abort bootstrap.
func OpenWithOptions(ctx context.Context, opts Options) (*sqlx.DB, error) {
	if opts.Driver == "" {
		opts.Driver = DriverMySQL
	}
	db, err := sqlx.Open(opts.Driver, opts.DSN)
	if err != nil {
		return nil, err
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	step := opts.RetryBackoff
	if step <= 0 {
		step = 500 * time.Millisecond
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = step
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(opts.PingRetries)), ctx)

	if err := backoff.Retry(func() error { return db.PingContext(ctx) }, policy); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", opts.Driver, err)
	}
	return db, nil
}
