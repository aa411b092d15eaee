// internal/app/app.go
//
// Process wiring shared by cmd/web and cmd/archivectl.
//
/*
Context
--------
Both binaries need the same object graph: one sqlx pool, the entity
registry (built-ins plus YAML overrides), the three engines, an audit sink,
and an identity Dispatcher.  `Build` assembles it from a loaded Config;
`Close` drains background repairs and closes the pool.

Workflow
--------
  1. Open the pool (MySQL DSN template or SQLite file) with ping retries.
  2. Merge entity overrides onto the built-in catalogue.
  3. Pick the audit sink (zap "audit" namespace or discard).
  4. Pick the Dispatcher: async with retries for the server, inline for
     the CLI or when `identity.async` is off.
  5. Construct archive, recovery, and identity engines.

Notes
-----
  • Oxford commas, two spaces after periods.
*/
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/schoolarchive/internal/acl"
	"github.com/yanizio/schoolarchive/internal/archive"
	"github.com/yanizio/schoolarchive/internal/audit"
	"github.com/yanizio/schoolarchive/internal/config"
	"github.com/yanizio/schoolarchive/internal/database"
	"github.com/yanizio/schoolarchive/internal/entity"
	"github.com/yanizio/schoolarchive/internal/httpapi"
	"github.com/yanizio/schoolarchive/internal/identity"
	"github.com/yanizio/schoolarchive/internal/recovery"
)

// App is the assembled service.
type App struct {
	Config   *config.Config
	DB       *sqlx.DB
	Entities *entity.Registry
	Archive  *archive.Engine
	Recovery *recovery.Engine
	Identity *identity.Service
	Sink     audit.Sink
	Log      *zap.Logger

	async *identity.AsyncDispatcher
}

// Build wires an App.  inline forces synchronous identity repairs.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger, inline bool) (*App, error) {
	if log == nil {
		log = zap.L()
	}

	db, err := database.OpenWithOptions(ctx, DatabaseOptions(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Database.Driver, err)
	}

	a, err := assemble(db, cfg, log, inline)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func assemble(db *sqlx.DB, cfg *config.Config, log *zap.Logger, inline bool) (*App, error) {
	reg, err := entity.NewRegistry(entity.Builtins(), cfg.Entities...)
	if err != nil {
		return nil, err
	}

	var sink audit.Sink = audit.Discard
	if cfg.Audit.Enabled {
		sink = audit.NewZapSink(log)
	}

	a := &App{Config: cfg, DB: db, Entities: reg, Sink: sink, Log: log}

	var dispatch identity.Dispatcher = identity.InlineDispatcher{DB: db, Log: log.Named("identity")}
	if cfg.Identity.Async && !inline {
		a.async = identity.NewAsyncDispatcher(db, log.Named("identity"), cfg.Identity.Timeout, cfg.Identity.RetryAttempts)
		dispatch = a.async
	}

	opts := ArchiveOptions(cfg.Archive)
	if a.Archive, err = archive.NewEngine(db, reg, sink, log.Named("archive"), opts); err != nil {
		return nil, err
	}
	if a.Recovery, err = recovery.NewEngine(db, reg, sink, log.Named("recovery"),
		recovery.Options{MaxIDs: cfg.Recovery.MaxIDs, ArchiveTables: opts.ArchiveTables}); err != nil {
		return nil, err
	}
	rec := identity.NewReconciler(opts.RootTables, opts.RootKeys, log.Named("identity"))
	if a.Identity, err = identity.NewService(db, reg, rec, dispatch, sink, log.Named("identity"),
		cfg.Identity.MaxIDs); err != nil {
		return nil, err
	}
	return a, nil
}

// Router returns the HTTP handler tree for this App.
func (a *App) Router() http.Handler {
	var checker acl.Checker = acl.Store{DB: a.DB}
	if len(a.Config.ACL.Grants) > 0 {
		checker = acl.Grants(a.Config.ACL.Grants)
	}
	return httpapi.NewRouter(httpapi.Deps{
		Archive:     a.Archive,
		Recovery:    a.Recovery,
		Identity:    a.Identity,
		EntityKeys:  a.Entities.Keys,
		ACL:         checker,
		DB:          a.DB,
		ActorHeader: a.Config.HTTP.ActorHeader,
		RolesHeader: a.Config.HTTP.RolesHeader,
		ForceHTTPS:  a.Config.HTTP.ForceHTTPS,
		Log:         a.Log.Named("http"),
	})
}

// Close waits for in-flight identity repairs, then closes the pool.
func (a *App) Close() error {
	if a.async != nil {
		a.async.Wait()
	}
	return a.DB.Close()
}

// ArchiveOptions maps the archive config block onto engine options.
// Empty lists keep the engine defaults.
func ArchiveOptions(c config.Archive) archive.Options {
	o := archive.DefaultOptions()
	if len(c.RootTables) > 0 {
		o.RootTables = c.RootTables
	}
	if len(c.RootKeys) > 0 {
		o.RootKeys = c.RootKeys
	}
	if len(c.ArchiveTables) > 0 {
		o.ArchiveTables = c.ArchiveTables
	}
	if len(c.ActivityTables) > 0 {
		o.ActivityTables = c.ActivityTables
	}
	if len(c.AdminTables) > 0 {
		o.AdminTables = c.AdminTables
	}
	if c.MaxIDs > 0 {
		o.MaxIDs = c.MaxIDs
	}
	if c.ChunkSize > 0 {
		o.ChunkSize = c.ChunkSize
	}
	if c.CascadeDepth > 0 {
		o.CascadeDepth = c.CascadeDepth
	}
	if c.ForensicSnapshot != nil {
		o.ForensicSnapshot = *c.ForensicSnapshot
	}
	return o
}

// DatabaseOptions maps the database config block onto pool options.  A
// bare SQLite path gets the foreign-key and busy-timeout pragmas.
func DatabaseOptions(c config.Database) database.Options {
	dsn := c.ResolvedDSN()
	if c.Driver == database.DriverSQLite && !strings.HasPrefix(dsn, "file:") {
		dsn = database.SQLiteDSN(dsn)
	}
	return database.Options{
		Driver:          c.Driver,
		DSN:             dsn,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		PingRetries:     c.PingRetries,
	}
}
