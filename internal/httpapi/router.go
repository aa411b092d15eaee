// internal/httpapi/router.go
//
// Chi router for the archive and recovery API.
//
/*
Context
--------
Every engine operation is exposed as one JSON POST under /api, scoped by
the `{entity}` route parameter:

	POST /api/archive/{entity}              archive.Engine.Archive
	POST /api/recovery/{entity}/preview     recovery.Engine.Preview
	POST /api/recovery/{entity}/restore     recovery.Engine.Restore
	POST /api/identity/{entity}/reconcile   identity.Service.Reconcile
	GET  /api/entities                      configured entity keys
	GET  /healthz                           database ping
	GET  /metrics                           Prometheus exposition

Middleware order
----------------
  1. Recoverer, request info (client IP, request id), latency histogram.
  2. Security headers, optional HTTPS redirect.
  3. /api only: trusted-header auth gate, then a per-route ACL check.

Notes
-----
  • Handlers never talk to the database directly; they translate JSON to
    engine requests and engine errors to status codes.
  • Oxford commas, two spaces after periods.
*/
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yanizio/schoolarchive/internal/acl"
	"github.com/yanizio/schoolarchive/internal/archive"
	"github.com/yanizio/schoolarchive/internal/auth"
	"github.com/yanizio/schoolarchive/internal/identity"
	"github.com/yanizio/schoolarchive/internal/metrics"
	"github.com/yanizio/schoolarchive/internal/middleware"
	"github.com/yanizio/schoolarchive/internal/recovery"
	"github.com/yanizio/schoolarchive/internal/requestinfo"
)

/*──────────────────────────── dependencies ─────────────────────────────────*/

// Archiver is satisfied by *archive.Engine.
type Archiver interface {
	Archive(ctx context.Context, req archive.Request) (archive.Result, error)
}

// Recoverer is satisfied by *recovery.Engine.
type Recoverer interface {
	Preview(ctx context.Context, req recovery.PreviewRequest) (recovery.Preview, error)
	Restore(ctx context.Context, req recovery.RestoreRequest) (recovery.RestoreResult, error)
}

// Reconciler is satisfied by *identity.Service.
type Reconciler interface {
	Reconcile(ctx context.Context, req identity.ReconcileRequest) ([]identity.Plan, error)
}

// Pinger is satisfied by *sqlx.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps bundles everything the router needs.
type Deps struct {
	Archive     Archiver
	Recovery    Recoverer
	Identity    Reconciler
	EntityKeys  func() []string
	ACL         acl.Checker
	DB          Pinger
	ActorHeader string
	RolesHeader string
	ForceHTTPS  bool
	Log         *zap.Logger
}

// API holds handler state.
type API struct {
	deps Deps
	log  *zap.Logger
}

/*──────────────────────────── router ───────────────────────────────────────*/

// NewRouter builds the full handler tree.
func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.L()
	}
	a := &API{deps: d, log: d.Log}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer, requestinfo.Enrich, observe, middleware.Security)
	if d.ForceHTTPS {
		r.Use(middleware.ForceHTTPS)
	}

	r.Get("/healthz", a.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Gate(d.ActorHeader, d.RolesHeader))

		r.Get("/entities", a.entities)
		r.With(acl.RequirePermission(d.ACL, acl.ActionArchive)).
			Post("/archive/{entity}", a.archive)
		r.With(acl.RequirePermission(d.ACL, acl.ActionPreview)).
			Post("/recovery/{entity}/preview", a.preview)
		r.With(acl.RequirePermission(d.ACL, acl.ActionRestore)).
			Post("/recovery/{entity}/restore", a.restore)
		r.With(acl.RequirePermission(d.ACL, acl.ActionReconcile)).
			Post("/identity/{entity}/reconcile", a.reconcile)
	})
	return r
}

// observe records latency per route pattern once chi has matched it.
func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestSeconds.
			WithLabelValues(route, r.Method, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}
