// internal/server/timeouts.go
//
// HTTP server helper with robust timeouts.
//
// Production hardening recommends:
//
//   • ReadTimeout   – abort slow-loris headers
//   • WriteTimeout  – cap total response time, including a 500-id archive
//   • IdleTimeout   – close keep-alives on idle clients
//
// Timeouts apply at the transport only.  A request cut off mid-archive
// still rolls back through its context, one id at a time.
//

package server

import (
	"net/http"
	"time"
)

// Timeouts overrides the defaults; zero fields keep them.
type Timeouts struct {
	Read  time.Duration
	Write time.Duration
	Idle  time.Duration
}

// New constructs an *http.Server with sensible defaults.
func New(addr string, handler http.Handler, t Timeouts) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if t.Read > 0 {
		srv.ReadTimeout = t.Read
	}
	if t.Write > 0 {
		srv.WriteTimeout = t.Write
	}
	if t.Idle > 0 {
		srv.IdleTimeout = t.Idle
	}
	return srv
}
