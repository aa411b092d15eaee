// cmd/web/main.go
//
// Archive & recovery service – HTTP entry point.
//
// Start-up sequence
// -----------------
//
//  1. Load config (.env → conf/global.yaml → RECOVERY_ env), resolving a
//     vault: database password.
//
//  2. Start daily rotating logger (tees to console when running in a TTY).
//
//  3. Build the App: pool, entity registry, engines, audit sink, and the
//     async identity dispatcher.
//
//  4. Serve the chi router behind transport timeouts.
//
//  5. On SIGINT or SIGTERM, stop accepting requests, drain in-flight
//     requests and identity repairs, and close the pool.
//
// Large comment blocks are framed by blank "//" lines; inline comments use
// a single "//".
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/schoolarchive/internal/app"
	"github.com/yanizio/schoolarchive/internal/config"
	"github.com/yanizio/schoolarchive/internal/logger"
	"github.com/yanizio/schoolarchive/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	//
	// ── 1.  Config ──────────────────────────────────────────────────────
	//
	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	//
	// ── 2.  Logger ──────────────────────────────────────────────────────
	//
	logOut, err := logger.New(cfg.Paths.Root, logger.RunningInTTY())
	if err != nil {
		log.Fatalf("start logger: %v", err)
	}
	defer func() { _ = logOut.Sync() }()

	//
	// ── 3.  App wiring ──────────────────────────────────────────────────
	//
	logOut.Infow("connecting to portal DB", "driver", cfg.Database.Driver)
	a, err := app.Build(ctx, cfg, logOut.Desugar(), false)
	if err != nil {
		logOut.Fatalw("build app", "err", err)
	}
	logOut.Infow("portal DB online", "entities", a.Entities.Keys())

	//
	// ── 4.  HTTP server ─────────────────────────────────────────────────
	//
	srv := server.New(cfg.HTTP.ListenAddr, a.Router(), server.Timeouts{
		Read:  cfg.HTTP.ReadTimeout,
		Write: cfg.HTTP.WriteTimeout,
		Idle:  cfg.HTTP.IdleTimeout,
	})

	errc := make(chan error, 1)
	go func() {
		logOut.Infow("listening", "addr", cfg.HTTP.ListenAddr)
		errc <- srv.ListenAndServe()
	}()

	//
	// ── 5.  Shutdown ────────────────────────────────────────────────────
	//
	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logOut.Errorw("http server", "err", err)
		}
	case <-ctx.Done():
		logOut.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("http shutdown", zap.Error(err))
	}
	if err := a.Close(); err != nil {
		zap.L().Warn("close app", zap.Error(err))
	}
}
