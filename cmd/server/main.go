package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"auditlog/internal/platform/config"
	"auditlog/internal/platform/httpserver"
	"auditlog/internal/platform/logger"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srvApp, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer srvApp.close()

	srv := httpserver.New(cfg.Server, srvApp.router)
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	log.Info("starting auditlog", "addr", ln.Addr().String(), "store", cfg.Store.Driver)
	return serve(ctx, srv, ln, srvApp.workers, cfg.Server.ShutdownTimeout, log)
}

// serve runs the HTTP server until ctx is cancelled. Background workers get
// their own context, cancelled only after in-flight requests have finished, so
// anything those requests enqueue is still drained.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, workers []func(context.Context) error, shutdownTimeout time.Duration, log *slog.Logger) error {
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	var bg errgroup.Group
	for _, work := range workers {
		bg.Go(func() error { return work(workerCtx) })
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	err := g.Wait()

	stopWorkers()
	return errors.Join(err, bg.Wait())
}
