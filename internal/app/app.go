// Package app provides application lifecycle management for the sync server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/decksnap/decksnap-sync/internal/app/storage"
	"github.com/decksnap/decksnap-sync/internal/config"
)

// SyncApp encapsulates all components needed to run the sync server.
// It provides lifecycle management and graceful shutdown capabilities.
type SyncApp struct {
	config     *config.Config
	components *AppComponents
	factory    storage.Factory
	httpServer *http.Server

	mu       sync.Mutex
	addr     net.Addr
	ready    chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// Start listens on the configured address and serves until Stop is called
func (app *SyncApp) Start() error {
	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}

	app.mu.Lock()
	app.addr = ln.Addr()
	app.mu.Unlock()
	close(app.ready)

	slog.Info("Server listening", "address", ln.Addr().String())
	if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Addr blocks until the server is listening and returns the bound address
func (app *SyncApp) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-app.ready:
		app.mu.Lock()
		defer app.mu.Unlock()
		return app.addr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop gracefully stops the application with the given timeout.
// Live sessions are closed with 1001 before the listener shuts down; the
// fabric, store and telemetry are released last. Stop is idempotent.
func (app *SyncApp) Stop(timeout time.Duration) error {
	app.stopOnce.Do(func() {
		slog.Info("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var errs []error
		if err := app.components.Rooms.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down rooms: %w", err))
		}
		if err := app.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
		}
		if err := app.components.close(ctx, app.factory); err != nil {
			errs = append(errs, err)
		}

		app.stopErr = errors.Join(errs...)
		if app.stopErr == nil {
			slog.Info("Server shutdown complete")
		}
	})
	return app.stopErr
}

// GetConfig returns the application configuration
func (app *SyncApp) GetConfig() *config.Config {
	return app.config
}

// Components returns the wired components
func (app *SyncApp) Components() *AppComponents {
	return app.components
}
