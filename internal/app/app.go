// Package app wires configuration, storage, the watch multiplexer, the
// conversation service and the HTTP server into one lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"chatspace/internal/maintenance"
	"chatspace/pkg/backends"
	"chatspace/pkg/banner"
	"chatspace/pkg/config"
	"chatspace/pkg/conv"
	"chatspace/pkg/logger"
	"chatspace/pkg/store"
	"chatspace/pkg/watch"
)

const shutdownGrace = 10 * time.Second

// App owns the server components.
type App struct {
	cfg     *config.Config
	version string

	store *store.Store
	mux   *watch.Mux
	svc   *conv.Conversations
	srv   *http.Server
}

// New opens the store and builds the service graph. It does not start the
// HTTP server; call Run to start it and block until shutdown.
func New(cfg *config.Config, version string) (*App, error) {
	_ = godotenv.Load(".env")
	logger.Init(cfg.Logging.Level)

	if cfg.Storage.DBPath == "" {
		return nil, fmt.Errorf("storage db_path is required")
	}
	st, err := store.Open(cfg.Storage.DBPath, cfg.Storage.CacheSize.Int64())
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", cfg.Storage.DBPath, err)
	}

	mx := watch.New(st, cfg.Watch.QueueCapacity)
	reg := backends.NewRegistry(cfg.Chat.Backends)
	svc := conv.New(st, mx, reg, nil, conv.Defaults{
		Title:        cfg.Chat.DefaultTitle,
		SystemPrompt: cfg.Chat.DefaultSystemPrompt,
	})

	return &App{cfg: cfg, version: version, store: st, mux: mx, svc: svc}, nil
}

// Run starts the maintenance scheduler (when enabled) and the HTTP
// server, blocking until ctx is canceled or the server fails.
func (a *App) Run(ctx context.Context) error {
	banner.Print(a.cfg, a.version)

	if a.cfg.Maintenance.Enabled {
		stop, err := maintenance.Start(ctx, a.store, a.cfg.Maintenance.Cron)
		if err != nil {
			return err
		}
		defer stop()
	}

	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		a.stop()
		return nil
	case err := <-errCh:
		a.close()
		return err
	}
}

// stop shuts the HTTP server down gracefully, then tears down watches and
// the store.
func (a *App) stop() {
	shCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if a.srv != nil {
		if err := a.srv.Shutdown(shCtx); err != nil {
			logger.Warn("http_shutdown_error", "error", err)
		}
	}
	a.close()
}

func (a *App) close() {
	a.mux.Close()
	if err := a.store.Close(); err != nil {
		logger.Warn("store_close_error", "error", err)
	}
	logger.Info("server_stopped")
}
