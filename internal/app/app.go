package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"beaconbond/internal/retention"
	"beaconbond/pkg/api"
	"beaconbond/pkg/config"
	"beaconbond/pkg/identity"
	"beaconbond/pkg/logger"
	"beaconbond/pkg/notify"
	"beaconbond/pkg/state"
	"beaconbond/pkg/store"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	dir *identity.Directory
	hub *api.Hub
	svc *notify.Service

	srv *http.Server
}

// New initializes resources that do not require a running context (state
// dirs, store, identity directory). It does not start the notification
// service or the HTTP server; call Run to start those and block until
// shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	// validate effective config early and fail fast
	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	if err := state.Init(eff.DBPath); err != nil {
		return nil, fmt.Errorf("state layout: %w", err)
	}
	if err := logger.AttachAuditFileSink(state.PathsVar.Audit); err != nil {
		logger.Warn("audit_sink_unavailable", "error", err)
	}

	// cap pooled payload buffers per config
	if n := eff.Config.Notify.MaxPooledBufferBytes.Int64(); n > 0 {
		notify.SetMaxPooledBuffer(n)
	}

	// open store
	if err := store.Open(state.PathsVar.Store); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", state.PathsVar.Store, err)
	}

	dir, err := identity.NewDirectory(eff.Config.Identity.Valkey.Addr, eff.Config.Identity.Valkey.TTL.Duration())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("identity directory: %w", err)
	}

	a := &App{eff: eff, version: version, commit: commit, buildDate: buildDate, dir: dir}
	return a, nil
}

// Run starts the notification service, retention scheduler and HTTP server,
// and blocks until ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	a.hub = api.NewHub()
	a.svc = notify.NewService(ctx, notify.StoreSource{}, a.dir, a.hub.Sink,
		a.eff.Config.QueueCapacity(), a.eff.Config.PreviewLength())

	retention.SetEffectiveConfig(a.eff)
	stopRetention, err := retention.Start(ctx, a.eff)
	if err != nil {
		return fmt.Errorf("retention: %w", err)
	}

	a.printBanner()

	errCh := a.startHTTP(ctx)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			runErr = err
		}
	}

	stopRetention()
	a.shutdown()
	return runErr
}

// shutdown stops components in dependency order: HTTP intake first, then
// the reconcilers, then the store.
func (a *App) shutdown() {
	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(ctx); err != nil {
			logger.Warn("http_shutdown_error", "error", err)
		}
	}
	if a.svc != nil {
		a.svc.Close()
	}
	if a.dir != nil {
		a.dir.Close()
	}
	if err := store.Close(); err != nil {
		logger.Error("store_close_error", "error", err)
	}
	logger.Info("shutdown_complete")
}
