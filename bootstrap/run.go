package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/artpar/docbase/config"
)

// NewWithHotReload builds the application from a watched configuration
// file. Reloadable fields (log level and format, debug mode, admin
// credentials) take effect on file change or SIGHUP; everything else
// requires a restart and reload attempts log what was ignored.
func NewWithHotReload(path string) (*App, error) {
	bootLogger := setupLogger(config.LoggingConfig{Level: "info", Format: "json"})
	holder, err := config.NewHolder(path, bootLogger)
	if err != nil {
		return nil, fmt.Errorf("config holder: %w", err)
	}

	app, err := New(holder.Get())
	if err != nil {
		holder.Stop()
		return nil, err
	}
	app.holder = holder

	holder.OnChange(func(cfg *config.Config) {
		app.applyReloadable(cfg)
	})
	if err := holder.WatchFile(); err != nil {
		app.Logger.Warn().Err(err).Msg("config file watch unavailable; SIGHUP still reloads")
	}
	holder.WatchSignals()
	return app, nil
}

// applyReloadable adjusts the running app to a reloaded configuration.
func (a *App) applyReloadable(cfg *config.Config) {
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		a.Logger = a.Logger.Level(level)
	}
	a.cfg.Logging = cfg.Logging
	a.cfg.Admin = cfg.Admin
	a.cfg.App.Debug = cfg.App.Debug
	a.Logger.Info().Msg("configuration reloaded")
}

// Run blocks until SIGINT or SIGTERM, serving the Prometheus endpoint
// when metrics are enabled.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	errc := make(chan error, 1)
	if a.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(a.cfg.Metrics.Path, promhttp.Handler())
		srv = &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux}
		go func() {
			a.Logger.Info().
				Str("addr", a.cfg.Metrics.Addr).
				Str("path", a.cfg.Metrics.Path).
				Msg("metrics endpoint listening")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.Logger.Info().Msg("shutdown signal received")
	case err := <-errc:
		a.Logger.Error().Err(err).Msg("metrics endpoint failed")
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn().Err(err).Msg("metrics endpoint shutdown error")
		}
	}
	return a.Shutdown()
}
