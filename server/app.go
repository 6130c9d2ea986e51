package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ericselin/tableserve/config"
	"github.com/ericselin/tableserve/core"
	blobstore "github.com/ericselin/tableserve/pkg/blob-store"
	"github.com/ericselin/tableserve/telemetry"
)

// App wires the routing table, the blob store and the HTTP listeners together.
type App struct {
	config    config.Config
	log       zerolog.Logger
	routes    core.RouteProvider
	blobs     blobstore.Store
	telemetry *telemetry.Telemetry
	server    *http.Server
	metrics   *http.Server
}

func NewApp(cfg config.Config) (*App, error) {
	logger := log.With().Str("component", "app").Logger()

	tel, err := telemetry.NewTelemetry()
	if err != nil {
		return nil, err
	}
	routes, err := core.NewRouteProvider(core.ProviderConfig{
		Kind:     core.ProviderKind(cfg.Routes.Provider),
		DSN:      cfg.Routes.DSN,
		File:     cfg.Routes.File,
		Sentinel: cfg.Routes.Sentinel,
	})
	if err != nil {
		return nil, fmt.Errorf("routing table: %w", err)
	}
	blobs, err := blobstore.New(blobstore.Kind(cfg.Blobs.Provider), cfg.Blobs.Root)
	if err != nil {
		routes.Close()
		return nil, fmt.Errorf("blob store: %w", err)
	}

	handler := core.CreateServer(core.Config{
		Routes:    routes,
		Blobs:     blobs,
		Sentinel:  cfg.Routes.Sentinel,
		Telemetry: tel,
	})
	var limiter *rate.Limiter
	if cfg.Server.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Server.RPS), cfg.Server.Burst)
	}

	app := &App{
		config:    cfg,
		log:       logger,
		routes:    routes,
		blobs:     blobs,
		telemetry: tel,
		server: &http.Server{
			Handler:           NewRouter(handler, limiter, tel, log.Logger),
			ReadHeaderTimeout: cfg.Server.ReadHeaderTimeoutDuration(),
		},
	}
	if cfg.Server.MetricsPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", tel.Handler())
		app.metrics = &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: cfg.Server.ReadHeaderTimeoutDuration(),
		}
	}
	return app, nil
}

// Handler returns the site handler, with all middleware.
func (app *App) Handler() http.Handler {
	return app.server.Handler
}

// Run listens on the configured ports and serves until ctx is done or the
// process receives SIGINT or SIGTERM.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", app.config.Server.Port))
	if err != nil {
		app.close()
		return err
	}
	var metricsLn net.Listener
	if app.metrics != nil {
		if metricsLn, err = net.Listen("tcp", fmt.Sprintf(":%d", app.config.Server.MetricsPort)); err != nil {
			ln.Close()
			app.close()
			return err
		}
	}
	return app.Serve(ctx, ln, metricsLn)
}

// Serve serves the site on ln and the metrics on metricsLn, which may be nil,
// until ctx is done. The app is closed when Serve returns.
func (app *App) Serve(ctx context.Context, ln, metricsLn net.Listener) error {
	defer app.close()

	errs := make(chan error, 2)
	app.log.Info().Str("addr", ln.Addr().String()).Msg("Serving site")
	go func() { errs <- app.server.Serve(ln) }()
	if app.metrics != nil && metricsLn != nil {
		app.log.Info().Str("addr", metricsLn.Addr().String()).Msg("Serving metrics")
		go func() { errs <- app.metrics.Serve(metricsLn) }()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errs:
		app.log.Error().Err(err).Msg("Listener failed")
	}
	if shutdownErr := app.shutdown(); err == nil {
		err = shutdownErr
	}
	return err
}

func (app *App) shutdown() error {
	app.log.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeoutDuration())
	defer cancel()

	err := app.server.Shutdown(ctx)
	if app.metrics != nil {
		err = errors.Join(err, app.metrics.Shutdown(ctx))
	}
	if err != nil {
		app.log.Error().Err(err).Msg("Forced shutdown")
		return err
	}
	app.log.Info().Msg("Server exited gracefully")
	return nil
}

func (app *App) close() {
	if err := app.routes.Close(); err != nil {
		app.log.Warn().Err(err).Msg("Could not close routing table")
	}
	if err := app.blobs.Close(); err != nil {
		app.log.Warn().Err(err).Msg("Could not close blob store")
	}
	if err := app.telemetry.Shutdown(context.Background()); err != nil {
		app.log.Warn().Err(err).Msg("Could not shut down telemetry")
	}
}
