// Package app wires configuration, the remote store, the session coordinator and
// the HTTP layer into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	httpAdapter "github.com/aretw0/dwsm/internal/adapters/http"
	"github.com/aretw0/dwsm/internal/config"
	"github.com/aretw0/dwsm/pkg/adapters/idgen"
	"github.com/aretw0/dwsm/pkg/domain"
	"github.com/aretw0/dwsm/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type App struct {
	Coordinator *session.Coordinator
	Registry    *prometheus.Registry

	httpServer *http.Server
	logger     *slog.Logger
	cleanup    func()
}

// New builds the service. Nothing is started until Start.
func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	raw, cleanup, err := OpenStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	store, err := WrapStore(raw, cfg, reg)
	if err != nil {
		cleanup()
		return nil, err
	}

	ids, err := idgen.New(idgen.WithWorker(cfg.IDGen.Worker))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("invalid id generator config: %w", err)
	}

	coord, err := session.NewCoordinator(store, ids,
		session.WithLogger(logger),
		session.WithMaxInactiveInterval(cfg.Session.Timeout),
		session.WithSweepSchedule(cfg.Session.SweepDelay, cfg.Session.SweepInterval),
		session.WithMetrics(reg),
		session.WithListeners(auditListener(logger)),
	)
	if err != nil {
		cleanup()
		return nil, err
	}

	handler := httpAdapter.NewHandler(coord,
		httpAdapter.WithCookie(httpAdapter.CookieOptions{
			Name:   cfg.HTTP.CookieName,
			Secure: cfg.HTTP.CookieSecure,
		}),
		httpAdapter.WithGatherer(reg),
		httpAdapter.WithLogger(logger),
	)

	return &App{
		Coordinator: coord,
		Registry:    reg,
		httpServer: &http.Server{
			Addr:    cfg.HTTP.Addr,
			Handler: handler,
		},
		logger:  logger,
		cleanup: cleanup,
	}, nil
}

// auditListener logs every lifecycle event at info level.
func auditListener(logger *slog.Logger) domain.ListenerFuncs {
	return domain.ListenerFuncs{
		OnCreated: func(ctx context.Context, e domain.Event) {
			logger.Info("Session created", "session_id", e.SessionID)
		},
		OnDestroyed: func(ctx context.Context, e domain.Event) {
			logger.Info("Session destroyed", "session_id", e.SessionID)
		},
	}
}

// Handler returns the HTTP handler, mostly for tests.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Addr is the configured listen address.
func (a *App) Addr() string {
	return a.httpServer.Addr
}

// Start starts the coordinator and its collaborators.
func (a *App) Start(ctx context.Context) error {
	return a.Coordinator.Start(ctx)
}

// Run serves HTTP until Shutdown. It never returns http.ErrServerClosed.
func (a *App) Run() error {
	if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains HTTP, then stops the coordinator and releases the store.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
		if err := a.httpServer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.Coordinator.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.cleanup != nil {
		a.cleanup()
	}
	return errors.Join(errs...)
}
