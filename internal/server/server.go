package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/MarkPhamm/consumer-complaint-pipeline/internal/handlers"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/middleware"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/startup"
)

// RegisterServe adds the pipeline dependencies, the scheduler loop and the HTTP server.
func (a *App) RegisterServe(s *startup.Startup) {
	a.RegisterPipeline(s)

	s.AddDependency(&startup.Dependency{
		Name:     DependencyScheduler,
		Requires: []string{DependencyPipeline},
		StartFn: func(ctx context.Context) error {
			if !a.config.SchedulerEnabled {
				a.logger.WithContext(ctx).Info("Scheduler disabled; runs start only through the API")
				return nil
			}
			return a.scheduler.Start(ctx)
		},
		StopFn: func(ctx context.Context) error {
			return a.scheduler.Stop(ctx)
		},
	})

	var e *echo.Echo
	s.AddDependency(&startup.Dependency{
		Name:     DependencyHTTP,
		Requires: []string{DependencyPipeline},
		StartFn: func(ctx context.Context) error {
			var err error
			e, err = a.NewEcho(ctx)
			if err != nil {
				return err
			}

			go func() {
				addr := fmt.Sprintf(":%d", a.config.Port)
				a.logger.Infof("HTTP server listening on %s", addr)
				if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.logger.WithError(err).Error("HTTP server stopped unexpectedly")
				}
			}()

			a.health.SetReady(true)
			a.logger.WithContext(ctx).Infof("Ready; health checks: %v", a.health.Names())
			return nil
		},
		StopFn: func(ctx context.Context) error {
			a.health.SetReady(false)
			if e == nil {
				return nil
			}
			return e.Shutdown(ctx)
		},
	})
}

// NewEcho builds the admin API.
func (a *App) NewEcho(ctx context.Context) (*echo.Echo, error) {
	cfg := a.config

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(a.logger)
	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second

	e.Use(echomw.Recover())
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(a.logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{AllowOrigins: cfg.AllowOrigins}))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	a.health.RegisterRoutes(e)

	var runGuards []echo.MiddlewareFunc
	if cfg.AuthEnabled {
		verifier, err := middleware.NewOIDCVerifier(ctx, cfg.AuthIssuerURL, cfg.AuthClientID)
		if err != nil {
			return nil, err
		}
		runGuards = append(runGuards, middleware.Authentication(a.logger, verifier))
	}

	var runs handlers.RunReader
	if cfg.RunHistoryEnabled {
		runs = a.runs
	}

	api := e.Group("/api/v1")
	handlers.NewRunHandler(a.scheduler, runs, a.logger).RegisterRoutes(api, runGuards...)

	var stagedResolver handlers.StagedFileResolver
	if a.resolver != nil {
		stagedResolver = a.resolver
	}
	handlers.NewWarehouseHandler(stagedResolver, a.store, a.warehouse, a.logger).RegisterRoutes(api)

	return e, nil
}
