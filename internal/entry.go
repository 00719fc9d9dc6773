// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/bep/genmeta/internal/api"
	"github.com/bep/genmeta/internal/mcpserver"
	"github.com/bep/genmeta/internal/metaservice"
	"github.com/bep/genmeta/internal/metrics"
	"github.com/bep/genmeta/internal/watcher"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev"}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// initLogger sets up the structured JSON logger unless one was provided.
func (a *application) initLogger(w io.Writer) *slog.Logger {
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: a.config.App.LogLevel,
		}))
		slog.SetDefault(a.logger)
	}
	return a.logger
}

// NewService creates the metadata service configured by cfg.
// m and logger may be nil.
func NewService(cfg *Config, m *metrics.Metrics, logger *slog.Logger) (*metaservice.Service, error) {
	return metaservice.New(metaservice.Options{
		CacheSize:     cfg.Editor.CacheSize,
		DecodeTimeout: cfg.Editor.DecodeTimeout,
		RetainText:    cfg.Editor.RetainText,
		Metrics:       m,
		Logger:        logger,
	})
}

// NewHandler builds the HTTP handler: health checks, the API under /api and /metrics.
func NewHandler(cfg *Config, svc *metaservice.Service, m *metrics.Metrics) http.Handler {
	apiRouter := api.NewRouter(svc, cfg.Editor.MaxUploadBytes, cfg.Auth.AuthEnabled(), cfg.Auth.Token)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)
	r.Handle("/metrics", m.Handler())

	return r
}

// Run starts the HTTP editor service with the given options.
// If watch paths are configured, the drop folder watcher runs alongside it.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.initLogger(os.Stdout)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("auth_mode", cfg.Auth.Mode),
		slog.Int("cache_size", cfg.Editor.CacheSize),
		slog.Any("watch_paths", cfg.Watch.Paths),
		slog.String("log_level", cfg.App.LogLevel.String()))

	m := metrics.New()
	svc, err := NewService(cfg, m, logger)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           NewHandler(cfg, svc, m),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	if len(cfg.Watch.Paths) > 0 {
		g.Go(func() error {
			return watcher.Watch(gCtx, svc, app.watchOptions())
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP tools on stdin/stdout until stdin is closed or
// the process is interrupted. Logs go to stderr.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.initLogger(os.Stderr)

	svc, err := NewService(app.config, nil, logger)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting MCP server", slog.String("version", app.version))
	if err := mcpserver.New(svc, app.version).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// RunWatch runs the drop folder watcher on the configured paths until
// ctx is cancelled or the process is interrupted.
func RunWatch(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.initLogger(os.Stdout)

	svc, err := NewService(app.config, nil, logger)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return watcher.Watch(ctx, svc, app.watchOptions())
}

func (a *application) watchOptions() watcher.Options {
	return watcher.Options{
		Paths:      a.config.Watch.Paths,
		Extensions: a.config.Watch.Extensions,
		Logger:     a.logger,
		OnDecode:   a.onWatch,
	}
}
