// Package app assembles the scouter services from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cwygoda/scouter/internal/adapter/fetch"
	httpAdapter "github.com/cwygoda/scouter/internal/adapter/http"
	"github.com/cwygoda/scouter/internal/adapter/sqlite"
	"github.com/cwygoda/scouter/internal/adapter/storage"
	"github.com/cwygoda/scouter/internal/bundle"
	"github.com/cwygoda/scouter/internal/capture"
	"github.com/cwygoda/scouter/internal/compositor"
	"github.com/cwygoda/scouter/internal/config"
	"github.com/cwygoda/scouter/internal/copywriter"
	"github.com/cwygoda/scouter/internal/domain"
	"github.com/cwygoda/scouter/internal/progress"
	"github.com/cwygoda/scouter/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// App holds the wired services of one process.
type App struct {
	Config  *config.Config
	Service *domain.JobService
	Server  *httpAdapter.Server
	Store   storage.Store
	// Worker is nil when retention is disabled.
	Worker *worker.Worker

	logger  *slog.Logger
	closers []func() error
}

// Build connects storage and wires every pipeline stage.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	repo, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, repo.Close)

	store, err := newStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store
	if c, ok := store.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	var bus domain.ProgressBus
	switch cfg.Progress.Backend {
	case config.ProgressDurable:
		bus = progress.NewDurable(repo.Events(), cfg.Progress.PollInterval).WithLogger(logger)
	default:
		bus = progress.NewMemory()
	}

	registry := fetch.NewRegistry(
		fetch.NewStoreResolver(store),
		fetch.NewHTTPResolver(cfg.Capture.FetchTimeout),
	)

	opts := capture.DefaultOptions()
	if cfg.Capture.NavigationTimeout > 0 {
		opts.NavigationTimeout = cfg.Capture.NavigationTimeout
	}
	if cfg.Capture.ActionTimeout > 0 {
		opts.ActionTimeout = cfg.Capture.ActionTimeout
	}
	if cfg.Capture.MaxInteriorPages >= 0 {
		opts.MaxInteriorPages = cfg.Capture.MaxInteriorPages
	}
	browser := capture.NewChrome(capture.ChromeOptions{
		ExecPath:  cfg.Capture.ChromePath,
		UserAgent: cfg.Capture.UserAgent,
	})

	pipe := domain.Pipeline{
		Capture:    capture.NewEngine(browser, store, opts).WithLogger(logger),
		Compositor: compositor.New(registry, store).WithLogger(logger),
		Copy: copywriter.FromOptions(copywriter.Options{
			APIKey:      cfg.Copy.APIKey,
			Model:       cfg.Copy.Model,
			MaxTokens:   cfg.Copy.MaxTokens,
			Temperature: cfg.Copy.Temperature,
		}).WithLogger(logger),
		Bundler: bundle.New(registry).WithLogger(logger),
		Assets:  store,
	}
	a.Service = domain.NewJobService(repo, bus, pipe).WithLogger(logger)

	a.Server = httpAdapter.NewServer(a.Service, store, cfg.Addr(), httpAdapter.Options{
		CaptureTimeout: cfg.Server.CaptureTimeout,
		EnhanceTimeout: cfg.Server.EnhanceTimeout,
		StreamTimeout:  cfg.Server.StreamTimeout,
	}).WithLogger(logger)

	if cfg.Retention.MaxAge > 0 {
		a.Worker = worker.New(a.Service, cfg.Retention.MaxAge, cfg.Retention.Interval, cfg.Retention.BatchSize).WithLogger(logger)
	}
	return a, nil
}

func newStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case config.StorageGCS:
		gcs, err := storage.NewGCS(ctx, cfg.Storage.Bucket)
		if err != nil {
			return nil, err
		}
		return gcs, nil
	default:
		local, err := storage.NewLocal(cfg.Storage.Dir, cfg.Server.PublicURL)
		if err != nil {
			return nil, fmt.Errorf("asset dir: %w", err)
		}
		return local, nil
	}
}

// Recover returns jobs left mid-enhancement by a previous process.
func (a *App) Recover(ctx context.Context) {
	recovered, err := a.Service.RecoverStale(ctx)
	if err != nil {
		a.logger.Warn("failed to recover stale jobs", "error", err)
		return
	}
	if recovered > 0 {
		a.logger.Info("recovered stale jobs", "count", recovered)
	}
}

// Serve runs the HTTP server and the retention worker until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	a.Recover(ctx)

	if a.Worker != nil {
		go a.Worker.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server listening", "addr", a.Server.Addr())
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	a.logger.Info("shutdown complete")
	return nil
}

// Close releases the store and the database.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
