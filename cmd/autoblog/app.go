package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"autoblog/internal/automation"
	"autoblog/internal/config"
	"autoblog/internal/docstore"
	"autoblog/internal/errlog"
	"autoblog/internal/lease"
	"autoblog/internal/llm"
	"autoblog/internal/logx"
	"autoblog/internal/media"
	"autoblog/internal/publish"
	"autoblog/internal/runner"
	"autoblog/internal/usage"

	"github.com/rs/zerolog"
)

// app is the wired process: one backend shared by every document.
type app struct {
	cfg      config.Config
	logger   zerolog.Logger
	backend  docstore.Backend
	store    *automation.Store
	meter    *usage.Meter
	errors   *errlog.Log
	runs     *runner.RunLog
	executor *runner.Executor
	closers  []func() error
}

func openApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := logx.New(cfg.Log.Level, cfg.Log.Format, nil)

	backend, err := docstore.Open(ctx, cfg.Storage.Driver, cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Driver, err)
	}
	a := &app{cfg: cfg, logger: logger, backend: backend}
	a.closers = append(a.closers, backend.Close)

	a.store = automation.NewStore(backend)
	if _, err := a.store.Settings(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("load settings: %w", err)
	}
	a.meter = usage.NewMeter(backend, cfg.Usage.Prices, usage.WithLocationFunc(a.settingsLocation))
	a.errors = errlog.New(backend)
	a.runs = runner.NewRunLog(backend)

	svc, err := llm.New(cfg.LLM())
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	assets := media.NewFSStore(cfg.StateDir)
	client := media.New(svc, assets, cfg.MediaOptions(), logger)
	publisher := publish.NewSitePublisher(cfg.Publish.SiteDir, cfg.Publish.BaseURL, assets, backend)

	locker, err := a.locker(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.executor = runner.New(runner.Config{
		Store:     a.store,
		Media:     client,
		Publisher: publisher,
		Usage:     a.meter,
		Errors:    a.errors,
		Runs:      a.runs,
		Lease:     locker,
		LeaseTTL:  cfg.LeaseTTL(),
		Logger:    logger,
	})
	logger.Debug().
		Str("state_dir", cfg.StateDir).
		Str("storage", cfg.Storage.Driver).
		Str("lease", cfg.Lease.Driver).
		Str("text_provider", string(svc.Provider())).
		Bool("configured", svc.Configured()).
		Msg("app ready")
	return a, nil
}

func (a *app) locker(ctx context.Context) (lease.Locker, error) {
	if a.cfg.Lease.Driver != "redis" {
		return lease.NewLocal(), nil
	}
	r, err := lease.DialRedis(ctx, a.cfg.Lease.RedisURL, a.cfg.Lease.Prefix)
	if err != nil {
		return nil, fmt.Errorf("connect lease redis: %w", err)
	}
	a.closers = append(a.closers, r.Close)
	return r, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// settingsLocation reads the timezone from the stored settings so usage
// rollover follows settings edits made while serving.
func (a *app) settingsLocation(ctx context.Context) *time.Location {
	settings, err := a.store.Settings(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("read settings timezone")
		return nil
	}
	return settings.Location()
}
