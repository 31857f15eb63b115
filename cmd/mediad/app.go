package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tgmedia/internal/driver"
	"tgmedia/internal/mediacache"
	"tgmedia/internal/remote"
	"tgmedia/internal/storage"
)

// application is one wired cache session: durable tiers, routed fetchers and the
// coordinator on top of them.
type application struct {
	cfg      appConfig
	logger   *slog.Logger
	store    storage.Store
	runtimes []driver.Built[remote.Runtime]
	router   *remote.Router
	cache    *mediacache.Cache
	started  []driver.Built[remote.Runtime]
}

func newRegistries() (registries, error) {
	storageRegistry, err := driver.NewStorageRegistry()
	if err != nil {
		return registries{}, fmt.Errorf("new storage registry: %w", err)
	}
	fetcherRegistry, err := driver.NewFetcherRegistry()
	if err != nil {
		return registries{}, fmt.Errorf("new fetcher registry: %w", err)
	}

	return registries{storage: storageRegistry, fetchers: fetcherRegistry}, nil
}

func buildApplication(
	ctx context.Context,
	logger *slog.Logger,
	cfg appConfig,
	regs registries,
) (*application, error) {
	store, err := buildStorage(ctx, logger, cfg, regs.storage)
	if err != nil {
		return nil, err
	}

	runtimes, err := regs.fetchers.BuildEnabled(ctx, cfg.fetchers, logger)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("build fetchers: %w", err), store.Close())
	}
	routes := make([]remote.Route, 0, len(runtimes))
	for _, runtime := range runtimes {
		routes = append(routes, remote.Route{Name: runtime.Name, Runtime: runtime.Value})
	}
	router, err := remote.NewRouter(routes)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("build fetcher router: %w", err), store.Close())
	}

	cache, err := mediacache.New(store, router, cfg.cache.options(logger)...)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("build media cache: %w", err), store.Close())
	}

	return &application{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		runtimes: runtimes,
		router:   router,
		cache:    cache,
	}, nil
}

// buildStorage stacks enabled storage definitions into tiers in configuration
// order. Without any, durable caching is a no-op.
func buildStorage(
	ctx context.Context,
	logger *slog.Logger,
	cfg appConfig,
	registry *driver.Registry[storage.Store],
) (storage.Store, error) {
	built, err := registry.BuildEnabled(ctx, cfg.storage, logger)
	if err != nil {
		return nil, fmt.Errorf("build storage: %w", err)
	}
	if len(built) == 0 {
		logger.Info("no durable storage configured")
		return storage.Noop{}, nil
	}

	tiers := make([]storage.Tier, 0, len(built))
	for _, entry := range built {
		tiers = append(tiers, storage.Tier{Name: entry.Name, Store: entry.Value})
	}
	tiered, err := storage.NewTiered(tiers, storage.WithTieredLogger(logger))
	if err != nil {
		closeErrs := make([]error, 0, len(tiers))
		for _, tier := range tiers {
			closeErrs = append(closeErrs, tier.Store.Close())
		}
		return nil, errors.Join(append([]error{fmt.Errorf("build storage tiers: %w", err)}, closeErrs...)...)
	}

	return tiered, nil
}

// start opens every fetcher session. A failure shuts down the sessions that
// already started.
func (a *application) start(ctx context.Context) error {
	for _, runtime := range a.runtimes {
		if runtime.Value.Start == nil {
			continue
		}
		if err := runtime.Value.Start(ctx); err != nil {
			return errors.Join(
				fmt.Errorf("start fetcher %s: %w", runtime.Name, err),
				a.shutdownRuntimes(ctx),
			)
		}
		a.started = append(a.started, runtime)
		a.logger.InfoContext(ctx, "fetcher started", "fetcher", runtime.Name, "type", runtime.Type)
	}

	return nil
}

// close waits for pending durable writes, logs cache stats, then releases
// fetchers and storage.
func (a *application) close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.cache.Flush(ctx); err != nil {
		errs = append(errs, err)
	}
	a.cache.LogStats(ctx)

	errs = append(errs, a.shutdownRuntimes(ctx))
	for _, runtime := range a.runtimes {
		if runtime.Value.Start == nil && runtime.Value.Shutdown != nil {
			if err := runtime.Value.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown fetcher %s: %w", runtime.Name, err))
			}
		}
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}

	return errors.Join(errs...)
}

func (a *application) shutdownRuntimes(ctx context.Context) error {
	var errs []error
	for index := len(a.started) - 1; index >= 0; index-- {
		runtime := a.started[index]
		if runtime.Value.Shutdown == nil {
			continue
		}
		if err := runtime.Value.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown fetcher %s: %w", runtime.Name, err))
		}
	}
	a.started = nil

	return errors.Join(errs...)
}

// stickerSource returns the first configured fetcher able to load sticker sets.
func (a *application) stickerSource() (remote.StickerSource, error) {
	for _, runtime := range a.runtimes {
		if runtime.Value.Stickers != nil {
			return runtime.Value.Stickers, nil
		}
	}

	return nil, fmt.Errorf("no configured fetcher can load sticker sets")
}
