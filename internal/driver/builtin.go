package driver

import (
	"context"
	"fmt"
	"log/slog"

	"tgmedia/internal/remote"
	"tgmedia/internal/remote/httpfetch"
	"tgmedia/internal/remote/telegram"
	"tgmedia/internal/storage"
	"tgmedia/internal/storage/boltstore"
	"tgmedia/internal/storage/kvstore"
	"tgmedia/internal/storage/sqlstore"
)

// MemoryStorageType is the storage definition type token for the in-process store.
const MemoryStorageType = "memory"

// NewStorageRegistry constructs the durable storage registry with all built-in backends.
func NewStorageRegistry() (*Registry[storage.Store], error) {
	return NewRegistry("storage", []Descriptor[storage.Store]{
		{
			Type: MemoryStorageType,
			Builder: func(context.Context, Definition, *slog.Logger) (storage.Store, error) {
				return storage.NewMemory(), nil
			},
		},
		{
			Type: boltstore.Type,
			Builder: func(_ context.Context, definition Definition, logger *slog.Logger) (storage.Store, error) {
				cfg, err := boltstore.ParseConfig(definition.Config)
				if err != nil {
					return nil, fmt.Errorf("parse bolt config: %w", err)
				}
				store, err := boltstore.Open(cfg)
				if err != nil {
					return nil, err
				}
				logger.Info("bolt storage opened", "path", cfg.Path)

				return store, nil
			},
		},
		{
			Type: sqlstore.Type,
			Builder: func(_ context.Context, definition Definition, logger *slog.Logger) (storage.Store, error) {
				cfg, err := sqlstore.ParseConfig(definition.Config)
				if err != nil {
					return nil, fmt.Errorf("parse sql config: %w", err)
				}
				store, err := sqlstore.Open(cfg)
				if err != nil {
					return nil, err
				}
				logger.Info("sql storage opened", "driver", cfg.Driver)

				return store, nil
			},
		},
		{
			Type:    kvstore.TypeValkey,
			Builder: kvBuilder(kvstore.OpenValkey),
		},
		{
			Type:    kvstore.TypeRedis,
			Builder: kvBuilder(kvstore.OpenRedis),
		},
	})
}

func kvBuilder(open func(kvstore.Config) (*kvstore.Store, error)) BuilderFunc[storage.Store] {
	return func(_ context.Context, definition Definition, logger *slog.Logger) (storage.Store, error) {
		cfg, err := kvstore.ParseConfig(definition.Config)
		if err != nil {
			return nil, fmt.Errorf("parse %s config: %w", definition.Type, err)
		}
		store, err := open(cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("key/value storage connected", "type", definition.Type, "key_prefix", cfg.KeyPrefix)

		return store, nil
	}
}

// NewFetcherRegistry constructs the remote fetcher registry with all built-in fetchers.
func NewFetcherRegistry() (*Registry[remote.Runtime], error) {
	return NewRegistry("fetcher", []Descriptor[remote.Runtime]{
		{
			Type: httpfetch.Type,
			Builder: func(_ context.Context, definition Definition, logger *slog.Logger) (remote.Runtime, error) {
				cfg, err := httpfetch.ParseConfig(definition.Config)
				if err != nil {
					return remote.Runtime{}, fmt.Errorf("parse http fetcher config: %w", err)
				}
				fetcher := httpfetch.New(cfg, httpfetch.WithLogger(logger))

				return remote.Runtime{
					Fetcher:  fetcher,
					Prefixes: cfg.Prefixes,
					Shutdown: func(context.Context) error {
						return fetcher.Close()
					},
				}, nil
			},
		},
		{
			Type: telegram.Type,
			Builder: func(_ context.Context, definition Definition, logger *slog.Logger) (remote.Runtime, error) {
				runtime, err := telegram.BuildRuntimeFromConfig(definition.Name, logger, definition.Config)
				if err != nil {
					return remote.Runtime{}, fmt.Errorf("build telegram runtime from config: %w", err)
				}

				return runtime, nil
			},
		},
	})
}
