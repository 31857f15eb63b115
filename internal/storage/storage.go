// Package storage defines durable cache backends and composes them into tiers.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tgmedia/pkg/media"
)

// Store is one durable cache backend owning its own connection.
type Store interface {
	media.DurableCache
	// Close releases backend resources.
	Close() error
}

// Tier is one named store inside a Tiered composite.
type Tier struct {
	Name  string
	Store Store
}

// Tiered reads from its tiers in order and writes to all of them. A hit in a
// lower tier is copied into the tiers above it.
type Tiered struct {
	tiers  []Tier
	logger *slog.Logger
}

// TieredOption mutates tiered store configuration.
type TieredOption func(*Tiered)

// WithTieredLogger configures the logger used for tier read failures.
func WithTieredLogger(logger *slog.Logger) TieredOption {
	return func(tiered *Tiered) {
		if logger != nil {
			tiered.logger = logger
		}
	}
}

// NewTiered creates a composite over tiers in lookup order.
func NewTiered(tiers []Tier, options ...TieredOption) (*Tiered, error) {
	seen := make(map[string]struct{}, len(tiers))
	for _, tier := range tiers {
		if tier.Name == "" {
			return nil, fmt.Errorf("new tiered store: empty tier name")
		}
		if tier.Store == nil {
			return nil, fmt.Errorf("new tiered store tier %s: nil store", tier.Name)
		}
		if _, exists := seen[tier.Name]; exists {
			return nil, fmt.Errorf("new tiered store tier %s: duplicate", tier.Name)
		}
		seen[tier.Name] = struct{}{}
	}

	tiered := &Tiered{
		tiers:  append([]Tier(nil), tiers...),
		logger: slog.Default(),
	}
	for _, option := range options {
		option(tiered)
	}

	return tiered, nil
}

// Fetch returns the first hit across tiers. Tier errors are skipped; they are
// returned joined only when no tier hits.
func (t *Tiered) Fetch(
	ctx context.Context,
	bucket string,
	key media.Key,
	cacheType media.CacheType,
	allowUnsafe bool,
) (media.Payload, bool, error) {
	var errs []error
	for index, tier := range t.tiers {
		payload, found, err := tier.Store.Fetch(ctx, bucket, key, cacheType, allowUnsafe)
		if err != nil {
			t.logger.DebugContext(ctx, "durable tier read failed", "tier", tier.Name, "key", key, "error", err)
			errs = append(errs, fmt.Errorf("tier %s: %w", tier.Name, err))
			continue
		}
		if !found {
			continue
		}

		t.backfill(ctx, index, bucket, key, cacheType, payload)
		return payload, true, nil
	}

	return media.Payload{}, false, errors.Join(errs...)
}

func (t *Tiered) backfill(
	ctx context.Context,
	hitIndex int,
	bucket string,
	key media.Key,
	cacheType media.CacheType,
	payload media.Payload,
) {
	for _, tier := range t.tiers[:hitIndex] {
		if err := tier.Store.Save(ctx, bucket, key, cacheType, payload); err != nil {
			t.logger.DebugContext(ctx, "durable tier backfill failed", "tier", tier.Name, "key", key, "error", err)
		}
	}
}

// Save writes payload to every tier.
func (t *Tiered) Save(
	ctx context.Context,
	bucket string,
	key media.Key,
	cacheType media.CacheType,
	payload media.Payload,
) error {
	var errs []error
	for _, tier := range t.tiers {
		if err := tier.Store.Save(ctx, bucket, key, cacheType, payload); err != nil {
			errs = append(errs, fmt.Errorf("tier %s: %w", tier.Name, err))
		}
	}

	return errors.Join(errs...)
}

// Close closes every tier.
func (t *Tiered) Close() error {
	var errs []error
	for _, tier := range t.tiers {
		if err := tier.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close tier %s: %w", tier.Name, err))
		}
	}

	return errors.Join(errs...)
}

// Len returns the number of tiers.
func (t *Tiered) Len() int {
	return len(t.tiers)
}

// Noop is a store that never hits and accepts every write.
type Noop struct{}

// Fetch always misses.
func (Noop) Fetch(context.Context, string, media.Key, media.CacheType, bool) (media.Payload, bool, error) {
	return media.Payload{}, false, nil
}

// Save discards payload.
func (Noop) Save(context.Context, string, media.Key, media.CacheType, media.Payload) error {
	return nil
}

// Close is a no-op.
func (Noop) Close() error {
	return nil
}
