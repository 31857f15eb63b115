// Package mediacache resolves media keys to prepared values through a memory
// cache, a durable cache and a remote fetcher, running at most one fetch per key.
package mediacache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tgmedia/internal/flight"
	"tgmedia/pkg/media"

	"github.com/cenkalti/backoff/v4"
)

// Cache owns the memory cache, the blob registry and the in-flight fetch table
// of one session. It is the only writer to the memory and durable caches.
//
// Resolution never aborts I/O: ending a caller's context stops that caller from
// waiting, and removing a progress subscriber stops its callbacks, but the shared
// fetch always runs to completion so other waiters and the caches still get it.
type Cache struct {
	durable media.DurableCache
	fetcher media.Fetcher
	cfg     config

	memory  *memoryCache
	blobs   *blobRegistry
	flights *flight.Group[media.Prepared]
	stats   counters
	saves   sync.WaitGroup
}

// New creates a cache over a durable store and a remote fetcher.
func New(durable media.DurableCache, fetcher media.Fetcher, options ...Option) (*Cache, error) {
	if durable == nil {
		return nil, fmt.Errorf("new media cache: nil durable cache")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("new media cache: nil fetcher")
	}

	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	return &Cache{
		durable: durable,
		fetcher: fetcher,
		cfg:     cfg,
		memory:  newMemoryCache(),
		blobs:   newBlobRegistry(defaultBlobScheme),
		flights: flight.NewGroup[media.Prepared](
			flight.WithLogger(cfg.logger),
			flight.WithClone(media.Prepared.Clone),
		),
	}, nil
}

// Resolve returns the shared future for key. Concurrent calls for a key that is
// already being fetched receive the same future. Progressive and download URL
// formats settle immediately without I/O when streaming is supported.
//
// Resolve does not consult the memory cache; callers that can use a synchronous
// value call Cached first.
func (c *Cache) Resolve(
	ctx context.Context,
	key media.Key,
	format media.Format,
	options ...ResolveOption,
) (*flight.Call[media.Prepared], error) {
	if key == "" {
		return nil, media.ErrEmptyKey
	}
	behavior, err := format.Behavior()
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", key, err)
	}

	var resolveCfg resolveConfig
	for _, option := range options {
		option(&resolveCfg)
	}

	if behavior.SynthesizesURL {
		if c.cfg.progressiveSupported {
			return flight.Settled(c.synthesize(key, format), nil), nil
		}
		format = media.FormatBlobURL
		if behavior, err = format.Behavior(); err != nil {
			return nil, fmt.Errorf("resolve %s: %w", key, err)
		}
	}

	var progress flight.ProgressFunc
	if resolveCfg.progress != nil {
		progress = flight.ProgressFunc(resolveCfg.progress)
	}
	call, started := c.flights.Join(
		ctx,
		string(key),
		func(runCtx context.Context, report flight.ProgressFunc) (media.Prepared, error) {
			return c.load(runCtx, key, format, behavior, resolveCfg.allowUnsafe, report)
		},
		resolveCfg.subscriberID,
		progress,
	)
	if started {
		c.cfg.logger.DebugContext(ctx, "media fetch started", "key", key, "format", format.String())
	}

	return call, nil
}

// Fetch resolves key and waits for the result.
func (c *Cache) Fetch(
	ctx context.Context,
	key media.Key,
	format media.Format,
	options ...ResolveOption,
) (media.Prepared, error) {
	call, err := c.Resolve(ctx, key, format, options...)
	if err != nil {
		return media.Prepared{}, err
	}

	return call.Wait(ctx)
}

// Cached returns a copy of the memory-cached value for key without any I/O.
func (c *Cache) Cached(key media.Key) (media.Prepared, bool) {
	prepared, ok := c.memory.get(key)
	if !ok {
		return media.Prepared{}, false
	}

	return prepared.Clone(), true
}

// UnregisterProgress removes one progress subscriber from the in-flight fetch of
// key. It never cancels the fetch, and repeated or unknown removals are no-ops.
func (c *Cache) UnregisterProgress(key media.Key, subscriberID string) {
	c.flights.Unsubscribe(string(key), subscriberID)
}

// InFlight reports whether a fetch for key is running.
func (c *Cache) InFlight(key media.Key) bool {
	return c.flights.InFlight(string(key))
}

// Blob returns a copy of the bytes behind a blob reference produced by this cache.
func (c *Cache) Blob(ref string) (media.Blob, bool) {
	blob, ok := c.blobs.get(ref)
	if !ok {
		return media.Blob{}, false
	}

	return blob.Clone(), true
}

// Flush blocks until every detached durable write has finished or ctx ends.
func (c *Cache) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.saves.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flush media cache: %w", ctx.Err())
	}
}

// Stats returns a snapshot of cache activity.
func (c *Cache) Stats() Stats {
	blobs, blobBytes := c.blobs.stats()

	return Stats{
		MemoryEntries:  c.memory.len(),
		Blobs:          blobs,
		BlobBytes:      blobBytes,
		InFlight:       c.flights.Len(),
		DurableHits:    c.stats.durableHits.Load(),
		DurableMisses:  c.stats.durableMisses.Load(),
		RemoteAttempts: c.stats.remoteAttempts.Load(),
		RemoteFailures: c.stats.remoteFailures.Load(),
		Saves:          c.stats.saves.Load(),
		SaveFailures:   c.stats.saveFailures.Load(),
		SkippedSaves:   c.stats.skippedSaves.Load(),
	}
}

func (c *Cache) synthesize(key media.Key, format media.Format) media.Prepared {
	if format == media.FormatProgressive {
		prepared := media.Prepared{Format: format, URL: c.cfg.progressivePrefix + string(key)}
		c.memory.set(key, prepared)
		return prepared
	}

	return media.Prepared{Format: format, URL: c.cfg.downloadPrefix + string(key)}
}

// load runs once per cold key: one durable read, then the remote download with
// retries, then a detached durable write and the memory cache update.
func (c *Cache) load(
	ctx context.Context,
	key media.Key,
	format media.Format,
	behavior media.Behavior,
	allowUnsafe bool,
	report flight.ProgressFunc,
) (media.Prepared, error) {
	bucket := media.BucketFor(key)

	payload, found, err := c.durable.Fetch(ctx, bucket, key, behavior.CacheType, allowUnsafe)
	if err != nil {
		c.cfg.logger.DebugContext(ctx, "durable cache read failed", "key", key, "bucket", bucket, "error", err)
		found = false
	}
	if found {
		c.stats.durableHits.Add(1)
		prepared, err := c.prepare(format, payload.Clone())
		if err != nil {
			return media.Prepared{}, fmt.Errorf("prepare cached %s: %w", key, err)
		}
		c.memory.set(key, prepared)
		return prepared, nil
	}
	c.stats.durableMisses.Add(1)

	payload, err = c.download(ctx, key, format, allowUnsafe, report)
	if err != nil {
		c.stats.remoteFailures.Add(1)
		c.cfg.logger.WarnContext(ctx, "media fetch failed", "key", key, "error", err)
		return media.Prepared{}, fmt.Errorf("%w: %s: %w", media.ErrRetrievalFailed, key, err)
	}
	// The cache owns this copy; the save and the prepared value only read it.
	payload = payload.Clone()

	if c.shouldPersist(behavior, payload) {
		c.saveDetached(ctx, bucket, key, behavior.CacheType, payload)
	} else {
		c.stats.skippedSaves.Add(1)
	}

	prepared, err := c.prepare(format, payload)
	if err != nil {
		return media.Prepared{}, fmt.Errorf("prepare downloaded %s: %w", key, err)
	}
	c.memory.set(key, prepared)

	return prepared, nil
}

func (c *Cache) download(
	ctx context.Context,
	key media.Key,
	format media.Format,
	allowUnsafe bool,
	report flight.ProgressFunc,
) (media.Payload, error) {
	request := media.Request{Key: key, Format: format, AllowUnsafe: allowUnsafe}
	attempt := 0
	operation := func() (media.Payload, error) {
		attempt++
		c.stats.remoteAttempts.Add(1)
		payload, err := c.fetcher.Download(ctx, request, media.ProgressFunc(report))
		if err == nil {
			return payload, nil
		}
		if errors.Is(err, media.ErrUnsafeContent) ||
			errors.Is(err, media.ErrNoFetcher) ||
			errors.Is(err, media.ErrPermanent) {
			return media.Payload{}, backoff.Permanent(err)
		}

		return media.Payload{}, err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.retryDelay), uint64(c.cfg.retryAttempts-1)),
		ctx,
	)

	return backoff.RetryNotifyWithData(operation, policy, func(err error, wait time.Duration) {
		c.cfg.logger.DebugContext(ctx, "media download attempt failed",
			"key", key,
			"attempt", attempt,
			"retry_in", wait,
			"error", err,
		)
	})
}

// shouldPersist applies the format's durable write gate.
func (c *Cache) shouldPersist(behavior media.Behavior, payload media.Payload) bool {
	if c.cfg.durableDisabled {
		return false
	}

	switch behavior.Cacheability {
	case media.CacheAlways:
		return true
	case media.CacheIfSmall:
		return int64(len(payload.Data)) <= c.cfg.maxCacheBytes
	case media.CacheNever:
		return false
	default:
		return false
	}
}

// saveDetached writes payload to the durable cache in its own goroutine. The
// write outlives the fetch; its errors are logged and discarded.
func (c *Cache) saveDetached(
	ctx context.Context,
	bucket string,
	key media.Key,
	cacheType media.CacheType,
	payload media.Payload,
) {
	saveCtx := context.WithoutCancel(ctx)
	c.saves.Add(1)
	go func() {
		defer c.saves.Done()
		defer func() {
			if recovered := recover(); recovered != nil {
				c.stats.saveFailures.Add(1)
				c.cfg.logger.DebugContext(saveCtx, "durable cache save panicked", "key", key, "panic", recovered)
			}
		}()

		timeoutCtx, cancel := context.WithTimeout(saveCtx, c.cfg.saveTimeout)
		defer cancel()
		if err := c.durable.Save(timeoutCtx, bucket, key, cacheType, payload); err != nil {
			c.stats.saveFailures.Add(1)
			c.cfg.logger.DebugContext(saveCtx, "durable cache save discarded", "key", key, "bucket", bucket, "error", err)
			return
		}
		c.stats.saves.Add(1)
	}()
}

// prepare converts a payload into the value handed to renderers.
func (c *Cache) prepare(format media.Format, payload media.Payload) (media.Prepared, error) {
	prepared := media.Prepared{
		Format:   format,
		MIMEType: payload.MIMEType,
		Size:     len(payload.Data),
	}

	switch format {
	case media.FormatBlobURL:
		prepared.URL = c.blobs.register(payload.Data, payload.MIMEType)
	case media.FormatText:
		prepared.Text = string(payload.Data)
	case media.FormatRaw:
		prepared.Raw = payload.Data
	case media.FormatProgressive, media.FormatDownloadURL:
		return media.Prepared{}, fmt.Errorf("%w: %s has no payload", media.ErrUnknownFormat, format)
	default:
		return media.Prepared{}, fmt.Errorf("%w: %d", media.ErrUnknownFormat, int(format))
	}

	return prepared, nil
}

// LogStats writes the current stats at info level.
func (c *Cache) LogStats(ctx context.Context) {
	c.cfg.logger.InfoContext(ctx, "media cache stats", slog.Any("stats", c.Stats()))
}
