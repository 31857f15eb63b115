package mediacache

import (
	"log/slog"
	"time"

	"tgmedia/pkg/media"
)

const (
	// DefaultRetryAttempts is the total number of remote download attempts per fetch.
	DefaultRetryAttempts = 3
	// DefaultRetryDelay is the constant pause between remote download attempts.
	DefaultRetryDelay = time.Second
	// DefaultMaxCacheBytes is the largest blob persisted to the durable cache.
	DefaultMaxCacheBytes int64 = 10 << 20

	defaultProgressivePrefix = "./progressive/"
	defaultDownloadPrefix    = "./download/"
	defaultBlobScheme        = "blob:tgmedia/"
	defaultSaveTimeout       = 30 * time.Second
)

// config stores resolved cache settings after option application.
type config struct {
	logger               *slog.Logger
	retryAttempts        int
	retryDelay           time.Duration
	maxCacheBytes        int64
	durableDisabled      bool
	progressiveSupported bool
	progressivePrefix    string
	downloadPrefix       string
	saveTimeout          time.Duration
}

// Option mutates cache construction configuration.
type Option func(*config)

func defaultConfig() config {
	return config{
		logger:               slog.Default(),
		retryAttempts:        DefaultRetryAttempts,
		retryDelay:           DefaultRetryDelay,
		maxCacheBytes:        DefaultMaxCacheBytes,
		progressiveSupported: true,
		progressivePrefix:    defaultProgressivePrefix,
		downloadPrefix:       defaultDownloadPrefix,
		saveTimeout:          defaultSaveTimeout,
	}
}

// WithLogger configures the cache logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithRetry configures the total attempt budget and the constant delay between attempts.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(cfg *config) {
		if attempts > 0 {
			cfg.retryAttempts = attempts
		}
		if delay >= 0 {
			cfg.retryDelay = delay
		}
	}
}

// WithMaxCacheBytes configures the size ceiling for durable blob writes.
func WithMaxCacheBytes(limit int64) Option {
	return func(cfg *config) {
		if limit > 0 {
			cfg.maxCacheBytes = limit
		}
	}
}

// WithDurableDisabled blocks every durable cache write when disabled is true.
func WithDurableDisabled(disabled bool) Option {
	return func(cfg *config) {
		cfg.durableDisabled = disabled
	}
}

// WithProgressiveSupport configures whether streaming URLs can be served.
// Without support, progressive and download requests resolve as blobs.
func WithProgressiveSupport(supported bool) Option {
	return func(cfg *config) {
		cfg.progressiveSupported = supported
	}
}

// WithURLPrefixes configures the prefixes of synthesized progressive and download URLs.
func WithURLPrefixes(progressive string, download string) Option {
	return func(cfg *config) {
		if progressive != "" {
			cfg.progressivePrefix = progressive
		}
		if download != "" {
			cfg.downloadPrefix = download
		}
	}
}

// WithSaveTimeout bounds each detached durable write.
func WithSaveTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.saveTimeout = timeout
		}
	}
}

// ResolveOption configures one resolution.
type ResolveOption func(*resolveConfig)

type resolveConfig struct {
	subscriberID string
	progress     media.ProgressFunc
	allowUnsafe  bool
}

// WithProgress registers a progress subscriber for the resolution. Both id and fn
// are required; a callback without an id is ignored.
func WithProgress(subscriberID string, fn media.ProgressFunc) ResolveOption {
	return func(cfg *resolveConfig) {
		cfg.subscriberID = subscriberID
		cfg.progress = fn
	}
}

// WithUnsafeContent allows HTML payloads for the resolution.
func WithUnsafeContent() ResolveOption {
	return func(cfg *resolveConfig) {
		cfg.allowUnsafe = true
	}
}
