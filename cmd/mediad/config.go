package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"tgmedia/internal/driver"
	"tgmedia/internal/mediacache"
	"tgmedia/internal/remote"
	"tgmedia/internal/storage"
)

const (
	envConfigFile           = "MEDIAD_CONFIG_FILE"
	defaultConfigFilePath   = "config/mediad.json"
	alternateConfigFilePath = "bin/config/mediad.json"
	defaultShutdownTimeout  = 10 * time.Second
	defaultPrefetchWorkers  = 8
)

type appConfig struct {
	logLevel slog.Level

	cache           cacheConfig
	shutdownTimeout time.Duration
	prefetchWorkers int

	storage  []driver.Definition
	fetchers []driver.Definition
}

type cacheConfig struct {
	maxCacheBytes        int64
	disabled             bool
	retryAttempts        int
	retryDelay           time.Duration
	progressiveSupported bool
	progressivePrefix    string
	downloadPrefix       string
	saveTimeout          time.Duration
}

type fileConfig struct {
	LogLevel        string            `json:"log_level"`
	ShutdownTimeout string            `json:"shutdown_timeout"`
	PrefetchWorkers *int              `json:"prefetch_workers"`
	Cache           fileCacheConfig   `json:"cache"`
	Storage         []fileDriverEntry `json:"storage"`
	Fetchers        []fileDriverEntry `json:"fetchers"`
}

type fileCacheConfig struct {
	MaxCacheBytes        *int64 `json:"max_cache_bytes"`
	Disabled             *bool  `json:"disabled"`
	RetryAttempts        *int   `json:"retry_attempts"`
	RetryDelay           string `json:"retry_delay"`
	ProgressiveSupported *bool  `json:"progressive_supported"`
	ProgressivePrefix    string `json:"progressive_prefix"`
	DownloadPrefix       string `json:"download_prefix"`
	SaveTimeout          string `json:"save_timeout"`
}

type fileDriverEntry struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Enabled *bool           `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}

// registries bundles the builder registries config validation resolves types against.
type registries struct {
	storage  *driver.Registry[storage.Store]
	fetchers *driver.Registry[remote.Runtime]
}

func loadConfig(path string, regs registries) (appConfig, error) {
	cfg := defaultAppConfig()
	configFile := strings.TrimSpace(path)
	if configFile == "" {
		resolved, err := resolveConfigFilePath()
		if err != nil {
			return appConfig{}, err
		}
		configFile = resolved
	}

	if err := applyConfigFile(&cfg, configFile); err != nil {
		return appConfig{}, err
	}
	if err := validateAppConfig(&cfg, regs); err != nil {
		return appConfig{}, fmt.Errorf("validate config file %s: %w", configFile, err)
	}

	return cfg, nil
}

func resolveConfigFilePath() (string, error) {
	if configFile := strings.TrimSpace(os.Getenv(envConfigFile)); configFile != "" {
		return configFile, nil
	}

	candidates := []string{defaultConfigFilePath, alternateConfigFilePath}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", fmt.Errorf(
		"config file not found; create %s or %s, set %s, or pass --config",
		defaultConfigFilePath,
		alternateConfigFilePath,
		envConfigFile,
	)
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel: slog.LevelInfo,

		cache: cacheConfig{
			maxCacheBytes:        mediacache.DefaultMaxCacheBytes,
			retryAttempts:        mediacache.DefaultRetryAttempts,
			retryDelay:           mediacache.DefaultRetryDelay,
			progressiveSupported: true,
		},
		shutdownTimeout: defaultShutdownTimeout,
		prefetchWorkers: defaultPrefetchWorkers,

		storage:  make([]driver.Definition, 0),
		fetchers: make([]driver.Definition, 0),
	}
}

func applyConfigFile(cfg *appConfig, path string) error {
	if cfg == nil {
		return fmt.Errorf("apply config file: nil config")
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed fileConfig
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.logLevel = level
	}
	if cfg.shutdownTimeout, err = parsePositiveDuration("shutdown_timeout", parsed.ShutdownTimeout, cfg.shutdownTimeout); err != nil {
		return err
	}
	if parsed.PrefetchWorkers != nil {
		if *parsed.PrefetchWorkers <= 0 {
			return fmt.Errorf("parse prefetch_workers: must be > 0")
		}
		cfg.prefetchWorkers = *parsed.PrefetchWorkers
	}

	if err := applyCacheConfig(&cfg.cache, parsed.Cache); err != nil {
		return err
	}

	cfg.storage = parseDefinitions(parsed.Storage)
	cfg.fetchers = parseDefinitions(parsed.Fetchers)

	return nil
}

func applyCacheConfig(cfg *cacheConfig, parsed fileCacheConfig) error {
	if parsed.MaxCacheBytes != nil {
		if *parsed.MaxCacheBytes <= 0 {
			return fmt.Errorf("parse cache.max_cache_bytes: must be > 0")
		}
		cfg.maxCacheBytes = *parsed.MaxCacheBytes
	}
	if parsed.Disabled != nil {
		cfg.disabled = *parsed.Disabled
	}
	if parsed.RetryAttempts != nil {
		if *parsed.RetryAttempts <= 0 {
			return fmt.Errorf("parse cache.retry_attempts: must be > 0")
		}
		cfg.retryAttempts = *parsed.RetryAttempts
	}
	if rawDelay := strings.TrimSpace(parsed.RetryDelay); rawDelay != "" {
		delay, err := time.ParseDuration(rawDelay)
		if err != nil {
			return fmt.Errorf("parse cache.retry_delay: %w", err)
		}
		if delay < 0 {
			return fmt.Errorf("parse cache.retry_delay: must be >= 0")
		}
		cfg.retryDelay = delay
	}
	if parsed.ProgressiveSupported != nil {
		cfg.progressiveSupported = *parsed.ProgressiveSupported
	}
	cfg.progressivePrefix = strings.TrimSpace(parsed.ProgressivePrefix)
	cfg.downloadPrefix = strings.TrimSpace(parsed.DownloadPrefix)

	var err error
	if cfg.saveTimeout, err = parsePositiveDuration("cache.save_timeout", parsed.SaveTimeout, cfg.saveTimeout); err != nil {
		return err
	}

	return nil
}

func parseDefinitions(entries []fileDriverEntry) []driver.Definition {
	definitions := make([]driver.Definition, 0, len(entries))
	for _, entry := range entries {
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		definitions = append(definitions, driver.Definition{
			Name:    strings.TrimSpace(entry.Name),
			Type:    strings.TrimSpace(entry.Type),
			Enabled: enabled,
			Config:  append([]byte(nil), entry.Config...),
		})
	}

	return definitions
}

func parsePositiveDuration(field string, raw string, fallback time.Duration) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback, nil
	}

	parsed, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("parse %s: must be > 0", field)
	}

	return parsed, nil
}

func validateAppConfig(cfg *appConfig, regs registries) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if regs.storage == nil || regs.fetchers == nil {
		return fmt.Errorf("nil registry")
	}

	if _, err := validateDefinitions("storage", cfg.storage, regs.storage.Supports); err != nil {
		return err
	}
	enabledFetchers, err := validateDefinitions("fetchers", cfg.fetchers, regs.fetchers.Supports)
	if err != nil {
		return err
	}
	if enabledFetchers == 0 {
		return fmt.Errorf("at least one enabled fetcher is required")
	}

	return nil
}

func validateDefinitions(scope string, definitions []driver.Definition, supports func(string) error) (int, error) {
	enabled := 0
	seen := make(map[string]struct{}, len(definitions))
	for _, definition := range definitions {
		if definition.Name == "" {
			return 0, fmt.Errorf("%s[].name is required", scope)
		}
		if definition.Type == "" {
			return 0, fmt.Errorf("%s[%s].type is required", scope, definition.Name)
		}
		if _, exists := seen[definition.Name]; exists {
			return 0, fmt.Errorf("%s[%s]: duplicate name", scope, definition.Name)
		}
		seen[definition.Name] = struct{}{}
		if !definition.Enabled {
			continue
		}
		if err := supports(definition.Type); err != nil {
			return 0, fmt.Errorf("%s[%s].type: %w", scope, definition.Name, err)
		}
		enabled++
	}

	return enabled, nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}

func (c cacheConfig) options(logger *slog.Logger) []mediacache.Option {
	options := []mediacache.Option{
		mediacache.WithLogger(logger),
		mediacache.WithRetry(c.retryAttempts, c.retryDelay),
		mediacache.WithMaxCacheBytes(c.maxCacheBytes),
		mediacache.WithDurableDisabled(c.disabled),
		mediacache.WithProgressiveSupport(c.progressiveSupported),
		mediacache.WithURLPrefixes(c.progressivePrefix, c.downloadPrefix),
	}
	if c.saveTimeout > 0 {
		options = append(options, mediacache.WithSaveTimeout(c.saveTimeout))
	}

	return options
}
