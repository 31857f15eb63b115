package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tgmedia/internal/mediacache"
)

func writeConfigFile(t *testing.T, path string, contents string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatalf("create config dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func testRegistries(t *testing.T) registries {
	t.Helper()

	regs, err := newRegistries()
	if err != nil {
		t.Fatalf("new registries failed: %v", err)
	}

	return regs
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    slog.Level
		wantErr bool
	}{
		{name: "debug", input: "debug", want: slog.LevelDebug},
		{name: "info", input: "info", want: slog.LevelInfo},
		{name: "warn", input: "warn", want: slog.LevelWarn},
		{name: "warning", input: "warning", want: slog.LevelWarn},
		{name: "error", input: "error", want: slog.LevelError},
		{name: "invalid", input: "trace", wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			got, err := parseLogLevel(testCase.input)
			if testCase.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if testCase.wantErr {
				return
			}
			if got != testCase.want {
				t.Fatalf("level = %v, want %v", got, testCase.want)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("loads all supported fields from config file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "mediad.json")
		writeConfigFile(t, configPath, `{
			"log_level":"warn",
			"shutdown_timeout":"15s",
			"prefetch_workers":3,
			"cache":{
				"max_cache_bytes":2048,
				"disabled":true,
				"retry_attempts":5,
				"retry_delay":"250ms",
				"progressive_supported":false,
				"progressive_prefix":"/stream/",
				"download_prefix":"/dl/",
				"save_timeout":"2s"
			},
			"storage":[
				{"name":"hot","type":"memory"},
				{"name":"disk","type":"bolt","enabled":false,"config":{"path":"media.db"}}
			],
			"fetchers":[
				{"name":"cdn","type":"http","config":{"base_url":"https://cdn.example.com/"}}
			]
		}`)
		t.Setenv(envConfigFile, configPath)

		cfg, err := loadConfig("", testRegistries(t))
		if err != nil {
			t.Fatalf("load config failed: %v", err)
		}

		if cfg.logLevel != slog.LevelWarn {
			t.Fatalf("log level = %v, want %v", cfg.logLevel, slog.LevelWarn)
		}
		if cfg.shutdownTimeout != 15*time.Second {
			t.Fatalf("shutdown timeout = %s, want 15s", cfg.shutdownTimeout)
		}
		if cfg.prefetchWorkers != 3 {
			t.Fatalf("prefetch workers = %d, want 3", cfg.prefetchWorkers)
		}
		if cfg.cache.maxCacheBytes != 2048 {
			t.Fatalf("max cache bytes = %d, want 2048", cfg.cache.maxCacheBytes)
		}
		if !cfg.cache.disabled {
			t.Fatal("cache disabled = false, want true")
		}
		if cfg.cache.retryAttempts != 5 || cfg.cache.retryDelay != 250*time.Millisecond {
			t.Fatalf("retry = (%d, %s), want (5, 250ms)", cfg.cache.retryAttempts, cfg.cache.retryDelay)
		}
		if cfg.cache.progressiveSupported {
			t.Fatal("progressive supported = true, want false")
		}
		if cfg.cache.progressivePrefix != "/stream/" || cfg.cache.downloadPrefix != "/dl/" {
			t.Fatalf("prefixes = (%q, %q), want (/stream/, /dl/)", cfg.cache.progressivePrefix, cfg.cache.downloadPrefix)
		}
		if cfg.cache.saveTimeout != 2*time.Second {
			t.Fatalf("save timeout = %s, want 2s", cfg.cache.saveTimeout)
		}
		if len(cfg.storage) != 2 || !cfg.storage[0].Enabled || cfg.storage[1].Enabled {
			t.Fatalf("storage = %+v, want enabled memory and disabled bolt", cfg.storage)
		}
		if len(cfg.fetchers) != 1 || cfg.fetchers[0].Name != "cdn" {
			t.Fatalf("fetchers = %+v, want cdn", cfg.fetchers)
		}
		if !strings.Contains(string(cfg.fetchers[0].Config), "cdn.example.com") {
			t.Fatalf("fetcher config = %s, want raw payload", cfg.fetchers[0].Config)
		}
	})

	t.Run("explicit path wins and defaults apply", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "explicit.json")
		writeConfigFile(t, configPath, `{"fetchers":[{"name":"cdn","type":"http"}]}`)
		t.Setenv(envConfigFile, filepath.Join(t.TempDir(), "missing.json"))

		cfg, err := loadConfig(configPath, testRegistries(t))
		if err != nil {
			t.Fatalf("load config failed: %v", err)
		}
		if cfg.logLevel != slog.LevelInfo {
			t.Fatalf("log level = %v, want info", cfg.logLevel)
		}
		if cfg.cache.retryAttempts != mediacache.DefaultRetryAttempts || cfg.cache.retryDelay != mediacache.DefaultRetryDelay {
			t.Fatalf("retry = (%d, %s), want defaults", cfg.cache.retryAttempts, cfg.cache.retryDelay)
		}
		if cfg.cache.maxCacheBytes != mediacache.DefaultMaxCacheBytes {
			t.Fatalf("max cache bytes = %d, want default", cfg.cache.maxCacheBytes)
		}
		if !cfg.cache.progressiveSupported {
			t.Fatal("progressive supported = false, want default true")
		}
		if cfg.prefetchWorkers != defaultPrefetchWorkers {
			t.Fatalf("prefetch workers = %d, want %d", cfg.prefetchWorkers, defaultPrefetchWorkers)
		}
	})

	t.Run("loads fallback path bin/config/mediad.json when no explicit path is set", func(t *testing.T) {
		workDir := t.TempDir()
		configPath := filepath.Join(workDir, "bin", "config", "mediad.json")
		writeConfigFile(t, configPath, `{"log_level":"debug","fetchers":[{"name":"cdn","type":"http"}]}`)

		currentDir, err := os.Getwd()
		if err != nil {
			t.Fatalf("get working directory: %v", err)
		}
		if err := os.Chdir(workDir); err != nil {
			t.Fatalf("chdir to temp work dir: %v", err)
		}
		t.Cleanup(func() {
			if err := os.Chdir(currentDir); err != nil {
				t.Fatalf("restore working directory: %v", err)
			}
		})
		t.Setenv(envConfigFile, "")

		cfg, err := loadConfig("", testRegistries(t))
		if err != nil {
			t.Fatalf("load config failed: %v", err)
		}
		if cfg.logLevel != slog.LevelDebug {
			t.Fatalf("log level = %v, want debug", cfg.logLevel)
		}
	})

	t.Run("missing config file fails", func(t *testing.T) {
		workDir := t.TempDir()
		currentDir, err := os.Getwd()
		if err != nil {
			t.Fatalf("get working directory: %v", err)
		}
		if err := os.Chdir(workDir); err != nil {
			t.Fatalf("chdir to temp work dir: %v", err)
		}
		t.Cleanup(func() {
			if err := os.Chdir(currentDir); err != nil {
				t.Fatalf("restore working directory: %v", err)
			}
		})
		t.Setenv(envConfigFile, "")

		if _, err := loadConfig("", testRegistries(t)); err == nil || !strings.Contains(err.Error(), "config file not found") {
			t.Fatalf("error = %v, want config file not found", err)
		}
	})

	t.Run("invalid config values fail", func(t *testing.T) {
		tests := []struct {
			name       string
			fileJSON   string
			wantErrSub string
		}{
			{
				name:       "invalid log level",
				fileJSON:   `{"log_level":"trace","fetchers":[{"name":"cdn","type":"http"}]}`,
				wantErrSub: "parse log_level",
			},
			{
				name:       "invalid shutdown timeout",
				fileJSON:   `{"shutdown_timeout":"bad","fetchers":[{"name":"cdn","type":"http"}]}`,
				wantErrSub: "parse shutdown_timeout",
			},
			{
				name:       "non-positive prefetch workers",
				fileJSON:   `{"prefetch_workers":0,"fetchers":[{"name":"cdn","type":"http"}]}`,
				wantErrSub: "parse prefetch_workers",
			},
			{
				name:       "non-positive retry attempts",
				fileJSON:   `{"cache":{"retry_attempts":0},"fetchers":[{"name":"cdn","type":"http"}]}`,
				wantErrSub: "parse cache.retry_attempts",
			},
			{
				name:       "negative retry delay",
				fileJSON:   `{"cache":{"retry_delay":"-1s"},"fetchers":[{"name":"cdn","type":"http"}]}`,
				wantErrSub: "parse cache.retry_delay",
			},
			{
				name:       "non-positive max cache bytes",
				fileJSON:   `{"cache":{"max_cache_bytes":0},"fetchers":[{"name":"cdn","type":"http"}]}`,
				wantErrSub: "parse cache.max_cache_bytes",
			},
			{
				name:       "no fetcher",
				fileJSON:   `{"fetchers":[{"name":"cdn","type":"http","enabled":false}]}`,
				wantErrSub: "at least one enabled fetcher",
			},
			{
				name:       "unsupported fetcher type",
				fileJSON:   `{"fetchers":[{"name":"cdn","type":"ftp"}]}`,
				wantErrSub: "fetchers[cdn].type",
			},
			{
				name:       "unsupported storage type",
				fileJSON:   `{"storage":[{"name":"disk","type":"tape"}],"fetchers":[{"name":"cdn","type":"http"}]}`,
				wantErrSub: "storage[disk].type",
			},
			{
				name:       "duplicate fetcher name",
				fileJSON:   `{"fetchers":[{"name":"cdn","type":"http"},{"name":"cdn","type":"http","enabled":false}]}`,
				wantErrSub: "duplicate name",
			},
			{
				name:       "missing storage name",
				fileJSON:   `{"storage":[{"type":"memory"}],"fetchers":[{"name":"cdn","type":"http"}]}`,
				wantErrSub: "storage[].name is required",
			},
		}

		for _, testCase := range tests {
			testCase := testCase
			t.Run(testCase.name, func(t *testing.T) {
				configPath := filepath.Join(t.TempDir(), "mediad.json")
				writeConfigFile(t, configPath, testCase.fileJSON)

				_, err := loadConfig(configPath, testRegistries(t))
				if err == nil {
					t.Fatal("expected error")
				}
				if !strings.Contains(err.Error(), testCase.wantErrSub) {
					t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSub)
				}
			})
		}
	})
}
