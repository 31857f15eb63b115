package telegram

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseRuntimeConfig(t *testing.T) {
	t.Parallel()

	cfg, err := parseRuntimeConfig([]byte(`{"app_id":1,"app_hash":" hash ","ready_timeout":"5s","threads":4,"prefixes":["document"," custom"]}`))
	if err != nil {
		t.Fatalf("parse runtime config failed: %v", err)
	}
	if cfg.appID != 1 {
		t.Fatalf("app id = %d, want 1", cfg.appID)
	}
	if cfg.appHash != "hash" {
		t.Fatalf("app hash = %q, want hash", cfg.appHash)
	}
	if cfg.readyTimeout != 5*time.Second {
		t.Fatalf("ready timeout = %v, want 5s", cfg.readyTimeout)
	}
	if cfg.authTimeout != defaultAuthTimeout {
		t.Fatalf("auth timeout = %v, want default", cfg.authTimeout)
	}
	if cfg.threads != 4 {
		t.Fatalf("threads = %d, want 4", cfg.threads)
	}
	if cfg.sessionFile != defaultSessionFile {
		t.Fatalf("session file = %q, want default", cfg.sessionFile)
	}
	if diff := cmp.Diff([]string{"document", "custom"}, cfg.prefixes); diff != "" {
		t.Fatalf("prefixes mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRuntimeConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := parseRuntimeConfig([]byte(`{"app_id":7,"app_hash":"h","bot_token":" 1:abc "}`))
	if err != nil {
		t.Fatalf("parse runtime config failed: %v", err)
	}
	if cfg.threads != defaultThreads {
		t.Fatalf("threads = %d, want %d", cfg.threads, defaultThreads)
	}
	if cfg.botToken != "1:abc" {
		t.Fatalf("bot token = %q, want trimmed", cfg.botToken)
	}
	if diff := cmp.Diff(defaultPrefixes, cfg.prefixes); diff != "" {
		t.Fatalf("prefixes mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRuntimeConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "bad json", raw: `{`},
		{name: "missing app id", raw: `{"app_hash":"h"}`},
		{name: "missing app hash", raw: `{"app_id":1}`},
		{name: "bad auth timeout", raw: `{"app_id":1,"app_hash":"h","auth_timeout":"bad"}`},
		{name: "zero ready timeout", raw: `{"app_id":1,"app_hash":"h","ready_timeout":"0s"}`},
		{name: "too many threads", raw: `{"app_id":1,"app_hash":"h","threads":64}`},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if _, err := parseRuntimeConfig([]byte(testCase.raw)); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}

func TestNewGotdSessionStorage(t *testing.T) {
	t.Parallel()

	sessionPath := filepath.Join(t.TempDir(), "nested", "telegram", "session.json")
	storage, err := newGotdSessionStorage(sessionPath)
	if err != nil {
		t.Fatalf("new gotd session storage failed: %v", err)
	}
	if !filepath.IsAbs(storage.Path) {
		t.Fatalf("session path = %q, want absolute", storage.Path)
	}
	if _, err := newGotdSessionStorage("   "); err == nil {
		t.Fatal("expected empty path error")
	}
}
