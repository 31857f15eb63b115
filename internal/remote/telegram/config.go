package telegram

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gotd/td/session"
)

const (
	defaultSessionFile  = ".cache/telegram/session.json"
	defaultAuthTimeout  = 3 * time.Minute
	defaultReadyTimeout = 30 * time.Second
	defaultThreads      = 1
	maxThreads          = 8
)

var defaultPrefixes = []string{"document"}

type runtimeConfig struct {
	AppID        int      `json:"app_id"`
	AppHash      string   `json:"app_hash"`
	SessionFile  string   `json:"session_file"`
	AuthTimeout  string   `json:"auth_timeout"`
	ReadyTimeout string   `json:"ready_timeout"`
	BotToken     string   `json:"bot_token"`
	Code         string   `json:"code"`
	Phone        string   `json:"phone"`
	Password     string   `json:"password"`
	Prefixes     []string `json:"prefixes"`
	Threads      int      `json:"threads"`
}

type parsedRuntimeConfig struct {
	appID        int
	appHash      string
	sessionFile  string
	authTimeout  time.Duration
	readyTimeout time.Duration
	botToken     string
	code         string
	phone        string
	password     string
	prefixes     []string
	threads      int
}

func parseRuntimeConfig(raw []byte) (parsedRuntimeConfig, error) {
	if len(raw) == 0 {
		return parsedRuntimeConfig{}, fmt.Errorf("missing config")
	}

	var parsed runtimeConfig
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return parsedRuntimeConfig{}, fmt.Errorf("unmarshal: %w", err)
	}

	cfg := parsedRuntimeConfig{
		appID:        parsed.AppID,
		appHash:      strings.TrimSpace(parsed.AppHash),
		sessionFile:  strings.TrimSpace(parsed.SessionFile),
		authTimeout:  defaultAuthTimeout,
		readyTimeout: defaultReadyTimeout,
		botToken:     strings.TrimSpace(parsed.BotToken),
		code:         strings.TrimSpace(parsed.Code),
		phone:        strings.TrimSpace(parsed.Phone),
		password:     strings.TrimSpace(parsed.Password),
		threads:      parsed.Threads,
	}

	if cfg.sessionFile == "" {
		cfg.sessionFile = defaultSessionFile
	}
	if cfg.threads <= 0 {
		cfg.threads = defaultThreads
	}
	if cfg.threads > maxThreads {
		return parsedRuntimeConfig{}, fmt.Errorf("threads must be <= %d", maxThreads)
	}
	for _, prefix := range parsed.Prefixes {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			cfg.prefixes = append(cfg.prefixes, trimmed)
		}
	}
	if len(cfg.prefixes) == 0 {
		cfg.prefixes = append([]string(nil), defaultPrefixes...)
	}

	var err error
	if cfg.authTimeout, err = parsePositiveDuration("auth_timeout", parsed.AuthTimeout, cfg.authTimeout); err != nil {
		return parsedRuntimeConfig{}, err
	}
	if cfg.readyTimeout, err = parsePositiveDuration("ready_timeout", parsed.ReadyTimeout, cfg.readyTimeout); err != nil {
		return parsedRuntimeConfig{}, err
	}

	if cfg.appID <= 0 {
		return parsedRuntimeConfig{}, fmt.Errorf("app_id must be > 0")
	}
	if cfg.appHash == "" {
		return parsedRuntimeConfig{}, fmt.Errorf("app_hash is required")
	}

	return cfg, nil
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

func newGotdSessionStorage(path string) (*session.FileStorage, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return nil, fmt.Errorf("empty session file path")
	}

	absPath, err := filepath.Abs(trimmedPath)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute session file path: %w", err)
	}
	sessionDir := filepath.Dir(absPath)
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		return nil, fmt.Errorf("create session directory %s: %w", sessionDir, err)
	}

	return &session.FileStorage{Path: absPath}, nil
}
