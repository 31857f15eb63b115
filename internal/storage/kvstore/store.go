// Package kvstore persists durable cache entries in a Valkey or Redis server
// under prefixed keys.
package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tgmedia/internal/storage"
	"tgmedia/pkg/media"
)

// Storage definition type tokens served by this package.
const (
	TypeValkey = "valkey"
	TypeRedis  = "redis"
)

const (
	defaultAddress        = "localhost:6379"
	defaultKeyPrefix      = "tgmedia:"
	defaultConnectTimeout = 5 * time.Second
)

// client is the minimal key/value surface shared by the Valkey and Redis adapters.
type client interface {
	get(ctx context.Context, key string) ([]byte, bool, error)
	set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	close() error
}

type fileConfig struct {
	Address        string `json:"address"`
	URL            string `json:"url"`
	Password       string `json:"password"`
	DB             int    `json:"db"`
	KeyPrefix      string `json:"key_prefix"`
	TTL            string `json:"ttl"`
	ConnectTimeout string `json:"connect_timeout"`
}

// Config is the parsed key/value store configuration.
type Config struct {
	Address  string
	URL      string
	Password string
	DB       int
	// KeyPrefix is prepended to every key and always ends with ":".
	KeyPrefix string
	// TTL expires stored entries; zero keeps them forever.
	TTL            time.Duration
	ConnectTimeout time.Duration
}

// ParseConfig parses one Valkey or Redis storage definition payload.
func ParseConfig(raw []byte) (Config, error) {
	var parsed fileConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return Config{}, fmt.Errorf("unmarshal: %w", err)
		}
	}

	cfg := Config{
		Address:        strings.TrimSpace(parsed.Address),
		URL:            strings.TrimSpace(parsed.URL),
		Password:       parsed.Password,
		DB:             parsed.DB,
		KeyPrefix:      strings.TrimSpace(parsed.KeyPrefix),
		ConnectTimeout: defaultConnectTimeout,
	}
	if cfg.Address == "" && cfg.URL == "" {
		cfg.Address = defaultAddress
	}
	if cfg.DB < 0 {
		return Config{}, fmt.Errorf("db must be >= 0")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	if !strings.HasSuffix(cfg.KeyPrefix, ":") {
		cfg.KeyPrefix += ":"
	}

	if ttl := strings.TrimSpace(parsed.TTL); ttl != "" {
		parsedTTL, err := time.ParseDuration(ttl)
		if err != nil {
			return Config{}, fmt.Errorf("parse ttl: %w", err)
		}
		if parsedTTL < 0 {
			return Config{}, fmt.Errorf("parse ttl: must be >= 0")
		}
		cfg.TTL = parsedTTL
	}
	if timeout := strings.TrimSpace(parsed.ConnectTimeout); timeout != "" {
		parsedTimeout, err := time.ParseDuration(timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse connect_timeout: %w", err)
		}
		if parsedTimeout <= 0 {
			return Config{}, fmt.Errorf("parse connect_timeout: must be > 0")
		}
		cfg.ConnectTimeout = parsedTimeout
	}

	return cfg, nil
}

// Store is a key/value backed durable cache.
type Store struct {
	client client
	prefix string
	ttl    time.Duration
}

var _ storage.Store = (*Store)(nil)

func newStore(client client, cfg Config) *Store {
	return &Store{client: client, prefix: cfg.KeyPrefix, ttl: cfg.TTL}
}

// Key returns the server key for one cache entry.
func (s *Store) Key(bucket string, key media.Key) string {
	return s.prefix + bucket + ":" + string(key)
}

// Fetch reads one entry.
func (s *Store) Fetch(
	ctx context.Context,
	bucket string,
	key media.Key,
	cacheType media.CacheType,
	allowUnsafe bool,
) (media.Payload, bool, error) {
	raw, found, err := s.client.get(ctx, s.Key(bucket, key))
	if err != nil {
		return media.Payload{}, false, fmt.Errorf("kv fetch %s/%s: %w", bucket, key, err)
	}
	if !found {
		return media.Payload{}, false, nil
	}

	record, err := storage.DecodeRecord(raw)
	if err != nil {
		return media.Payload{}, false, fmt.Errorf("kv fetch %s/%s: %w", bucket, key, err)
	}
	if !record.Accepts(cacheType, allowUnsafe) {
		return media.Payload{}, false, nil
	}

	return record.Payload(), true, nil
}

// Save writes one entry with the configured TTL.
func (s *Store) Save(
	ctx context.Context,
	bucket string,
	key media.Key,
	cacheType media.CacheType,
	payload media.Payload,
) error {
	encoded, err := storage.EncodeRecord(storage.NewRecord(cacheType, payload))
	if err != nil {
		return fmt.Errorf("kv save %s/%s: %w", bucket, key, err)
	}
	if err := s.client.set(ctx, s.Key(bucket, key), encoded, s.ttl); err != nil {
		return fmt.Errorf("kv save %s/%s: %w", bucket, key, err)
	}

	return nil
}

// Close closes the server connection.
func (s *Store) Close() error {
	if err := s.client.close(); err != nil {
		return fmt.Errorf("close kv store: %w", err)
	}

	return nil
}
