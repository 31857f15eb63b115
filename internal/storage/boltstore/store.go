// Package boltstore persists durable cache entries in a local bolt database,
// one bolt bucket per cache bucket.
package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tgmedia/internal/storage"
	"tgmedia/pkg/media"

	bolt "go.etcd.io/bbolt"
)

// Type is the storage definition type token for bolt stores.
const Type = "bolt"

const (
	defaultPath        = ".cache/tgmedia/media.db"
	defaultOpenTimeout = 5 * time.Second
)

type fileConfig struct {
	Path        string `json:"path"`
	OpenTimeout string `json:"open_timeout"`
}

// Config is the parsed bolt store configuration.
type Config struct {
	Path        string
	OpenTimeout time.Duration
}

// ParseConfig parses one bolt storage definition payload. An empty payload
// selects the defaults.
func ParseConfig(raw []byte) (Config, error) {
	cfg := Config{Path: defaultPath, OpenTimeout: defaultOpenTimeout}
	if len(raw) == 0 {
		return cfg, nil
	}

	var parsed fileConfig
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if path := strings.TrimSpace(parsed.Path); path != "" {
		cfg.Path = path
	}
	if timeout := strings.TrimSpace(parsed.OpenTimeout); timeout != "" {
		parsedTimeout, err := time.ParseDuration(timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse open_timeout: %w", err)
		}
		if parsedTimeout <= 0 {
			return Config{}, fmt.Errorf("parse open_timeout: must be > 0")
		}
		cfg.OpenTimeout = parsedTimeout
	}

	return cfg, nil
}

// Store is a bolt backed durable cache.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the database file at cfg.Path.
func Open(cfg Config) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("open bolt store: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("open bolt store create dir: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: cfg.OpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt store %s: %w", path, err)
	}

	return &Store{db: db}, nil
}

// Fetch reads one entry. A missing bucket is a miss.
func (s *Store) Fetch(
	_ context.Context,
	bucket string,
	key media.Key,
	cacheType media.CacheType,
	allowUnsafe bool,
) (media.Payload, bool, error) {
	var record storage.Record
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}

		decoded, err := storage.DecodeRecord(raw)
		if err != nil {
			return err
		}
		// bolt values are only valid inside the transaction.
		decoded.Data = append([]byte(nil), decoded.Data...)
		record = decoded
		found = true
		return nil
	})
	if err != nil {
		return media.Payload{}, false, fmt.Errorf("bolt fetch %s/%s: %w", bucket, key, err)
	}
	if !found || !record.Accepts(cacheType, allowUnsafe) {
		return media.Payload{}, false, nil
	}

	return record.Payload(), true, nil
}

// Save writes one entry, creating its bucket on first use.
func (s *Store) Save(
	_ context.Context,
	bucket string,
	key media.Key,
	cacheType media.CacheType,
	payload media.Payload,
) error {
	encoded, err := storage.EncodeRecord(storage.NewRecord(cacheType, payload))
	if err != nil {
		return fmt.Errorf("bolt save %s/%s: %w", bucket, key, err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		return b.Put([]byte(key), encoded)
	})
	if err != nil {
		return fmt.Errorf("bolt save %s/%s: %w", bucket, key, err)
	}

	return nil
}

// Close closes the database file.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close bolt store: %w", err)
	}

	return nil
}
