// Package sqlstore persists durable cache entries in a SQL table through gorm,
// on SQLite or PostgreSQL.
package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tgmedia/pkg/media"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Type is the storage definition type token for SQL stores.
const Type = "sql"

const (
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"

	defaultSQLitePath = ".cache/tgmedia/media.sqlite"
)

// Entry is one stored media payload.
type Entry struct {
	Bucket    string `gorm:"primaryKey;size:64"`
	Key       string `gorm:"column:media_key;primaryKey;size:512"`
	CacheType string `gorm:"size:16;not null"`
	MIMEType  string `gorm:"size:255"`
	Data      []byte
	Size      int
	UpdatedAt time.Time
}

// TableName pins the table name independent of gorm naming rules.
func (Entry) TableName() string {
	return "media_entries"
}

type fileConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
	Path   string `json:"path"`
}

// Config is the parsed SQL store configuration.
type Config struct {
	Driver string
	DSN    string
	// Path is the SQLite file whose directory is created on open.
	Path string
}

// ParseConfig parses one SQL storage definition payload. SQLite is the default
// driver; its DSN is built from path when dsn is empty.
func ParseConfig(raw []byte) (Config, error) {
	var parsed fileConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return Config{}, fmt.Errorf("unmarshal: %w", err)
		}
	}

	cfg := Config{
		Driver: strings.ToLower(strings.TrimSpace(parsed.Driver)),
		DSN:    strings.TrimSpace(parsed.DSN),
	}
	if cfg.Driver == "" {
		cfg.Driver = driverSQLite
	}

	switch cfg.Driver {
	case driverSQLite:
		if cfg.DSN == "" {
			path := strings.TrimSpace(parsed.Path)
			if path == "" {
				path = defaultSQLitePath
			}
			cfg.Path = path
			cfg.DSN = fmt.Sprintf("file:%s?_journal_mode=WAL", path)
		}
	case driverPostgres:
		if cfg.DSN == "" {
			return Config{}, fmt.Errorf("dsn is required for driver %s", driverPostgres)
		}
	default:
		return Config{}, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	return cfg, nil
}

// Store is a gorm backed durable cache.
type Store struct {
	db *gorm.DB
}

// Open connects to the database and migrates the entry table.
func Open(cfg Config) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case driverSQLite:
		if cfg.Path != "" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
				return nil, fmt.Errorf("open sql store create dir: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.DSN)
	case driverPostgres:
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("open sql store: unsupported driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open sql store (%s): %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open sql store sql.DB: %w", err)
	}
	if cfg.Driver == driverSQLite {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	} else {
		sqlDB.SetMaxOpenConns(16)
		sqlDB.SetMaxIdleConns(4)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Entry{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("open sql store migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Fetch reads one entry.
func (s *Store) Fetch(
	ctx context.Context,
	bucket string,
	key media.Key,
	cacheType media.CacheType,
	allowUnsafe bool,
) (media.Payload, bool, error) {
	var entry Entry
	err := s.db.WithContext(ctx).
		Where("bucket = ? AND media_key = ?", bucket, string(key)).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return media.Payload{}, false, nil
	}
	if err != nil {
		return media.Payload{}, false, fmt.Errorf("sql fetch %s/%s: %w", bucket, key, err)
	}

	if media.CacheType(entry.CacheType) != cacheType {
		return media.Payload{}, false, nil
	}
	if !allowUnsafe && media.IsUnsafeMIME(entry.MIMEType) {
		return media.Payload{}, false, nil
	}

	return media.Payload{Data: entry.Data, MIMEType: entry.MIMEType}, true, nil
}

// Save upserts one entry.
func (s *Store) Save(
	ctx context.Context,
	bucket string,
	key media.Key,
	cacheType media.CacheType,
	payload media.Payload,
) error {
	entry := Entry{
		Bucket:    bucket,
		Key:       string(key),
		CacheType: string(cacheType),
		MIMEType:  payload.MIMEType,
		Data:      payload.Data,
		Size:      len(payload.Data),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&entry).Error
	if err != nil {
		return fmt.Errorf("sql save %s/%s: %w", bucket, key, err)
	}

	return nil
}

// Count returns the number of stored entries in bucket.
func (s *Store) Count(ctx context.Context, bucket string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Entry{}).Where("bucket = ?", bucket).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("sql count %s: %w", bucket, err)
	}

	return count, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("close sql store: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close sql store: %w", err)
	}

	return nil
}
