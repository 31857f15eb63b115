package storage

import (
	"context"
	"sync"

	"tgmedia/pkg/media"
)

type memoryEntryKey struct {
	bucket string
	key    media.Key
}

// Memory is a process-local durable store. It survives cache instances but not
// the process, and is used when no persistent backend is configured.
type Memory struct {
	mu      sync.RWMutex
	entries map[memoryEntryKey]Record
}

// NewMemory creates an empty memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[memoryEntryKey]Record)}
}

// Fetch returns a copy of the stored payload when its record accepts the read.
func (m *Memory) Fetch(
	_ context.Context,
	bucket string,
	key media.Key,
	cacheType media.CacheType,
	allowUnsafe bool,
) (media.Payload, bool, error) {
	m.mu.RLock()
	record, exists := m.entries[memoryEntryKey{bucket: bucket, key: key}]
	m.mu.RUnlock()
	if !exists || !record.Accepts(cacheType, allowUnsafe) {
		return media.Payload{}, false, nil
	}

	return record.Payload().Clone(), true, nil
}

// Save stores a copy of payload.
func (m *Memory) Save(
	_ context.Context,
	bucket string,
	key media.Key,
	cacheType media.CacheType,
	payload media.Payload,
) error {
	record := NewRecord(cacheType, payload.Clone())

	m.mu.Lock()
	m.entries[memoryEntryKey{bucket: bucket, key: key}] = record
	m.mu.Unlock()

	return nil
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries)
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
