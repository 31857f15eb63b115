package mediacache

import (
	"sync"

	"tgmedia/pkg/media"
)

// memoryCache holds prepared values for the session. Entries are never evicted.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[media.Key]media.Prepared
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[media.Key]media.Prepared)}
}

func (m *memoryCache) get(key media.Key) (media.Prepared, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prepared, ok := m.entries[key]
	return prepared, ok
}

func (m *memoryCache) set(key media.Key, prepared media.Prepared) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = prepared
}

func (m *memoryCache) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries)
}
