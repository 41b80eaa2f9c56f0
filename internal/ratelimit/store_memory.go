package ratelimit

import (
	"sync"
	"time"
)

type memoryEntry struct {
	hits  int
	reset time.Time
}

// MemoryStore keeps counters in a process-local map. Counters vanish on
// restart, which is acceptable for login throttling.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]memoryEntry{}, now: time.Now}
}

// Hit implements Store.
func (m *MemoryStore) Hit(key string, window time.Duration, count int) (int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	entry, ok := m.entries[key]
	if !ok || !entry.reset.After(now) {
		entry = memoryEntry{reset: now.Add(window)}
	}
	if count == 0 {
		// A peek never opens a window.
		return entry.hits, entry.reset, nil
	}
	entry.hits += count
	m.entries[key] = entry
	return entry.hits, entry.reset, nil
}
