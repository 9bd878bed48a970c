package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // Нулевое значение — без истечения
}

// MemoryCache реализует PathCache в памяти процесса.
// Используется, когда Redis не настроен, и в тестах.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	stats   statsRecorder
	now     func() time.Time
}

// NewMemoryCache создаёт пустой кеш в памяти
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get возвращает копию значения или ErrCacheMiss
func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	start := time.Now()
	defer m.stats.recordLatency(start)

	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || m.expired(entry) {
		m.stats.miss()
		return nil, ErrCacheMiss
	}

	m.stats.hit()
	return append([]byte(nil), entry.value...), nil
}

// Set сохраняет копию значения
func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	start := time.Now()
	defer m.stats.recordLatency(start)

	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

// Delete удаляет ключ
func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// DeletePrefix удаляет все ключи с префиксом
func (m *MemoryCache) DeletePrefix(_ context.Context, prefix string) error {
	if prefix == "" {
		return ErrInvalidKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}
	return nil
}

// Close очищает кеш
func (m *MemoryCache) Close() error {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()
	return nil
}

// GetMetrics возвращает метрики; просроченные ключи не учитываются
func (m *MemoryCache) GetMetrics() *CacheMetrics {
	m.mu.RLock()
	var live int64
	for _, entry := range m.entries {
		if !m.expired(entry) {
			live++
		}
	}
	m.mu.RUnlock()

	return m.stats.snapshot(live)
}

func (m *MemoryCache) expired(e memoryEntry) bool {
	return !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt)
}
