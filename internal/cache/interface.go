package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// PathCache определяет интерфейс кеша результатов поиска пути.
//
// Использование:
//
//	c := NewMemoryCache()
//	key := PathKey(gridID, startIdx, goalIdx)
//	data, err := c.Get(ctx, key)
//	err = c.Set(ctx, key, data, time.Minute)
//	err = c.DeletePrefix(ctx, GridPrefix(gridID))
type PathCache interface {
	// Get получает значение по ключу из кеша.
	// Возвращает ErrCacheMiss если ключ не найден.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set сохраняет значение в кеше с указанным TTL.
	// TTL = 0 означает отсутствие истечения.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete удаляет ключ из кеша.
	Delete(ctx context.Context, key string) error

	// DeletePrefix удаляет все ключи с префиксом (например, все пути одной сетки).
	DeletePrefix(ctx context.Context, prefix string) error

	// Close закрывает соединение с кешем.
	Close() error

	// GetMetrics возвращает метрики кеша.
	GetMetrics() *CacheMetrics
}

// GridPrefix возвращает префикс ключей путей одной сетки
func GridPrefix(gridID string) string {
	return "path:" + gridID + ":"
}

// PathKey возвращает ключ пути между ячейками с плоскими индексами startIdx и goalIdx
func PathKey(gridID string, startIdx, goalIdx int) string {
	return fmt.Sprintf("%s%d:%d", GridPrefix(gridID), startIdx, goalIdx)
}

// CacheMetrics содержит метрики производительности кеша.
type CacheMetrics struct {
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	HitRatio      float64 `json:"hit_ratio"`

	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MaxLatencyMs float64 `json:"max_latency_ms"`

	TotalKeys int64 `json:"total_keys"`

	LastUpdate time.Time `json:"last_update"`
}

// Ошибки кеша
var (
	ErrCacheMiss  = NewCacheError("cache miss")
	ErrInvalidKey = NewCacheError("invalid key")
)

// CacheError представляет ошибку кеша.
type CacheError struct {
	Message string
}

func (e *CacheError) Error() string {
	return e.Message
}

func NewCacheError(message string) *CacheError {
	return &CacheError{Message: message}
}

// IsCacheMiss проверяет, является ли ошибка промахом кеша.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// statsRecorder считает попадания, промахи и задержки. Общий для всех реализаций.
type statsRecorder struct {
	requests int64
	hits     int64
	misses   int64

	latencySum   int64 // в наносекундах
	latencyCount int64
	maxLatency   int64
}

func (s *statsRecorder) hit()  { atomic.AddInt64(&s.requests, 1); atomic.AddInt64(&s.hits, 1) }
func (s *statsRecorder) miss() { atomic.AddInt64(&s.requests, 1); atomic.AddInt64(&s.misses, 1) }

// recordLatency записывает latency метрику.
func (s *statsRecorder) recordLatency(start time.Time) {
	latency := time.Since(start).Nanoseconds()

	atomic.AddInt64(&s.latencySum, latency)
	atomic.AddInt64(&s.latencyCount, 1)

	for {
		current := atomic.LoadInt64(&s.maxLatency)
		if latency <= current || atomic.CompareAndSwapInt64(&s.maxLatency, current, latency) {
			break
		}
	}
}

// snapshot собирает CacheMetrics
func (s *statsRecorder) snapshot(totalKeys int64) *CacheMetrics {
	m := &CacheMetrics{
		TotalRequests: atomic.LoadInt64(&s.requests),
		CacheHits:     atomic.LoadInt64(&s.hits),
		CacheMisses:   atomic.LoadInt64(&s.misses),
		TotalKeys:     totalKeys,
		LastUpdate:    time.Now(),
	}
	if total := m.CacheHits + m.CacheMisses; total > 0 {
		m.HitRatio = float64(m.CacheHits) / float64(total)
	}
	if count := atomic.LoadInt64(&s.latencyCount); count > 0 {
		m.AvgLatencyMs = float64(atomic.LoadInt64(&s.latencySum)) / float64(count) / 1e6 // нс в мс
		m.MaxLatencyMs = float64(atomic.LoadInt64(&s.maxLatency)) / 1e6
	}
	return m
}
