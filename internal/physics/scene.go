package physics

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
)

// Scene хранит набор препятствий и реализует ObstacleQuery.
// Препятствия раскладываются по корзинам горизонтальной сетки (X/Z),
// чтобы запрос проверял только ближайшие коллайдеры.
type Scene struct {
	mu         sync.RWMutex
	bucketSize float64
	colliders  []Collider
	buckets    map[bucketKey][]int
	bounds     *AABB // nil — раскладка без ограничений
}

// bucketKey представляет ключ корзины в горизонтальной сетке
type bucketKey struct {
	x, z int
}

// NewScene создаёт пустую сцену
func NewScene(bucketSize float64) *Scene {
	if bucketSize <= 0 {
		bucketSize = 8.0 // Размер корзины по умолчанию
	}

	return &Scene{
		bucketSize: bucketSize,
		buckets:    make(map[bucketKey][]int),
	}
}

// Add добавляет препятствия в сцену
func (s *Scene) Add(colliders ...Collider) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range colliders {
		id := len(s.colliders)
		s.colliders = append(s.colliders, c)

		s.index(id, c)
	}
}

// SetBounds ограничивает раскладку по корзинам областью b.
// Части коллайдеров и запросов за её пределами попадают в крайние корзины,
// поэтому число корзин не зависит от размеров препятствий.
func (s *Scene) SetBounds(b AABB) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bounds = &b
	s.buckets = make(map[bucketKey][]int)
	for id, c := range s.colliders {
		s.index(id, c)
	}
}

func (s *Scene) index(id int, c Collider) {
	for _, key := range s.bucketsForBounds(c.Bounds()) {
		s.buckets[key] = append(s.buckets[key], id)
	}
}

// Len возвращает количество препятствий
func (s *Scene) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.colliders)
}

// Colliders возвращает копию списка препятствий
func (s *Scene) Colliders() []Collider {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Collider, len(s.colliders))
	copy(out, s.colliders)
	return out
}

// Occupied проверяет, пересекает ли сфера хотя бы одно препятствие
func (s *Scene) Occupied(center r3.Vec, radius float64) bool {
	query := AABB{Min: center, Max: center}.Expand(radius)

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Один коллайдер может лежать в нескольких корзинах
	var seen map[int]struct{}
	for _, key := range s.bucketsForBounds(query) {
		for _, id := range s.buckets[key] {
			if seen == nil {
				seen = make(map[int]struct{})
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}

			if s.colliders[id].OverlapsSphere(center, radius) {
				return true
			}
		}
	}
	return false
}

// GetStats возвращает статистику сцены
func (s *Scene) GetStats() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	maxPerBucket := 0
	for _, ids := range s.buckets {
		if len(ids) > maxPerBucket {
			maxPerBucket = len(ids)
		}
	}
	return fmt.Sprintf("Scene Stats: %d colliders, %d buckets, max %d colliders/bucket",
		len(s.colliders), len(s.buckets), maxPerBucket)
}

// bucketsForBounds возвращает ключи корзин, пересекающихся с границами
func (s *Scene) bucketsForBounds(b AABB) []bucketKey {
	if s.bounds != nil {
		// Прижатие монотонно: пересекающиеся отрезки остаются пересекающимися
		b.Min.X, b.Max.X = clampSpan(b.Min.X, b.Max.X, s.bounds.Min.X, s.bounds.Max.X)
		b.Min.Z, b.Max.Z = clampSpan(b.Min.Z, b.Max.Z, s.bounds.Min.Z, s.bounds.Max.Z)
	}

	minX := int(math.Floor(b.Min.X / s.bucketSize))
	minZ := int(math.Floor(b.Min.Z / s.bucketSize))
	maxX := int(math.Floor(b.Max.X / s.bucketSize))
	maxZ := int(math.Floor(b.Max.Z / s.bucketSize))

	keys := make([]bucketKey, 0, (maxX-minX+1)*(maxZ-minZ+1))
	for x := minX; x <= maxX; x++ {
		for z := minZ; z <= maxZ; z++ {
			keys = append(keys, bucketKey{x: x, z: z})
		}
	}
	return keys
}

func clampSpan(lo, hi, limitLo, limitHi float64) (float64, float64) {
	return math.Min(math.Max(lo, limitLo), limitHi), math.Min(math.Max(hi, limitLo), limitHi)
}
