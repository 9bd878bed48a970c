package physics

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// AABB представляет выровненный по осям параллелепипед
type AABB struct {
	Min r3.Vec `json:"min"`
	Max r3.Vec `json:"max"`
}

// Expand возвращает AABB, расширенный на d по всем осям
func (b AABB) Expand(d float64) AABB {
	delta := r3.Vec{X: d, Y: d, Z: d}
	return AABB{Min: r3.Sub(b.Min, delta), Max: r3.Add(b.Max, delta)}
}

// Contains проверяет, лежит ли точка внутри (включая границу)
func (b AABB) Contains(p r3.Vec) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Collider — геометрия препятствия, умеющая проверять пересечение со сферой
type Collider interface {
	// OverlapsSphere возвращает true, если сфера касается или пересекает коллайдер
	OverlapsSphere(center r3.Vec, radius float64) bool
	// Bounds возвращает охватывающий AABB
	Bounds() AABB
}

// SphereCollider представляет сферическое препятствие
type SphereCollider struct {
	Center r3.Vec
	Radius float64
}

// OverlapsSphere проверяет пересечение двух сфер
func (s SphereCollider) OverlapsSphere(center r3.Vec, radius float64) bool {
	sum := s.Radius + radius
	d := r3.Sub(center, s.Center)
	return r3.Dot(d, d) <= sum*sum
}

// Bounds возвращает охватывающий AABB сферы
func (s SphereCollider) Bounds() AABB {
	return AABB{Min: s.Center, Max: s.Center}.Expand(s.Radius)
}

// BoxCollider представляет прямоугольное препятствие
type BoxCollider struct {
	Box AABB
}

// NewBoxCollider создаёт коллайдер по центру и половинам размеров
func NewBoxCollider(center, halfExtents r3.Vec) BoxCollider {
	return BoxCollider{Box: AABB{Min: r3.Sub(center, halfExtents), Max: r3.Add(center, halfExtents)}}
}

// OverlapsSphere ищет ближайшую к центру сферы точку коробки
func (b BoxCollider) OverlapsSphere(center r3.Vec, radius float64) bool {
	closest := r3.Vec{
		X: clamp(center.X, b.Box.Min.X, b.Box.Max.X),
		Y: clamp(center.Y, b.Box.Min.Y, b.Box.Max.Y),
		Z: clamp(center.Z, b.Box.Min.Z, b.Box.Max.Z),
	}
	d := r3.Sub(center, closest)
	return r3.Dot(d, d) <= radius*radius
}

// Bounds возвращает сам AABB
func (b BoxCollider) Bounds() AABB {
	return b.Box
}

// CylinderCollider — вертикальный цилиндр (ствол дерева), Base — центр нижнего основания
type CylinderCollider struct {
	Base   r3.Vec
	Radius float64
	Height float64
}

// OverlapsSphere проверяет пересечение сферы с вертикальным цилиндром
func (c CylinderCollider) OverlapsSphere(center r3.Vec, radius float64) bool {
	// Расстояние по вертикали до отрезка оси
	dy := center.Y - clamp(center.Y, c.Base.Y, c.Base.Y+c.Height)

	// Расстояние по горизонтали до боковой поверхности
	horizontal := math.Hypot(center.X-c.Base.X, center.Z-c.Base.Z)
	dh := math.Max(0, horizontal-c.Radius)

	return dy*dy+dh*dh <= radius*radius
}

// Bounds возвращает охватывающий AABB цилиндра
func (c CylinderCollider) Bounds() AABB {
	return AABB{
		Min: r3.Vec{X: c.Base.X - c.Radius, Y: c.Base.Y, Z: c.Base.Z - c.Radius},
		Max: r3.Vec{X: c.Base.X + c.Radius, Y: c.Base.Y + c.Height, Z: c.Base.Z + c.Radius},
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
