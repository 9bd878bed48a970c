package navigation

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/annel0/voxel-nav/internal/physics"
	"github.com/annel0/voxel-nav/internal/terrain"
	"github.com/annel0/voxel-nav/internal/vec"
	"github.com/annel0/voxel-nav/internal/voxel"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// ErrGridNotFound — сетки с таким ID нет в реестре
	ErrGridNotFound = errors.New("navigation: grid not found")
	// ErrInvalidRequest — запрос на построение сетки некорректен
	ErrInvalidRequest = errors.New("navigation: invalid request")
)

// Виды явных препятствий
const (
	ObstacleBox      = "box"
	ObstacleSphere   = "sphere"
	ObstacleCylinder = "cylinder"
)

// ObstacleSpec описывает препятствие, заданное в запросе.
// Для box используется HalfExtents, для sphere Radius, для cylinder Radius и Height
// (Center трактуется как центр нижнего основания).
type ObstacleSpec struct {
	Kind        string  `json:"kind"`
	Center      r3.Vec  `json:"center"`
	HalfExtents r3.Vec  `json:"half_extents,omitempty"`
	Radius      float64 `json:"radius,omitempty"`
	Height      float64 `json:"height,omitempty"`
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Collider превращает описание в коллайдер сцены
func (o ObstacleSpec) Collider() (physics.Collider, error) {
	if !finite(o.Center.X, o.Center.Y, o.Center.Z, o.HalfExtents.X, o.HalfExtents.Y, o.HalfExtents.Z, o.Radius, o.Height) {
		return nil, fmt.Errorf("%w: obstacle parameters must be finite", ErrInvalidRequest)
	}
	switch o.Kind {
	case ObstacleBox:
		if o.HalfExtents.X < 0 || o.HalfExtents.Y < 0 || o.HalfExtents.Z < 0 {
			return nil, fmt.Errorf("%w: box half extents must be non-negative", ErrInvalidRequest)
		}
		return physics.NewBoxCollider(o.Center, o.HalfExtents), nil
	case ObstacleSphere:
		if o.Radius < 0 {
			return nil, fmt.Errorf("%w: sphere radius must be non-negative", ErrInvalidRequest)
		}
		return physics.SphereCollider{Center: o.Center, Radius: o.Radius}, nil
	case ObstacleCylinder:
		if o.Radius < 0 || o.Height < 0 {
			return nil, fmt.Errorf("%w: cylinder radius and height must be non-negative", ErrInvalidRequest)
		}
		return physics.CylinderCollider{Base: o.Center, Radius: o.Radius, Height: o.Height}, nil
	default:
		return nil, fmt.Errorf("%w: unknown obstacle kind %q", ErrInvalidRequest, o.Kind)
	}
}

// GridRequest — параметры построения новой сетки.
// Нулевые размеры берутся из леса (Width/Depth) и из настроек сервиса (Height).
type GridRequest struct {
	Name      string                `json:"name"`
	Extents   voxel.Extents         `json:"extents"`
	CellSize  float64               `json:"cell_size,omitempty"`
	Forest    *terrain.ForestConfig `json:"forest,omitempty"`    // nil — без деревьев
	Protected []r3.Vec              `json:"protected,omitempty"` // Точки, вокруг которых лес не растёт
	Obstacles []ObstacleSpec        `json:"obstacles,omitempty"`
}

// GridInfo — сводка о зарегистрированной сетке
type GridInfo struct {
	ID         string                `json:"id"`
	Name       string                `json:"name,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
	Dims       vec.Vec3              `json:"dims"`
	CellSize   float64               `json:"cell_size"`
	Origin     r3.Vec                `json:"origin"`
	Bounds     physics.AABB          `json:"bounds"`
	Walkable   int                   `json:"walkable"`
	Unwalkable int                   `json:"unwalkable"`
	Trees      int                   `json:"trees,omitempty"`
	Forest     *terrain.ForestConfig `json:"forest,omitempty"`
	Restored   bool                  `json:"restored,omitempty"`
}

// PathRequest — запрос поиска пути
type PathRequest struct {
	Start  r3.Vec `json:"start"`
	Goal   r3.Vec `json:"goal"`
	Smooth bool   `json:"smooth"`
}

// PathResponse — результат поиска пути.
// Found == false при недостижимой цели; это не ошибка сервиса.
type PathResponse struct {
	GridID    string   `json:"grid_id"`
	Found     bool     `json:"found"`
	StartCell vec.Vec3 `json:"start_cell"`
	GoalCell  vec.Vec3 `json:"goal_cell"`
	Waypoints []r3.Vec `json:"waypoints"`
	Smoothed  []r3.Vec `json:"smoothed,omitempty"`
	Cost      float64  `json:"cost"`
	Expanded  int      `json:"expanded"`
	Cached    bool     `json:"cached"`
}

// cachedPath — формат значения в кеше путей
type cachedPath struct {
	Found     bool     `json:"found"`
	Waypoints []r3.Vec `json:"waypoints"`
	Cost      float64  `json:"cost"`
	Expanded  int      `json:"expanded"`
}
