package voxel

import (
	"github.com/annel0/voxel-nav/internal/vec"
	"gonum.org/v1/gonum/spatial/r3"
)

// Cell — ячейка сетки. Хранит только геометрию и проходимость;
// стоимости поиска (g, h, предок) живут в таблице конкретного поиска.
type Cell struct {
	Position r3.Vec   `json:"position"` // Центр ячейки в мировых координатах
	Walkable bool     `json:"walkable"`
	Coords   vec.Vec3 `json:"coords"` // Индексы (x, y, z) в сетке
	Index    int      `json:"index"`  // Плоский индекс x + y*W + z*W*H
}

// IsNeighborOf проверяет, что ячейки — соседи по 26-связности
func (c *Cell) IsNeighborOf(other *Cell) bool {
	return c.Coords.ChebyshevTo(other.Coords) == 1
}
