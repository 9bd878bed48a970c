package voxel

import (
	"fmt"

	"github.com/annel0/voxel-nav/internal/vec"
)

// Snapshot — сериализуемое представление сгенерированной сетки.
// Проходимость хранится битовой маской по плоскому индексу.
type Snapshot struct {
	Config   Config   `json:"config"`
	Extents  Extents  `json:"extents"`
	Dims     vec.Vec3 `json:"dims"`
	Walkable []byte   `json:"walkable"`
}

// Snapshot снимает состояние сетки
func (g *Grid) Snapshot() (*Snapshot, error) {
	if !g.Ready() {
		return nil, ErrGridNotGenerated
	}

	bits := make([]byte, (len(g.cells)+7)/8)
	for _, idx := range g.walkable {
		bits[idx/8] |= 1 << uint(idx%8)
	}

	return &Snapshot{
		Config:   g.cfg,
		Extents:  g.extents,
		Dims:     g.dims,
		Walkable: bits,
	}, nil
}

// FromSnapshot восстанавливает сетку без повторного опроса препятствий
func FromSnapshot(s *Snapshot) (*Grid, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrInvalidSnapshot)
	}
	if err := s.Config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	dims, err := s.Config.Plan(s.Extents)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if !dims.Equals(s.Dims) {
		return nil, fmt.Errorf("%w: dims %v do not match extents %v", ErrInvalidSnapshot, s.Dims, dims)
	}

	total := dims.X * dims.Y * dims.Z
	if len(s.Walkable) != (total+7)/8 {
		return nil, fmt.Errorf("%w: bitmap has %d bytes, want %d", ErrInvalidSnapshot, len(s.Walkable), (total+7)/8)
	}

	g := &Grid{
		cfg:     s.Config,
		extents: s.Extents,
		dims:    dims,
		cells:   make([]Cell, total),
	}
	for z := 0; z < dims.Z; z++ {
		for y := 0; y < dims.Y; y++ {
			for x := 0; x < dims.X; x++ {
				idx := g.index(x, y, z)
				coords := vec.Vec3{X: x, Y: y, Z: z}
				g.cells[idx] = Cell{
					Position: g.WorldPosition(coords),
					Walkable: s.Walkable[idx/8]&(1<<uint(idx%8)) != 0,
					Coords:   coords,
					Index:    idx,
				}
			}
		}
	}
	g.rebuildIndexLists()
	return g, nil
}
