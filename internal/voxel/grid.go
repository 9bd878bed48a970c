package voxel

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"time"

	"github.com/annel0/voxel-nav/internal/logging"
	"github.com/annel0/voxel-nav/internal/physics"
	"github.com/annel0/voxel-nav/internal/vec"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"
)

// Погрешность при делении размеров мира на размер ячейки
const ceilEpsilon = 1e-9

// DefaultMaxCells — предел числа ячеек, если Config.MaxCells не задан
const DefaultMaxCells = 1 << 22

// Config содержит параметры дискретизации
type Config struct {
	Origin            r3.Vec  `json:"origin" yaml:"-"`                                // Мировая позиция ячейки (0,0,0)
	CellSize          float64 `json:"cell_size" yaml:"cell_size"`                     // Длина ребра ячейки
	ObstacleThreshold float64 `json:"obstacle_threshold" yaml:"obstacle_threshold"`   // Доля размера ячейки, используемая как радиус запроса
	Workers           int     `json:"workers,omitempty" yaml:"workers"`               // 0 = runtime.NumCPU()
	MaxCells          int     `json:"max_cells,omitempty" yaml:"max_cells"`           // 0 = DefaultMaxCells
}

// CenteredOrigin возвращает начало координат, при котором ячейка (0,0,0)
// центрирована в (cellSize/2, cellSize/2, cellSize/2)
func CenteredOrigin(cellSize float64) r3.Vec {
	h := cellSize / 2
	return r3.Vec{X: h, Y: h, Z: h}
}

// DefaultConfig возвращает конфигурацию по умолчанию: ячейка 1, порог 0.5
func DefaultConfig() Config {
	return Config{
		Origin:            CenteredOrigin(1),
		CellSize:          1,
		ObstacleThreshold: 0.5,
	}
}

// Validate проверяет параметры дискретизации
func (c Config) Validate() error {
	if !(c.CellSize > 0) || math.IsInf(c.CellSize, 0) {
		return fmt.Errorf("%w: cell size must be positive, got %v", ErrInvalidConfig, c.CellSize)
	}
	if c.ObstacleThreshold < 0 || math.IsNaN(c.ObstacleThreshold) {
		return fmt.Errorf("%w: obstacle threshold must be non-negative, got %v", ErrInvalidConfig, c.ObstacleThreshold)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must be non-negative, got %d", ErrInvalidConfig, c.Workers)
	}
	if c.MaxCells < 0 {
		return fmt.Errorf("%w: max cells must be non-negative, got %d", ErrInvalidConfig, c.MaxCells)
	}
	return nil
}

// CellLimit возвращает наибольшее допустимое число ячеек сетки
func (c Config) CellLimit() int {
	if c.MaxCells == 0 {
		return DefaultMaxCells
	}
	return c.MaxCells
}

// Plan проверяет размеры мира и возвращает размерность сетки, не выделяя памяти.
// Сетка пустая или больше CellLimit отклоняется с ErrInvalidConfig.
func (c Config) Plan(ext Extents) (vec.Vec3, error) {
	if err := ext.Validate(); err != nil {
		return vec.Vec3{}, err
	}

	// Считаем в float64: произведение не переполняется, а бесконечность больше любого предела
	fx := ceilCells(ext.Width, c.CellSize)
	fy := ceilCells(ext.Height, c.CellSize)
	fz := ceilCells(ext.Depth, c.CellSize)
	if fx < 1 || fy < 1 || fz < 1 {
		return vec.Vec3{}, fmt.Errorf("%w: extents produce empty grid %vx%vx%v", ErrInvalidConfig, fx, fy, fz)
	}
	if total := fx * fy * fz; total > float64(c.CellLimit()) {
		return vec.Vec3{}, fmt.Errorf("%w: grid of %vx%vx%v cells exceeds limit %d", ErrInvalidConfig, fx, fy, fz, c.CellLimit())
	}
	return vec.Vec3{X: int(fx), Y: int(fy), Z: int(fz)}, nil
}

// Bounds возвращает объём, который займёт сетка размерности dims
func (c Config) Bounds(dims vec.Vec3) physics.AABB {
	last := r3.Add(c.Origin, r3.Scale(c.CellSize, r3.Vec{
		X: float64(dims.X - 1),
		Y: float64(dims.Y - 1),
		Z: float64(dims.Z - 1),
	}))
	return physics.AABB{Min: c.Origin, Max: last}.Expand(c.CellSize / 2)
}

// Extents — размеры мира в мировых единицах
type Extents struct {
	Width  float64 `json:"width" yaml:"width"`   // вдоль X
	Depth  float64 `json:"depth" yaml:"depth"`   // вдоль Z
	Height float64 `json:"height" yaml:"height"` // вдоль Y
}

// Validate проверяет, что все размеры положительны
func (e Extents) Validate() error {
	if !(e.Width > 0) || !(e.Depth > 0) || !(e.Height > 0) {
		return fmt.Errorf("%w: extents must be positive, got %vx%vx%v", ErrInvalidConfig, e.Width, e.Depth, e.Height)
	}
	return nil
}

// ceilCells делит размер мира на размер ячейки с округлением вверх
func ceilCells(extent, cellSize float64) float64 {
	return math.Ceil(extent/cellSize - ceilEpsilon)
}

// Grid — воксельная сетка. После генерации геометрия неизменна,
// поэтому сетку можно одновременно читать из нескольких поисков.
type Grid struct {
	cfg        Config
	extents    Extents
	dims       vec.Vec3
	cells      []Cell
	walkable   []int // Индексы проходимых ячеек по возрастанию
	unwalkable []int // Индексы непроходимых ячеек по возрастанию
}

var tracer = otel.Tracer("github.com/annel0/voxel-nav/internal/voxel")

// Generate дискретизирует объём и классифицирует каждую ячейку через query.
// Радиус запроса равен CellSize * ObstacleThreshold.
func Generate(ctx context.Context, cfg Config, ext Extents, query physics.ObstacleQuery) (*Grid, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dims, err := cfg.Plan(ext)
	if err != nil {
		return nil, err
	}
	if query == nil {
		return nil, fmt.Errorf("%w: obstacle query is nil", ErrInvalidConfig)
	}

	ctx, span := tracer.Start(ctx, "voxel.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.Int("dims.x", dims.X),
		attribute.Int("dims.y", dims.Y),
		attribute.Int("dims.z", dims.Z),
		attribute.Float64("cell_size", cfg.CellSize),
	)

	start := time.Now()
	g := &Grid{
		cfg:     cfg,
		extents: ext,
		dims:    dims,
		cells:   make([]Cell, dims.X*dims.Y*dims.Z),
	}

	if err := g.classify(ctx, query); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "classification aborted")
		return nil, fmt.Errorf("voxel: generation aborted: %w", err)
	}
	g.rebuildIndexLists()

	span.SetAttributes(
		attribute.Int("walkable", len(g.walkable)),
		attribute.Int("unwalkable", len(g.unwalkable)),
	)
	span.SetStatus(codes.Ok, "")

	logging.Debug("Сетка %dx%dx%d сгенерирована за %v: проходимых %d, непроходимых %d",
		dims.X, dims.Y, dims.Z, time.Since(start), len(g.walkable), len(g.unwalkable))
	return g, nil
}

// Regenerate строит новую сетку с теми же параметрами; прежняя сетка не меняется
func (g *Grid) Regenerate(ctx context.Context, query physics.ObstacleQuery) (*Grid, error) {
	if !g.Ready() {
		return nil, ErrGridNotGenerated
	}
	return Generate(ctx, g.cfg, g.extents, query)
}

// classify опрашивает препятствия параллельно по слоям Z.
// Каждый слой пишет только в свой непересекающийся диапазон индексов.
func (g *Grid) classify(ctx context.Context, query physics.ObstacleQuery) error {
	workers := g.cfg.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}

	radius := g.cfg.CellSize * g.cfg.ObstacleThreshold

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)

	for z := 0; z < g.dims.Z; z++ {
		z := z
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			for y := 0; y < g.dims.Y; y++ {
				for x := 0; x < g.dims.X; x++ {
					idx := g.index(x, y, z)
					coords := vec.Vec3{X: x, Y: y, Z: z}
					pos := g.WorldPosition(coords)

					g.cells[idx] = Cell{
						Position: pos,
						Walkable: !query.Occupied(pos, radius),
						Coords:   coords,
						Index:    idx,
					}
				}
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}
	// errgroup не видит отмену, случившуюся после последнего слоя
	return ctx.Err()
}

// rebuildIndexLists пересобирает списки проходимых/непроходимых индексов
func (g *Grid) rebuildIndexLists() {
	g.walkable = g.walkable[:0]
	g.unwalkable = g.unwalkable[:0]
	for i := range g.cells {
		if g.cells[i].Walkable {
			g.walkable = append(g.walkable, i)
		} else {
			g.unwalkable = append(g.unwalkable, i)
		}
	}
}

// Ready сообщает, сгенерирована ли сетка
func (g *Grid) Ready() bool {
	return g != nil && len(g.cells) > 0
}

// Config возвращает параметры дискретизации
func (g *Grid) Config() Config { return g.cfg }

// Extents возвращает запрошенные размеры мира
func (g *Grid) Extents() Extents { return g.extents }

// Dimensions возвращает количество ячеек по осям
func (g *Grid) Dimensions() vec.Vec3 { return g.dims }

// CellSize возвращает длину ребра ячейки
func (g *Grid) CellSize() float64 { return g.cfg.CellSize }

// Origin возвращает мировую позицию ячейки (0,0,0)
func (g *Grid) Origin() r3.Vec { return g.cfg.Origin }

// Len возвращает общее количество ячеек
func (g *Grid) Len() int {
	if g == nil {
		return 0
	}
	return len(g.cells)
}

// WalkableCount возвращает количество проходимых ячеек
func (g *Grid) WalkableCount() int { return len(g.walkable) }

// UnwalkableCount возвращает количество непроходимых ячеек
func (g *Grid) UnwalkableCount() int { return len(g.unwalkable) }

// UnwalkableCells возвращает непроходимые ячейки в порядке индексов
func (g *Grid) UnwalkableCells() []*Cell {
	out := make([]*Cell, len(g.unwalkable))
	for i, idx := range g.unwalkable {
		out[i] = &g.cells[idx]
	}
	return out
}

// Bounds возвращает объём, покрытый ячейками (центры ± половина ячейки)
func (g *Grid) Bounds() physics.AABB {
	return g.cfg.Bounds(g.dims)
}

// WorldPosition возвращает origin + coords*cellSize
func (g *Grid) WorldPosition(coords vec.Vec3) r3.Vec {
	return r3.Add(g.cfg.Origin, r3.Scale(g.cfg.CellSize, r3.Vec{
		X: float64(coords.X),
		Y: float64(coords.Y),
		Z: float64(coords.Z),
	}))
}

// InBounds проверяет, что индексы лежат в [0, dimension)
func (g *Grid) InBounds(x, y, z int) bool {
	return x >= 0 && x < g.dims.X &&
		y >= 0 && y < g.dims.Y &&
		z >= 0 && z < g.dims.Z
}

// index преобразует 3D индексы в плоский
func (g *Grid) index(x, y, z int) int {
	return x + y*g.dims.X + z*g.dims.X*g.dims.Y
}

// CellAt — строгий поиск: без ограничения индексов, false при выходе за границы
func (g *Grid) CellAt(x, y, z int) (*Cell, bool) {
	if g == nil || !g.InBounds(x, y, z) || len(g.cells) == 0 {
		return nil, false
	}
	return &g.cells[g.index(x, y, z)], true
}

// CellByIndex возвращает ячейку по плоскому индексу
func (g *Grid) CellByIndex(i int) (*Cell, bool) {
	if g == nil || i < 0 || i >= len(g.cells) {
		return nil, false
	}
	return &g.cells[i], true
}

// CellFromWorldPosition — поиск с ограничением: floor((pos-origin)/cellSize)
// по каждой оси прижимается к [0, dimension-1]. Для сгенерированной сетки
// всегда возвращает ячейку; nil только если сетка не сгенерирована.
func (g *Grid) CellFromWorldPosition(pos r3.Vec) *Cell {
	if !g.Ready() {
		return nil
	}

	local := r3.Scale(1/g.cfg.CellSize, r3.Sub(pos, g.cfg.Origin))
	x := clampIndex(local.X, g.dims.X)
	y := clampIndex(local.Y, g.dims.Y)
	z := clampIndex(local.Z, g.dims.Z)

	return &g.cells[g.index(x, y, z)]
}

// clampIndex выполняет floor и прижатие в пространстве float64,
// чтобы огромные значения и NaN не переполняли int
func clampIndex(v float64, dim int) int {
	f := math.Floor(v)
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > float64(dim-1) {
		return dim - 1
	}
	return int(f)
}

// RandomWalkableCell равномерно выбирает проходимую ячейку.
// Если rng == nil, используется глобальный генератор math/rand.
func (g *Grid) RandomWalkableCell(rng *rand.Rand) (*Cell, error) {
	if !g.Ready() {
		return nil, ErrGridNotGenerated
	}
	if len(g.walkable) == 0 {
		return nil, ErrNoWalkableCells
	}

	var n int
	if rng != nil {
		n = rng.Intn(len(g.walkable))
	} else {
		n = rand.Intn(len(g.walkable))
	}
	return &g.cells[g.walkable[n]], nil
}

// GetStats возвращает краткую статистику сетки
func (g *Grid) GetStats() string {
	if !g.Ready() {
		return "Grid Stats: not generated"
	}
	return fmt.Sprintf("Grid Stats: %dx%dx%d cells (size %.3f), %d walkable, %d unwalkable",
		g.dims.X, g.dims.Y, g.dims.Z, g.cfg.CellSize, len(g.walkable), len(g.unwalkable))
}
