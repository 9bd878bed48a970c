package pathfinding

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/voxel-nav/internal/logging"
	"github.com/annel0/voxel-nav/internal/vec"
	"github.com/annel0/voxel-nav/internal/voxel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/spatial/r3"
)

// Result — итог поиска пути
type Result struct {
	Waypoints []r3.Vec      `json:"waypoints"` // Центры ячеек от старта до цели включительно
	Cells     []*voxel.Cell `json:"-"`
	Cost      float64       `json:"cost"`     // Сумма евклидовых длин шагов
	Expanded  int           `json:"expanded"` // Количество закрытых ячеек
	Found     bool          `json:"found"`
}

// Options — параметры поиска
type Options struct {
	MaxIterations int           // 0 = без ограничения
	Timeout       time.Duration // 0 = без ограничения
	Metrics       *Metrics
	Tracer        trace.Tracer
}

// Option изменяет Options
type Option func(*Options)

// WithMaxIterations ограничивает число раскрытий ячеек
func WithMaxIterations(n int) Option {
	return func(o *Options) { o.MaxIterations = n }
}

// WithTimeout ограничивает время одного поиска
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithMetrics включает запись Prometheus-метрик
func WithMetrics(m *Metrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithTracer задаёт трейсер OpenTelemetry
func WithTracer(t trace.Tracer) Option {
	return func(o *Options) { o.Tracer = t }
}

// Finder выполняет A* поверх воксельной сетки.
// Не хранит состояние поиска, поэтому безопасен для конкурентного использования.
type Finder struct {
	opts Options
}

// NewFinder создаёт Finder с заданными опциями
func NewFinder(options ...Option) *Finder {
	opts := Options{
		Tracer: otel.Tracer("github.com/annel0/voxel-nav/internal/pathfinding"),
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.MaxIterations < 0 {
		opts.MaxIterations = 0
	}
	return &Finder{opts: opts}
}

// Options возвращает действующие параметры
func (f *Finder) Options() Options { return f.opts }

var defaultFinder = NewFinder()

// FindPath ищет путь Finder'ом без ограничений и метрик
func FindPath(ctx context.Context, grid *voxel.Grid, start, end r3.Vec) (*Result, error) {
	return defaultFinder.FindPath(ctx, grid, start, end)
}

// FindPath ищет путь минимальной стоимости между двумя мировыми позициями.
// Позиции переводятся в ячейки с ограничением по границам сетки.
// Если цель недостижима, возвращается Result с Found == false и ErrNoPath.
func (f *Finder) FindPath(ctx context.Context, grid *voxel.Grid, start, end r3.Vec) (*Result, error) {
	begin := time.Now()

	if !grid.Ready() {
		f.opts.Metrics.observe(OutcomeInvalid, time.Since(begin), 0)
		return nil, voxel.ErrGridNotGenerated
	}

	startCell := grid.CellFromWorldPosition(start)
	goalCell := grid.CellFromWorldPosition(end)

	ctx, span := f.opts.Tracer.Start(ctx, "pathfinding.FindPath")
	defer span.End()
	span.SetAttributes(
		attribute.Int("start.index", startCell.Index),
		attribute.Int("goal.index", goalCell.Index),
	)

	res, err := f.search(ctx, grid, startCell, goalCell)

	outcome := OutcomeFound
	switch {
	case err == nil:
		span.SetAttributes(attribute.Float64("path.cost", res.Cost), attribute.Int("path.length", len(res.Waypoints)))
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, ErrNoPath):
		outcome = OutcomeNoPath
		span.SetStatus(codes.Ok, "no path")
	case errors.Is(err, ErrSearchTimeout):
		outcome = OutcomeTimeout
		span.RecordError(err)
		span.SetStatus(codes.Error, "budget exhausted")
	default:
		outcome = OutcomeCancelled
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
	}
	span.SetAttributes(attribute.Int("expanded", res.Expanded), attribute.String("outcome", outcome))

	elapsed := time.Since(begin)
	f.opts.Metrics.observe(outcome, elapsed, res.Expanded)
	logging.Debug("A* %v -> %v: %s, раскрыто %d, время %v",
		startCell.Coords, goalCell.Coords, outcome, res.Expanded, elapsed)

	if outcome == OutcomeCancelled {
		return nil, err
	}
	return res, err
}

// search — основной цикл A*. Состояние поиска хранится в таблице,
// созданной для этого вызова; ячейки сетки не изменяются.
func (f *Finder) search(ctx context.Context, grid *voxel.Grid, startCell, goalCell *voxel.Cell) (*Result, error) {
	res := &Result{}

	if startCell.Index == goalCell.Index {
		res.Waypoints = []r3.Vec{startCell.Position}
		res.Cells = []*voxel.Cell{startCell}
		res.Found = true
		return res, nil
	}

	var deadline time.Time
	if f.opts.Timeout > 0 {
		deadline = time.Now().Add(f.opts.Timeout)
	}

	nodes := make(map[int]*searchNode)
	var seq uint64

	open := make(openSet, 0, 64)
	root := &searchNode{
		cell:   startCell.Index,
		g:      0,
		h:      distance(startCell.Position, goalCell.Position),
		parent: -1,
		seq:    seq,
		state:  stateOpen,
	}
	nodes[root.cell] = root
	heap.Push(&open, root)

	for open.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("pathfinding: search cancelled after %d expansions: %w", res.Expanded, err)
		}
		if f.opts.MaxIterations > 0 && res.Expanded >= f.opts.MaxIterations {
			return res, fmt.Errorf("%w: %d iterations", ErrSearchTimeout, f.opts.MaxIterations)
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return res, fmt.Errorf("%w: %v elapsed", ErrSearchTimeout, f.opts.Timeout)
		}

		current := heap.Pop(&open).(*searchNode)
		current.state = stateClosed
		res.Expanded++

		if current.cell == goalCell.Index {
			retrace(grid, nodes, current, res)
			return res, nil
		}

		cur, _ := grid.CellByIndex(current.cell)
		for _, off := range vec.NeighborOffsets26 {
			neighbor, ok := grid.CellAt(cur.Coords.X+off.X, cur.Coords.Y+off.Y, cur.Coords.Z+off.Z)
			if !ok || !neighbor.Walkable {
				continue
			}

			tentative := current.g + distance(cur.Position, neighbor.Position)

			n, seen := nodes[neighbor.Index]
			if !seen {
				// Первое посещение: значения присваиваются безусловно
				seq++
				n = &searchNode{
					cell:   neighbor.Index,
					g:      tentative,
					h:      distance(neighbor.Position, goalCell.Position),
					parent: current.cell,
					seq:    seq,
					state:  stateOpen,
				}
				nodes[n.cell] = n
				heap.Push(&open, n)
				continue
			}

			if n.state == stateClosed {
				continue
			}
			if tentative < n.g {
				n.g = tentative
				n.parent = current.cell
				heap.Fix(&open, n.index)
			}
		}
	}

	return res, ErrNoPath
}

// retrace восстанавливает путь от цели к старту и разворачивает его
func retrace(grid *voxel.Grid, nodes map[int]*searchNode, goal *searchNode, res *Result) {
	for n := goal; n != nil; {
		cell, _ := grid.CellByIndex(n.cell)
		res.Cells = append(res.Cells, cell)
		if n.parent < 0 {
			break
		}
		n = nodes[n.parent]
	}

	for i, j := 0, len(res.Cells)-1; i < j; i, j = i+1, j-1 {
		res.Cells[i], res.Cells[j] = res.Cells[j], res.Cells[i]
	}

	res.Waypoints = make([]r3.Vec, len(res.Cells))
	for i, c := range res.Cells {
		res.Waypoints[i] = c.Position
	}
	res.Cost = goal.g
	res.Found = true
}

// distance — евклидово расстояние, используется и как стоимость шага, и как эвристика
func distance(a, b r3.Vec) float64 {
	return r3.Norm(r3.Sub(a, b))
}
