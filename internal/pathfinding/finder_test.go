package pathfinding

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/annel0/voxel-nav/internal/physics"
	"github.com/annel0/voxel-nav/internal/vec"
	"github.com/annel0/voxel-nav/internal/voxel"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/spatial/r3"
)

// buildGrid создаёт сетку с ячейкой 1 и центрами в (i+0.5); blocked задаёт препятствия по индексам
func buildGrid(t *testing.T, dims vec.Vec3, blocked func(x, y, z int) bool) *voxel.Grid {
	t.Helper()
	q := physics.QueryFunc(func(c r3.Vec, _ float64) bool {
		return blocked(int(math.Floor(c.X)), int(math.Floor(c.Y)), int(math.Floor(c.Z)))
	})
	g, err := voxel.Generate(context.Background(), voxel.DefaultConfig(),
		voxel.Extents{Width: float64(dims.X), Height: float64(dims.Y), Depth: float64(dims.Z)}, q)
	require.NoError(t, err)
	return g
}

func noObstacles(int, int, int) bool { return false }

// center возвращает мировую позицию ячейки с индексами (x,y,z)
func center(x, y, z int) r3.Vec {
	return r3.Vec{X: float64(x) + 0.5, Y: float64(y) + 0.5, Z: float64(z) + 0.5}
}

// assertValidPath проверяет соседство шагов, проходимость внутренних точек и стоимость
func assertValidPath(t *testing.T, res *Result) {
	t.Helper()
	require.True(t, res.Found)
	require.Len(t, res.Cells, len(res.Waypoints))

	for i, c := range res.Cells {
		assert.Equal(t, c.Position, res.Waypoints[i])
		if i > 0 && i < len(res.Cells)-1 {
			assert.True(t, c.Walkable, "Промежуточная точка %d непроходима", i)
		}
		if i > 0 {
			assert.True(t, res.Cells[i-1].IsNeighborOf(c), "Точки %d и %d не соседи", i-1, i)
		}
	}
	assert.InDelta(t, PathCost(res.Waypoints), res.Cost, 1e-9, "Стоимость должна равняться длине ломаной")
}

func TestFindPath_DiagonalThroughCube(t *testing.T) {
	g := buildGrid(t, vec.Vec3{X: 3, Y: 3, Z: 3}, noObstacles)

	res, err := FindPath(context.Background(), g, center(0, 0, 0), center(2, 2, 2))
	require.NoError(t, err)
	assertValidPath(t, res)

	want := []r3.Vec{center(0, 0, 0), center(1, 1, 1), center(2, 2, 2)}
	if diff := cmp.Diff(want, res.Waypoints); diff != "" {
		t.Errorf("Неверный путь (-want +got):\n%s", diff)
	}
	assert.InDelta(t, 2*math.Sqrt(3), res.Cost, 1e-9)

	goal := res.Cells[len(res.Cells)-1].Coords
	prev := math.MaxInt
	for _, c := range res.Cells {
		d := c.Coords.ChebyshevTo(goal)
		assert.Less(t, d, prev, "Расстояние Чебышёва до цели должно строго убывать")
		prev = d
	}
}

func TestFindPath_DetoursAroundColumn(t *testing.T) {
	g := buildGrid(t, vec.Vec3{X: 5, Y: 1, Z: 5}, func(x, _, z int) bool { return x == 2 && z == 2 })

	res, err := FindPath(context.Background(), g, center(0, 0, 0), center(4, 0, 4))
	require.NoError(t, err)
	assertValidPath(t, res)

	for _, c := range res.Cells {
		assert.False(t, c.Coords.X == 2 && c.Coords.Z == 2, "Путь проходит через препятствие")
	}
	assert.GreaterOrEqual(t, res.Cost, 4*math.Sqrt2)
	assert.InDelta(t, 2+3*math.Sqrt2, res.Cost, 1e-9)
	assert.Len(t, res.Waypoints, 6)
}

func TestFindPath_SeparatedPockets(t *testing.T) {
	g := buildGrid(t, vec.Vec3{X: 5, Y: 2, Z: 2}, func(x, _, _ int) bool { return x == 2 })

	res, err := FindPath(context.Background(), g, center(0, 0, 0), center(4, 1, 1))
	assert.ErrorIs(t, err, ErrNoPath)
	require.NotNil(t, res, "Отсутствие пути — значение, а не паника")
	assert.False(t, res.Found)
	assert.Empty(t, res.Waypoints)
	assert.Equal(t, 8, res.Expanded, "Должен быть закрыт весь карман 2x2x2")
}

func TestFindPath_SameCell(t *testing.T) {
	g := buildGrid(t, vec.Vec3{X: 3, Y: 3, Z: 3}, noObstacles)

	res, err := FindPath(context.Background(), g, r3.Vec{X: 1.6, Y: 1.7, Z: 1.8}, r3.Vec{X: 2.4, Y: 2.1, Z: 1.51})
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, []r3.Vec{center(1, 1, 1)}, res.Waypoints)
	assert.Zero(t, res.Cost)
}

func TestFindPath_ClampsOutsidePositions(t *testing.T) {
	g := buildGrid(t, vec.Vec3{X: 4, Y: 1, Z: 1}, noObstacles)

	res, err := FindPath(context.Background(), g, r3.Vec{X: -50, Y: -50, Z: -50}, r3.Vec{X: 50, Y: 50, Z: 50})
	require.NoError(t, err)
	assert.Equal(t, center(0, 0, 0), res.Waypoints[0])
	assert.Equal(t, center(3, 0, 0), res.Waypoints[len(res.Waypoints)-1])
	assert.InDelta(t, 3.0, res.Cost, 1e-9)
}

func TestFindPath_UnwalkableStartIsAllowed(t *testing.T) {
	g := buildGrid(t, vec.Vec3{X: 4, Y: 1, Z: 1}, func(x, _, _ int) bool { return x == 0 })

	res, err := FindPath(context.Background(), g, center(0, 0, 0), center(3, 0, 0))
	require.NoError(t, err)
	assertValidPath(t, res)
	assert.False(t, res.Cells[0].Walkable, "Старт остаётся непроходимым, но поиск идёт")
	assert.Len(t, res.Waypoints, 4)
}

func TestFindPath_UnwalkableGoalIsUnreachable(t *testing.T) {
	g := buildGrid(t, vec.Vec3{X: 4, Y: 1, Z: 1}, func(x, _, _ int) bool { return x == 3 })

	res, err := FindPath(context.Background(), g, center(0, 0, 0), center(3, 0, 0))
	assert.ErrorIs(t, err, ErrNoPath, "Соседи проверяются на проходимость, включая цель")
	assert.False(t, res.Found)

	res, err = FindPath(context.Background(), g, center(3, 0, 0), center(3, 0, 0))
	require.NoError(t, err, "Совпадающие старт и цель возвращают одну точку даже в препятствии")
	assert.Len(t, res.Waypoints, 1)
}

func TestFindPath_NotGenerated(t *testing.T) {
	_, err := FindPath(context.Background(), nil, r3.Vec{}, r3.Vec{})
	assert.ErrorIs(t, err, voxel.ErrGridNotGenerated)

	_, err = FindPath(context.Background(), &voxel.Grid{}, r3.Vec{}, r3.Vec{})
	assert.ErrorIs(t, err, voxel.ErrGridNotGenerated)
}

// randomGrid строит сетку со случайными препятствиями
func randomGrid(t *testing.T, rng *rand.Rand, dims vec.Vec3, density float64) *voxel.Grid {
	t.Helper()
	mask := make(map[vec.Vec3]bool)
	for z := 0; z < dims.Z; z++ {
		for y := 0; y < dims.Y; y++ {
			for x := 0; x < dims.X; x++ {
				mask[vec.Vec3{X: x, Y: y, Z: z}] = rng.Float64() < density
			}
		}
	}
	return buildGrid(t, dims, func(x, y, z int) bool { return mask[vec.Vec3{X: x, Y: y, Z: z}] })
}

// dijkstraCost считает эталонную стоимость по графу проходимых ячеек
func dijkstraCost(g *voxel.Grid, from, to int) float64 {
	graph := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for i := 0; i < g.Len(); i++ {
		if c, _ := g.CellByIndex(i); c.Walkable {
			graph.AddNode(simple.Node(i))
		}
	}
	for i := 0; i < g.Len(); i++ {
		c, _ := g.CellByIndex(i)
		if !c.Walkable {
			continue
		}
		for _, off := range vec.NeighborOffsets26 {
			n, ok := g.CellAt(c.Coords.X+off.X, c.Coords.Y+off.Y, c.Coords.Z+off.Z)
			if !ok || !n.Walkable || n.Index < c.Index {
				continue
			}
			graph.SetWeightedEdge(graph.NewWeightedEdge(simple.Node(c.Index), simple.Node(n.Index),
				r3.Norm(r3.Sub(c.Position, n.Position))))
		}
	}
	shortest := path.DijkstraFrom(graph.Node(int64(from)), graph)
	return shortest.WeightTo(int64(to))
}

func TestFindPath_MatchesDijkstra(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 25; round++ {
		g := randomGrid(t, rng, vec.Vec3{X: 6, Y: 3, Z: 6}, 0.3)
		start, err := g.RandomWalkableCell(rng)
		require.NoError(t, err)
		goal, err := g.RandomWalkableCell(rng)
		require.NoError(t, err)

		want := dijkstraCost(g, start.Index, goal.Index)
		res, err := FindPath(context.Background(), g, start.Position, goal.Position)

		if math.IsInf(want, 1) {
			assert.ErrorIs(t, err, ErrNoPath, "Раунд %d: Dijkstra не нашёл путь", round)
			continue
		}
		require.NoError(t, err, "Раунд %d", round)
		assertValidPath(t, res)
		assert.InDelta(t, want, res.Cost, 1e-9, "Раунд %d: стоимость A* должна совпадать с Dijkstra", round)
	}
}

func TestFindPath_Idempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	g := randomGrid(t, rng, vec.Vec3{X: 10, Y: 4, Z: 10}, 0.25)
	start, goal := center(0, 0, 0), center(9, 3, 9)

	first, err1 := FindPath(context.Background(), g, start, goal)
	second, err2 := FindPath(context.Background(), g, start, goal)

	assert.Equal(t, errors.Is(err1, ErrNoPath), errors.Is(err2, ErrNoPath))
	if diff := cmp.Diff(first.Waypoints, second.Waypoints); diff != "" {
		t.Errorf("Повторный поиск вернул другой путь (-first +second):\n%s", diff)
	}
	assert.Equal(t, first.Expanded, second.Expanded)
}

func TestFindPath_ConcurrentSearches(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	g := randomGrid(t, rng, vec.Vec3{X: 12, Y: 3, Z: 12}, 0.2)
	finder := NewFinder()

	type query struct{ from, to r3.Vec }
	queries := make([]query, 16)
	expected := make([]*Result, len(queries))
	for i := range queries {
		a, _ := g.RandomWalkableCell(rng)
		b, _ := g.RandomWalkableCell(rng)
		queries[i] = query{a.Position, b.Position}
		expected[i], _ = finder.FindPath(context.Background(), g, a.Position, b.Position)
	}

	var wg sync.WaitGroup
	got := make([]*Result, len(queries))
	for i := range queries {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], _ = finder.FindPath(context.Background(), g, queries[i].from, queries[i].to)
		}(i)
	}
	wg.Wait()

	for i := range queries {
		assert.Equal(t, expected[i].Found, got[i].Found)
		assert.Empty(t, cmp.Diff(expected[i].Waypoints, got[i].Waypoints), "Запрос %d", i)
	}
}

func TestFindPath_Cancelled(t *testing.T) {
	g := buildGrid(t, vec.Vec3{X: 8, Y: 8, Z: 8}, noObstacles)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := FindPath(ctx, g, center(0, 0, 0), center(7, 7, 7))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrNoPath)
	assert.Nil(t, res)
}

func TestFindPath_Budgets(t *testing.T) {
	g := buildGrid(t, vec.Vec3{X: 30, Y: 30, Z: 30}, noObstacles)

	res, err := NewFinder(WithMaxIterations(3)).FindPath(context.Background(), g, center(0, 0, 0), center(29, 29, 29))
	assert.ErrorIs(t, err, ErrSearchTimeout)
	assert.NotErrorIs(t, err, ErrNoPath)
	require.NotNil(t, res)
	assert.False(t, res.Found)
	assert.Equal(t, 3, res.Expanded)

	_, err = NewFinder(WithTimeout(time.Nanosecond)).FindPath(context.Background(), g, center(0, 0, 0), center(29, 29, 29))
	assert.ErrorIs(t, err, ErrSearchTimeout)

	res, err = NewFinder(WithMaxIterations(1000), WithTimeout(time.Minute)).
		FindPath(context.Background(), g, center(0, 0, 0), center(29, 29, 29))
	require.NoError(t, err, "Достаточный бюджет не должен мешать поиску")
	assert.Len(t, res.Waypoints, 30)
}

func TestFinder_MetricsAndTracing(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	finder := NewFinder(WithMetrics(metrics), WithTracer(provider.Tracer("test")))
	g := buildGrid(t, vec.Vec3{X: 5, Y: 1, Z: 2}, func(x, _, _ int) bool { return x == 2 })

	_, err := finder.FindPath(context.Background(), g, center(0, 0, 0), center(1, 0, 1))
	require.NoError(t, err)
	_, err = finder.FindPath(context.Background(), g, center(0, 0, 0), center(4, 0, 0))
	require.ErrorIs(t, err, ErrNoPath)
	_, err = finder.FindPath(context.Background(), nil, center(0, 0, 0), center(4, 0, 0))
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.searches.WithLabelValues(OutcomeFound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.searches.WithLabelValues(OutcomeNoPath)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.searches.WithLabelValues(OutcomeInvalid)))

	spans := recorder.Ended()
	require.Len(t, spans, 2, "Спан создаётся только для сгенерированной сетки")
	for _, s := range spans {
		assert.Equal(t, "pathfinding.FindPath", s.Name())
	}
}
