package navigation

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/annel0/voxel-nav/internal/cache"
	"github.com/annel0/voxel-nav/internal/eventbus"
	"github.com/annel0/voxel-nav/internal/pathfinding"
	"github.com/annel0/voxel-nav/internal/storage"
	"github.com/annel0/voxel-nav/internal/terrain"
	"github.com/annel0/voxel-nav/internal/voxel"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

type fixture struct {
	svc   *Service
	store *storage.GridStore
	cache *cache.MemoryCache
	bus   eventbus.EventBus

	mu     sync.Mutex
	events []*eventbus.Envelope
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := storage.NewInMemoryGridStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		store: store,
		cache: cache.NewMemoryCache(),
		bus:   eventbus.NewMemoryBus(64),
	}
	t.Cleanup(func() { _ = f.bus.Close() })

	_, err = f.bus.Subscribe(context.Background(), eventbus.Filter{}, func(ctx context.Context, ev *eventbus.Envelope) {
		f.mu.Lock()
		f.events = append(f.events, ev)
		f.mu.Unlock()
	})
	require.NoError(t, err)

	f.svc = f.newService(t)
	return f
}

func (f *fixture) newService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Options{
		Grid:     voxel.DefaultConfig(),
		Height:   3,
		CacheTTL: time.Minute,
		Finder:   pathfinding.NewFinder(pathfinding.WithMaxIterations(10_000)),
		Store:    f.store,
		Cache:    f.cache,
		Bus:      f.bus,
		Rand:     rand.New(rand.NewSource(7)),
	})
	require.NoError(t, err)
	return svc
}

func (f *fixture) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, len(f.events))
	for i, ev := range f.events {
		types[i] = ev.EventType
	}
	return types
}

// wallRequest — мир 6x3x6 со стеной в слое x=3; при gap стена оставляет проход в z=5
func wallRequest(gap bool) GridRequest {
	wall := ObstacleSpec{Kind: ObstacleBox, Center: r3.Vec{X: 3.5, Y: 1.5, Z: 3}, HalfExtents: r3.Vec{X: 0.05, Y: 10, Z: 10}}
	if gap {
		wall.Center.Z = 2.3
		wall.HalfExtents.Z = 2.3
	}
	return GridRequest{
		Name:      "wall",
		Extents:   voxel.Extents{Width: 6, Depth: 6, Height: 3},
		Obstacles: []ObstacleSpec{wall},
	}
}

func TestService_CreateGrid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	info, err := f.svc.CreateGrid(ctx, wallRequest(true))
	require.NoError(t, err)

	assert.NotEmpty(t, info.ID)
	assert.Equal(t, 6, info.Dims.X)
	assert.Equal(t, 3, info.Dims.Y)
	assert.Equal(t, 6, info.Dims.Z)
	assert.Equal(t, 15, info.Unwalkable, "Стена занимает 3x5 ячеек")
	assert.Equal(t, 108-15, info.Walkable)

	got, err := f.svc.Info(info.ID)
	require.NoError(t, err)
	assert.Equal(t, *info, *got)

	rec, err := f.store.Load(info.ID)
	require.NoError(t, err, "Снимок должен сохраняться в хранилище")
	assert.Equal(t, "wall", rec.Name)

	assert.Eventually(t, func() bool {
		return cmp.Equal([]string{eventbus.EventGridGenerated}, f.eventTypes())
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_CreateGridInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateGrid(ctx, GridRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest, "Без леса размеры обязательны")

	req := wallRequest(false)
	req.Obstacles = append(req.Obstacles, ObstacleSpec{Kind: "cone"})
	_, err = f.svc.CreateGrid(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	bad := terrain.DefaultForestConfig()
	bad.Scale = 0
	_, err = f.svc.CreateGrid(ctx, GridRequest{Forest: &bad})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	assert.Empty(t, f.svc.ListGrids())
}

func TestService_CreateGridLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	huge := GridRequest{Extents: voxel.Extents{Width: 3e6, Depth: 3e6, Height: 3e6}}
	_, err := f.svc.CreateGrid(ctx, huge)
	assert.ErrorIs(t, err, ErrInvalidRequest, "Сетка больше предела ячеек отклоняется")

	big := wallRequest(false)
	big.Obstacles = append(big.Obstacles, ObstacleSpec{
		Kind:        ObstacleBox,
		Center:      r3.Vec{X: 3, Y: -5, Z: 3},
		HalfExtents: r3.Vec{X: 1e6, Y: 1, Z: 1e6},
	})
	info, err := f.svc.CreateGrid(ctx, big)
	require.NoError(t, err, "Огромное препятствие прижимается к границам сетки")
	assert.Equal(t, 18, info.Unwalkable)

	forest := terrain.DefaultForestConfig()
	forest.Width, forest.Depth = 1000, 1000
	_, err = f.svc.CreateGrid(ctx, GridRequest{
		Extents: voxel.Extents{Width: 10, Depth: 10},
		Forest:  &forest,
	})
	assert.ErrorIs(t, err, ErrInvalidRequest, "Лес не может быть больше мира")

	forest.Width, forest.Depth = 2048, 2048
	_, err = f.svc.CreateGrid(ctx, GridRequest{Forest: &forest})
	assert.ErrorIs(t, err, ErrInvalidRequest, "4M точек леса на высоту 3 превышают предел ячеек")

	_, err = f.svc.CreateGrid(ctx, GridRequest{
		Extents:   voxel.Extents{Width: 2, Depth: 2, Height: 2},
		Obstacles: []ObstacleSpec{{Kind: ObstacleSphere, Radius: math.Inf(1)}},
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	assert.Len(t, f.svc.ListGrids(), 1)
}

func TestService_CreateForestGrid(t *testing.T) {
	f := newFixture(t)

	forest := terrain.DefaultForestConfig()
	forest.Width = 20
	forest.Depth = 20
	forest.SpawnRadius = 2
	forest.MaxTreeHeight = 4

	protected := []r3.Vec{{X: 1, Z: 1}}
	info, err := f.svc.CreateGrid(context.Background(), GridRequest{Forest: &forest, Protected: protected})
	require.NoError(t, err)

	fg, err := terrain.NewForestGenerator(forest)
	require.NoError(t, err)
	assert.Equal(t, len(fg.Generate(protected...)), info.Trees, "Лес детерминирован по seed")
	assert.Equal(t, 20, info.Dims.X)
	assert.Equal(t, 20, info.Dims.Z)
	assert.Equal(t, 3, info.Dims.Y, "Высота берётся из настроек сервиса")
	assert.Equal(t, &forest, info.Forest)
}

func TestService_FindPathCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	info, err := f.svc.CreateGrid(ctx, wallRequest(true))
	require.NoError(t, err)

	req := PathRequest{Start: r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, Goal: r3.Vec{X: 5.5, Y: 0.5, Z: 0.5}, Smooth: true}
	first, err := f.svc.FindPath(ctx, info.ID, req)
	require.NoError(t, err)
	require.True(t, first.Found)
	assert.False(t, first.Cached)
	assert.Greater(t, first.Cost, 5.0, "Путь обходит стену через проход")
	assert.InDelta(t, pathfinding.PathCost(first.Waypoints), first.Cost, 1e-9)
	assert.Equal(t, req.Start, first.Waypoints[0])
	assert.Equal(t, req.Goal, first.Waypoints[len(first.Waypoints)-1])
	assert.NotEmpty(t, first.Smoothed)

	second, err := f.svc.FindPath(ctx, info.ID, req)
	require.NoError(t, err)
	assert.True(t, second.Cached, "Повторный запрос отвечается из кеша")
	assert.Empty(t, cmp.Diff(first.Waypoints, second.Waypoints))
	assert.Equal(t, first.Cost, second.Cost)
	assert.Equal(t, int64(1), f.cache.GetMetrics().CacheHits)

	assert.Eventually(t, func() bool {
		found := 0
		for _, typ := range f.eventTypes() {
			if typ == eventbus.EventPathFound {
				found++
			}
		}
		return found == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_FindPathNoPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	info, err := f.svc.CreateGrid(ctx, wallRequest(false))
	require.NoError(t, err)

	req := PathRequest{Start: r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, Goal: r3.Vec{X: 5.5, Y: 0.5, Z: 0.5}, Smooth: true}
	resp, err := f.svc.FindPath(ctx, info.ID, req)
	require.NoError(t, err, "Отсутствие пути — не ошибка сервиса")
	assert.False(t, resp.Found)
	assert.Empty(t, resp.Waypoints)
	assert.NotNil(t, resp.Waypoints)
	assert.Nil(t, resp.Smoothed)
	assert.Equal(t, 3*3*6, resp.Expanded, "Раскрыта вся достижимая часть слева от стены")

	again, err := f.svc.FindPath(ctx, info.ID, req)
	require.NoError(t, err)
	assert.True(t, again.Cached, "Отрицательный результат тоже кешируется")
	assert.False(t, again.Found)

	assert.Eventually(t, func() bool {
		for _, typ := range f.eventTypes() {
			if typ == eventbus.EventPathNotFound {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_FindPathErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.FindPath(context.Background(), "missing", PathRequest{})
	assert.ErrorIs(t, err, ErrGridNotFound)

	info, err := f.svc.CreateGrid(context.Background(), wallRequest(true))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp, err := f.svc.FindPath(ctx, info.ID, PathRequest{Goal: r3.Vec{X: 5.5, Z: 5.5}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, resp)
	assert.Zero(t, f.cache.GetMetrics().TotalKeys, "Прерванный поиск не кешируется")
}

func TestService_DeleteGrid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	info, err := f.svc.CreateGrid(ctx, wallRequest(true))
	require.NoError(t, err)
	_, err = f.svc.FindPath(ctx, info.ID, PathRequest{Goal: r3.Vec{X: 5.5, Z: 5.5}})
	require.NoError(t, err)
	require.Equal(t, int64(1), f.cache.GetMetrics().TotalKeys)

	require.NoError(t, f.svc.DeleteGrid(ctx, info.ID))

	assert.Zero(t, f.cache.GetMetrics().TotalKeys, "Пути удалённой сетки вычищаются из кеша")
	_, err = f.store.Load(info.ID)
	assert.ErrorIs(t, err, storage.ErrGridNotFound)
	_, err = f.svc.Grid(info.ID)
	assert.ErrorIs(t, err, ErrGridNotFound)
	assert.ErrorIs(t, f.svc.DeleteGrid(ctx, info.ID), ErrGridNotFound)
}

func TestService_RestoreGrids(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.CreateGrid(ctx, wallRequest(true))
	require.NoError(t, err)
	b, err := f.svc.CreateGrid(ctx, wallRequest(false))
	require.NoError(t, err)

	req := PathRequest{Goal: r3.Vec{X: 5.5, Y: 0.5, Z: 0.5}}
	before, err := f.svc.FindPath(ctx, a.ID, req)
	require.NoError(t, err)

	restoredSvc := f.newService(t)
	n, err := restoredSvc.RestoreGrids(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	grids := restoredSvc.ListGrids()
	require.Len(t, grids, 2)
	ids := map[string]bool{grids[0].ID: true, grids[1].ID: true}
	assert.True(t, ids[a.ID] && ids[b.ID])
	for _, g := range grids {
		assert.True(t, g.Restored)
	}

	require.NoError(t, f.cache.Close())
	after, err := restoredSvc.FindPath(ctx, a.ID, req)
	require.NoError(t, err)
	assert.False(t, after.Cached)
	assert.InDelta(t, before.Cost, after.Cost, 1e-9, "Восстановленная сетка даёт тот же путь")

	empty, err := NewService(Options{Grid: voxel.DefaultConfig(), Height: 1})
	require.NoError(t, err)
	n, err = empty.RestoreGrids(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "Без хранилища восстанавливать нечего")
}

func TestService_RandomWalkable(t *testing.T) {
	f := newFixture(t)

	info, err := f.svc.CreateGrid(context.Background(), wallRequest(true))
	require.NoError(t, err)

	grid, err := f.svc.Grid(info.ID)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		cell, err := f.svc.RandomWalkable(info.ID)
		require.NoError(t, err)
		assert.True(t, cell.Walkable)
		same, ok := grid.CellAt(cell.Coords.X, cell.Coords.Y, cell.Coords.Z)
		require.True(t, ok)
		assert.Equal(t, cell, same)
	}

	_, err = f.svc.RandomWalkable("missing")
	assert.ErrorIs(t, err, ErrGridNotFound)
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(Options{Grid: voxel.Config{}, Height: 1})
	assert.ErrorIs(t, err, voxel.ErrInvalidConfig)

	_, err = NewService(Options{Grid: voxel.DefaultConfig()})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
