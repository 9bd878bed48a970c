package navigation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/annel0/voxel-nav/internal/cache"
	"github.com/annel0/voxel-nav/internal/eventbus"
	"github.com/annel0/voxel-nav/internal/logging"
	"github.com/annel0/voxel-nav/internal/pathfinding"
	"github.com/annel0/voxel-nav/internal/physics"
	"github.com/annel0/voxel-nav/internal/storage"
	"github.com/annel0/voxel-nav/internal/terrain"
	"github.com/annel0/voxel-nav/internal/voxel"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"
)

// EventSource — имя источника событий сервиса
const EventSource = "voxel-nav"

const eventPriority = 3

// Options — зависимости и параметры сервиса.
// Store, Cache и Bus необязательны: nil отключает соответствующую функцию.
type Options struct {
	Grid            voxel.Config // Параметры дискретизации по умолчанию
	Height          float64      // Высота мира, если в запросе не задана
	BucketSize      float64      // Размер корзины сцены препятствий
	SmoothingPoints int          // Точек сплайна на сегмент пути
	CacheTTL        time.Duration

	Finder *pathfinding.Finder
	Store  *storage.GridStore
	Cache  cache.PathCache
	Bus    eventbus.EventBus
	Rand   *rand.Rand
}

type entry struct {
	info GridInfo
	grid *voxel.Grid
}

// Service держит реестр сгенерированных сеток и выполняет поиск пути по ним.
// Безопасен для конкурентного использования.
type Service struct {
	opts Options

	mu    sync.RWMutex
	grids map[string]*entry

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewService создаёт сервис навигации
func NewService(opts Options) (*Service, error) {
	if err := opts.Grid.Validate(); err != nil {
		return nil, err
	}
	if opts.Height <= 0 {
		return nil, fmt.Errorf("%w: default height must be positive, got %v", ErrInvalidRequest, opts.Height)
	}
	if opts.Finder == nil {
		opts.Finder = pathfinding.NewFinder()
	}
	if opts.SmoothingPoints <= 0 {
		opts.SmoothingPoints = 8
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Service{
		opts:  opts,
		grids: make(map[string]*entry),
		rng:   rng,
	}, nil
}

// CreateGrid строит сцену (лес и явные препятствия), генерирует сетку,
// сохраняет снимок и регистрирует сетку под новым ID
func (s *Service) CreateGrid(ctx context.Context, req GridRequest) (*GridInfo, error) {
	cfg := s.opts.Grid
	if req.CellSize > 0 {
		cfg.CellSize = req.CellSize
		cfg.Origin = voxel.CenteredOrigin(req.CellSize)
	}

	ext := req.Extents
	if req.Forest != nil {
		if err := req.Forest.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		if ext.Width == 0 {
			ext.Width = float64(req.Forest.Width)
		}
		if ext.Depth == 0 {
			ext.Depth = float64(req.Forest.Depth)
		}
		if float64(req.Forest.Width) > ext.Width || float64(req.Forest.Depth) > ext.Depth {
			return nil, fmt.Errorf("%w: forest %dx%d does not fit extents %vx%v",
				ErrInvalidRequest, req.Forest.Width, req.Forest.Depth, ext.Width, ext.Depth)
		}
	}
	if ext.Height == 0 {
		ext.Height = s.opts.Height
	}

	// Размеры проверяются до построения сцены: лес и корзины растут вместе с миром
	dims, err := cfg.Plan(ext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	scene, trees, err := s.buildScene(req, cfg.Bounds(dims))
	if err != nil {
		return nil, err
	}

	grid, err := voxel.Generate(ctx, cfg, ext, scene)
	if err != nil {
		if errors.Is(err, voxel.ErrInvalidConfig) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return nil, err
	}

	info := describe(grid)
	info.ID = uuid.NewString()
	info.Name = req.Name
	info.CreatedAt = time.Now().UTC()
	info.Trees = trees
	info.Forest = req.Forest

	if s.opts.Store != nil {
		snap, err := grid.Snapshot()
		if err != nil {
			return nil, err
		}
		rec := &storage.GridRecord{
			ID:        info.ID,
			Name:      info.Name,
			CreatedAt: info.CreatedAt,
			Forest:    info.Forest,
			Snapshot:  snap,
		}
		if err := s.opts.Store.Save(rec); err != nil {
			return nil, fmt.Errorf("navigation: persist grid %s: %w", info.ID, err)
		}
	}

	s.register(&entry{info: info, grid: grid})
	logging.Info("🧊 Сетка %s (%s) создана: %s", info.ID, info.Name, grid.GetStats())

	s.publishGrid(ctx, info)
	out := info
	return &out, nil
}

func (s *Service) buildScene(req GridRequest, bounds physics.AABB) (*physics.Scene, int, error) {
	colliders := make([]physics.Collider, 0, len(req.Obstacles))
	for i, o := range req.Obstacles {
		c, err := o.Collider()
		if err != nil {
			return nil, 0, fmt.Errorf("obstacle %d: %w", i, err)
		}
		colliders = append(colliders, c)
	}

	var (
		scene *physics.Scene
		trees int
	)
	if req.Forest != nil {
		fg, err := terrain.NewForestGenerator(*req.Forest)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		var placed []terrain.Tree
		scene, placed = fg.BuildScene(s.opts.BucketSize, req.Protected...)
		trees = len(placed)
	} else {
		scene = physics.NewScene(s.opts.BucketSize)
	}
	scene.SetBounds(bounds)
	scene.Add(colliders...)
	return scene, trees, nil
}

func describe(grid *voxel.Grid) GridInfo {
	return GridInfo{
		Dims:       grid.Dimensions(),
		CellSize:   grid.CellSize(),
		Origin:     grid.Origin(),
		Bounds:     grid.Bounds(),
		Walkable:   grid.WalkableCount(),
		Unwalkable: grid.UnwalkableCount(),
	}
}

func (s *Service) register(e *entry) {
	s.mu.Lock()
	s.grids[e.info.ID] = e
	s.mu.Unlock()
}

func (s *Service) lookup(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.grids[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGridNotFound, id)
	}
	return e, nil
}

// Grid возвращает сетку по ID
func (s *Service) Grid(id string) (*voxel.Grid, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.grid, nil
}

// Info возвращает сводку о сетке
func (s *Service) Info(id string) (*GridInfo, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	info := e.info
	return &info, nil
}

// ListGrids возвращает сводки всех сеток в порядке создания
func (s *Service) ListGrids() []GridInfo {
	s.mu.RLock()
	infos := make([]GridInfo, 0, len(s.grids))
	for _, e := range s.grids {
		infos = append(infos, e.info)
	}
	s.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// DeleteGrid убирает сетку из реестра, кеша путей и хранилища
func (s *Service) DeleteGrid(ctx context.Context, id string) error {
	s.mu.Lock()
	_, ok := s.grids[id]
	delete(s.grids, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrGridNotFound, id)
	}

	if s.opts.Cache != nil {
		if err := s.opts.Cache.DeletePrefix(ctx, cache.GridPrefix(id)); err != nil {
			logging.Warn("Не удалось очистить кеш путей сетки %s: %v", id, err)
		}
	}
	if s.opts.Store != nil {
		if err := s.opts.Store.Delete(id); err != nil {
			return fmt.Errorf("navigation: delete grid %s: %w", id, err)
		}
	}

	logging.Info("🗑️ Сетка %s удалена", id)
	s.publish(ctx, eventbus.EventGridDeleted, eventbus.GridDeletedPayload{GridID: id})
	return nil
}

// RandomWalkable возвращает случайную проходимую ячейку сетки
func (s *Service) RandomWalkable(id string) (*voxel.Cell, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return e.grid.RandomWalkableCell(s.rng)
}

// FindPath ищет путь по сетке id. Результат (включая отсутствие пути)
// кешируется по паре ячеек старта и цели.
func (s *Service) FindPath(ctx context.Context, id string, req PathRequest) (*PathResponse, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	startCell := e.grid.CellFromWorldPosition(req.Start)
	goalCell := e.grid.CellFromWorldPosition(req.Goal)
	key := cache.PathKey(id, startCell.Index, goalCell.Index)

	resp := &PathResponse{
		GridID:    id,
		StartCell: startCell.Coords,
		GoalCell:  goalCell.Coords,
	}

	cached, hit := s.cacheGet(ctx, key)
	if hit {
		resp.Cached = true
	} else {
		res, err := s.opts.Finder.FindPath(ctx, e.grid, req.Start, req.Goal)
		if err != nil && !errors.Is(err, pathfinding.ErrNoPath) {
			return nil, err
		}
		cached = cachedPath{
			Found:     res.Found,
			Waypoints: res.Waypoints,
			Cost:      res.Cost,
			Expanded:  res.Expanded,
		}
		s.cacheSet(ctx, key, cached)
	}

	resp.Found = cached.Found
	resp.Waypoints = cached.Waypoints
	resp.Cost = cached.Cost
	resp.Expanded = cached.Expanded
	if resp.Waypoints == nil {
		resp.Waypoints = []r3.Vec{}
	}
	if req.Smooth && resp.Found {
		resp.Smoothed = pathfinding.SmoothCatmullRom(resp.Waypoints, s.opts.SmoothingPoints)
	}

	eventType := eventbus.EventPathFound
	if !resp.Found {
		eventType = eventbus.EventPathNotFound
	}
	s.publish(ctx, eventType, eventbus.PathPayload{
		GridID:    id,
		Start:     req.Start,
		Goal:      req.Goal,
		Waypoints: resp.Waypoints,
		Cost:      resp.Cost,
		Expanded:  resp.Expanded,
		Cached:    resp.Cached,
	})
	return resp, nil
}

func (s *Service) cacheGet(ctx context.Context, key string) (cachedPath, bool) {
	var cp cachedPath
	if s.opts.Cache == nil {
		return cp, false
	}

	data, err := s.opts.Cache.Get(ctx, key)
	if err != nil {
		if !cache.IsCacheMiss(err) {
			logging.Warn("Ошибка чтения кеша путей %s: %v", key, err)
		}
		return cp, false
	}
	if err := json.Unmarshal(data, &cp); err != nil {
		logging.Warn("Повреждённая запись кеша путей %s: %v", key, err)
		return cp, false
	}
	return cp, true
}

func (s *Service) cacheSet(ctx context.Context, key string, cp cachedPath) {
	if s.opts.Cache == nil {
		return
	}

	data, err := json.Marshal(cp)
	if err != nil {
		logging.Warn("Не удалось сериализовать путь %s: %v", key, err)
		return
	}
	if err := s.opts.Cache.Set(ctx, key, data, s.opts.CacheTTL); err != nil {
		logging.Warn("Ошибка записи кеша путей %s: %v", key, err)
	}
}

// RestoreGrids загружает сохранённые снимки в реестр. Возвращает число восстановленных сеток.
// Повреждённые снимки пропускаются с предупреждением.
func (s *Service) RestoreGrids(ctx context.Context) (int, error) {
	if s.opts.Store == nil {
		return 0, nil
	}

	records, err := s.opts.Store.List()
	if err != nil {
		return 0, fmt.Errorf("navigation: list stored grids: %w", err)
	}

	restored := 0
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return restored, err
		}

		grid, err := voxel.FromSnapshot(rec.Snapshot)
		if err != nil {
			logging.Warn("Пропуск снимка сетки %s: %v", rec.ID, err)
			continue
		}

		info := describe(grid)
		info.ID = rec.ID
		info.Name = rec.Name
		info.CreatedAt = rec.CreatedAt
		info.Forest = rec.Forest
		info.Restored = true

		s.register(&entry{info: info, grid: grid})
		s.publishGrid(ctx, info)
		restored++
	}

	if restored > 0 {
		logging.Info("💾 Восстановлено сеток из хранилища: %d", restored)
	}
	return restored, nil
}

func (s *Service) publishGrid(ctx context.Context, info GridInfo) {
	s.publish(ctx, eventbus.EventGridGenerated, eventbus.GridGeneratedPayload{
		GridID:     info.ID,
		Name:       info.Name,
		DimX:       info.Dims.X,
		DimY:       info.Dims.Y,
		DimZ:       info.Dims.Z,
		CellSize:   info.CellSize,
		Walkable:   info.Walkable,
		Unwalkable: info.Unwalkable,
		Restored:   info.Restored,
	})
}

func (s *Service) publish(ctx context.Context, eventType string, payload any) {
	if s.opts.Bus == nil {
		return
	}

	ev, err := eventbus.NewEnvelope(eventType, EventSource, eventPriority, payload)
	if err != nil {
		logging.Warn("Не удалось создать событие %s: %v", eventType, err)
		return
	}
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		ev.CorrelationID = traceID
	}
	if err := s.opts.Bus.Publish(ctx, ev); err != nil {
		logging.Warn("Не удалось опубликовать событие %s: %v", eventType, err)
	}
}

type contextKey string

// TraceIDKey — ключ контекста с trace-ID запроса, попадает в CorrelationID событий
const TraceIDKey contextKey = "trace_id"

// WithTraceID возвращает контекст с trace-ID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}
