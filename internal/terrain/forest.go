package terrain

import (
	"fmt"
	"math/rand"

	"github.com/annel0/voxel-nav/internal/logging"
	"github.com/annel0/voxel-nav/internal/physics"
	"github.com/annel0/voxel-nav/internal/util"
	"gonum.org/v1/gonum/spatial/r3"
)

// TreeKind — тип дерева, определяет диапазон высоты
type TreeKind int

const (
	TreeBare TreeKind = iota
	TreeSmall
	TreeMedium
	TreeLarge
	treeKindCount
)

// String возвращает имя типа дерева
func (k TreeKind) String() string {
	switch k {
	case TreeBare:
		return "bare"
	case TreeSmall:
		return "small"
	case TreeMedium:
		return "medium"
	case TreeLarge:
		return "large"
	default:
		return fmt.Sprintf("TreeKind(%d)", int(k))
	}
}

// heightRange возвращает диапазон множителя высоты для типа дерева
func (k TreeKind) heightRange() (lo, hi float64) {
	switch k {
	case TreeBare:
		return 0.125, 0.3 // Голые деревья ниже остальных
	case TreeSmall:
		return 0.25, 0.375
	case TreeMedium:
		return 0.375, 0.625
	case TreeLarge:
		return 0.5, 1
	default:
		return 1, 1
	}
}

// MaxForestArea — наибольшая площадь леса в точках шума (Width*Depth)
const MaxForestArea = 1 << 22

// ForestConfig — параметры генерации леса
type ForestConfig struct {
	Width          int     `yaml:"width" json:"width"` // Размер области по X
	Depth          int     `yaml:"depth" json:"depth"` // Размер области по Z
	Seed           int64   `yaml:"seed" json:"seed"`
	Scale          float64 `yaml:"scale" json:"scale"`                       // Масштаб шума
	Threshold      float64 `yaml:"threshold" json:"threshold"`               // Дерево ставится при шуме > Threshold
	TrunkRadius    float64 `yaml:"trunk_radius" json:"trunk_radius"`         // Радиус ствола
	MaxTreeHeight  float64 `yaml:"max_tree_height" json:"max_tree_height"`   // Высота при множителе 1
	SpawnRadius    float64 `yaml:"spawn_radius" json:"spawn_radius"`         // Без деревьев вокруг защищённых точек
	MinSpawnHeight float64 `yaml:"min_spawn_height" json:"min_spawn_height"` // Диапазон высоты точек появления
	MaxSpawnHeight float64 `yaml:"max_spawn_height" json:"max_spawn_height"`
}

// DefaultForestConfig возвращает настройки леса 500x500
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Width:          500,
		Depth:          500,
		Seed:           1,
		Scale:          0.1,
		Threshold:      0.5,
		TrunkRadius:    0.5,
		MaxTreeHeight:  40,
		SpawnRadius:    20,
		MinSpawnHeight: 10,
		MaxSpawnHeight: 20,
	}
}

// Validate проверяет параметры леса
func (c ForestConfig) Validate() error {
	if c.Width <= 0 || c.Depth <= 0 {
		return fmt.Errorf("terrain: forest size must be positive, got %dx%d", c.Width, c.Depth)
	}
	if float64(c.Width)*float64(c.Depth) > MaxForestArea {
		return fmt.Errorf("terrain: forest %dx%d exceeds area limit %d", c.Width, c.Depth, MaxForestArea)
	}
	if c.Scale <= 0 {
		return fmt.Errorf("terrain: noise scale must be positive, got %v", c.Scale)
	}
	if c.TrunkRadius < 0 || c.MaxTreeHeight < 0 || c.SpawnRadius < 0 {
		return fmt.Errorf("terrain: trunk radius, tree height and spawn radius must be non-negative")
	}
	if c.MaxSpawnHeight < c.MinSpawnHeight {
		return fmt.Errorf("terrain: spawn height range [%v, %v] is empty", c.MinSpawnHeight, c.MaxSpawnHeight)
	}
	return nil
}

// Tree — размещённое дерево
type Tree struct {
	Position r3.Vec   `json:"position"` // Основание ствола
	Kind     TreeKind `json:"kind"`
	Height   float64  `json:"height"`
}

// ForestGenerator размещает деревья по шуму Перлина
type ForestGenerator struct {
	cfg   ForestConfig
	noise *util.Noise
}

// NewForestGenerator создаёт генератор леса
func NewForestGenerator(cfg ForestConfig) (*ForestGenerator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ForestGenerator{
		cfg:   cfg,
		noise: util.NewNoise(cfg.Seed),
	}, nil
}

// Config возвращает параметры генератора
func (fg *ForestGenerator) Config() ForestConfig { return fg.cfg }

// Generate обходит сетку width×depth и ставит дерево в (x, 0, z), где шум
// превышает порог и точка дальше SpawnRadius от всех protected.
// Результат детерминирован для одного сида.
func (fg *ForestGenerator) Generate(protected ...r3.Vec) []Tree {
	// Отдельный генератор для типа и высоты, чтобы лес не зависел от внешних вызовов rand
	rng := rand.New(rand.NewSource(fg.cfg.Seed))

	var trees []Tree
	skipped := 0
	for x := 0; x < fg.cfg.Width; x++ {
		for z := 0; z < fg.cfg.Depth; z++ {
			value := fg.noise.Noise2D(float64(x)*fg.cfg.Scale, float64(z)*fg.cfg.Scale)
			if value <= fg.cfg.Threshold {
				continue
			}

			pos := r3.Vec{X: float64(x), Y: 0, Z: float64(z)}
			if fg.nearProtected(pos, protected) {
				skipped++
				continue
			}

			kind := TreeKind(rng.Intn(int(treeKindCount)))
			lo, hi := kind.heightRange()
			factor := lo + rng.Float64()*(hi-lo)

			trees = append(trees, Tree{
				Position: pos,
				Kind:     kind,
				Height:   factor * fg.cfg.MaxTreeHeight,
			})
		}
	}

	logging.Debug("🌲 Лес %dx%d (seed %d): %d деревьев, пропущено у точек появления %d",
		fg.cfg.Width, fg.cfg.Depth, fg.cfg.Seed, len(trees), skipped)
	return trees
}

func (fg *ForestGenerator) nearProtected(pos r3.Vec, protected []r3.Vec) bool {
	for _, p := range protected {
		if r3.Norm(r3.Sub(pos, p)) <= fg.cfg.SpawnRadius {
			return true
		}
	}
	return false
}

// BuildScene генерирует лес и возвращает сцену со стволами-цилиндрами
func (fg *ForestGenerator) BuildScene(bucketSize float64, protected ...r3.Vec) (*physics.Scene, []Tree) {
	trees := fg.Generate(protected...)

	colliders := make([]physics.Collider, len(trees))
	for i, t := range trees {
		colliders[i] = physics.CylinderCollider{
			Base:   t.Position,
			Radius: fg.cfg.TrunkRadius,
			Height: t.Height,
		}
	}

	scene := physics.NewScene(bucketSize)
	scene.Add(colliders...)
	return scene, trees
}

// RandomSpawnPosition возвращает случайную точку x ∈ [0, width), z ∈ [0, depth),
// y ∈ [MinSpawnHeight, MaxSpawnHeight)
func (fg *ForestGenerator) RandomSpawnPosition(rng *rand.Rand) r3.Vec {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return r3.Vec{
		X: rng.Float64() * float64(fg.cfg.Width),
		Y: fg.cfg.MinSpawnHeight + rng.Float64()*(fg.cfg.MaxSpawnHeight-fg.cfg.MinSpawnHeight),
		Z: rng.Float64() * float64(fg.cfg.Depth),
	}
}
