package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/annel0/voxel-nav/internal/logging"
	"github.com/annel0/voxel-nav/internal/terrain"
	"github.com/annel0/voxel-nav/internal/voxel"
	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации приложения.
type Config struct {
	Grid      GridConfig           `yaml:"grid"`
	Search    SearchConfig         `yaml:"search"`
	Terrain   terrain.ForestConfig `yaml:"terrain"`
	Server    ServerConfig         `yaml:"server"`
	Storage   StorageConfig        `yaml:"storage"`
	Cache     CacheConfig          `yaml:"cache"`
	EventBus  EventBusConfig       `yaml:"eventbus"`
	Telemetry TelemetryConfig      `yaml:"telemetry"`
}

// GridConfig — параметры дискретизации новых сеток
type GridConfig struct {
	CellSize          float64 `yaml:"cell_size"`
	ObstacleThreshold float64 `yaml:"obstacle_threshold"`
	Workers           int     `yaml:"workers"` // 0 = по числу CPU
	Height            float64 `yaml:"height"`  // Высота мира по умолчанию
	BucketSize        float64 `yaml:"bucket_size"`
	MaxCells          int     `yaml:"max_cells"` // Предел ячеек одной сетки
}

// Voxel возвращает параметры для voxel.Generate с центрированным началом координат
func (g GridConfig) Voxel() voxel.Config {
	return voxel.Config{
		Origin:            voxel.CenteredOrigin(g.CellSize),
		CellSize:          g.CellSize,
		ObstacleThreshold: g.ObstacleThreshold,
		Workers:           g.Workers,
		MaxCells:          g.MaxCells,
	}
}

// SearchConfig — ограничения поиска пути
type SearchConfig struct {
	MaxIterations   int           `yaml:"max_iterations"` // 0 = без ограничения
	Timeout         time.Duration `yaml:"timeout"`        // 0 = без ограничения
	SmoothingPoints int           `yaml:"smoothing_points"`
}

type ServerConfig struct {
	RESTPort int    `yaml:"rest_port"`
	GinMode  string `yaml:"gin_mode"`
	LogLevel string `yaml:"log_level"` // trace, debug, info, warn, error
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "NAV_REST_PORT", 8090)
}

// StorageConfig — хранилище снимков сеток (badger). Пустой Path отключает хранилище.
type StorageConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

// Enabled сообщает, нужно ли открывать хранилище
func (s StorageConfig) Enabled() bool {
	return s.Path != "" || s.InMemory
}

// CacheConfig — кэш результатов поиска. Пустой RedisAddr означает кэш в памяти.
type CacheConfig struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

type EventBusConfig struct {
	URL       string `yaml:"url"` // Пустой URL — шина в памяти
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"` // host:port OTLP HTTP; пусто — значение по умолчанию
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	forest := terrain.DefaultForestConfig()
	forest.Width = 100
	forest.Depth = 100

	return &Config{
		Grid: GridConfig{
			CellSize:          1,
			ObstacleThreshold: 0.5,
			Height:            30,
			BucketSize:        8,
			MaxCells:          voxel.DefaultMaxCells,
		},
		Search: SearchConfig{
			MaxIterations:   2_000_000,
			Timeout:         5 * time.Second,
			SmoothingPoints: 8,
		},
		Terrain: forest,
		Server: ServerConfig{
			GinMode:  "release",
			LogLevel: "info",
		},
		Cache: CacheConfig{
			TTL: 10 * time.Minute,
		},
		EventBus: EventBusConfig{
			Stream:    "NAV_EVENTS",
			Retention: 24,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "voxel-nav",
		},
	}
}

// Validate проверяет значения, без которых сервис не может работать
func (c *Config) Validate() error {
	if err := c.Grid.Voxel().Validate(); err != nil {
		return fmt.Errorf("config: grid: %w", err)
	}
	if c.Grid.Height <= 0 {
		return fmt.Errorf("config: grid: height must be positive, got %v", c.Grid.Height)
	}
	if c.Search.MaxIterations < 0 {
		return fmt.Errorf("config: search: max_iterations must be non-negative, got %d", c.Search.MaxIterations)
	}
	if c.Search.Timeout < 0 {
		return fmt.Errorf("config: search: timeout must be non-negative, got %v", c.Search.Timeout)
	}
	if err := c.Terrain.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := logging.ParseLevel(c.Server.LogLevel); err != nil {
		return fmt.Errorf("config: server: %w", err)
	}
	return nil
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	// Если порт задан в конфиге и больше 0, используем его
	if configPort > 0 {
		return configPort
	}

	// Пробуем прочитать из environment variable
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", пытается прочитать из ENV NAV_CONFIG или возвращает Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("NAV_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
