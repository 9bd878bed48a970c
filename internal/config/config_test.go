package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/annel0/voxel-nav/internal/voxel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nav.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsWithoutPath(t *testing.T) {
	t.Setenv("NAV_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg, "Без пути должны вернуться значения по умолчанию")
	assert.NoError(t, cfg.Validate())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
grid:
  cell_size: 2
  workers: 4
search:
  timeout: 250ms
terrain:
  width: 64
  depth: 32
  seed: 7
cache:
  redis_addr: localhost:6379
  ttl: 1m
eventbus:
  url: nats://localhost:4222
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2.0, cfg.Grid.CellSize)
	assert.Equal(t, 0.5, cfg.Grid.ObstacleThreshold, "Незаданные поля сохраняют значения по умолчанию")
	assert.Equal(t, 4, cfg.Grid.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Search.Timeout)
	assert.Equal(t, 64, cfg.Terrain.Width)
	assert.Equal(t, 32, cfg.Terrain.Depth)
	assert.Equal(t, int64(7), cfg.Terrain.Seed)
	assert.Equal(t, 0.1, cfg.Terrain.Scale)
	assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "nats://localhost:4222", cfg.EventBus.URL)
	assert.Equal(t, "NAV_EVENTS", cfg.EventBus.Stream)

	vc := cfg.Grid.Voxel()
	assert.Equal(t, voxel.CenteredOrigin(2), vc.Origin)
	assert.Equal(t, voxel.DefaultMaxCells, vc.CellLimit())
}

func TestLoad_GridCellLimit(t *testing.T) {
	cfg, err := Load(writeConfig(t, "grid:\n  max_cells: 1000\n"))
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Grid.Voxel().CellLimit(), "Предел ячеек передаётся в параметры сетки")

	_, err = Load(writeConfig(t, "grid:\n  max_cells: -1\n"))
	assert.ErrorIs(t, err, voxel.ErrInvalidConfig)
}

func TestLoad_FromEnv(t *testing.T) {
	path := writeConfig(t, "server:\n  rest_port: 9100\n")
	t.Setenv("NAV_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.GetRESTPort())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "grid: [unclosed"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "grid:\n  cell_size: -1\n"))
	assert.ErrorIs(t, err, voxel.ErrInvalidConfig)

	_, err = Load(writeConfig(t, "search:\n  max_iterations: -5\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server:\n  log_level: verbose\n"))
	assert.Error(t, err, "Неизвестный уровень логирования должен отклоняться")
}

func TestServerConfig_RESTPortFallback(t *testing.T) {
	s := ServerConfig{}

	t.Setenv("NAV_REST_PORT", "")
	assert.Equal(t, 8090, s.GetRESTPort())

	t.Setenv("NAV_REST_PORT", "9999")
	assert.Equal(t, 9999, s.GetRESTPort())

	t.Setenv("NAV_REST_PORT", "not-a-port")
	assert.Equal(t, 8090, s.GetRESTPort())

	s.RESTPort = 7000
	assert.Equal(t, 7000, s.GetRESTPort(), "Значение из конфига имеет приоритет")
}

func TestStorageConfig_Enabled(t *testing.T) {
	assert.False(t, StorageConfig{}.Enabled())
	assert.True(t, StorageConfig{Path: "data/grids"}.Enabled())
	assert.True(t, StorageConfig{InMemory: true}.Enabled())
}
