package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/voxel-nav/internal/api"
	"github.com/annel0/voxel-nav/internal/cache"
	"github.com/annel0/voxel-nav/internal/config"
	"github.com/annel0/voxel-nav/internal/eventbus"
	"github.com/annel0/voxel-nav/internal/logging"
	"github.com/annel0/voxel-nav/internal/navigation"
	"github.com/annel0/voxel-nav/internal/observability"
	"github.com/annel0/voxel-nav/internal/pathfinding"
	"github.com/annel0/voxel-nav/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	configPath := flag.String("config", "", "Путь к YAML конфигурации (иначе NAV_CONFIG)")
	flag.Parse()

	// Инициализируем систему логирования
	if err := logging.InitDefaultLogger("navserver"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	defer logging.GetLoggerManager().CloseAll()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}
	level, _ := logging.ParseLevel(cfg.Server.LogLevel)
	logging.Default().SetLevel(level)
	logging.GetLoggerManager().SetLevel(level)
	accessLog := logging.GetAPILogger()

	logging.Info("🧭 Запуск voxel-nav сервера...")

	if err := run(cfg, accessLog); err != nil {
		logging.Error("❌ %v", err)
		logging.CloseDefaultLogger()
		os.Exit(1)
	}
	logging.Info("👋 Сервер успешно остановлен")
}

func run(cfg *config.Config, accessLog *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === ТЕЛЕМЕТРИЯ ===
	if cfg.Telemetry.Enabled {
		shutdown, err := observability.InitTelemetry(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Endpoint)
		if err != nil {
			return fmt.Errorf("инициализация OpenTelemetry: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logging.Warn("Ошибка остановки OpenTelemetry: %v", err)
			}
		}()
	}

	// === ХРАНИЛИЩЕ СНИМКОВ ===
	var store *storage.GridStore
	if cfg.Storage.Enabled() {
		var err error
		if cfg.Storage.InMemory {
			store, err = storage.NewInMemoryGridStore()
		} else {
			store, err = storage.NewGridStore(cfg.Storage.Path)
		}
		if err != nil {
			return fmt.Errorf("открытие хранилища: %w", err)
		}
		defer store.Close()
		logging.Info("💾 Хранилище сеток: %s", storageDescription(cfg.Storage))
	}

	// === КЕШ ПУТЕЙ ===
	pathCache, err := newPathCache(cfg.Cache)
	if err != nil {
		return err
	}
	defer pathCache.Close()

	// === ШИНА СОБЫТИЙ ===
	bus, err := newEventBus(cfg.EventBus)
	if err != nil {
		return err
	}
	defer bus.Close()
	if _, err := eventbus.StartLoggingListener(ctx, bus); err != nil {
		return fmt.Errorf("подписка логгера событий: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	busMetrics := eventbus.NewMetricsExporter(bus, registry)
	busMetrics.Start(time.Second)
	defer busMetrics.Stop()

	// === СЕРВИС НАВИГАЦИИ ===
	finder := pathfinding.NewFinder(
		pathfinding.WithMaxIterations(cfg.Search.MaxIterations),
		pathfinding.WithTimeout(cfg.Search.Timeout),
		pathfinding.WithMetrics(pathfinding.NewMetrics(registry)),
	)
	svc, err := navigation.NewService(navigation.Options{
		Grid:            cfg.Grid.Voxel(),
		Height:          cfg.Grid.Height,
		BucketSize:      cfg.Grid.BucketSize,
		SmoothingPoints: cfg.Search.SmoothingPoints,
		CacheTTL:        cfg.Cache.TTL,
		Finder:          finder,
		Store:           store,
		Cache:           pathCache,
		Bus:             bus,
	})
	if err != nil {
		return fmt.Errorf("создание сервиса навигации: %w", err)
	}

	if _, err := svc.RestoreGrids(ctx); err != nil {
		return fmt.Errorf("восстановление сеток: %w", err)
	}

	// === REST API ===
	restPort := fmt.Sprintf(":%d", cfg.Server.GetRESTPort())
	server := api.NewRestServer(api.Config{
		Port:      restPort,
		GinMode:   cfg.Server.GinMode,
		Service:   svc,
		Cache:     pathCache,
		Bus:       bus,
		Registry:  registry,
		AccessLog: accessLog,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	logging.Info("✅ Сервис запущен")
	logging.Info("   🌐 REST API: http://localhost%s", restPort)
	logging.Info("   ❤️  Health check: http://localhost%s/health", restPort)
	logging.Info("   📈 Метрики: http://localhost%s/metrics", restPort)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("REST API: %w", err)
		}
		return nil
	case <-ctx.Done():
		logging.Info("📡 Получен сигнал завершения, останавливаем сервисы...")
	}

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}
	return nil
}

func storageDescription(s config.StorageConfig) string {
	if s.InMemory {
		return "in-memory"
	}
	return s.Path
}

// newPathCache подключает Redis или падает обратно на кеш в памяти
func newPathCache(cfg config.CacheConfig) (cache.PathCache, error) {
	if cfg.RedisAddr == "" {
		logging.Info("🗃️ Кеш путей: в памяти")
		return cache.NewMemoryCache(), nil
	}

	rc, err := cache.NewRedisCache(&cache.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		MaxTTL:   cfg.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("подключение к Redis: %w", err)
	}
	return rc, nil
}

// newEventBus подключает JetStream или создаёт шину в памяти
func newEventBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	if cfg.URL == "" {
		logging.Info("📨 Шина событий: в памяти")
		return eventbus.NewMemoryBus(1024), nil
	}

	bus, err := eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, time.Duration(cfg.Retention)*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("подключение к NATS: %w", err)
	}
	return bus, nil
}
