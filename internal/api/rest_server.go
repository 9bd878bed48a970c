package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/annel0/voxel-nav/internal/cache"
	"github.com/annel0/voxel-nav/internal/eventbus"
	"github.com/annel0/voxel-nav/internal/logging"
	"github.com/annel0/voxel-nav/internal/middleware"
	"github.com/annel0/voxel-nav/internal/navigation"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RestServer представляет REST API сервиса навигации
type RestServer struct {
	router  *gin.Engine
	server  *http.Server
	service *navigation.Service
	cache   cache.PathCache
	bus     eventbus.EventBus
	port    string
	metrics *ServerMetrics
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port      string              // порт для запуска сервера, например ":8090"
	GinMode   string              // release, debug или test
	Service   *navigation.Service // сервис навигации
	Cache     cache.PathCache     // необязательно, для /api/stats
	Bus       eventbus.EventBus   // необязательно, для /api/stats
	Registry  *prometheus.Registry
	AccessLog *logging.Logger // логгер HTTP-запросов; nil — логгер по умолчанию
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) *RestServer {
	if config.Port == "" {
		config.Port = ":8090"
	}
	if config.GinMode == "" {
		config.GinMode = gin.ReleaseMode
	}
	gin.SetMode(config.GinMode)

	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if config.Registry != nil {
		registerer, gatherer = config.Registry, config.Registry
	}

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	router.Use(otelgin.Middleware("navigation_api"))
	router.Use(middleware.NewRequestLogger(config.AccessLog).Handler())

	promMw := middleware.NewPrometheusMiddleware("navigation_api", registerer)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, gatherer)

	rs := &RestServer{
		router:  router,
		service: config.Service,
		cache:   config.Cache,
		bus:     config.Bus,
		port:    config.Port,
		metrics: NewServerMetrics(),
	}
	rs.server = &http.Server{
		Addr:              config.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	rs.setupRoutes()
	return rs
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	api := rs.router.Group("/api")
	{
		api.GET("/stats", rs.handleStats)

		grids := api.Group("/grids")
		grids.POST("", rs.handleCreateGrid)
		grids.GET("", rs.handleListGrids)
		grids.GET("/:id", rs.handleGetGrid)
		grids.DELETE("/:id", rs.handleDeleteGrid)
		grids.GET("/:id/cells", rs.handleGetCell)
		grids.POST("/:id/locate", rs.handleLocate)
		grids.GET("/:id/random-walkable", rs.handleRandomWalkable)
		grids.POST("/:id/path", rs.handleFindPath)
	}

	// Health check
	rs.router.GET("/health", rs.handleHealth)
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Handler возвращает http.Handler сервера (используется в тестах)
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// handleStats возвращает статистику сервиса и процесса
func (rs *RestServer) handleStats(c *gin.Context) {
	stats := make(map[string]interface{})

	grids := rs.service.ListGrids()
	cells := 0
	for _, g := range grids {
		cells += g.Walkable + g.Unwalkable
	}
	stats["grids"] = map[string]interface{}{
		"count": len(grids),
		"cells": cells,
	}

	if rs.cache != nil {
		stats["cache"] = rs.cache.GetMetrics()
	}
	if rs.bus != nil {
		stats["eventbus"] = rs.bus.Metrics()
	}

	rssMB, _ := rs.metrics.GetRSS()
	cpuPercent, _ := rs.metrics.GetCPUUsage()
	stats["server"] = map[string]interface{}{
		"uptime":      rs.metrics.GetUptime(),
		"rss_mb":      fmt.Sprintf("%.2f", rssMB),
		"cpu_percent": fmt.Sprintf("%.2f", cpuPercent),
		"server_time": time.Now().Unix(),
	}
	stats["memory_details"] = rs.metrics.GetDetailedMemoryStats()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика получена",
		Data:    stats,
	})
}

// handleHealth проверка состояния сервера
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"grids":  len(rs.service.ListGrids()),
		"time":   time.Now().Unix(),
	})
}

// Start запускает REST сервер и блокируется до Stop
func (rs *RestServer) Start() error {
	logging.Info("🌐 REST API запущен на %s", rs.port)
	if err := rs.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop корректно останавливает REST сервер, дожидаясь активных запросов
func (rs *RestServer) Stop(ctx context.Context) error {
	logging.Info("🛑 Остановка REST API")
	return rs.server.Shutdown(ctx)
}
