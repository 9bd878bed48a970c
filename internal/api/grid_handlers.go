package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/annel0/voxel-nav/internal/middleware"
	"github.com/annel0/voxel-nav/internal/navigation"
	"github.com/annel0/voxel-nav/internal/pathfinding"
	"github.com/annel0/voxel-nav/internal/voxel"
	"github.com/gin-gonic/gin"
	"gonum.org/v1/gonum/spatial/r3"
)

// LocateRequest — запрос перевода мировой позиции в ячейку
type LocateRequest struct {
	Position r3.Vec `json:"position"`
}

// requestContext передаёт trace-ID запроса в сервис (CorrelationID событий)
func requestContext(c *gin.Context) context.Context {
	return navigation.WithTraceID(c.Request.Context(), middleware.TraceID(c))
}

// respondError переводит ошибку сервиса в HTTP-статус
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, navigation.ErrGridNotFound):
		status = http.StatusNotFound
	case errors.Is(err, navigation.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, voxel.ErrNoWalkableCells):
		status = http.StatusConflict
	case errors.Is(err, pathfinding.ErrSearchTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	_ = c.Error(err)
	c.JSON(status, GenericResponse{
		Success: false,
		Message: err.Error(),
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, GenericResponse{
		Success: false,
		Message: message,
	})
}

// handleCreateGrid строит новую сетку
func (rs *RestServer) handleCreateGrid(c *gin.Context) {
	var req navigation.GridRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат запроса: "+err.Error())
		return
	}

	info, err := rs.service.CreateGrid(requestContext(c), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Сетка создана",
		Data:    info,
	})
}

// handleListGrids возвращает все сетки
func (rs *RestServer) handleListGrids(c *gin.Context) {
	grids := rs.service.ListGrids()
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Список сеток",
		Data: map[string]interface{}{
			"grids": grids,
			"total": len(grids),
		},
	})
}

// handleGetGrid возвращает сводку о сетке
func (rs *RestServer) handleGetGrid(c *gin.Context) {
	info, err := rs.service.Info(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Сетка найдена",
		Data:    info,
	})
}

// handleDeleteGrid удаляет сетку
func (rs *RestServer) handleDeleteGrid(c *gin.Context) {
	if err := rs.service.DeleteGrid(requestContext(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Сетка удалена",
	})
}

// handleGetCell — строгий поиск ячейки по индексам; 404 при выходе за границы
func (rs *RestServer) handleGetCell(c *gin.Context) {
	grid, err := rs.service.Grid(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	var coords [3]int
	for i, name := range []string{"x", "y", "z"} {
		v, err := strconv.Atoi(c.Query(name))
		if err != nil {
			badRequest(c, "Параметр "+name+" должен быть целым числом")
			return
		}
		coords[i] = v
	}

	cell, ok := grid.CellAt(coords[0], coords[1], coords[2])
	if !ok {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Ячейка вне границ сетки",
		})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Ячейка найдена",
		Data:    cell,
	})
}

// handleLocate — поиск ячейки по мировой позиции с прижатием к границам
func (rs *RestServer) handleLocate(c *gin.Context) {
	grid, err := rs.service.Grid(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	var req LocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат запроса: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Ячейка найдена",
		Data:    grid.CellFromWorldPosition(req.Position),
	})
}

// handleRandomWalkable возвращает случайную проходимую ячейку
func (rs *RestServer) handleRandomWalkable(c *gin.Context) {
	cell, err := rs.service.RandomWalkable(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Случайная проходимая ячейка",
		Data:    cell,
	})
}

// handleFindPath ищет путь. Недостижимая цель — 200 с found=false,
// исчерпание бюджета поиска — 504
func (rs *RestServer) handleFindPath(c *gin.Context) {
	var req navigation.PathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат запроса: "+err.Error())
		return
	}

	resp, err := rs.service.FindPath(requestContext(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	message := "Путь найден"
	if !resp.Found {
		message = "Путь не существует"
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: message,
		Data:    resp,
	})
}
