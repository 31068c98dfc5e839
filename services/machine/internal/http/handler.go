// Package http содержит HTTP API цеха: сводка статусов станков.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/factory-system/pkg/logger"
	"example.com/factory-system/pkg/metrics"
	"example.com/factory-system/services/machine/internal/registry"
)

// Handler обрабатывает HTTP запросы к цеху.
type Handler struct {
	registry registry.Registry
}

// NewHandler создаёт HTTP обработчик цеха.
func NewHandler(reg registry.Registry) *Handler {
	return &Handler{registry: reg}
}

// RegisterRoutes регистрирует маршруты API.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(metrics.GinMetricsMiddleware("machine-service"))

	router.GET("/machines", h.listMachines)
	router.GET("/health", h.health)
}

// listMachines возвращает сводку статусов всех станков.
func (h *Handler) listMachines(c *gin.Context) {
	statuses, err := h.registry.List(c.Request.Context())
	if err != nil {
		logger.FromContext(c.Request.Context()).Error().Err(err).Msg("Ошибка чтения реестра станков")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "ошибка чтения реестра станков"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"machines": statuses})
}

// health — быстрая проверка живости для балансировщика.
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
