// Package http содержит публичный HTTP API сервиса заказов на gin.
package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"example.com/factory-system/pkg/logger"
	"example.com/factory-system/pkg/metrics"
	"example.com/factory-system/services/order/internal/domain"
	"example.com/factory-system/services/order/internal/service"
)

// Handler — HTTP обработчики публичного API заказов.
type Handler struct {
	orders service.OrderService
}

// NewHandler создаёт HTTP обработчик.
func NewHandler(orders service.OrderService) *Handler {
	return &Handler{orders: orders}
}

// RegisterRoutes регистрирует маршруты API.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.Use(metrics.GinMetricsMiddleware("order-service"))

	r.POST("/create_order", h.createOrder)
	r.GET("/order/retrieve/:order_id", h.retrieveOrder)
	r.POST("/order/cancel/:order_id", h.cancelOrder)
	r.PUT("/order/update/:order_id", h.adminOnly, h.updateOrder)
	r.GET("/order/sagashistory/:order_id", h.sagaHistory)
	r.GET("/order/catalog", h.catalog)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// adminOnly пропускает только запросы с ролью admin.
// Роль проставляет gateway в заголовке X-Role после аутентификации.
func (h *Handler) adminOnly(c *gin.Context) {
	if c.GetHeader("X-Role") != "admin" {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "требуется роль admin"})
		return
	}
	c.Next()
}

// createOrderRequest — тело POST /create_order.
type createOrderRequest struct {
	CountA      int    `json:"count_a"`
	CountB      int    `json:"count_b"`
	Description string `json:"description"`
	ClientID    int64  `json:"client_id"`
}

// createOrder обрабатывает POST /create_order.
func (h *Handler) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "некорректное тело запроса"})
		return
	}

	order := &domain.Order{
		ClientID:    req.ClientID,
		CountA:      req.CountA,
		CountB:      req.CountB,
		Description: req.Description,
	}

	created, err := h.orders.CreateOrder(c.Request.Context(), order)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidClient),
			errors.Is(err, domain.ErrNegativeCount),
			errors.Is(err, domain.ErrEmptyOrder):
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		default:
			logger.FromContext(c.Request.Context()).Error().Err(err).Msg("Ошибка создания заказа")
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "внутренняя ошибка"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order_id": created.ID,
		"detail":   "заказ создан, сага запущена",
	})
}

// retrieveOrder обрабатывает GET /order/retrieve/:order_id.
func (h *Handler) retrieveOrder(c *gin.Context) {
	orderID, ok := h.orderIDParam(c)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, orderResponse(order))
}

// cancelOrder обрабатывает POST /order/cancel/:order_id.
// Отмена допустима только из Queued; в остальных состояниях — 409
// с историей саги в теле, чтобы клиент видел где заказ остановился.
func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := h.orderIDParam(c)
	if !ok {
		return
	}

	history, err := h.orders.CancelOrder(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, domain.ErrCancelNotAllowed) {
			c.JSON(http.StatusConflict, gin.H{
				"detail":       err.Error(),
				"saga_history": historyResponse(history),
			})
			return
		}
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"detail":       "сага отмены запущена",
		"saga_history": historyResponse(history),
	})
}

// updateOrderRequest — тело PUT /order/update/:order_id.
// Указатели отличают "поле не передано" от нулевого значения.
type updateOrderRequest struct {
	CountA      *int    `json:"count_a"`
	CountB      *int    `json:"count_b"`
	Description *string `json:"description"`
}

// updateOrder обрабатывает PUT /order/update/:order_id (только админ).
func (h *Handler) updateOrder(c *gin.Context) {
	orderID, ok := h.orderIDParam(c)
	if !ok {
		return
	}

	var req updateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "некорректное тело запроса"})
		return
	}

	fields := map[string]any{}
	if req.CountA != nil {
		fields["count_a"] = *req.CountA
	}
	if req.CountB != nil {
		fields["count_b"] = *req.CountB
	}
	if req.Description != nil {
		fields["description"] = *req.Description
	}
	if len(fields) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "нет полей для обновления"})
		return
	}

	order, err := h.orders.UpdateOrder(c.Request.Context(), orderID, fields)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, orderResponse(order))
}

// sagaHistory обрабатывает GET /order/sagashistory/:order_id.
func (h *Handler) sagaHistory(c *gin.Context) {
	orderID, ok := h.orderIDParam(c)
	if !ok {
		return
	}

	history, err := h.orders.SagaHistory(c.Request.Context(), orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id":     orderID,
		"saga_history": historyResponse(history),
	})
}

// catalog обрабатывает GET /order/catalog.
func (h *Handler) catalog(c *gin.Context) {
	items, err := h.orders.Catalog(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := make([]gin.H, len(items))
	for i, item := range items {
		resp[i] = gin.H{"piece_type": item.PieceType, "price": item.Price}
	}
	c.JSON(http.StatusOK, resp)
}

// orderIDParam разбирает path-параметр order_id.
func (h *Handler) orderIDParam(c *gin.Context) (int64, bool) {
	orderID, err := strconv.ParseInt(c.Param("order_id"), 10, 64)
	if err != nil || orderID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "некорректный идентификатор заказа"})
		return 0, false
	}
	return orderID, true
}

// respondError транслирует доменные ошибки в HTTP статусы.
func (h *Handler) respondError(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrOrderNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "заказ не найден"})
		return
	}

	logger.FromContext(c.Request.Context()).Error().Err(err).Msg("Ошибка обработки запроса")
	c.JSON(http.StatusInternalServerError, gin.H{"detail": "внутренняя ошибка"})
}

// orderResponse сериализует заказ для API.
func orderResponse(o *domain.Order) gin.H {
	return gin.H{
		"order_id":    o.ID,
		"client_id":   o.ClientID,
		"count_a":     o.CountA,
		"count_b":     o.CountB,
		"description": o.Description,
		"status":      string(o.Status),
		"created_at":  o.CreatedAt,
		"updated_at":  o.UpdatedAt,
	}
}

// historyResponse сериализует историю саги для API.
func historyResponse(entries []domain.SagaEntry) []gin.H {
	resp := make([]gin.H, len(entries))
	for i, e := range entries {
		resp[i] = gin.H{
			"status":    string(e.Status),
			"timestamp": e.CreatedAt,
		}
	}
	return resp
}
