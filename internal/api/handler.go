package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"checkout-service/internal/payment"
	"checkout-service/internal/realtime"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	headerUserID    = "X-User-ID"
	headerUserEmail = "X-User-Email"
	headerSignature = "Stripe-Signature"

	ownerKey = "owner_id"
)

// ReadinessCheck reports whether a dependency can serve requests
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	orderService *service.OrderService
	cartService  *service.CartService
	registry     *realtime.Registry
	checks       map[string]ReadinessCheck
	heartbeat    time.Duration
	logger       *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orderService *service.OrderService,
	cartService *service.CartService,
	registry *realtime.Registry,
	checks map[string]ReadinessCheck,
) *Handler {
	return &Handler{
		orderService: orderService,
		cartService:  cartService,
		registry:     registry,
		checks:       checks,
		heartbeat:    15 * time.Second,
		logger:       util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(h.logger))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		// signed by the processor, not by the gateway
		v1.POST("/webhooks/stripe", h.stripeWebhook)

		authed := v1.Group("", identity())
		authed.GET("/cart", h.getCart)
		authed.POST("/cart/items", h.addCartItem)
		authed.DELETE("/cart/items", h.removeCartItems)
		authed.DELETE("/cart", h.clearCart)

		authed.POST("/orders", h.createOrder)
		authed.GET("/orders", h.listOrders)
		authed.GET("/orders/:id", h.getOrder)
		authed.POST("/orders/:id/cancel", h.cancelOrder)
		authed.POST("/orders/:id/checkout", h.checkoutOrder)
		authed.POST("/orders/:id/discount", h.applyDiscount)
		authed.DELETE("/orders/:id", h.archiveOrder)
		authed.POST("/orders/:id/restore", h.restoreOrder)

		authed.GET("/stream", h.stream)
	}
}

// identity trusts the owner id set by the upstream gateway
func identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, err := strconv.ParseInt(c.GetHeader(headerUserID), 10, 64)
		if err != nil || ownerID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing or invalid " + headerUserID,
			})
			return
		}
		c.Set(ownerKey, ownerID)
		c.Next()
	}
}

func owner(c *gin.Context) int64 {
	return c.GetInt64(ownerKey)
}

func orderID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return 0, false
	}
	return id, true
}

// respondError maps service errors to status codes
func (h *Handler) respondError(c *gin.Context, err error) {
	kind := service.Classify(err)
	status := http.StatusInternalServerError
	switch kind {
	case service.KindValidation:
		status = http.StatusBadRequest
	case service.KindNotFound:
		status = http.StatusNotFound
	case service.KindConflict:
		status = http.StatusConflict
	case service.KindExternal:
		status = http.StatusBadGateway
		if errors.Is(err, payment.ErrInvalidSignature) {
			status = http.StatusBadRequest
		}
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "Internal server error", "kind": kind.String()})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": kind.String()})
}

func (h *Handler) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return false
	}
	return true
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when every dependency answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) getCart(c *gin.Context) {
	view, err := h.cartService.Get(c.Request.Context(), owner(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req service.AddItemRequest
	if !h.bind(c, &req) {
		return
	}
	cart, err := h.cartService.AddItem(c.Request.Context(), owner(c), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) removeCartItems(c *gin.Context) {
	var req service.RemoveItemsRequest
	if !h.bind(c, &req) {
		return
	}
	cart, err := h.cartService.RemoveItems(c.Request.Context(), owner(c), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) clearCart(c *gin.Context) {
	if err := h.cartService.Clear(c.Request.Context(), owner(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if !h.bind(c, &req) {
		return
	}

	order, err := h.orderService.Create(c.Request.Context(), owner(c), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orderService.ListOrders(c.Request.Context(), owner(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	order, err := h.orderService.GetOrder(c.Request.Context(), owner(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req cancelRequest
	if c.Request.ContentLength > 0 && !h.bind(c, &req) {
		return
	}

	result, err := h.orderService.Cancel(c.Request.Context(), owner(c), id, req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}

	body := gin.H{"order": result.Order}
	if result.RefundErr != nil {
		body["refund_error"] = result.RefundErr.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) checkoutOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	url, err := h.orderService.Checkout(c.Request.Context(), owner(c), c.GetHeader(headerUserEmail), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

type discountRequest struct {
	Discount *decimal.Decimal `json:"discount" binding:"required"`
}

func (h *Handler) applyDiscount(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req discountRequest
	if !h.bind(c, &req) {
		return
	}

	order, err := h.orderService.ApplyDiscount(c.Request.Context(), owner(c), id, *req.Discount)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) archiveOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	if err := h.orderService.Archive(c.Request.Context(), owner(c), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) restoreOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	order, err := h.orderService.Unarchive(c.Request.Context(), owner(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// stripeWebhook needs the exact raw body for signature verification
func (h *Handler) stripeWebhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable body"})
		return
	}

	result, err := h.orderService.HandleWebhook(c.Request.Context(), payload, c.GetHeader(headerSignature))
	if err != nil {
		h.respondError(c, err)
		return
	}

	status := http.StatusOK
	if result.Outcome == service.WebhookIgnored {
		status = http.StatusAccepted
	}
	c.JSON(status, result)
}

// stream holds a server-sent events connection open for the caller
func (h *Handler) stream(c *gin.Context) {
	conn := h.registry.Add(owner(c))
	defer h.registry.Remove(conn)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.SSEvent("ready", gin.H{"conn_id": conn.ID})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-conn.Done():
			return false
		case m := <-conn.Messages():
			c.SSEvent(m.Event, string(m.Data))
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		}
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
