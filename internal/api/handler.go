package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"canteen-service/internal/feed"
	"canteen-service/internal/models"
	"canteen-service/internal/service"
	"canteen-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services bundles everything the handlers call into
type Services struct {
	Lifecycle *service.OrderLifecycle
	Tracker   *service.MisuseTracker
	Settings  *service.SettingsService
	Menu      *service.MenuService
	Auth      *service.AuthService
	Transfer  *service.TransferService
	Hub       *feed.Hub
}

// Handler contains HTTP handlers
type Handler struct {
	svc    Services
	ready  map[string]Pinger
	logger *zap.Logger

	// streams is cancelled by CloseStreams; only live feeds watch it
	streams      context.Context
	closeStreams context.CancelFunc
}

// NewHandler creates a new HTTP handler. ready names the dependencies the
// readiness probe pings.
func NewHandler(svc Services, ready map[string]Pinger) *Handler {
	streams, closeStreams := context.WithCancel(context.Background())
	return &Handler{
		svc:          svc,
		ready:        ready,
		logger:       util.GetLogger(),
		streams:      streams,
		closeStreams: closeStreams,
	}
}

// CloseStreams ends every open live feed. Ordinary requests are unaffected,
// so it can run before the server drains.
func (h *Handler) CloseStreams() {
	h.closeStreams()
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(loggingMiddleware(h.logger))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/menu", h.listMenu)
		v1.GET("/menu/stream", h.streamMenu)

		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listMyOrders)
		v1.GET("/orders/stream", h.streamMyOrders)
		v1.POST("/orders/:id/cancel", h.cancelOrder)

		v1.GET("/students/:pid", h.getStudent)
		v1.GET("/students/:pid/stream", h.streamStudent)
	}

	v1.POST("/admin/login", h.login)

	admin := v1.Group("/admin", authMiddleware(h.svc.Auth))
	{
		admin.POST("/logout", h.logout)
		admin.POST("/password", h.changePassword)

		admin.POST("/verify-code", h.verifyCode)
		admin.GET("/orders", h.listOrders)
		admin.GET("/orders/stream", h.streamOrders)
		admin.POST("/orders/:id/verify", h.markVerified)
		admin.POST("/orders/:id/fulfill", h.fulfillOrder)
		admin.DELETE("/orders/:id", h.deleteOrder)

		admin.GET("/students/:pid", h.studentStatus)
		admin.POST("/students/:pid/block", h.blockStudent)
		admin.POST("/students/:pid/unblock", h.unblockStudent)

		admin.GET("/settings", h.getSettings)
		admin.PUT("/settings", h.updateSettings)
		admin.POST("/settings/adjust", h.adjustThreshold)
		admin.GET("/settings/stream", h.streamSettings)

		admin.GET("/menu", h.listAllMenu)
		admin.POST("/menu", h.createMenuItem)
		admin.PUT("/menu/:id", h.updateMenuItem)
		admin.PATCH("/menu/:id/availability", h.setAvailability)
		admin.DELETE("/menu/:id", h.deleteMenuItem)

		admin.GET("/export", h.exportData)
		admin.POST("/import", h.importData)
		admin.POST("/reset", h.resetData)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every backing dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.ready {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
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

const genericErrorMessage = "Something went wrong, please try again"

// respondError maps error kinds onto status codes. Unknown errors are
// logged and hidden behind a generic message.
func (h *Handler) respondError(c *gin.Context, err error) {
	var status int
	switch {
	case errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, models.ErrBlocked):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrInvalidState), errors.Is(err, models.ErrConflict):
		status = http.StatusConflict
	default:
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": genericErrorMessage})
		return
	}

	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
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

// loggingMiddleware writes one structured line per request
func loggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
