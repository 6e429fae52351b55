package api

import (
	"context"
	"fmt"
	"net/http"

	"canteen-service/internal/feed"
	"canteen-service/internal/models"
	"canteen-service/internal/service"

	"github.com/gin-gonic/gin"
)

// listMenu returns the orderable menu
func (h *Handler) listMenu(c *gin.Context) {
	items, err := h.svc.Menu.List(c.Request.Context(), false)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// streamMenu pushes the orderable menu on every change
func (h *Handler) streamMenu(c *gin.Context) {
	streamSnapshots(c, h, feed.TopicMenu, "menu", func(ctx context.Context) ([]models.MenuItem, error) {
		return h.svc.Menu.List(ctx, false)
	})
}

// createOrder handles checkout
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, err := h.svc.Lifecycle.Create(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

func requirePID(c *gin.Context, pid string) (string, bool) {
	pid = models.NormalizePID(pid)
	if pid == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "pid is required"})
		return "", false
	}
	return pid, true
}

// listMyOrders returns a student's recent orders
func (h *Handler) listMyOrders(c *gin.Context) {
	pid, ok := requirePID(c, c.Query("pid"))
	if !ok {
		return
	}

	orders, err := h.svc.Lifecycle.ListByIdentity(c.Request.Context(), pid)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// streamMyOrders pushes a student's recent orders on every change
func (h *Handler) streamMyOrders(c *gin.Context) {
	pid, ok := requirePID(c, c.Query("pid"))
	if !ok {
		return
	}

	streamSnapshots(c, h, feed.StudentOrdersTopic(pid), "orders", func(ctx context.Context) ([]models.Order, error) {
		return h.svc.Lifecycle.ListByIdentity(ctx, pid)
	})
}

type cancelRequest struct {
	PID string `json:"pid" binding:"required"`
}

// cancelOrder cancels the caller's own order and reports the block decision
func (h *Handler) cancelOrder(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.svc.Lifecycle.Cancel(c.Request.Context(), c.Param("id"), req.PID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := gin.H{
		"order":     result.Order,
		"blocked":   result.Blocked,
		"count":     result.Count,
		"threshold": result.Threshold,
	}
	if result.Blocked {
		resp["message"] = fmt.Sprintf(
			"You have been blocked after %d cancellations. Please contact the canteen.", result.Count)
	}
	c.JSON(http.StatusOK, resp)
}

// getStudent returns the student's block status
func (h *Handler) getStudent(c *gin.Context) {
	student, err := h.svc.Tracker.GetStudent(c.Request.Context(), c.Param("pid"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, student)
}

// streamStudent pushes the student's block status on every change
func (h *Handler) streamStudent(c *gin.Context) {
	pid, ok := requirePID(c, c.Param("pid"))
	if !ok {
		return
	}

	streamSnapshots(c, h, feed.StudentTopic(pid), "student", func(ctx context.Context) (*models.Student, error) {
		return h.svc.Tracker.GetStudent(ctx, pid)
	})
}
