package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"canteen-service/internal/feed"
	"canteen-service/internal/models"
	"canteen-service/internal/service"

	"github.com/gin-gonic/gin"
)

type verifyCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

// verifyCode verifies the order holding a payment code
func (h *Handler) verifyCode(c *gin.Context) {
	var req verifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.svc.Lifecycle.VerifyByCode(c.Request.Context(), req.Code)
	if err != nil {
		h.respondError(c, err)
		return
	}

	message := "Payment verified"
	if !result.Verified {
		message = fmt.Sprintf("Code already processed, order is %s", result.Order.Status)
	}
	c.JSON(http.StatusOK, gin.H{
		"order":           result.Order,
		"verified":        result.Verified,
		"previous_status": result.PreviousStatus,
		"message":         message,
	})
}

func orderFilter(c *gin.Context) (models.OrderFilter, error) {
	filter := models.OrderFilter{
		Status: c.Query("status"),
		Search: c.Query("search"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, fmt.Errorf("%w: invalid limit %q", models.ErrValidation, raw)
		}
		filter.Limit = limit
	}
	return filter, nil
}

// listOrders returns orders for the operator, newest first
func (h *Handler) listOrders(c *gin.Context) {
	filter, err := orderFilter(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	orders, err := h.svc.Lifecycle.List(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// streamOrders pushes the filtered order list on every order change
func (h *Handler) streamOrders(c *gin.Context) {
	filter, err := orderFilter(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	streamSnapshots(c, h, feed.TopicOrders, "orders", func(ctx context.Context) ([]models.Order, error) {
		return h.svc.Lifecycle.List(ctx, filter)
	})
}

// markVerified verifies an order without its code
func (h *Handler) markVerified(c *gin.Context) {
	order, err := h.svc.Lifecycle.MarkVerified(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// fulfillOrder hands a verified order over
func (h *Handler) fulfillOrder(c *gin.Context) {
	order, err := h.svc.Lifecycle.Fulfill(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// deleteOrder removes an order
func (h *Handler) deleteOrder(c *gin.Context) {
	if err := h.svc.Lifecycle.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// studentStatus returns a student's record and recent cancellations
func (h *Handler) studentStatus(c *gin.Context) {
	status, err := h.svc.Tracker.Status(c.Request.Context(), c.Param("pid"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

type blockRequest struct {
	Reason string `json:"reason"`
}

// blockStudent blocks a student by hand
func (h *Handler) blockStudent(c *gin.Context) {
	var req blockRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	student, err := h.svc.Tracker.SetBlocked(c.Request.Context(), c.Param("pid"), true, req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, student)
}

// unblockStudent lifts a block
func (h *Handler) unblockStudent(c *gin.Context) {
	student, err := h.svc.Tracker.SetBlocked(c.Request.Context(), c.Param("pid"), false, "")
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, student)
}

// getSettings returns the settings in effect
func (h *Handler) getSettings(c *gin.Context) {
	settings, err := h.svc.Settings.Get(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

type settingsRequest struct {
	CancelThreshold *int `json:"cancel_threshold" binding:"required"`
}

// updateSettings stores a new cancellation threshold
func (h *Handler) updateSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	settings, err := h.svc.Settings.SetThreshold(c.Request.Context(), *req.CancelThreshold)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

type adjustRequest struct {
	Delta int `json:"delta" binding:"required"`
}

// adjustThreshold nudges the threshold up or down
func (h *Handler) adjustThreshold(c *gin.Context) {
	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	settings, err := h.svc.Settings.AdjustThreshold(c.Request.Context(), req.Delta)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// streamSettings pushes the settings on every change
func (h *Handler) streamSettings(c *gin.Context) {
	streamSnapshots(c, h, feed.TopicSettings, "settings", h.svc.Settings.Get)
}

// listAllMenu returns the menu including unavailable items
func (h *Handler) listAllMenu(c *gin.Context) {
	items, err := h.svc.Menu.List(c.Request.Context(), true)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// createMenuItem adds a menu item
func (h *Handler) createMenuItem(c *gin.Context) {
	var req service.MenuItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	item, err := h.svc.Menu.Create(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

// updateMenuItem replaces a menu item
func (h *Handler) updateMenuItem(c *gin.Context) {
	var req service.MenuItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	item, err := h.svc.Menu.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

type availabilityRequest struct {
	Available *bool `json:"available" binding:"required"`
}

// setAvailability toggles whether an item can be ordered
func (h *Handler) setAvailability(c *gin.Context) {
	var req availabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	item, err := h.svc.Menu.SetAvailable(c.Request.Context(), c.Param("id"), *req.Available)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// deleteMenuItem removes a menu item
func (h *Handler) deleteMenuItem(c *gin.Context) {
	if err := h.svc.Menu.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// exportData downloads the interchange document
func (h *Handler) exportData(c *gin.Context) {
	doc, err := h.svc.Transfer.Export(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	filename := fmt.Sprintf("canteen-export-%s.json", doc.ExportedAt.Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.JSON(http.StatusOK, doc)
}

// importData applies an interchange document
func (h *Handler) importData(c *gin.Context) {
	var doc models.DataExport
	if err := c.ShouldBindJSON(&doc); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.svc.Transfer.Import(c.Request.Context(), &doc)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// resetData deletes the menu and every order
func (h *Handler) resetData(c *gin.Context) {
	if err := h.svc.Transfer.Reset(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
