package api

import (
	"net/http"
	"strings"

	"canteen-service/internal/service"

	"github.com/gin-gonic/gin"
)

const sessionTokenKey = "sessionToken"

// bearerToken reads the session token from the Authorization header, or from
// the access_token query parameter for EventSource clients that cannot set
// headers
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return c.Query("access_token")
}

// authMiddleware rejects requests without a live operator session
func authMiddleware(auth *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if err := auth.Authenticate(c.Request.Context(), token); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Sign in required"})
			return
		}
		c.Set(sessionTokenKey, token)
		c.Next()
	}
}

type secretRequest struct {
	Secret string `json:"secret" binding:"required"`
}

// login handles operator sign-in
func (h *Handler) login(c *gin.Context) {
	var req secretRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	token, err := h.svc.Auth.Login(c.Request.Context(), req.Secret)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

// logout ends the caller's session
func (h *Handler) logout(c *gin.Context) {
	if err := h.svc.Auth.Logout(c.Request.Context(), c.GetString(sessionTokenKey)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// changePassword rotates the operator secret and returns a fresh token
func (h *Handler) changePassword(c *gin.Context) {
	var req secretRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	token, err := h.svc.Auth.ChangeSecret(c.Request.Context(), c.GetString(sessionTokenKey), req.Secret)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}
