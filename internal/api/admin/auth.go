// Package admin implements the administrator API: session login, association
// moderation and registry statistics.
package admin

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shelter-registry/shelter-registry/internal/auth"
)

// Authenticator checks administrator credentials.
type Authenticator interface {
	Authenticate(username, password string) error
}

// AuthHandlers handles administrator login.
type AuthHandlers struct {
	admins     Authenticator
	sessionTTL time.Duration
}

// NewAuthHandlers creates the login handler.
func NewAuthHandlers(admins Authenticator, sessionTTL time.Duration) *AuthHandlers {
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &AuthHandlers{admins: admins, sessionTTL: sessionTTL}
}

// LoginRequest is the administrator login body.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// @Summary      Administrator login
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "token, expires_in"
// @Failure      401  {object}  map[string]interface{}  "Invalid credentials"
// @Router       /api/v1/admin/login [post]
// LoginHandler exchanges administrator credentials for an admin session token.
func (h *AuthHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}

		if err := h.admins.Authenticate(req.Username, req.Password); err != nil {
			slog.Warn("admin login failed", "username", req.Username, "client_ip", c.ClientIP())
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}

		token, err := auth.GenerateJWT(req.Username, req.Username, auth.RoleAdmin, h.sessionTTL)
		if err != nil {
			slog.Error("failed to issue admin session", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
			return
		}

		slog.Info("admin logged in", "username", req.Username)
		c.JSON(http.StatusOK, gin.H{
			"token":      token,
			"expires_in": int(h.sessionTTL.Seconds()),
		})
	}
}
