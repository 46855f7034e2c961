package associations

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shelter-registry/shelter-registry/internal/api/apierr"
)

const resetAcceptedMessage = "If an account uses that email address, a password reset link has been sent."

// ResetRequest is the body of a password reset request.
type ResetRequest struct {
	Email string `json:"email" binding:"required"`
}

// ResetConsumeRequest carries the new password.
type ResetConsumeRequest struct {
	Password string `json:"password" binding:"required"`
}

// @Summary      Request a password reset
// @Description  Always answers 202 so the response does not reveal whether the email is registered.
// @Tags         Password reset
// @Accept       json
// @Produce      json
// @Success      202  {object}  map[string]interface{}
// @Router       /api/v1/password-reset [post]
// RequestResetHandler issues a reset token and emails the link.
func (h *Handlers) RequestResetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ResetRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
			return
		}

		if _, _, err := h.svc.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
			slog.Error("password reset request failed", "error", err)
		}
		c.JSON(http.StatusAccepted, gin.H{"message": resetAcceptedMessage})
	}
}

// @Summary      Validate a password reset token
// @Tags         Password reset
// @Produce      json
// @Param        token  path  string  true  "Reset token"
// @Success      200  {object}  map[string]interface{}  "valid, name"
// @Failure      404  {object}  map[string]interface{}  "Unknown or used token"
// @Failure      410  {object}  map[string]interface{}  "Expired token"
// @Router       /api/v1/password-reset/{token} [get]
// ValidateResetHandler reports whether a reset token can still be used.
func (h *Handlers) ValidateResetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := h.svc.ValidateResetToken(c.Request.Context(), c.Param("token"))
		if err != nil {
			apierr.RespondLink(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"valid": true, "name": a.Name})
	}
}

// @Summary      Set a new password
// @Tags         Password reset
// @Accept       json
// @Produce      json
// @Param        token  path  string  true  "Reset token"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}  "Password rejected by policy"
// @Failure      404  {object}  map[string]interface{}  "Unknown or used token"
// @Failure      410  {object}  map[string]interface{}  "Expired token"
// @Router       /api/v1/password-reset/{token} [post]
// ConsumeResetHandler sets the new password and invalidates the token.
func (h *Handlers) ConsumeResetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ResetConsumeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "password is required"})
			return
		}

		if err := h.svc.ConsumePasswordReset(c.Request.Context(), c.Param("token"), req.Password); err != nil {
			apierr.RespondLink(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Your password has been changed. You can now log in."})
	}
}
