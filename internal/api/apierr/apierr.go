// Package apierr maps lifecycle errors and results onto HTTP responses so every
// handler reports them the same way.
package apierr

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shelter-registry/shelter-registry/internal/lifecycle"
)

// LinkInvalidMessage is the only thing a failed token link reveals.
const LinkInvalidMessage = "This link is invalid or has expired."

// Status returns the HTTP status and client-facing message for err.
func Status(err error) (int, string) {
	var verr *lifecycle.ValidationError
	var itErr *lifecycle.InvalidTransitionError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, lifecycle.ErrNotFound):
		return http.StatusNotFound, "association not found"
	case errors.As(err, &itErr):
		return http.StatusConflict, itErr.Error()
	case errors.Is(err, lifecycle.ErrConflict):
		return http.StatusConflict, "association was modified concurrently, retry the request"
	case errors.Is(err, lifecycle.ErrDuplicateName):
		return http.StatusConflict, "an association with this name already exists"
	case errors.Is(err, lifecycle.ErrTokenExpired):
		return http.StatusGone, "token has expired"
	case errors.Is(err, lifecycle.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, lifecycle.ErrPendingApproval):
		return http.StatusForbidden, "association is pending approval"
	case errors.Is(err, lifecycle.ErrAccessDenied):
		return http.StatusForbidden, "association access has been suspended"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// Respond writes err as {"error": message}. Unmapped errors are logged.
func Respond(c *gin.Context, err error) {
	status, msg := Status(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": msg})
}

// RespondLink writes err for a token link. Unknown, consumed and expired tokens are
// indistinguishable apart from the 410 status on expiry.
func RespondLink(c *gin.Context, err error) {
	status, msg := Status(err)
	switch status {
	case http.StatusNotFound, http.StatusGone:
		msg = LinkInvalidMessage
	case http.StatusInternalServerError:
		slog.Error("link request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": msg})
}

// ResultBody is the JSON body of a completed transition.
func ResultBody(res lifecycle.Result) gin.H {
	body := gin.H{
		"outcome":    res.Outcome,
		"transition": res.Transition,
		"message":    res.Message(),
	}
	if res.Association != nil {
		body["association"] = res.Association.Public()
	}
	if res.NotificationErr != nil {
		body["warning"] = "the association could not be notified"
	}
	return body
}
