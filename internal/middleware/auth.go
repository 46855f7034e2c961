// Package middleware provides Gin HTTP middleware for session authentication,
// rate limiting, security headers, request ids and metrics.
//
// Middleware ordering is fixed in internal/api/router.go:
//
//	Recovery → RequestID → Metrics → Logger → CORS → Security → RateLimit → Auth → Handler
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shelter-registry/shelter-registry/internal/auth"
)

// Context keys set by RequireRole.
const (
	SubjectKey = "session_subject"
	NameKey    = "session_name"
	RoleKey    = "session_role"
)

func bearerToken(c *gin.Context) (string, string) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", "Missing authorization header"
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", "Authorization header must start with 'Bearer '"
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", "Authorization token is empty"
	}
	return token, ""
}

// RequireRole validates the session JWT and aborts unless its role is one of roles.
// The subject (admin username or association id), display name and role are
// stored in the gin context.
func RequireRole(roles ...auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, problem := bearerToken(c)
		if problem != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": problem})
			return
		}

		claims, err := auth.ValidateJWT(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired session"})
			return
		}

		allowed := false
		for _, r := range roles {
			if claims.Role == r {
				allowed = true
				break
			}
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
			return
		}

		c.Set(SubjectKey, claims.Subject)
		c.Set(NameKey, claims.Name)
		c.Set(RoleKey, claims.Role)
		c.Next()
	}
}

// Subject returns the authenticated subject, or "" when the request has no session.
func Subject(c *gin.Context) string {
	return c.GetString(SubjectKey)
}

// SessionName returns the display name stored in the session.
func SessionName(c *gin.Context) string {
	return c.GetString(NameKey)
}
