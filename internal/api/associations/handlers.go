// Package associations implements the public association endpoints: registration,
// session login, the session-scoped profile and logo upload, and password reset.
package associations

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shelter-registry/shelter-registry/internal/api/apierr"
	"github.com/shelter-registry/shelter-registry/internal/auth"
	"github.com/shelter-registry/shelter-registry/internal/db/models"
	"github.com/shelter-registry/shelter-registry/internal/lifecycle"
	"github.com/shelter-registry/shelter-registry/internal/middleware"
	"github.com/shelter-registry/shelter-registry/internal/storage"
	"github.com/shelter-registry/shelter-registry/internal/telemetry"
	"github.com/shelter-registry/shelter-registry/pkg/checksum"
)

// Lifecycle is the part of the lifecycle service these handlers call.
type Lifecycle interface {
	Register(ctx context.Context, in lifecycle.RegistrationInput) (*models.Association, error)
	Authenticate(ctx context.Context, name, password string) (*models.Association, error)
	Lookup(ctx context.Context, ref lifecycle.Ref) (*models.Association, error)
	SetLogo(ctx context.Context, id, url string) (*models.Association, error)
	RequestPasswordReset(ctx context.Context, email string) (string, *models.Association, error)
	ValidateResetToken(ctx context.Context, token string) (*models.Association, error)
	ConsumePasswordReset(ctx context.Context, token, newPassword string) error
}

// Handlers serves the association-facing API.
type Handlers struct {
	svc        Lifecycle
	storage    storage.Storage
	sessionTTL time.Duration
}

// NewHandlers creates the handlers. store may be nil, which disables logo upload.
func NewHandlers(svc Lifecycle, store storage.Storage, sessionTTL time.Duration) *Handlers {
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &Handlers{svc: svc, storage: store, sessionTTL: sessionTTL}
}

// @Summary      Register an association
// @Description  Creates a pending association and notifies the administrators.
// @Tags         Associations
// @Accept       json
// @Produce      json
// @Success      201  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}  "Validation error"
// @Failure      409  {object}  map[string]interface{}  "Name already registered"
// @Router       /api/v1/associations [post]
// RegisterHandler creates a pending association.
func (h *Handlers) RegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var in lifecycle.RegistrationInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		a, err := h.svc.Register(c.Request.Context(), in)
		if err != nil {
			telemetry.AssociationRegistrationsTotal.WithLabelValues("api", registrationResult(err)).Inc()
			apierr.Respond(c, err)
			return
		}
		telemetry.AssociationRegistrationsTotal.WithLabelValues("api", "created").Inc()

		c.JSON(http.StatusCreated, gin.H{
			"association": a.Public(),
			"message":     "Registration received. You will be emailed once an administrator has reviewed it.",
		})
	}
}

func registrationResult(err error) string {
	var verr *lifecycle.ValidationError
	switch {
	case errors.Is(err, lifecycle.ErrDuplicateName):
		return "duplicate"
	case errors.As(err, &verr):
		return "invalid"
	default:
		return "error"
	}
}

// LoginRequest is the association login body.
type LoginRequest struct {
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// @Summary      Association login
// @Tags         Associations
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "token, expires_in, association"
// @Failure      401  {object}  map[string]interface{}  "Invalid credentials"
// @Failure      403  {object}  map[string]interface{}  "Pending approval or suspended"
// @Router       /api/v1/auth/login [post]
// LoginHandler exchanges name and password for a session token.
func (h *Handlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name and password are required"})
			return
		}

		a, err := h.svc.Authenticate(c.Request.Context(), req.Name, req.Password)
		if err != nil {
			apierr.Respond(c, err)
			return
		}

		token, err := auth.GenerateJWT(a.ID, a.Name, auth.RoleAssociation, h.sessionTTL)
		if err != nil {
			slog.Error("failed to issue session token", "association_id", a.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":       token,
			"expires_in":  int(h.sessionTTL.Seconds()),
			"association": a.Public(),
		})
	}
}

// current loads the session's association and refuses sessions that outlived access.
func (h *Handlers) current(c *gin.Context) (*models.Association, bool) {
	a, err := h.svc.Lookup(c.Request.Context(), lifecycle.ByID(middleware.Subject(c)))
	if err != nil {
		apierr.Respond(c, err)
		return nil, false
	}
	if !a.CanAccess() {
		c.JSON(http.StatusForbidden, gin.H{"error": "association is not active"})
		return nil, false
	}
	return a, true
}

// @Summary      Current association
// @Tags         Associations
// @Produce      json
// @Security     Bearer
// @Success      200  {object}  models.PublicAssociation
// @Router       /api/v1/associations/me [get]
// MeHandler returns the association behind the session.
func (h *Handlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := h.current(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, a.Public())
	}
}

// @Summary      Upload association logo
// @Description  Accepts a JPEG or PNG of at most 2 MB in the "logo" form field.
// @Tags         Associations
// @Accept       multipart/form-data
// @Produce      json
// @Security     Bearer
// @Success      200  {object}  models.PublicAssociation
// @Failure      400  {object}  map[string]interface{}  "Missing file or wrong type"
// @Failure      413  {object}  map[string]interface{}  "File too large"
// @Router       /api/v1/associations/me/logo [put]
// UploadLogoHandler stores a new logo and records its URL.
func (h *Handlers) UploadLogoHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.storage == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "logo storage is not configured"})
			return
		}
		a, ok := h.current(c)
		if !ok {
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, storage.MaxLogoSize+1<<20)
		fh, err := c.FormFile("logo")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": storage.ErrLogoTooLarge.Error()})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "logo file is required"})
			return
		}
		if fh.Size > storage.MaxLogoSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": storage.ErrLogoTooLarge.Error()})
			return
		}

		file, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload"})
			return
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, storage.MaxLogoSize+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload"})
			return
		}
		head := data[:min(len(data), 512)]

		contentType, err := storage.CheckLogo(int64(len(data)), head)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, storage.ErrLogoTooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		key := storage.LogoKey(a.ID, contentType)
		res, err := h.storage.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
		if err != nil {
			slog.Error("logo upload failed", "association_id", a.ID, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to store logo"})
			return
		}
		if intact, _ := checksum.VerifySHA256(bytes.NewReader(data), res.Checksum); !intact {
			slog.Error("stored logo checksum mismatch", "association_id", a.ID, "key", key, "checksum", res.Checksum)
			if delErr := h.storage.Delete(ctx, key); delErr != nil {
				slog.Warn("failed to remove corrupt logo", "key", key, "error", delErr)
			}
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to store logo"})
			return
		}
		url, err := h.storage.GetURL(ctx, key)
		if err != nil {
			slog.Error("failed to resolve logo URL", "association_id", a.ID, "key", key, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to store logo"})
			return
		}

		updated, err := h.svc.SetLogo(ctx, a.ID, url)
		if err != nil {
			if delErr := h.storage.Delete(ctx, key); delErr != nil {
				slog.Warn("failed to remove orphaned logo", "key", key, "error", delErr)
			}
			apierr.Respond(c, err)
			return
		}
		slog.Info("logo updated", "association_id", a.ID, "key", key)
		c.JSON(http.StatusOK, updated.Public())
	}
}
