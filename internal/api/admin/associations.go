package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/shelter-registry/shelter-registry/internal/api/apierr"
	"github.com/shelter-registry/shelter-registry/internal/db/models"
	"github.com/shelter-registry/shelter-registry/internal/lifecycle"
	"github.com/shelter-registry/shelter-registry/internal/middleware"
)

// Moderator is the part of the lifecycle service the admin API drives.
type Moderator interface {
	Lookup(ctx context.Context, ref lifecycle.Ref) (*models.Association, error)
	Approve(ctx context.Context, ref lifecycle.Ref, actor, notes string) (lifecycle.Result, error)
	Reject(ctx context.Context, ref lifecycle.Ref, reason, actor string) (lifecycle.Result, error)
	Suspend(ctx context.Context, ref lifecycle.Ref, actor string) (lifecycle.Result, error)
	Reactivate(ctx context.Context, ref lifecycle.Ref, actor string) (lifecycle.Result, error)
	SoftDelete(ctx context.Context, ref lifecycle.Ref, actor string) (lifecycle.Result, error)
}

// AssociationLister pages through associations.
type AssociationLister interface {
	List(ctx context.Context, state models.AssociationState, limit, offset int) ([]*models.Association, int, error)
}

// AssociationHandlers serves /api/v1/admin/associations.
type AssociationHandlers struct {
	svc  Moderator
	list AssociationLister
}

// NewAssociationHandlers creates the moderation handlers.
func NewAssociationHandlers(svc Moderator, list AssociationLister) *AssociationHandlers {
	return &AssociationHandlers{svc: svc, list: list}
}

// @Summary      List associations
// @Tags         Admin
// @Produce      json
// @Security     Bearer
// @Param        state     query  string  false  "Filter by state"
// @Param        page      query  int     false  "Page number (default 1)"
// @Param        per_page  query  int     false  "Items per page, max 100 (default 20)"
// @Success      200  {object}  map[string]interface{}  "associations, pagination"
// @Router       /api/v1/admin/associations [get]
// ListHandler returns a page of associations, newest first.
func (h *AssociationHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		state := models.AssociationState(c.Query("state"))
		if state != "" && !state.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown state " + strconv.Quote(string(state))})
			return
		}

		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > 100 {
			perPage = 20
		}

		rows, total, err := h.list.List(c.Request.Context(), state, perPage, (page-1)*perPage)
		if err != nil {
			slog.Error("failed to list associations", "state", state, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list associations"})
			return
		}

		out := make([]models.AdminAssociation, 0, len(rows))
		for _, a := range rows {
			out = append(out, a.AdminView())
		}
		c.JSON(http.StatusOK, gin.H{
			"associations": out,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// @Summary      Get an association
// @Tags         Admin
// @Produce      json
// @Security     Bearer
// @Param        id  path  string  true  "Association ID"
// @Success      200  {object}  models.AdminAssociation
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/v1/admin/associations/{id} [get]
// GetHandler returns one association.
func (h *AssociationHandlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := h.svc.Lookup(c.Request.Context(), lifecycle.ByID(c.Param("id")))
		if err != nil {
			apierr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, a.AdminView())
	}
}

// ModerationRequest is the optional body of approve and reject.
type ModerationRequest struct {
	Notes  string `json:"notes"`
	Reason string `json:"reason"`
}

// @Summary      Change an association's state
// @Description  transition is one of approve, reject, suspend, reactivate. Soft delete uses DELETE.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     Bearer
// @Param        id          path  string  true  "Association ID"
// @Param        transition  path  string  true  "approve, reject, suspend or reactivate"
// @Success      200  {object}  map[string]interface{}  "outcome, message, association"
// @Failure      404  {object}  map[string]interface{}
// @Failure      409  {object}  map[string]interface{}  "Not allowed from the current state, or concurrent change"
// @Router       /api/v1/admin/associations/{id}/{transition} [post]
// TransitionHandler applies the named transition.
func (h *AssociationHandlers) TransitionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ModerationRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
				return
			}
		}

		ctx := c.Request.Context()
		ref := lifecycle.ByID(c.Param("id"))
		actor := middleware.SessionName(c)

		var (
			res lifecycle.Result
			err error
		)
		switch lifecycle.Transition(c.Param("transition")) {
		case lifecycle.TransitionApprove:
			res, err = h.svc.Approve(ctx, ref, actor, req.Notes)
		case lifecycle.TransitionReject:
			res, err = h.svc.Reject(ctx, ref, req.Reason, actor)
		case lifecycle.TransitionSuspend:
			res, err = h.svc.Suspend(ctx, ref, actor)
		case lifecycle.TransitionReactivate:
			res, err = h.svc.Reactivate(ctx, ref, actor)
		default:
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown transition"})
			return
		}
		h.respond(c, res, err)
	}
}

// @Summary      Delete an association
// @Description  Soft delete: the row is kept with state deleted and access is revoked.
// @Tags         Admin
// @Produce      json
// @Security     Bearer
// @Param        id  path  string  true  "Association ID"
// @Success      200  {object}  map[string]interface{}  "outcome, message, association"
// @Router       /api/v1/admin/associations/{id} [delete]
// DeleteHandler soft-deletes an association.
func (h *AssociationHandlers) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := h.svc.SoftDelete(c.Request.Context(), lifecycle.ByID(c.Param("id")), middleware.SessionName(c))
		h.respond(c, res, err)
	}
}

func (h *AssociationHandlers) respond(c *gin.Context, res lifecycle.Result, err error) {
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	if res.Outcome != lifecycle.OutcomeNoop {
		slog.Info("association moderated",
			"transition", res.Transition,
			"outcome", res.Outcome,
			"actor", middleware.SessionName(c),
			"association_id", c.Param("id"))
	}
	body := apierr.ResultBody(res)
	if res.Association != nil {
		body["association"] = res.Association.AdminView()
	}
	c.JSON(http.StatusOK, body)
}
