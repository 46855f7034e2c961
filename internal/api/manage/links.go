// Package manage serves the out-of-band links embedded in notifications:
// /manage/{action}/{token}/. A GET shows what the link refers to and changes
// nothing, so mail scanners and link previews are harmless; a POST performs the action.
package manage

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/shelter-registry/shelter-registry/internal/api/apierr"
	"github.com/shelter-registry/shelter-registry/internal/db/models"
	"github.com/shelter-registry/shelter-registry/internal/lifecycle"
	"github.com/shelter-registry/shelter-registry/internal/notify"
)

// LinkActor is recorded as approved_by for approvals made through an emailed link.
const LinkActor = "Email link"

// Lifecycle is the part of the lifecycle service the links drive.
type Lifecycle interface {
	Lookup(ctx context.Context, ref lifecycle.Ref) (*models.Association, error)
	Approve(ctx context.Context, ref lifecycle.Ref, actor, notes string) (lifecycle.Result, error)
	Reject(ctx context.Context, ref lifecycle.Ref, reason, actor string) (lifecycle.Result, error)
	Suspend(ctx context.Context, ref lifecycle.Ref, actor string) (lifecycle.Result, error)
	Reactivate(ctx context.Context, ref lifecycle.Ref, actor string) (lifecycle.Result, error)
	SoftDelete(ctx context.Context, ref lifecycle.Ref, actor string) (lifecycle.Result, error)
	ValidateResetToken(ctx context.Context, token string) (*models.Association, error)
	ConsumePasswordReset(ctx context.Context, token, newPassword string) error
}

// Handlers serves /manage links.
type Handlers struct {
	svc Lifecycle
}

// NewHandlers creates the link handlers.
func NewHandlers(svc Lifecycle) *Handlers {
	return &Handlers{svc: svc}
}

// ActionRequest is the optional POST body of a link action.
type ActionRequest struct {
	// Notes are recorded with an approval.
	Notes string `json:"notes"`
	// Reason is sent to the association on rejection.
	Reason string `json:"reason"`
	// Password is the new password for reset-password links.
	Password string `json:"password"`
}

// refFor resolves the token kind an action uses. Moderation links carry the approval
// token; account management links carry the management token.
func refFor(action, token string) (lifecycle.Ref, bool) {
	switch action {
	case notify.ActionInfo, notify.ActionApprove, notify.ActionReject:
		return lifecycle.ByApprovalToken(token), true
	case notify.ActionSuspend, notify.ActionReactivate, notify.ActionDelete:
		return lifecycle.ByManagementToken(token), true
	}
	return lifecycle.Ref{}, false
}

// @Summary      Inspect a link
// @Description  Shows the association a link refers to, or validates a password reset link. Never changes state.
// @Tags         Links
// @Produce      json
// @Param        action  path  string  true  "info, approve, reject, suspend, reactivate, delete or reset-password"
// @Param        token   path  string  true  "Link token"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}  "Link invalid or expired"
// @Router       /manage/{action}/{token}/ [get]
// ShowHandler describes the link target.
func (h *Handlers) ShowHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		action, token := c.Param("action"), c.Param("token")
		ctx := c.Request.Context()

		if action == notify.ActionResetPassword {
			a, err := h.svc.ValidateResetToken(ctx, token)
			if err != nil {
				apierr.RespondLink(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"action": action, "valid": true, "name": a.Name})
			return
		}

		ref, ok := refFor(action, token)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": apierr.LinkInvalidMessage})
			return
		}
		a, err := h.svc.Lookup(ctx, ref)
		if err != nil || a.IsTerminal() {
			if err == nil {
				err = lifecycle.ErrNotFound
			}
			apierr.RespondLink(c, err)
			return
		}

		body := gin.H{"action": action, "association": a.Public()}
		if action != notify.ActionInfo {
			body["confirm"] = confirmText(action, a)
		}
		c.JSON(http.StatusOK, body)
	}
}

func confirmText(action string, a *models.Association) string {
	verb := strings.ReplaceAll(action, "-", " ")
	return "Confirm to " + verb + " " + a.Name + " (currently " + strings.ToLower(a.StateLabel()) + ")."
}

// @Summary      Perform a link action
// @Tags         Links
// @Accept       json
// @Produce      json
// @Param        action  path  string  true  "approve, reject, suspend, reactivate, delete or reset-password"
// @Param        token   path  string  true  "Link token"
// @Success      200  {object}  map[string]interface{}  "outcome, message, association"
// @Failure      404  {object}  map[string]interface{}  "Link invalid or expired"
// @Failure      409  {object}  map[string]interface{}  "Transition not allowed from the current state"
// @Router       /manage/{action}/{token}/ [post]
// PerformHandler executes the link action.
func (h *Handlers) PerformHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		action, token := c.Param("action"), c.Param("token")
		ctx := c.Request.Context()

		var req ActionRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
				return
			}
		}

		if action == notify.ActionResetPassword {
			if err := h.svc.ConsumePasswordReset(ctx, token, req.Password); err != nil {
				apierr.RespondLink(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"message": "Your password has been changed. You can now log in."})
			return
		}

		ref, ok := refFor(action, token)
		if !ok || action == notify.ActionInfo {
			c.JSON(http.StatusNotFound, gin.H{"error": apierr.LinkInvalidMessage})
			return
		}

		var (
			res lifecycle.Result
			err error
		)
		switch action {
		case notify.ActionApprove:
			res, err = h.svc.Approve(ctx, ref, LinkActor, req.Notes)
		case notify.ActionReject:
			res, err = h.svc.Reject(ctx, ref, req.Reason, LinkActor)
		case notify.ActionSuspend:
			res, err = h.svc.Suspend(ctx, ref, LinkActor)
		case notify.ActionReactivate:
			res, err = h.svc.Reactivate(ctx, ref, LinkActor)
		case notify.ActionDelete:
			res, err = h.svc.SoftDelete(ctx, ref, LinkActor)
		}
		if err != nil {
			apierr.RespondLink(c, err)
			return
		}
		c.JSON(http.StatusOK, apierr.ResultBody(res))
	}
}
