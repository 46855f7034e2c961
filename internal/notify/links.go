package notify

import (
	"fmt"
	"strings"

	"github.com/shelter-registry/shelter-registry/internal/db/models"
)

// Link actions. Each maps to a /manage/{action}/{token}/ route.
const (
	ActionInfo          = "info"
	ActionApprove       = "approve"
	ActionReject        = "reject"
	ActionSuspend       = "suspend"
	ActionReactivate    = "reactivate"
	ActionDelete        = "delete"
	ActionResetPassword = "reset-password"
)

// Links are the out-of-band URLs attached to an event.
type Links struct {
	Info          string
	Approve       string
	Reject        string
	Suspend       string
	Reactivate    string
	Delete        string
	ResetPassword string
}

// LinkBuilder constructs {base_url}/{action}/{token}/ URLs.
type LinkBuilder struct {
	BaseURL string
}

// NewLinkBuilder returns a builder rooted at baseURL (trailing slashes are trimmed).
func NewLinkBuilder(baseURL string) LinkBuilder {
	return LinkBuilder{BaseURL: strings.TrimRight(baseURL, "/")}
}

// Build returns the link for action authorized by token.
func (b LinkBuilder) Build(action, token string) string {
	if token == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/%s/", b.BaseURL, action, token)
}

// ForAssociation returns moderation links (approval token) and management links
// (management token) for a.
func (b LinkBuilder) ForAssociation(a *models.Association) Links {
	return Links{
		Info:       b.Build(ActionInfo, a.ApprovalToken),
		Approve:    b.Build(ActionApprove, a.ApprovalToken),
		Reject:     b.Build(ActionReject, a.ApprovalToken),
		Suspend:    b.Build(ActionSuspend, a.ManagementToken),
		Reactivate: b.Build(ActionReactivate, a.ManagementToken),
		Delete:     b.Build(ActionDelete, a.ManagementToken),
	}
}

// ResetPassword returns the password reset link for token.
func (b LinkBuilder) ResetPassword(token string) string {
	return b.Build(ActionResetPassword, token)
}
