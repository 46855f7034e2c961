// Package models - association.go defines the Association model: a shelter account with
// contact data, a lifecycle state, audit fields, and the tokens that authorize
// out-of-band moderation and password-reset links.
package models

import "time"

// AssociationState is the lifecycle state of an association.
type AssociationState string

const (
	StatePending   AssociationState = "pending"
	StateActive    AssociationState = "active"
	StateSuspended AssociationState = "suspended"
	StateRejected  AssociationState = "rejected"
	StateDeleted   AssociationState = "deleted"
)

// AllStates lists every state in display order.
var AllStates = []AssociationState{StatePending, StateActive, StateSuspended, StateRejected, StateDeleted}

// Valid reports whether s is a known state.
func (s AssociationState) Valid() bool {
	for _, st := range AllStates {
		if s == st {
			return true
		}
	}
	return false
}

// Association represents a shelter registered in the system
type Association struct {
	ID           string           `db:"id" json:"id"`
	Name         string           `db:"name" json:"name"`
	PasswordHash string           `db:"password_hash" json:"-"`
	Email        string           `db:"email" json:"email"`
	Phone        string           `db:"phone" json:"phone"`
	Address      string           `db:"address" json:"address"`
	City         string           `db:"city" json:"city"`
	Region       string           `db:"region" json:"region"`
	PostalCode   string           `db:"postal_code" json:"postal_code"`
	LogoURL      *string          `db:"logo_url" json:"logo_url,omitempty"`
	State        AssociationState `db:"state" json:"state"`

	RegisteredAt   time.Time  `db:"registered_at" json:"registered_at"`
	StateChangedAt time.Time  `db:"state_changed_at" json:"state_changed_at"`
	ApprovedAt     *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	RejectedAt     *time.Time `db:"rejected_at" json:"rejected_at,omitempty"`

	ApprovedBy      *string `db:"approved_by" json:"approved_by,omitempty"`
	AdminNotes      *string `db:"admin_notes" json:"admin_notes,omitempty"`
	RejectionReason *string `db:"rejection_reason" json:"rejection_reason,omitempty"`

	ManagementToken        string     `db:"management_token" json:"-"`
	ApprovalToken          string     `db:"approval_token" json:"-"`
	PasswordResetToken     *string    `db:"password_reset_token" json:"-"`
	PasswordResetExpiresAt *time.Time `db:"password_reset_expires_at" json:"-"`

	// Version is incremented on every write; updates are conditioned on it.
	Version int64 `db:"version" json:"version"`
}

// CanAccess reports whether the association may log in and publish listings.
func (a *Association) CanAccess() bool { return a.State == StateActive }

// IsPending reports whether the association awaits moderation.
func (a *Association) IsPending() bool { return a.State == StatePending }

// IsRejected reports whether the association was rejected.
func (a *Association) IsRejected() bool { return a.State == StateRejected }

// IsTerminal reports whether no further transition applies. Rejection purges the
// row, so deleted is the only terminal state that is ever stored; a rejected row
// written by other tooling can still be approved.
func (a *Association) IsTerminal() bool {
	return a.State == StateDeleted
}

// StateLabel returns the human-readable state name shown in admin views and messages.
func (a *Association) StateLabel() string {
	switch a.State {
	case StatePending:
		return "Pending approval"
	case StateActive:
		return "Active"
	case StateSuspended:
		return "Suspended"
	case StateRejected:
		return "Rejected"
	case StateDeleted:
		return "Deleted"
	default:
		return string(a.State)
	}
}

// StateColor returns the badge colour used for the state in admin views.
func (a *Association) StateColor() string {
	switch a.State {
	case StatePending:
		return "orange"
	case StateActive:
		return "green"
	case StateSuspended:
		return "red"
	case StateRejected:
		return "gray"
	case StateDeleted:
		return "black"
	default:
		return "gray"
	}
}

// Clone returns a copy that shares no pointers with a.
func (a *Association) Clone() *Association {
	c := *a
	c.LogoURL = clonePtr(a.LogoURL)
	c.ApprovedAt = clonePtr(a.ApprovedAt)
	c.RejectedAt = clonePtr(a.RejectedAt)
	c.ApprovedBy = clonePtr(a.ApprovedBy)
	c.AdminNotes = clonePtr(a.AdminNotes)
	c.RejectionReason = clonePtr(a.RejectionReason)
	c.PasswordResetToken = clonePtr(a.PasswordResetToken)
	c.PasswordResetExpiresAt = clonePtr(a.PasswordResetExpiresAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// PublicAssociation is the subset of association fields that may leave the system
// in notifications and API responses. It never carries the password hash or tokens.
type PublicAssociation struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Email          string           `json:"email"`
	Phone          string           `json:"phone"`
	Address        string           `json:"address"`
	City           string           `json:"city"`
	Region         string           `json:"region"`
	PostalCode     string           `json:"postal_code"`
	LogoURL        string           `json:"logo_url,omitempty"`
	State          AssociationState `json:"state"`
	StateLabel     string           `json:"state_label"`
	RegisteredAt   time.Time        `json:"registered_at"`
	StateChangedAt time.Time        `json:"state_changed_at"`
	ApprovedAt     *time.Time       `json:"approved_at,omitempty"`
	RejectedAt     *time.Time       `json:"rejected_at,omitempty"`
	ApprovedBy     string           `json:"approved_by,omitempty"`
}

// Public returns the public view of the association.
func (a *Association) Public() PublicAssociation {
	return PublicAssociation{
		ID:             a.ID,
		Name:           a.Name,
		Email:          a.Email,
		Phone:          a.Phone,
		Address:        a.Address,
		City:           a.City,
		Region:         a.Region,
		PostalCode:     a.PostalCode,
		LogoURL:        deref(a.LogoURL),
		State:          a.State,
		StateLabel:     a.StateLabel(),
		RegisteredAt:   a.RegisteredAt,
		StateChangedAt: a.StateChangedAt,
		ApprovedAt:     clonePtr(a.ApprovedAt),
		RejectedAt:     clonePtr(a.RejectedAt),
		ApprovedBy:     deref(a.ApprovedBy),
	}
}

// AdminAssociation is the moderator view: the public fields plus internal notes.
type AdminAssociation struct {
	PublicAssociation
	StateColor      string `json:"state_color"`
	AdminNotes      string `json:"admin_notes,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// AdminView returns the view served to administrators.
func (a *Association) AdminView() AdminAssociation {
	return AdminAssociation{
		PublicAssociation: a.Public(),
		StateColor:        a.StateColor(),
		AdminNotes:        deref(a.AdminNotes),
		RejectionReason:   deref(a.RejectionReason),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StateCount is one row of the per-state statistics query.
type StateCount struct {
	State AssociationState `db:"state" json:"state"`
	Count int              `db:"count" json:"count"`
}

// TokenPurpose identifies which token column a token belongs to.
type TokenPurpose string

const (
	TokenManagement    TokenPurpose = "management"
	TokenApproval      TokenPurpose = "approval"
	TokenPasswordReset TokenPurpose = "password_reset"
)
