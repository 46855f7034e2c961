package lifecycle

import (
	"fmt"
	"time"

	"github.com/shelter-registry/shelter-registry/internal/db/models"
	"github.com/shelter-registry/shelter-registry/internal/notify"
)

// Transition names a state-changing operation on an association.
type Transition string

const (
	TransitionApprove    Transition = "approve"
	TransitionReject     Transition = "reject"
	TransitionSuspend    Transition = "suspend"
	TransitionReactivate Transition = "reactivate"
	TransitionSoftDelete Transition = "soft_delete"
)

// Outcome describes what a transition call did.
type Outcome string

const (
	// OutcomeApplied: the state changed and was committed.
	OutcomeApplied Outcome = "applied"
	// OutcomeNoop: the association was already in the target state.
	OutcomeNoop Outcome = "noop"
	// OutcomeRejectedAndPurged: the association was notified and hard-deleted.
	OutcomeRejectedAndPurged Outcome = "rejected_and_purged"
)

// Rule is one row of the transition table.
type Rule struct {
	Transition Transition
	From       []models.AssociationState
	// To is the resulting state; empty when the row is purged instead.
	To    models.AssociationState
	Event notify.EventKind
}

// Allows reports whether the rule applies from state.
func (r Rule) Allows(state models.AssociationState) bool {
	for _, s := range r.From {
		if s == state {
			return true
		}
	}
	return false
}

// Rules is the complete transition table.
var Rules = []Rule{
	{
		Transition: TransitionApprove,
		From:       []models.AssociationState{models.StatePending, models.StateSuspended, models.StateRejected},
		To:         models.StateActive,
		Event:      notify.EventApproved,
	},
	{
		Transition: TransitionReject,
		From:       []models.AssociationState{models.StatePending},
		Event:      notify.EventRejected,
	},
	{
		Transition: TransitionSuspend,
		From:       []models.AssociationState{models.StateActive},
		To:         models.StateSuspended,
		Event:      notify.EventSuspended,
	},
	{
		Transition: TransitionReactivate,
		From:       []models.AssociationState{models.StateSuspended},
		To:         models.StateActive,
		Event:      notify.EventReactivated,
	},
	{
		Transition: TransitionSoftDelete,
		From:       []models.AssociationState{models.StateActive, models.StateSuspended},
		To:         models.StateDeleted,
		Event:      notify.EventDeleted,
	},
}

// RuleFor returns the table row for t.
func RuleFor(t Transition) (Rule, bool) {
	for _, r := range Rules {
		if r.Transition == t {
			return r, true
		}
	}
	return Rule{}, false
}

// Result is returned by every transition.
type Result struct {
	Outcome    Outcome
	Transition Transition
	// Association is the committed state, or the notified snapshot after a purge.
	Association *models.Association
	// NotificationErr is a soft warning: delivery failed after the commit.
	NotificationErr error
}

// Message is a short human-readable summary of the result.
func (r Result) Message() string {
	a := r.Association
	switch r.Outcome {
	case OutcomeNoop:
		if r.Transition == TransitionApprove && a != nil && a.ApprovedAt != nil {
			return fmt.Sprintf("%s was already approved on %s", a.Name, a.ApprovedAt.UTC().Format(time.RFC1123))
		}
		if a != nil {
			return fmt.Sprintf("%s is already %s", a.Name, a.State)
		}
		return "already in that state"
	case OutcomeRejectedAndPurged:
		return fmt.Sprintf("%s was rejected and removed", a.Name)
	default:
		return fmt.Sprintf("%s is now %s", a.Name, a.State)
	}
}

// apply mutates a according to rule at now. The caller persists the result.
func apply(a *models.Association, rule Rule, now time.Time, actor, notes string) {
	a.State = rule.To
	a.StateChangedAt = now
	if rule.Transition == TransitionApprove {
		a.ApprovedAt = &now
		if actor != "" {
			a.ApprovedBy = &actor
		}
		if notes != "" {
			a.AdminNotes = appendNotes(a.AdminNotes, notes)
		}
	}
}

func appendNotes(existing *string, notes string) *string {
	if existing == nil || *existing == "" {
		return &notes
	}
	joined := *existing + "\n" + notes
	return &joined
}
