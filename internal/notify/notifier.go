// Package notify delivers best-effort messages about association lifecycle events.
//
// A Notifier never participates in the state change itself: callers commit the
// transition first and then hand the resulting Event to a Notifier. Delivery errors
// are returned so callers can log them and surface a soft warning, but they never
// roll anything back.
package notify

import (
	"context"
	"errors"

	"github.com/shelter-registry/shelter-registry/internal/db/models"
)

// EventKind names a lifecycle event.
type EventKind string

const (
	EventRegistered    EventKind = "registered"
	EventApproved      EventKind = "approved"
	EventRejected      EventKind = "rejected"
	EventSuspended     EventKind = "suspended"
	EventReactivated   EventKind = "reactivated"
	EventDeleted       EventKind = "deleted"
	EventPasswordReset EventKind = "password_reset"
)

// Event is the payload handed to notifiers.
type Event struct {
	Kind        EventKind
	Association models.PublicAssociation
	// Reason is set for EventRejected.
	Reason string
	// Actor is the moderator who triggered the transition, when known.
	Actor string
	// Notes are the admin notes recorded with an approval.
	Notes string
	// AnimalCount is the number of listings owned at the time of the event.
	AnimalCount int
	Links       Links
}

// Notifier delivers an Event over one or more channels.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, ev Event) error

// Notify calls f(ctx, ev).
func (f NotifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Nop discards every event.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Event) error { return nil }

// Multi fans an event out to every notifier and joins their errors.
// A failing notifier does not stop the remaining ones.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
