package audit

import (
	"context"
	"time"

	"github.com/shelter-registry/shelter-registry/internal/notify"
)

// Notifier turns lifecycle events into audit entries. It plugs into the same
// fan-out as the email and chat channels, so only committed transitions are recorded.
type Notifier struct {
	shipper Shipper
	now     func() time.Time
}

// NewNotifier creates a Notifier writing to shipper.
func NewNotifier(shipper Shipper) *Notifier {
	return &Notifier{shipper: shipper, now: time.Now}
}

// Notify implements notify.Notifier. Links are never recorded: they carry live tokens.
func (n *Notifier) Notify(ctx context.Context, ev notify.Event) error {
	return n.shipper.Ship(ctx, Entry(ev, n.now()))
}

// Entry builds the audit record for ev.
func Entry(ev notify.Event, at time.Time) *LogEntry {
	a := ev.Association
	entry := &LogEntry{
		Timestamp:       at.UTC(),
		Action:          "association." + string(ev.Kind),
		Actor:           ev.Actor,
		AssociationID:   a.ID,
		AssociationName: a.Name,
		State:           string(a.State),
	}

	meta := make(map[string]interface{})
	if ev.Reason != "" {
		meta["reason"] = ev.Reason
	}
	if ev.Notes != "" {
		meta["notes"] = ev.Notes
	}
	if ev.Kind == notify.EventDeleted {
		meta["animal_count"] = ev.AnimalCount
	}
	if len(meta) > 0 {
		entry.Metadata = meta
	}
	return entry
}
