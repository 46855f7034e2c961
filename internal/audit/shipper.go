// Package audit records the association lifecycle as an append-only trail.
// Every committed transition becomes a LogEntry shipped to each configured
// destination (a rotated JSON-lines file, an HTTP collector, or both). The trail
// is separate from application logs: it is meant for the people who answer
// "who approved this shelter, and when", not for on-call debugging.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shelter-registry/shelter-registry/internal/config"
)

// LogEntry is one audit record.
type LogEntry struct {
	Timestamp       time.Time              `json:"timestamp"`
	Action          string                 `json:"action"`
	Actor           string                 `json:"actor,omitempty"`
	AssociationID   string                 `json:"association_id"`
	AssociationName string                 `json:"association_name"`
	State           string                 `json:"state"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// Shipper delivers audit entries to one destination.
type Shipper interface {
	Ship(ctx context.Context, entry *LogEntry) error
	Close() error
}

// MultiShipper ships to every configured destination.
type MultiShipper struct {
	shippers []Shipper
	mu       sync.RWMutex
}

// NewMultiShipper builds the destinations named in cfg. With nothing configured
// it returns an empty shipper that accepts and drops entries.
func NewMultiShipper(cfg config.AuditConfig) (*MultiShipper, error) {
	ms := &MultiShipper{}
	if !cfg.Enabled {
		return ms, nil
	}

	if cfg.File.Path != "" {
		fs, err := NewFileShipper(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("failed to create file shipper: %w", err)
		}
		ms.shippers = append(ms.shippers, fs)
	}
	if cfg.Webhook.URL != "" {
		ms.shippers = append(ms.shippers, NewWebhookShipper(cfg.Webhook))
	}
	if len(ms.shippers) == 0 {
		slog.Warn("audit enabled but neither audit.file.path nor audit.webhook.url is set")
	}
	return ms, nil
}

// Len reports how many destinations are active.
func (ms *MultiShipper) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.shippers)
}

// Ship sends entry to all destinations; a failing destination does not stop the others.
func (ms *MultiShipper) Ship(ctx context.Context, entry *LogEntry) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var errs []error
	for _, shipper := range ms.shippers {
		if err := shipper.Ship(ctx, entry); err != nil {
			slog.Error("audit shipper error", "action", entry.Action, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close flushes and closes every destination.
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var errs []error
	for _, shipper := range ms.shippers {
		if err := shipper.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	ms.shippers = nil
	return errors.Join(errs...)
}
