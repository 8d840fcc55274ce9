// Package domain holds the ports shared by the domain services. The
// concrete collaborators behind them (HTTP notification gateway, audit
// store, settings repository) live in infrastructure or outside this
// service entirely.
package domain

import (
	"context"

	"conteo/pkg/logger"
)

// Audit records who changed what. Implementations must be best-effort:
// a failed audit write never fails the business operation.
type Audit interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditEntry is one audit trail record.
type AuditEntry struct {
	Entity   string
	EntityID string
	Action   string
	UserID   string
	Details  map[string]any
}

// Notifier delivers user-facing notifications. All methods are
// best-effort; delivery failure is logged, never propagated.
type Notifier interface {
	// NotifyAssignment tells a user a count was assigned to them.
	NotifyAssignment(ctx context.Context, userID string, countID string, folio string)
	// NotifyRequestCreated tells the reviewer group an adjustment request exists.
	NotifyRequestCreated(ctx context.Context, requestID string, folio string, itemCode string)
	// NotifyLineAlert escalates grouped out-of-tolerance lines to their
	// configured recipients.
	NotifyLineAlert(ctx context.Context, recipients []string, subject string, body string)
}

// Event is a domain event destined for the outbox.
type Event struct {
	Type    string
	Entity  string
	ID      string
	Payload map[string]any
}

// Events publishes domain events. The transactional implementation writes
// to the outbox inside the caller's transaction.
type Events interface {
	Publish(ctx context.Context, event Event) error
}

// Settings reads runtime configuration values stored in the local
// database, with a fallback default.
type Settings interface {
	GetSettingValue(ctx context.Context, key string, defaultValue string) string
}

// --- No-op and logging implementations for wiring and tests ---

// NopAudit discards audit entries.
type NopAudit struct{}

func (NopAudit) Record(context.Context, AuditEntry) {}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) NotifyAssignment(context.Context, string, string, string)     {}
func (NopNotifier) NotifyRequestCreated(context.Context, string, string, string) {}
func (NopNotifier) NotifyLineAlert(context.Context, []string, string, string)    {}

// NopEvents discards events.
type NopEvents struct{}

func (NopEvents) Publish(context.Context, Event) error { return nil }

// StaticSettings serves settings from a fixed map. Used in tests and as
// the fallback when no settings store is wired.
type StaticSettings map[string]string

func (s StaticSettings) GetSettingValue(_ context.Context, key string, defaultValue string) string {
	if v, ok := s[key]; ok {
		return v
	}
	return defaultValue
}

// LogNotifier logs every notification instead of delivering it. Stands in
// until the external notification gateway is wired.
type LogNotifier struct {
	Log *logger.Logger
}

func (n LogNotifier) NotifyAssignment(ctx context.Context, userID, countID, folio string) {
	n.Log.WithContext(ctx).Infow("notify assignment", "user_id", userID, "count_id", countID, "folio", folio)
}

func (n LogNotifier) NotifyRequestCreated(ctx context.Context, requestID, folio, itemCode string) {
	n.Log.WithContext(ctx).Infow("notify request created", "request_id", requestID, "folio", folio, "item_code", itemCode)
}

func (n LogNotifier) NotifyLineAlert(ctx context.Context, recipients []string, subject, body string) {
	n.Log.WithContext(ctx).Infow("notify line alert", "recipients", recipients, "subject", subject, "body", body)
}
