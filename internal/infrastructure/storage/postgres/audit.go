package postgres

import (
	"context"
	"encoding/json"
	"time"

	"conteo/internal/core/id"
	"conteo/internal/domain"
	"conteo/pkg/logger"
)

var _ domain.Audit = (*AuditLog)(nil)

// AuditLog implements the audit port on sys_audit_log. Writes are
// best-effort: failures are logged, never returned, so a broken audit
// table can never abort a business operation.
type AuditLog struct {
	txManager *TxManager
	log       *logger.Logger
}

func NewAuditLog(txManager *TxManager, log *logger.Logger) *AuditLog {
	return &AuditLog{txManager: txManager, log: log.WithComponent("audit")}
}

func (a *AuditLog) Record(ctx context.Context, entry domain.AuditEntry) {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		details = []byte("{}")
	}

	q := a.txManager.GetQuerier(ctx)
	_, err = q.Exec(ctx, `
		INSERT INTO sys_audit_log (id, entity_type, entity_id, action, user_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id.New(), entry.Entity, entry.EntityID, entry.Action, entry.UserID, details, time.Now().UTC())
	if err != nil {
		a.log.WithContext(ctx).Warnw("audit write failed",
			"entity", entry.Entity, "action", entry.Action, "error", err)
	}
}
