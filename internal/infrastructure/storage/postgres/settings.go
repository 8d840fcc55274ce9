package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"conteo/internal/domain"
	"conteo/pkg/logger"
)

var _ domain.Settings = (*SettingsRepo)(nil)

// SettingsRepo serves runtime configuration from sys_settings. A missing
// key, or any read failure, yields the supplied default; settings lookups
// never fail a caller.
type SettingsRepo struct {
	txManager *TxManager
	log       *logger.Logger
}

func NewSettingsRepo(txManager *TxManager, log *logger.Logger) *SettingsRepo {
	return &SettingsRepo{txManager: txManager, log: log.WithComponent("settings")}
}

func (r *SettingsRepo) GetSettingValue(ctx context.Context, key, defaultValue string) string {
	q := r.txManager.GetQuerier(ctx)

	var value string
	err := q.QueryRow(ctx, `SELECT value FROM sys_settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			r.log.WithContext(ctx).Warnw("settings read failed, using default", "key", key, "error", err)
		}
		return defaultValue
	}
	return value
}

// SetSettingValue upserts one setting.
func (r *SettingsRepo) SetSettingValue(ctx context.Context, key, value string) error {
	q := r.txManager.GetQuerier(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO sys_settings (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, value, time.Now().UTC())
	return err
}
