package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"conteo/internal/branch"
	"conteo/internal/core/apperror"
)

var branchConfigCols = []string{
	"id", "code", "name", "host", "port", "db_user", "db_password", "db_name", "pool_max",
}

// BranchConfigRepo stores branch connection coordinates in
// branch_connections. The registry loads them at boot and on hot
// add/remove.
type BranchConfigRepo struct {
	txManager *TxManager
}

func NewBranchConfigRepo(txManager *TxManager) *BranchConfigRepo {
	return &BranchConfigRepo{txManager: txManager}
}

func (r *BranchConfigRepo) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

type branchConfigRow struct {
	ID       int64  `db:"id"`
	Code     string `db:"code"`
	Name     string `db:"name"`
	Host     string `db:"host"`
	Port     int    `db:"port"`
	User     string `db:"db_user"`
	Password string `db:"db_password"`
	Database string `db:"db_name"`
	PoolMax  int    `db:"pool_max"`
}

func (row branchConfigRow) toDomain() branch.Config {
	return branch.Config{
		ID:       row.ID,
		Code:     row.Code,
		Name:     row.Name,
		Host:     row.Host,
		Port:     row.Port,
		User:     row.User,
		Password: row.Password,
		Database: row.Database,
		PoolMax:  row.PoolMax,
	}
}

// List returns every configured branch, ordered by id.
func (r *BranchConfigRepo) List(ctx context.Context) ([]branch.Config, error) {
	sql, args, err := r.builder().
		Select(branchConfigCols...).
		From("branch_connections").
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var rows []branchConfigRow
	q := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, q, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("select branch configs: %w", err)
	}

	out := make([]branch.Config, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func (r *BranchConfigRepo) Get(ctx context.Context, branchID int64) (*branch.Config, error) {
	sql, args, err := r.builder().
		Select(branchConfigCols...).
		From("branch_connections").
		Where(squirrel.Eq{"id": branchID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var row branchConfigRow
	q := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, q, &row, sql, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NewNotFound("branch", branchID)
		}
		return nil, fmt.Errorf("select branch config: %w", err)
	}

	cfg := row.toDomain()
	return &cfg, nil
}

func (r *BranchConfigRepo) Create(ctx context.Context, cfg branch.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	sql, args, err := r.builder().
		Insert("branch_connections").
		Columns(append(branchConfigCols, "created_at")...).
		Values(cfg.ID, cfg.Code, cfg.Name, cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.PoolMax, time.Now().UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	q := r.txManager.GetQuerier(ctx)
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert branch config: %w", err)
	}
	return nil
}

func (r *BranchConfigRepo) Update(ctx context.Context, cfg branch.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	sql, args, err := r.builder().
		Update("branch_connections").
		Set("code", cfg.Code).
		Set("name", cfg.Name).
		Set("host", cfg.Host).
		Set("port", cfg.Port).
		Set("db_user", cfg.User).
		Set("db_password", cfg.Password).
		Set("db_name", cfg.Database).
		Set("pool_max", cfg.PoolMax).
		Where(squirrel.Eq{"id": cfg.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	q := r.txManager.GetQuerier(ctx)
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update branch config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("branch", cfg.ID)
	}
	return nil
}

func (r *BranchConfigRepo) Delete(ctx context.Context, branchID int64) error {
	q := r.txManager.GetQuerier(ctx)
	tag, err := q.Exec(ctx, `DELETE FROM branch_connections WHERE id = $1`, branchID)
	if err != nil {
		return fmt.Errorf("delete branch config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("branch", branchID)
	}
	return nil
}
