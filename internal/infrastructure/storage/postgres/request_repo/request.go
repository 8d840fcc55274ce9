// Package request_repo provides the PostgreSQL implementation of the
// adjustment request repository.
package request_repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"conteo/internal/core/apperror"
	"conteo/internal/core/id"
	"conteo/internal/domain/requests"
	"conteo/internal/infrastructure/storage/postgres"
)

const chunkSize = 250

var _ requests.Repository = (*Repo)(nil)

var requestCols = []string{
	"id", "folio", "count_id", "count_detail_id", "branch_id", "warehouse",
	"item_code", "description", "system_stock", "counted_stock", "difference",
	"status", "requested_by", "created_at", "reviewed_by", "reviewed_at",
	"notes",
}

type Repo struct {
	txManager *postgres.TxManager
}

func New(txManager *postgres.TxManager) *Repo {
	return &Repo{txManager: txManager}
}

func (r *Repo) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func (r *Repo) CreateAll(ctx context.Context, reqs []requests.Request) error {
	if len(reqs) == 0 {
		return nil
	}

	ins := r.builder().Insert("requests").Columns(requestCols...)
	for _, req := range reqs {
		ins = ins.Values(
			req.ID, req.Folio, req.CountID, req.CountDetailID, req.BranchID,
			req.Warehouse, req.ItemCode, req.Description, req.SystemStock,
			req.CountedStock, req.Difference, req.Status, req.RequestedBy,
			req.CreatedAt, req.ReviewedBy, req.ReviewedAt, req.Notes,
		)
	}
	sql, args, err := ins.ToSql()
	if err != nil {
		return fmt.Errorf("build insert requests: %w", err)
	}

	q := r.txManager.GetQuerier(ctx)
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert requests: %w", err)
	}
	return nil
}

func (r *Repo) GetByID(ctx context.Context, requestID id.ID) (*requests.Request, error) {
	sql, args, err := r.builder().
		Select(requestCols...).
		From("requests").
		Where(squirrel.Eq{"id": requestID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select request: %w", err)
	}

	var req requests.Request
	q := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, q, &req, sql, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NewNotFound("request", requestID.String())
		}
		return nil, fmt.Errorf("select request: %w", err)
	}
	return &req, nil
}

func (r *Repo) List(ctx context.Context, f requests.Filter) ([]requests.Request, error) {
	qb := r.builder().
		Select(requestCols...).
		From("requests").
		OrderBy("created_at DESC")

	if f.BranchID != 0 {
		qb = qb.Where(squirrel.Eq{"branch_id": f.BranchID})
	}
	if !id.IsNil(f.CountID) {
		qb = qb.Where(squirrel.Eq{"count_id": f.CountID})
	}
	if f.Status != "" {
		qb = qb.Where(squirrel.Eq{"status": f.Status})
	}
	if f.Limit > 0 {
		qb = qb.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		qb = qb.Offset(uint64(f.Offset))
	}

	sql, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list requests: %w", err)
	}

	var out []requests.Request
	q := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, q, &out, sql, args...); err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return out, nil
}

func (r *Repo) ExistingDetailIDs(ctx context.Context, detailIDs []id.ID) (map[id.ID]bool, error) {
	out := make(map[id.ID]bool, len(detailIDs))
	q := r.txManager.GetQuerier(ctx)

	for start := 0; start < len(detailIDs); start += chunkSize {
		end := start + chunkSize
		if end > len(detailIDs) {
			end = len(detailIDs)
		}

		sql, args, err := r.builder().
			Select("count_detail_id").
			From("requests").
			Where(squirrel.Eq{"count_detail_id": detailIDs[start:end]}).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("build existing-details query: %w", err)
		}

		var ids []id.ID
		if err := pgxscan.Select(ctx, q, &ids, sql, args...); err != nil {
			return nil, fmt.Errorf("find existing request details: %w", err)
		}
		for _, detailID := range ids {
			out[detailID] = true
		}
	}
	return out, nil
}

// UpdateStatusIf is the conditional review transition. Reviewer and
// reviewed_at are stamped together with the status change so a lost race
// never overwrites another reviewer's resolution.
func (r *Repo) UpdateStatusIf(ctx context.Context, requestID id.ID, expected, next requests.Status, reviewer, notes string, now time.Time) (bool, error) {
	q := r.txManager.GetQuerier(ctx)
	tag, err := q.Exec(ctx, `
		UPDATE requests SET
			status = $1,
			reviewed_by = $2,
			reviewed_at = $3,
			notes = CASE WHEN $4 = '' THEN notes ELSE $4 END
		WHERE id = $5 AND status = $6
	`, string(next), reviewer, now, notes, requestID, string(expected))
	if err != nil {
		return false, fmt.Errorf("update request status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repo) UpdateNotes(ctx context.Context, requestID id.ID, notes string) error {
	q := r.txManager.GetQuerier(ctx)
	tag, err := q.Exec(ctx, `UPDATE requests SET notes = $1 WHERE id = $2`, notes, requestID)
	if err != nil {
		return fmt.Errorf("update request notes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("request", requestID.String())
	}
	return nil
}
