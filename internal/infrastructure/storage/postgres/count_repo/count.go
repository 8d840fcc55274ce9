// Package count_repo provides the PostgreSQL implementation of the count
// repository.
package count_repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"conteo/internal/core/apperror"
	"conteo/internal/core/id"
	"conteo/internal/domain/counts"
	"conteo/internal/infrastructure/storage/postgres"
)

// chunkSize bounds IN-clause parameter counts on the local store.
const chunkSize = 250

var _ counts.Repository = (*Repo)(nil)

var countCols = []string{
	"id", "folio", "branch_id", "warehouse", "warehouse_name", "type",
	"classification", "priority", "status", "responsible_user_id",
	"tolerance_pct", "notes", "created_by", "created_at", "assigned_at",
	"last_reassigned_at", "started_at", "finished_at", "closed_at",
}

var detailCols = []string{
	"id", "count_id", "item_code", "description", "unit", "warehouse",
	"warehouse_name", "system_stock", "counted_stock", "difference",
	"difference_pct", "counted_by", "counted_at", "notes",
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

func (r *Repo) CreateCount(ctx context.Context, c *counts.Count) error {
	sql, args, err := r.builder().
		Insert("counts").
		Columns(countCols...).
		Values(
			c.ID, c.Folio, c.BranchID, c.Warehouse, c.WarehouseName, c.Type,
			c.Classification, c.Priority, c.Status, c.ResponsibleUser,
			c.TolerancePct, c.Notes, c.CreatedBy, c.CreatedAt, c.AssignedAt,
			c.LastReassignedAt, c.StartedAt, c.FinishedAt, c.ClosedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert count: %w", err)
	}

	q := r.txManager.GetQuerier(ctx)
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert count %s: %w", c.Folio, err)
	}
	return nil
}

func (r *Repo) CreateDetails(ctx context.Context, details []counts.CountDetail) error {
	if len(details) == 0 {
		return nil
	}

	ins := r.builder().Insert("count_details").Columns(detailCols...)
	for _, d := range details {
		ins = ins.Values(
			d.ID, d.CountID, d.ItemCode, d.Description, d.Unit, d.Warehouse,
			d.WarehouseName, d.SystemStock, d.CountedStock, d.Difference,
			d.DifferencePct, d.CountedBy, d.CountedAt, d.Notes,
		)
	}
	sql, args, err := ins.ToSql()
	if err != nil {
		return fmt.Errorf("build insert details: %w", err)
	}

	q := r.txManager.GetQuerier(ctx)
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert count details: %w", err)
	}
	return nil
}

func (r *Repo) GetByID(ctx context.Context, countID id.ID) (*counts.Count, error) {
	sql, args, err := r.builder().
		Select(countCols...).
		From("counts").
		Where(squirrel.Eq{"id": countID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select count: %w", err)
	}

	var c counts.Count
	q := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, q, &c, sql, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NewNotFound("count", countID.String())
		}
		return nil, fmt.Errorf("select count: %w", err)
	}
	return &c, nil
}

func (r *Repo) List(ctx context.Context, f counts.Filter) ([]counts.Count, error) {
	qb := r.builder().
		Select(countCols...).
		From("counts").
		OrderBy("created_at DESC")

	if f.BranchID != 0 {
		qb = qb.Where(squirrel.Eq{"branch_id": f.BranchID})
	}
	if f.Warehouse != 0 {
		qb = qb.Where(squirrel.Eq{"warehouse": f.Warehouse})
	}
	if f.Status != "" {
		qb = qb.Where(squirrel.Eq{"status": f.Status})
	}
	if f.ResponsibleUser != "" {
		qb = qb.Where(squirrel.Eq{"responsible_user_id": f.ResponsibleUser})
	}
	if f.Limit > 0 {
		qb = qb.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		qb = qb.Offset(uint64(f.Offset))
	}

	sql, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list counts: %w", err)
	}

	var out []counts.Count
	q := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, q, &out, sql, args...); err != nil {
		return nil, fmt.Errorf("list counts: %w", err)
	}
	return out, nil
}

func (r *Repo) ListDetails(ctx context.Context, countID id.ID) ([]counts.CountDetail, error) {
	sql, args, err := r.builder().
		Select(detailCols...).
		From("count_details").
		Where(squirrel.Eq{"count_id": countID}).
		OrderBy("item_code").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list details: %w", err)
	}

	var out []counts.CountDetail
	q := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, q, &out, sql, args...); err != nil {
		return nil, fmt.Errorf("list count details: %w", err)
	}
	return out, nil
}

func (r *Repo) GetDetail(ctx context.Context, countID, detailID id.ID) (*counts.CountDetail, error) {
	sql, args, err := r.builder().
		Select(detailCols...).
		From("count_details").
		Where(squirrel.Eq{"id": detailID, "count_id": countID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select detail: %w", err)
	}

	var d counts.CountDetail
	q := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, q, &d, sql, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NewNotFound("count_detail", detailID.String())
		}
		return nil, fmt.Errorf("select count detail: %w", err)
	}
	return &d, nil
}

func (r *Repo) FindOpenCountItems(ctx context.Context, branchID int64, warehouse int, itemCodes []string) ([]counts.OpenCountItem, error) {
	open := make([]string, 0, len(counts.OpenStatuses()))
	for _, s := range counts.OpenStatuses() {
		open = append(open, string(s))
	}

	var out []counts.OpenCountItem
	q := r.txManager.GetQuerier(ctx)
	for _, chunk := range chunkStrings(itemCodes, chunkSize) {
		sql, args, err := r.builder().
			Select("cd.item_code", "c.folio", "c.status").
			From("count_details cd").
			Join("counts c ON c.id = cd.count_id").
			Where(squirrel.Eq{
				"c.branch_id":  branchID,
				"c.warehouse":  warehouse,
				"c.status":     open,
				"cd.item_code": chunk,
			}).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("build open-count query: %w", err)
		}

		var rows []struct {
			ItemCode string        `db:"item_code"`
			Folio    string        `db:"folio"`
			Status   counts.Status `db:"status"`
		}
		if err := pgxscan.Select(ctx, q, &rows, sql, args...); err != nil {
			return nil, fmt.Errorf("find open count items: %w", err)
		}
		for _, row := range rows {
			out = append(out, counts.OpenCountItem{ItemCode: row.ItemCode, Folio: row.Folio, Status: row.Status})
		}
	}
	return out, nil
}

func (r *Repo) FindCountedInRange(ctx context.Context, branchID int64, warehouse int, itemCodes []string, from, to time.Time) ([]string, error) {
	var out []string
	q := r.txManager.GetQuerier(ctx)
	for _, chunk := range chunkStrings(itemCodes, chunkSize) {
		sql, args, err := r.builder().
			Select("DISTINCT cd.item_code").
			From("count_details cd").
			Join("counts c ON c.id = cd.count_id").
			Where(squirrel.Eq{
				"c.branch_id":  branchID,
				"c.warehouse":  warehouse,
				"cd.item_code": chunk,
			}).
			Where(squirrel.GtOrEq{"cd.counted_at": from}).
			Where(squirrel.LtOrEq{"cd.counted_at": to}).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("build counted-in-range query: %w", err)
		}

		var codes []string
		if err := pgxscan.Select(ctx, q, &codes, sql, args...); err != nil {
			return nil, fmt.Errorf("find counted in range: %w", err)
		}
		out = append(out, codes...)
	}
	return out, nil
}

// UpdateStatusIf is the race-closing conditional transition: the WHERE
// clause carries the expected status and the affected-row count decides
// who won.
func (r *Repo) UpdateStatusIf(ctx context.Context, countID id.ID, expected, next counts.Status, now time.Time) (bool, error) {
	q := r.txManager.GetQuerier(ctx)
	tag, err := q.Exec(ctx, `
		UPDATE counts SET
			status = $1,
			started_at  = CASE WHEN $1 = 'contando' THEN COALESCE(started_at, $2) ELSE started_at END,
			finished_at = CASE WHEN $1 IN ('contado', 'cerrado') THEN COALESCE(finished_at, $2) ELSE finished_at END,
			closed_at   = CASE WHEN $1 = 'cerrado' THEN COALESCE(closed_at, $2) ELSE closed_at END
		WHERE id = $3 AND status = $4
	`, string(next), now, countID, string(expected))
	if err != nil {
		return false, fmt.Errorf("update count status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repo) UpdateAssignment(ctx context.Context, countID id.ID, userID string, firstAssignment bool, now time.Time) error {
	column := "last_reassigned_at"
	if firstAssignment {
		column = "assigned_at"
	}

	q := r.txManager.GetQuerier(ctx)
	tag, err := q.Exec(ctx,
		fmt.Sprintf(`UPDATE counts SET responsible_user_id = $1, %s = $2 WHERE id = $3`, column),
		userID, now, countID)
	if err != nil {
		return fmt.Errorf("update assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("count", countID.String())
	}
	return nil
}

func (r *Repo) AppendNote(ctx context.Context, countID id.ID, note string) error {
	q := r.txManager.GetQuerier(ctx)
	tag, err := q.Exec(ctx, `
		UPDATE counts
		SET notes = CASE WHEN notes = '' THEN $1 ELSE notes || E'\n' || $1 END
		WHERE id = $2
	`, note, countID)
	if err != nil {
		return fmt.Errorf("append note: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("count", countID.String())
	}
	return nil
}

func (r *Repo) UpdateDetailCapture(ctx context.Context, u counts.CaptureUpdate) error {
	q := r.txManager.GetQuerier(ctx)
	tag, err := q.Exec(ctx, `
		UPDATE count_details SET
			counted_stock = $1,
			difference = $2,
			difference_pct = $3,
			counted_by = $4,
			counted_at = $5,
			notes = CASE WHEN $6 = '' THEN notes ELSE $6 END
		WHERE id = $7
	`, u.CountedStock, u.Difference, u.DifferencePct, u.CountedBy, u.CountedAt, u.Notes, u.DetailID)
	if err != nil {
		return fmt.Errorf("update detail capture: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("count_detail", u.DetailID.String())
	}
	return nil
}

func (r *Repo) CountUncaptured(ctx context.Context, countID id.ID) (int, error) {
	q := r.txManager.GetQuerier(ctx)
	var n int
	err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM count_details WHERE count_id = $1 AND counted_stock IS NULL`,
		countID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count uncaptured details: %w", err)
	}
	return n, nil
}

func (r *Repo) UpdateDetailsSystemStock(ctx context.Context, countID id.ID, stocks map[string]decimal.Decimal) error {
	if len(stocks) == 0 {
		return nil
	}
	q := r.txManager.GetQuerier(ctx)

	for code, qty := range stocks {
		_, err := q.Exec(ctx,
			`UPDATE count_details SET system_stock = $1 WHERE count_id = $2 AND item_code = $3`,
			qty, countID, code)
		if err != nil {
			return fmt.Errorf("refresh system stock for %s: %w", code, err)
		}
	}

	// Captured lines keep their stored difference consistent with the new
	// system stock. The zero-system percentage rule lives in the domain,
	// so recompute there rather than in SQL.
	details, err := r.ListDetails(ctx, countID)
	if err != nil {
		return err
	}
	for _, d := range details {
		if d.CountedStock == nil {
			continue
		}
		diff, pct := counts.ComputeDifference(d.SystemStock, *d.CountedStock)
		_, err := q.Exec(ctx,
			`UPDATE count_details SET difference = $1, difference_pct = $2 WHERE id = $3`,
			diff, pct, d.ID)
		if err != nil {
			return fmt.Errorf("recompute difference for %s: %w", d.ItemCode, err)
		}
	}
	return nil
}

func (r *Repo) HasRequests(ctx context.Context, countID id.ID) (bool, error) {
	q := r.txManager.GetQuerier(ctx)
	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM requests WHERE count_id = $1)`,
		countID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check count requests: %w", err)
	}
	return exists, nil
}

func (r *Repo) Delete(ctx context.Context, countID id.ID) error {
	q := r.txManager.GetQuerier(ctx)
	if _, err := q.Exec(ctx, `DELETE FROM count_details WHERE count_id = $1`, countID); err != nil {
		return fmt.Errorf("delete count details: %w", err)
	}
	tag, err := q.Exec(ctx, `DELETE FROM counts WHERE id = $1`, countID)
	if err != nil {
		return fmt.Errorf("delete count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("count", countID.String())
	}
	return nil
}

func chunkStrings(items []string, size int) [][]string {
	if len(items) == 0 {
		return nil
	}
	out := make([][]string, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
