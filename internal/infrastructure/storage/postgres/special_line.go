package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"conteo/internal/core/apperror"
	"conteo/internal/core/id"
	"conteo/internal/domain/specialline"
)

var _ specialline.Repository = (*SpecialLineRepo)(nil)

// SpecialLineRepo stores special lines in special_lines. Recipients are a
// comma-joined text column; the ERP user directory these point at is
// external.
type SpecialLineRepo struct {
	txManager *TxManager
}

func NewSpecialLineRepo(txManager *TxManager) *SpecialLineRepo {
	return &SpecialLineRepo{txManager: txManager}
}

func (r *SpecialLineRepo) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

type specialLineRow struct {
	ID           id.ID           `db:"id"`
	Prefix       string          `db:"prefix"`
	Name         string          `db:"name"`
	TolerancePct decimal.Decimal `db:"tolerance_pct"`
	Recipients   string          `db:"recipients"`
	Active       bool            `db:"active"`
}

func (row specialLineRow) toDomain() specialline.SpecialLine {
	var recipients []string
	if row.Recipients != "" {
		recipients = strings.Split(row.Recipients, ",")
	}
	return specialline.SpecialLine{
		ID:           row.ID,
		Prefix:       row.Prefix,
		Name:         row.Name,
		TolerancePct: row.TolerancePct,
		Recipients:   recipients,
		Active:       row.Active,
	}
}

func (r *SpecialLineRepo) ListActive(ctx context.Context) ([]specialline.SpecialLine, error) {
	sql, args, err := r.builder().
		Select("id", "prefix", "name", "tolerance_pct", "recipients", "active").
		From("special_lines").
		Where(squirrel.Eq{"active": true}).
		OrderBy("prefix").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var rows []specialLineRow
	q := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, q, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("select special lines: %w", err)
	}

	out := make([]specialline.SpecialLine, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *SpecialLineRepo) GetByID(ctx context.Context, lineID id.ID) (*specialline.SpecialLine, error) {
	sql, args, err := r.builder().
		Select("id", "prefix", "name", "tolerance_pct", "recipients", "active").
		From("special_lines").
		Where(squirrel.Eq{"id": lineID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var row specialLineRow
	q := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, q, &row, sql, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NewNotFound("special_line", lineID.String())
		}
		return nil, fmt.Errorf("select special line: %w", err)
	}

	line := row.toDomain()
	return &line, nil
}

func (r *SpecialLineRepo) Create(ctx context.Context, line *specialline.SpecialLine) error {
	if id.IsNil(line.ID) {
		line.ID = id.New()
	}
	sql, args, err := r.builder().
		Insert("special_lines").
		Columns("id", "prefix", "name", "tolerance_pct", "recipients", "active").
		Values(line.ID, line.Prefix, line.Name, line.TolerancePct, strings.Join(line.Recipients, ","), line.Active).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	q := r.txManager.GetQuerier(ctx)
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert special line: %w", err)
	}
	return nil
}

func (r *SpecialLineRepo) Update(ctx context.Context, line *specialline.SpecialLine) error {
	sql, args, err := r.builder().
		Update("special_lines").
		Set("prefix", line.Prefix).
		Set("name", line.Name).
		Set("tolerance_pct", line.TolerancePct).
		Set("recipients", strings.Join(line.Recipients, ",")).
		Set("active", line.Active).
		Where(squirrel.Eq{"id": line.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	q := r.txManager.GetQuerier(ctx)
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update special line: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("special_line", line.ID.String())
	}
	return nil
}

func (r *SpecialLineRepo) Delete(ctx context.Context, lineID id.ID) error {
	q := r.txManager.GetQuerier(ctx)
	tag, err := q.Exec(ctx, `DELETE FROM special_lines WHERE id = $1`, lineID)
	if err != nil {
		return fmt.Errorf("delete special line: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("special_line", lineID.String())
	}
	return nil
}
