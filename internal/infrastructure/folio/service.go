// Package folio implements sequential document numbering on top of the
// sys_folios table. Reservation is a single upsert so concurrent callers
// never see the same number.
package folio

import (
	"context"
	"fmt"
	"time"

	"conteo/internal/core/folio"
	"conteo/internal/infrastructure/storage/postgres"
)

var _ folio.Generator = (*Service)(nil)

// Service issues folios from sys_folios counters. Each series key holds the
// highest reserved sequence number; reserving n numbers is one atomic
// increment-and-return.
type Service struct {
	txManager *postgres.TxManager
}

func NewService(txManager *postgres.TxManager) *Service {
	return &Service{txManager: txManager}
}

// NextN reserves n sequence numbers for the series and returns them
// formatted. Safe under concurrency: the upsert serializes on the series
// row, so two callers reserving from the same series get disjoint ranges.
func (s *Service) NextN(ctx context.Context, cfg folio.Config, period time.Time, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	key := cfg.SeriesKey(period)
	q := s.txManager.GetQuerier(ctx)

	if err := s.ensureSeries(ctx, cfg, period, key); err != nil {
		return nil, err
	}

	var last int64
	err := q.QueryRow(ctx, `
		INSERT INTO sys_folios (series_key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (series_key)
		DO UPDATE SET value = sys_folios.value + $2, updated_at = NOW()
		RETURNING value
	`, key, int64(n)).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("reserve folio series %s: %w", key, err)
	}

	out := make([]string, 0, n)
	for num := last - int64(n) + 1; num <= last; num++ {
		out = append(out, cfg.Format(period, num))
	}
	return out, nil
}

// ensureSeries seeds a series counter the first time it is used, from the
// highest folio already present in the document tables. This keeps numbering
// continuous across deployments that predate the counter table.
func (s *Service) ensureSeries(ctx context.Context, cfg folio.Config, period time.Time, key string) error {
	q := s.txManager.GetQuerier(ctx)

	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sys_folios WHERE series_key = $1)`,
		key).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check folio series %s: %w", key, err)
	}
	if exists {
		return nil
	}

	seed := s.highestExisting(ctx, cfg, period)

	// A concurrent first caller may win the insert; ON CONFLICT keeps the
	// larger seed either way.
	_, err = q.Exec(ctx, `
		INSERT INTO sys_folios (series_key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (series_key)
		DO UPDATE SET value = GREATEST(sys_folios.value, EXCLUDED.value), updated_at = NOW()
	`, key, seed)
	if err != nil {
		return fmt.Errorf("seed folio series %s: %w", key, err)
	}
	return nil
}

func (s *Service) highestExisting(ctx context.Context, cfg folio.Config, period time.Time) int64 {
	pattern := cfg.LikePattern(period)
	q := s.txManager.GetQuerier(ctx)

	var seed int64
	for _, table := range []string{"counts", "requests"} {
		var top string
		err := q.QueryRow(ctx,
			fmt.Sprintf(`SELECT folio FROM %s WHERE folio LIKE $1 ORDER BY folio DESC LIMIT 1`, table),
			pattern).Scan(&top)
		if err != nil {
			// No rows or unreadable table: nothing to seed from.
			continue
		}
		if n := folio.ParseSeq(top); n > seed {
			seed = n
		}
	}
	return seed
}
