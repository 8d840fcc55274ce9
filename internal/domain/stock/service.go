// Package stock reads stock and catalog data from branch ERP databases
// through the cache. Branch schemas are external and unindexed, so every
// query here is shaped to be cheap on the branch side: no joins against
// the stock table, batched IN clauses, and aggressive caching.
package stock

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"conteo/internal/branch"
	"conteo/internal/core/apperror"
	"conteo/internal/infrastructure/cache"
	"conteo/pkg/logger"
)

// chunkSize bounds IN-clause parameter counts against branch databases.
const chunkSize = 250

// BranchQuerier is the slice of the branch registry the stock layer needs.
type BranchQuerier interface {
	ExecuteQuery(ctx context.Context, branchID int64, query string, args ...any) ([]branch.RowMap, error)
	BranchIDs() []int64
}

// Item is a catalog entry, optionally carrying current stock.
type Item struct {
	Code        string          `json:"code"`
	Description string          `json:"description"`
	Unit        string          `json:"unit"`
	Line        string          `json:"line"`
	Stock       decimal.Decimal `json:"stock"`
}

// BranchStock is one branch's answer in a cross-branch comparison.
type BranchStock struct {
	BranchID int64           `json:"branch_id"`
	Stock    decimal.Decimal `json:"stock"`
	// Degraded marks a branch that could not be queried; its zero is a
	// placeholder, not a measurement, and was not cached.
	Degraded bool `json:"degraded"`
}

// SearchFilter narrows catalog searches.
type SearchFilter struct {
	Search string
	Line   string
	Limit  int
}

type Service struct {
	branches BranchQuerier
	cache    *cache.Cache
	log      *logger.Logger
}

func NewService(branches BranchQuerier, c *cache.Cache, log *logger.Logger) *Service {
	return &Service{
		branches: branches,
		cache:    c,
		log:      log.WithComponent("stock"),
	}
}

// GetStock returns the current stock of one item at one branch warehouse.
// Absence is a valid business state: a missing row, a missing stock table
// or an unreachable branch all yield zero, never an error. Only the
// missing-row zero is cached; degraded zeros must not mask recovery.
func (s *Service) GetStock(ctx context.Context, branchID int64, warehouse int, itemCode string) (decimal.Decimal, error) {
	key := cache.StockKey(branchID, itemCode)
	if v, ok := s.cache.Get(key); ok {
		if d, ok := v.(decimal.Decimal); ok {
			return d, nil
		}
	}

	rows, err := s.branches.ExecuteQuery(ctx, branchID,
		"SELECT existencia FROM existencias WHERE codigo = ? AND almacen = ?",
		itemCode, warehouse,
	)
	if err != nil {
		if branch.IsMissingTable(err) || branch.IsUnavailable(err) {
			s.log.WithBranch(branchID).Warnw("stock query degraded to zero", "item", itemCode, "error", err)
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}

	qty := decimal.Zero
	if len(rows) > 0 {
		qty = rowDecimal(rows[0], "existencia")
	}
	s.cache.Set(key, qty)
	return qty, nil
}

// GetBatchStock returns stock for many items in as few branch round trips
// as possible. Cached items are served from cache; the rest go out in
// chunked IN queries. Items the branch does not report are zero and cached
// as zero so dead codes stop hitting the branch.
//
// Unlike GetStock, an unreachable branch or missing stock table is an
// error here, never a silent zero: batch readers overwrite stored stock
// with the result, and a fabricated zero would be indistinguishable from
// a measurement. Callers that can live with zeros opt in explicitly via
// apperror.IsBranchUnavailable.
func (s *Service) GetBatchStock(ctx context.Context, branchID int64, warehouse int, itemCodes []string) (map[string]decimal.Decimal, error) {
	result := make(map[string]decimal.Decimal, len(itemCodes))
	if len(itemCodes) == 0 {
		return result, nil
	}

	keys := make([]string, len(itemCodes))
	for i, code := range itemCodes {
		keys[i] = cache.StockKey(branchID, code)
	}
	cached := s.cache.GetMany(keys)

	var uncached []string
	for i, code := range itemCodes {
		if v, ok := cached[keys[i]]; ok {
			if d, ok := v.(decimal.Decimal); ok {
				result[code] = d
				continue
			}
		}
		uncached = append(uncached, code)
	}
	if len(uncached) == 0 {
		return result, nil
	}

	fetched := make(map[string]decimal.Decimal, len(uncached))
	for _, chunk := range chunks(uncached, chunkSize) {
		query := fmt.Sprintf(
			"SELECT codigo, existencia FROM existencias WHERE almacen = ? AND codigo IN (%s)",
			placeholders(len(chunk)),
		)
		args := make([]any, 0, len(chunk)+1)
		args = append(args, warehouse)
		for _, code := range chunk {
			args = append(args, code)
		}

		rows, err := s.branches.ExecuteQuery(ctx, branchID, query, args...)
		if err != nil {
			if branch.IsMissingTable(err) || branch.IsUnavailable(err) {
				return nil, apperror.NewBranchUnavailable(branchID, err)
			}
			return nil, err
		}
		for _, row := range rows {
			fetched[rowString(row, "codigo")] = rowDecimal(row, "existencia")
		}
	}

	toCache := make(map[string]any, len(uncached))
	for _, code := range uncached {
		qty, ok := fetched[code]
		if !ok {
			qty = decimal.Zero
		}
		result[code] = qty
		toCache[cache.StockKey(branchID, code)] = qty
	}
	s.cache.SetMany(toCache)

	return result, nil
}

// GetStockAllBranches compares one item's stock across every configured
// branch, connected or not. Each branch is queried independently through
// GetStock, so degraded branches report zero without being cached and
// without aborting the rest.
func (s *Service) GetStockAllBranches(ctx context.Context, warehouse int, itemCode string) []BranchStock {
	ids := s.branches.BranchIDs()
	out := make([]BranchStock, len(ids))

	var wg sync.WaitGroup
	for i, branchID := range ids {
		wg.Add(1)
		go func(i int, branchID int64) {
			defer wg.Done()
			qty, err := s.GetStock(ctx, branchID, warehouse, itemCode)
			if err != nil {
				qty = decimal.Zero
			}
			// A successful read always caches the result; an uncached zero
			// is the degraded placeholder.
			_, cached := s.cache.Get(cache.StockKey(branchID, itemCode))
			out[i] = BranchStock{BranchID: branchID, Stock: qty, Degraded: !cached}
		}(i, branchID)
	}
	wg.Wait()
	return out
}

// SearchItems runs a catalog search on one branch and merges stock into the
// hits. The catalog is queried first and stock second, for exactly the
// returned codes; the stock table is never joined on the branch side.
func (s *Service) SearchItems(ctx context.Context, branchID int64, warehouse int, f SearchFilter) ([]Item, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}

	key := cache.BranchItemsKey(branchID, map[string]string{
		"search": f.Search,
		"line":   f.Line,
		"limit":  fmt.Sprintf("%d", f.Limit),
	})
	if v, ok := s.cache.Get(key); ok {
		if items, ok := v.([]Item); ok {
			return items, nil
		}
	}

	query := "SELECT codigo, descripcion, unidad, linea FROM productos WHERE 1=1"
	var args []any
	if f.Search != "" {
		query += " AND (codigo LIKE ? OR descripcion LIKE ?)"
		like := "%" + f.Search + "%"
		args = append(args, like, like)
	}
	if f.Line != "" {
		query += " AND linea = ?"
		args = append(args, f.Line)
	}
	query += fmt.Sprintf(" ORDER BY codigo LIMIT %d", f.Limit)

	rows, err := s.branches.ExecuteQuery(ctx, branchID, query, args...)
	if err != nil {
		if branch.IsMissingTable(err) || branch.IsUnavailable(err) {
			return []Item{}, nil
		}
		return nil, err
	}

	items := make([]Item, 0, len(rows))
	codes := make([]string, 0, len(rows))
	for _, row := range rows {
		items = append(items, Item{
			Code:        rowString(row, "codigo"),
			Description: rowString(row, "descripcion"),
			Unit:        rowString(row, "unidad"),
			Line:        rowString(row, "linea"),
		})
		codes = append(codes, rowString(row, "codigo"))
	}

	stocks, err := s.GetBatchStock(ctx, branchID, warehouse, codes)
	if err != nil {
		if !apperror.IsBranchUnavailable(err) {
			return nil, err
		}
		// The stock leg died between the two queries. The hits are still
		// useful with zero stock, but the result must not be cached or the
		// zeros would outlive the outage.
		s.log.WithBranch(branchID).Warnw("search stock degraded to zero", "items", len(items), "error", err)
		stocks = nil
	}
	for i := range items {
		items[i].Stock = stocks[items[i].Code]
	}

	if stocks != nil {
		s.cache.Set(key, items)
	}
	return items, nil
}

// GetItemInfo returns the branch-independent catalog record for one item,
// or a not-found error.
func (s *Service) GetItemInfo(ctx context.Context, branchID int64, itemCode string) (*Item, error) {
	key := cache.ItemKey(itemCode)
	if v, ok := s.cache.Get(key); ok {
		if item, ok := v.(*Item); ok {
			return item, nil
		}
	}

	rows, err := s.branches.ExecuteQuery(ctx, branchID,
		"SELECT codigo, descripcion, unidad, linea FROM productos WHERE codigo = ?",
		itemCode,
	)
	if err != nil {
		if branch.IsMissingTable(err) || branch.IsUnavailable(err) {
			return nil, apperror.NewBranchUnavailable(branchID, err)
		}
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperror.NewNotFound("item", itemCode)
	}

	item := &Item{
		Code:        rowString(rows[0], "codigo"),
		Description: rowString(rows[0], "descripcion"),
		Unit:        rowString(rows[0], "unidad"),
		Line:        rowString(rows[0], "linea"),
	}
	s.cache.Set(key, item)
	return item, nil
}

// GetLines lists the distinct catalog lines on one branch.
func (s *Service) GetLines(ctx context.Context, branchID int64) ([]string, error) {
	key := cache.BranchItemsKey(branchID, map[string]string{"view": "lines"})
	if v, ok := s.cache.Get(key); ok {
		if lines, ok := v.([]string); ok {
			return lines, nil
		}
	}

	rows, err := s.branches.ExecuteQuery(ctx, branchID,
		"SELECT DISTINCT linea FROM productos WHERE linea IS NOT NULL AND linea <> '' ORDER BY linea",
	)
	if err != nil {
		if branch.IsMissingTable(err) || branch.IsUnavailable(err) {
			return []string{}, nil
		}
		return nil, err
	}

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, rowString(row, "linea"))
	}
	s.cache.Set(key, lines)
	return lines, nil
}

// GetItemCodes lists every item code on one branch, optionally filtered by
// line prefix.
func (s *Service) GetItemCodes(ctx context.Context, branchID int64, line string) ([]string, error) {
	key := cache.BranchItemsKey(branchID, map[string]string{"view": "codes", "line": line})
	if v, ok := s.cache.Get(key); ok {
		if codes, ok := v.([]string); ok {
			return codes, nil
		}
	}

	query := "SELECT codigo FROM productos"
	var args []any
	if line != "" {
		query += " WHERE linea = ?"
		args = append(args, line)
	}
	query += " ORDER BY codigo"

	rows, err := s.branches.ExecuteQuery(ctx, branchID, query, args...)
	if err != nil {
		if branch.IsMissingTable(err) || branch.IsUnavailable(err) {
			return []string{}, nil
		}
		return nil, err
	}

	codes := make([]string, 0, len(rows))
	for _, row := range rows {
		codes = append(codes, rowString(row, "codigo"))
	}
	s.cache.Set(key, codes)
	return codes, nil
}

// GetCatalogEntries resolves catalog metadata for exactly the given codes,
// chunked. Unlike the stock paths this cannot degrade: "we don't know if
// this item exists" must surface as an error, not as absent.
func (s *Service) GetCatalogEntries(ctx context.Context, branchID int64, itemCodes []string) (map[string]Item, error) {
	entries := make(map[string]Item, len(itemCodes))
	for _, chunk := range chunks(itemCodes, chunkSize) {
		query := fmt.Sprintf(
			"SELECT codigo, descripcion, unidad, linea FROM productos WHERE codigo IN (%s)",
			placeholders(len(chunk)),
		)
		args := make([]any, len(chunk))
		for i, code := range chunk {
			args[i] = code
		}

		rows, err := s.branches.ExecuteQuery(ctx, branchID, query, args...)
		if err != nil {
			if branch.IsUnavailable(err) || branch.IsMissingTable(err) {
				return nil, apperror.NewBranchUnavailable(branchID, err)
			}
			return nil, err
		}
		for _, row := range rows {
			code := rowString(row, "codigo")
			entries[code] = Item{
				Code:        code,
				Description: rowString(row, "descripcion"),
				Unit:        rowString(row, "unidad"),
				Line:        rowString(row, "linea"),
			}
		}
	}
	return entries, nil
}

// ValidateItemCodes partitions codes into those present in the branch
// catalog and those unknown.
func (s *Service) ValidateItemCodes(ctx context.Context, branchID int64, itemCodes []string) (valid, invalid []string, err error) {
	entries, err := s.GetCatalogEntries(ctx, branchID, itemCodes)
	if err != nil {
		return nil, nil, err
	}
	for _, code := range itemCodes {
		if _, ok := entries[code]; ok {
			valid = append(valid, code)
		} else {
			invalid = append(invalid, code)
		}
	}
	return valid, invalid, nil
}

// InvalidateCache drops one item's stock entry, or the entire branch cache
// when itemCode is empty.
func (s *Service) InvalidateCache(branchID int64, itemCode string) int {
	if itemCode != "" {
		s.cache.Delete(cache.StockKey(branchID, itemCode))
		return 1
	}
	return s.cache.InvalidateBranch(branchID)
}

// --- row helpers ---

func rowString(row branch.RowMap, col string) string {
	switch v := row[col].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func rowDecimal(row branch.RowMap, col string) decimal.Decimal {
	s := strings.TrimSpace(rowString(row, col))
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func chunks(items []string, size int) [][]string {
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
