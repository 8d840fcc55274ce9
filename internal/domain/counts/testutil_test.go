package counts

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"conteo/internal/branch"
	"conteo/internal/core/apperror"
	"conteo/internal/core/id"
	"conteo/internal/domain"
	"conteo/internal/domain/specialline"
	"conteo/internal/domain/stock"
)

// memRepo is an in-memory Repository for engine tests.
type memRepo struct {
	mu          sync.Mutex
	counts      map[id.ID]*Count
	details     map[id.ID][]*CountDetail
	hasRequests map[id.ID]bool
}

func newMemRepo() *memRepo {
	return &memRepo{
		counts:      make(map[id.ID]*Count),
		details:     make(map[id.ID][]*CountDetail),
		hasRequests: make(map[id.ID]bool),
	}
}

func (r *memRepo) CreateCount(_ context.Context, c *Count) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.counts[c.ID] = &cp
	return nil
}

func (r *memRepo) CreateDetails(_ context.Context, details []CountDetail) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range details {
		cp := d
		r.details[d.CountID] = append(r.details[d.CountID], &cp)
	}
	return nil
}

func (r *memRepo) GetByID(_ context.Context, countID id.ID) (*Count, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counts[countID]
	if !ok {
		return nil, apperror.NewNotFound("count", countID.String())
	}
	cp := *c
	return &cp, nil
}

func (r *memRepo) List(_ context.Context, f Filter) ([]Count, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Count
	for _, c := range r.counts {
		if f.BranchID != 0 && c.BranchID != f.BranchID {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (r *memRepo) ListDetails(_ context.Context, countID id.ID) ([]CountDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CountDetail
	for _, d := range r.details[countID] {
		out = append(out, *d)
	}
	return out, nil
}

func (r *memRepo) GetDetail(_ context.Context, countID, detailID id.ID) (*CountDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.details[countID] {
		if d.ID == detailID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, apperror.NewNotFound("count_detail", detailID.String())
}

func (r *memRepo) FindOpenCountItems(_ context.Context, branchID int64, warehouse int, itemCodes []string) ([]OpenCountItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wanted := make(map[string]bool, len(itemCodes))
	for _, c := range itemCodes {
		wanted[c] = true
	}
	var out []OpenCountItem
	for _, c := range r.counts {
		if c.BranchID != branchID || c.Warehouse != warehouse {
			continue
		}
		open := false
		for _, st := range OpenStatuses() {
			if c.Status == st {
				open = true
				break
			}
		}
		if !open {
			continue
		}
		for _, d := range r.details[c.ID] {
			if wanted[d.ItemCode] {
				out = append(out, OpenCountItem{ItemCode: d.ItemCode, Folio: c.Folio, Status: c.Status})
			}
		}
	}
	return out, nil
}

func (r *memRepo) FindCountedInRange(_ context.Context, branchID int64, warehouse int, itemCodes []string, from, to time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wanted := make(map[string]bool, len(itemCodes))
	for _, c := range itemCodes {
		wanted[c] = true
	}
	var out []string
	for _, c := range r.counts {
		if c.BranchID != branchID || c.Warehouse != warehouse {
			continue
		}
		for _, d := range r.details[c.ID] {
			if !wanted[d.ItemCode] || d.CountedAt == nil {
				continue
			}
			if d.CountedAt.Before(from) || d.CountedAt.After(to) {
				continue
			}
			out = append(out, d.ItemCode)
		}
	}
	return out, nil
}

func (r *memRepo) UpdateStatusIf(_ context.Context, countID id.ID, expected, next Status, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counts[countID]
	if !ok || c.Status != expected {
		return false, nil
	}
	c.Status = next
	at := now
	switch next {
	case StatusCounting:
		if c.StartedAt == nil {
			c.StartedAt = &at
		}
	case StatusCounted:
		if c.FinishedAt == nil {
			c.FinishedAt = &at
		}
	case StatusClosed:
		if c.FinishedAt == nil {
			c.FinishedAt = &at
		}
		if c.ClosedAt == nil {
			c.ClosedAt = &at
		}
	}
	return true, nil
}

func (r *memRepo) UpdateAssignment(_ context.Context, countID id.ID, userID string, first bool, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counts[countID]
	if !ok {
		return apperror.NewNotFound("count", countID.String())
	}
	c.ResponsibleUser = userID
	at := now
	if first {
		c.AssignedAt = &at
	} else {
		c.LastReassignedAt = &at
	}
	return nil
}

func (r *memRepo) AppendNote(_ context.Context, countID id.ID, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counts[countID]
	if !ok {
		return apperror.NewNotFound("count", countID.String())
	}
	if c.Notes != "" {
		c.Notes += "\n"
	}
	c.Notes += note
	return nil
}

func (r *memRepo) UpdateDetailCapture(_ context.Context, u CaptureUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, list := range r.details {
		for _, d := range list {
			if d.ID == u.DetailID {
				counted := u.CountedStock
				diff := u.Difference
				pct := u.DifferencePct
				at := u.CountedAt
				d.CountedStock = &counted
				d.Difference = &diff
				d.DifferencePct = &pct
				d.CountedBy = u.CountedBy
				d.CountedAt = &at
				if u.Notes != "" {
					d.Notes = u.Notes
				}
				return nil
			}
		}
	}
	return apperror.NewNotFound("count_detail", u.DetailID.String())
}

func (r *memRepo) CountUncaptured(_ context.Context, countID id.ID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.details[countID] {
		if d.CountedStock == nil {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) UpdateDetailsSystemStock(_ context.Context, countID id.ID, stocks map[string]decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.details[countID] {
		qty, ok := stocks[d.ItemCode]
		if !ok {
			continue
		}
		d.SystemStock = qty
		if d.CountedStock != nil {
			diff, pct := ComputeDifference(qty, *d.CountedStock)
			d.Difference = &diff
			d.DifferencePct = &pct
		}
	}
	return nil
}

func (r *memRepo) HasRequests(_ context.Context, countID id.ID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasRequests[countID], nil
}

func (r *memRepo) Delete(_ context.Context, countID id.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.counts, countID)
	delete(r.details, countID)
	return nil
}

// nopTx runs the function directly; the memory repo has no transactions.
type nopTx struct{}

func (nopTx) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// fakeStock scripts the stock layer.
type fakeStock struct {
	mu          sync.Mutex
	catalog     map[string]stock.Item
	stocks      map[string]decimal.Decimal
	catalogErr  error
	stockErr    error
	invalidated []string
}

func (f *fakeStock) GetCatalogEntries(_ context.Context, _ int64, itemCodes []string) (map[string]stock.Item, error) {
	if f.catalogErr != nil {
		return nil, f.catalogErr
	}
	out := make(map[string]stock.Item)
	for _, code := range itemCodes {
		if item, ok := f.catalog[code]; ok {
			out[code] = item
		}
	}
	return out, nil
}

func (f *fakeStock) GetBatchStock(_ context.Context, _ int64, _ int, itemCodes []string) (map[string]decimal.Decimal, error) {
	if f.stockErr != nil {
		return nil, f.stockErr
	}
	out := make(map[string]decimal.Decimal)
	for _, code := range itemCodes {
		out[code] = f.stocks[code]
	}
	return out, nil
}

func (f *fakeStock) InvalidateCache(_ int64, itemCode string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, itemCode)
	return 1
}

// scriptedBranches emulates one branch ERP for tests that drive the real
// stock layer under the engine. Catalog and stock answers come from fixed
// maps; setDown simulates the branch dropping off the network.
type scriptedBranches struct {
	mu     sync.Mutex
	items  map[string]stock.Item
	stocks map[string]string
	down   bool
}

func (b *scriptedBranches) setDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

func (b *scriptedBranches) ExecuteQuery(_ context.Context, _ int64, query string, args ...any) ([]branch.RowMap, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return nil, branch.ErrUnavailable
	}
	var rows []branch.RowMap
	if strings.Contains(query, "FROM productos") {
		for _, a := range args {
			code, _ := a.(string)
			if item, ok := b.items[code]; ok {
				rows = append(rows, branch.RowMap{
					"codigo":      item.Code,
					"descripcion": item.Description,
					"unidad":      item.Unit,
					"linea":       item.Line,
				})
			}
		}
		return rows, nil
	}
	// Stock queries carry the warehouse as the first argument.
	for _, a := range args[1:] {
		code, _ := a.(string)
		if qty, ok := b.stocks[code]; ok {
			rows = append(rows, branch.RowMap{"codigo": code, "existencia": qty})
		}
	}
	return rows, nil
}

func (b *scriptedBranches) BranchIDs() []int64 { return []int64{7} }

// recorder captures best-effort side effects.
type recorder struct {
	mu          sync.Mutex
	assignments []string
	alerts      []alert
	events      []domain.Event
	audits      []domain.AuditEntry
}

type alert struct {
	recipients []string
	subject    string
	body       string
}

func (r *recorder) NotifyAssignment(_ context.Context, userID, _, folio string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments = append(r.assignments, userID+":"+folio)
}

func (r *recorder) NotifyRequestCreated(_ context.Context, _, _, _ string) {}

func (r *recorder) NotifyLineAlert(_ context.Context, recipients []string, subject, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert{recipients: recipients, subject: subject, body: body})
}

func (r *recorder) Publish(_ context.Context, e domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Record(_ context.Context, e domain.AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, e)
}

func (r *recorder) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// fakeLines serves a fixed special-line set.
type fakeLines struct {
	lines []specialline.SpecialLine
	err   error
}

func (f *fakeLines) ListActive(context.Context) ([]specialline.SpecialLine, error) {
	return f.lines, f.err
}
func (f *fakeLines) GetByID(context.Context, id.ID) (*specialline.SpecialLine, error) {
	return nil, apperror.NewNotFound("special_line", "")
}
func (f *fakeLines) Create(context.Context, *specialline.SpecialLine) error { return nil }
func (f *fakeLines) Update(context.Context, *specialline.SpecialLine) error { return nil }
func (f *fakeLines) Delete(context.Context, id.ID) error                    { return nil }

// fakeRequests counts CreateFromCount invocations.
type fakeRequests struct {
	mu    sync.Mutex
	calls []id.ID
	err   error
}

func (f *fakeRequests) CreateFromCount(_ context.Context, countID id.ID, _ string) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, countID)
	if f.err != nil {
		return 0, 0, f.err
	}
	return 1, 0, nil
}
