package counts

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"conteo/internal/core/apperror"
	"conteo/internal/core/folio"
	"conteo/internal/core/id"
	"conteo/internal/core/tx"
	"conteo/internal/domain"
	"conteo/internal/domain/specialline"
	"conteo/internal/domain/stock"
	"conteo/pkg/logger"
)

// Config bounds the engine's worst cases.
type Config struct {
	// MaxItems caps the item set of one creation request.
	MaxItems int
	// AlertMaxItems caps how many items one special-line alert lists before
	// truncating with a summary.
	AlertMaxItems int
}

func DefaultConfig() Config {
	return Config{MaxItems: 10000, AlertMaxItems: 10}
}

// StockReader is the slice of the stock layer the engine needs.
type StockReader interface {
	GetCatalogEntries(ctx context.Context, branchID int64, itemCodes []string) (map[string]stock.Item, error)
	GetBatchStock(ctx context.Context, branchID int64, warehouse int, itemCodes []string) (map[string]decimal.Decimal, error)
	InvalidateCache(branchID int64, itemCode string) int
}

// RequestCreator generates adjustment requests from a closed count. Wired
// after construction to break the dependency cycle with the requests
// service, which reads count data.
type RequestCreator interface {
	CreateFromCount(ctx context.Context, countID id.ID, requestedBy string) (created, skipped int, err error)
}

// CreateInput is one count-creation request. For inventory counts
// ItemCodes drives the item set; for direct adjustments AdjustmentValues
// does, carrying the captured stock per item.
type CreateInput struct {
	BranchID         int64
	Warehouse        int
	WarehouseName    string
	Type             string
	Classification   Classification
	Priority         string
	ResponsibleUser  string
	TolerancePct     decimal.Decimal
	Notes            string
	ItemCodes        []string
	AdjustmentValues map[string]decimal.Decimal
	// ExcludeFrom/ExcludeTo drop items already counted in the range.
	ExcludeFrom *time.Time
	ExcludeTo   *time.Time
	CreatedBy   string
}

// CreateResult reports what a creation request produced.
type CreateResult struct {
	Counts          []Count  `json:"counts"`
	InvalidItems    []string `json:"invalid_items,omitempty"`
	ExcludedItems   []string `json:"excluded_items,omitempty"`
	RequestFailures []string `json:"request_failures,omitempty"`
}

type Service struct {
	repo     Repository
	stock    StockReader
	folios   folio.Generator
	txm      tx.Manager
	settings domain.Settings
	notifier domain.Notifier
	audit    domain.Audit
	events   domain.Events
	lines    specialline.Repository
	cfg      Config
	log      *logger.Logger

	requests RequestCreator
}

func NewService(
	repo Repository,
	stockReader StockReader,
	folios folio.Generator,
	txm tx.Manager,
	settings domain.Settings,
	notifier domain.Notifier,
	audit domain.Audit,
	events domain.Events,
	lines specialline.Repository,
	cfg Config,
	log *logger.Logger,
) *Service {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultConfig().MaxItems
	}
	if cfg.AlertMaxItems <= 0 {
		cfg.AlertMaxItems = DefaultConfig().AlertMaxItems
	}
	return &Service{
		repo:     repo,
		stock:    stockReader,
		folios:   folios,
		txm:      txm,
		settings: settings,
		notifier: notifier,
		audit:    audit,
		events:   events,
		lines:    lines,
		cfg:      cfg,
		log:      log.WithComponent("counts"),
	}
}

// SetRequestCreator wires the adjustment-request generator. Must be called
// before any direct-adjustment count is created.
func (s *Service) SetRequestCreator(rc RequestCreator) {
	s.requests = rc
}

// Get returns one count.
func (s *Service) Get(ctx context.Context, countID id.ID) (*Count, error) {
	return s.repo.GetByID(ctx, countID)
}

// List returns counts matching the filter.
func (s *Service) List(ctx context.Context, f Filter) ([]Count, error) {
	return s.repo.List(ctx, f)
}

// Details returns the line items of one count.
func (s *Service) Details(ctx context.Context, countID id.ID) ([]CountDetail, error) {
	if _, err := s.repo.GetByID(ctx, countID); err != nil {
		return nil, err
	}
	return s.repo.ListDetails(ctx, countID)
}

// Create resolves, validates and seeds counts for the requested item set.
// One Count row is created per item, each with a single detail carrying
// the branch's current system stock.
func (s *Service) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	log := s.log.WithContext(ctx).WithBranch(in.BranchID)

	if in.BranchID <= 0 {
		return nil, apperror.NewValidation("branch_id is required")
	}
	if in.Warehouse <= 0 {
		return nil, apperror.NewValidation("warehouse is required")
	}
	if in.Classification == "" {
		in.Classification = ClassificationInventory
	}
	if !in.Classification.Valid() {
		return nil, apperror.NewValidation(fmt.Sprintf("unknown classification %q", in.Classification))
	}
	isAdjustment := in.Classification == ClassificationAdjustment
	if isAdjustment && s.requests == nil {
		return nil, apperror.NewInternal(fmt.Errorf("request creator not wired"))
	}

	itemCodes := s.resolveItemSet(in)
	if len(itemCodes) == 0 {
		return nil, apperror.NewValidation("no item codes supplied")
	}
	if len(itemCodes) > s.cfg.MaxItems {
		return nil, apperror.NewItemCap(len(itemCodes), s.cfg.MaxItems)
	}

	// Catalog validation cannot degrade; an unreachable branch is a hard
	// error here.
	catalog, err := s.stock.GetCatalogEntries(ctx, in.BranchID, itemCodes)
	if err != nil {
		return nil, err
	}
	result := &CreateResult{}
	valid := itemCodes[:0]
	for _, code := range itemCodes {
		if _, ok := catalog[code]; ok {
			valid = append(valid, code)
		} else {
			result.InvalidItems = append(result.InvalidItems, code)
		}
	}
	if len(valid) == 0 {
		return nil, apperror.NewValidation("none of the requested items exist in the branch catalog").
			WithDetail("invalid_items", result.InvalidItems)
	}

	// An item may have at most one open count per branch and warehouse.
	// Any conflict rejects the whole batch with per-item detail.
	open, err := s.repo.FindOpenCountItems(ctx, in.BranchID, in.Warehouse, valid)
	if err != nil {
		return nil, err
	}
	if len(open) > 0 {
		conflicts := make([]map[string]any, len(open))
		for i, o := range open {
			conflicts[i] = map[string]any{"item": o.ItemCode, "folio": o.Folio, "status": string(o.Status)}
		}
		return nil, apperror.NewDuplicateOpenCount(conflicts)
	}

	if in.ExcludeFrom != nil && in.ExcludeTo != nil {
		counted, err := s.repo.FindCountedInRange(ctx, in.BranchID, in.Warehouse, valid, *in.ExcludeFrom, *in.ExcludeTo)
		if err != nil {
			return nil, err
		}
		if len(counted) > 0 {
			skip := make(map[string]bool, len(counted))
			for _, code := range counted {
				skip[code] = true
			}
			kept := valid[:0]
			for _, code := range valid {
				if skip[code] {
					result.ExcludedItems = append(result.ExcludedItems, code)
				} else {
					kept = append(kept, code)
				}
			}
			valid = kept
		}
		if len(valid) == 0 {
			return nil, apperror.NewValidation("all requested items were already counted in the given range").
				WithDetail("excluded_items", result.ExcludedItems)
		}
	}

	now := time.Now()
	folios, err := s.folios.NextN(ctx, s.countSeries(ctx), now, len(valid))
	if err != nil {
		return nil, err
	}

	stocks, err := s.stock.GetBatchStock(ctx, in.BranchID, in.Warehouse, valid)
	if err != nil {
		// Adjustments freeze the seeded stock into the final difference, so
		// they cannot start without a reading. Regular counts can seed zero:
		// the start transition re-reads stock before any capture.
		if isAdjustment || !apperror.IsBranchUnavailable(err) {
			return nil, err
		}
		log.Warnw("stock seeding degraded to zero, branch unreachable", "items", len(valid), "error", err)
		stocks = map[string]decimal.Decimal{}
	}

	created := make([]Count, 0, len(valid))
	err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		for i, code := range valid {
			entry := catalog[code]
			systemStock := stocks[code]

			c := Count{
				ID:              id.New(),
				Folio:           folios[i],
				BranchID:        in.BranchID,
				Warehouse:       in.Warehouse,
				WarehouseName:   in.WarehouseName,
				Type:            in.Type,
				Classification:  in.Classification,
				Priority:        in.Priority,
				Status:          StatusPending,
				ResponsibleUser: in.ResponsibleUser,
				TolerancePct:    in.TolerancePct,
				Notes:           in.Notes,
				CreatedBy:       in.CreatedBy,
				CreatedAt:       now,
			}
			if in.ResponsibleUser != "" {
				at := now
				c.AssignedAt = &at
			}

			d := CountDetail{
				ID:            id.New(),
				CountID:       c.ID,
				ItemCode:      code,
				Description:   entry.Description,
				Unit:          entry.Unit,
				Warehouse:     in.Warehouse,
				WarehouseName: in.WarehouseName,
				SystemStock:   systemStock,
			}

			if isAdjustment {
				counted, ok := in.AdjustmentValues[code]
				if !ok {
					return apperror.NewValidation(fmt.Sprintf("missing adjustment value for item %s", code))
				}
				diff, pct := ComputeDifference(systemStock, counted)
				at := now
				d.CountedStock = &counted
				d.Difference = &diff
				d.DifferencePct = &pct
				d.CountedBy = in.CreatedBy
				d.CountedAt = &at
				c.Status = StatusClosed
				c.FinishedAt = &at
				c.ClosedAt = &at
			}

			if err := s.repo.CreateCount(ctx, &c); err != nil {
				return err
			}
			if err := s.repo.CreateDetails(ctx, []CountDetail{d}); err != nil {
				return err
			}
			if err := s.events.Publish(ctx, domain.Event{
				Type:   "count.created",
				Entity: "count",
				ID:     c.ID.String(),
				Payload: map[string]any{
					"folio":     c.Folio,
					"branch_id": c.BranchID,
					"warehouse": c.Warehouse,
					"item_code": code,
					"status":    string(c.Status),
				},
			}); err != nil {
				return err
			}
			created = append(created, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Direct adjustments are born closed, so they take the same post-commit
	// path as a regular close: cache invalidation, special-line escalation
	// and request generation. The counts are already committed; a failure
	// here is reported, never rolled back.
	if isAdjustment {
		for i := range created {
			c := &created[i]
			s.afterClose(ctx, c)
			if _, _, reqErr := s.requests.CreateFromCount(ctx, c.ID, in.CreatedBy); reqErr != nil {
				log.Errorw("adjustment request generation failed", "count_id", c.ID, "folio", c.Folio, "error", reqErr)
				result.RequestFailures = append(result.RequestFailures, c.Folio)
			}
		}
	}

	// Read-after-write view plus best-effort side effects.
	for _, c := range created {
		fresh, err := s.repo.GetByID(ctx, c.ID)
		if err != nil {
			log.Errorw("post-create refetch failed", "count_id", c.ID, "error", err)
			result.Counts = append(result.Counts, c)
			continue
		}
		result.Counts = append(result.Counts, *fresh)

		if in.ResponsibleUser != "" {
			s.notifier.NotifyAssignment(ctx, in.ResponsibleUser, c.ID.String(), c.Folio)
		}
	}

	s.audit.Record(ctx, domain.AuditEntry{
		Entity:   "count",
		EntityID: fmt.Sprintf("%d counts", len(created)),
		Action:   "create",
		UserID:   in.CreatedBy,
		Details:  map[string]any{"branch_id": in.BranchID, "warehouse": in.Warehouse, "items": len(created)},
	})
	log.Infow("counts created",
		"created", len(created),
		"invalid", len(result.InvalidItems),
		"excluded", len(result.ExcludedItems),
	)
	return result, nil
}

// resolveItemSet normalizes the requested item codes: trimmed,
// de-duplicated, case preserved, input order kept.
func (s *Service) resolveItemSet(in CreateInput) []string {
	var raw []string
	if in.Classification == ClassificationAdjustment {
		raw = make([]string, 0, len(in.AdjustmentValues))
		for code := range in.AdjustmentValues {
			raw = append(raw, code)
		}
		sort.Strings(raw)
	} else {
		raw = in.ItemCodes
	}

	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, code := range raw {
		code = strings.TrimSpace(code)
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, code)
	}
	return out
}

// UpdateStatus drives one state-machine transition. The transition is a
// conditional update so two racing callers cannot both win; the loser gets
// a status conflict. Entering contando refreshes system stock from the
// branch inside the same transaction, falling back to stale stock with an
// appended note when the branch cannot be reached.
func (s *Service) UpdateStatus(ctx context.Context, countID id.ID, next Status, userID string) (*Count, error) {
	if !next.Valid() {
		return nil, apperror.NewValidation(fmt.Sprintf("unknown status %q", next))
	}

	c, err := s.repo.GetByID(ctx, countID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(c.Status, next) {
		return nil, apperror.NewInvalidTransition("count", string(c.Status), string(next))
	}

	now := time.Now()
	from := c.Status
	err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		moved, err := s.repo.UpdateStatusIf(ctx, countID, from, next, now)
		if err != nil {
			return err
		}
		if !moved {
			return apperror.NewStatusConflict("count", countID.String(), string(from))
		}

		if next == StatusCounting {
			s.refreshSystemStock(ctx, c)
		}

		return s.events.Publish(ctx, domain.Event{
			Type:   "count.status_changed",
			Entity: "count",
			ID:     countID.String(),
			Payload: map[string]any{
				"folio": c.Folio,
				"from":  string(from),
				"to":    string(next),
				"by":    userID,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if next == StatusClosed {
		s.afterClose(ctx, c)
	}

	s.audit.Record(ctx, domain.AuditEntry{
		Entity:   "count",
		EntityID: countID.String(),
		Action:   "status_change",
		UserID:   userID,
		Details:  map[string]any{"from": string(from), "to": string(next)},
	})

	return s.repo.GetByID(ctx, countID)
}

// refreshSystemStock re-reads every line's system stock from the branch
// and overwrites it. Failure keeps the last-known stock and leaves a note
// on the count; availability wins over freshness here.
func (s *Service) refreshSystemStock(ctx context.Context, c *Count) {
	log := s.log.WithContext(ctx).WithBranch(c.BranchID)

	details, err := s.repo.ListDetails(ctx, c.ID)
	if err != nil {
		log.Errorw("stock refresh: listing details failed", "count_id", c.ID, "error", err)
		s.noteRefreshFailure(ctx, c.ID)
		return
	}

	codes := make([]string, len(details))
	for i, d := range details {
		codes[i] = d.ItemCode
		s.stock.InvalidateCache(c.BranchID, d.ItemCode)
	}

	stocks, err := s.stock.GetBatchStock(ctx, c.BranchID, c.Warehouse, codes)
	if err != nil {
		log.Warnw("stock refresh failed, keeping last known stock", "count_id", c.ID, "error", err)
		s.noteRefreshFailure(ctx, c.ID)
		return
	}

	if err := s.repo.UpdateDetailsSystemStock(ctx, c.ID, stocks); err != nil {
		log.Errorw("stock refresh: persisting failed", "count_id", c.ID, "error", err)
		s.noteRefreshFailure(ctx, c.ID)
	}
}

func (s *Service) noteRefreshFailure(ctx context.Context, countID id.ID) {
	note := fmt.Sprintf("[%s] stock sync with branch failed; counting continues with last known stock",
		time.Now().Format("2006-01-02 15:04"))
	if err := s.repo.AppendNote(ctx, countID, note); err != nil {
		s.log.WithContext(ctx).Errorw("appending sync-failure note failed", "count_id", countID, "error", err)
	}
}

// Reassign changes the responsible user, stamping assigned_at on the first
// assignment and last_reassigned_at afterwards, and notifies the new
// assignee.
func (s *Service) Reassign(ctx context.Context, countID id.ID, userID, reassignedBy string) (*Count, error) {
	if userID == "" {
		return nil, apperror.NewValidation("responsible_user_id is required")
	}

	c, err := s.repo.GetByID(ctx, countID)
	if err != nil {
		return nil, err
	}
	if c.Status.Terminal() {
		return nil, apperror.NewConflict(fmt.Sprintf("count %s is %s and cannot be reassigned", c.Folio, c.Status))
	}

	now := time.Now()
	first := c.AssignedAt == nil
	err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateAssignment(ctx, countID, userID, first, now); err != nil {
			return err
		}
		return s.events.Publish(ctx, domain.Event{
			Type:   "count.reassigned",
			Entity: "count",
			ID:     countID.String(),
			Payload: map[string]any{
				"folio":   c.Folio,
				"user_id": userID,
				"by":      reassignedBy,
				"first":   first,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.notifier.NotifyAssignment(ctx, userID, countID.String(), c.Folio)
	s.audit.Record(ctx, domain.AuditEntry{
		Entity:   "count",
		EntityID: countID.String(),
		Action:   "reassign",
		UserID:   reassignedBy,
		Details:  map[string]any{"to": userID, "first": first},
	})

	return s.repo.GetByID(ctx, countID)
}

// CaptureInput captures one line's counted stock.
type CaptureInput struct {
	CountID      id.ID
	DetailID     id.ID
	CountedStock decimal.Decimal
	CountedBy    string
	Notes        string
}

// Capture writes the counted stock for one line. Capturing the last
// uncaptured line drives the count to cerrado through the regular
// transition path; captures, not explicit status calls, close counts in
// normal operation.
func (s *Service) Capture(ctx context.Context, in CaptureInput) (*CountDetail, bool, error) {
	c, err := s.repo.GetByID(ctx, in.CountID)
	if err != nil {
		return nil, false, err
	}
	if c.Status != StatusCounting {
		return nil, false, apperror.NewConflict(
			fmt.Sprintf("count %s is %s; lines can only be captured while counting", c.Folio, c.Status))
	}

	d, err := s.repo.GetDetail(ctx, in.CountID, in.DetailID)
	if err != nil {
		return nil, false, err
	}
	if d.Captured() {
		return nil, false, apperror.NewConflict(
			fmt.Sprintf("item %s was already captured", d.ItemCode))
	}
	if in.CountedStock.IsNegative() {
		return nil, false, apperror.NewValidation("counted_stock cannot be negative")
	}

	now := time.Now()
	diff, pct := ComputeDifference(d.SystemStock, in.CountedStock)

	autoClosed := false
	err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateDetailCapture(ctx, CaptureUpdate{
			DetailID:      in.DetailID,
			CountedStock:  in.CountedStock,
			Difference:    diff,
			DifferencePct: pct,
			CountedBy:     in.CountedBy,
			Notes:         in.Notes,
			CountedAt:     now,
		}); err != nil {
			return err
		}

		remaining, err := s.repo.CountUncaptured(ctx, in.CountID)
		if err != nil {
			return err
		}
		if remaining > 0 {
			return nil
		}

		moved, err := s.repo.UpdateStatusIf(ctx, in.CountID, StatusCounting, StatusClosed, now)
		if err != nil {
			return err
		}
		if !moved {
			// Someone moved the count mid-capture; the capture itself stands.
			return nil
		}
		autoClosed = true
		return s.events.Publish(ctx, domain.Event{
			Type:   "count.auto_closed",
			Entity: "count",
			ID:     in.CountID.String(),
			Payload: map[string]any{
				"folio":          c.Folio,
				"last_item_code": d.ItemCode,
				"by":             in.CountedBy,
			},
		})
	})
	if err != nil {
		return nil, false, err
	}

	if autoClosed {
		s.afterClose(ctx, c)
	}

	captured, err := s.repo.GetDetail(ctx, in.CountID, in.DetailID)
	if err != nil {
		return nil, autoClosed, err
	}
	return captured, autoClosed, nil
}

// afterClose runs the post-commit side of closing: stock for this branch
// may have changed, and discrepant special-line items are escalated. All
// best-effort.
func (s *Service) afterClose(ctx context.Context, c *Count) {
	s.stock.InvalidateCache(c.BranchID, "")

	details, err := s.repo.ListDetails(ctx, c.ID)
	if err != nil {
		s.log.WithContext(ctx).Errorw("escalation: listing details failed", "count_id", c.ID, "error", err)
		return
	}
	s.escalateSpecialLines(ctx, c, details)
}

// escalateSpecialLines sends one grouped alert per special line whose
// discrepant items exceed the line's tolerance. Grouping bounds the
// notification volume under large-discrepancy scenarios.
func (s *Service) escalateSpecialLines(ctx context.Context, c *Count, details []CountDetail) {
	log := s.log.WithContext(ctx).WithBranch(c.BranchID)

	lines, err := s.lines.ListActive(ctx)
	if err != nil {
		log.Errorw("escalation: loading special lines failed", "error", err)
		return
	}
	if len(lines) == 0 {
		return
	}

	type overflow struct {
		line  specialline.SpecialLine
		items []string
	}
	grouped := make(map[string]*overflow)

	for _, d := range details {
		if !d.Discrepant() || d.DifferencePct == nil {
			continue
		}
		for _, line := range lines {
			if !line.Matches(d.ItemCode) {
				continue
			}
			if d.DifferencePct.Abs().LessThanOrEqual(line.TolerancePct) {
				continue
			}
			g, ok := grouped[line.Prefix]
			if !ok {
				g = &overflow{line: line}
				grouped[line.Prefix] = g
			}
			g.items = append(g.items, fmt.Sprintf("%s (%s%%)", d.ItemCode, d.DifferencePct.StringFixed(1)))
		}
	}

	for _, g := range grouped {
		items := g.items
		if len(items) > s.cfg.AlertMaxItems {
			extra := len(items) - s.cfg.AlertMaxItems
			items = append(items[:s.cfg.AlertMaxItems:s.cfg.AlertMaxItems], fmt.Sprintf("+%d more", extra))
		}
		subject := fmt.Sprintf("Count %s: tolerance exceeded on line %s", c.Folio, g.line.Name)
		body := fmt.Sprintf("Branch %d, warehouse %d. Items over tolerance (%s%%): %s",
			c.BranchID, c.Warehouse, g.line.TolerancePct.StringFixed(1), strings.Join(items, ", "))
		s.notifier.NotifyLineAlert(ctx, g.line.Recipients, subject, body)
		log.Infow("special line alert sent",
			"count_id", c.ID, "line", g.line.Prefix, "items", len(g.items))
	}
}

// AppendNote appends an operator note to the count.
func (s *Service) AppendNote(ctx context.Context, countID id.ID, note, userID string) error {
	note = strings.TrimSpace(note)
	if note == "" {
		return apperror.NewValidation("note is empty")
	}
	if _, err := s.repo.GetByID(ctx, countID); err != nil {
		return err
	}
	if err := s.repo.AppendNote(ctx, countID, note); err != nil {
		return err
	}
	s.audit.Record(ctx, domain.AuditEntry{
		Entity:   "count",
		EntityID: countID.String(),
		Action:   "note",
		UserID:   userID,
	})
	return nil
}

// Delete removes a count and its details. Counts with generated requests
// are kept; deleting them would orphan the adjustment workflow.
func (s *Service) Delete(ctx context.Context, countID id.ID, userID string) error {
	c, err := s.repo.GetByID(ctx, countID)
	if err != nil {
		return err
	}

	has, err := s.repo.HasRequests(ctx, countID)
	if err != nil {
		return err
	}
	if has {
		return apperror.NewBusinessRule(apperror.CodeBusinessRule,
			fmt.Sprintf("count %s has adjustment requests and cannot be deleted", c.Folio))
	}

	err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.repo.Delete(ctx, countID)
	})
	if err != nil {
		return err
	}

	s.audit.Record(ctx, domain.AuditEntry{
		Entity:   "count",
		EntityID: countID.String(),
		Action:   "delete",
		UserID:   userID,
		Details:  map[string]any{"folio": c.Folio},
	})
	return nil
}

func (s *Service) countSeries(ctx context.Context) folio.Config {
	cfg := folio.DefaultConfig(s.settings.GetSettingValue(ctx, "folio.count_prefix", "CNT"))
	if w, err := strconv.Atoi(s.settings.GetSettingValue(ctx, "folio.pad_width", "4")); err == nil && w > 0 {
		cfg.PadWidth = w
	}
	return cfg
}
