// Package counts is the count lifecycle engine: creation and seeding of
// counts from branch catalog data, the status state machine, per-line
// capture with auto-close, and escalation of discrepancies.
package counts

import (
	"time"

	"github.com/shopspring/decimal"

	"conteo/internal/core/id"
)

// Status is the count state machine.
//
//	pendiente → contando → contado → cerrado
//
// cancelado is reachable from every non-terminal state.
type Status string

const (
	StatusPending   Status = "pendiente"
	StatusCounting  Status = "contando"
	StatusCounted   Status = "contado"
	StatusClosed    Status = "cerrado"
	StatusCancelled Status = "cancelado"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCounting, StatusCounted, StatusClosed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to Status) bool {
	if to == StatusCancelled {
		return !from.Terminal()
	}
	switch from {
	case StatusPending:
		return to == StatusCounting
	case StatusCounting:
		return to == StatusCounted || to == StatusClosed
	case StatusCounted:
		return to == StatusClosed
	}
	return false
}

// OpenStatuses are the statuses under which an item is considered to have
// an active count for duplicate prevention.
func OpenStatuses() []Status {
	return []Status{StatusPending, StatusCounting, StatusCounted}
}

// Classification separates regular inventory counts from direct
// adjustments, which carry their captured values at creation and close
// immediately.
type Classification string

const (
	ClassificationInventory  Classification = "inventario"
	ClassificationAdjustment Classification = "ajuste"
)

func (c Classification) Valid() bool {
	return c == ClassificationInventory || c == ClassificationAdjustment
}

// Count is one unit of counting work. Current seeding policy creates one
// Count per item, each with a single detail row; duplicate detection and
// folio numbering therefore operate per item.
type Count struct {
	ID               id.ID           `db:"id" json:"id"`
	Folio            string          `db:"folio" json:"folio"`
	BranchID         int64           `db:"branch_id" json:"branch_id"`
	Warehouse        int             `db:"warehouse" json:"warehouse"`
	WarehouseName    string          `db:"warehouse_name" json:"warehouse_name"`
	Type             string          `db:"type" json:"type"`
	Classification   Classification  `db:"classification" json:"classification"`
	Priority         string          `db:"priority" json:"priority"`
	Status           Status          `db:"status" json:"status"`
	ResponsibleUser  string          `db:"responsible_user_id" json:"responsible_user_id,omitempty"`
	TolerancePct     decimal.Decimal `db:"tolerance_pct" json:"tolerance_pct"`
	Notes            string          `db:"notes" json:"notes"`
	CreatedBy        string          `db:"created_by" json:"created_by"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	AssignedAt       *time.Time      `db:"assigned_at" json:"assigned_at,omitempty"`
	LastReassignedAt *time.Time      `db:"last_reassigned_at" json:"last_reassigned_at,omitempty"`
	StartedAt        *time.Time      `db:"started_at" json:"started_at,omitempty"`
	FinishedAt       *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
	ClosedAt         *time.Time      `db:"closed_at" json:"closed_at,omitempty"`
}

// CountDetail is one line item: system stock versus captured stock.
type CountDetail struct {
	ID            id.ID            `db:"id" json:"id"`
	CountID       id.ID            `db:"count_id" json:"count_id"`
	ItemCode      string           `db:"item_code" json:"item_code"`
	Description   string           `db:"description" json:"description"`
	Unit          string           `db:"unit" json:"unit"`
	Warehouse     int              `db:"warehouse" json:"warehouse"`
	WarehouseName string           `db:"warehouse_name" json:"warehouse_name"`
	SystemStock   decimal.Decimal  `db:"system_stock" json:"system_stock"`
	CountedStock  *decimal.Decimal `db:"counted_stock" json:"counted_stock,omitempty"`
	Difference    *decimal.Decimal `db:"difference" json:"difference,omitempty"`
	DifferencePct *decimal.Decimal `db:"difference_pct" json:"difference_pct,omitempty"`
	CountedBy     string           `db:"counted_by" json:"counted_by,omitempty"`
	CountedAt     *time.Time       `db:"counted_at" json:"counted_at,omitempty"`
	Notes         string           `db:"notes" json:"notes"`
}

// Captured reports whether the line has a counted value.
func (d CountDetail) Captured() bool {
	return d.CountedStock != nil
}

// Discrepant reports whether captured stock differs from system stock.
func (d CountDetail) Discrepant() bool {
	return d.CountedStock != nil && !d.CountedStock.Equal(d.SystemStock)
}

// ComputeDifference returns counted − system and the percentage deviation.
// When system stock is zero, any nonzero difference counts as 100 percent:
// a percentage relative to zero is undefined, and "found stock where the
// system had none" is a full deviation for tolerance purposes.
func ComputeDifference(systemStock, countedStock decimal.Decimal) (diff, pct decimal.Decimal) {
	diff = countedStock.Sub(systemStock)
	if systemStock.IsZero() {
		if diff.IsZero() {
			return diff, decimal.Zero
		}
		return diff, decimal.NewFromInt(100)
	}
	pct = diff.Div(systemStock).Mul(decimal.NewFromInt(100))
	return diff, pct
}
