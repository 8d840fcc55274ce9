// Package requests implements the adjustment request workflow: requests
// are generated from a count's discrepant lines and reviewed to resolution.
package requests

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"conteo/internal/core/id"
)

// Status is the request state machine.
//
//	pendiente → en_revision → ajustado | rechazado
type Status string

const (
	StatusPending  Status = "pendiente"
	StatusInReview Status = "en_revision"
	StatusAdjusted Status = "ajustado"
	StatusRejected Status = "rechazado"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInReview, StatusAdjusted, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether the request is resolved.
func (s Status) Terminal() bool {
	return s == StatusAdjusted || s == StatusRejected
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusInReview
	case StatusInReview:
		return to == StatusAdjusted || to == StatusRejected
	}
	return false
}

// Request is one adjustment request, derived from exactly one count
// detail. At most one request exists per detail.
type Request struct {
	ID            id.ID           `db:"id" json:"id"`
	Folio         string          `db:"folio" json:"folio"`
	CountID       id.ID           `db:"count_id" json:"count_id"`
	CountDetailID id.ID           `db:"count_detail_id" json:"count_detail_id"`
	BranchID      int64           `db:"branch_id" json:"branch_id"`
	Warehouse     int             `db:"warehouse" json:"warehouse"`
	ItemCode      string          `db:"item_code" json:"item_code"`
	Description   string          `db:"description" json:"description"`
	SystemStock   decimal.Decimal `db:"system_stock" json:"system_stock"`
	CountedStock  decimal.Decimal `db:"counted_stock" json:"counted_stock"`
	Difference    decimal.Decimal `db:"difference" json:"difference"`
	Status        Status          `db:"status" json:"status"`
	RequestedBy   string          `db:"requested_by" json:"requested_by"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	ReviewedBy    string          `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time      `db:"reviewed_at" json:"reviewed_at,omitempty"`
	Notes         string          `db:"notes" json:"notes"`
}

// Filter narrows request listings.
type Filter struct {
	BranchID int64
	CountID  id.ID
	Status   Status
	Limit    int
	Offset   int
}

// Repository is the local-store persistence contract for requests.
type Repository interface {
	CreateAll(ctx context.Context, reqs []Request) error
	GetByID(ctx context.Context, requestID id.ID) (*Request, error)
	List(ctx context.Context, f Filter) ([]Request, error)

	// ExistingDetailIDs returns the subset of detail ids that already have
	// a request, for idempotent generation.
	ExistingDetailIDs(ctx context.Context, detailIDs []id.ID) (map[id.ID]bool, error)

	// UpdateStatusIf performs the conditional transition, stamping reviewer
	// and reviewed_at, and reports whether a row actually moved.
	UpdateStatusIf(ctx context.Context, requestID id.ID, expected, next Status, reviewer, notes string, now time.Time) (bool, error)

	// UpdateNotes updates notes without touching review metadata.
	UpdateNotes(ctx context.Context, requestID id.ID, notes string) error
}
