package counts

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"conteo/internal/core/id"
)

// OpenCountItem identifies an item already covered by an open count, with
// enough detail for the caller to resolve the conflict.
type OpenCountItem struct {
	ItemCode string `json:"item_code"`
	Folio    string `json:"folio"`
	Status   Status `json:"status"`
}

// Filter narrows count listings.
type Filter struct {
	BranchID        int64
	Warehouse       int
	Status          Status
	ResponsibleUser string
	Limit           int
	Offset          int
}

// CaptureUpdate is the full set of columns written when a line is
// captured.
type CaptureUpdate struct {
	DetailID      id.ID
	CountedStock  decimal.Decimal
	Difference    decimal.Decimal
	DifferencePct decimal.Decimal
	CountedBy     string
	Notes         string
	CountedAt     time.Time
}

// Repository is the local-store persistence contract for counts. All
// methods participate in a transaction when one is carried in ctx.
type Repository interface {
	CreateCount(ctx context.Context, c *Count) error
	CreateDetails(ctx context.Context, details []CountDetail) error
	GetByID(ctx context.Context, countID id.ID) (*Count, error)
	List(ctx context.Context, f Filter) ([]Count, error)
	ListDetails(ctx context.Context, countID id.ID) ([]CountDetail, error)
	GetDetail(ctx context.Context, countID, detailID id.ID) (*CountDetail, error)

	// FindOpenCountItems returns, for each given item code, any open count
	// covering it on the same branch and warehouse. Chunked internally.
	FindOpenCountItems(ctx context.Context, branchID int64, warehouse int, itemCodes []string) ([]OpenCountItem, error)

	// FindCountedInRange returns the subset of item codes that were counted
	// on the branch and warehouse within [from, to].
	FindCountedInRange(ctx context.Context, branchID int64, warehouse int, itemCodes []string, from, to time.Time) ([]string, error)

	// UpdateStatusIf performs the conditional transition
	// UPDATE ... SET status=next WHERE id=$1 AND status=expected
	// stamping the timestamp column matching next if still null, and
	// reports whether a row actually moved.
	UpdateStatusIf(ctx context.Context, countID id.ID, expected, next Status, now time.Time) (bool, error)

	// UpdateAssignment changes the responsible user, stamping assigned_at
	// on first assignment and last_reassigned_at afterwards.
	UpdateAssignment(ctx context.Context, countID id.ID, userID string, firstAssignment bool, now time.Time) error

	// AppendNote appends a line to the count's notes.
	AppendNote(ctx context.Context, countID id.ID, note string) error

	// UpdateDetailCapture writes one captured line.
	UpdateDetailCapture(ctx context.Context, u CaptureUpdate) error

	// CountUncaptured returns how many lines of the count have no counted
	// stock yet.
	CountUncaptured(ctx context.Context, countID id.ID) (int, error)

	// UpdateDetailsSystemStock overwrites system_stock per item code for
	// every line of the count, recomputing stored differences for lines
	// already captured.
	UpdateDetailsSystemStock(ctx context.Context, countID id.ID, stocks map[string]decimal.Decimal) error

	// HasRequests reports whether any adjustment request references the
	// count.
	HasRequests(ctx context.Context, countID id.ID) (bool, error)

	// Delete removes the count and its details.
	Delete(ctx context.Context, countID id.ID) error
}
