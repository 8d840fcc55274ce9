package requests

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conteo/internal/core/apperror"
	"conteo/internal/core/folio"
	"conteo/internal/core/id"
	"conteo/internal/domain"
	"conteo/internal/domain/counts"
	"conteo/pkg/logger"
)

// memRepo is an in-memory Repository.
type memRepo struct {
	mu   sync.Mutex
	reqs map[id.ID]*Request
}

func newMemRepo() *memRepo {
	return &memRepo{reqs: make(map[id.ID]*Request)}
}

func (r *memRepo) CreateAll(_ context.Context, reqs []Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range reqs {
		cp := req
		r.reqs[req.ID] = &cp
	}
	return nil
}

func (r *memRepo) GetByID(_ context.Context, requestID id.ID) (*Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.reqs[requestID]
	if !ok {
		return nil, apperror.NewNotFound("request", requestID.String())
	}
	cp := *req
	return &cp, nil
}

func (r *memRepo) List(_ context.Context, f Filter) ([]Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Request
	for _, req := range r.reqs {
		if !id.IsNil(f.CountID) && req.CountID != f.CountID {
			continue
		}
		if f.Status != "" && req.Status != f.Status {
			continue
		}
		out = append(out, *req)
	}
	return out, nil
}

func (r *memRepo) ExistingDetailIDs(_ context.Context, detailIDs []id.ID) (map[id.ID]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[id.ID]bool)
	for _, did := range detailIDs {
		for _, req := range r.reqs {
			if req.CountDetailID == did {
				out[did] = true
			}
		}
	}
	return out, nil
}

func (r *memRepo) UpdateStatusIf(_ context.Context, requestID id.ID, expected, next Status, reviewer, notes string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.reqs[requestID]
	if !ok || req.Status != expected {
		return false, nil
	}
	req.Status = next
	req.ReviewedBy = reviewer
	at := now
	req.ReviewedAt = &at
	if notes != "" {
		req.Notes = notes
	}
	return true, nil
}

func (r *memRepo) UpdateNotes(_ context.Context, requestID id.ID, notes string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.reqs[requestID]
	if !ok {
		return apperror.NewNotFound("request", requestID.String())
	}
	req.Notes = notes
	return nil
}

// fakeSource serves one count and its details.
type fakeSource struct {
	count   *counts.Count
	details []counts.CountDetail
}

func (f *fakeSource) Get(_ context.Context, countID id.ID) (*counts.Count, error) {
	if f.count == nil || f.count.ID != countID {
		return nil, apperror.NewNotFound("count", countID.String())
	}
	cp := *f.count
	return &cp, nil
}

func (f *fakeSource) Details(context.Context, id.ID) ([]counts.CountDetail, error) {
	return f.details, nil
}

type nopTx struct{}

func (nopTx) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type recorder struct {
	mu       sync.Mutex
	notified []string
	events   []domain.Event
}

func (r *recorder) NotifyAssignment(context.Context, string, string, string) {}
func (r *recorder) NotifyRequestCreated(_ context.Context, _, folio, itemCode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notified = append(r.notified, folio+":"+itemCode)
}
func (r *recorder) NotifyLineAlert(context.Context, []string, string, string) {}

func (r *recorder) Publish(_ context.Context, e domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}
func (r *recorder) Record(context.Context, domain.AuditEntry) {}

func closedCount() *counts.Count {
	now := time.Now()
	return &counts.Count{
		ID:       id.New(),
		Folio:    "CNT-202409-0001",
		BranchID: 7, Warehouse: 1,
		Status:   counts.StatusClosed,
		ClosedAt: &now,
	}
}

func detail(code string, system, counted int64) counts.CountDetail {
	sys := decimal.NewFromInt(system)
	cnt := decimal.NewFromInt(counted)
	diff, pct := counts.ComputeDifference(sys, cnt)
	now := time.Now()
	return counts.CountDetail{
		ID: id.New(), ItemCode: code, Description: code + " desc",
		SystemStock: sys, CountedStock: &cnt,
		Difference: &diff, DifferencePct: &pct,
		CountedBy: "user-1", CountedAt: &now,
	}
}

func newTestService(t *testing.T, source *fakeSource) (*Service, *memRepo, *recorder) {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)
	repo := newMemRepo()
	rec := &recorder{}
	svc := NewService(repo, source, folio.NewMockGenerator(), nopTx{},
		domain.StaticSettings{}, rec, rec, rec, log)
	return svc, repo, rec
}

func TestCreateFromCountGeneratesOnePerDiscrepancy(t *testing.T) {
	c := closedCount()
	source := &fakeSource{count: c, details: []counts.CountDetail{
		detail("A100", 10, 10), // no difference
		detail("A200", 0, 5),   // +5
		detail("L300", 4, 1),   // -3
	}}
	svc, repo, rec := newTestService(t, source)

	created, skipped, err := svc.CreateFromCount(context.Background(), c.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.Equal(t, 0, skipped)

	reqs, err := repo.List(context.Background(), Filter{CountID: c.ID})
	require.NoError(t, err)
	require.Len(t, reqs, 2)

	byItem := map[string]Request{}
	for _, r := range reqs {
		byItem[r.ItemCode] = r
		assert.Equal(t, StatusPending, r.Status)
		assert.True(t, len(r.Folio) > 0 && r.Folio[:4] == "SOL-")
	}
	assert.True(t, byItem["A200"].Difference.Equal(decimal.NewFromInt(5)))
	assert.True(t, byItem["L300"].Difference.Equal(decimal.NewFromInt(-3)))

	assert.Len(t, rec.notified, 2)
}

func TestCreateFromCountIsIdempotent(t *testing.T) {
	c := closedCount()
	source := &fakeSource{count: c, details: []counts.CountDetail{detail("A200", 0, 5)}}
	svc, _, _ := newTestService(t, source)

	created, skipped, err := svc.CreateFromCount(context.Background(), c.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Equal(t, 0, skipped)

	created, skipped, err = svc.CreateFromCount(context.Background(), c.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, created, "second invocation creates nothing")
	assert.Equal(t, 1, skipped)
}

func TestCreateFromCountRequiresFinishedCount(t *testing.T) {
	c := closedCount()
	c.Status = counts.StatusCounting
	source := &fakeSource{count: c, details: []counts.CountDetail{detail("A200", 0, 5)}}
	svc, _, _ := newTestService(t, source)

	_, _, err := svc.CreateFromCount(context.Background(), c.ID, "user-1")
	require.Error(t, err)
	assert.True(t, apperror.IsConflict(err))
}

func TestCreateFromCountAcceptsCountedStatus(t *testing.T) {
	c := closedCount()
	c.Status = counts.StatusCounted
	source := &fakeSource{count: c, details: []counts.CountDetail{detail("A200", 0, 5)}}
	svc, _, _ := newTestService(t, source)

	created, _, err := svc.CreateFromCount(context.Background(), c.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, created)
}

func TestCreateFromCountNoDiscrepanciesIsNoop(t *testing.T) {
	c := closedCount()
	source := &fakeSource{count: c, details: []counts.CountDetail{detail("A100", 10, 10)}}
	svc, _, rec := newTestService(t, source)

	created, skipped, err := svc.CreateFromCount(context.Background(), c.ID, "user-1")
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Zero(t, skipped)
	assert.Empty(t, rec.notified)
}

func TestCreateFromCountRejectsOverCap(t *testing.T) {
	c := closedCount()
	source := &fakeSource{count: c}
	for i := 0; i < maxDifferences+1; i++ {
		source.details = append(source.details, detail(folioCode(i), 10, 1))
	}
	svc, _, _ := newTestService(t, source)

	_, _, err := svc.CreateFromCount(context.Background(), c.ID, "user-1")
	require.Error(t, err)
	appErr, _ := apperror.AsAppError(err)
	assert.Equal(t, apperror.CodeItemCap, appErr.Code)
}

func folioCode(i int) string {
	return "ITEM-" + time.Unix(int64(i), 0).UTC().Format("150405") + string(rune('A'+i%26))
}

func TestReviewTransitions(t *testing.T) {
	c := closedCount()
	source := &fakeSource{count: c, details: []counts.CountDetail{detail("A200", 0, 5)}}
	svc, repo, _ := newTestService(t, source)
	_, _, err := svc.CreateFromCount(context.Background(), c.ID, "user-1")
	require.NoError(t, err)
	reqs, _ := repo.List(context.Background(), Filter{})
	rid := reqs[0].ID

	got, err := svc.Review(context.Background(), ReviewInput{RequestID: rid, Status: StatusInReview, UserID: "rev-1"})
	require.NoError(t, err)
	assert.Equal(t, StatusInReview, got.Status)
	assert.Equal(t, "rev-1", got.ReviewedBy)
	assert.NotNil(t, got.ReviewedAt)

	got, err = svc.Review(context.Background(), ReviewInput{RequestID: rid, Status: StatusAdjusted, UserID: "rev-1", Notes: "applied"})
	require.NoError(t, err)
	assert.Equal(t, StatusAdjusted, got.Status)
	assert.Equal(t, "applied", got.Notes)
}

func TestReviewRejectsSkippingReview(t *testing.T) {
	c := closedCount()
	source := &fakeSource{count: c, details: []counts.CountDetail{detail("A200", 0, 5)}}
	svc, repo, _ := newTestService(t, source)
	_, _, err := svc.CreateFromCount(context.Background(), c.ID, "user-1")
	require.NoError(t, err)
	reqs, _ := repo.List(context.Background(), Filter{})

	_, err = svc.Review(context.Background(), ReviewInput{
		RequestID: reqs[0].ID, Status: StatusAdjusted, UserID: "rev-1",
	})
	require.Error(t, err, "pendiente cannot jump straight to ajustado")
	appErr, _ := apperror.AsAppError(err)
	assert.Equal(t, apperror.CodeInvalidTransition, appErr.Code)
}

func TestReviewNotesOnlyDoesNotStampReviewer(t *testing.T) {
	c := closedCount()
	source := &fakeSource{count: c, details: []counts.CountDetail{detail("A200", 0, 5)}}
	svc, repo, _ := newTestService(t, source)
	_, _, err := svc.CreateFromCount(context.Background(), c.ID, "user-1")
	require.NoError(t, err)
	reqs, _ := repo.List(context.Background(), Filter{})

	got, err := svc.Review(context.Background(), ReviewInput{
		RequestID: reqs[0].ID, Notes: "checking with the branch", UserID: "rev-1",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "checking with the branch", got.Notes)
	assert.Empty(t, got.ReviewedBy, "a notes-only update is not a review")
	assert.Nil(t, got.ReviewedAt)
}

func TestRequestStateMachine(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusInReview))
	assert.True(t, CanTransition(StatusInReview, StatusAdjusted))
	assert.True(t, CanTransition(StatusInReview, StatusRejected))

	assert.False(t, CanTransition(StatusPending, StatusAdjusted))
	assert.False(t, CanTransition(StatusPending, StatusRejected))
	assert.False(t, CanTransition(StatusAdjusted, StatusInReview))
	assert.False(t, CanTransition(StatusRejected, StatusPending))
}
