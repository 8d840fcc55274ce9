package counts

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conteo/internal/branch"
	"conteo/internal/core/apperror"
	"conteo/internal/core/folio"
	"conteo/internal/core/id"
	"conteo/internal/domain"
	"conteo/internal/domain/specialline"
	"conteo/internal/domain/stock"
	"conteo/internal/infrastructure/cache"
	"conteo/pkg/logger"
)

type fixture struct {
	svc      *Service
	repo     *memRepo
	stock    *fakeStock
	rec      *recorder
	lines    *fakeLines
	requests *fakeRequests
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)

	f := &fixture{
		repo: newMemRepo(),
		stock: &fakeStock{
			catalog: map[string]stock.Item{
				"A100": {Code: "A100", Description: "Azucar 1kg", Unit: "PZA", Line: "ABARR"},
				"A200": {Code: "A200", Description: "Arroz 1kg", Unit: "PZA", Line: "ABARR"},
				"L300": {Code: "L300", Description: "Leche 1L", Unit: "PZA", Line: "LACTE"},
			},
			stocks: map[string]decimal.Decimal{
				"A100": decimal.NewFromInt(10),
				"A200": decimal.Zero,
				"L300": decimal.NewFromInt(4),
			},
		},
		rec:      &recorder{},
		lines:    &fakeLines{},
		requests: &fakeRequests{},
	}
	f.svc = NewService(
		f.repo, f.stock, folio.NewMockGenerator(), nopTx{},
		domain.StaticSettings{}, f.rec, f.rec, f.rec, f.lines, cfg, log,
	)
	f.svc.SetRequestCreator(f.requests)
	return f
}

func baseInput(items ...string) CreateInput {
	return CreateInput{
		BranchID:  7,
		Warehouse: 1,
		ItemCodes: items,
		CreatedBy: "user-1",
	}
}

func (f *fixture) create(t *testing.T, in CreateInput) *CreateResult {
	t.Helper()
	res, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	return res
}

func TestCreateSeedsOneCountPerItem(t *testing.T) {
	f := newFixture(t, Config{})

	res := f.create(t, baseInput("A100", "A200"))
	require.Len(t, res.Counts, 2)

	byItem := map[string]Count{}
	for _, c := range res.Counts {
		details, err := f.repo.ListDetails(context.Background(), c.ID)
		require.NoError(t, err)
		require.Len(t, details, 1, "one detail per count")
		byItem[details[0].ItemCode] = c

		assert.Equal(t, StatusPending, c.Status)
		assert.True(t, strings.HasPrefix(c.Folio, "CNT-"))

		if details[0].ItemCode == "A100" {
			assert.True(t, details[0].SystemStock.Equal(decimal.NewFromInt(10)))
		} else {
			assert.True(t, details[0].SystemStock.IsZero())
		}
	}
	require.Len(t, byItem, 2)
	assert.NotEqual(t, byItem["A100"].Folio, byItem["A200"].Folio)

	assert.Equal(t, []string{"count.created", "count.created"}, f.rec.eventTypes())
}

func TestCreateNormalizesItemCodes(t *testing.T) {
	f := newFixture(t, Config{})

	res := f.create(t, baseInput(" A100 ", "A100", "", "A200"))
	assert.Len(t, res.Counts, 2)
}

func TestCreateRejectsOverCap(t *testing.T) {
	f := newFixture(t, Config{MaxItems: 2})

	_, err := f.svc.Create(context.Background(), baseInput("A100", "A200", "L300"))
	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeItemCap, appErr.Code)
}

func TestCreateDropsInvalidItemsButRejectsWhenNoneValid(t *testing.T) {
	f := newFixture(t, Config{})

	res := f.create(t, baseInput("A100", "NOPE"))
	assert.Len(t, res.Counts, 1)
	assert.Equal(t, []string{"NOPE"}, res.InvalidItems)

	_, err := f.svc.Create(context.Background(), baseInput("NOPE", "NADA"))
	require.Error(t, err)
	appErr, _ := apperror.AsAppError(err)
	assert.Equal(t, apperror.CodeValidation, appErr.Code)
}

func TestCreateCatalogFailureIsHard(t *testing.T) {
	f := newFixture(t, Config{})
	f.stock.catalogErr = apperror.NewBranchUnavailable(7, errors.New("refused"))

	_, err := f.svc.Create(context.Background(), baseInput("A100"))
	require.Error(t, err)
	assert.True(t, apperror.IsBranchUnavailable(err))
}

func TestCreateRejectsDuplicateOpenCount(t *testing.T) {
	f := newFixture(t, Config{})
	first := f.create(t, baseInput("A100"))

	_, err := f.svc.Create(context.Background(), baseInput("A100", "A200"))
	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperror.CodeDuplicateOpenCount, appErr.Code)

	conflicts := appErr.Details["conflicts"].([]map[string]any)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "A100", conflicts[0]["item"])
	assert.Equal(t, first.Counts[0].Folio, conflicts[0]["folio"])
	assert.Equal(t, string(StatusPending), conflicts[0]["status"])
}

func TestCreateAllowsSameItemOnOtherWarehouse(t *testing.T) {
	f := newFixture(t, Config{})
	f.create(t, baseInput("A100"))

	in := baseInput("A100")
	in.Warehouse = 2
	res := f.create(t, in)
	assert.Len(t, res.Counts, 1)
}

func TestCreateExcludesRecentlyCounted(t *testing.T) {
	f := newFixture(t, Config{})

	// Close a count for A100 with a capture inside the range.
	res := f.create(t, baseInput("A100"))
	c := res.Counts[0]
	_, err := f.svc.UpdateStatus(context.Background(), c.ID, StatusCounting, "user-1")
	require.NoError(t, err)
	details, err := f.repo.ListDetails(context.Background(), c.ID)
	require.NoError(t, err)
	_, _, err = f.svc.Capture(context.Background(), CaptureInput{
		CountID: c.ID, DetailID: details[0].ID,
		CountedStock: decimal.NewFromInt(10), CountedBy: "user-1",
	})
	require.NoError(t, err)

	from := time.Now().Add(-time.Hour)
	to := time.Now().Add(time.Hour)
	in := baseInput("A100", "A200")
	in.ExcludeFrom, in.ExcludeTo = &from, &to

	res2 := f.create(t, in)
	assert.Len(t, res2.Counts, 1)
	assert.Equal(t, []string{"A100"}, res2.ExcludedItems)
}

func TestCreateAdjustmentClosesImmediately(t *testing.T) {
	f := newFixture(t, Config{})

	in := CreateInput{
		BranchID:       7,
		Warehouse:      1,
		Classification: ClassificationAdjustment,
		AdjustmentValues: map[string]decimal.Decimal{
			"A100": decimal.NewFromInt(8),
		},
		CreatedBy: "user-1",
	}
	res := f.create(t, in)
	require.Len(t, res.Counts, 1)

	c := res.Counts[0]
	assert.Equal(t, StatusClosed, c.Status)
	require.NotNil(t, c.ClosedAt)

	details, err := f.repo.ListDetails(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, details, 1)
	require.NotNil(t, details[0].CountedStock)
	assert.True(t, details[0].CountedStock.Equal(decimal.NewFromInt(8)))
	assert.True(t, details[0].Difference.Equal(decimal.NewFromInt(-2)))

	// Requests generated automatically for the committed count.
	assert.Equal(t, []id.ID{c.ID}, f.requests.calls)
	assert.Empty(t, res.RequestFailures)
}

func TestCreateAdjustmentEscalatesAndInvalidatesLikeAClose(t *testing.T) {
	f := newFixture(t, Config{})
	f.lines.lines = []specialline.SpecialLine{{
		ID: id.New(), Prefix: "ABARR", Name: "Abarrotes",
		TolerancePct: decimal.NewFromInt(5),
		Recipients:   []string{"sup-1"},
		Active:       true,
	}}
	f.stock.catalog["ABARR-01"] = stock.Item{Code: "ABARR-01", Description: "x", Unit: "PZA"}
	f.stock.stocks["ABARR-01"] = decimal.NewFromInt(10)

	in := CreateInput{
		BranchID:         7,
		Warehouse:        1,
		Classification:   ClassificationAdjustment,
		AdjustmentValues: map[string]decimal.Decimal{"ABARR-01": decimal.NewFromInt(1)},
		CreatedBy:        "user-1",
	}
	res := f.create(t, in)
	require.Len(t, res.Counts, 1)
	assert.Equal(t, StatusClosed, res.Counts[0].Status)

	// A count born closed carries its discrepancy through the same
	// post-close path as a transition.
	require.Len(t, f.rec.alerts, 1)
	assert.Equal(t, []string{"sup-1"}, f.rec.alerts[0].recipients)
	assert.Contains(t, f.rec.alerts[0].subject, "Abarrotes")
	assert.Contains(t, f.stock.invalidated, "", "branch stock cache dropped")
}

func TestCreateAdjustmentRequestFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(t, Config{})
	f.requests.err = errors.New("folio series down")

	in := CreateInput{
		BranchID:         7,
		Warehouse:        1,
		Classification:   ClassificationAdjustment,
		AdjustmentValues: map[string]decimal.Decimal{"A100": decimal.NewFromInt(8)},
		CreatedBy:        "user-1",
	}
	res := f.create(t, in)
	require.Len(t, res.Counts, 1)
	assert.Equal(t, []string{res.Counts[0].Folio}, res.RequestFailures)

	// The count survived the request failure.
	got, err := f.repo.GetByID(context.Background(), res.Counts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, got.Status)
}

func TestCreateNotifiesAssignee(t *testing.T) {
	f := newFixture(t, Config{})
	in := baseInput("A100")
	in.ResponsibleUser = "user-9"

	res := f.create(t, in)
	require.Len(t, res.Counts, 1)
	require.NotNil(t, res.Counts[0].AssignedAt)
	assert.Equal(t, []string{"user-9:" + res.Counts[0].Folio}, f.rec.assignments)
}

func TestUpdateStatusHappyPath(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.create(t, baseInput("A100")).Counts[0]

	got, err := f.svc.UpdateStatus(context.Background(), c.ID, StatusCounting, "user-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCounting, got.Status)
	assert.NotNil(t, got.StartedAt)

	got, err = f.svc.UpdateStatus(context.Background(), c.ID, StatusCounted, "user-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCounted, got.Status)
	assert.NotNil(t, got.FinishedAt)

	got, err = f.svc.UpdateStatus(context.Background(), c.ID, StatusClosed, "user-1")
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, got.Status)
	assert.NotNil(t, got.ClosedAt)
}

func TestUpdateStatusRejectsIllegalTransition(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.create(t, baseInput("A100")).Counts[0]

	_, err := f.svc.UpdateStatus(context.Background(), c.ID, StatusClosed, "user-1")
	require.Error(t, err)
	appErr, _ := apperror.AsAppError(err)
	assert.Equal(t, apperror.CodeInvalidTransition, appErr.Code)
}

func TestUpdateStatusRaceLosesWithConflict(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.create(t, baseInput("A100")).Counts[0]

	// Another operator wins the conditional update between our read and
	// write.
	moved, err := f.repo.UpdateStatusIf(context.Background(), c.ID, StatusPending, StatusCounting, time.Now())
	require.NoError(t, err)
	require.True(t, moved)

	_, err = f.svc.UpdateStatus(context.Background(), c.ID, StatusCounting, "user-2")
	require.Error(t, err)
	appErr, _ := apperror.AsAppError(err)
	assert.Equal(t, apperror.CodeInvalidTransition, appErr.Code)
}

func TestStartRefreshesSystemStock(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.create(t, baseInput("A100")).Counts[0]

	// Stock moved on the branch after seeding.
	f.stock.stocks["A100"] = decimal.NewFromInt(25)

	_, err := f.svc.UpdateStatus(context.Background(), c.ID, StatusCounting, "user-1")
	require.NoError(t, err)

	details, err := f.repo.ListDetails(context.Background(), c.ID)
	require.NoError(t, err)
	assert.True(t, details[0].SystemStock.Equal(decimal.NewFromInt(25)))
	assert.Contains(t, f.stock.invalidated, "A100", "refresh bypasses the cache")
}

func TestStartRefreshFailureKeepsStaleStockAndAppendsNote(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.create(t, baseInput("A100")).Counts[0]
	f.stock.stockErr = apperror.NewBranchUnavailable(7, branch.ErrUnavailable)

	got, err := f.svc.UpdateStatus(context.Background(), c.ID, StatusCounting, "user-1")
	require.NoError(t, err, "availability wins over freshness")
	assert.Equal(t, StatusCounting, got.Status)
	assert.Contains(t, got.Notes, "stock sync with branch failed")

	details, err := f.repo.ListDetails(context.Background(), c.ID)
	require.NoError(t, err)
	assert.True(t, details[0].SystemStock.Equal(decimal.NewFromInt(10)), "stale stock kept")
}

// Same guarantee, but through the real stock layer instead of a scripted
// one: the branch serves stock at creation, dies, and the start transition
// must keep the seeded value and leave a note.
func TestStartRefreshThroughStockLayerKeepsStaleStock(t *testing.T) {
	log, err := logger.New(logger.Config{Level: "error", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)

	erp := &scriptedBranches{
		items:  map[string]stock.Item{"A100": {Code: "A100", Description: "Azucar 1kg", Unit: "PZA", Line: "ABARR"}},
		stocks: map[string]string{"A100": "10"},
	}
	stockSvc := stock.NewService(erp, cache.New(log), log)

	repo := newMemRepo()
	rec := &recorder{}
	svc := NewService(
		repo, stockSvc, folio.NewMockGenerator(), nopTx{},
		domain.StaticSettings{}, rec, rec, rec, &fakeLines{}, Config{}, log,
	)
	svc.SetRequestCreator(&fakeRequests{})

	res, err := svc.Create(context.Background(), baseInput("A100"))
	require.NoError(t, err)
	c := res.Counts[0]

	details, err := repo.ListDetails(context.Background(), c.ID)
	require.NoError(t, err)
	require.True(t, details[0].SystemStock.Equal(decimal.NewFromInt(10)), "seeded from the live branch")

	erp.setDown(true)

	got, err := svc.UpdateStatus(context.Background(), c.ID, StatusCounting, "user-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCounting, got.Status)
	assert.Contains(t, got.Notes, "stock sync with branch failed")

	details, err = repo.ListDetails(context.Background(), c.ID)
	require.NoError(t, err)
	assert.True(t, details[0].SystemStock.Equal(decimal.NewFromInt(10)), "outage must not zero the stored stock")
}

func TestCreateSeedsZeroWhenBranchDiesAfterValidation(t *testing.T) {
	f := newFixture(t, Config{})
	f.stock.stockErr = apperror.NewBranchUnavailable(7, branch.ErrUnavailable)

	res := f.create(t, baseInput("A100"))
	require.Len(t, res.Counts, 1)
	assert.Equal(t, StatusPending, res.Counts[0].Status)

	details, err := f.repo.ListDetails(context.Background(), res.Counts[0].ID)
	require.NoError(t, err)
	assert.True(t, details[0].SystemStock.IsZero(), "zero seed, refreshed at start")
}

func TestCreateAdjustmentRequiresReachableBranch(t *testing.T) {
	f := newFixture(t, Config{})
	f.stock.stockErr = apperror.NewBranchUnavailable(7, branch.ErrUnavailable)

	in := CreateInput{
		BranchID:         7,
		Warehouse:        1,
		Classification:   ClassificationAdjustment,
		AdjustmentValues: map[string]decimal.Decimal{"A100": decimal.NewFromInt(8)},
		CreatedBy:        "user-1",
	}
	_, err := f.svc.Create(context.Background(), in)
	require.Error(t, err, "an adjustment difference frozen against a made-up zero would be wrong forever")
	assert.True(t, apperror.IsBranchUnavailable(err))
}

func TestCaptureComputesDifference(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.create(t, baseInput("A100")).Counts[0]
	_, err := f.svc.UpdateStatus(context.Background(), c.ID, StatusCounting, "user-1")
	require.NoError(t, err)
	details, _ := f.repo.ListDetails(context.Background(), c.ID)

	d, autoClosed, err := f.svc.Capture(context.Background(), CaptureInput{
		CountID: c.ID, DetailID: details[0].ID,
		CountedStock: decimal.NewFromInt(7), CountedBy: "user-1",
	})
	require.NoError(t, err)
	assert.True(t, autoClosed, "last line closes the count")
	require.NotNil(t, d.Difference)
	assert.True(t, d.Difference.Equal(decimal.NewFromInt(-3)))
	assert.True(t, d.DifferencePct.Equal(decimal.NewFromInt(-30)))
	assert.NotNil(t, d.CountedAt)
}

func TestCaptureLastLineAutoCloses(t *testing.T) {
	f := newFixture(t, Config{})
	res := f.create(t, baseInput("A100", "A200"))

	for _, c := range res.Counts {
		_, err := f.svc.UpdateStatus(context.Background(), c.ID, StatusCounting, "user-1")
		require.NoError(t, err)
		details, _ := f.repo.ListDetails(context.Background(), c.ID)

		_, autoClosed, err := f.svc.Capture(context.Background(), CaptureInput{
			CountID: c.ID, DetailID: details[0].ID,
			CountedStock: decimal.NewFromInt(5), CountedBy: "user-1",
		})
		require.NoError(t, err)
		assert.True(t, autoClosed)

		got, err := f.repo.GetByID(context.Background(), c.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusClosed, got.Status)
		assert.NotNil(t, got.ClosedAt)
	}
	assert.Contains(t, f.rec.eventTypes(), "count.auto_closed")
}

func TestCaptureRejectsWrongStatus(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.create(t, baseInput("A100")).Counts[0]
	details, _ := f.repo.ListDetails(context.Background(), c.ID)

	_, _, err := f.svc.Capture(context.Background(), CaptureInput{
		CountID: c.ID, DetailID: details[0].ID, CountedStock: decimal.NewFromInt(1),
	})
	require.Error(t, err)
	assert.True(t, apperror.IsConflict(err))
}

func TestCaptureRejectsSecondCapture(t *testing.T) {
	f := newFixture(t, Config{})
	res := f.create(t, baseInput("A100", "A200"))
	c := res.Counts[0]
	_, err := f.svc.UpdateStatus(context.Background(), c.ID, StatusCounting, "user-1")
	require.NoError(t, err)
	details, _ := f.repo.ListDetails(context.Background(), c.ID)

	_, _, err = f.svc.Capture(context.Background(), CaptureInput{
		CountID: c.ID, DetailID: details[0].ID, CountedStock: decimal.NewFromInt(1), CountedBy: "u",
	})
	require.NoError(t, err)

	// Capturing again requires the count to still be counting; it closed.
	_, _, err = f.svc.Capture(context.Background(), CaptureInput{
		CountID: c.ID, DetailID: details[0].ID, CountedStock: decimal.NewFromInt(2), CountedBy: "u",
	})
	require.Error(t, err)
	assert.True(t, apperror.IsConflict(err))
}

func TestReassignStampsFirstThenSubsequent(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.create(t, baseInput("A100")).Counts[0]

	got, err := f.svc.Reassign(context.Background(), c.ID, "user-5", "admin")
	require.NoError(t, err)
	assert.Equal(t, "user-5", got.ResponsibleUser)
	require.NotNil(t, got.AssignedAt)
	assert.Nil(t, got.LastReassignedAt)

	got, err = f.svc.Reassign(context.Background(), c.ID, "user-6", "admin")
	require.NoError(t, err)
	assert.Equal(t, "user-6", got.ResponsibleUser)
	assert.NotNil(t, got.LastReassignedAt)

	assert.Equal(t, []string{"user-5:" + c.Folio, "user-6:" + c.Folio}, f.rec.assignments)
}

func TestSpecialLineEscalationGroupsPerLine(t *testing.T) {
	f := newFixture(t, Config{AlertMaxItems: 2})
	f.lines.lines = []specialline.SpecialLine{
		{
			ID: id.New(), Prefix: "ABARR", Name: "Abarrotes",
			TolerancePct: decimal.NewFromInt(5),
			Recipients:   []string{"sup-1"},
			Active:       true,
		},
	}
	// Three discrepant ABARR items; tolerance 5%, all far beyond.
	f.stock.catalog["ABARR-01"] = stock.Item{Code: "ABARR-01", Description: "x", Unit: "PZA"}
	f.stock.catalog["ABARR-02"] = stock.Item{Code: "ABARR-02", Description: "x", Unit: "PZA"}
	f.stock.catalog["ABARR-03"] = stock.Item{Code: "ABARR-03", Description: "x", Unit: "PZA"}
	f.stock.stocks["ABARR-01"] = decimal.NewFromInt(10)
	f.stock.stocks["ABARR-02"] = decimal.NewFromInt(10)
	f.stock.stocks["ABARR-03"] = decimal.NewFromInt(10)

	res := f.create(t, baseInput("ABARR-01", "ABARR-02", "ABARR-03"))
	for _, c := range res.Counts {
		_, err := f.svc.UpdateStatus(context.Background(), c.ID, StatusCounting, "u")
		require.NoError(t, err)
		details, _ := f.repo.ListDetails(context.Background(), c.ID)
		_, _, err = f.svc.Capture(context.Background(), CaptureInput{
			CountID: c.ID, DetailID: details[0].ID,
			CountedStock: decimal.NewFromInt(1), CountedBy: "u",
		})
		require.NoError(t, err)
	}

	// One grouped alert per close per line, never one per item. Each count
	// here carries one item, so three closes produce three alerts, each
	// listing that close's overflowing items once.
	require.Len(t, f.rec.alerts, 3)
	for _, a := range f.rec.alerts {
		assert.Equal(t, []string{"sup-1"}, a.recipients)
		assert.Contains(t, a.subject, "Abarrotes")
	}
}

func TestSpecialLineAlertTruncatesItemList(t *testing.T) {
	f := newFixture(t, Config{AlertMaxItems: 2})
	line := specialline.SpecialLine{
		ID: id.New(), Prefix: "ABARR", Name: "Abarrotes",
		TolerancePct: decimal.NewFromInt(5),
		Recipients:   []string{"sup-1"},
		Active:       true,
	}
	f.lines.lines = []specialline.SpecialLine{line}

	pct := decimal.NewFromInt(50)
	ten := decimal.NewFromInt(10)
	one := decimal.NewFromInt(1)
	diff := one.Sub(ten)
	c := &Count{ID: id.New(), Folio: "CNT-202409-0001", BranchID: 7, Warehouse: 1}
	var details []CountDetail
	for _, code := range []string{"ABARR-01", "ABARR-02", "ABARR-03", "ABARR-04"} {
		details = append(details, CountDetail{
			ItemCode: code, SystemStock: ten,
			CountedStock: &one, Difference: &diff, DifferencePct: &pct,
		})
	}

	f.svc.escalateSpecialLines(context.Background(), c, details)

	require.Len(t, f.rec.alerts, 1, "one grouped alert for the whole line")
	assert.Contains(t, f.rec.alerts[0].body, "+2 more")
	assert.Equal(t, 1, strings.Count(f.rec.alerts[0].body, "ABARR-01"))
}

func TestSpecialLineWithinToleranceIsQuiet(t *testing.T) {
	f := newFixture(t, Config{})
	f.lines.lines = []specialline.SpecialLine{{
		ID: id.New(), Prefix: "ABARR", Name: "Abarrotes",
		TolerancePct: decimal.NewFromInt(100),
		Recipients:   []string{"sup-1"}, Active: true,
	}}

	pct := decimal.NewFromInt(30)
	ten := decimal.NewFromInt(10)
	seven := decimal.NewFromInt(7)
	diff := seven.Sub(ten)
	c := &Count{ID: id.New(), Folio: "CNT-202409-0002", BranchID: 7, Warehouse: 1}
	f.svc.escalateSpecialLines(context.Background(), c, []CountDetail{{
		ItemCode: "ABARR-01", SystemStock: ten,
		CountedStock: &seven, Difference: &diff, DifferencePct: &pct,
	}})

	assert.Empty(t, f.rec.alerts)
}

func TestAppendNote(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.create(t, baseInput("A100")).Counts[0]

	require.NoError(t, f.svc.AppendNote(context.Background(), c.ID, "recount shelf 3", "user-1"))
	require.Error(t, f.svc.AppendNote(context.Background(), c.ID, "   ", "user-1"))

	got, _ := f.repo.GetByID(context.Background(), c.ID)
	assert.Contains(t, got.Notes, "recount shelf 3")
}

func TestDeleteRefusedWhenRequestsExist(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.create(t, baseInput("A100")).Counts[0]
	f.repo.hasRequests[c.ID] = true

	err := f.svc.Delete(context.Background(), c.ID, "admin")
	require.Error(t, err)
	appErr, _ := apperror.AsAppError(err)
	assert.Equal(t, apperror.CodeBusinessRule, appErr.Code)
}

func TestDeleteRemovesCountAndDetails(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.create(t, baseInput("A100")).Counts[0]

	require.NoError(t, f.svc.Delete(context.Background(), c.ID, "admin"))
	_, err := f.repo.GetByID(context.Background(), c.ID)
	assert.True(t, apperror.IsNotFound(err))
}

func TestComputeDifference(t *testing.T) {
	tests := []struct {
		name     string
		system   int64
		counted  int64
		wantDiff int64
		wantPct  int64
	}{
		{"exact", 10, 10, 0, 0},
		{"short", 10, 7, -3, -30},
		{"over", 10, 15, 5, 50},
		{"zero system zero counted", 0, 0, 0, 0},
		{"zero system found stock", 0, 5, 5, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff, pct := ComputeDifference(decimal.NewFromInt(tt.system), decimal.NewFromInt(tt.counted))
			assert.True(t, diff.Equal(decimal.NewFromInt(tt.wantDiff)), "diff %s", diff)
			assert.True(t, pct.Equal(decimal.NewFromInt(tt.wantPct)), "pct %s", pct)
		})
	}
}

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusCounting},
		{StatusCounting, StatusCounted},
		{StatusCounting, StatusClosed},
		{StatusCounted, StatusClosed},
		{StatusPending, StatusCancelled},
		{StatusCounting, StatusCancelled},
		{StatusCounted, StatusCancelled},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr.from, tr.to), "%s -> %s", tr.from, tr.to)
	}

	forbidden := []struct{ from, to Status }{
		{StatusPending, StatusCounted},
		{StatusPending, StatusClosed},
		{StatusCounted, StatusCounting},
		{StatusClosed, StatusCounting},
		{StatusClosed, StatusCancelled},
		{StatusCancelled, StatusPending},
	}
	for _, tr := range forbidden {
		assert.False(t, CanTransition(tr.from, tr.to), "%s -> %s", tr.from, tr.to)
	}
}
