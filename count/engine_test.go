package count_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stockcount/count"
	"github.com/warp/stockcount/stock"
	"github.com/warp/stockcount/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	counter  = count.Actor{ID: "bob", Role: count.RoleCounter}
	approver = count.Actor{ID: "ann", Role: count.RoleApprover}
	admin    = count.Actor{ID: "root", Role: count.RoleAdmin}

	p1 = stock.Product{ID: "p1", SKU: "SKU-1", Name: "Bolt", UnitCost: decimal.RequireFromString("1.25")}
	p2 = stock.Product{ID: "p2", SKU: "SKU-2", Name: "Nut", UnitCost: decimal.RequireFromString("0.40")}
	p3 = stock.Product{ID: "p3", SKU: "SKU-3", Name: "Washer", UnitCost: decimal.RequireFromString("0.10")}

	a1 = stock.Location{ID: "loc-a1", Code: "A1", Zone: "A"}
	a2 = stock.Location{ID: "loc-a2", Code: "A2", Zone: "A"}
	b1 = stock.Location{ID: "loc-b1", Code: "B1", Zone: "B"}

	fixedNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
)

func qty(n int64) *int64 { return &n }

// newTestEngine returns an engine over a memory store holding:
//
//	A1: Bolt 10, Nut 4
//	A2: Bolt 6
//	B1: Washer 100
//
// with the snapshot already synced.
func newTestEngine(t *testing.T) (*count.Engine, *memory.Memory) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	for _, p := range []stock.Product{p1, p2, p3} {
		require.NoError(t, store.SaveProduct(ctx, p))
	}
	for _, l := range []stock.Location{a1, a2, b1} {
		require.NoError(t, store.SaveLocation(ctx, l))
	}
	require.NoError(t, store.ApplyMovements(ctx, []stock.Movement{
		stock.Receive(p1, a1.ID, 10, "seed"),
		stock.Receive(p2, a1.ID, 4, "seed"),
		stock.Receive(p1, a2.ID, 6, "seed"),
		stock.Receive(p3, b1.ID, 100, "seed"),
	}))

	engine := count.NewEngine(store, count.WithClock(func() time.Time { return fixedNow }))
	_, err := engine.Sync(ctx, admin)
	require.NoError(t, err)
	return engine, store
}

func createSession(t *testing.T, e *count.Engine, scope count.Scope) *count.Session {
	t.Helper()
	sess, err := e.CreateSession(context.Background(), counter, count.CreateRequest{Type: count.TypeCycle, Scope: scope})
	require.NoError(t, err)
	return sess
}

func linesOf(t *testing.T, e *count.Engine, id count.SessionID) []count.Line {
	t.Helper()
	_, lines, err := e.ListLines(context.Background(), counter, id, count.LinesAll)
	require.NoError(t, err)
	return lines
}

func lineFor(t *testing.T, lines []count.Line, product stock.ProductID, loc stock.LocationID) count.Line {
	t.Helper()
	for _, l := range lines {
		if l.ProductID == product && l.LocationID == loc {
			return l
		}
	}
	t.Fatalf("no line for %s at %s", product, loc)
	return count.Line{}
}

// =============================================================================
// EXAMPLE SCENARIO
// =============================================================================

func TestEngine_SpotCountScenario(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	// GIVEN: A spot session at A1 where Bolt has systemQty 10
	sess, err := engine.CreateSession(ctx, counter, count.CreateRequest{
		Type: count.TypeSpot, Scope: count.AtLocations("A1"), Description: "  shelf check ",
	})
	require.NoError(t, err)
	assert.Equal(t, count.StatusActive, sess.Status)
	assert.Equal(t, "shelf check", sess.Description)
	assert.Regexp(t, `^CNT-20240301-[0-9A-F]{6}$`, sess.Code)

	bolt := lineFor(t, linesOf(t, engine, sess.ID), p1.ID, a1.ID)
	assert.Equal(t, int64(10), bolt.SystemQty)

	// WHEN: The counter records 7 and submits
	res, err := engine.UpdateLines(ctx, counter, sess.ID, []count.LineUpdate{{LineID: bolt.ID, CountedQty: qty(7)}})
	require.NoError(t, err)
	require.Len(t, res.Updated, 1)
	d, ok := res.Updated[0].Diff()
	assert.True(t, ok)
	assert.Equal(t, int64(-3), d)

	submitted, err := engine.SubmitSession(ctx, counter, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, count.StatusReview, submitted.Status)
	assert.Equal(t, "bob", submitted.SubmittedBy)

	// AND: The approver approves
	result, err := engine.ApproveSession(ctx, approver, sess.ID)
	require.NoError(t, err)

	// THEN: Exactly one adjustment of -3 for Bolt at A1
	assert.Equal(t, 1, result.AdjustmentCount())
	assert.Equal(t, count.StatusApproved, result.Session.Status)
	assert.Equal(t, 1, result.Session.AdjustmentCount)

	movements, err := store.Movements(ctx, stock.MovementFilter{ReferenceID: string(sess.ID)})
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, p1.ID, movements[0].ProductID)
	assert.Equal(t, a1.ID, movements[0].LocationID)
	assert.Equal(t, int64(-3), movements[0].Delta)
	assert.Equal(t, stock.MovementCountAdjustment, movements[0].Type)
	assert.Equal(t, count.AdjustmentKey(sess.ID, bolt.ID), movements[0].IdempotencyKey)
	assert.Equal(t, "ann", movements[0].CreatedBy)
	assert.True(t, decimal.RequireFromString("-3.75").Equal(movements[0].Value))

	levels, err := store.Levels(ctx, stock.PositionFilter{LocationCodes: []string{"A1"}})
	require.NoError(t, err)
	assert.Equal(t, int64(7), lineQty(levels, p1.ID))

	// AND: Re-counting after approval is locked
	_, err = engine.UpdateLines(ctx, counter, sess.ID, []count.LineUpdate{{LineID: bolt.ID, CountedQty: qty(9)}})
	var locked *count.SessionLockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, count.StatusApproved, locked.Status)
}

func lineQty(ps []stock.Position, id stock.ProductID) int64 {
	for _, p := range ps {
		if p.Product.ID == id {
			return p.Qty
		}
	}
	return 0
}

// =============================================================================
// TESTABLE PROPERTIES
// =============================================================================

func TestEngine_ScopeMaterialization(t *testing.T) {
	engine, _ := newTestEngine(t)

	// One line per product holding stock at the location
	sess := createSession(t, engine, count.AtLocations("A1"))
	lines := linesOf(t, engine, sess.ID)
	require.Len(t, lines, 2)
	for _, l := range lines {
		assert.Equal(t, "A1", l.LocationCode)
		assert.Nil(t, l.CountedQty)
	}
	assert.Equal(t, 2, sess.Stats.TotalLines)
	assert.Equal(t, 2, sess.Stats.UncountedLines)

	// Zones cover every location in the zone
	zone := createSession(t, engine, count.InZones("a"))
	assert.Len(t, linesOf(t, engine, zone.ID), 3)

	all := createSession(t, engine, count.AllLocations())
	assert.Len(t, linesOf(t, engine, all.ID), 4)
}

func TestEngine_ScopeReadsSnapshotNotLiveLevels(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	// GIVEN: Stock received after the sync
	require.NoError(t, store.ApplyMovements(ctx, []stock.Movement{stock.Receive(p3, a2.ID, 5, "late")}))

	// WHEN: Creating a session for A2 before syncing again
	sess := createSession(t, engine, count.AtLocations("A2"))

	// THEN: The late receipt is not part of the baseline
	lines := linesOf(t, engine, sess.ID)
	require.Len(t, lines, 1)
	assert.Equal(t, p1.ID, lines[0].ProductID)

	// AND: After a sync it is
	_, err := engine.Sync(ctx, approver)
	require.NoError(t, err)
	sess = createSession(t, engine, count.AtLocations("A2"))
	assert.Len(t, linesOf(t, engine, sess.ID), 2)
}

func TestEngine_DiffCorrectness(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)
	sess := createSession(t, engine, count.AtLocations("A1"))
	lines := linesOf(t, engine, sess.ID)
	bolt := lineFor(t, lines, p1.ID, a1.ID)
	nut := lineFor(t, lines, p2.ID, a1.ID)

	// Zero is a count, and a matching count has diff 0 (not absent)
	_, err := engine.UpdateLines(ctx, counter, sess.ID, []count.LineUpdate{
		{LineID: bolt.ID, CountedQty: qty(0)},
		{LineID: nut.ID, CountedQty: qty(4)},
	})
	require.NoError(t, err)

	got, lines, err := engine.ListLines(ctx, counter, sess.ID, count.LinesAll)
	require.NoError(t, err)
	for _, l := range lines {
		d, ok := l.Diff()
		require.True(t, ok)
		assert.Equal(t, *l.CountedQty-l.SystemQty, d)
	}
	assert.Equal(t, int64(-10), mustDiff(t, lineFor(t, lines, p1.ID, a1.ID)))
	assert.Equal(t, int64(0), mustDiff(t, lineFor(t, lines, p2.ID, a1.ID)))

	assert.Equal(t, 2, got.Stats.CountedLines)
	assert.Equal(t, 1, got.Stats.DiscrepancyLines)
	assert.Equal(t, int64(-10), got.Stats.NetDiff)
	assert.True(t, decimal.RequireFromString("-12.5").Equal(got.Stats.DiscrepancyValue))
}

func mustDiff(t *testing.T, l count.Line) int64 {
	t.Helper()
	d, ok := l.Diff()
	require.True(t, ok)
	return d
}

func TestEngine_UncountedLinesAreNotAdjusted(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)
	sess := createSession(t, engine, count.InZones("A"))
	lines := linesOf(t, engine, sess.ID)

	// GIVEN: Only one of three lines counted
	bolt := lineFor(t, lines, p1.ID, a2.ID)
	_, err := engine.UpdateLines(ctx, counter, sess.ID, []count.LineUpdate{{LineID: bolt.ID, CountedQty: qty(8)}})
	require.NoError(t, err)

	uncounted, err := engine.PreviewAdjustments(ctx, counter, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, uncounted.Uncounted)
	require.Len(t, uncounted.Adjustments, 1)

	_, err = engine.SubmitSession(ctx, counter, sess.ID)
	require.NoError(t, err)

	// WHEN: Approving
	result, err := engine.ApproveSession(ctx, approver, sess.ID)
	require.NoError(t, err)

	// THEN: Only the counted line produced an adjustment
	assert.Equal(t, 1, result.AdjustmentCount())
	levels, err := store.Levels(ctx, stock.PositionFilter{})
	require.NoError(t, err)
	for _, p := range levels {
		switch p.Location.Code + "/" + p.Product.Name {
		case "A1/Bolt":
			assert.Equal(t, int64(10), p.Qty)
		case "A1/Nut":
			assert.Equal(t, int64(4), p.Qty)
		case "A2/Bolt":
			assert.Equal(t, int64(8), p.Qty)
		}
	}
}

func TestEngine_LifecycleMonotonicity(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)
	sess := createSession(t, engine, count.AtLocations("B1"))

	// active -> approved is not an edge
	_, err := engine.ApproveSession(ctx, approver, sess.ID)
	var invalid *count.InvalidStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, count.StatusActive, invalid.Status)
	assert.Equal(t, count.ActionApprove, invalid.Action)

	// active -> completed neither
	_, err = engine.CompleteSession(ctx, approver, sess.ID)
	assert.ErrorIs(t, err, count.ErrInvalidState)

	_, err = engine.SubmitSession(ctx, counter, sess.ID)
	require.NoError(t, err)

	// Double submit
	_, err = engine.SubmitSession(ctx, counter, sess.ID)
	assert.ErrorIs(t, err, count.ErrInvalidState)

	_, err = engine.ApproveSession(ctx, approver, sess.ID)
	require.NoError(t, err)

	// Re-approve
	_, err = engine.ApproveSession(ctx, approver, sess.ID)
	assert.ErrorIs(t, err, count.ErrInvalidState)

	// Cancel after approval is not allowed
	_, err = engine.CancelSession(ctx, approver, sess.ID)
	assert.ErrorIs(t, err, count.ErrInvalidState)

	done, err := engine.CompleteSession(ctx, approver, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, count.StatusCompleted, done.Status)
	assert.Equal(t, "ann", done.CompletedBy)
	assert.True(t, done.Status.IsTerminal())
}

func TestEngine_Cancel(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	// From active
	sess := createSession(t, engine, count.AtLocations("A1"))
	cancelled, err := engine.CancelSession(ctx, approver, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, count.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	// From review, with counted discrepancies: nothing is adjusted
	sess = createSession(t, engine, count.AtLocations("A1"))
	bolt := lineFor(t, linesOf(t, engine, sess.ID), p1.ID, a1.ID)
	_, err = engine.UpdateLines(ctx, counter, sess.ID, []count.LineUpdate{{LineID: bolt.ID, CountedQty: qty(1)}})
	require.NoError(t, err)
	_, err = engine.SubmitSession(ctx, counter, sess.ID)
	require.NoError(t, err)
	_, err = engine.CancelSession(ctx, admin, sess.ID)
	require.NoError(t, err)

	movements, err := store.Movements(ctx, stock.MovementFilter{ReferenceID: string(sess.ID)})
	require.NoError(t, err)
	assert.Empty(t, movements)

	// Counters may not cancel
	sess = createSession(t, engine, count.AtLocations("A1"))
	_, err = engine.CancelSession(ctx, counter, sess.ID)
	assert.ErrorIs(t, err, count.ErrForbidden)
}

func TestEngine_EditLock(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)
	sess := createSession(t, engine, count.AtLocations("A1"))
	bolt := lineFor(t, linesOf(t, engine, sess.ID), p1.ID, a1.ID)

	_, err := engine.UpdateLines(ctx, counter, sess.ID, []count.LineUpdate{{LineID: bolt.ID, CountedQty: qty(9)}})
	require.NoError(t, err)
	_, err = engine.SubmitSession(ctx, counter, sess.ID)
	require.NoError(t, err)

	// WHEN: Editing during review
	_, err = engine.UpdateLines(ctx, counter, sess.ID, []count.LineUpdate{{LineID: bolt.ID, CountedQty: qty(2)}})

	// THEN: Locked, and the stored value is unchanged
	assert.ErrorIs(t, err, count.ErrSessionLocked)
	assert.Equal(t, int64(9), *lineFor(t, linesOf(t, engine, sess.ID), p1.ID, a1.ID).CountedQty)
}

func TestEngine_ConcurrentApprovalAppliesOnce(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)
	sess := createSession(t, engine, count.InZones("A"))
	lines := linesOf(t, engine, sess.ID)

	updates := make([]count.LineUpdate, 0, len(lines))
	for _, l := range lines {
		updates = append(updates, count.LineUpdate{LineID: l.ID, CountedQty: qty(l.SystemQty + 1)})
	}
	_, err := engine.UpdateLines(ctx, counter, sess.ID, updates)
	require.NoError(t, err)
	_, err = engine.SubmitSession(ctx, counter, sess.ID)
	require.NoError(t, err)

	// WHEN: Two approvers race
	const racers = 2
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.ApproveSession(ctx, approver, sess.ID)
		}(i)
	}
	wg.Wait()

	// THEN: One wins, the other sees InvalidState
	var wins, invalid int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, count.ErrInvalidState):
			invalid++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, invalid)

	movements, err := store.Movements(ctx, stock.MovementFilter{ReferenceID: string(sess.ID)})
	require.NoError(t, err)
	assert.Len(t, movements, len(lines))
}

func TestEngine_BatchResubmissionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)
	sess := createSession(t, engine, count.InZones("A"))
	lines := linesOf(t, engine, sess.ID)

	batch := []count.LineUpdate{
		{LineID: lines[0].ID, CountedQty: qty(3)},
		{LineID: lines[1].ID, CountedQty: qty(0)},
	}

	_, err := engine.UpdateLines(ctx, counter, sess.ID, batch)
	require.NoError(t, err)
	first := linesOf(t, engine, sess.ID)

	_, err = engine.UpdateLines(ctx, counter, sess.ID, batch)
	require.NoError(t, err)
	second := linesOf(t, engine, sess.ID)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].CountedQty, second[i].CountedQty)
	}
}

// =============================================================================
// VALIDATION AND ERRORS
// =============================================================================

func TestEngine_UpdateLinesReportsPerLineFailures(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)
	sess := createSession(t, engine, count.AtLocations("A1"))
	lines := linesOf(t, engine, sess.ID)

	res, err := engine.UpdateLines(ctx, counter, sess.ID, []count.LineUpdate{
		{LineID: lines[0].ID, CountedQty: qty(-1)},
		{LineID: lines[1].ID, CountedQty: qty(5)},
		{LineID: "", CountedQty: qty(1)},
		{LineID: "unknown", CountedQty: qty(1)},
		{LineID: lines[0].ID},
	})
	require.NoError(t, err)

	require.Len(t, res.Updated, 1)
	assert.Equal(t, lines[1].ID, res.Updated[0].ID)

	require.Len(t, res.Failed, 4)
	assert.Equal(t, 0, res.Failed[0].Index)
	assert.ErrorIs(t, res.Failed[0].Err, count.ErrValidation)
	assert.ErrorIs(t, res.Failed[1].Err, count.ErrValidation)
	assert.ErrorIs(t, res.Failed[2].Err, count.ErrNotFound)
	assert.ErrorIs(t, res.Failed[3].Err, count.ErrValidation)

	// The negative count did not touch the line
	assert.Nil(t, lineFor(t, linesOf(t, engine, sess.ID), lines[0].ProductID, lines[0].LocationID).CountedQty)

	_, err = engine.UpdateLines(ctx, counter, sess.ID, nil)
	assert.ErrorIs(t, err, count.ErrValidation)

	_, err = engine.UpdateLines(ctx, counter, "ghost", []count.LineUpdate{{LineID: "x", CountedQty: qty(1)}})
	assert.ErrorIs(t, err, count.ErrNotFound)
}

func TestEngine_CreateSessionErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("empty snapshot", func(t *testing.T) {
		engine := count.NewEngine(memory.New())
		_, err := engine.CreateSession(ctx, counter, count.CreateRequest{Type: count.TypeFull, Scope: count.AllLocations()})
		assert.ErrorIs(t, err, count.ErrEmptySnapshot)
		assert.NotErrorIs(t, err, count.ErrEmptyScope)
	})

	t.Run("scope matches nothing", func(t *testing.T) {
		engine, _ := newTestEngine(t)
		_, err := engine.CreateSession(ctx, counter, count.CreateRequest{Type: count.TypeCycle, Scope: count.InZones("Z")})
		var empty *count.EmptyScopeError
		require.ErrorAs(t, err, &empty)
		assert.False(t, empty.SnapshotEmpty)
		assert.ErrorIs(t, err, count.ErrEmptyScope)
	})

	t.Run("invalid type", func(t *testing.T) {
		engine, _ := newTestEngine(t)
		_, err := engine.CreateSession(ctx, counter, count.CreateRequest{Type: "yearly", Scope: count.AllLocations()})
		assert.ErrorIs(t, err, count.ErrValidation)
	})

	t.Run("empty zone list", func(t *testing.T) {
		engine, _ := newTestEngine(t)
		_, err := engine.CreateSession(ctx, counter, count.CreateRequest{Type: count.TypeCycle, Scope: count.InZones(" ")})
		assert.ErrorIs(t, err, count.ErrValidation)
	})

	t.Run("nothing persisted on failure", func(t *testing.T) {
		engine, _ := newTestEngine(t)
		_, _ = engine.CreateSession(ctx, counter, count.CreateRequest{Type: count.TypeCycle, Scope: count.InZones("Z")})
		sessions, err := engine.ListSessions(ctx, counter, count.SessionFilter{})
		require.NoError(t, err)
		assert.Empty(t, sessions)
	})
}

func TestEngine_Permissions(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)
	sess := createSession(t, engine, count.AtLocations("B1"))
	_, err := engine.SubmitSession(ctx, counter, sess.ID)
	require.NoError(t, err)

	_, err = engine.ApproveSession(ctx, counter, sess.ID)
	var forbidden *count.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, count.RoleCounter, forbidden.Role)

	_, err = engine.Sync(ctx, counter)
	assert.ErrorIs(t, err, count.ErrForbidden)

	_, err = engine.GetSession(ctx, count.Actor{ID: "eve", Role: "guest"}, sess.ID)
	assert.ErrorIs(t, err, count.ErrForbidden)

	// Still in review: the forbidden approval changed nothing
	got, err := engine.GetSession(ctx, counter, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, count.StatusReview, got.Status)
}

// =============================================================================
// APPROVAL FAILURE MODES
// =============================================================================

// failingStore fails every ApplyMovements made inside a transaction.
type failingStore struct {
	*memory.Memory
	err error
}

func (f *failingStore) WithTx(ctx context.Context, fn func(count.Tx) error) error {
	return f.Memory.WithTx(ctx, func(tx count.Tx) error {
		return fn(failingTx{Tx: tx, err: f.err})
	})
}

type failingTx struct {
	count.Tx
	err error
}

func (f failingTx) ApplyMovements(context.Context, []stock.Movement) error { return f.err }

func TestEngine_AdjustmentFailureKeepsReview(t *testing.T) {
	ctx := context.Background()
	_, store := newTestEngine(t)
	ledgerDown := errors.New("ledger unavailable")
	engine := count.NewEngine(&failingStore{Memory: store, err: ledgerDown})

	sess := createSession(t, engine, count.AtLocations("A1"))
	bolt := lineFor(t, linesOf(t, engine, sess.ID), p1.ID, a1.ID)
	_, err := engine.UpdateLines(ctx, counter, sess.ID, []count.LineUpdate{{LineID: bolt.ID, CountedQty: qty(3)}})
	require.NoError(t, err)
	_, err = engine.SubmitSession(ctx, counter, sess.ID)
	require.NoError(t, err)

	// WHEN: The ledger write fails
	_, err = engine.ApproveSession(ctx, approver, sess.ID)

	// THEN: The caller sees the failure and its cause
	var appErr *count.AdjustmentApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.ErrorIs(t, err, count.ErrAdjustmentFailed)
	assert.ErrorIs(t, err, ledgerDown)

	// AND: The session is still in review, at its old version
	got, err := engine.GetSession(ctx, approver, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, count.StatusReview, got.Status)
	assert.Equal(t, 0, got.AdjustmentCount)
	assert.Nil(t, got.ApprovedAt)

	// AND: A retry against a healthy ledger succeeds
	healthy := count.NewEngine(store)
	result, err := healthy.ApproveSession(ctx, approver, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.AdjustmentCount())
}

func TestEngine_DeletedProductIsSkippedAndReported(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)
	sess := createSession(t, engine, count.AtLocations("A1"))
	lines := linesOf(t, engine, sess.ID)

	_, err := engine.UpdateLines(ctx, counter, sess.ID, []count.LineUpdate{
		{LineID: lineFor(t, lines, p1.ID, a1.ID).ID, CountedQty: qty(12)},
		{LineID: lineFor(t, lines, p2.ID, a1.ID).ID, CountedQty: qty(1)},
	})
	require.NoError(t, err)
	_, err = engine.SubmitSession(ctx, counter, sess.ID)
	require.NoError(t, err)

	// GIVEN: Nut is removed from the catalog before approval
	require.NoError(t, store.DeleteProduct(ctx, p2.ID))

	// WHEN: Approving
	result, err := engine.ApproveSession(ctx, approver, sess.ID)
	require.NoError(t, err)

	// THEN: Bolt is adjusted, Nut is reported as skipped
	assert.Equal(t, count.StatusApproved, result.Session.Status)
	assert.Equal(t, 1, result.AdjustmentCount())
	require.Len(t, result.Plan.Skipped, 1)
	assert.Equal(t, p2.ID, result.Plan.Skipped[0].ProductID)
	assert.Equal(t, stock.ErrProductNotFound.Error(), result.Plan.Skipped[0].Reason)

	movements, err := store.Movements(ctx, stock.MovementFilter{ReferenceID: string(sess.ID)})
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, int64(2), movements[0].Delta)
}

func TestEngine_ApproveWithoutDiscrepancies(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)
	sess := createSession(t, engine, count.AtLocations("B1"))
	washer := linesOf(t, engine, sess.ID)[0]

	_, err := engine.UpdateLines(ctx, counter, sess.ID, []count.LineUpdate{{LineID: washer.ID, CountedQty: qty(100)}})
	require.NoError(t, err)
	_, err = engine.SubmitSession(ctx, counter, sess.ID)
	require.NoError(t, err)

	result, err := engine.ApproveSession(ctx, approver, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, count.StatusApproved, result.Session.Status)
	assert.Equal(t, 0, result.AdjustmentCount())

	movements, err := store.Movements(ctx, stock.MovementFilter{ReferenceID: string(sess.ID)})
	require.NoError(t, err)
	assert.Empty(t, movements)
}

// recordingPublisher keeps published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []count.Event
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, e count.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func TestEngine_ApprovalPublishesEvent(t *testing.T) {
	ctx := context.Background()
	_, store := newTestEngine(t)

	// A failing broker does not fail the approval
	pub := &recordingPublisher{err: errors.New("broker down")}
	engine := count.NewEngine(store, count.WithPublisher(pub), count.WithClock(func() time.Time { return fixedNow }))

	sess := createSession(t, engine, count.AtLocations("A2"))
	bolt := linesOf(t, engine, sess.ID)[0]
	_, err := engine.UpdateLines(ctx, counter, sess.ID, []count.LineUpdate{{LineID: bolt.ID, CountedQty: qty(4)}})
	require.NoError(t, err)
	_, err = engine.SubmitSession(ctx, counter, sess.ID)
	require.NoError(t, err)

	_, err = engine.ApproveSession(ctx, approver, sess.ID)
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	assert.Equal(t, count.EventSessionApproved, ev.Type)
	assert.Equal(t, sess.ID, ev.SessionID)
	assert.Equal(t, sess.Code, ev.Code)
	assert.Equal(t, 1, ev.AdjustmentCount)
	assert.Equal(t, int64(-2), ev.NetDiff)
	assert.True(t, decimal.RequireFromString("-2.5").Equal(ev.NetValue))
	assert.Equal(t, "ann", ev.Actor)
	assert.True(t, ev.At.Equal(fixedNow))
}

// =============================================================================
// READS
// =============================================================================

func TestEngine_ListLinesFilters(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)
	sess := createSession(t, engine, count.InZones("A"))
	lines := linesOf(t, engine, sess.ID)
	require.Len(t, lines, 3)

	_, err := engine.UpdateLines(ctx, counter, sess.ID, []count.LineUpdate{
		{LineID: lines[0].ID, CountedQty: qty(lines[0].SystemQty)},
		{LineID: lines[1].ID, CountedQty: qty(lines[1].SystemQty + 2)},
	})
	require.NoError(t, err)

	cases := map[count.LineFilter]int{
		count.LinesAll:         3,
		count.LinesCounted:     2,
		count.LinesUncounted:   1,
		count.LinesDiscrepancy: 1,
	}
	for filter, want := range cases {
		got, filtered, err := engine.ListLines(ctx, counter, sess.ID, filter)
		require.NoError(t, err)
		assert.Len(t, filtered, want, "filter %s", filter)
		assert.Equal(t, 3, got.Stats.TotalLines, "stats cover all lines")
	}
}

func TestEngine_ListSessions(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)
	first := createSession(t, engine, count.AtLocations("A1"))
	second := createSession(t, engine, count.AtLocations("B1"))
	_, err := engine.SubmitSession(ctx, counter, second.ID)
	require.NoError(t, err)

	all, err := engine.ListSessions(ctx, counter, count.SessionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, s := range all {
		assert.NotZero(t, s.Stats.TotalLines)
	}

	review, err := engine.ListSessions(ctx, counter, count.SessionFilter{Status: count.StatusReview})
	require.NoError(t, err)
	require.Len(t, review, 1)
	assert.Equal(t, second.ID, review[0].ID)

	active, err := engine.ListSessions(ctx, counter, count.SessionFilter{Status: count.StatusActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, first.ID, active[0].ID)

	_, err = engine.ListSessions(ctx, counter, count.SessionFilter{Status: "bogus"})
	assert.ErrorIs(t, err, count.ErrValidation)

	_, err = engine.GetSession(ctx, counter, "ghost")
	var nf *count.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "session", nf.Kind)
}
