// Package storetest holds the conformance suite every store must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stockcount/count"
	"github.com/warp/stockcount/stock"
)

// Store is what the suite exercises.
type Store interface {
	count.TxStore
	stock.CatalogWriter
}

// Factory returns an empty store; cleanup is the factory's job.
type Factory func(t *testing.T) Store

// Run executes the whole suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("Catalog", func(t *testing.T) { testCatalog(t, newStore(t)) })
	t.Run("ApplyMovements", func(t *testing.T) { testApplyMovements(t, newStore(t)) })
	t.Run("ApplyMovementsAtomic", func(t *testing.T) { testApplyMovementsAtomic(t, newStore(t)) })
	t.Run("Snapshot", func(t *testing.T) { testSnapshot(t, newStore(t)) })
	t.Run("DeleteProductDropsLevels", func(t *testing.T) { testDeleteProduct(t, newStore(t)) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, newStore(t)) })
	t.Run("SetCountedQty", func(t *testing.T) { testSetCountedQty(t, newStore(t)) })
	t.Run("TransitionCAS", func(t *testing.T) { testTransitionCAS(t, newStore(t)) })
	t.Run("WithTxRollback", func(t *testing.T) { testWithTxRollback(t, newStore(t)) })
	t.Run("EngineRoundTrip", func(t *testing.T) { testEngineRoundTrip(t, newStore(t)) })
}

// =============================================================================
// FIXTURES
// =============================================================================

var (
	widget = stock.Product{ID: "p-widget", SKU: "WID-1", Barcode: "400001", Name: "Widget", UnitCost: decimal.RequireFromString("2.50")}
	gadget = stock.Product{ID: "p-gadget", SKU: "GAD-1", Barcode: "400002", Name: "Gadget", UnitCost: decimal.RequireFromString("10")}
	binA1  = stock.Location{ID: "l-a1", Code: "A1-01", Zone: "A", Name: "Aisle A1"}
	binB1  = stock.Location{ID: "l-b1", Code: "B1-01", Zone: "B", Name: "Aisle B1"}
)

func seedCatalog(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SaveProduct(ctx, widget))
	require.NoError(t, s.SaveProduct(ctx, gadget))
	require.NoError(t, s.SaveLocation(ctx, binA1))
	require.NoError(t, s.SaveLocation(ctx, binB1))
}

func receive(t *testing.T, s Store, p stock.Product, loc stock.Location, qty int64) {
	t.Helper()
	require.NoError(t, s.ApplyMovements(context.Background(), []stock.Movement{stock.Receive(p, loc.ID, qty, "seed")}))
}

func newSession(id string, at time.Time) count.Session {
	return count.Session{
		ID:        count.SessionID(id),
		Code:      "CNT-" + id,
		Type:      count.TypeCycle,
		Scope:     count.InZones("A"),
		Status:    count.StatusActive,
		Version:   1,
		CreatedAt: at,
		CreatedBy: "alice",
	}
}

func newLine(sessionID, lineID string, p stock.Product, loc stock.Location, system int64) count.Line {
	return count.Line{
		ID:           count.LineID(lineID),
		SessionID:    count.SessionID(sessionID),
		ProductID:    p.ID,
		ProductName:  p.Name,
		SKU:          p.SKU,
		Barcode:      p.Barcode,
		LocationID:   loc.ID,
		LocationCode: loc.Code,
		Zone:         loc.Zone,
		SystemQty:    system,
		UnitCost:     p.UnitCost,
	}
}

// =============================================================================
// CATALOG AND LEDGER
// =============================================================================

func testCatalog(t *testing.T, s Store) {
	ctx := context.Background()
	seedCatalog(t, s)

	p, err := s.GetProduct(ctx, widget.ID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Widget", p.Name)
	assert.True(t, widget.UnitCost.Equal(p.UnitCost))

	missing, err := s.GetProduct(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// Save is an upsert
	renamed := widget
	renamed.Name = "Widget XL"
	require.NoError(t, s.SaveProduct(ctx, renamed))
	p, err = s.GetProduct(ctx, widget.ID)
	require.NoError(t, err)
	assert.Equal(t, "Widget XL", p.Name)

	locs, err := s.ListLocations(ctx)
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.Equal(t, "A1-01", locs[0].Code)
}

func testApplyMovements(t *testing.T, s Store) {
	ctx := context.Background()
	seedCatalog(t, s)

	receive(t, s, widget, binA1, 10)
	receive(t, s, gadget, binB1, 4)

	issue := stock.Movement{
		ID: stock.NewMovementID(), ProductID: widget.ID, LocationID: binA1.ID,
		Delta: -3, Type: stock.MovementIssue, ReferenceID: "order-1", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.ApplyMovements(ctx, []stock.Movement{issue}))

	levels, err := s.Levels(ctx, stock.PositionFilter{})
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.Equal(t, "A1-01", levels[0].Location.Code)
	assert.Equal(t, int64(7), levels[0].Qty)
	assert.Equal(t, int64(4), levels[1].Qty)

	zoneB, err := s.Levels(ctx, stock.PositionFilter{Zones: []string{"b"}})
	require.NoError(t, err)
	require.Len(t, zoneB, 1)
	assert.Equal(t, gadget.ID, zoneB[0].Product.ID)

	byRef, err := s.Movements(ctx, stock.MovementFilter{ReferenceID: "order-1"})
	require.NoError(t, err)
	require.Len(t, byRef, 1)
	assert.Equal(t, int64(-3), byRef[0].Delta)

	all, err := s.Movements(ctx, stock.MovementFilter{ProductID: widget.ID})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, stock.MovementReceipt, all[0].Type, "oldest first")
}

func testApplyMovementsAtomic(t *testing.T, s Store) {
	ctx := context.Background()
	seedCatalog(t, s)
	receive(t, s, widget, binA1, 10)

	// GIVEN: A batch whose second movement reuses an existing key
	good := stock.Movement{
		ID: stock.NewMovementID(), ProductID: gadget.ID, LocationID: binA1.ID,
		Delta: 5, Type: stock.MovementAdjustment, IdempotencyKey: "adj-1", CreatedAt: time.Now().UTC(),
	}
	dup := stock.Receive(widget, binA1.ID, 10, "seed")

	// WHEN: Applying it
	err := s.ApplyMovements(ctx, []stock.Movement{good, dup})

	// THEN: Nothing from the batch lands
	assert.ErrorIs(t, err, stock.ErrDuplicateIdempotencyKey)
	levels, err := s.Levels(ctx, stock.PositionFilter{})
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, int64(10), levels[0].Qty)

	// Unknown product is rejected
	orphan := good
	orphan.ID = stock.NewMovementID()
	orphan.ProductID = "ghost"
	orphan.IdempotencyKey = "adj-2"
	assert.ErrorIs(t, s.ApplyMovements(ctx, []stock.Movement{orphan}), stock.ErrProductNotFound)

	// Zero delta is invalid
	zero := good
	zero.Delta = 0
	assert.ErrorIs(t, s.ApplyMovements(ctx, []stock.Movement{zero}), stock.ErrInvalidMovement)
}

func testSnapshot(t *testing.T, s Store) {
	ctx := context.Background()
	seedCatalog(t, s)

	size, err := s.SnapshotSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, size, "empty before the first sync")

	receive(t, s, widget, binA1, 10)
	receive(t, s, gadget, binB1, 4)

	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	n, err := s.SyncSnapshot(ctx, at)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Live levels moving afterwards do not touch the snapshot
	receive(t, s, widget, binB1, 1)

	rows, err := s.SnapshotPositions(ctx, stock.PositionFilter{LocationCodes: []string{"a1-01"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(10), rows[0].Qty)
	assert.Equal(t, "Widget", rows[0].Product.Name)
	assert.True(t, rows[0].SyncedAt.Equal(at))

	size, err = s.SnapshotSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, size)
}

func testDeleteProduct(t *testing.T, s Store) {
	ctx := context.Background()
	seedCatalog(t, s)
	receive(t, s, widget, binA1, 10)
	receive(t, s, gadget, binA1, 2)

	require.NoError(t, s.DeleteProduct(ctx, widget.ID))

	p, err := s.GetProduct(ctx, widget.ID)
	require.NoError(t, err)
	assert.Nil(t, p)
	levels, err := s.Levels(ctx, stock.PositionFilter{})
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, gadget.ID, levels[0].Product.ID)
}

// =============================================================================
// SESSIONS AND LINES
// =============================================================================

func testSessions(t *testing.T, s Store) {
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	older := newSession("s-1", t0)
	newer := newSession("s-2", t0.Add(time.Hour))
	newer.Scope = count.AtLocations("A1-01", "B1-01")

	require.NoError(t, s.InsertSession(ctx, older, []count.Line{
		newLine("s-1", "l-2", widget, binB1, 4),
		newLine("s-1", "l-1", widget, binA1, 10),
		newLine("s-1", "l-3", gadget, binA1, 3),
	}))
	require.NoError(t, s.InsertSession(ctx, newer, nil))

	got, err := s.GetSession(ctx, "s-2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, count.ScopeLocations, got.Scope.Kind)
	assert.Equal(t, []string{"A1-01", "B1-01"}, got.Scope.LocationCodes)
	assert.Equal(t, count.StatusActive, got.Status)
	assert.Equal(t, int64(1), got.Version)
	assert.Nil(t, got.SubmittedAt)

	missing, err := s.GetSession(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	list, err := s.ListSessions(ctx, count.SessionFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, count.SessionID("s-2"), list[0].ID, "newest first")

	none, err := s.ListSessions(ctx, count.SessionFilter{Status: count.StatusReview})
	require.NoError(t, err)
	assert.Empty(t, none)

	lines, err := s.ListLines(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, lines, 3)
	// Location code, then product name
	assert.Equal(t, count.LineID("l-3"), lines[0].ID)
	assert.Equal(t, count.LineID("l-1"), lines[1].ID)
	assert.Equal(t, count.LineID("l-2"), lines[2].ID)
	assert.Nil(t, lines[0].CountedQty)
	assert.True(t, gadget.UnitCost.Equal(lines[0].UnitCost))
}

func testSetCountedQty(t *testing.T, s Store) {
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertSession(ctx, newSession("s-1", t0), []count.Line{
		newLine("s-1", "l-1", widget, binA1, 10),
	}))
	require.NoError(t, s.InsertSession(ctx, newSession("s-2", t0), []count.Line{
		newLine("s-2", "l-other", widget, binA1, 10),
	}))

	// Count, then re-count: last write wins
	line, err := s.SetCountedQty(ctx, count.CountWrite{SessionID: "s-1", LineID: "l-1", CountedQty: 8, CountedBy: "bob", CountedAt: t0})
	require.NoError(t, err)
	require.NotNil(t, line.CountedQty)
	assert.Equal(t, int64(8), *line.CountedQty)

	line, err = s.SetCountedQty(ctx, count.CountWrite{SessionID: "s-1", LineID: "l-1", CountedQty: 0, CountedBy: "carol", CountedAt: t0})
	require.NoError(t, err)
	require.NotNil(t, line.CountedQty)
	assert.Equal(t, int64(0), *line.CountedQty, "zero is a real count")
	assert.Equal(t, "carol", line.CountedBy)
	d, ok := line.Diff()
	assert.True(t, ok)
	assert.Equal(t, int64(-10), d)

	// A line of another session is not found here
	_, err = s.SetCountedQty(ctx, count.CountWrite{SessionID: "s-1", LineID: "l-other", CountedQty: 1, CountedAt: t0})
	assert.ErrorIs(t, err, count.ErrNotFound)

	// After submit the write is refused
	require.NoError(t, s.TransitionStatus(ctx, count.StatusChange{
		SessionID: "s-1", From: count.StatusActive, To: count.StatusReview, Version: 1, Actor: "bob", At: t0,
	}))
	_, err = s.SetCountedQty(ctx, count.CountWrite{SessionID: "s-1", LineID: "l-1", CountedQty: 5, CountedAt: t0})
	assert.ErrorIs(t, err, count.ErrSessionLocked)

	lines, err := s.ListLines(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), *lines[0].CountedQty)
}

func testTransitionCAS(t *testing.T, s Store) {
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertSession(ctx, newSession("s-1", t0), nil))

	submit := count.StatusChange{SessionID: "s-1", From: count.StatusActive, To: count.StatusReview, Version: 1, Actor: "bob", At: t0}
	require.NoError(t, s.TransitionStatus(ctx, submit))

	// The same change again is stale
	assert.ErrorIs(t, s.TransitionStatus(ctx, submit), count.ErrStatusConflict)

	approve := count.StatusChange{
		SessionID: "s-1", From: count.StatusReview, To: count.StatusApproved, Version: 2,
		Actor: "ann", At: t0.Add(time.Hour), AdjustmentCount: 3,
	}
	require.NoError(t, s.TransitionStatus(ctx, approve))

	got, err := s.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, count.StatusApproved, got.Status)
	assert.Equal(t, int64(3), got.Version)
	assert.Equal(t, "bob", got.SubmittedBy)
	assert.Equal(t, "ann", got.ApprovedBy)
	assert.Equal(t, 3, got.AdjustmentCount)
	require.NotNil(t, got.ApprovedAt)
	assert.True(t, got.ApprovedAt.Equal(t0.Add(time.Hour)))

	err = s.TransitionStatus(ctx, count.StatusChange{SessionID: "ghost", From: count.StatusActive, To: count.StatusReview, Version: 1, At: t0})
	assert.ErrorIs(t, err, count.ErrNotFound)
}

func testWithTxRollback(t *testing.T, s Store) {
	ctx := context.Background()
	seedCatalog(t, s)
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertSession(ctx, newSession("s-1", t0), nil))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx count.Tx) error {
		require.NoError(t, tx.TransitionStatus(ctx, count.StatusChange{
			SessionID: "s-1", From: count.StatusActive, To: count.StatusReview, Version: 1, At: t0,
		}))
		require.NoError(t, tx.ApplyMovements(ctx, []stock.Movement{stock.Receive(widget, binA1.ID, 5, "tx")}))

		// Writes are visible inside the transaction
		sess, err := tx.GetSession(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, count.StatusReview, sess.Status)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	sess, err := s.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, count.StatusActive, sess.Status)
	assert.Equal(t, int64(1), sess.Version)

	levels, err := s.Levels(ctx, stock.PositionFilter{})
	require.NoError(t, err)
	assert.Empty(t, levels)
	movements, err := s.Movements(ctx, stock.MovementFilter{})
	require.NoError(t, err)
	assert.Empty(t, movements)
}

// =============================================================================
// ENGINE ON TOP OF THE STORE
// =============================================================================

func testEngineRoundTrip(t *testing.T, s Store) {
	ctx := context.Background()
	seedCatalog(t, s)
	receive(t, s, widget, binA1, 10)
	receive(t, s, gadget, binA1, 5)
	receive(t, s, gadget, binB1, 2)

	engine := count.NewEngine(s)
	counter := count.Actor{ID: "bob", Role: count.RoleCounter}
	approver := count.Actor{ID: "ann", Role: count.RoleApprover}

	_, err := engine.Sync(ctx, approver)
	require.NoError(t, err)

	sess, err := engine.CreateSession(ctx, counter, count.CreateRequest{Type: count.TypeCycle, Scope: count.InZones("A")})
	require.NoError(t, err)
	assert.Equal(t, 2, sess.Stats.TotalLines)

	_, lines, err := engine.ListLines(ctx, counter, sess.ID, count.LinesAll)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	// A1-01: Gadget (5), Widget (10)
	eight, five := int64(8), int64(5)
	res, err := engine.UpdateLines(ctx, counter, sess.ID, []count.LineUpdate{
		{LineID: lines[0].ID, CountedQty: &five},
		{LineID: lines[1].ID, CountedQty: &eight},
	})
	require.NoError(t, err)
	assert.Len(t, res.Updated, 2)

	_, err = engine.SubmitSession(ctx, counter, sess.ID)
	require.NoError(t, err)

	result, err := engine.ApproveSession(ctx, approver, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.AdjustmentCount())
	assert.Equal(t, count.StatusApproved, result.Session.Status)

	movements, err := s.Movements(ctx, stock.MovementFilter{ReferenceID: string(sess.ID)})
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, int64(-2), movements[0].Delta)
	assert.Equal(t, stock.MovementCountAdjustment, movements[0].Type)
	assert.True(t, decimal.RequireFromString("-5").Equal(movements[0].Value))

	levels, err := s.Levels(ctx, stock.PositionFilter{LocationCodes: []string{"A1-01"}})
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.Equal(t, int64(5), levels[0].Qty)
	assert.Equal(t, int64(8), levels[1].Qty)

	// Second approval is refused and writes nothing
	_, err = engine.ApproveSession(ctx, approver, sess.ID)
	assert.ErrorIs(t, err, count.ErrInvalidState)
	movements, err = s.Movements(ctx, stock.MovementFilter{ReferenceID: string(sess.ID)})
	require.NoError(t, err)
	assert.Len(t, movements, 1)
}
