/*
reconcile.go - Discrepancies to stock adjustments

ALGORITHM:
  1. Take every line of the session
  2. Drop uncounted lines: no count means no information, not zero stock
  3. Drop lines whose diff is zero
  4. One adjustment per surviving line, a delta of diff against the live
     level (so stock that moved after the snapshot is not overwritten)

  The plan is a pure function of the lines. The engine applies it inside
  the same transaction that moves the session from review to approved.

MISSING CATALOG ENTRIES:
  If a product or location was deleted after the count, its adjustment is
  skipped and reported instead of failing the whole approval. Everything
  else that goes wrong aborts the approval and leaves the session in review.
*/
package count

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stockcount/stock"
)

// Adjustment is the stock correction derived from one line.
type Adjustment struct {
	LineID       LineID
	ProductID    stock.ProductID
	ProductName  string
	LocationID   stock.LocationID
	LocationCode string
	SystemQty    int64
	CountedQty   int64
	Delta        int64
	Value        decimal.Decimal
}

// SkippedAdjustment is an adjustment that could not be applied.
type SkippedAdjustment struct {
	Adjustment
	Reason string
}

// AdjustmentPlan is the full set of corrections for a session.
type AdjustmentPlan struct {
	SessionID   SessionID
	Adjustments []Adjustment
	Skipped     []SkippedAdjustment
	Uncounted   int
	NetDiff     int64
	NetValue    decimal.Decimal
}

// PlanAdjustments computes the adjustments for a set of lines.
func PlanAdjustments(sessionID SessionID, lines []Line) AdjustmentPlan {
	plan := AdjustmentPlan{SessionID: sessionID, NetValue: decimal.Zero}
	for _, l := range lines {
		d, counted := l.Diff()
		if !counted {
			plan.Uncounted++
			continue
		}
		if d == 0 {
			continue
		}
		adj := Adjustment{
			LineID:       l.ID,
			ProductID:    l.ProductID,
			ProductName:  l.ProductName,
			LocationID:   l.LocationID,
			LocationCode: l.LocationCode,
			SystemQty:    l.SystemQty,
			CountedQty:   *l.CountedQty,
			Delta:        d,
			Value:        l.DiffValue(),
		}
		plan.Adjustments = append(plan.Adjustments, adj)
		plan.NetDiff += d
		plan.NetValue = plan.NetValue.Add(adj.Value)
	}
	return plan
}

// ResolveCatalog moves adjustments whose product or location no longer
// exists from Adjustments to Skipped, and recomputes the totals.
func (p *AdjustmentPlan) ResolveCatalog(ctx context.Context, catalog stock.Catalog) error {
	kept := p.Adjustments[:0]
	p.NetDiff, p.NetValue = 0, decimal.Zero
	for _, adj := range p.Adjustments {
		product, err := catalog.GetProduct(ctx, adj.ProductID)
		if err != nil {
			return fmt.Errorf("failed to load product %s: %w", adj.ProductID, err)
		}
		location, err := catalog.GetLocation(ctx, adj.LocationID)
		if err != nil {
			return fmt.Errorf("failed to load location %s: %w", adj.LocationID, err)
		}
		switch {
		case product == nil:
			p.Skipped = append(p.Skipped, SkippedAdjustment{Adjustment: adj, Reason: stock.ErrProductNotFound.Error()})
		case location == nil:
			p.Skipped = append(p.Skipped, SkippedAdjustment{Adjustment: adj, Reason: stock.ErrLocationNotFound.Error()})
		default:
			kept = append(kept, adj)
			p.NetDiff += adj.Delta
			p.NetValue = p.NetValue.Add(adj.Value)
		}
	}
	p.Adjustments = kept
	return nil
}

// Movements turns the plan into ledger movements. The idempotency key is
// derived from session and line, so a plan can never be applied twice.
func (p AdjustmentPlan) Movements(actor Actor, at time.Time) []stock.Movement {
	out := make([]stock.Movement, 0, len(p.Adjustments))
	for _, adj := range p.Adjustments {
		out = append(out, stock.Movement{
			ID:             stock.NewMovementID(),
			ProductID:      adj.ProductID,
			LocationID:     adj.LocationID,
			Delta:          adj.Delta,
			Type:           stock.MovementCountAdjustment,
			ReferenceID:    string(p.SessionID),
			Reason:         fmt.Sprintf("count: system %d, counted %d", adj.SystemQty, adj.CountedQty),
			IdempotencyKey: AdjustmentKey(p.SessionID, adj.LineID),
			Value:          adj.Value,
			CreatedBy:      actor.ID,
			CreatedAt:      at,
		})
	}
	return out
}

// AdjustmentKey is the idempotency key of the adjustment for one line.
func AdjustmentKey(sessionID SessionID, lineID LineID) string {
	return fmt.Sprintf("count:%s:%s", sessionID, lineID)
}
