package stock

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewMovementID returns a time-ordered movement identifier.
func NewMovementID() MovementID {
	return MovementID(uuid.Must(uuid.NewV7()).String())
}

// ValueOf prices a quantity delta at the given unit cost.
func ValueOf(delta int64, unitCost decimal.Decimal) decimal.Decimal {
	return unitCost.Mul(decimal.NewFromInt(delta))
}

// Receive builds a receipt movement. Used by seeding and tests.
func Receive(p Product, loc LocationID, qty int64, reference string) Movement {
	return Movement{
		ID:             NewMovementID(),
		ProductID:      p.ID,
		LocationID:     loc,
		Delta:          qty,
		Type:           MovementReceipt,
		ReferenceID:    reference,
		Reason:         "goods received",
		IdempotencyKey: fmt.Sprintf("receipt:%s:%s:%s", reference, p.ID, loc),
		Value:          ValueOf(qty, p.UnitCost),
		CreatedAt:      time.Now().UTC(),
	}
}

// SortPositions orders positions by location code, then product name, then
// product id. Stores use it so every backend returns the same order.
func SortPositions(ps []Position) {
	sort.SliceStable(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.Location.Code != b.Location.Code {
			return a.Location.Code < b.Location.Code
		}
		if a.Product.Name != b.Product.Name {
			return a.Product.Name < b.Product.Name
		}
		return a.Product.ID < b.Product.ID
	})
}

// =============================================================================
// SYNC - Copy live levels into the snapshot
// =============================================================================

// Syncer runs the snapshot sync that count sessions depend on.
type Syncer struct {
	Store Snapshotter
	Now   func() time.Time
}

// SyncResult is what a sync run reports back.
type SyncResult struct {
	Positions int
	SyncedAt  time.Time
}

// Sync replaces the snapshot with the current live levels.
func (s *Syncer) Sync(ctx context.Context) (SyncResult, error) {
	at := s.Now()
	n, err := s.Store.SyncSnapshot(ctx, at)
	if err != nil {
		return SyncResult{}, fmt.Errorf("failed to sync snapshot: %w", err)
	}
	log.Printf("[Sync] Snapshot refreshed: %d positions at %s", n, at.Format(time.RFC3339))
	return SyncResult{Positions: n, SyncedAt: at}, nil
}
