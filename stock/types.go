/*
Package stock provides the stock ledger that inventory counts reconcile against.

PURPOSE:
  Holds the authoritative on-hand quantity of every product at every
  location, the append-only movement log that explains how each quantity
  got where it is, and the snapshot table that count sessions are
  materialized from.

KEY CONCEPTS IN THIS FILE (types.go):
  - Product / Location: Catalog entries referenced by levels and movements
  - Level: Live on-hand quantity for one (product, location) pair
  - Position: A level joined with its catalog rows (live or snapshotted)
  - Movement: An immutable ledger entry with a signed delta

DESIGN PRINCIPLES:
  1. Quantities are whole units (int64). Money is decimal.Decimal.
  2. Levels only change through movements; there is no "set quantity".
  3. Every movement carries a reference and an idempotency key so an
     upstream process (e.g. count approval) can never apply twice.

SEE ALSO:
  - store.go: Persistence interfaces
  - errors.go: Sentinel and structured errors
  - count/reconcile.go: Produces count_adjustment movements
*/
package stock

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProductID string
type LocationID string
type MovementID string

// =============================================================================
// CATALOG
// =============================================================================

// Product is a stocked item.
type Product struct {
	ID       ProductID
	SKU      string
	Barcode  string
	Name     string
	UnitCost decimal.Decimal
}

// Location is a physical slot (bin, shelf, aisle position) inside a zone.
type Location struct {
	ID   LocationID
	Code string
	Zone string
	Name string
}

// =============================================================================
// LEVELS AND POSITIONS
// =============================================================================

// Level is the live on-hand quantity of a product at a location.
type Level struct {
	ProductID  ProductID
	LocationID LocationID
	Qty        int64
}

// Position is a level with its catalog rows attached.
// SyncedAt is only set for snapshot positions.
type Position struct {
	Product  Product
	Location Location
	Qty      int64
	SyncedAt time.Time
}

// Key identifies the (product, location) pair of a position.
func (p Position) Key() PositionKey {
	return PositionKey{ProductID: p.Product.ID, LocationID: p.Location.ID}
}

type PositionKey struct {
	ProductID  ProductID
	LocationID LocationID
}

// PositionFilter narrows positions by zone or by location code.
// An empty filter matches everything.
type PositionFilter struct {
	Zones         []string
	LocationCodes []string
}

// IsAll reports whether the filter matches every location.
func (f PositionFilter) IsAll() bool {
	return len(f.Zones) == 0 && len(f.LocationCodes) == 0
}

// Matches reports whether a location passes the filter.
// Zones and location codes compare case-insensitively.
func (f PositionFilter) Matches(loc Location) bool {
	if f.IsAll() {
		return true
	}
	for _, z := range f.Zones {
		if strings.EqualFold(z, loc.Zone) {
			return true
		}
	}
	for _, c := range f.LocationCodes {
		if strings.EqualFold(c, loc.Code) {
			return true
		}
	}
	return false
}

// =============================================================================
// MOVEMENTS - Append-only ledger entries
// =============================================================================

type MovementType string

const (
	MovementReceipt         MovementType = "receipt"
	MovementIssue           MovementType = "issue"
	MovementTransferIn      MovementType = "transfer_in"
	MovementTransferOut     MovementType = "transfer_out"
	MovementAdjustment      MovementType = "adjustment"
	MovementCountAdjustment MovementType = "count_adjustment"
)

// Movement changes the level of one (product, location) pair by Delta.
//
// INVARIANTS:
//   - Delta is never zero
//   - Once written, a movement is never updated or deleted
//   - IdempotencyKey, when set, is unique across the ledger
type Movement struct {
	ID             MovementID
	ProductID      ProductID
	LocationID     LocationID
	Delta          int64
	Type           MovementType
	ReferenceID    string // e.g. the count session that produced it
	Reason         string
	IdempotencyKey string
	Value          decimal.Decimal // Delta x unit cost at the time of the movement
	CreatedBy      string
	CreatedAt      time.Time
}

// Validate checks the movement is well formed before it reaches a store.
func (m Movement) Validate() error {
	switch {
	case m.ID == "":
		return &InvalidMovementError{MovementID: m.ID, Reason: "missing id"}
	case m.ProductID == "":
		return &InvalidMovementError{MovementID: m.ID, Reason: "missing product"}
	case m.LocationID == "":
		return &InvalidMovementError{MovementID: m.ID, Reason: "missing location"}
	case m.Delta == 0:
		return &InvalidMovementError{MovementID: m.ID, Reason: "zero delta"}
	case m.Type == "":
		return &InvalidMovementError{MovementID: m.ID, Reason: "missing type"}
	}
	return nil
}

// MovementFilter narrows movement queries. Zero values match everything.
type MovementFilter struct {
	ReferenceID string
	ProductID   ProductID
	LocationID  LocationID
	Limit       int
}

// Matches reports whether a movement passes the filter (ignores Limit).
func (f MovementFilter) Matches(m Movement) bool {
	if f.ReferenceID != "" && m.ReferenceID != f.ReferenceID {
		return false
	}
	if f.ProductID != "" && m.ProductID != f.ProductID {
		return false
	}
	if f.LocationID != "" && m.LocationID != f.LocationID {
		return false
	}
	return true
}
