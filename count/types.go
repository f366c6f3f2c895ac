/*
Package count implements inventory count sessions and their reconciliation.

PURPOSE:
  A count session is a bounded audit: it freezes the expected quantities of
  a set of (product, location) pairs, lets counters record what they
  physically see, and on approval turns every discrepancy into a stock
  adjustment against the ledger.

KEY CONCEPTS IN THIS FILE (types.go):
  - Session: The audit unit with a scope, a type and a status
  - Line: One (product, location) pair with expected vs counted quantity
  - Stats: Derived per-session totals, recomputed from lines on every read

LINE ARITHMETIC:
  SystemQty is the baseline taken from the snapshot when the session is
  created. It never changes afterwards.
  CountedQty is nil until somebody counts the line. A nil count is "no
  information", which is not the same as a count of zero.
  Diff = CountedQty - SystemQty, only defined when CountedQty is set.

SEE ALSO:
  - lifecycle.go: Status transitions and who may trigger them
  - scope.go: Which pairs a session covers
  - reconcile.go: Discrepancies to stock adjustments
  - engine.go: Orchestration of all operations
*/
package count

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stockcount/stock"
)

// =============================================================================
// IDENTIFIERS AND ENUMS
// =============================================================================

type SessionID string
type LineID string

type SessionType string

const (
	TypeCycle SessionType = "cycle"
	TypeFull  SessionType = "full"
	TypeSpot  SessionType = "spot"
)

// Valid reports whether t is a known session type.
func (t SessionType) Valid() bool {
	switch t {
	case TypeCycle, TypeFull, TypeSpot:
		return true
	}
	return false
}

type Status string

const (
	StatusPlanned   Status = "planned"
	StatusActive    Status = "active"
	StatusReview    Status = "review"
	StatusApproved  Status = "approved"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPlanned, StatusActive, StatusReview, StatusApproved, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Editable reports whether lines of a session in this status accept counts.
func (s Status) Editable() bool {
	return s == StatusActive
}

// =============================================================================
// SESSION
// =============================================================================

// Session is one inventory audit.
// Stats is not persisted; the engine fills it from the lines on every read.
type Session struct {
	ID          SessionID
	Code        string
	Type        SessionType
	Scope       Scope
	Description string
	Status      Status
	Version     int64

	CreatedAt time.Time
	CreatedBy string

	SubmittedAt *time.Time
	SubmittedBy string
	ApprovedAt  *time.Time
	ApprovedBy  string
	CancelledAt *time.Time
	CancelledBy string
	CompletedAt *time.Time
	CompletedBy string

	AdjustmentCount int

	Stats Stats
}

// =============================================================================
// LINE
// =============================================================================

// Line pairs a product and a location inside a session.
type Line struct {
	ID        LineID
	SessionID SessionID

	ProductID   stock.ProductID
	ProductName string
	SKU         string
	Barcode     string

	LocationID   stock.LocationID
	LocationCode string
	Zone         string

	SystemQty  int64
	CountedQty *int64
	UnitCost   decimal.Decimal

	CountedBy string
	CountedAt *time.Time
}

// IsCounted reports whether a count was recorded.
func (l Line) IsCounted() bool {
	return l.CountedQty != nil
}

// Diff returns CountedQty - SystemQty. ok is false for uncounted lines.
func (l Line) Diff() (diff int64, ok bool) {
	if l.CountedQty == nil {
		return 0, false
	}
	return *l.CountedQty - l.SystemQty, true
}

// HasDiscrepancy reports whether the line was counted and differs.
func (l Line) HasDiscrepancy() bool {
	d, ok := l.Diff()
	return ok && d != 0
}

// DiffValue prices the discrepancy at the line's unit cost (zero if uncounted).
func (l Line) DiffValue() decimal.Decimal {
	d, ok := l.Diff()
	if !ok {
		return decimal.Zero
	}
	return stock.ValueOf(d, l.UnitCost)
}

// =============================================================================
// LINE FILTER
// =============================================================================

type LineFilter string

const (
	LinesAll         LineFilter = "all"
	LinesUncounted   LineFilter = "uncounted"
	LinesCounted     LineFilter = "counted"
	LinesDiscrepancy LineFilter = "discrepancy"
)

// ParseLineFilter maps the query value to a filter. Empty means all.
func ParseLineFilter(s string) (LineFilter, bool) {
	switch LineFilter(s) {
	case "", LinesAll:
		return LinesAll, true
	case LinesUncounted, LinesCounted, LinesDiscrepancy:
		return LineFilter(s), true
	}
	return "", false
}

// Match reports whether a line passes the filter.
func (f LineFilter) Match(l Line) bool {
	switch f {
	case LinesUncounted:
		return !l.IsCounted()
	case LinesCounted:
		return l.IsCounted()
	case LinesDiscrepancy:
		return l.HasDiscrepancy()
	}
	return true
}

// Apply returns the lines that pass the filter, in order.
func (f LineFilter) Apply(lines []Line) []Line {
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if f.Match(l) {
			out = append(out, l)
		}
	}
	return out
}

// =============================================================================
// STATS - Derived, never stored
// =============================================================================

type Stats struct {
	TotalLines       int
	CountedLines     int
	UncountedLines   int
	DiscrepancyLines int
	NetDiff          int64
	DiscrepancyValue decimal.Decimal
}

// ComputeStats derives session totals from its lines.
func ComputeStats(lines []Line) Stats {
	st := Stats{TotalLines: len(lines), DiscrepancyValue: decimal.Zero}
	for _, l := range lines {
		d, ok := l.Diff()
		if !ok {
			st.UncountedLines++
			continue
		}
		st.CountedLines++
		if d != 0 {
			st.DiscrepancyLines++
			st.NetDiff += d
			st.DiscrepancyValue = st.DiscrepancyValue.Add(l.DiffValue())
		}
	}
	return st
}

// SessionFilter narrows session listings. Empty Status matches all.
type SessionFilter struct {
	Status Status
}
