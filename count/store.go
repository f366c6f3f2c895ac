/*
store.go - Persistence interfaces for sessions and lines

KEY INTERFACES:
  Store:   Sessions and lines (insert, read, count, transition)
  Tx:      Store plus the stock ledger, inside one transaction
  TxStore: Tx plus WithTx for atomic multi-step operations

WRITE-TIME GUARDS:
  The two writes that race with each other are guarded in the store, not
  in the engine:

  SetCountedQty writes counted_qty and diff_qty in one statement and only
  if the owning session is still active at that moment. A count that loses
  the race against submit fails with ErrSessionLocked.

  TransitionStatus is a compare-and-set on (status, version). A transition
  that loses fails with ErrStatusConflict and writes nothing.

IMPLEMENTATIONS:
  - store/memory, store/sqlite, store/postgres
  - store/storetest runs the same conformance suite against each of them
*/
package count

import (
	"context"
	"time"

	"github.com/warp/stockcount/stock"
)

// Store persists sessions and their lines.
type Store interface {
	// InsertSession writes a session and all of its lines, atomically.
	InsertSession(ctx context.Context, s Session, lines []Line) error

	// GetSession returns nil, nil when the session does not exist.
	GetSession(ctx context.Context, id SessionID) (*Session, error)

	// ListSessions returns sessions newest first.
	ListSessions(ctx context.Context, filter SessionFilter) ([]Session, error)

	// ListLines returns the lines of a session ordered by location code
	// then product name.
	ListLines(ctx context.Context, id SessionID) ([]Line, error)

	// SetCountedQty records a count. Fails with ErrSessionLocked if the
	// session is not active at write time, or a *NotFoundError if the
	// line does not belong to the session.
	SetCountedQty(ctx context.Context, w CountWrite) (*Line, error)

	// TransitionStatus moves a session from one status to another if and
	// only if it is still at (From, Version). Fails with ErrStatusConflict.
	TransitionStatus(ctx context.Context, c StatusChange) error
}

// CountWrite is a single counted quantity for one line.
type CountWrite struct {
	SessionID  SessionID
	LineID     LineID
	CountedQty int64
	CountedBy  string
	CountedAt  time.Time
}

// StatusChange is a compare-and-set on a session's status.
type StatusChange struct {
	SessionID SessionID
	From      Status
	To        Status
	Version   int64
	Actor     string
	At        time.Time

	// AdjustmentCount is recorded on approval.
	AdjustmentCount int
}

// Tx is the view a transaction function receives: count persistence and the
// stock ledger sharing one underlying transaction.
type Tx interface {
	Store
	stock.Catalog
	stock.Ledger
	stock.Snapshotter
}

// TxStore can run a function atomically.
type TxStore interface {
	Tx

	// WithTx runs fn inside a transaction. If fn returns an error every
	// write made through the Tx is rolled back.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// ApplyStatusChange stamps the session fields a transition sets. Stores
// share it so every backend records the same audit columns.
func ApplyStatusChange(s *Session, c StatusChange) {
	at := c.At
	s.Status = c.To
	s.Version = c.Version + 1
	switch c.To {
	case StatusReview:
		s.SubmittedAt, s.SubmittedBy = &at, c.Actor
	case StatusApproved:
		s.ApprovedAt, s.ApprovedBy = &at, c.Actor
		s.AdjustmentCount = c.AdjustmentCount
	case StatusCancelled:
		s.CancelledAt, s.CancelledBy = &at, c.Actor
	case StatusCompleted:
		s.CompletedAt, s.CompletedBy = &at, c.Actor
	}
}

// SortLines applies the canonical line order (location code, product name, id).
func SortLines(lines []Line) {
	sortLines(lines)
}
