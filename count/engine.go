/*
engine.go - Orchestration of count session operations

PURPOSE:
  Engine is the single entry point for every count operation. It checks the
  actor's role, applies the lifecycle table, and runs each mutation inside
  one store transaction.

OPERATION FLOW:
  CreateSession:  authorize ─▶ resolve scope ─▶ insert session + lines
  UpdateLines:    authorize ─▶ session active? ─▶ one guarded write per line
  SubmitSession:  authorize ─▶ lock ─▶ tx { CAS active→review }
  ApproveSession: authorize ─▶ lock ─▶ tx { plan ─▶ CAS review→approved ─▶
                                             apply movements }
                             ─▶ publish event (best effort)

APPROVAL IS AT-MOST-ONCE:
  - The status CAS and the movements commit or roll back together
  - The per-session lock waits, so a second approver sees "approved"
  - Adjustment movements carry idempotency keys derived from the line

EXAMPLE:
  engine := count.NewEngine(store)
  sess, err := engine.CreateSession(ctx, actor, count.CreateRequest{
      Type:  count.TypeCycle,
      Scope: count.InZones("A"),
  })
*/
package count

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/stockcount/stock"
)

// Engine runs count session operations against a TxStore.
type Engine struct {
	Store  TxStore
	Locker Locker
	Events Publisher
	Now    func() time.Time

	syncer *stock.Syncer
}

type Option func(*Engine)

func WithLocker(l Locker) Option {
	return func(e *Engine) { e.Locker = l }
}

func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.Events = p }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.Now = now }
}

func NewEngine(store TxStore, opts ...Option) *Engine {
	e := &Engine{
		Store:  store,
		Locker: NewLocalLocker(),
		Events: NopPublisher{},
		Now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.syncer = &stock.Syncer{Store: store, Now: e.Now}
	return e
}

// =============================================================================
// SYNC
// =============================================================================

// Sync refreshes the stock snapshot sessions are created from.
func (e *Engine) Sync(ctx context.Context, actor Actor) (stock.SyncResult, error) {
	if err := authorize(actor, ActionSync); err != nil {
		return stock.SyncResult{}, err
	}
	return e.syncer.Sync(ctx)
}

// =============================================================================
// CREATE
// =============================================================================

type CreateRequest struct {
	Type        SessionType
	Scope       Scope
	Description string
}

func (r CreateRequest) Validate() error {
	if !r.Type.Valid() {
		return &ValidationError{Field: "type", Message: fmt.Sprintf("unknown session type %q", r.Type)}
	}
	return r.Scope.Validate()
}

// CreateSession materializes a new active session from the snapshot.
func (e *Engine) CreateSession(ctx context.Context, actor Actor, req CreateRequest) (*Session, error) {
	if err := authorize(actor, ActionCreate); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := e.Now()
	id := uuid.Must(uuid.NewV7())
	sess := Session{
		ID:          SessionID(id.String()),
		Code:        sessionCode(id, now),
		Type:        req.Type,
		Scope:       req.Scope,
		Description: strings.TrimSpace(req.Description),
		Status:      StatusActive,
		Version:     1,
		CreatedAt:   now,
		CreatedBy:   actor.ID,
	}

	var lines []Line
	err := e.Store.WithTx(ctx, func(tx Tx) error {
		positions, err := ResolveScope(ctx, tx, req.Scope)
		if err != nil {
			return err
		}
		lines = newLinesFromPositions(sess.ID, positions)
		return tx.InsertSession(ctx, sess, lines)
	})
	if err != nil {
		return nil, err
	}

	sess.Stats = ComputeStats(lines)
	log.Printf("[Count] Session %s created by %s: %s, %d lines", sess.Code, actor.ID, sess.Scope, len(lines))
	return &sess, nil
}

// sessionCode is a human-friendly reference: CNT-20240301-9F3A1C.
func sessionCode(id uuid.UUID, at time.Time) string {
	hex := strings.ReplaceAll(id.String(), "-", "")
	return fmt.Sprintf("CNT-%s-%s", at.Format("20060102"), strings.ToUpper(hex[len(hex)-6:]))
}

// =============================================================================
// READ
// =============================================================================

// GetSession returns a session with stats derived from its lines.
func (e *Engine) GetSession(ctx context.Context, actor Actor, id SessionID) (*Session, error) {
	if err := authorize(actor, ActionView); err != nil {
		return nil, err
	}
	sess, _, err := e.load(ctx, e.Store, id)
	return sess, err
}

func (e *Engine) ListSessions(ctx context.Context, actor Actor, filter SessionFilter) ([]Session, error) {
	if err := authorize(actor, ActionView); err != nil {
		return nil, err
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", filter.Status)}
	}

	sessions, err := e.Store.ListSessions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	for i := range sessions {
		lines, err := e.Store.ListLines(ctx, sessions[i].ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load lines of %s: %w", sessions[i].ID, err)
		}
		sessions[i].Stats = ComputeStats(lines)
	}
	return sessions, nil
}

// ListLines returns the session and the lines passing the filter.
// Stats always cover every line, not just the filtered ones.
func (e *Engine) ListLines(ctx context.Context, actor Actor, id SessionID, filter LineFilter) (*Session, []Line, error) {
	if err := authorize(actor, ActionView); err != nil {
		return nil, nil, err
	}
	sess, lines, err := e.load(ctx, e.Store, id)
	if err != nil {
		return nil, nil, err
	}
	return sess, filter.Apply(lines), nil
}

func (e *Engine) load(ctx context.Context, s Store, id SessionID) (*Session, []Line, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	if sess == nil {
		return nil, nil, &NotFoundError{Kind: "session", ID: string(id)}
	}
	lines, err := s.ListLines(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load lines of %s: %w", id, err)
	}
	sess.Stats = ComputeStats(lines)
	return sess, lines, nil
}

// =============================================================================
// COUNTING
// =============================================================================

// UpdateLines records a batch of counts. Invalid entries are reported per
// line and do not stop the rest of the batch. If the session stops being
// active halfway through, the lines written so far stay written and a
// SessionLockedError is returned with the partial result.
func (e *Engine) UpdateLines(ctx context.Context, actor Actor, id SessionID, updates []LineUpdate) (BatchResult, error) {
	var result BatchResult
	if err := authorize(actor, ActionCount); err != nil {
		return result, err
	}
	if len(updates) == 0 {
		return result, &ValidationError{Field: "lines", Message: "at least one line is required"}
	}

	sess, err := e.Store.GetSession(ctx, id)
	if err != nil {
		return result, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	if sess == nil {
		return result, &NotFoundError{Kind: "session", ID: string(id)}
	}
	if !sess.Status.Editable() {
		return result, &SessionLockedError{SessionID: id, Status: sess.Status}
	}

	for i, u := range updates {
		if err := u.Validate(); err != nil {
			result.Failed = append(result.Failed, LineFailure{Index: i, LineID: u.LineID, Err: err})
			continue
		}

		line, err := e.Store.SetCountedQty(ctx, newCountWrite(id, u, actor, e.Now()))
		switch {
		case err == nil:
			result.Updated = append(result.Updated, *line)
		case errors.Is(err, ErrSessionLocked):
			return result, &SessionLockedError{SessionID: id}
		case errors.Is(err, ErrNotFound):
			result.Failed = append(result.Failed, LineFailure{Index: i, LineID: u.LineID, Err: err})
		default:
			return result, fmt.Errorf("failed to record count for line %s: %w", u.LineID, err)
		}
	}
	return result, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func (e *Engine) SubmitSession(ctx context.Context, actor Actor, id SessionID) (*Session, error) {
	return e.transition(ctx, actor, id, ActionSubmit)
}

func (e *Engine) CancelSession(ctx context.Context, actor Actor, id SessionID) (*Session, error) {
	return e.transition(ctx, actor, id, ActionCancel)
}

func (e *Engine) CompleteSession(ctx context.Context, actor Actor, id SessionID) (*Session, error) {
	return e.transition(ctx, actor, id, ActionComplete)
}

func (e *Engine) transition(ctx context.Context, actor Actor, id SessionID, action Action) (*Session, error) {
	if err := authorize(actor, action); err != nil {
		return nil, err
	}
	unlock, err := e.Locker.Lock(ctx, SessionLockKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to lock session %s: %w", id, err)
	}
	defer unlock()

	err = e.Store.WithTx(ctx, func(tx Tx) error {
		sess, err := tx.GetSession(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load session %s: %w", id, err)
		}
		if sess == nil {
			return &NotFoundError{Kind: "session", ID: string(id)}
		}
		tr, ok := TransitionFor(sess.Status, action)
		if !ok {
			return &InvalidStateError{SessionID: id, Action: action, Status: sess.Status}
		}
		return tx.TransitionStatus(ctx, StatusChange{
			SessionID: id,
			From:      tr.From,
			To:        tr.To,
			Version:   sess.Version,
			Actor:     actor.ID,
			At:        e.Now(),
		})
	})
	if err != nil {
		return nil, e.conflictError(ctx, id, action, err)
	}

	sess, _, err := e.load(ctx, e.Store, id)
	if err != nil {
		return nil, err
	}
	log.Printf("[Count] Session %s %s by %s: now %s", sess.Code, action, actor.ID, sess.Status)
	return sess, nil
}

// conflictError turns a lost compare-and-set into an InvalidStateError
// naming the status the winner left behind.
func (e *Engine) conflictError(ctx context.Context, id SessionID, action Action, err error) error {
	if !errors.Is(err, ErrStatusConflict) {
		return err
	}
	current := Status("")
	if sess, gerr := e.Store.GetSession(ctx, id); gerr == nil && sess != nil {
		current = sess.Status
	}
	return &InvalidStateError{SessionID: id, Action: action, Status: current}
}

// =============================================================================
// APPROVAL
// =============================================================================

// ApprovalResult reports what an approval changed.
type ApprovalResult struct {
	Session *Session
	Plan    AdjustmentPlan
}

func (r ApprovalResult) AdjustmentCount() int { return len(r.Plan.Adjustments) }

// PreviewAdjustments computes the approval plan without writing anything.
func (e *Engine) PreviewAdjustments(ctx context.Context, actor Actor, id SessionID) (*AdjustmentPlan, error) {
	if err := authorize(actor, ActionView); err != nil {
		return nil, err
	}
	_, lines, err := e.load(ctx, e.Store, id)
	if err != nil {
		return nil, err
	}
	plan := PlanAdjustments(id, lines)
	if err := plan.ResolveCatalog(ctx, e.Store); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ApproveSession moves a session from review to approved and writes one
// count_adjustment movement per discrepancy, in a single transaction. If
// the movements cannot be written the session stays in review.
func (e *Engine) ApproveSession(ctx context.Context, actor Actor, id SessionID) (*ApprovalResult, error) {
	if err := authorize(actor, ActionApprove); err != nil {
		return nil, err
	}
	unlock, err := e.Locker.Lock(ctx, SessionLockKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to lock session %s: %w", id, err)
	}
	defer unlock()

	var plan AdjustmentPlan
	now := e.Now()
	err = e.Store.WithTx(ctx, func(tx Tx) error {
		sess, lines, err := e.load(ctx, tx, id)
		if err != nil {
			return err
		}
		tr, ok := TransitionFor(sess.Status, ActionApprove)
		if !ok {
			return &InvalidStateError{SessionID: id, Action: ActionApprove, Status: sess.Status}
		}

		plan = PlanAdjustments(id, lines)
		if err := plan.ResolveCatalog(ctx, tx); err != nil {
			return err
		}

		err = tx.TransitionStatus(ctx, StatusChange{
			SessionID:       id,
			From:            tr.From,
			To:              tr.To,
			Version:         sess.Version,
			Actor:           actor.ID,
			At:              now,
			AdjustmentCount: len(plan.Adjustments),
		})
		if err != nil {
			return err
		}

		if len(plan.Adjustments) == 0 {
			return nil
		}
		if err := tx.ApplyMovements(ctx, plan.Movements(actor, now)); err != nil {
			return &AdjustmentApplicationError{SessionID: id, Cause: err}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAdjustmentFailed) {
			log.Printf("[Count] Approval of %s rolled back: %v", id, err)
		}
		return nil, e.conflictError(ctx, id, ActionApprove, err)
	}

	sess, _, err := e.load(ctx, e.Store, id)
	if err != nil {
		return nil, err
	}
	for _, s := range plan.Skipped {
		log.Printf("[Count] Session %s: skipped adjustment for line %s (%s at %s): %s",
			sess.Code, s.LineID, s.ProductName, s.LocationCode, s.Reason)
	}
	log.Printf("[Count] Session %s approved by %s: %d adjustments, net %d, value %s",
		sess.Code, actor.ID, len(plan.Adjustments), plan.NetDiff, plan.NetValue.StringFixed(2))

	e.publish(ctx, Event{
		Type:            EventSessionApproved,
		SessionID:       sess.ID,
		Code:            sess.Code,
		AdjustmentCount: len(plan.Adjustments),
		SkippedCount:    len(plan.Skipped),
		NetDiff:         plan.NetDiff,
		NetValue:        plan.NetValue,
		Actor:           actor.ID,
		At:              now,
	})

	return &ApprovalResult{Session: sess, Plan: plan}, nil
}

func (e *Engine) publish(ctx context.Context, ev Event) {
	if err := e.Events.Publish(ctx, ev); err != nil {
		log.Printf("[Events] Failed to publish %s for %s: %v", ev.Type, ev.SessionID, err)
	}
}
