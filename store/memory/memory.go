// Package memory provides an in-memory store for tests and demos.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/stockcount/count"
	"github.com/warp/stockcount/stock"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements count.TxStore and stock.Store.
type Memory struct {
	mu sync.RWMutex
	st *state
}

type state struct {
	products  map[stock.ProductID]stock.Product
	locations map[stock.LocationID]stock.Location
	levels    map[stock.PositionKey]int64
	snapshot  []stock.Position
	movements []stock.Movement
	idem      map[string]bool

	sessions  map[count.SessionID]count.Session
	lines     map[count.SessionID][]count.Line
	lineOwner map[count.LineID]count.SessionID
}

func newState() *state {
	return &state{
		products:  make(map[stock.ProductID]stock.Product),
		locations: make(map[stock.LocationID]stock.Location),
		levels:    make(map[stock.PositionKey]int64),
		idem:      make(map[string]bool),
		sessions:  make(map[count.SessionID]count.Session),
		lines:     make(map[count.SessionID][]count.Line),
		lineOwner: make(map[count.LineID]count.SessionID),
	}
}

func New() *Memory {
	return &Memory{st: newState()}
}

// Reset drops all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = newState()
	return nil
}

// =============================================================================
// TRANSACTIONS - Snapshot + rollback on error
// =============================================================================

// WithTx runs fn with exclusive access to the store. If fn fails, the state
// taken before fn ran is restored.
func (m *Memory) WithTx(_ context.Context, fn func(count.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := m.st.clone()
	if err := fn(&txView{st: m.st}); err != nil {
		m.st = saved
		return err
	}
	return nil
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.locations {
		c.locations[k] = v
	}
	for k, v := range s.levels {
		c.levels[k] = v
	}
	c.snapshot = append([]stock.Position(nil), s.snapshot...)
	c.movements = append([]stock.Movement(nil), s.movements...)
	for k, v := range s.idem {
		c.idem[k] = v
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	for k, v := range s.lines {
		c.lines[k] = append([]count.Line(nil), v...)
	}
	for k, v := range s.lineOwner {
		c.lineOwner[k] = v
	}
	return c
}

// txView exposes the state to a WithTx callback. The caller already holds
// the write lock, so it must not lock again.
type txView struct {
	st *state
}

// =============================================================================
// CATALOG
// =============================================================================

func (m *Memory) GetProduct(_ context.Context, id stock.ProductID) (*stock.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getProduct(id), nil
}

func (m *Memory) GetLocation(_ context.Context, id stock.LocationID) (*stock.Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getLocation(id), nil
}

func (m *Memory) ListLocations(_ context.Context) ([]stock.Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listLocations(), nil
}

func (m *Memory) SaveProduct(_ context.Context, p stock.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.products[p.ID] = p
	return nil
}

func (m *Memory) SaveLocation(_ context.Context, l stock.Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.locations[l.ID] = l
	return nil
}

// DeleteProduct removes the product and its live levels. Snapshot rows and
// movements keep referring to it.
func (m *Memory) DeleteProduct(_ context.Context, id stock.ProductID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.st.products, id)
	for k := range m.st.levels {
		if k.ProductID == id {
			delete(m.st.levels, k)
		}
	}
	return nil
}

func (m *Memory) DeleteLocation(_ context.Context, id stock.LocationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.st.locations, id)
	for k := range m.st.levels {
		if k.LocationID == id {
			delete(m.st.levels, k)
		}
	}
	return nil
}

func (s *state) getProduct(id stock.ProductID) *stock.Product {
	p, ok := s.products[id]
	if !ok {
		return nil
	}
	return &p
}

func (s *state) getLocation(id stock.LocationID) *stock.Location {
	l, ok := s.locations[id]
	if !ok {
		return nil
	}
	return &l
}

func (s *state) listLocations() []stock.Location {
	out := make([]stock.Location, 0, len(s.locations))
	for _, l := range s.locations {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// =============================================================================
// LEDGER
// =============================================================================

func (m *Memory) ApplyMovements(_ context.Context, movements []stock.Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.applyMovements(movements)
}

func (m *Memory) Movements(_ context.Context, filter stock.MovementFilter) ([]stock.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listMovements(filter), nil
}

func (m *Memory) Levels(_ context.Context, filter stock.PositionFilter) ([]stock.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.liveLevels(filter), nil
}

// applyMovements checks the whole batch before touching anything.
func (s *state) applyMovements(movements []stock.Movement) error {
	seen := make(map[string]bool, len(movements))
	for _, mv := range movements {
		if err := mv.Validate(); err != nil {
			return err
		}
		if _, ok := s.products[mv.ProductID]; !ok {
			return stock.ErrProductNotFound
		}
		if _, ok := s.locations[mv.LocationID]; !ok {
			return stock.ErrLocationNotFound
		}
		if mv.IdempotencyKey != "" {
			if s.idem[mv.IdempotencyKey] || seen[mv.IdempotencyKey] {
				return stock.ErrDuplicateIdempotencyKey
			}
			seen[mv.IdempotencyKey] = true
		}
	}

	for _, mv := range movements {
		k := stock.PositionKey{ProductID: mv.ProductID, LocationID: mv.LocationID}
		s.levels[k] += mv.Delta
		s.movements = append(s.movements, mv)
		if mv.IdempotencyKey != "" {
			s.idem[mv.IdempotencyKey] = true
		}
	}
	return nil
}

func (s *state) listMovements(filter stock.MovementFilter) []stock.Movement {
	var out []stock.Movement
	for _, mv := range s.movements {
		if !filter.Matches(mv) {
			continue
		}
		out = append(out, mv)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out
}

func (s *state) liveLevels(filter stock.PositionFilter) []stock.Position {
	var out []stock.Position
	for k, qty := range s.levels {
		if qty == 0 {
			continue
		}
		p, okP := s.products[k.ProductID]
		l, okL := s.locations[k.LocationID]
		if !okP || !okL || !filter.Matches(l) {
			continue
		}
		out = append(out, stock.Position{Product: p, Location: l, Qty: qty})
	}
	stock.SortPositions(out)
	return out
}

// =============================================================================
// SNAPSHOT
// =============================================================================

func (m *Memory) SyncSnapshot(_ context.Context, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.syncSnapshot(at), nil
}

func (m *Memory) SnapshotPositions(_ context.Context, filter stock.PositionFilter) ([]stock.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.snapshotPositions(filter), nil
}

func (m *Memory) SnapshotSize(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.st.snapshot), nil
}

func (s *state) syncSnapshot(at time.Time) int {
	rows := s.liveLevels(stock.PositionFilter{})
	for i := range rows {
		rows[i].SyncedAt = at
	}
	s.snapshot = rows
	return len(rows)
}

func (s *state) snapshotPositions(filter stock.PositionFilter) []stock.Position {
	var out []stock.Position
	for _, p := range s.snapshot {
		if filter.Matches(p.Location) {
			out = append(out, p)
		}
	}
	return out
}

// =============================================================================
// COUNT SESSIONS
// =============================================================================

func (m *Memory) InsertSession(_ context.Context, sess count.Session, lines []count.Line) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.insertSession(sess, lines)
	return nil
}

func (m *Memory) GetSession(_ context.Context, id count.SessionID) (*count.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getSession(id), nil
}

func (m *Memory) ListSessions(_ context.Context, filter count.SessionFilter) ([]count.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listSessions(filter), nil
}

func (m *Memory) ListLines(_ context.Context, id count.SessionID) ([]count.Line, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listLines(id), nil
}

func (m *Memory) SetCountedQty(_ context.Context, w count.CountWrite) (*count.Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.setCountedQty(w)
}

func (m *Memory) TransitionStatus(_ context.Context, c count.StatusChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.transitionStatus(c)
}

func (s *state) insertSession(sess count.Session, lines []count.Line) {
	sess.Stats = count.Stats{}
	s.sessions[sess.ID] = sess
	stored := append([]count.Line(nil), lines...)
	count.SortLines(stored)
	s.lines[sess.ID] = stored
	for _, l := range stored {
		s.lineOwner[l.ID] = sess.ID
	}
}

func (s *state) getSession(id count.SessionID) *count.Session {
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	return &sess
}

func (s *state) listSessions(filter count.SessionFilter) []count.Session {
	out := make([]count.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if filter.Status != "" && sess.Status != filter.Status {
			continue
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *state) listLines(id count.SessionID) []count.Line {
	return append([]count.Line{}, s.lines[id]...)
}

func (s *state) setCountedQty(w count.CountWrite) (*count.Line, error) {
	sess, ok := s.sessions[w.SessionID]
	if !ok {
		return nil, &count.NotFoundError{Kind: "session", ID: string(w.SessionID)}
	}
	if !sess.Status.Editable() {
		return nil, count.ErrSessionLocked
	}
	if s.lineOwner[w.LineID] != w.SessionID {
		return nil, &count.NotFoundError{Kind: "line", ID: string(w.LineID)}
	}

	lines := s.lines[w.SessionID]
	for i := range lines {
		if lines[i].ID != w.LineID {
			continue
		}
		qty, at := w.CountedQty, w.CountedAt
		lines[i].CountedQty = &qty
		lines[i].CountedBy = w.CountedBy
		lines[i].CountedAt = &at
		updated := lines[i]
		return &updated, nil
	}
	return nil, &count.NotFoundError{Kind: "line", ID: string(w.LineID)}
}

func (s *state) transitionStatus(c count.StatusChange) error {
	sess, ok := s.sessions[c.SessionID]
	if !ok {
		return &count.NotFoundError{Kind: "session", ID: string(c.SessionID)}
	}
	if sess.Status != c.From || sess.Version != c.Version {
		return count.ErrStatusConflict
	}
	count.ApplyStatusChange(&sess, c)
	s.sessions[c.SessionID] = sess
	return nil
}

// =============================================================================
// TX VIEW - Same operations without locking
// =============================================================================

func (tv *txView) GetProduct(_ context.Context, id stock.ProductID) (*stock.Product, error) {
	return tv.st.getProduct(id), nil
}

func (tv *txView) GetLocation(_ context.Context, id stock.LocationID) (*stock.Location, error) {
	return tv.st.getLocation(id), nil
}

func (tv *txView) ListLocations(_ context.Context) ([]stock.Location, error) {
	return tv.st.listLocations(), nil
}

func (tv *txView) ApplyMovements(_ context.Context, movements []stock.Movement) error {
	return tv.st.applyMovements(movements)
}

func (tv *txView) Movements(_ context.Context, filter stock.MovementFilter) ([]stock.Movement, error) {
	return tv.st.listMovements(filter), nil
}

func (tv *txView) Levels(_ context.Context, filter stock.PositionFilter) ([]stock.Position, error) {
	return tv.st.liveLevels(filter), nil
}

func (tv *txView) SyncSnapshot(_ context.Context, at time.Time) (int, error) {
	return tv.st.syncSnapshot(at), nil
}

func (tv *txView) SnapshotPositions(_ context.Context, filter stock.PositionFilter) ([]stock.Position, error) {
	return tv.st.snapshotPositions(filter), nil
}

func (tv *txView) SnapshotSize(_ context.Context) (int, error) {
	return len(tv.st.snapshot), nil
}

func (tv *txView) InsertSession(_ context.Context, sess count.Session, lines []count.Line) error {
	tv.st.insertSession(sess, lines)
	return nil
}

func (tv *txView) GetSession(_ context.Context, id count.SessionID) (*count.Session, error) {
	return tv.st.getSession(id), nil
}

func (tv *txView) ListSessions(_ context.Context, filter count.SessionFilter) ([]count.Session, error) {
	return tv.st.listSessions(filter), nil
}

func (tv *txView) ListLines(_ context.Context, id count.SessionID) ([]count.Line, error) {
	return tv.st.listLines(id), nil
}

func (tv *txView) SetCountedQty(_ context.Context, w count.CountWrite) (*count.Line, error) {
	return tv.st.setCountedQty(w)
}

func (tv *txView) TransitionStatus(_ context.Context, c count.StatusChange) error {
	return tv.st.transitionStatus(c)
}

var (
	_ count.TxStore = (*Memory)(nil)
	_ stock.Store   = (*Memory)(nil)
	_ count.Tx      = (*txView)(nil)
)
