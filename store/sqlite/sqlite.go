/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements count.TxStore and stock.Store on a single SQLite database, so
  that a session's status change and the stock movements it produces can
  commit in the same transaction.

INTERFACES IMPLEMENTED:
  count.Store:       Sessions and lines
  stock.Catalog:     Products and locations
  stock.Ledger:      Movements and live levels
  stock.Snapshotter: Snapshot sync and reads

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on stock_movements
  - Levels change only inside ApplyMovements, next to the movement insert
  - idempotency_key is UNIQUE, so an adjustment can never land twice

GUARDED WRITES:
  - count_lines is updated with a single statement that also checks the
    owning session is still active
  - count_sessions status changes compare (status, version) in the WHERE
    clause and fail when no row matched

KEY TABLES:
  products, locations: Catalog
  stock_levels:        Live on-hand quantity per (product, location)
  stock_snapshot:      Denormalized copy of the levels taken by sync
  stock_movements:     Immutable ledger
  count_sessions:      One row per audit
  count_lines:         One row per (session, product, location)

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so ":memory:"
  databases keep their state across calls.

USAGE:
  store, err := sqlite.New("./data/stockcount.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := count.NewEngine(store)

SEE ALSO:
  - count/store.go, stock/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/stockcount/count"
	"github.com/warp/stockcount/stock"
)

// timeLayout sorts lexically in time order, unlike RFC3339Nano.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Catalog
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		sku TEXT NOT NULL DEFAULT '',
		barcode TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		unit_cost TEXT NOT NULL DEFAULT '0'
	);

	CREATE TABLE IF NOT EXISTS locations (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		zone TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT ''
	);

	-- Live levels, maintained only by ApplyMovements
	CREATE TABLE IF NOT EXISTS stock_levels (
		product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		location_id TEXT NOT NULL REFERENCES locations(id) ON DELETE CASCADE,
		qty INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (product_id, location_id)
	);

	-- Snapshot the count sessions are materialized from
	CREATE TABLE IF NOT EXISTS stock_snapshot (
		product_id TEXT NOT NULL,
		location_id TEXT NOT NULL,
		product_name TEXT NOT NULL,
		sku TEXT NOT NULL,
		barcode TEXT NOT NULL,
		unit_cost TEXT NOT NULL,
		location_code TEXT NOT NULL,
		zone TEXT NOT NULL,
		location_name TEXT NOT NULL,
		qty INTEGER NOT NULL,
		synced_at TEXT NOT NULL,
		PRIMARY KEY (product_id, location_id)
	);

	-- Movements (append-only ledger)
	CREATE TABLE IF NOT EXISTS stock_movements (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		location_id TEXT NOT NULL,
		delta INTEGER NOT NULL,
		movement_type TEXT NOT NULL,
		reference_id TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		value TEXT NOT NULL DEFAULT '0',
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_movements_reference
		ON stock_movements(reference_id);
	CREATE INDEX IF NOT EXISTS idx_movements_product_location
		ON stock_movements(product_id, location_id);

	-- Count sessions
	CREATE TABLE IF NOT EXISTS count_sessions (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		session_type TEXT NOT NULL,
		scope_json TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		submitted_at TEXT,
		submitted_by TEXT,
		approved_at TEXT,
		approved_by TEXT,
		cancelled_at TEXT,
		cancelled_by TEXT,
		completed_at TEXT,
		completed_by TEXT,
		adjustment_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_status
		ON count_sessions(status, created_at);

	CREATE TABLE IF NOT EXISTS count_lines (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES count_sessions(id) ON DELETE CASCADE,
		product_id TEXT NOT NULL,
		product_name TEXT NOT NULL,
		sku TEXT NOT NULL DEFAULT '',
		barcode TEXT NOT NULL DEFAULT '',
		location_id TEXT NOT NULL,
		location_code TEXT NOT NULL,
		zone TEXT NOT NULL DEFAULT '',
		system_qty INTEGER NOT NULL,
		counted_qty INTEGER,
		diff_qty INTEGER,
		unit_cost TEXT NOT NULL DEFAULT '0',
		counted_by TEXT,
		counted_at TEXT,
		UNIQUE (session_id, product_id, location_id)
	);

	CREATE INDEX IF NOT EXISTS idx_lines_session_order
		ON count_lines(session_id, location_code, product_name);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (count.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(count.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// inTx runs fn in its own transaction. Callers hold s.mu.
func (s *Store) inTx(ctx context.Context, fn func(q dbtx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// CATALOG
// =============================================================================

func (s *Store) GetProduct(ctx context.Context, id stock.ProductID) (*stock.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getProduct(ctx, s.db, id)
}

func (s *Store) GetLocation(ctx context.Context, id stock.LocationID) (*stock.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getLocation(ctx, s.db, id)
}

func (s *Store) ListLocations(ctx context.Context) ([]stock.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listLocations(ctx, s.db)
}

// SaveProduct inserts or updates a product. ON CONFLICT keeps the row (and
// its levels) in place, unlike INSERT OR REPLACE.
func (s *Store) SaveProduct(ctx context.Context, p stock.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, sku, barcode, name, unit_cost)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sku = excluded.sku, barcode = excluded.barcode,
			name = excluded.name, unit_cost = excluded.unit_cost
	`, p.ID, p.SKU, p.Barcode, p.Name, p.UnitCost.String())
	if err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

func (s *Store) SaveLocation(ctx context.Context, l stock.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO locations (id, code, zone, name)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code, zone = excluded.zone, name = excluded.name
	`, l.ID, l.Code, l.Zone, l.Name)
	if err != nil {
		return fmt.Errorf("failed to save location: %w", err)
	}
	return nil
}

// DeleteProduct removes a product; its levels go with it (ON DELETE CASCADE).
func (s *Store) DeleteProduct(ctx context.Context, id stock.ProductID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM products WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	return nil
}

func (s *Store) DeleteLocation(ctx context.Context, id stock.LocationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM locations WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete location: %w", err)
	}
	return nil
}

func getProduct(ctx context.Context, q dbtx, id stock.ProductID) (*stock.Product, error) {
	var (
		p    stock.Product
		cost string
	)
	err := q.QueryRowContext(ctx,
		"SELECT id, sku, barcode, name, unit_cost FROM products WHERE id = ?", id,
	).Scan(&p.ID, &p.SKU, &p.Barcode, &p.Name, &cost)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	p.UnitCost = parseDecimal(cost)
	return &p, nil
}

func getLocation(ctx context.Context, q dbtx, id stock.LocationID) (*stock.Location, error) {
	var l stock.Location
	err := q.QueryRowContext(ctx,
		"SELECT id, code, zone, name FROM locations WHERE id = ?", id,
	).Scan(&l.ID, &l.Code, &l.Zone, &l.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get location: %w", err)
	}
	return &l, nil
}

func listLocations(ctx context.Context, q dbtx) ([]stock.Location, error) {
	rows, err := q.QueryContext(ctx, "SELECT id, code, zone, name FROM locations ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	defer rows.Close()

	var out []stock.Location
	for rows.Next() {
		var l stock.Location
		if err := rows.Scan(&l.ID, &l.Code, &l.Zone, &l.Name); err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// =============================================================================
// LEDGER (stock.Ledger interface)
// =============================================================================

// ApplyMovements appends movements and moves levels atomically.
func (s *Store) ApplyMovements(ctx context.Context, movements []stock.Movement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(q dbtx) error {
		return applyMovements(ctx, q, movements)
	})
}

func (s *Store) Movements(ctx context.Context, filter stock.MovementFilter) ([]stock.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listMovements(ctx, s.db, filter)
}

func (s *Store) Levels(ctx context.Context, filter stock.PositionFilter) ([]stock.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return liveLevels(ctx, s.db, filter)
}

func applyMovements(ctx context.Context, q dbtx, movements []stock.Movement) error {
	// Check for duplicate idempotency keys within the batch first
	keys := make(map[string]bool)
	for _, mv := range movements {
		if err := mv.Validate(); err != nil {
			return err
		}
		if mv.IdempotencyKey != "" {
			if keys[mv.IdempotencyKey] {
				return stock.ErrDuplicateIdempotencyKey
			}
			keys[mv.IdempotencyKey] = true
		}
	}

	for _, mv := range movements {
		if p, err := getProduct(ctx, q, mv.ProductID); err != nil {
			return err
		} else if p == nil {
			return stock.ErrProductNotFound
		}
		if l, err := getLocation(ctx, q, mv.LocationID); err != nil {
			return err
		} else if l == nil {
			return stock.ErrLocationNotFound
		}

		_, err := q.ExecContext(ctx, `
			INSERT INTO stock_movements
			(id, product_id, location_id, delta, movement_type, reference_id, reason,
			 idempotency_key, value, created_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			mv.ID, mv.ProductID, mv.LocationID, mv.Delta, mv.Type,
			nullString(mv.ReferenceID), nullString(mv.Reason), nullString(mv.IdempotencyKey),
			mv.Value.String(), nullString(mv.CreatedBy), formatTime(mv.CreatedAt),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return stock.ErrDuplicateIdempotencyKey
			}
			return fmt.Errorf("failed to append movement: %w", err)
		}

		_, err = q.ExecContext(ctx, `
			INSERT INTO stock_levels (product_id, location_id, qty)
			VALUES (?, ?, ?)
			ON CONFLICT(product_id, location_id) DO UPDATE SET qty = qty + excluded.qty
		`, mv.ProductID, mv.LocationID, mv.Delta)
		if err != nil {
			return fmt.Errorf("failed to update level: %w", err)
		}
	}
	return nil
}

func listMovements(ctx context.Context, q dbtx, filter stock.MovementFilter) ([]stock.Movement, error) {
	var (
		where []string
		args  []any
	)
	if filter.ReferenceID != "" {
		where, args = append(where, "reference_id = ?"), append(args, filter.ReferenceID)
	}
	if filter.ProductID != "" {
		where, args = append(where, "product_id = ?"), append(args, filter.ProductID)
	}
	if filter.LocationID != "" {
		where, args = append(where, "location_id = ?"), append(args, filter.LocationID)
	}

	query := `
		SELECT id, product_id, location_id, delta, movement_type, reference_id, reason,
		       idempotency_key, value, created_by, created_at
		FROM stock_movements`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var out []stock.Movement
	for rows.Next() {
		var (
			mv                                stock.Movement
			reference, reason, key, createdBy sql.NullString
			value, createdAt                  string
		)
		err := rows.Scan(&mv.ID, &mv.ProductID, &mv.LocationID, &mv.Delta, &mv.Type,
			&reference, &reason, &key, &value, &createdBy, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		mv.ReferenceID = reference.String
		mv.Reason = reason.String
		mv.IdempotencyKey = key.String
		mv.Value = parseDecimal(value)
		mv.CreatedBy = createdBy.String
		mv.CreatedAt = parseTime(createdAt)
		out = append(out, mv)
	}
	return out, rows.Err()
}

func liveLevels(ctx context.Context, q dbtx, filter stock.PositionFilter) ([]stock.Position, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT p.id, p.sku, p.barcode, p.name, p.unit_cost,
		       l.id, l.code, l.zone, l.name, sl.qty
		FROM stock_levels sl
		JOIN products p ON p.id = sl.product_id
		JOIN locations l ON l.id = sl.location_id
		WHERE sl.qty != 0
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query levels: %w", err)
	}
	defer rows.Close()

	var out []stock.Position
	for rows.Next() {
		var (
			pos  stock.Position
			cost string
		)
		err := rows.Scan(&pos.Product.ID, &pos.Product.SKU, &pos.Product.Barcode, &pos.Product.Name, &cost,
			&pos.Location.ID, &pos.Location.Code, &pos.Location.Zone, &pos.Location.Name, &pos.Qty)
		if err != nil {
			return nil, fmt.Errorf("failed to scan level: %w", err)
		}
		pos.Product.UnitCost = parseDecimal(cost)
		if filter.Matches(pos.Location) {
			out = append(out, pos)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	stock.SortPositions(out)
	return out, nil
}

// =============================================================================
// SNAPSHOT (stock.Snapshotter interface)
// =============================================================================

func (s *Store) SyncSnapshot(ctx context.Context, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.inTx(ctx, func(q dbtx) error {
		var err error
		n, err = syncSnapshot(ctx, q, at)
		return err
	})
	return n, err
}

func (s *Store) SnapshotPositions(ctx context.Context, filter stock.PositionFilter) ([]stock.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotPositions(ctx, s.db, filter)
}

func (s *Store) SnapshotSize(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotSize(ctx, s.db)
}

func syncSnapshot(ctx context.Context, q dbtx, at time.Time) (int, error) {
	if _, err := q.ExecContext(ctx, "DELETE FROM stock_snapshot"); err != nil {
		return 0, fmt.Errorf("failed to clear snapshot: %w", err)
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO stock_snapshot
		(product_id, location_id, product_name, sku, barcode, unit_cost,
		 location_code, zone, location_name, qty, synced_at)
		SELECT p.id, l.id, p.name, p.sku, p.barcode, p.unit_cost,
		       l.code, l.zone, l.name, sl.qty, ?
		FROM stock_levels sl
		JOIN products p ON p.id = sl.product_id
		JOIN locations l ON l.id = sl.location_id
		WHERE sl.qty != 0
	`, formatTime(at))
	if err != nil {
		return 0, fmt.Errorf("failed to fill snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func snapshotPositions(ctx context.Context, q dbtx, filter stock.PositionFilter) ([]stock.Position, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, sku, barcode, product_name, unit_cost,
		       location_id, location_code, zone, location_name, qty, synced_at
		FROM stock_snapshot
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	var out []stock.Position
	for rows.Next() {
		var (
			pos            stock.Position
			cost, syncedAt string
		)
		err := rows.Scan(&pos.Product.ID, &pos.Product.SKU, &pos.Product.Barcode, &pos.Product.Name, &cost,
			&pos.Location.ID, &pos.Location.Code, &pos.Location.Zone, &pos.Location.Name, &pos.Qty, &syncedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		pos.Product.UnitCost = parseDecimal(cost)
		pos.SyncedAt = parseTime(syncedAt)
		if filter.Matches(pos.Location) {
			out = append(out, pos)
		}
	}
	return out, rows.Err()
}

func snapshotSize(ctx context.Context, q dbtx) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM stock_snapshot").Scan(&n)
	return n, err
}

// =============================================================================
// COUNT SESSIONS (count.Store interface)
// =============================================================================

func (s *Store) InsertSession(ctx context.Context, sess count.Session, lines []count.Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(q dbtx) error {
		return insertSession(ctx, q, sess, lines)
	})
}

func (s *Store) GetSession(ctx context.Context, id count.SessionID) (*count.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSession(ctx, s.db, id)
}

func (s *Store) ListSessions(ctx context.Context, filter count.SessionFilter) ([]count.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSessions(ctx, s.db, filter)
}

func (s *Store) ListLines(ctx context.Context, id count.SessionID) ([]count.Line, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listLines(ctx, s.db, id)
}

func (s *Store) SetCountedQty(ctx context.Context, w count.CountWrite) (*count.Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setCountedQty(ctx, s.db, w)
}

func (s *Store) TransitionStatus(ctx context.Context, c count.StatusChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return transitionStatus(ctx, s.db, c)
}

const sessionColumns = `
	id, code, session_type, scope_json, description, status, version,
	created_at, created_by, submitted_at, submitted_by, approved_at, approved_by,
	cancelled_at, cancelled_by, completed_at, completed_by, adjustment_count`

func insertSession(ctx context.Context, q dbtx, sess count.Session, lines []count.Line) error {
	scope, err := json.Marshal(sess.Scope)
	if err != nil {
		return fmt.Errorf("failed to encode scope: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO count_sessions (id, code, session_type, scope_json, description,
			status, version, created_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.Code, sess.Type, string(scope), sess.Description,
		sess.Status, sess.Version, formatTime(sess.CreatedAt), sess.CreatedBy)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	for _, l := range lines {
		_, err := q.ExecContext(ctx, `
			INSERT INTO count_lines (id, session_id, product_id, product_name, sku, barcode,
				location_id, location_code, zone, system_qty, unit_cost)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, l.ID, sess.ID, l.ProductID, l.ProductName, l.SKU, l.Barcode,
			l.LocationID, l.LocationCode, l.Zone, l.SystemQty, l.UnitCost.String())
		if err != nil {
			return fmt.Errorf("failed to insert line: %w", err)
		}
	}
	return nil
}

func getSession(ctx context.Context, q dbtx, id count.SessionID) (*count.Session, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+sessionColumns+" FROM count_sessions WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	sess, err := scanSession(rows)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func listSessions(ctx context.Context, q dbtx, filter count.SessionFilter) ([]count.Session, error) {
	query := "SELECT " + sessionColumns + " FROM count_sessions"
	var args []any
	if filter.Status != "" {
		query += " WHERE status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	out := []count.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func scanSession(rows *sql.Rows) (count.Session, error) {
	var (
		sess                                              count.Session
		scope, createdAt                                  string
		submittedAt, approvedAt, cancelledAt, completedAt sql.NullString
		submittedBy, approvedBy, cancelledBy, completedBy sql.NullString
	)
	err := rows.Scan(&sess.ID, &sess.Code, &sess.Type, &scope, &sess.Description, &sess.Status, &sess.Version,
		&createdAt, &sess.CreatedBy, &submittedAt, &submittedBy, &approvedAt, &approvedBy,
		&cancelledAt, &cancelledBy, &completedAt, &completedBy, &sess.AdjustmentCount)
	if err != nil {
		return sess, fmt.Errorf("failed to scan session: %w", err)
	}
	if err := json.Unmarshal([]byte(scope), &sess.Scope); err != nil {
		return sess, fmt.Errorf("failed to decode scope of %s: %w", sess.ID, err)
	}
	sess.CreatedAt = parseTime(createdAt)
	sess.SubmittedAt, sess.SubmittedBy = parseNullTime(submittedAt), submittedBy.String
	sess.ApprovedAt, sess.ApprovedBy = parseNullTime(approvedAt), approvedBy.String
	sess.CancelledAt, sess.CancelledBy = parseNullTime(cancelledAt), cancelledBy.String
	sess.CompletedAt, sess.CompletedBy = parseNullTime(completedAt), completedBy.String
	return sess, nil
}

const lineColumns = `
	id, session_id, product_id, product_name, sku, barcode, location_id, location_code,
	zone, system_qty, counted_qty, unit_cost, counted_by, counted_at`

func listLines(ctx context.Context, q dbtx, id count.SessionID) ([]count.Line, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+lineColumns+" FROM count_lines WHERE session_id = ? ORDER BY location_code, product_name, id", id)
	if err != nil {
		return nil, fmt.Errorf("failed to list lines: %w", err)
	}
	defer rows.Close()

	out := []count.Line{}
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func getLine(ctx context.Context, q dbtx, id count.LineID) (*count.Line, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+lineColumns+" FROM count_lines WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get line: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	l, err := scanLine(rows)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func scanLine(rows *sql.Rows) (count.Line, error) {
	var (
		l                    count.Line
		counted              sql.NullInt64
		cost                 string
		countedBy, countedAt sql.NullString
	)
	err := rows.Scan(&l.ID, &l.SessionID, &l.ProductID, &l.ProductName, &l.SKU, &l.Barcode,
		&l.LocationID, &l.LocationCode, &l.Zone, &l.SystemQty, &counted, &cost, &countedBy, &countedAt)
	if err != nil {
		return l, fmt.Errorf("failed to scan line: %w", err)
	}
	if counted.Valid {
		qty := counted.Int64
		l.CountedQty = &qty
	}
	l.UnitCost = parseDecimal(cost)
	l.CountedBy = countedBy.String
	l.CountedAt = parseNullTime(countedAt)
	return l, nil
}

// setCountedQty writes counted_qty and diff_qty in one statement, guarded
// by the session still being active.
func setCountedQty(ctx context.Context, q dbtx, w count.CountWrite) (*count.Line, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE count_lines
		SET counted_qty = ?, diff_qty = ? - system_qty, counted_by = ?, counted_at = ?
		WHERE id = ? AND session_id = ?
		  AND EXISTS (SELECT 1 FROM count_sessions WHERE id = ? AND status = ?)
	`, w.CountedQty, w.CountedQty, nullString(w.CountedBy), formatTime(w.CountedAt),
		w.LineID, w.SessionID, w.SessionID, count.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to record count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	if n == 0 {
		var status string
		err := q.QueryRowContext(ctx, "SELECT status FROM count_sessions WHERE id = ?", w.SessionID).Scan(&status)
		switch {
		case err == sql.ErrNoRows:
			return nil, &count.NotFoundError{Kind: "session", ID: string(w.SessionID)}
		case err != nil:
			return nil, fmt.Errorf("failed to read session status: %w", err)
		case !count.Status(status).Editable():
			return nil, count.ErrSessionLocked
		}
		return nil, &count.NotFoundError{Kind: "line", ID: string(w.LineID)}
	}

	return getLine(ctx, q, w.LineID)
}

// transitionStatus is a compare-and-set on (status, version).
func transitionStatus(ctx context.Context, q dbtx, c count.StatusChange) error {
	var actorCol, atCol string
	switch c.To {
	case count.StatusReview:
		actorCol, atCol = "submitted_by", "submitted_at"
	case count.StatusApproved:
		actorCol, atCol = "approved_by", "approved_at"
	case count.StatusCancelled:
		actorCol, atCol = "cancelled_by", "cancelled_at"
	case count.StatusCompleted:
		actorCol, atCol = "completed_by", "completed_at"
	default:
		return fmt.Errorf("no transition into status %q", c.To)
	}

	query := fmt.Sprintf(`
		UPDATE count_sessions
		SET status = ?, version = version + 1, %s = ?, %s = ?,
		    adjustment_count = CASE WHEN ? = 'approved' THEN ? ELSE adjustment_count END
		WHERE id = ? AND status = ? AND version = ?
	`, actorCol, atCol)

	res, err := q.ExecContext(ctx, query,
		c.To, c.Actor, formatTime(c.At), c.To, c.AdjustmentCount,
		c.SessionID, c.From, c.Version)
	if err != nil {
		return fmt.Errorf("failed to transition session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM count_sessions WHERE id = ?", c.SessionID).Scan(&exists)
		if err == nil && exists == 0 {
			return &count.NotFoundError{Kind: "session", ID: string(c.SessionID)}
		}
		return count.ErrStatusConflict
	}
	return nil
}

// =============================================================================
// TX VIEW
// =============================================================================

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetProduct(ctx context.Context, id stock.ProductID) (*stock.Product, error) {
	return getProduct(ctx, ts.tx, id)
}

func (ts *txStore) GetLocation(ctx context.Context, id stock.LocationID) (*stock.Location, error) {
	return getLocation(ctx, ts.tx, id)
}

func (ts *txStore) ListLocations(ctx context.Context) ([]stock.Location, error) {
	return listLocations(ctx, ts.tx)
}

func (ts *txStore) ApplyMovements(ctx context.Context, movements []stock.Movement) error {
	return applyMovements(ctx, ts.tx, movements)
}

func (ts *txStore) Movements(ctx context.Context, filter stock.MovementFilter) ([]stock.Movement, error) {
	return listMovements(ctx, ts.tx, filter)
}

func (ts *txStore) Levels(ctx context.Context, filter stock.PositionFilter) ([]stock.Position, error) {
	return liveLevels(ctx, ts.tx, filter)
}

func (ts *txStore) SyncSnapshot(ctx context.Context, at time.Time) (int, error) {
	return syncSnapshot(ctx, ts.tx, at)
}

func (ts *txStore) SnapshotPositions(ctx context.Context, filter stock.PositionFilter) ([]stock.Position, error) {
	return snapshotPositions(ctx, ts.tx, filter)
}

func (ts *txStore) SnapshotSize(ctx context.Context) (int, error) {
	return snapshotSize(ctx, ts.tx)
}

func (ts *txStore) InsertSession(ctx context.Context, sess count.Session, lines []count.Line) error {
	return insertSession(ctx, ts.tx, sess, lines)
}

func (ts *txStore) GetSession(ctx context.Context, id count.SessionID) (*count.Session, error) {
	return getSession(ctx, ts.tx, id)
}

func (ts *txStore) ListSessions(ctx context.Context, filter count.SessionFilter) ([]count.Session, error) {
	return listSessions(ctx, ts.tx, filter)
}

func (ts *txStore) ListLines(ctx context.Context, id count.SessionID) ([]count.Line, error) {
	return listLines(ctx, ts.tx, id)
}

func (ts *txStore) SetCountedQty(ctx context.Context, w count.CountWrite) (*count.Line, error) {
	return setCountedQty(ctx, ts.tx, w)
}

func (ts *txStore) TransitionStatus(ctx context.Context, c count.StatusChange) error {
	return transitionStatus(ctx, ts.tx, c)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"count_lines", "count_sessions", "stock_movements", "stock_snapshot",
		"stock_levels", "locations", "products"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var (
	_ count.TxStore = (*Store)(nil)
	_ stock.Store   = (*Store)(nil)
	_ count.Tx      = (*txStore)(nil)
)
