/*
Package postgres provides a PostgreSQL store built on gorm.

PURPOSE:
  Same contract as store/sqlite for deployments that already run
  PostgreSQL. Tables are created with AutoMigrate; the two guarded writes
  (count a line, change a session status) are single raw UPDATE statements
  so the guard and the write cannot be split.

TRANSACTIONS:
  WithTx hands the callback a Store bound to the gorm transaction. Nested
  atomic calls (ApplyMovements, SyncSnapshot) run as savepoints.

USAGE:
  store, err := postgres.New("host=localhost user=stock dbname=stock sslmode=disable")
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stockcount/count"
	"github.com/warp/stockcount/stock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// =============================================================================
// MODELS
// =============================================================================

type productRow struct {
	ID       string          `gorm:"primaryKey"`
	SKU      string          `gorm:"size:64"`
	Barcode  string          `gorm:"size:64"`
	Name     string          `gorm:"size:255;not null"`
	UnitCost decimal.Decimal `gorm:"type:numeric(18,4);not null"`
}

func (productRow) TableName() string { return "products" }

type locationRow struct {
	ID   string `gorm:"primaryKey"`
	Code string `gorm:"size:64;uniqueIndex;not null"`
	Zone string `gorm:"size:64;index"`
	Name string `gorm:"size:255"`
}

func (locationRow) TableName() string { return "locations" }

type levelRow struct {
	ProductID  string `gorm:"primaryKey"`
	LocationID string `gorm:"primaryKey"`
	Qty        int64  `gorm:"not null"`
}

func (levelRow) TableName() string { return "stock_levels" }

type snapshotRow struct {
	ProductID    string          `gorm:"primaryKey"`
	LocationID   string          `gorm:"primaryKey"`
	ProductName  string          `gorm:"not null"`
	SKU          string
	Barcode      string
	UnitCost     decimal.Decimal `gorm:"type:numeric(18,4);not null"`
	LocationCode string          `gorm:"not null"`
	Zone         string
	LocationName string
	Qty          int64     `gorm:"not null"`
	SyncedAt     time.Time `gorm:"not null"`
}

func (snapshotRow) TableName() string { return "stock_snapshot" }

type movementRow struct {
	ID             string          `gorm:"primaryKey"`
	ProductID      string          `gorm:"index:idx_movements_product_location;not null"`
	LocationID     string          `gorm:"index:idx_movements_product_location;not null"`
	Delta          int64           `gorm:"not null"`
	MovementType   string          `gorm:"size:32;not null"`
	ReferenceID    string          `gorm:"index"`
	Reason         string
	IdempotencyKey *string         `gorm:"uniqueIndex"`
	Value          decimal.Decimal `gorm:"type:numeric(18,4);not null"`
	CreatedBy      string
	CreatedAt      time.Time `gorm:"index;not null"`
}

func (movementRow) TableName() string { return "stock_movements" }

type sessionRow struct {
	ID              string `gorm:"primaryKey"`
	Code            string `gorm:"size:32;uniqueIndex;not null"`
	SessionType     string `gorm:"size:16;not null"`
	ScopeJSON       string `gorm:"type:text;not null"`
	Description     string
	Status          string    `gorm:"size:16;index;not null"`
	Version         int64     `gorm:"not null"`
	CreatedAt       time.Time `gorm:"index;not null"`
	CreatedBy       string
	SubmittedAt     *time.Time
	SubmittedBy     string
	ApprovedAt      *time.Time
	ApprovedBy      string
	CancelledAt     *time.Time
	CancelledBy     string
	CompletedAt     *time.Time
	CompletedBy     string
	AdjustmentCount int
}

func (sessionRow) TableName() string { return "count_sessions" }

type lineRow struct {
	ID           string `gorm:"primaryKey"`
	SessionID    string `gorm:"index;not null"`
	ProductID    string `gorm:"not null"`
	ProductName  string `gorm:"not null"`
	SKU          string
	Barcode      string
	LocationID   string `gorm:"not null"`
	LocationCode string `gorm:"not null"`
	Zone         string
	SystemQty    int64 `gorm:"not null"`
	CountedQty   *int64
	DiffQty      *int64
	UnitCost     decimal.Decimal `gorm:"type:numeric(18,4);not null"`
	CountedBy    string
	CountedAt    *time.Time
}

func (lineRow) TableName() string { return "count_lines" }

// =============================================================================
// STORE
// =============================================================================

// Store implements count.TxStore and stock.Store on PostgreSQL.
type Store struct {
	db *gorm.DB
}

// New connects and migrates the schema.
func New(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	err = db.AutoMigrate(
		&productRow{},
		&locationRow{},
		&levelRow{},
		&snapshotRow{},
		&movementRow{},
		&sessionRow{},
		&lineRow{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx runs fn inside a gorm transaction.
func (s *Store) WithTx(ctx context.Context, fn func(count.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) q(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	return s.q(ctx).Exec(`TRUNCATE count_lines, count_sessions, stock_movements,
		stock_snapshot, stock_levels, locations, products`).Error
}

// =============================================================================
// CATALOG
// =============================================================================

func (s *Store) GetProduct(ctx context.Context, id stock.ProductID) (*stock.Product, error) {
	var row productRow
	err := s.q(ctx).Take(&row, "id = ?", string(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	p := row.toProduct()
	return &p, nil
}

func (s *Store) GetLocation(ctx context.Context, id stock.LocationID) (*stock.Location, error) {
	var row locationRow
	err := s.q(ctx).Take(&row, "id = ?", string(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get location: %w", err)
	}
	l := row.toLocation()
	return &l, nil
}

func (s *Store) ListLocations(ctx context.Context) ([]stock.Location, error) {
	var rows []locationRow
	if err := s.q(ctx).Order("code").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	out := make([]stock.Location, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toLocation())
	}
	return out, nil
}

func (s *Store) SaveProduct(ctx context.Context, p stock.Product) error {
	row := productRow{ID: string(p.ID), SKU: p.SKU, Barcode: p.Barcode, Name: p.Name, UnitCost: p.UnitCost}
	err := s.q(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

func (s *Store) SaveLocation(ctx context.Context, l stock.Location) error {
	row := locationRow{ID: string(l.ID), Code: l.Code, Zone: l.Zone, Name: l.Name}
	err := s.q(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save location: %w", err)
	}
	return nil
}

// DeleteProduct removes a product and its live levels.
func (s *Store) DeleteProduct(ctx context.Context, id stock.ProductID) error {
	return s.q(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("product_id = ?", string(id)).Delete(&levelRow{}).Error; err != nil {
			return fmt.Errorf("failed to delete levels: %w", err)
		}
		if err := tx.Where("id = ?", string(id)).Delete(&productRow{}).Error; err != nil {
			return fmt.Errorf("failed to delete product: %w", err)
		}
		return nil
	})
}

func (s *Store) DeleteLocation(ctx context.Context, id stock.LocationID) error {
	return s.q(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("location_id = ?", string(id)).Delete(&levelRow{}).Error; err != nil {
			return fmt.Errorf("failed to delete levels: %w", err)
		}
		if err := tx.Where("id = ?", string(id)).Delete(&locationRow{}).Error; err != nil {
			return fmt.Errorf("failed to delete location: %w", err)
		}
		return nil
	})
}

// =============================================================================
// LEDGER
// =============================================================================

// ApplyMovements appends movements and moves levels atomically.
func (s *Store) ApplyMovements(ctx context.Context, movements []stock.Movement) error {
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

	return s.q(ctx).Transaction(func(tx *gorm.DB) error {
		ts := &Store{db: tx}
		for _, mv := range movements {
			if p, err := ts.GetProduct(ctx, mv.ProductID); err != nil {
				return err
			} else if p == nil {
				return stock.ErrProductNotFound
			}
			if l, err := ts.GetLocation(ctx, mv.LocationID); err != nil {
				return err
			} else if l == nil {
				return stock.ErrLocationNotFound
			}

			row := movementRow{
				ID:           string(mv.ID),
				ProductID:    string(mv.ProductID),
				LocationID:   string(mv.LocationID),
				Delta:        mv.Delta,
				MovementType: string(mv.Type),
				ReferenceID:  mv.ReferenceID,
				Reason:       mv.Reason,
				Value:        mv.Value,
				CreatedBy:    mv.CreatedBy,
				CreatedAt:    mv.CreatedAt.UTC(),
			}
			if mv.IdempotencyKey != "" {
				key := mv.IdempotencyKey
				row.IdempotencyKey = &key
			}
			if err := tx.Create(&row).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return stock.ErrDuplicateIdempotencyKey
				}
				return fmt.Errorf("failed to append movement: %w", err)
			}

			err := tx.Exec(`
				INSERT INTO stock_levels (product_id, location_id, qty)
				VALUES (?, ?, ?)
				ON CONFLICT (product_id, location_id)
				DO UPDATE SET qty = stock_levels.qty + EXCLUDED.qty
			`, string(mv.ProductID), string(mv.LocationID), mv.Delta).Error
			if err != nil {
				return fmt.Errorf("failed to update level: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) Movements(ctx context.Context, filter stock.MovementFilter) ([]stock.Movement, error) {
	q := s.q(ctx).Model(&movementRow{})
	if filter.ReferenceID != "" {
		q = q.Where("reference_id = ?", filter.ReferenceID)
	}
	if filter.ProductID != "" {
		q = q.Where("product_id = ?", string(filter.ProductID))
	}
	if filter.LocationID != "" {
		q = q.Where("location_id = ?", string(filter.LocationID))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []movementRow
	if err := q.Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	out := make([]stock.Movement, 0, len(rows))
	for _, r := range rows {
		mv := stock.Movement{
			ID:          stock.MovementID(r.ID),
			ProductID:   stock.ProductID(r.ProductID),
			LocationID:  stock.LocationID(r.LocationID),
			Delta:       r.Delta,
			Type:        stock.MovementType(r.MovementType),
			ReferenceID: r.ReferenceID,
			Reason:      r.Reason,
			Value:       r.Value,
			CreatedBy:   r.CreatedBy,
			CreatedAt:   r.CreatedAt,
		}
		if r.IdempotencyKey != nil {
			mv.IdempotencyKey = *r.IdempotencyKey
		}
		out = append(out, mv)
	}
	return out, nil
}

// positionRow is the shape of the level and snapshot joins.
type positionRow struct {
	ProductID    string
	SKU          string
	Barcode      string
	ProductName  string
	UnitCost     decimal.Decimal
	LocationID   string
	LocationCode string
	Zone         string
	LocationName string
	Qty          int64
	SyncedAt     *time.Time
}

func (r positionRow) toPosition() stock.Position {
	p := stock.Position{
		Product: stock.Product{
			ID: stock.ProductID(r.ProductID), SKU: r.SKU, Barcode: r.Barcode,
			Name: r.ProductName, UnitCost: r.UnitCost,
		},
		Location: stock.Location{
			ID: stock.LocationID(r.LocationID), Code: r.LocationCode,
			Zone: r.Zone, Name: r.LocationName,
		},
		Qty: r.Qty,
	}
	if r.SyncedAt != nil {
		p.SyncedAt = *r.SyncedAt
	}
	return p
}

func (s *Store) Levels(ctx context.Context, filter stock.PositionFilter) ([]stock.Position, error) {
	var rows []positionRow
	err := s.q(ctx).Raw(`
		SELECT p.id AS product_id, p.sku, p.barcode, p.name AS product_name, p.unit_cost,
		       l.id AS location_id, l.code AS location_code, l.zone, l.name AS location_name,
		       sl.qty
		FROM stock_levels sl
		JOIN products p ON p.id = sl.product_id
		JOIN locations l ON l.id = sl.location_id
		WHERE sl.qty <> 0
	`).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query levels: %w", err)
	}
	return filterPositions(rows, filter, true), nil
}

func filterPositions(rows []positionRow, filter stock.PositionFilter, sorted bool) []stock.Position {
	var out []stock.Position
	for _, r := range rows {
		pos := r.toPosition()
		if filter.Matches(pos.Location) {
			out = append(out, pos)
		}
	}
	if sorted {
		stock.SortPositions(out)
	}
	return out
}

// =============================================================================
// SNAPSHOT
// =============================================================================

func (s *Store) SyncSnapshot(ctx context.Context, at time.Time) (int, error) {
	var n int64
	err := s.q(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM stock_snapshot").Error; err != nil {
			return fmt.Errorf("failed to clear snapshot: %w", err)
		}
		res := tx.Exec(`
			INSERT INTO stock_snapshot
			(product_id, location_id, product_name, sku, barcode, unit_cost,
			 location_code, zone, location_name, qty, synced_at)
			SELECT p.id, l.id, p.name, p.sku, p.barcode, p.unit_cost,
			       l.code, l.zone, l.name, sl.qty, ?
			FROM stock_levels sl
			JOIN products p ON p.id = sl.product_id
			JOIN locations l ON l.id = sl.location_id
			WHERE sl.qty <> 0
		`, at.UTC())
		if res.Error != nil {
			return fmt.Errorf("failed to fill snapshot: %w", res.Error)
		}
		n = res.RowsAffected
		return nil
	})
	return int(n), err
}

func (s *Store) SnapshotPositions(ctx context.Context, filter stock.PositionFilter) ([]stock.Position, error) {
	var rows []positionRow
	err := s.q(ctx).Model(&snapshotRow{}).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	return filterPositions(rows, filter, false), nil
}

func (s *Store) SnapshotSize(ctx context.Context) (int, error) {
	var n int64
	if err := s.q(ctx).Model(&snapshotRow{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

// =============================================================================
// COUNT SESSIONS
// =============================================================================

func (s *Store) InsertSession(ctx context.Context, sess count.Session, lines []count.Line) error {
	scope, err := json.Marshal(sess.Scope)
	if err != nil {
		return fmt.Errorf("failed to encode scope: %w", err)
	}

	return s.q(ctx).Transaction(func(tx *gorm.DB) error {
		row := sessionRow{
			ID:          string(sess.ID),
			Code:        sess.Code,
			SessionType: string(sess.Type),
			ScopeJSON:   string(scope),
			Description: sess.Description,
			Status:      string(sess.Status),
			Version:     sess.Version,
			CreatedAt:   sess.CreatedAt.UTC(),
			CreatedBy:   sess.CreatedBy,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		if len(lines) == 0 {
			return nil
		}

		rows := make([]lineRow, 0, len(lines))
		for _, l := range lines {
			rows = append(rows, lineRow{
				ID:           string(l.ID),
				SessionID:    string(sess.ID),
				ProductID:    string(l.ProductID),
				ProductName:  l.ProductName,
				SKU:          l.SKU,
				Barcode:      l.Barcode,
				LocationID:   string(l.LocationID),
				LocationCode: l.LocationCode,
				Zone:         l.Zone,
				SystemQty:    l.SystemQty,
				UnitCost:     l.UnitCost,
			})
		}
		if err := tx.CreateInBatches(rows, 500).Error; err != nil {
			return fmt.Errorf("failed to insert lines: %w", err)
		}
		return nil
	})
}

func (s *Store) GetSession(ctx context.Context, id count.SessionID) (*count.Session, error) {
	var row sessionRow
	err := s.q(ctx).Take(&row, "id = ?", string(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	sess, err := row.toSession()
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) ListSessions(ctx context.Context, filter count.SessionFilter) ([]count.Session, error) {
	q := s.q(ctx).Model(&sessionRow{})
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	var rows []sessionRow
	if err := q.Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	out := make([]count.Session, 0, len(rows))
	for _, r := range rows {
		sess, err := r.toSession()
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *Store) ListLines(ctx context.Context, id count.SessionID) ([]count.Line, error) {
	var rows []lineRow
	err := s.q(ctx).Where("session_id = ?", string(id)).
		Order("location_code, product_name, id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list lines: %w", err)
	}
	out := make([]count.Line, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toLine())
	}
	return out, nil
}

// SetCountedQty writes counted_qty and diff_qty in one statement, guarded
// by the session still being active.
func (s *Store) SetCountedQty(ctx context.Context, w count.CountWrite) (*count.Line, error) {
	res := s.q(ctx).Exec(`
		UPDATE count_lines
		SET counted_qty = ?, diff_qty = ? - system_qty, counted_by = ?, counted_at = ?
		WHERE id = ? AND session_id = ?
		  AND EXISTS (SELECT 1 FROM count_sessions WHERE id = ? AND status = ?)
	`, w.CountedQty, w.CountedQty, w.CountedBy, w.CountedAt.UTC(),
		string(w.LineID), string(w.SessionID), string(w.SessionID), string(count.StatusActive))
	if res.Error != nil {
		return nil, fmt.Errorf("failed to record count: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		sess, err := s.GetSession(ctx, w.SessionID)
		switch {
		case err != nil:
			return nil, err
		case sess == nil:
			return nil, &count.NotFoundError{Kind: "session", ID: string(w.SessionID)}
		case !sess.Status.Editable():
			return nil, count.ErrSessionLocked
		}
		return nil, &count.NotFoundError{Kind: "line", ID: string(w.LineID)}
	}

	var row lineRow
	if err := s.q(ctx).Take(&row, "id = ?", string(w.LineID)).Error; err != nil {
		return nil, fmt.Errorf("failed to reload line: %w", err)
	}
	l := row.toLine()
	return &l, nil
}

// TransitionStatus is a compare-and-set on (status, version).
func (s *Store) TransitionStatus(ctx context.Context, c count.StatusChange) error {
	updates := map[string]any{
		"status":  string(c.To),
		"version": gorm.Expr("version + 1"),
	}
	at := c.At.UTC()
	switch c.To {
	case count.StatusReview:
		updates["submitted_at"], updates["submitted_by"] = at, c.Actor
	case count.StatusApproved:
		updates["approved_at"], updates["approved_by"] = at, c.Actor
		updates["adjustment_count"] = c.AdjustmentCount
	case count.StatusCancelled:
		updates["cancelled_at"], updates["cancelled_by"] = at, c.Actor
	case count.StatusCompleted:
		updates["completed_at"], updates["completed_by"] = at, c.Actor
	default:
		return fmt.Errorf("no transition into status %q", c.To)
	}

	res := s.q(ctx).Model(&sessionRow{}).
		Where("id = ? AND status = ? AND version = ?", string(c.SessionID), string(c.From), c.Version).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to transition session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		sess, err := s.GetSession(ctx, c.SessionID)
		if err == nil && sess == nil {
			return &count.NotFoundError{Kind: "session", ID: string(c.SessionID)}
		}
		return count.ErrStatusConflict
	}
	return nil
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func (r productRow) toProduct() stock.Product {
	return stock.Product{ID: stock.ProductID(r.ID), SKU: r.SKU, Barcode: r.Barcode, Name: r.Name, UnitCost: r.UnitCost}
}

func (r locationRow) toLocation() stock.Location {
	return stock.Location{ID: stock.LocationID(r.ID), Code: r.Code, Zone: r.Zone, Name: r.Name}
}

func (r sessionRow) toSession() (count.Session, error) {
	sess := count.Session{
		ID:              count.SessionID(r.ID),
		Code:            r.Code,
		Type:            count.SessionType(r.SessionType),
		Description:     r.Description,
		Status:          count.Status(r.Status),
		Version:         r.Version,
		CreatedAt:       r.CreatedAt,
		CreatedBy:       r.CreatedBy,
		SubmittedAt:     r.SubmittedAt,
		SubmittedBy:     r.SubmittedBy,
		ApprovedAt:      r.ApprovedAt,
		ApprovedBy:      r.ApprovedBy,
		CancelledAt:     r.CancelledAt,
		CancelledBy:     r.CancelledBy,
		CompletedAt:     r.CompletedAt,
		CompletedBy:     r.CompletedBy,
		AdjustmentCount: r.AdjustmentCount,
	}
	if err := json.Unmarshal([]byte(r.ScopeJSON), &sess.Scope); err != nil {
		return sess, fmt.Errorf("failed to decode scope of %s: %w", r.ID, err)
	}
	return sess, nil
}

func (r lineRow) toLine() count.Line {
	return count.Line{
		ID:           count.LineID(r.ID),
		SessionID:    count.SessionID(r.SessionID),
		ProductID:    stock.ProductID(r.ProductID),
		ProductName:  r.ProductName,
		SKU:          r.SKU,
		Barcode:      r.Barcode,
		LocationID:   stock.LocationID(r.LocationID),
		LocationCode: r.LocationCode,
		Zone:         r.Zone,
		SystemQty:    r.SystemQty,
		CountedQty:   r.CountedQty,
		UnitCost:     r.UnitCost,
		CountedBy:    r.CountedBy,
		CountedAt:    r.CountedAt,
	}
}

var (
	_ count.TxStore = (*Store)(nil)
	_ stock.Store   = (*Store)(nil)
)
