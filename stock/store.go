/*
store.go - Persistence interfaces for the stock ledger

KEY INTERFACES:
  Catalog:       Read products and locations (nil, nil when missing)
  CatalogWriter: Maintain products and locations
  Ledger:        Append movements, read movements and live levels
  Snapshotter:   Copy live levels into the snapshot table and read it back

APPEND-ONLY CONTRACT:
  ApplyMovements is the only way a level changes. It appends every movement
  and adds its delta to the matching level in one atomic unit: either all
  movements are recorded and all levels move, or nothing changes.

SNAPSHOT:
  Count sessions are materialized from the snapshot, not from live levels.
  SyncSnapshot replaces the snapshot with the current live levels (nonzero
  quantities only). Until the first sync the snapshot is empty.

IMPLEMENTATIONS:
  - store/memory:   In-memory (tests, demos)
  - store/sqlite:   SQLite (default)
  - store/postgres: PostgreSQL through gorm
*/
package stock

import (
	"context"
	"time"
)

// Catalog reads products and locations.
type Catalog interface {
	GetProduct(ctx context.Context, id ProductID) (*Product, error)
	GetLocation(ctx context.Context, id LocationID) (*Location, error)
	ListLocations(ctx context.Context) ([]Location, error)
}

// CatalogWriter maintains products and locations. Saves are upserts.
type CatalogWriter interface {
	SaveProduct(ctx context.Context, p Product) error
	SaveLocation(ctx context.Context, l Location) error
	DeleteProduct(ctx context.Context, id ProductID) error
	DeleteLocation(ctx context.Context, id LocationID) error
}

// Ledger is the append-only movement log plus the live levels it maintains.
type Ledger interface {
	// ApplyMovements appends movements and updates levels atomically.
	// Fails with ErrDuplicateIdempotencyKey, ErrProductNotFound,
	// ErrLocationNotFound or ErrInvalidMovement without side effects.
	ApplyMovements(ctx context.Context, movements []Movement) error

	// Movements returns movements matching the filter, oldest first.
	Movements(ctx context.Context, filter MovementFilter) ([]Movement, error)

	// Levels returns live positions matching the filter, zero quantities excluded.
	Levels(ctx context.Context, filter PositionFilter) ([]Position, error)
}

// Snapshotter maintains the snapshot that count sessions read.
type Snapshotter interface {
	// SyncSnapshot replaces the snapshot with the live levels and returns
	// the number of positions written.
	SyncSnapshot(ctx context.Context, at time.Time) (int, error)

	// SnapshotPositions returns snapshot rows matching the filter.
	SnapshotPositions(ctx context.Context, filter PositionFilter) ([]Position, error)

	// SnapshotSize returns the number of rows in the snapshot.
	SnapshotSize(ctx context.Context) (int, error)
}

// Store is everything the stock side of the system persists.
type Store interface {
	Catalog
	CatalogWriter
	Ledger
	Snapshotter
}
