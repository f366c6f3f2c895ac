package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stockcount/stock"
	"github.com/warp/stockcount/store/sqlite"
	"github.com/warp/stockcount/store/storetest"
)

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store {
		return newTestStore(t)
	})
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "stockcount.db")

	// GIVEN: A product written to a file database
	store, err := sqlite.New(path)
	require.NoError(t, err)
	require.NoError(t, store.SaveProduct(ctx, stock.Product{ID: "p-1", Name: "Widget"}))
	require.NoError(t, store.Close())

	// WHEN: Reopening it
	store, err = sqlite.New(path)
	require.NoError(t, err)
	defer store.Close()

	// THEN: The product is still there
	p, err := store.GetProduct(ctx, "p-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Widget", p.Name)
}

func TestSQLite_Reset(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.SaveProduct(ctx, stock.Product{ID: "p-1", Name: "Widget"}))
	require.NoError(t, store.SaveLocation(ctx, stock.Location{ID: "l-1", Code: "A1-01", Zone: "A"}))
	require.NoError(t, store.ApplyMovements(ctx, []stock.Movement{
		stock.Receive(stock.Product{ID: "p-1"}, "l-1", 3, "seed"),
	}))

	require.NoError(t, store.Reset(ctx))

	p, err := store.GetProduct(ctx, "p-1")
	require.NoError(t, err)
	assert.Nil(t, p)
	movements, err := store.Movements(ctx, stock.MovementFilter{})
	require.NoError(t, err)
	assert.Empty(t, movements)
}
