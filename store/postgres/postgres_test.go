package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/warp/stockcount/store/postgres"
	"github.com/warp/stockcount/store/storetest"
)

// Runs only against a disposable database named by POSTGRES_TEST_DSN.
// Every subtest truncates all tables first.
func TestPostgresConformance(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	store, err := postgres.New(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	storetest.Run(t, func(t *testing.T) storetest.Store {
		require.NoError(t, store.Reset(context.Background()))
		return store
	})
}
