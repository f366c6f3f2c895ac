package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stockcount/count"
	"github.com/warp/stockcount/stock"
)

func TestLoadScenarios_Embedded(t *testing.T) {
	all, err := LoadScenarios()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "small-warehouse", all[0].ID)
	assert.Equal(t, "distribution-center", all[1].ID)
}

func TestParseScenario_Rejects(t *testing.T) {
	tests := map[string]string{
		"missing id": `name: x`,
		"bad cost": `
id: x
products: [{id: p, unit_cost: "cheap"}]`,
		"unknown product": `
id: x
locations: [{id: l, code: L}]
stock: [{product: p, location: l, qty: 1}]`,
		"unknown location": `
id: x
products: [{id: p, unit_cost: "1"}]
stock: [{product: p, location: l, qty: 1}]`,
		"zero qty": `
id: x
products: [{id: p, unit_cost: "1"}]
locations: [{id: l, code: L}]
stock: [{product: p, location: l, qty: 0}]`,
		"duplicate stock row": `
id: x
products: [{id: p, unit_cost: "1"}]
locations: [{id: l, code: L}]
stock: [{product: p, location: l, qty: 5}, {product: p, location: l, qty: 3}]`,
		"not yaml": `id: [`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseScenario([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestScenarioLoad_ReplacesData(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	dc, err := FindScenario("distribution-center")
	require.NoError(t, err)
	small, err := FindScenario("small-warehouse")
	require.NoError(t, err)

	// GIVEN: One scenario loaded
	res, err := dc.Load(ctx, env.store, env.engine)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Positions)

	// WHEN: Another one is loaded on top
	res, err = small.Load(ctx, env.store, env.engine)
	require.NoError(t, err)

	// THEN: Only the second one's data remains
	assert.Equal(t, 4, res.Positions)
	p, err := env.store.GetProduct(ctx, "p-drill")
	require.NoError(t, err)
	assert.Nil(t, p)

	levels, err := env.store.Levels(ctx, stock.PositionFilter{Zones: []string{"A"}})
	require.NoError(t, err)
	assert.Len(t, levels, 3)

	// AND: Receipts are in the ledger under the scenario reference
	ms, err := env.store.Movements(ctx, stock.MovementFilter{ReferenceID: "scenario:small-warehouse"})
	require.NoError(t, err)
	assert.Len(t, ms, 4)
	for _, m := range ms {
		assert.Equal(t, stock.MovementReceipt, m.Type)
	}

	_, err = FindScenario("nope")
	assert.ErrorIs(t, err, count.ErrNotFound)
}

func TestScenarioLoad_InvalidLeavesStoreUntouched(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	// GIVEN: A loaded scenario
	small, err := FindScenario("small-warehouse")
	require.NoError(t, err)
	_, err = small.Load(ctx, env.store, env.engine)
	require.NoError(t, err)

	// WHEN: A scenario stocking the same position twice is loaded
	bad := &Scenario{
		ID:        "twice",
		Products:  []ScenarioProduct{{ID: "p1", Name: "Thing", UnitCost: "1"}},
		Locations: []ScenarioLocation{{ID: "a1", Code: "A1", Zone: "A"}},
		Stock: []ScenarioStock{
			{Product: "p1", Location: "a1", Qty: 5},
			{Product: "p1", Location: "a1", Qty: 3},
		},
	}
	_, err = bad.Load(ctx, env.store, env.engine)

	// THEN: It is rejected before the store is reset
	assert.ErrorContains(t, err, "already stocked")
	ms, err := env.store.Movements(ctx, stock.MovementFilter{ReferenceID: "scenario:small-warehouse"})
	require.NoError(t, err)
	assert.Len(t, ms, 4)
}
