package count_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stockcount/count"
)

func TestParseQuantity(t *testing.T) {
	valid := map[string]int64{
		`7`:     7,
		`0`:     0,
		`"7"`:   7,
		`" 12"`: 12,
		`7.0`:   7,
	}
	for raw, want := range valid {
		got, err := count.ParseQuantity(json.RawMessage(raw))
		require.NoError(t, err, "input %s", raw)
		assert.Equal(t, want, got, "input %s", raw)
	}

	// Never coerced to zero
	for _, raw := range []string{``, `null`, `-1`, `"-3"`, `7.5`, `"abc"`, `""`, `true`, `[1]`} {
		_, err := count.ParseQuantity(json.RawMessage(raw))
		assert.ErrorIs(t, err, count.ErrValidation, "input %q", raw)
	}
}

func TestLineFilter_Parse(t *testing.T) {
	f, ok := count.ParseLineFilter("")
	assert.True(t, ok)
	assert.Equal(t, count.LinesAll, f)

	f, ok = count.ParseLineFilter("discrepancy")
	assert.True(t, ok)
	assert.Equal(t, count.LinesDiscrepancy, f)

	_, ok = count.ParseLineFilter("weird")
	assert.False(t, ok)
}

func TestComputeStats_UncountedIsNotZero(t *testing.T) {
	zero, five := int64(0), int64(5)
	lines := []count.Line{
		{ID: "a", SystemQty: 5},                    // uncounted
		{ID: "b", SystemQty: 5, CountedQty: &five}, // match
		{ID: "c", SystemQty: 5, CountedQty: &zero}, // counted empty
	}

	st := count.ComputeStats(lines)
	assert.Equal(t, 3, st.TotalLines)
	assert.Equal(t, 2, st.CountedLines)
	assert.Equal(t, 1, st.UncountedLines)
	assert.Equal(t, 1, st.DiscrepancyLines)
	assert.Equal(t, int64(-5), st.NetDiff)

	_, ok := lines[0].Diff()
	assert.False(t, ok)
	assert.False(t, lines[0].HasDiscrepancy())
}
