package count_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stockcount/count"
)

func TestScope_JSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  count.Scope
	}{
		{"all", `"all"`, count.AllLocations()},
		{"zones", `{"zones":["A","B"]}`, count.InZones("A", "B")},
		{"locations", `{"locationCodes":["A1-01"]}`, count.AtLocations("A1-01")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got count.Scope
			require.NoError(t, json.Unmarshal([]byte(tt.input), &got))
			assert.Equal(t, tt.want, got)

			out, err := json.Marshal(got)
			require.NoError(t, err)
			assert.JSONEq(t, tt.input, string(out))
		})
	}
}

func TestScope_JSONRejectsMalformed(t *testing.T) {
	for _, input := range []string{
		`"everything"`,
		`{}`,
		`{"zones":[]}`,
		`{"zones":["A"],"locationCodes":["A1"]}`,
		`42`,
	} {
		var s count.Scope
		err := json.Unmarshal([]byte(input), &s)
		assert.ErrorIs(t, err, count.ErrValidation, "input %s", input)
	}
}

func TestScope_Validate(t *testing.T) {
	assert.NoError(t, count.AllLocations().Validate())
	assert.NoError(t, count.InZones("A").Validate())
	assert.ErrorIs(t, count.InZones().Validate(), count.ErrValidation)
	assert.ErrorIs(t, count.AtLocations("", "  ").Validate(), count.ErrValidation)
	assert.ErrorIs(t, count.Scope{Kind: "bins"}.Validate(), count.ErrValidation)
}

func TestScope_Filter(t *testing.T) {
	f := count.AtLocations(" A1 ", "").Filter()
	assert.Equal(t, []string{"A1"}, f.LocationCodes)
	assert.True(t, count.AllLocations().Filter().IsAll())
}
