package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stockcount/count"
	"github.com/xuri/excelize/v2"
)

func qty(n int64) *int64 { return &n }

func reviewSession() (*count.Session, []count.Line) {
	sess := &count.Session{
		ID:        "s-1",
		Code:      "CNT-20240301-3F9A1C",
		Type:      count.TypeSpot,
		Status:    count.StatusReview,
		Scope:     count.AtLocations("A1", "A2"),
		CreatedAt: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
	}
	bolt, nut, washer := decimal.RequireFromString("1.25"), decimal.RequireFromString("0.40"), decimal.RequireFromString("0.10")
	lines := []count.Line{
		{ID: "l3", LocationCode: "A2", Zone: "A", ProductName: "Bolt", SKU: "BOLT-M8", SystemQty: 6, CountedQty: qty(6), UnitCost: bolt},
		{ID: "l2", LocationCode: "A1", Zone: "A", ProductName: "Nut", SKU: "NUT-M8", SystemQty: 4, CountedQty: qty(6), UnitCost: nut},
		{ID: "l1", LocationCode: "A1", Zone: "A", ProductName: "Bolt", SKU: "BOLT-M8", Barcode: "4006381333931", SystemQty: 10, CountedQty: qty(7), UnitCost: bolt},
		{ID: "l4", LocationCode: "A2", Zone: "A", ProductName: "Washer", SKU: "WSH-M8", SystemQty: 100, UnitCost: washer},
	}
	return sess, lines
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestWriteDiscrepancyReport(t *testing.T) {
	sess, lines := reviewSession()

	var buf bytes.Buffer
	require.NoError(t, WriteDiscrepancyReport(&buf, sess, lines))

	newGoldie(t).Assert(t, "discrepancy_report", buf.Bytes())
}

func TestWriteDiscrepancyReport_NoDiscrepancies(t *testing.T) {
	sess := &count.Session{
		Code:   "CNT-20240301-00AB12",
		Type:   count.TypeCycle,
		Status: count.StatusActive,
		Scope:  count.InZones("A"),
	}
	lines := []count.Line{
		{ID: "l1", LocationCode: "A1", ProductName: "Bolt", SystemQty: 3, CountedQty: qty(3)},
		{ID: "l2", LocationCode: "A1", ProductName: "Nut", SystemQty: 8},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteDiscrepancyReport(&buf, sess, lines))

	newGoldie(t).Assert(t, "no_discrepancies", buf.Bytes())
}

func TestWriteCountSheet(t *testing.T) {
	// GIVEN: A session in review with one uncounted line
	sess, lines := reviewSession()

	// WHEN: Exporting the workbook
	var buf bytes.Buffer
	require.NoError(t, WriteCountSheet(&buf, sess, lines))

	// THEN: It reads back with both sheets
	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{SheetCount, SheetSummary}, f.GetSheetList())

	cell := func(sheet, ref string) string {
		v, err := f.GetCellValue(sheet, ref)
		require.NoError(t, err)
		return v
	}

	// Header, then lines in location/product order
	assert.Equal(t, "Location", cell(SheetCount, "A1"))
	assert.Equal(t, "Diff", cell(SheetCount, "H1"))

	assert.Equal(t, "A1", cell(SheetCount, "A2"))
	assert.Equal(t, "4006381333931", cell(SheetCount, "C2"))
	assert.Equal(t, "Bolt", cell(SheetCount, "E2"))
	assert.Equal(t, "10", cell(SheetCount, "F2"))
	assert.Equal(t, "7", cell(SheetCount, "G2"))
	assert.Equal(t, "-3", cell(SheetCount, "H2"))

	assert.Equal(t, "Nut", cell(SheetCount, "E3"))
	assert.Equal(t, "2", cell(SheetCount, "H3"))

	// Uncounted stays blank, not zero
	assert.Equal(t, "Washer", cell(SheetCount, "E5"))
	assert.Equal(t, "100", cell(SheetCount, "F5"))
	assert.Equal(t, "", cell(SheetCount, "G5"))
	assert.Equal(t, "", cell(SheetCount, "H5"))

	assert.Equal(t, "CNT-20240301-3F9A1C", cell(SheetSummary, "B1"))
	assert.Equal(t, "locations A1, A2", cell(SheetSummary, "B4"))
	assert.Equal(t, "4", cell(SheetSummary, "B6"))
	assert.Equal(t, "1", cell(SheetSummary, "B8"))
	assert.Equal(t, "-2.95", cell(SheetSummary, "B11"))
}
