package count

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/stockcount/stock"
)

// =============================================================================
// MATERIALIZATION - Snapshot positions to lines
// =============================================================================

func newLinesFromPositions(sessionID SessionID, positions []stock.Position) []Line {
	lines := make([]Line, 0, len(positions))
	for _, p := range positions {
		lines = append(lines, Line{
			ID:           LineID(uuid.Must(uuid.NewV7()).String()),
			SessionID:    sessionID,
			ProductID:    p.Product.ID,
			ProductName:  p.Product.Name,
			SKU:          p.Product.SKU,
			Barcode:      p.Product.Barcode,
			LocationID:   p.Location.ID,
			LocationCode: p.Location.Code,
			Zone:         p.Location.Zone,
			SystemQty:    p.Qty,
			UnitCost:     p.Product.UnitCost,
		})
	}
	return lines
}

func sortLines(lines []Line) {
	sort.SliceStable(lines, func(i, j int) bool {
		a, b := lines[i], lines[j]
		if a.LocationCode != b.LocationCode {
			return a.LocationCode < b.LocationCode
		}
		if a.ProductName != b.ProductName {
			return a.ProductName < b.ProductName
		}
		return a.ID < b.ID
	})
}

// =============================================================================
// BATCH UPDATES
// =============================================================================

// LineUpdate is one counted quantity submitted by a counter.
// CountedQty is a pointer so a missing value is distinguishable from zero.
type LineUpdate struct {
	LineID     LineID
	CountedQty *int64
}

// LineFailure reports why one entry of a batch was not applied.
type LineFailure struct {
	Index  int
	LineID LineID
	Err    error
}

// BatchResult lists what a batch update applied and what it rejected.
type BatchResult struct {
	Updated []Line
	Failed  []LineFailure
}

// Validate checks a single update before it reaches the store.
func (u LineUpdate) Validate() error {
	if strings.TrimSpace(string(u.LineID)) == "" {
		return &ValidationError{Field: "_id", Message: "line id is required"}
	}
	if u.CountedQty == nil {
		return &ValidationError{Field: "countedQty", Message: "counted quantity is required"}
	}
	if *u.CountedQty < 0 {
		return &ValidationError{Field: "countedQty", Message: "counted quantity must not be negative"}
	}
	return nil
}

// ParseQuantity reads a counted quantity from its JSON form. Whole numbers
// are accepted as JSON numbers or numeric strings ("7"). Anything else is a
// ValidationError: invalid input is never coerced to zero.
func ParseQuantity(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, &ValidationError{Field: "countedQty", Message: "counted quantity is required"}
	}

	text := string(raw)
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, &ValidationError{Field: "countedQty", Message: "not a number"}
		}
		text = strings.TrimSpace(s)
	}

	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		// Accept 7.0 but not 7.5
		f, ferr := strconv.ParseFloat(text, 64)
		if ferr != nil {
			return 0, &ValidationError{Field: "countedQty", Message: "not a number: " + text}
		}
		if f != float64(int64(f)) {
			return 0, &ValidationError{Field: "countedQty", Message: "must be a whole number: " + text}
		}
		n = int64(f)
	}
	if n < 0 {
		return 0, &ValidationError{Field: "countedQty", Message: "counted quantity must not be negative"}
	}
	return n, nil
}

func newCountWrite(sessionID SessionID, u LineUpdate, actor Actor, at time.Time) CountWrite {
	return CountWrite{
		SessionID:  sessionID,
		LineID:     u.LineID,
		CountedQty: *u.CountedQty,
		CountedBy:  actor.ID,
		CountedAt:  at,
	}
}
