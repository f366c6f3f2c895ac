/*
Package report renders count sessions for people.

  sheet.go: XLSX count sheet (printed for counting, or reviewed offline)
  text.go:  Plain-text discrepancy report shown before approval
*/
package report

import (
	"fmt"
	"io"

	"github.com/warp/stockcount/count"
	"github.com/xuri/excelize/v2"
)

const (
	SheetCount   = "Count"
	SheetSummary = "Summary"
)

var sheetHeader = []any{"Location", "Zone", "Barcode", "SKU", "Product", "System Qty", "Counted Qty", "Diff"}

// CountSheet builds the workbook for a session. Lines are written in
// location then product order. Uncounted lines leave Counted Qty and Diff
// blank so the sheet can be filled in by hand.
func CountSheet(sess *count.Session, lines []count.Line) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetCount); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeLines(f, lines); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeSummary(f, sess, lines); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// WriteCountSheet streams the workbook to w.
func WriteCountSheet(w io.Writer, sess *count.Session, lines []count.Line) error {
	f, err := CountSheet(sess, lines)
	if err != nil {
		return fmt.Errorf("failed to build count sheet: %w", err)
	}
	defer f.Close()
	return f.Write(w)
}

func writeLines(f *excelize.File, lines []count.Line) error {
	if err := f.SetSheetRow(SheetCount, "A1", &sheetHeader); err != nil {
		return err
	}

	sorted := append([]count.Line(nil), lines...)
	count.SortLines(sorted)

	for i, l := range sorted {
		var counted, diff any = "", ""
		if d, ok := l.Diff(); ok {
			counted, diff = *l.CountedQty, d
		}
		row := []any{l.LocationCode, l.Zone, l.Barcode, l.SKU, l.ProductName, l.SystemQty, counted, diff}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetCount, cell, &row); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(SheetCount, "A", "D", 14); err != nil {
		return err
	}
	if err := f.SetColWidth(SheetCount, "E", "E", 32); err != nil {
		return err
	}
	return f.SetPanes(SheetCount, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func writeSummary(f *excelize.File, sess *count.Session, lines []count.Line) error {
	if _, err := f.NewSheet(SheetSummary); err != nil {
		return err
	}
	st := count.ComputeStats(lines)
	rows := [][]any{
		{"Session", sess.Code},
		{"Type", string(sess.Type)},
		{"Status", string(sess.Status)},
		{"Scope", sess.Scope.String()},
		{"Created", sess.CreatedAt.Format("2006-01-02 15:04")},
		{"Lines", st.TotalLines},
		{"Counted", st.CountedLines},
		{"Uncounted", st.UncountedLines},
		{"Discrepancies", st.DiscrepancyLines},
		{"Net diff", st.NetDiff},
		{"Discrepancy value", st.DiscrepancyValue.StringFixed(2)},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetSummary, cell, &row); err != nil {
			return err
		}
	}
	return f.SetColWidth(SheetSummary, "A", "A", 20)
}
