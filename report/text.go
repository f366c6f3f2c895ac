package report

import (
	"bufio"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/warp/stockcount/count"
)

// WriteDiscrepancyReport writes one pipe-separated row per counted line
// whose quantity differs from the snapshot, followed by the net totals.
// Uncounted lines are summarized in the header and never listed.
//
// Example:
//
//	COUNT CNT-20240301-3F9A1C (spot, review)
//	Scope: locations A1
//	Lines: 2 | Counted: 2 | Uncounted: 0 | Discrepancies: 1
//
//	LOCATION | PRODUCT | SKU | SYSTEM | COUNTED | DIFF | VALUE
//	A1 | Bolt | B-1 | 10 | 7 | -3 | -3.75
//	NET | | | | | -3 | -3.75
func WriteDiscrepancyReport(w io.Writer, sess *count.Session, lines []count.Line) error {
	bw := bufio.NewWriter(w)
	st := count.ComputeStats(lines)

	fmt.Fprintf(bw, "COUNT %s (%s, %s)\n", sess.Code, sess.Type, sess.Status)
	fmt.Fprintf(bw, "Scope: %s\n", sess.Scope)
	fmt.Fprintf(bw, "Lines: %d | Counted: %d | Uncounted: %d | Discrepancies: %d\n",
		st.TotalLines, st.CountedLines, st.UncountedLines, st.DiscrepancyLines)
	fmt.Fprintln(bw)

	if st.DiscrepancyLines == 0 {
		fmt.Fprintln(bw, "No discrepancies.")
		return bw.Flush()
	}

	sorted := count.LinesDiscrepancy.Apply(lines)
	count.SortLines(sorted)

	fmt.Fprintln(bw, "LOCATION | PRODUCT | SKU | SYSTEM | COUNTED | DIFF | VALUE")
	for _, l := range sorted {
		d, _ := l.Diff()
		fmt.Fprintf(bw, "%s | %s | %s | %d | %d | %+d | %s\n",
			l.LocationCode, l.ProductName, l.SKU, l.SystemQty, *l.CountedQty, d, money(l.DiffValue()))
	}
	fmt.Fprintf(bw, "NET | | | | | %+d | %s\n", st.NetDiff, money(st.DiscrepancyValue))

	return bw.Flush()
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
