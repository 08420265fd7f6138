package mly

import (
	"strconv"
	"time"

	"github.com/streetscope/svi-cli/internal/checkpoint"
)

// FilterByDate keeps rows whose captured_at millisecond timestamp falls in
// [start, end of end date], both inclusive. A nil bound is open; with no
// bounds the table passes through untouched.
func FilterByDate(t *checkpoint.Table, start, end *time.Time) *checkpoint.Table {
	if start == nil && end == nil {
		return t
	}

	var startMs, endMs int64
	if start != nil {
		startMs = start.UnixMilli()
	}
	if end != nil {
		// End date is inclusive through its final millisecond.
		endMs = end.Add(24*time.Hour).UnixMilli() - 1
	}

	out := checkpoint.NewTable(t.Header...)
	for _, row := range t.Rows {
		ms, err := strconv.ParseInt(t.Cell(row, "captured_at"), 10, 64)
		if err != nil {
			continue
		}
		if start != nil && ms < startMs {
			continue
		}
		if end != nil && ms > endMs {
			continue
		}
		out.Append(row)
	}
	return out
}
