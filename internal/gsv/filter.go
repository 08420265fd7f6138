package gsv

import (
	"strconv"
	"time"

	"github.com/streetscope/svi-cli/internal/checkpoint"
)

// FilterByDate keeps rows whose year/month fall inside [start, end],
// inclusive at year-month granularity. A nil bound is open. Rows without a
// capture date are dropped once any bound is set; with no bounds the table
// passes through untouched.
func FilterByDate(t *checkpoint.Table, start, end *time.Time) *checkpoint.Table {
	if start == nil && end == nil {
		return t
	}

	out := checkpoint.NewTable(t.Header...)
	for _, row := range t.Rows {
		year, err1 := strconv.Atoi(t.Cell(row, "year"))
		month, err2 := strconv.Atoi(t.Cell(row, "month"))
		if err1 != nil || err2 != nil {
			continue
		}
		ym := year*100 + month
		if start != nil && ym < int(start.Year())*100+int(start.Month()) {
			continue
		}
		if end != nil && ym > int(end.Year())*100+int(end.Month()) {
			continue
		}
		out.Append(row)
	}
	return out
}
