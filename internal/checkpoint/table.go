// Package checkpoint implements the per-stage shard store: append-only
// batched CSVs in the cache directory that make every stage resumable.
package checkpoint

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Table is an in-memory CSV: a header and string rows. Row order carries no
// meaning; consumers key by pano id.
type Table struct {
	Header []string
	Rows   [][]string
}

// NewTable creates an empty table with the given columns.
func NewTable(header ...string) *Table {
	return &Table{Header: header}
}

// Col returns the index of the named column, or -1.
func (t *Table) Col(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Cell returns row[col] for the named column, or "" when absent.
func (t *Table) Cell(row []string, name string) string {
	i := t.Col(name)
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// Append adds a row, padding or truncating to the header width.
func (t *Table) Append(row []string) {
	for len(row) < len(t.Header) {
		row = append(row, "")
	}
	t.Rows = append(t.Rows, row[:len(t.Header)])
}

// AppendTable merges rows from other, aligning columns by name. Columns new
// to t are added with empty values for existing rows.
func (t *Table) AppendTable(other *Table) {
	if other == nil || len(other.Header) == 0 {
		return
	}
	for _, h := range other.Header {
		if t.Col(h) < 0 {
			t.Header = append(t.Header, h)
			for i := range t.Rows {
				t.Rows[i] = append(t.Rows[i], "")
			}
		}
	}
	mapping := make([]int, len(other.Header))
	for i, h := range other.Header {
		mapping[i] = t.Col(h)
	}
	for _, row := range other.Rows {
		merged := make([]string, len(t.Header))
		for i, v := range row {
			if i < len(mapping) {
				merged[mapping[i]] = v
			}
		}
		t.Rows = append(t.Rows, merged)
	}
}

// DropColumn removes the named column if present.
func (t *Table) DropColumn(name string) {
	i := t.Col(name)
	if i < 0 {
		return
	}
	t.Header = append(t.Header[:i], t.Header[i+1:]...)
	for r, row := range t.Rows {
		if i < len(row) {
			t.Rows[r] = append(row[:i], row[i+1:]...)
		}
	}
}

// DedupBy removes rows duplicating earlier rows on the named columns,
// keeping the first occurrence. Missing columns contribute "".
func (t *Table) DedupBy(cols ...string) {
	idx := make([]int, len(cols))
	for i, c := range cols {
		idx[i] = t.Col(c)
	}
	seen := make(map[string]struct{}, len(t.Rows))
	kept := t.Rows[:0]
	for _, row := range t.Rows {
		var b strings.Builder
		for _, i := range idx {
			if i >= 0 && i < len(row) {
				b.WriteString(row[i])
			}
			b.WriteByte('\x1f')
		}
		key := b.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, row)
	}
	t.Rows = kept
}

// Project reorders the table to exactly the given columns, dropping the
// rest. Unknown columns become empty.
func (t *Table) Project(cols ...string) {
	idx := make([]int, len(cols))
	for i, c := range cols {
		idx[i] = t.Col(c)
	}
	rows := make([][]string, len(t.Rows))
	for r, row := range t.Rows {
		out := make([]string, len(cols))
		for i, j := range idx {
			if j >= 0 && j < len(row) {
				out[i] = row[j]
			}
		}
		rows[r] = out
	}
	t.Header = append([]string(nil), cols...)
	t.Rows = rows
}

// ReadFile loads a CSV file into a Table.
func ReadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "checkpoint: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, eris.Errorf("checkpoint: %s is empty", path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "checkpoint: read header %s", path)
	}

	t := &Table{Header: header}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "checkpoint: read %s", path)
		}
		t.Append(rec)
	}
	return t, nil
}

// WriteFile persists the table atomically: a uniquely named temp file in the
// same directory, then rename.
func (t *Table) WriteFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "checkpoint: mkdir %s", dir)
	}

	tmp := path + ".tmp-" + uuid.NewString()
	f, err := os.Create(tmp)
	if err != nil {
		return eris.Wrapf(err, "checkpoint: create %s", tmp)
	}

	w := csv.NewWriter(f)
	if err := w.Write(t.Header); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return eris.Wrap(err, "checkpoint: write header")
	}
	if err := w.WriteAll(t.Rows); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return eris.Wrap(err, "checkpoint: write rows")
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return eris.Wrap(err, "checkpoint: flush")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrap(err, "checkpoint: close")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "checkpoint: rename to %s", path)
	}
	return nil
}
