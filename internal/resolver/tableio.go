package resolver

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// readCoordinateTable loads a CSV or XLSX coordinate table and returns the
// standardized header plus data rows.
func readCoordinateTable(path string) ([]string, [][]string, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, err = readXLSXRows(path)
	default:
		rows, err = readCSVRows(path)
	}
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, eris.Wrapf(ErrInvalidInput, "empty coordinate table %s", path)
	}
	return standardizeHeader(rows[0]), rows[1:], nil
}

// readCSVRows reads all CSV records, tolerating a UTF-8 BOM and variable
// field counts.
func readCSVRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "resolver: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	// Strip a BOM if present; exported spreadsheets often carry one.
	decoder := unicode.UTF8BOM.NewDecoder()
	r := csv.NewReader(transform.NewReader(f, decoder))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "resolver: read %s", path)
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

// readXLSXRows reads the first sheet of an XLSX workbook.
func readXLSXRows(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "resolver: open %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("resolver: %s has no sheets", path)
	}

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}
