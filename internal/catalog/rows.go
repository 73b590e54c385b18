package catalog

// rows.go turns raw tabular input (CSV, or spreadsheet exports saved as
// CSV) into an ordered, lazy, non-restartable sequence of row records.
// Column matching is case- and whitespace-insensitive; empty rows are
// skipped silently. A file-level problem (unreadable input, missing
// required columns, zero data rows) is a terminal error, distinct from
// a single bad row.

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Canonical column names with accepted header aliases.
const (
	ColCategory      = "category"
	ColNamePrimary   = "name"
	ColNameSecondary = "secondary name"
	ColPrice         = "price"
	ColModifiers     = "modifiers"
)

var columnAliases = map[string]string{
	"category":       ColCategory,
	"name":           ColNamePrimary,
	"primary name":   ColNamePrimary,
	"item":           ColNamePrimary,
	"item name":      ColNamePrimary,
	"secondary name": ColNameSecondary,
	"localized name": ColNameSecondary,
	"local name":     ColNameSecondary,
	"price":          ColPrice,
	"modifiers":      ColModifiers,
	"modifier list":  ColModifiers,
}

var requiredColumns = []string{ColCategory, ColNamePrimary, ColPrice}

// maxHeaderSearchRows bounds how deep we scan for the header row.
// Spreadsheet exports often carry title or note rows above the table.
var maxHeaderSearchRows = 20

// Row is one parsed data row: canonical column name → cleaned cell.
type Row struct {
	Line   int // 1-based line number in the source file
	Values map[string]string
}

// Get returns the cleaned cell for a canonical column, or "".
func (r Row) Get(col string) string {
	return r.Values[col]
}

// RowReader yields rows one at a time. It is forward-only: rows cannot
// be replayed once consumed.
type RowReader struct {
	cr     *csv.Reader
	header map[string]int // canonical column → position
	line   int
}

// NewRowReader locates the header row and prepares to stream data rows.
// Returns ErrNoHeader if no row within the first maxHeaderSearchRows
// contains all required columns, and a wrapped csv error if the input
// is unreadable.
func NewRowReader(r io.Reader) (*RowReader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	rr := &RowReader{cr: cr}

	for i := 0; i < maxHeaderSearchRows; i++ {
		record, err := cr.Read()
		if err == io.EOF {
			return nil, ErrNoHeader
		}
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		rr.line++

		if idx, ok := matchHeader(record); ok {
			rr.header = idx
			return rr, nil
		}
	}

	return nil, ErrNoHeader
}

// Next returns the next data row. Empty rows are skipped. A row whose
// cells cannot be read yields a RowError and the sequence continues;
// io.EOF terminates it.
func (rr *RowReader) Next() (Row, error) {
	for {
		record, err := rr.cr.Read()
		if err == io.EOF {
			return Row{}, io.EOF
		}
		rr.line++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return Row{}, RowError{Row: rr.line, Message: fmt.Sprintf("unreadable row: %v", perr.Err)}
			}
			return Row{}, RowError{Row: rr.line, Message: fmt.Sprintf("unreadable row: %v", err)}
		}

		if isEmptyRecord(record) {
			continue
		}

		row := Row{Line: rr.line, Values: make(map[string]string, len(rr.header))}
		for col, pos := range rr.header {
			if pos < len(record) {
				row.Values[col] = cleanCell(record[pos])
			}
		}

		for _, col := range requiredColumns {
			if _, ok := row.Values[col]; !ok {
				return Row{}, RowError{Row: rr.line, Field: col, Message: "missing required column"}
			}
		}

		return row, nil
	}
}

// matchHeader maps a candidate header record to canonical columns.
// It matches when every required column is present.
func matchHeader(record []string) (map[string]int, bool) {
	idx := make(map[string]int)
	for pos, cell := range record {
		key := strings.ToLower(strings.Join(strings.Fields(cleanCell(cell)), " "))
		canonical, ok := columnAliases[key]
		if !ok {
			continue
		}
		if _, dup := idx[canonical]; !dup {
			idx[canonical] = pos
		}
	}

	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			return nil, false
		}
	}
	return idx, true
}

// cleanCell strips whitespace, surrounding quotes, and the Excel
// formula prefix (="value") that spreadsheet exports add.
func cleanCell(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) {
		s = s[2 : len(s)-1]
	} else {
		s = strings.TrimPrefix(s, "=")
	}
	return strings.TrimSpace(strings.Trim(s, `"'`))
}

func isEmptyRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
