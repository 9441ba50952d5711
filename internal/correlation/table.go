package correlation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	apperrors "fxbuckets/internal/errors"
)

// Format identifies a table encoding
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// TableOptions selects the pair and value columns of a correlation table
type TableOptions struct {
	// FirstColumn and SecondColumn are the header names that mark the header row.
	FirstColumn  string
	SecondColumn string

	// ValueColumn is a header name or a zero-based column index.
	ValueColumn string

	// Sheet is the XLSX sheet to read; empty selects the first sheet.
	Sheet string
}

// DefaultTableOptions matches the correlation export layout, where the daily
// correlation sits in the seventh column.
func DefaultTableOptions() TableOptions {
	return TableOptions{
		FirstColumn:  "pair1",
		SecondColumn: "pair2",
		ValueColumn:  "6",
	}
}

// Table holds the rows decoded from a correlation table
type Table struct {
	Header      []string
	ValueColumn int
	ValueName   string
	Rows        []Row
	// Short counts data rows that had too few columns.
	Short int
}

// ReadCSV decodes a CSV correlation table
func ReadCSV(r io.Reader, opts TableOptions) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var records [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperrors.NewDataError("failed to read CSV table", err)
		}
		records = append(records, record)
	}

	return decodeRecords(records, opts)
}

// ReadXLSX decodes the configured sheet of an XLSX correlation table
func ReadXLSX(r io.Reader, opts TableOptions) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, apperrors.NewDataError("failed to open XLSX table", err)
	}
	defer f.Close()

	sheet := opts.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, apperrors.NewDataError("XLSX table has no sheets", nil)
		}
		sheet = sheets[0]
	}

	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, apperrors.NewDataError(fmt.Sprintf("failed to read sheet %q", sheet), err)
	}

	return decodeRecords(records, opts)
}

// decodeRecords finds the header row and extracts (a, b, value) rows after it.
// Rows before the header are ignored and rows too short to hold the value
// column are counted as short.
func decodeRecords(records [][]string, opts TableOptions) (*Table, error) {
	header := -1
	for i, record := range records {
		if len(record) >= 2 && cellEquals(record[0], opts.FirstColumn) && cellEquals(record[1], opts.SecondColumn) {
			header = i
			break
		}
	}
	if header < 0 {
		return nil, apperrors.NewDataError(
			fmt.Sprintf("no header row with columns %q and %q", opts.FirstColumn, opts.SecondColumn), nil)
	}

	t := &Table{Header: records[header]}
	col, err := resolveValueColumn(t.Header, opts.ValueColumn)
	if err != nil {
		return nil, err
	}
	t.ValueColumn = col
	if col < len(t.Header) {
		t.ValueName = strings.TrimSpace(t.Header[col])
	}

	for _, record := range records[header+1:] {
		if isBlank(record) {
			continue
		}
		if len(record) <= col {
			t.Short++
			continue
		}
		t.Rows = append(t.Rows, Row{
			A:     strings.TrimSpace(record[0]),
			B:     strings.TrimSpace(record[1]),
			Value: record[col],
		})
	}

	return t, nil
}

// resolveValueColumn accepts a zero-based index or a header name
func resolveValueColumn(header []string, column string) (int, error) {
	column = strings.TrimSpace(column)
	if column == "" {
		return 0, apperrors.NewConfigError("value column must not be empty", nil)
	}

	if n, err := strconv.Atoi(column); err == nil {
		if n < 2 {
			return 0, apperrors.NewConfigError(
				fmt.Sprintf("value column %d overlaps the pair columns", n), nil)
		}
		return n, nil
	}

	for i, name := range header {
		if i >= 2 && cellEquals(name, column) {
			return i, nil
		}
	}
	return 0, apperrors.NewConfigError(fmt.Sprintf("value column %q not found in header", column), nil)
}

func cellEquals(cell, name string) bool {
	cell = strings.TrimPrefix(cell, "\ufeff")
	return strings.EqualFold(strings.TrimSpace(cell), strings.TrimSpace(name))
}

func isBlank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
