// Package results reads subject response tables exported by the experiment
// software.
package results

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Column names required in every results table.
const (
	ColumnResponse  = "object_response"
	ColumnCategory  = "category"
	ColumnImageName = "imagename"
)

var (
	// ErrMissingColumn is returned when the header lacks a required column.
	ErrMissingColumn = errors.New("results table is missing a required column")
	// ErrUnsupportedFormat is returned for extensions other than .csv and .xlsx.
	ErrUnsupportedFormat = errors.New("unsupported results table format")
)

// Row is one trial response. Line is the 1-based row in the source table.
type Row struct {
	Response  string
	Category  string
	ImageName string
	Line      int
}

// Failed reports whether the subject answered something other than the
// true category.
func (r Row) Failed() bool { return r.Response != r.Category }

// Read loads a results table, choosing the parser from the file extension.
func Read(path string) ([]Row, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open results: %w", err)
		}
		defer func() { _ = f.Close() }()
		return ReadCSV(f)
	case ".xlsx":
		return readXLSX(path)
	default:
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}
}

// ReadCSV parses a comma separated results table with a header row.
func ReadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty results table: %w", ErrMissingColumn)
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols, err := locate(header)
	if err != nil {
		return nil, err
	}
	var rows []Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read results: %w", err)
		}
		line, _ := cr.FieldPos(0)
		rows = append(rows, cols.row(rec, line))
	}
	return rows, nil
}

func readXLSX(path string) ([]Row, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%s: workbook has no sheets", path)
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty results table: %w", ErrMissingColumn)
	}
	cols, err := locate(records[0])
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(records)-1)
	for i, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		rows = append(rows, cols.row(rec, i+2))
	}
	return rows, nil
}

// Failures returns the rows whose response differs from the category.
func Failures(rows []Row) []Row {
	var out []Row
	for _, r := range rows {
		if r.Failed() {
			out = append(out, r)
		}
	}
	return out
}

type columns struct{ response, category, image int }

func locate(header []string) (columns, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}
	var c columns
	for _, want := range []struct {
		name string
		dst  *int
	}{
		{ColumnResponse, &c.response},
		{ColumnCategory, &c.category},
		{ColumnImageName, &c.image},
	} {
		i, ok := idx[want.name]
		if !ok {
			return columns{}, fmt.Errorf("%w: %s", ErrMissingColumn, want.name)
		}
		*want.dst = i
	}
	return c, nil
}

func (c columns) row(rec []string, line int) Row {
	return Row{
		Response:  cell(rec, c.response),
		Category:  cell(rec, c.category),
		ImageName: cell(rec, c.image),
		Line:      line,
	}
}

func cell(rec []string, i int) string {
	if i < len(rec) {
		return strings.TrimSpace(rec[i])
	}
	return ""
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
