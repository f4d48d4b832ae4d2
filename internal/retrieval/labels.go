package retrieval

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/fyrsmithlabs/rsrisk/internal/risk"
)

var (
	// ErrMissingRiskColumn indicates a label table without a "risk" header.
	ErrMissingRiskColumn = errors.New("label table has no risk column")

	// ErrNoRecords indicates a reference report that segmented to nothing.
	ErrNoRecords = errors.New("reference report yielded no records")
)

// Labels maps 1-based deficiency ordinals to gold levels.
type Labels map[int]risk.Level

// Lookup returns the label for ordinal, defaulting to Low.
func (l Labels) Lookup(ordinal int) (risk.Level, bool) {
	lvl, ok := l[ordinal]
	if !ok {
		return risk.Low, false
	}
	return lvl, true
}

// ReadLabels reads a gold label table from .xlsx (first sheet) or .csv.
//
// The header row is matched case-insensitively after trimming. A "risk"
// column is required. A numeric "deficiency" column supplies the ordinal;
// otherwise the data row position does. Rows with a blank risk are skipped
// and later rows win on duplicate ordinals.
func ReadLabels(path string) (Labels, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rows, err = readXLSXRows(path)
	case ".csv":
		rows, err = readCSVRows(path)
	default:
		return nil, fmt.Errorf("unsupported label file %q: want .xlsx or .csv", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	return parseLabelRows(rows)
}

func readXLSXRows(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%s: workbook has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func readCSVRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return readCSV(f)
}

func readCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	return rows, nil
}

func parseLabelRows(rows [][]string) (Labels, error) {
	if len(rows) == 0 {
		return nil, ErrMissingRiskColumn
	}

	riskCol, ordCol := -1, -1
	for i, h := range rows[0] {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case "risk":
			riskCol = i
		case "deficiency":
			ordCol = i
		}
	}
	if riskCol < 0 {
		return nil, ErrMissingRiskColumn
	}

	labels := make(Labels, len(rows)-1)
	for i, row := range rows[1:] {
		raw := cell(row, riskCol)
		if raw == "" {
			continue
		}
		lvl, err := risk.ParseLevel(raw)
		if err != nil {
			return nil, fmt.Errorf("label row %d: %w", i+2, err)
		}

		ordinal := i + 1
		if ordCol >= 0 {
			if n, ok := parseOrdinal(cell(row, ordCol)); ok {
				ordinal = n
			}
		}
		labels[ordinal] = lvl
	}
	return labels, nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// parseOrdinal accepts integers and integral floats such as "3.0", which
// spreadsheets commonly produce.
func parseOrdinal(s string) (int, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}
