// Package export writes classification results as CSV, XLSX or JSON.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/fyrsmithlabs/rsrisk/internal/risk"
)

// Item is the flat, per-record view of a result shared by every output
// format and the HTTP API.
type Item struct {
	Position   int        `json:"position"`
	Deficiency string     `json:"deficiency"`
	RootCause  string     `json:"root_cause"`
	Corrective string     `json:"corrective"`
	Preventive string     `json:"preventive"`
	RiskLLM    risk.Level `json:"risk_llm"`
	RiskFinal  risk.Level `json:"risk_final"`
	Rationale  string     `json:"rationale"`
	Evidence   []string   `json:"evidence"`
}

// Items flattens results.
func Items(results []risk.Result) []Item {
	items := make([]Item, 0, len(results))
	for _, r := range results {
		evidence := r.Verdict.Evidence
		if evidence == nil {
			evidence = []string{}
		}
		items = append(items, Item{
			Position:   r.Position,
			Deficiency: r.Record.Deficiency,
			RootCause:  r.Record.RootCause,
			Corrective: r.Record.Corrective,
			Preventive: r.Record.Preventive,
			RiskLLM:    r.Verdict.Risk,
			RiskFinal:  r.Final,
			Rationale:  r.Verdict.Rationale,
			Evidence:   evidence,
		})
	}
	return items
}

var csvHeader = []string{"deficiency", "root_cause", "corrective", "preventive", "risk_llm", "risk_final", "rationale", "evidence"}

// WriteCSV writes every field, one row per result. Evidence is encoded as a
// JSON array.
func WriteCSV(w io.Writer, results []risk.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, it := range Items(results) {
		evidence, err := json.Marshal(it.Evidence)
		if err != nil {
			return err
		}
		if err := cw.Write([]string{
			it.Deficiency, it.RootCause, it.Corrective, it.Preventive,
			it.RiskLLM.String(), it.RiskFinal.String(), it.Rationale, string(evidence),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes a workbook with a Deficiency ordinal column and the final
// Risk level, the same layout the label reader accepts.
func WriteXLSX(w io.Writer, results []risk.Result) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	if err := f.SetSheetRow(sheet, "A1", &[]any{"Deficiency", "Risk"}); err != nil {
		return err
	}
	for i, r := range results {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &[]any{r.Position, r.Final.String()}); err != nil {
			return err
		}
	}

	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", "B1", style); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "A", "B", 14); err != nil {
		return err
	}
	return f.Write(w)
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// EvalRow is one line of an evaluation detail report.
type EvalRow struct {
	Index      int
	Deficiency string
	Pred       risk.Level
	Gold       risk.Level
	LLM        risk.Level
	Rationale  string
}

// WriteEvalCSV writes the evaluation detail report.
func WriteEvalCSV(w io.Writer, rows []EvalRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"index", "deficiency", "pred", "gold", "llm", "rationale"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{
			strconv.Itoa(r.Index), r.Deficiency, r.Pred.String(), r.Gold.String(), r.LLM.String(), r.Rationale,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile picks the format from the extension of path: .xlsx, .json or
// .csv. For .json, full is written instead of the flat results.
func WriteFile(path string, results []risk.Result, full any) (err error) {
	ext := strings.ToLower(filepath.Ext(path))
	var write func(io.Writer) error
	switch ext {
	case ".xlsx":
		write = func(w io.Writer) error { return WriteXLSX(w, results) }
	case ".json":
		write = func(w io.Writer) error { return WriteJSON(w, full) }
	case ".csv":
		write = func(w io.Writer) error { return WriteCSV(w, results) }
	default:
		return fmt.Errorf("unsupported output format %q", ext)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return write(f)
}
