package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/fyrsmithlabs/rsrisk/internal/risk"
)

func sampleResults() []risk.Result {
	return []risk.Result{
		{
			Position: 1,
			Record: risk.Record{
				Deficiency: "Fire extinguisher inoperative, gauge in red",
				RootCause:  "Missed monthly check",
				Corrective: "Replaced",
				Preventive: "Added to checklist",
			},
			Verdict: risk.Verdict{Risk: risk.Low, Rationale: "Rule 3", Evidence: []string{"Fire extinguisher inoperative"}},
			Final:   risk.High,
		},
		{
			Position: 3,
			Record:   risk.Record{Deficiency: "Garbage record book incomplete"},
			Verdict:  risk.Verdict{Risk: risk.Medium, Rationale: "Rule 2"},
			Final:    risk.Medium,
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleResults()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "Fire extinguisher inoperative, gauge in red", rows[1][0])
	assert.Equal(t, "Low", rows[1][4])
	assert.Equal(t, "High", rows[1][5])

	var evidence []string
	require.NoError(t, json.Unmarshal([]byte(rows[1][7]), &evidence))
	assert.Equal(t, []string{"Fire extinguisher inoperative"}, evidence)
	assert.Equal(t, "[]", rows[2][7], "nil evidence encodes as an empty array")
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, sampleResults()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Deficiency", "Risk"},
		{"1", "High"},
		{"3", "Medium"},
	}, rows)
}

func TestWriteEvalCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteEvalCSV(&buf, []EvalRow{
		{Index: 1, Deficiency: "Handrail loose", Pred: risk.Medium, Gold: risk.Low, LLM: risk.Medium, Rationale: "Rule 2"},
	})
	require.NoError(t, err)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"index", "deficiency", "pred", "gold", "llm", "rationale"},
		{"1", "Handrail loose", "Medium", "Low", "Medium", "Rule 2"},
	}, rows)
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	results := sampleResults()

	t.Run("json writes the full value", func(t *testing.T) {
		path := filepath.Join(dir, "out", "preds.json")
		require.NoError(t, WriteFile(path, results, map[string]any{"rag_used": true}))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.JSONEq(t, `{"rag_used": true}`, string(data))
	})

	t.Run("csv", func(t *testing.T) {
		path := filepath.Join(dir, "preds.CSV")
		require.NoError(t, WriteFile(path, results, nil))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "risk_final")
	})

	t.Run("xlsx", func(t *testing.T) {
		path := filepath.Join(dir, "preds.xlsx")
		require.NoError(t, WriteFile(path, results, nil))
		f, err := excelize.OpenFile(path)
		require.NoError(t, err)
		defer f.Close()
		v, err := f.GetCellValue(f.GetSheetName(0), "B2")
		require.NoError(t, err)
		assert.Equal(t, "High", v)
	})

	t.Run("unsupported", func(t *testing.T) {
		err := WriteFile(filepath.Join(dir, "preds.txt"), results, nil)
		assert.ErrorContains(t, err, "unsupported output format")
	})
}

func TestItems(t *testing.T) {
	items := Items(sampleResults())
	require.Len(t, items, 2)
	assert.Equal(t, 3, items[1].Position)
	assert.Equal(t, risk.Medium, items[1].RiskLLM)
	assert.NotNil(t, items[1].Evidence)
}
