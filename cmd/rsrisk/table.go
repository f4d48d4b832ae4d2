package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/fyrsmithlabs/rsrisk/internal/evaluation"
	"github.com/fyrsmithlabs/rsrisk/internal/pipeline"
	"github.com/fyrsmithlabs/rsrisk/internal/retrieval"
	"github.com/fyrsmithlabs/rsrisk/internal/risk"
)

const deficiencyWidth = 60

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)

	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

	levelStyles = map[risk.Level]lipgloss.Style{
		risk.High:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		risk.Medium: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		risk.Low:    lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
	}
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func levelText(l risk.Level) string {
	if s, ok := levelStyles[l]; ok {
		return s.Render(l.String())
	}
	return l.String()
}

// ellipsis shortens s to n runes on a single line.
func ellipsis(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// renderResults renders one row per classified record plus the run notice
// and failures.
func renderResults(out *pipeline.Output) string {
	t := newTable("#", "Deficiency", "LLM", "Final", "Guardrail")
	for _, r := range out.Results {
		mark := ""
		if r.Overridden() {
			mark = "raised"
		}
		t.Row(strconv.Itoa(r.Position), ellipsis(r.Record.Deficiency, deficiencyWidth),
			levelText(r.Verdict.Risk), levelText(r.Final), mark)
	}

	var b strings.Builder
	b.WriteString(t.Render())
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %d classified, %d failed, examples %s\n",
		sectionStyle.Render("Summary:"), len(out.Results), len(out.Failures), ragText(out.RAGUsed))
	if out.Notice != "" {
		b.WriteString(warnStyle.Render(out.Notice) + "\n")
	}
	for _, f := range out.Failures {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  record %d: %v", f.Position, f.Err)) + "\n")
	}
	return b.String()
}

func ragText(used bool) string {
	if used {
		return "on"
	}
	return "off"
}

// renderEval renders per-class scores, macro averages, accuracy and the
// confusion matrix.
func renderEval(r evaluation.Report) string {
	scores := newTable("Class", "Precision", "Recall", "F1", "Support")
	for _, c := range r.Classes {
		scores.Row(levelText(c.Level), f3(c.Precision), f3(c.Recall), f3(c.F1), strconv.Itoa(c.Support))
	}
	scores.Row("macro avg", f3(r.MacroPrecision), f3(r.MacroRecall), f3(r.MacroF1), strconv.Itoa(r.Total))

	headers := []string{"gold \\ pred"}
	for _, l := range risk.Levels() {
		headers = append(headers, l.String())
	}
	confusion := newTable(headers...)
	for _, gold := range risk.Levels() {
		row := []string{levelText(gold)}
		for _, pred := range risk.Levels() {
			row = append(row, strconv.Itoa(r.Confusion[gold][pred]))
		}
		confusion.Row(row...)
	}

	var b strings.Builder
	b.WriteString(sectionStyle.Render("Eval metrics") + "\n")
	b.WriteString(scores.Render() + "\n")
	fmt.Fprintf(&b, "%s %s\n", sectionStyle.Render("Accuracy:"), f3(r.Accuracy))
	b.WriteString(confusion.Render() + "\n")
	return b.String()
}

func renderAlignment(ix *retrieval.Index, al retrieval.Alignment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (%d examples, %s)\n",
		sectionStyle.Render("Index:"), ix.Collection(), ix.Size(), ix.EmbedModel())
	fmt.Fprintf(&b, "%s %d records, %d labels\n", sectionStyle.Render("Alignment:"), al.Records, al.Labels)
	if al.Drifted() {
		if len(al.Defaulted) > 0 {
			b.WriteString(warnStyle.Render(fmt.Sprintf("  records without a label (defaulted to Low): %v", al.Defaulted)) + "\n")
		}
		if len(al.Unused) > 0 {
			b.WriteString(warnStyle.Render(fmt.Sprintf("  labels without a record: %v", al.Unused)) + "\n")
		}
	}
	return b.String()
}

func f3(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
