package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/rsrisk/internal/evaluation"
	"github.com/fyrsmithlabs/rsrisk/internal/pipeline"
	"github.com/fyrsmithlabs/rsrisk/internal/retrieval"
	"github.com/fyrsmithlabs/rsrisk/internal/risk"
)

func TestVersionCmd(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Version:    dev")
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"build-index", "predict", "eval", "serve", "mcp", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestPredictCmd_RAGFlagsExclusive(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"predict", "--report", "r.pdf", "--use-rag", "--no-rag"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-rag")
}

func TestRunFlags_Options(t *testing.T) {
	opts := (&runFlags{model: "gpt-4o-mini"}).options()
	assert.Nil(t, opts.UseRAG)
	assert.Equal(t, "gpt-4o-mini", opts.Model)

	opts = (&runFlags{useRAG: true}).options()
	require.NotNil(t, opts.UseRAG)
	assert.True(t, *opts.UseRAG)

	opts = (&runFlags{noRAG: true, embedModel: "e"}).options()
	require.NotNil(t, opts.UseRAG)
	assert.False(t, *opts.UseRAG)
	assert.Equal(t, "e", opts.EmbedModel)
}

func TestEvalRows_MissingGoldIsLow(t *testing.T) {
	results := []risk.Result{
		{Position: 1, Record: risk.Record{Deficiency: "a"}, Verdict: risk.Verdict{Risk: risk.Low, Rationale: "r1"}, Final: risk.High},
		{Position: 3, Record: risk.Record{Deficiency: "c"}, Verdict: risk.Verdict{Risk: risk.Medium}, Final: risk.Medium},
	}
	gold := retrieval.Labels{1: risk.High, 2: risk.Medium}

	rows, pred, want := evalRows(results, gold)
	assert.Equal(t, []risk.Level{risk.High, risk.Medium}, pred)
	assert.Equal(t, []risk.Level{risk.High, risk.Low}, want)

	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Index)
	assert.Equal(t, risk.Low, rows[0].LLM)
	assert.Equal(t, "r1", rows[0].Rationale)
	assert.Equal(t, 3, rows[1].Index)
	assert.Equal(t, risk.Low, rows[1].Gold)
}

func TestEllipsis(t *testing.T) {
	assert.Equal(t, "short line", ellipsis("short\n  line", 20))
	assert.Equal(t, "abcd…", ellipsis("abcdefgh", 5))
	assert.Equal(t, "äöüß…", ellipsis("äöüßxyz", 5))
}

func TestRenderResults(t *testing.T) {
	out := &pipeline.Output{
		Results: []risk.Result{{
			Position: 1,
			Record:   risk.Record{Deficiency: "Fire extinguisher inoperative"},
			Verdict:  risk.Verdict{Risk: risk.Low},
			Final:    risk.High,
		}},
		Failures: []pipeline.Failure{{Position: 2, Err: errors.New("invalid JSON")}},
		Notice:   pipeline.NoticeRAGUnavailable,
	}

	s := renderResults(out)
	assert.Contains(t, s, "Fire extinguisher inoperative")
	assert.Contains(t, s, "raised")
	assert.Contains(t, s, "1 classified, 1 failed")
	assert.Contains(t, s, pipeline.NoticeRAGUnavailable)
	assert.Contains(t, s, "record 2: invalid JSON")
}

func TestRenderEval(t *testing.T) {
	r, err := evaluation.Evaluate(
		[]risk.Level{risk.High, risk.Low},
		[]risk.Level{risk.High, risk.Medium},
	)
	require.NoError(t, err)

	s := renderEval(r)
	assert.Contains(t, s, "macro avg")
	assert.Contains(t, s, "Accuracy:")
	assert.Contains(t, s, "0.500")
	assert.True(t, strings.Contains(s, "gold \\ pred"))
}
