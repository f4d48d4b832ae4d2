package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/rsrisk/internal/pipeline"
	"github.com/fyrsmithlabs/rsrisk/internal/risk"
)

type fakeRunner struct {
	out  *pipeline.Output
	err  error
	text string
	opts pipeline.Options
}

func (f *fakeRunner) Run(_ context.Context, text string, opts pipeline.Options) (*pipeline.Output, error) {
	f.text = text
	f.opts = opts
	return f.out, f.err
}

// connect starts s on an in-memory transport and returns a client session.
func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverT, clientT := mcp.NewInMemoryTransports()

	ss, err := s.mcp.Connect(ctx, serverT, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = cs.Close()
		_ = ss.Wait()
	})
	return cs
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any, out any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	if !res.IsError && out != nil {
		data, err := json.Marshal(res.StructuredContent)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, out))
	}
	return res
}

func errorText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.True(t, res.IsError)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(nil, nil, nil)
	assert.ErrorContains(t, err, "runner is required")

	s, err := NewServer(nil, &fakeRunner{}, nil)
	require.NoError(t, err)
	assert.NotNil(t, s.guardrail)
}

func TestTools_List(t *testing.T) {
	s, err := NewServer(nil, &fakeRunner{}, nil)
	require.NoError(t, err)
	cs := connect(t, s)

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"classify_report", "adjudicate"}, names)
}

func TestClassifyReport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.txt")
	require.NoError(t, os.WriteFile(path, []byte("Deficiency 1\nDeficiency: Handrail loose"), 0o600))

	useRAG := true
	runner := &fakeRunner{out: &pipeline.Output{
		RunID: "run-7",
		Results: []risk.Result{{
			Position: 1,
			Record:   risk.Record{Deficiency: "Handrail loose"},
			Verdict:  risk.Verdict{Risk: risk.Medium, Rationale: "Rule 2", Evidence: []string{"Handrail loose"}},
			Final:    risk.Medium,
		}},
		Failures: []pipeline.Failure{{Position: 2, Err: errors.New("invalid JSON")}},
		RAGUsed:  true,
	}}
	s, err := NewServer(nil, runner, nil)
	require.NoError(t, err)
	cs := connect(t, s)

	var out classifyOutput
	res := callTool(t, cs, "classify_report", map[string]any{
		"path":    path,
		"use_rag": useRAG,
		"model":   "gpt-4o-mini",
	}, &out)
	require.False(t, res.IsError)

	assert.Contains(t, runner.text, "Deficiency: Handrail loose")
	require.NotNil(t, runner.opts.UseRAG)
	assert.True(t, *runner.opts.UseRAG)
	assert.Equal(t, "gpt-4o-mini", runner.opts.Model)

	assert.Equal(t, "run-7", out.RunID)
	assert.Equal(t, 1, out.Count)
	assert.True(t, out.RAGUsed)
	require.Len(t, out.Results, 1)
	assert.Equal(t, risk.Medium, out.Results[0].RiskFinal)
	assert.Equal(t, []toolFailure{{Position: 2, Error: "invalid JSON"}}, out.Failures)
}

func TestClassifyReport_Errors(t *testing.T) {
	dir := t.TempDir()
	report := filepath.Join(dir, "report.txt")
	require.NoError(t, os.WriteFile(report, []byte("Deficiency 1"), 0o600))

	tests := []struct {
		name     string
		args     map[string]any
		runErr   error
		contains string
	}{
		{"missing path", map[string]any{"path": ""}, nil, "path is required"},
		{"missing file", map[string]any{"path": filepath.Join(dir, "nope.pdf")}, nil, "no such file"},
		{"unsupported format", map[string]any{"path": filepath.Join(dir, "report.docx")}, nil, "unsupported document format"},
		{"configuration", map[string]any{"path": report, "use_rag": true}, fmt.Errorf("%w: no vector index", risk.ErrConfiguration), "no vector index"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewServer(nil, &fakeRunner{err: tt.runErr, out: &pipeline.Output{}}, nil)
			require.NoError(t, err)
			cs := connect(t, s)

			res := callTool(t, cs, "classify_report", tt.args, nil)
			assert.Contains(t, errorText(t, res), tt.contains)
		})
	}
}

func TestAdjudicate(t *testing.T) {
	s, err := NewServer(nil, &fakeRunner{}, nil)
	require.NoError(t, err)
	cs := connect(t, s)

	t.Run("promotes", func(t *testing.T) {
		var out adjudicateOutput
		res := callTool(t, cs, "adjudicate", map[string]any{
			"deficiency": "GMDSS console battery expired",
			"label":      "medium",
		}, &out)
		require.False(t, res.IsError)

		assert.Equal(t, risk.Medium, out.Input)
		assert.Equal(t, risk.High, out.Final)
		assert.True(t, out.Promoted)
		assert.Equal(t, "gmdss", out.Anchor)
		assert.Equal(t, "expired", out.Failure)
	})

	t.Run("keeps label", func(t *testing.T) {
		var out adjudicateOutput
		callTool(t, cs, "adjudicate", map[string]any{
			"deficiency": "Garbage record book incomplete",
			"label":      "Low",
		}, &out)
		assert.Equal(t, risk.Low, out.Final)
		assert.False(t, out.Promoted)
	})

	t.Run("invalid label", func(t *testing.T) {
		res := callTool(t, cs, "adjudicate", map[string]any{
			"deficiency": "Handrail loose",
			"label":      "Critical",
		}, nil)
		assert.Contains(t, errorText(t, res), "Critical")
	})
}
