package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/rsrisk/internal/llm"
	"github.com/fyrsmithlabs/rsrisk/internal/risk"
)

// Fallback extracts a record from a block the Parser could not read.
type Fallback interface {
	Extract(ctx context.Context, block string) (risk.Record, error)
}

// FallbackFunc adapts a function to Fallback.
type FallbackFunc func(ctx context.Context, block string) (risk.Record, error)

func (f FallbackFunc) Extract(ctx context.Context, block string) (risk.Record, error) {
	return f(ctx, block)
}

const extractPrompt = `You are an extraction system for ship inspection reports.
Extract JSON with keys: deficiency, root_cause, corrective, preventive.
If a field is missing, use an empty string.
Return ONLY JSON.

TEXT:
`

// RecordSchema is the response schema for record extraction.
func RecordSchema() *llm.Schema {
	str := func(desc string) *llm.Property {
		return &llm.Property{Type: "string", Description: desc}
	}
	return &llm.Schema{
		Name: "deficiency_record",
		Root: &llm.Property{
			Type: "object",
			Properties: map[string]*llm.Property{
				"deficiency": str("The deficiency finding"),
				"root_cause": str("Root cause, or empty"),
				"corrective": str("Corrective action taken, or empty"),
				"preventive": str("Preventive action, or empty"),
			},
			Required: []string{"deficiency", "root_cause", "corrective", "preventive"},
		},
	}
}

// LLMFallback asks a model for the four fields as strict JSON.
type LLMFallback struct {
	gen   llm.Generator
	model string
}

// NewLLMFallback creates a fallback backed by gen. An empty model uses the
// generator's default.
func NewLLMFallback(gen llm.Generator, model string) *LLMFallback {
	return &LLMFallback{gen: gen, model: model}
}

// Extract implements Fallback.
func (f *LLMFallback) Extract(ctx context.Context, block string) (risk.Record, error) {
	out, err := f.gen.Generate(ctx, llm.Request{
		Prompt: extractPrompt + block,
		Schema: RecordSchema(),
		Model:  f.model,
	})
	if err != nil {
		return risk.Record{}, fmt.Errorf("extraction request: %w", err)
	}

	var rec risk.Record
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		return risk.Record{}, fmt.Errorf("decoding extraction response: %w", err)
	}
	rec.Deficiency = strings.TrimSpace(rec.Deficiency)
	rec.RootCause = strings.TrimSpace(rec.RootCause)
	rec.Corrective = strings.TrimSpace(rec.Corrective)
	rec.Preventive = strings.TrimSpace(rec.Preventive)
	return rec, nil
}
