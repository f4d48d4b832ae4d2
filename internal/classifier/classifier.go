// Package classifier assigns a risk level to one deficiency record by
// prompting a text-generation model with fixed decision rules and,
// optionally, similar labeled examples.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rsrisk/internal/llm"
	"github.com/fyrsmithlabs/rsrisk/internal/logging"
	"github.com/fyrsmithlabs/rsrisk/internal/risk"
)

// maxEvidence is the most evidence quotes a verdict keeps.
const maxEvidence = 3

// VerdictSchema is the response schema for classification.
func VerdictSchema() *llm.Schema {
	one, three := 1, maxEvidence
	return &llm.Schema{
		Name: "risk_verdict",
		Root: &llm.Property{
			Type: "object",
			Properties: map[string]*llm.Property{
				"risk": {
					Type: "string",
					Enum: []string{string(risk.High), string(risk.Medium), string(risk.Low)},
				},
				"rationale": {
					Type:        "string",
					Description: "At most 30 words citing the decision rule",
				},
				"evidence": {
					Type:        "array",
					Description: "Verbatim quotes from the record",
					Items:       &llm.Property{Type: "string"},
					MinItems:    &one,
					MaxItems:    &three,
				},
			},
			Required: []string{"risk", "rationale", "evidence"},
		},
	}
}

// Input is one record to classify.
type Input struct {
	// Position is the record's 1-based position, reported in errors.
	Position int
	Record   risk.Record
	Examples []risk.LabeledExample
	// Model overrides the generator's default model when non-empty.
	Model string
}

// Classifier turns records into verdicts. It is safe for concurrent use.
type Classifier struct {
	gen    llm.Generator
	logger *logging.Logger
	tracer trace.Tracer
}

// Option customizes a Classifier.
type Option func(*Classifier)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Classifier) { c.logger = l }
}

// New creates a Classifier backed by gen.
func New(gen llm.Generator, opts ...Option) *Classifier {
	c := &Classifier{
		gen:    gen,
		logger: logging.NewNop(),
		tracer: otel.Tracer("github.com/fyrsmithlabs/rsrisk/internal/classifier"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns the validated verdict for in. Every failure is a
// *risk.ClassificationError; no default label is ever substituted.
func (c *Classifier) Classify(ctx context.Context, in Input) (risk.Verdict, error) {
	ctx, span := c.tracer.Start(ctx, "classifier.classify", trace.WithAttributes(
		attribute.Int("record.position", in.Position),
		attribute.Int("examples", len(in.Examples)),
	))
	defer span.End()

	fail := func(reason string, err error) (risk.Verdict, error) {
		cerr := &risk.ClassificationError{Position: in.Position, Reason: reason, Err: err}
		span.RecordError(cerr)
		span.SetStatus(codes.Error, reason)
		return risk.Verdict{}, cerr
	}

	out, err := c.gen.Generate(ctx, llm.Request{
		Prompt:      BuildPrompt(in.Record, in.Examples),
		Schema:      VerdictSchema(),
		Temperature: 0,
		Model:       in.Model,
	})
	if err != nil {
		return fail("generation failed", err)
	}

	verdict, reason, err := decodeVerdict(out, in.Record)
	if err != nil {
		c.logger.Debug(ctx, "rejected classifier output",
			zap.Int("position", in.Position),
			zap.String("reason", reason),
			zap.String("output", truncate(out, 500)))
		return fail(reason, err)
	}

	span.SetAttributes(
		attribute.String("risk.llm", verdict.Risk.String()),
		attribute.Int("evidence", len(verdict.Evidence)),
	)
	return verdict, nil
}

type rawVerdict struct {
	Risk      string   `json:"risk"`
	Rationale string   `json:"rationale"`
	Evidence  []string `json:"evidence"`
}

// decodeVerdict parses and validates model output. On failure it returns a
// short reason alongside the error.
func decodeVerdict(out string, rec risk.Record) (risk.Verdict, string, error) {
	var raw rawVerdict
	if err := json.Unmarshal([]byte(llm.StripFences(out)), &raw); err != nil {
		return risk.Verdict{}, "invalid JSON", err
	}

	lvl, err := risk.ParseLevel(raw.Risk)
	if err != nil {
		return risk.Verdict{}, "invalid risk", err
	}
	rationale := strings.TrimSpace(raw.Rationale)
	if rationale == "" {
		return risk.Verdict{}, "empty rationale", errors.New("rationale is required")
	}

	// A verdict must quote the record; fabricated quotes do not count.
	evidence := groundEvidence(raw.Evidence, rec)
	if len(evidence) == 0 {
		return risk.Verdict{}, "no grounded evidence", errors.New("evidence must quote the record")
	}

	return risk.Verdict{
		Risk:      lvl,
		Rationale: rationale,
		Evidence:  evidence,
	}, "", nil
}

// groundEvidence keeps quotes that occur in the record, ignoring case and
// whitespace differences, deduplicated and capped at maxEvidence.
func groundEvidence(quotes []string, rec risk.Record) []string {
	haystack := normalize(strings.Join(rec.Fields(), " "))
	kept := make([]string, 0, maxEvidence)
	seen := make(map[string]bool, len(quotes))
	for _, q := range quotes {
		q = strings.Trim(strings.TrimSpace(q), "\"'“”‘’")
		n := normalize(q)
		if n == "" || seen[n] || !strings.Contains(haystack, n) {
			continue
		}
		seen[n] = true
		kept = append(kept, q)
		if len(kept) == maxEvidence {
			break
		}
	}
	return kept
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
