// Package pipeline classifies every deficiency in a report: segmentation,
// example retrieval, classification and guardrail adjudication.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/rsrisk/internal/classifier"
	"github.com/fyrsmithlabs/rsrisk/internal/config"
	"github.com/fyrsmithlabs/rsrisk/internal/extraction"
	"github.com/fyrsmithlabs/rsrisk/internal/guardrail"
	"github.com/fyrsmithlabs/rsrisk/internal/logging"
	"github.com/fyrsmithlabs/rsrisk/internal/retrieval"
	"github.com/fyrsmithlabs/rsrisk/internal/risk"
)

// NoticeRAGUnavailable explains a run that silently proceeded without examples.
const NoticeRAGUnavailable = "RAG examples unavailable: no vector index found and no sample data present. Proceeding without RAG examples."

// IndexSource provides the similarity index for an embedding model.
// *retrieval.Manager satisfies it. Get returns nil, nil when no index exists.
type IndexSource interface {
	Get(ctx context.Context, embedModel string) (*retrieval.Index, error)
}

// Options adjusts one run.
type Options struct {
	// UseRAG overrides the configured default when non-nil. An explicit true
	// turns a missing index into an error.
	UseRAG *bool
	// Model overrides the classification model.
	Model string
	// EmbedModel selects the index's embedding model.
	EmbedModel string
}

// Failure is a record that could not be classified.
type Failure struct {
	Position int
	Err      error
}

func (f Failure) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Position int    `json:"position"`
		Error    string `json:"error"`
	}{f.Position, f.Err.Error()})
}

// Output is the result of one run. Results and Failures are in record order.
type Output struct {
	RunID    string           `json:"run_id"`
	Results  []risk.Result    `json:"results"`
	Failures []Failure        `json:"failures"`
	RAGUsed  bool             `json:"rag_used"`
	Notice   string           `json:"notice,omitempty"`
	Stats    extraction.Stats `json:"stats"`
}

// Pipeline runs reports through the stages. It is safe for concurrent use.
type Pipeline struct {
	cfg        config.PipelineConfig
	segmenter  *extraction.Segmenter
	indexes    IndexSource
	classifier *classifier.Classifier
	guardrail  *guardrail.Adjudicator
	logger     *logging.Logger
	tracer     trace.Tracer
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithGuardrail replaces the default adjudicator.
func WithGuardrail(a *guardrail.Adjudicator) Option {
	return func(p *Pipeline) { p.guardrail = a }
}

// New creates a Pipeline. indexes may be nil, which disables retrieval.
func New(cfg config.PipelineConfig, seg *extraction.Segmenter, indexes IndexSource, clf *classifier.Classifier, opts ...Option) *Pipeline {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	p := &Pipeline{
		cfg:        cfg,
		segmenter:  seg,
		indexes:    indexes,
		classifier: clf,
		guardrail:  guardrail.Default(),
		logger:     logging.NewNop(),
		tracer:     otel.Tracer("github.com/fyrsmithlabs/rsrisk/internal/pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run classifies every record in text. Per-record failures are reported in
// Output.Failures; the error return is reserved for configuration errors
// and cancellation.
func (p *Pipeline) Run(ctx context.Context, text string, opts Options) (out *Output, err error) {
	start := time.Now()
	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)

	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(attribute.String("run_id", runID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	out = &Output{RunID: runID, Results: []risk.Result{}, Failures: []Failure{}}

	index, err := p.resolveIndex(ctx, opts, out)
	if err != nil {
		return nil, err
	}

	records, stats, err := p.segmenter.Segment(ctx, text)
	if err != nil {
		return nil, err
	}
	out.Stats = stats
	SegmentationDrops.Add(float64(stats.Dropped))

	results := make([]*risk.Result, len(records))
	failures := make([]error, len(records))

	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)
	for i, rec := range records {
		g.Go(func() error {
			results[i], failures[i] = p.process(ctx, i+1, rec, index, opts.Model)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i := range records {
		if failures[i] != nil {
			out.Failures = append(out.Failures, Failure{Position: i + 1, Err: failures[i]})
			continue
		}
		out.Results = append(out.Results, *results[i])
	}

	RunDuration.WithLabelValues(strconv.FormatBool(out.RAGUsed)).Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("records", len(records)),
		attribute.Int("results", len(out.Results)),
		attribute.Int("failures", len(out.Failures)),
		attribute.Bool("rag_used", out.RAGUsed),
	)
	p.logger.Info(ctx, "classified report",
		zap.Int("records", len(records)),
		zap.Int("results", len(out.Results)),
		zap.Int("failures", len(out.Failures)),
		zap.Int("dropped_blocks", stats.Dropped),
		zap.Bool("rag_used", out.RAGUsed),
		zap.Duration("duration", time.Since(start)))
	return out, nil
}

// resolveIndex picks the index for the run and fills RAGUsed and Notice.
func (p *Pipeline) resolveIndex(ctx context.Context, opts Options, out *Output) (*retrieval.Index, error) {
	useRAG := p.cfg.UseRAG
	explicit := opts.UseRAG != nil
	if explicit {
		useRAG = *opts.UseRAG
	}
	if !useRAG {
		return nil, nil
	}

	var index *retrieval.Index
	if p.indexes != nil {
		ix, err := p.indexes.Get(ctx, opts.EmbedModel)
		if err != nil {
			if explicit {
				return nil, fmt.Errorf("%w: loading similarity index: %w", risk.ErrConfiguration, err)
			}
			p.logger.Warn(ctx, "similarity index unavailable", zap.Error(err))
		}
		if ix != nil && ix.Size() > 0 {
			index = ix
		}
	}

	if index == nil {
		if explicit {
			return nil, fmt.Errorf("%w: retrieval examples requested but no vector index exists and no reference data is available to build one", risk.ErrConfiguration)
		}
		out.Notice = NoticeRAGUnavailable
		p.logger.Warn(ctx, NoticeRAGUnavailable)
		return nil, nil
	}
	out.RAGUsed = true
	return index, nil
}

func (p *Pipeline) process(ctx context.Context, position int, rec risk.Record, index *retrieval.Index, model string) (*risk.Result, error) {
	examples := p.examples(ctx, rec, index)

	cctx, cancel := p.withTimeout(ctx)
	verdict, err := p.classifier.Classify(cctx, classifier.Input{
		Position: position,
		Record:   rec,
		Examples: examples,
		Model:    model,
	})
	cancel()
	if err != nil {
		ClassificationFailures.Inc()
		p.logger.Warn(ctx, "record classification failed",
			zap.Int("position", position),
			zap.Error(err))
		return nil, err
	}

	decision := p.guardrail.Explain(rec, verdict.Risk)
	if decision.Promoted {
		GuardrailPromotions.WithLabelValues(decision.Input.String()).Inc()
		p.logger.Info(ctx, "guardrail promoted record to High",
			zap.Int("position", position),
			zap.String("llm_risk", decision.Input.String()),
			zap.String("anchor", decision.Anchor),
			zap.String("failure", decision.Failure))
	}
	RecordsClassified.WithLabelValues(decision.Final.String()).Inc()

	return &risk.Result{
		Position: position,
		Record:   rec,
		Verdict:  verdict,
		Final:    decision.Final,
	}, nil
}

func (p *Pipeline) examples(ctx context.Context, rec risk.Record, index *retrieval.Index) []risk.LabeledExample {
	if index == nil {
		return nil
	}
	rctx, cancel := p.withTimeout(ctx)
	defer cancel()
	return index.Examples(rctx, rec)
}

func (p *Pipeline) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := p.cfg.RequestTimeout.Duration(); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}
