package extraction

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rsrisk/internal/logging"
	"github.com/fyrsmithlabs/rsrisk/internal/risk"
)

var errNoDeficiency = errors.New("no deficiency text")

// Stats summarizes one segmentation run.
type Stats struct {
	Blocks    int `json:"blocks"`
	Parsed    int `json:"parsed"`
	Recovered int `json:"recovered"`
	Dropped   int `json:"dropped"`
}

// Segmenter turns report text into records.
type Segmenter struct {
	parser   Parser
	fallback Fallback
	logger   *logging.Logger
	tracer   trace.Tracer
}

// Option customizes a Segmenter.
type Option func(*Segmenter)

// WithLogger sets the logger used for dropped blocks.
func WithLogger(l *logging.Logger) Option {
	return func(s *Segmenter) { s.logger = l }
}

// New creates a Segmenter. A nil fallback means parser-only segmentation.
func New(fallback Fallback, opts ...Option) *Segmenter {
	s := &Segmenter{
		fallback: fallback,
		logger:   logging.NewNop(),
		tracer:   otel.Tracer("github.com/fyrsmithlabs/rsrisk/internal/extraction"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Segment returns the records found in text, in block order. Blocks that
// yield no deficiency after the fallback are dropped and logged. The only
// error is ctx's.
func (s *Segmenter) Segment(ctx context.Context, text string) ([]risk.Record, Stats, error) {
	ctx, span := s.tracer.Start(ctx, "extraction.segment")
	defer span.End()

	blocks := SplitBlocks(text)
	stats := Stats{Blocks: len(blocks)}
	records := make([]risk.Record, 0, len(blocks))

	for i, block := range blocks {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}

		if rec, ok := s.parser.Parse(block); ok {
			stats.Parsed++
			records = append(records, rec)
			continue
		}

		rec, err := s.viaFallback(ctx, block)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, stats, ctxErr
			}
			stats.Dropped++
			segErr := &risk.SegmentationError{Block: i + 1, Err: err}
			s.logger.Warn(ctx, "dropping deficiency block",
				zap.Int("block", i+1),
				zap.Int("block_len", len(block)),
				zap.Error(segErr))
			continue
		}
		stats.Recovered++
		records = append(records, rec)
	}

	span.SetAttributes(
		attribute.Int("extraction.blocks", stats.Blocks),
		attribute.Int("extraction.parsed", stats.Parsed),
		attribute.Int("extraction.recovered", stats.Recovered),
		attribute.Int("extraction.dropped", stats.Dropped),
	)
	s.logger.Debug(ctx, "segmented report",
		zap.Int("blocks", stats.Blocks),
		zap.Int("parsed", stats.Parsed),
		zap.Int("recovered", stats.Recovered),
		zap.Int("dropped", stats.Dropped))
	return records, stats, nil
}

func (s *Segmenter) viaFallback(ctx context.Context, block string) (risk.Record, error) {
	if s.fallback == nil {
		return risk.Record{}, errNoDeficiency
	}
	rec, err := s.fallback.Extract(ctx, block)
	if err != nil {
		return risk.Record{}, err
	}
	if strings.TrimSpace(rec.Deficiency) == "" {
		return risk.Record{}, errNoDeficiency
	}
	return rec, nil
}
