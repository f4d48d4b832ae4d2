// Package retrieval builds and queries the similarity index of labeled
// reference deficiencies used as few-shot examples.
package retrieval

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rsrisk/internal/embeddings"
	"github.com/fyrsmithlabs/rsrisk/internal/logging"
	"github.com/fyrsmithlabs/rsrisk/internal/risk"
	"github.com/fyrsmithlabs/rsrisk/internal/vectorstore"
)

const (
	metaLabel    = "label"
	metaPosition = "position"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/rsrisk/internal/retrieval")

// Index is a persisted similarity index for one (reference report,
// embedding model) pair. It is read-only and safe for concurrent use.
type Index struct {
	collection string
	embedModel string
	size       int
	k          int
	threshold  float32

	store    vectorstore.Store
	embedder embeddings.Embedder
	logger   *logging.Logger
}

// Collection returns the vector store collection backing the index.
func (ix *Index) Collection() string { return ix.collection }

// EmbedModel returns the model the index vectors were computed with.
func (ix *Index) EmbedModel() string { return ix.embedModel }

// Size returns the number of indexed examples.
func (ix *Index) Size() int { return ix.size }

// Search returns up to k examples scoring at least the threshold for query,
// most similar first.
func (ix *Index) Search(ctx context.Context, query string) ([]risk.LabeledExample, error) {
	ctx, span := tracer.Start(ctx, "retrieval.search")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", ix.collection),
		attribute.Int("k", ix.k),
	)

	vec, err := ix.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	hits, err := ix.store.Query(ctx, ix.collection, vec, ix.k, ix.threshold)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying index: %w", err)
	}

	examples := make([]risk.LabeledExample, 0, len(hits))
	for _, h := range hits {
		if h.Score < ix.threshold {
			continue
		}
		lvl, err := risk.ParseLevel(h.Metadata[metaLabel])
		if err != nil {
			ix.logger.Debug(ctx, "skipping example with bad label",
				zap.String("id", h.ID), zap.Error(err))
			continue
		}
		examples = append(examples, risk.LabeledExample{Text: h.Content, Label: lvl, Score: h.Score})
	}
	span.SetAttributes(attribute.Int("results_count", len(examples)))
	return examples, nil
}

// Examples returns the examples for rec's problem statement. A nil index
// and any lookup failure yield no examples; failures are logged at warn.
func (ix *Index) Examples(ctx context.Context, rec risk.Record) []risk.LabeledExample {
	if ix == nil || ix.size == 0 {
		return nil
	}
	examples, err := ix.Search(ctx, rec.Query())
	if err != nil {
		ix.logger.Warn(ctx, "example retrieval failed, continuing without examples",
			zap.String("collection", ix.collection),
			zap.Error(err))
		return nil
	}
	return examples
}
