package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rsrisk/internal/logging"
)

const backendChromem = "chromem"

var chromemTracer = otel.Tracer("github.com/fyrsmithlabs/rsrisk/internal/vectorstore/chromem")

var errPrecomputedOnly = errors.New("chromem collections only accept precomputed embeddings")

// ChromemConfig configures the embedded store.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path string

	// Compress gzips persisted documents.
	Compress bool
}

// ChromemStore implements Store with chromem-go.
type ChromemStore struct {
	db     *chromem.DB
	config ChromemConfig
	logger *logging.Logger
}

// NewChromemStore opens (or creates) the database at cfg.Path.
func NewChromemStore(cfg ChromemConfig, logger *logging.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(cfg.Path, 0700); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", cfg.Path, err)
		}
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem DB at %s: %w", cfg.Path, err)
		}
	}

	logger.Debug(context.Background(), "chromem store opened",
		zap.String("path", cfg.Path),
		zap.Bool("compress", cfg.Compress),
		zap.Int("collections", len(db.ListCollections())))

	return &ChromemStore{db: db, config: cfg, logger: logger}, nil
}

// The embedding function is never called because every document and query
// carries its vector.
func precomputed(context.Context, string) ([]float32, error) {
	return nil, errPrecomputedOnly
}

// Upsert implements Store.
func (s *ChromemStore) Upsert(ctx context.Context, collection string, docs []Document) (err error) {
	start := time.Now()
	defer func() { observe(backendChromem, "upsert", start, err) }()

	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("document_count", len(docs)),
	)

	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if _, err := validateDocuments(docs); err != nil {
		return err
	}

	col, err := s.db.GetOrCreateCollection(collection, nil, precomputed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("getting/creating collection %s: %w", collection, err)
	}

	chromemDocs := make([]chromem.Document, len(docs))
	for i, d := range docs {
		// chromem normalizes vectors in place.
		emb := make([]float32, len(d.Embedding))
		copy(emb, d.Embedding)
		chromemDocs[i] = chromem.Document{
			ID:        d.ID,
			Content:   d.Content,
			Metadata:  d.Metadata,
			Embedding: emb,
		}
	}

	if err := col.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents to %s: %w", collection, err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug(ctx, "upserted documents",
		zap.String("collection", collection),
		zap.Int("count", len(docs)))
	return nil
}

// Query implements Store.
func (s *ChromemStore) Query(ctx context.Context, collection string, vector []float32, k int, minScore float32) (results []SearchResult, err error) {
	start := time.Now()
	defer func() { observe(backendChromem, "query", start, err) }()

	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("k", k),
		attribute.Float64("min_score", float64(minScore)),
	)

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector cannot be empty")
	}

	col := s.db.GetCollection(collection, precomputed)
	if col == nil {
		return nil, nil
	}

	// chromem requires nResults <= document count.
	n := k
	if count := col.Count(); count == 0 {
		return nil, nil
	} else if n > count {
		n = count
	}

	hits, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", collection, err)
	}

	results = make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		if h.Similarity < minScore {
			continue
		}
		results = append(results, SearchResult{
			ID:       h.ID,
			Content:  h.Content,
			Score:    h.Similarity,
			Metadata: h.Metadata,
		})
	}

	QueryResults.WithLabelValues(backendChromem).Observe(float64(len(results)))
	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// Count implements Store.
func (s *ChromemStore) Count(_ context.Context, collection string) (int, error) {
	col := s.db.GetCollection(collection, precomputed)
	if col == nil {
		return 0, nil
	}
	return col.Count(), nil
}

// DeleteCollection implements Store.
func (s *ChromemStore) DeleteCollection(ctx context.Context, collection string) (err error) {
	start := time.Now()
	defer func() { observe(backendChromem, "delete", start, err) }()

	if s.db.GetCollection(collection, precomputed) == nil {
		return nil
	}
	if err := s.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("deleting collection %s: %w", collection, err)
	}
	s.logger.Info(ctx, "deleted collection", zap.String("collection", collection))
	return nil
}

// Close implements Store. chromem persists on every write, so there is
// nothing to flush.
func (s *ChromemStore) Close() error {
	return nil
}

var _ Store = (*ChromemStore)(nil)
