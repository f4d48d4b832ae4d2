package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/fyrsmithlabs/rsrisk/internal/logging"
)

const (
	backendQdrant = "qdrant"

	payloadContent = "content"
	payloadID      = "id"
)

var qdrantTracer = otel.Tracer("github.com/fyrsmithlabs/rsrisk/internal/vectorstore/qdrant")

// pointNamespace derives stable point UUIDs from document ids so repeated
// upserts replace rather than duplicate.
var pointNamespace = uuid.MustParse("5b0f8f5e-54a4-4c36-9a4e-1d2a3c7e9b10")

// QdrantConfig configures the Qdrant gRPC client.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool

	// MaxMessageSize bounds gRPC messages. Default 50MB.
	MaxMessageSize int

	MaxRetries              int
	RetryBackoff            time.Duration
	CircuitBreakerThreshold int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// qdrantClient is the subset of *qdrant.Client the store uses.
type qdrantClient interface {
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Count(ctx context.Context, req *qdrant.CountPoints) (uint64, error)
	Close() error
}

// QdrantStore implements Store with the Qdrant gRPC client.
type QdrantStore struct {
	client  qdrantClient
	retrier *retrier
	logger  *logging.Logger

	// collections caches known-existing collection names.
	collections sync.Map
}

// NewQdrantStore connects to Qdrant and performs a health check.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig, logger *logging.Logger) (*QdrantStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if !cfg.UseTLS {
		logger.Warn(ctx, "qdrant gRPC using plaintext (TLS disabled)", zap.String("host", cfg.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s := newQdrantStore(client, cfg, logger)

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(hctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}
	return s, nil
}

func newQdrantStore(client qdrantClient, cfg QdrantConfig, logger *logging.Logger) *QdrantStore {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &QdrantStore{
		client:  client,
		retrier: newRetrier(cfg.MaxRetries, cfg.RetryBackoff, cfg.CircuitBreakerThreshold),
		logger:  logger,
	}
}

func (s *QdrantStore) exists(ctx context.Context, collection string) (bool, error) {
	if _, ok := s.collections.Load(collection); ok {
		return true, nil
	}
	var exists bool
	err := s.retrier.do(ctx, "collection_exists", func() error {
		var err error
		exists, err = s.client.CollectionExists(ctx, collection)
		return err
	})
	if err != nil {
		return false, err
	}
	if exists {
		s.collections.Store(collection, true)
	}
	return exists, nil
}

// Upsert implements Store. A missing collection is created with cosine
// distance and the documents' dimension.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, docs []Document) (err error) {
	start := time.Now()
	defer func() { observe(backendQdrant, "upsert", start, err) }()

	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("document_count", len(docs)),
	)

	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	dim, err := validateDocuments(docs)
	if err != nil {
		return err
	}

	exists, err := s.exists(ctx, collection)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("checking collection %s: %w", collection, err)
	}
	if !exists {
		err = s.retrier.do(ctx, "create_collection", func() error {
			return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: collection,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     uint64(dim),
					Distance: qdrant.Distance_Cosine,
				}),
			})
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("creating collection %s: %w", collection, err)
		}
		s.collections.Store(collection, true)
		s.logger.Info(ctx, "created qdrant collection",
			zap.String("collection", collection),
			zap.Int("vector_size", dim))
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, d := range docs {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(d.ID)),
			Vectors: qdrant.NewVectors(d.Embedding...),
			Payload: toPayload(d),
		}
	}

	err = s.retrier.do(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting points to collection %s: %w", collection, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query implements Store.
func (s *QdrantStore) Query(ctx context.Context, collection string, vector []float32, k int, minScore float32) (results []SearchResult, err error) {
	start := time.Now()
	defer func() { observe(backendQdrant, "query", start, err) }()

	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Query")
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
	exists, err := s.exists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("checking collection %s: %w", collection, err)
	}
	if !exists {
		return nil, nil
	}

	var points []*qdrant.ScoredPoint
	err = s.retrier.do(ctx, "query", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			ScoreThreshold: qdrant.PtrOf(minScore),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", collection, err)
	}

	results = make([]SearchResult, 0, len(points))
	for _, p := range points {
		// The server applies the threshold too; this guards older servers.
		if p.GetScore() < minScore {
			continue
		}
		results = append(results, fromPayload(p.GetPayload(), p.GetScore()))
	}

	QueryResults.WithLabelValues(backendQdrant).Observe(float64(len(results)))
	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// Count implements Store.
func (s *QdrantStore) Count(ctx context.Context, collection string) (n int, err error) {
	start := time.Now()
	defer func() { observe(backendQdrant, "count", start, err) }()

	exists, err := s.exists(ctx, collection)
	if err != nil || !exists {
		return 0, err
	}
	var count uint64
	err = s.retrier.do(ctx, "count", func() error {
		var err error
		count, err = s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: collection,
			Exact:          qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("counting collection %s: %w", collection, err)
	}
	return int(count), nil
}

// DeleteCollection implements Store.
func (s *QdrantStore) DeleteCollection(ctx context.Context, collection string) (err error) {
	start := time.Now()
	defer func() { observe(backendQdrant, "delete", start, err) }()

	exists, err := s.exists(ctx, collection)
	if err != nil || !exists {
		return err
	}
	err = s.retrier.do(ctx, "delete_collection", func() error {
		return s.client.DeleteCollection(ctx, collection)
	})
	if err != nil {
		return fmt.Errorf("deleting collection %s: %w", collection, err)
	}
	s.collections.Delete(collection)
	s.logger.Info(ctx, "deleted qdrant collection", zap.String("collection", collection))
	return nil
}

// Close implements Store.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func pointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(pointNamespace, []byte(id)).String()
}

func toPayload(d Document) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(d.Metadata)+2)
	for k, v := range d.Metadata {
		payload[k] = qdrant.NewValueString(v)
	}
	payload[payloadContent] = qdrant.NewValueString(d.Content)
	payload[payloadID] = qdrant.NewValueString(d.ID)
	return payload
}

func fromPayload(payload map[string]*qdrant.Value, score float32) SearchResult {
	r := SearchResult{Score: score, Metadata: make(map[string]string, len(payload))}
	for k, v := range payload {
		switch k {
		case payloadContent:
			r.Content = v.GetStringValue()
		case payloadID:
			r.ID = v.GetStringValue()
		default:
			r.Metadata[k] = v.GetStringValue()
		}
	}
	return r
}

var _ Store = (*QdrantStore)(nil)
