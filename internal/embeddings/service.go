// Package embeddings turns text into vectors with OpenAI-compatible embedding
// models through langchaingo.
//
// A Service holds one langchaingo embedder per model name so a request can
// override the configured model (indexes are keyed by embedding model). All
// models share one rate limiter.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/rsrisk/internal/config"
	"github.com/fyrsmithlabs/rsrisk/internal/logging"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrMissingAPIKey is returned by New when neither an API key nor a
	// self-hosted base URL is configured.
	ErrMissingAPIKey = errors.New("embeddings api key not configured")
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ClientFactory creates the raw embedding client for a model.
type ClientFactory func(model string) (embeddings.EmbedderClient, error)

// Service provides embedders per model. It is safe for concurrent use.
type Service struct {
	defaultModel string
	batchSize    int
	limiter      *rate.Limiter
	factory      ClientFactory
	meter        metric.Meter
	metrics      *Metrics
	logger       *logging.Logger

	mu        sync.Mutex
	embedders map[string]*modelEmbedder
}

// Option customizes a Service.
type Option func(*Service)

// WithClientFactory replaces the OpenAI client constructor.
func WithClientFactory(f ClientFactory) Option {
	return func(s *Service) { s.factory = f }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMeter sets the meter for embedding instruments.
func WithMeter(m metric.Meter) Option {
	return func(s *Service) { s.meter = m }
}

// New creates a Service from cfg.
func New(cfg config.EmbeddingsConfig, opts ...Option) (*Service, error) {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	s := &Service{
		defaultModel: cfg.Model,
		batchSize:    cfg.BatchSize,
		limiter:      rate.NewLimiter(limit, 1),
		logger:       logging.NewNop(),
		embedders:    make(map[string]*modelEmbedder),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics = NewMetrics(s.meter, s.logger.Underlying())

	if s.factory == nil {
		if !cfg.APIKey.IsSet() && cfg.BaseURL == "" {
			return nil, ErrMissingAPIKey
		}
		s.factory = openAIClientFactory(cfg)
	}
	return s, nil
}

func openAIClientFactory(cfg config.EmbeddingsConfig) ClientFactory {
	return func(model string) (embeddings.EmbedderClient, error) {
		token := cfg.APIKey.Value()
		if token == "" {
			// langchaingo requires a token; self-hosted servers ignore it.
			token = "placeholder"
		}
		opts := []openai.Option{
			openai.WithToken(token),
			openai.WithEmbeddingModel(model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	}
}

// DefaultModel returns the configured embedding model.
func (s *Service) DefaultModel() string {
	return s.defaultModel
}

// ForModel returns the embedder for model, or the default model when model
// is empty.
func (s *Service) ForModel(model string) (Embedder, error) {
	if model == "" {
		model = s.defaultModel
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.embedders[model]; ok {
		return e, nil
	}

	client, err := s.factory(model)
	if err != nil {
		return nil, fmt.Errorf("creating embedding client for %q: %w", model, err)
	}
	limited := embeddings.EmbedderClientFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		return client.CreateEmbedding(ctx, texts)
	})

	var embOpts []embeddings.Option
	if s.batchSize > 0 {
		embOpts = append(embOpts, embeddings.WithBatchSize(s.batchSize))
	}
	impl, err := embeddings.NewEmbedder(limited, embOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	e := &modelEmbedder{model: model, impl: impl, metrics: s.metrics}
	s.embedders[model] = e
	return e, nil
}

// EmbedDocuments embeds texts with the default model.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	e, err := s.ForModel("")
	if err != nil {
		return nil, err
	}
	return e.EmbedDocuments(ctx, texts)
}

// EmbedQuery embeds text with the default model.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	e, err := s.ForModel("")
	if err != nil {
		return nil, err
	}
	return e.EmbedQuery(ctx, text)
}

type modelEmbedder struct {
	model   string
	impl    *embeddings.EmbedderImpl
	metrics *Metrics
}

func (e *modelEmbedder) EmbedDocuments(ctx context.Context, texts []string) (vectors [][]float32, err error) {
	start := time.Now()
	defer func() {
		e.metrics.Record(ctx, e.model, "embed_documents", time.Since(start), len(texts), err)
	}()

	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	// langchaingo rewrites newlines in place.
	in := make([]string, len(texts))
	copy(in, texts)

	vectors, err = e.impl.EmbedDocuments(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("embedding documents: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding documents: got %d vectors for %d texts", len(vectors), len(texts))
	}
	return vectors, nil
}

func (e *modelEmbedder) EmbedQuery(ctx context.Context, text string) (vector []float32, err error) {
	start := time.Now()
	defer func() {
		e.metrics.Record(ctx, e.model, "embed_query", time.Since(start), 1, err)
	}()

	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}

	vector, err = e.impl.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return vector, nil
}
