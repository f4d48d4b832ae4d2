package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/rsrisk/internal/config"
	"github.com/fyrsmithlabs/rsrisk/internal/logging"
)

const (
	defaultBaseBackoff = time.Second
	azureAPIVersion    = "2024-06-01"
)

// ModelFactory builds a langchaingo model for a model name and optional
// response schema.
type ModelFactory func(model string, schema *Schema) (llms.Model, error)

// Client is a Generator backed by langchaingo models. Models are created
// lazily per (model, schema) pair and reused. Client is safe for concurrent
// use.
type Client struct {
	provider     string
	defaultModel string
	maxTokens    int
	timeout      time.Duration
	maxRetries   int
	baseBackoff  time.Duration
	limiter      *rate.Limiter
	factory      ModelFactory
	logger       *logging.Logger
	tracer       trace.Tracer

	mu     sync.Mutex
	models map[string]llms.Model
}

// Option customizes a Client.
type Option func(*Client)

// WithModelFactory replaces the provider-backed model constructor.
func WithModelFactory(f ModelFactory) Option {
	return func(c *Client) { c.factory = f }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithBackoff sets the initial retry backoff. It doubles on each attempt.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.baseBackoff = d }
}

// New creates a Client from cfg.
func New(cfg config.LLMConfig, opts ...Option) (*Client, error) {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		provider:     cfg.Provider,
		defaultModel: cfg.Model,
		maxTokens:    cfg.MaxTokens,
		timeout:      cfg.Timeout.Duration(),
		maxRetries:   cfg.MaxRetries,
		baseBackoff:  defaultBaseBackoff,
		limiter:      rate.NewLimiter(limit, burst),
		logger:       logging.NewNop(),
		tracer:       otel.Tracer("github.com/fyrsmithlabs/rsrisk/internal/llm"),
		models:       make(map[string]llms.Model),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.factory == nil {
		if !cfg.APIKey.IsSet() {
			return nil, fmt.Errorf("%w for provider %q", ErrMissingAPIKey, cfg.Provider)
		}
		switch cfg.Provider {
		case "openai":
			c.factory = openAIFactory(cfg)
		case "anthropic":
			c.factory = anthropicFactory(cfg)
		default:
			return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
		}
	}
	return c, nil
}

// openAIFactory builds OpenAI (or Azure OpenAI) chat models. The response
// format is a client-level option, so each schema gets its own client.
func openAIFactory(cfg config.LLMConfig) ModelFactory {
	return func(model string, schema *Schema) (llms.Model, error) {
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey.Value()),
			openai.WithModel(model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if cfg.APIType == "azure" {
			version := cfg.APIVersion
			if version == "" {
				version = azureAPIVersion
			}
			opts = append(opts, openai.WithAPIType(openai.APITypeAzure), openai.WithAPIVersion(version))
		}
		if schema != nil {
			opts = append(opts, openai.WithResponseFormat(&openai.ResponseFormat{
				Type: "json_schema",
				JSONSchema: &openai.ResponseFormatJSONSchema{
					Name:   schema.Name,
					Strict: true,
					Schema: toOpenAIProperty(schema.Root),
				},
			}))
		}
		return openai.New(opts...)
	}
}

func toOpenAIProperty(p *Property) *openai.ResponseFormatJSONSchemaProperty {
	if p == nil {
		return nil
	}
	out := &openai.ResponseFormatJSONSchemaProperty{
		Type:        p.Type,
		Description: p.Description,
		Items:       toOpenAIProperty(p.Items),
		Required:    p.Required,
	}
	for _, e := range p.Enum {
		out.Enum = append(out.Enum, e)
	}
	if len(p.Properties) > 0 {
		out.Properties = make(map[string]*openai.ResponseFormatJSONSchemaProperty, len(p.Properties))
		for k, v := range p.Properties {
			out.Properties[k] = toOpenAIProperty(v)
		}
	}
	return out
}

// anthropicFactory builds Anthropic models. Anthropic has no response
// format option; the schema is appended to the prompt in Generate.
func anthropicFactory(cfg config.LLMConfig) ModelFactory {
	return func(model string, _ *Schema) (llms.Model, error) {
		opts := []anthropic.Option{
			anthropic.WithToken(cfg.APIKey.Value()),
			anthropic.WithModel(model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.New(opts...)
	}
}

// Generate sends req, retrying rate-limit, server and timeout failures with
// exponential backoff. Code fences around the answer are removed.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = c.defaultModel
	}

	ctx, span := c.tracer.Start(ctx, "llm.generate", trace.WithAttributes(
		attribute.String("llm.provider", c.provider),
		attribute.String("llm.model", modelName),
		attribute.Bool("llm.schema", req.Schema != nil),
	))
	defer span.End()

	model, err := c.model(modelName, req.Schema)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	prompt := req.Prompt
	if req.Schema != nil && c.provider == "anthropic" {
		prompt += "\n\nRespond with a single JSON object matching this JSON schema:\n" + req.Schema.JSON()
	}

	callOpts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if c.maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(c.maxTokens))
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff * time.Duration(1<<(attempt-1))
			c.logger.Debug(ctx, "retrying llm request",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}

		text, err := c.attempt(ctx, model, prompt, callOpts)
		if err == nil {
			span.SetAttributes(attribute.Int("llm.attempts", attempt+1))
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		lastErr = err
		if !isRetryableError(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}
	}

	err = fmt.Errorf("max retries exceeded: %w", lastErr)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return "", err
}

func (c *Client) attempt(ctx context.Context, model llms.Model, prompt string, opts []llms.CallOption) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.logger.Trace(ctx, "llm prompt", zap.String("prompt", prompt))
	out, err := llms.GenerateFromSinglePrompt(ctx, model, prompt, opts...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &retryableError{err: fmt.Errorf("llm request timed out: %w", err)}
		}
		return "", err
	}

	out = StripFences(out)
	if strings.TrimSpace(out) == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

// model returns the cached model for (name, schema), creating it on first use.
func (c *Client) model(name string, schema *Schema) (llms.Model, error) {
	key := name
	if schema != nil {
		key += "|" + schema.Name
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.models[key]; ok {
		return m, nil
	}
	m, err := c.factory(name, schema)
	if err != nil {
		return nil, fmt.Errorf("creating %s model %q: %w", c.provider, name, err)
	}
	c.models[key] = m
	return m, nil
}
