// Package config provides configuration loading for rsrisk.
//
// Values come from built-in defaults, an optional YAML file, and RSRISK_*
// environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the complete rsrisk configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	LLM         LLMConfig         `koanf:"llm"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Retrieval   RetrievalConfig   `koanf:"retrieval"`
	Pipeline    PipelineConfig    `koanf:"pipeline"`
	Guardrail   GuardrailConfig   `koanf:"guardrail"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	MaxUploadBytes  int64    `koanf:"max_upload_bytes"`
}

// LLMConfig selects and tunes the chat model used for classification and
// extraction fallback.
type LLMConfig struct {
	Provider   string   `koanf:"provider"` // openai | anthropic
	Model      string   `koanf:"model"`
	APIKey     Secret   `koanf:"api_key"`
	BaseURL    string   `koanf:"base_url"`
	APIType    string   `koanf:"api_type"` // openai | azure
	APIVersion string   `koanf:"api_version"`
	Timeout    Duration `koanf:"timeout"`
	MaxRetries int      `koanf:"max_retries"`
	RateLimit  float64  `koanf:"rate_limit"` // requests per second, 0 = unlimited
	Burst      int      `koanf:"burst"`
	MaxTokens  int      `koanf:"max_tokens"`
}

// EmbeddingsConfig configures the embedding model used for the example index.
type EmbeddingsConfig struct {
	Model     string  `koanf:"model"`
	APIKey    Secret  `koanf:"api_key"`
	BaseURL   string  `koanf:"base_url"`
	BatchSize int     `koanf:"batch_size"`
	RateLimit float64 `koanf:"rate_limit"`
}

// VectorStoreConfig selects the vector store backend.
type VectorStoreConfig struct {
	Provider     string `koanf:"provider"` // chromem | qdrant
	Path         string `koanf:"path"`
	Compress     bool   `koanf:"compress"`
	QdrantHost   string `koanf:"qdrant_host"`
	QdrantPort   int    `koanf:"qdrant_port"`
	QdrantAPIKey Secret `koanf:"qdrant_api_key"`
	QdrantUseTLS bool   `koanf:"qdrant_use_tls"`
}

// RetrievalConfig controls similar-example lookup and the default
// reference data.
type RetrievalConfig struct {
	K               int     `koanf:"k"`
	ScoreThreshold  float64 `koanf:"score_threshold"`
	ReferenceReport string  `koanf:"reference_report"`
	ReferenceLabels string  `koanf:"reference_labels"`
	Watch           bool    `koanf:"watch"`
	// BuildTimeout bounds a shared index build, independent of the request
	// that started it.
	BuildTimeout Duration `koanf:"build_timeout"`
}

// PipelineConfig controls report processing.
type PipelineConfig struct {
	UseRAG         bool     `koanf:"use_rag"`
	Workers        int      `koanf:"workers"`
	RequestTimeout Duration `koanf:"request_timeout"`
}

// GuardrailConfig overrides the adjudicator vocabulary. Empty lists keep
// the built-in terms.
type GuardrailConfig struct {
	Window   int      `koanf:"window"`
	Anchors  []string `koanf:"anchors"`
	Failures []string `koanf:"failures"`
}

// LoggingConfig holds the logging settings exposed to users.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"` // json | console
	OTEL     bool   `koanf:"otel"`
	Sampling bool   `koanf:"sampling"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	ServiceName string  `koanf:"service_name"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"` // grpc | http/protobuf
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8000,
			ShutdownTimeout: Duration(10 * time.Second),
			MaxUploadBytes:  32 << 20,
		},
		LLM: LLMConfig{
			Provider:   "openai",
			Model:      "gpt-4o",
			APIType:    "openai",
			Timeout:    Duration(60 * time.Second),
			MaxRetries: 3,
			RateLimit:  5,
			Burst:      5,
			MaxTokens:  512,
		},
		Embeddings: EmbeddingsConfig{
			Model:     "text-embedding-3-large",
			BatchSize: 64,
			RateLimit: 5,
		},
		VectorStore: VectorStoreConfig{
			Provider:   "chromem",
			Path:       "~/.config/rsrisk/index",
			Compress:   true,
			QdrantHost: "localhost",
			QdrantPort: 6334,
		},
		Retrieval: RetrievalConfig{
			K:              3,
			ScoreThreshold: 0.25,
			BuildTimeout:   Duration(10 * time.Minute),
		},
		Pipeline: PipelineConfig{
			UseRAG:         true,
			Workers:        4,
			RequestTimeout: Duration(90 * time.Second),
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Sampling: true,
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "rsrisk",
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
			SampleRate:  1.0,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes must be positive"))
	}

	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be 'openai' or 'anthropic', got %q", c.LLM.Provider))
	}
	switch c.LLM.APIType {
	case "openai", "azure":
	default:
		errs = append(errs, fmt.Errorf("llm.api_type must be 'openai' or 'azure', got %q", c.LLM.APIType))
	}
	if c.LLM.Model == "" {
		errs = append(errs, fmt.Errorf("llm.model is required"))
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("llm.max_retries must be >= 0"))
	}
	if c.LLM.RateLimit < 0 || c.Embeddings.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate_limit must be >= 0"))
	}

	if c.Embeddings.Model == "" {
		errs = append(errs, fmt.Errorf("embeddings.model is required"))
	}

	switch c.VectorStore.Provider {
	case "chromem":
	case "qdrant":
		if c.VectorStore.QdrantHost == "" {
			errs = append(errs, fmt.Errorf("vectorstore.qdrant_host is required for qdrant"))
		}
	default:
		errs = append(errs, fmt.Errorf("vectorstore.provider must be 'chromem' or 'qdrant', got %q", c.VectorStore.Provider))
	}

	if c.Retrieval.K < 1 || c.Retrieval.K > 20 {
		errs = append(errs, fmt.Errorf("retrieval.k must be 1-20, got %d", c.Retrieval.K))
	}
	if c.Retrieval.ScoreThreshold < 0 || c.Retrieval.ScoreThreshold > 1 {
		errs = append(errs, fmt.Errorf("retrieval.score_threshold must be 0-1, got %v", c.Retrieval.ScoreThreshold))
	}

	if c.Pipeline.Workers < 1 || c.Pipeline.Workers > 64 {
		errs = append(errs, fmt.Errorf("pipeline.workers must be 1-64, got %d", c.Pipeline.Workers))
	}
	if c.Guardrail.Window < 0 {
		errs = append(errs, fmt.Errorf("guardrail.window must be >= 0"))
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format))
	}
	if c.Telemetry.Enabled {
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http/protobuf" {
			errs = append(errs, fmt.Errorf("telemetry.protocol must be 'grpc' or 'http/protobuf', got %q", c.Telemetry.Protocol))
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			errs = append(errs, fmt.Errorf("telemetry.sample_rate must be 0-1"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ExpandPath replaces a leading "~" with the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
