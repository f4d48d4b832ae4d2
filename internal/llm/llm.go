// Package llm sends single-prompt chat requests to OpenAI or Anthropic models
// through langchaingo, with rate limiting, retries and optional JSON-schema
// constrained output.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrMissingAPIKey is returned by New when the provider needs a key and
	// none is configured.
	ErrMissingAPIKey = errors.New("llm api key not configured")

	// ErrEmptyResponse indicates the model returned no text.
	ErrEmptyResponse = errors.New("empty response from model")
)

// Generator produces a text completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Request is one completion request.
type Request struct {
	Prompt string

	// Schema constrains the output to a JSON object when set.
	Schema *Schema

	// Temperature defaults to 0.
	Temperature float64

	// Model overrides the configured model when non-empty.
	Model string
}

// Schema describes the JSON object a response must match.
type Schema struct {
	Name string
	Root *Property
}

// Property is a JSON-schema node.
type Property struct {
	Type        string               `json:"type"`
	Description string               `json:"description,omitempty"`
	Enum        []string             `json:"enum,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Required    []string             `json:"required,omitempty"`
	MinItems    *int                 `json:"minItems,omitempty"`
	MaxItems    *int                 `json:"maxItems,omitempty"`
}

// JSON renders the schema root.
func (s *Schema) JSON() string {
	b, err := json.Marshal(s.Root)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
