// Package vectorstore stores embedded labeled examples and answers
// nearest-neighbor queries.
//
// Vectors are computed by the caller; a Store only persists and searches
// them. Each similarity index lives in its own collection, named by
// CollectionName from the reference report identity and the embedding model.
//
// Implementations:
//   - ChromemStore: embedded chromem-go, persisted under vectorstore.path (default)
//   - QdrantStore: external Qdrant over gRPC
//
// Both are safe for concurrent queries.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/rsrisk/internal/config"
	"github.com/fyrsmithlabs/rsrisk/internal/logging"
)

var (
	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyDocuments indicates empty or nil documents.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrConnectionFailed indicates gRPC connection issues.
	ErrConnectionFailed = errors.New("failed to connect to Qdrant")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrDimensionMismatch indicates documents with differing vector sizes.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// Document is one embedded example.
type Document struct {
	ID        string
	Content   string
	Metadata  map[string]string
	Embedding []float32
}

// SearchResult is a query hit. Score is cosine similarity, higher is closer.
type SearchResult struct {
	ID       string
	Content  string
	Score    float32
	Metadata map[string]string
}

// Store persists embedded documents per collection.
type Store interface {
	// Upsert adds or replaces documents in collection, creating it if needed.
	Upsert(ctx context.Context, collection string, docs []Document) error

	// Query returns up to k documents ordered by descending score, omitting
	// those scoring below minScore. A missing collection yields no results.
	Query(ctx context.Context, collection string, vector []float32, k int, minScore float32) ([]SearchResult, error)

	// Count returns the number of documents in collection, 0 if missing.
	Count(ctx context.Context, collection string) (int, error)

	// DeleteCollection removes collection. Deleting a missing collection is
	// not an error.
	DeleteCollection(ctx context.Context, collection string) error

	Close() error
}

// Open creates the store selected by cfg.Provider.
func Open(ctx context.Context, cfg config.VectorStoreConfig, logger *logging.Logger) (Store, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemStore(ChromemConfig{
			Path:     config.ExpandPath(cfg.Path),
			Compress: cfg.Compress,
		}, logger)
	case "qdrant":
		return NewQdrantStore(ctx, QdrantConfig{
			Host:   cfg.QdrantHost,
			Port:   cfg.QdrantPort,
			APIKey: cfg.QdrantAPIKey.Value(),
			UseTLS: cfg.QdrantUseTLS,
		}, logger)
	}
	return nil, fmt.Errorf("%w: unknown vectorstore provider %q", ErrInvalidConfig, cfg.Provider)
}

// CollectionName names the collection for a reference report key and
// embedding model, e.g. "rsrisk_3f2a9c0d1e4b5a67_text_embedding_3_large".
func CollectionName(reportKey, embedModel string) string {
	var b strings.Builder
	b.WriteString("rsrisk_")
	b.WriteString(sanitize(reportKey))
	b.WriteByte('_')
	b.WriteString(sanitize(embedModel))
	name := b.String()
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '_'
	}, s)
}

// ValidateCollectionName checks name against ^[a-z0-9_]{1,64}$.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q must match ^[a-z0-9_]{1,64}$", ErrInvalidCollectionName, name)
	}
	return nil
}

func validateDocuments(docs []Document) (int, error) {
	if len(docs) == 0 {
		return 0, ErrEmptyDocuments
	}
	dim := len(docs[0].Embedding)
	for i, d := range docs {
		if d.ID == "" {
			return 0, fmt.Errorf("document at index %d has no id", i)
		}
		if len(d.Embedding) == 0 || len(d.Embedding) != dim {
			return 0, fmt.Errorf("%w: document %q has %d dimensions, want %d", ErrDimensionMismatch, d.ID, len(d.Embedding), dim)
		}
	}
	return dim, nil
}
