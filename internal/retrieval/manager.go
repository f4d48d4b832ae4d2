package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fyrsmithlabs/rsrisk/internal/config"
	"github.com/fyrsmithlabs/rsrisk/internal/document"
	"github.com/fyrsmithlabs/rsrisk/internal/embeddings"
	"github.com/fyrsmithlabs/rsrisk/internal/extraction"
	"github.com/fyrsmithlabs/rsrisk/internal/logging"
	"github.com/fyrsmithlabs/rsrisk/internal/vectorstore"
)

// EmbedderProvider hands out embedders per model.
// *embeddings.Service satisfies it.
type EmbedderProvider interface {
	ForModel(model string) (embeddings.Embedder, error)
	DefaultModel() string
}

// Manager obtains similarity indexes: from memory, from the vector store, or
// by building one from the configured reference report and labels.
// Concurrent requests for the same index share one build.
type Manager struct {
	cfg       config.RetrievalConfig
	store     vectorstore.Store
	embedders EmbedderProvider
	segmenter *extraction.Segmenter
	loadText  func(path string) (string, error)
	logger    *logging.Logger

	group singleflight.Group

	mu      sync.Mutex
	indexes map[string]*Index // by reportKey|embedModel
	refKey  string            // report key of cfg.ReferenceReport, once read
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger.
func WithManagerLogger(l *logging.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithTextLoader replaces document.Load for reading the reference report.
func WithTextLoader(f func(path string) (string, error)) ManagerOption {
	return func(m *Manager) { m.loadText = f }
}

// NewManager creates a Manager. The segmenter splits reference reports the
// same way classification input is split.
func NewManager(cfg config.RetrievalConfig, store vectorstore.Store, embedders EmbedderProvider, segmenter *extraction.Segmenter, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:       cfg,
		store:     store,
		embedders: embedders,
		segmenter: segmenter,
		loadText:  document.Load,
		logger:    logging.NewNop(),
		indexes:   make(map[string]*Index),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ReportKey identifies a reference report by content.
func ReportKey(reportText string) string {
	sum := sha256.Sum256([]byte(reportText))
	return hex.EncodeToString(sum[:])[:16]
}

func cacheKey(reportKey, embedModel string) string {
	return reportKey + "|" + embedModel
}

func (m *Manager) model(embedModel string) string {
	if embedModel == "" {
		return m.embedders.DefaultModel()
	}
	return embedModel
}

// Get returns the index for the configured reference report and embedModel
// ("" for the default model). It returns nil, nil when no index exists and
// the reference report or labels are not available to build one.
func (m *Manager) Get(ctx context.Context, embedModel string) (*Index, error) {
	embedModel = m.model(embedModel)

	if !fileExists(m.cfg.ReferenceReport) {
		return nil, nil
	}
	key, text, err := m.referenceKey()
	if err != nil {
		return nil, err
	}

	ck := cacheKey(key, embedModel)
	if ix := m.cached(ck); ix != nil {
		return ix, nil
	}

	v, err := m.shared(ctx, ck, func(ctx context.Context) (any, error) {
		if ix := m.cached(ck); ix != nil {
			return ix, nil
		}
		ix, err := m.open(ctx, key, embedModel)
		if err != nil || ix != nil {
			return ix, err
		}
		if !fileExists(m.cfg.ReferenceLabels) {
			return nil, nil
		}
		if text == "" {
			if text, err = m.loadText(config.ExpandPath(m.cfg.ReferenceReport)); err != nil {
				return nil, fmt.Errorf("loading reference report: %w", err)
			}
		}
		labels, err := ReadLabels(config.ExpandPath(m.cfg.ReferenceLabels))
		if err != nil {
			return nil, fmt.Errorf("reading reference labels: %w", err)
		}
		ix, _, err = m.build(ctx, key, text, labels, embedModel)
		return ix, err
	})
	if err != nil {
		return nil, err
	}
	ix, _ := v.(*Index)
	return ix, nil
}

// Build segments reportText, pairs the records with labels and replaces the
// persisted index for (reportText, embedModel).
func (m *Manager) Build(ctx context.Context, reportText string, labels Labels, embedModel string) (*Index, Alignment, error) {
	embedModel = m.model(embedModel)
	key := ReportKey(reportText)

	type built struct {
		ix *Index
		al Alignment
	}
	v, err := m.shared(ctx, cacheKey(key, embedModel), func(ctx context.Context) (any, error) {
		ix, al, err := m.build(ctx, key, reportText, labels, embedModel)
		return built{ix, al}, err
	})
	if err != nil {
		return nil, Alignment{}, err
	}
	b := v.(built)
	return b.ix, b.al, nil
}

// shared runs fn once per key across concurrent callers. fn runs detached
// from any single caller's cancellation, bounded by the build timeout; each
// caller stops waiting when its own ctx is done.
func (m *Manager) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := m.group.DoChan(key, func() (any, error) {
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.buildTimeout())
		defer cancel()
		return fn(bctx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) buildTimeout() time.Duration {
	if d := m.cfg.BuildTimeout.Duration(); d > 0 {
		return d
	}
	return config.Default().Retrieval.BuildTimeout.Duration()
}

func (m *Manager) build(ctx context.Context, key, reportText string, labels Labels, embedModel string) (*Index, Alignment, error) {
	records, stats, err := m.segmenter.Segment(ctx, reportText)
	if err != nil {
		return nil, Alignment{}, err
	}
	if len(records) == 0 {
		return nil, Alignment{}, ErrNoRecords
	}

	examples, al := Align(records, labels)
	if al.Drifted() {
		m.logger.Warn(ctx, "reference records and labels are misaligned",
			zap.Int("records", al.Records),
			zap.Int("labels", al.Labels),
			zap.Ints("defaulted_to_low", al.Defaulted),
			zap.Ints("unused_labels", al.Unused))
	}

	embedder, err := m.embedders.ForModel(embedModel)
	if err != nil {
		return nil, al, err
	}
	texts := make([]string, len(examples))
	for i, ex := range examples {
		texts[i] = ex.Text
	}
	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, al, fmt.Errorf("embedding reference records: %w", err)
	}

	collection := vectorstore.CollectionName(key, embedModel)
	docs := make([]vectorstore.Document, len(examples))
	for i, ex := range examples {
		docs[i] = vectorstore.Document{
			ID:      key + ":" + strconv.Itoa(i+1),
			Content: ex.Text,
			Metadata: map[string]string{
				metaLabel:    ex.Label.String(),
				metaPosition: strconv.Itoa(i + 1),
			},
			Embedding: vectors[i],
		}
	}

	if err := m.store.DeleteCollection(ctx, collection); err != nil {
		return nil, al, fmt.Errorf("replacing index: %w", err)
	}
	if err := m.store.Upsert(ctx, collection, docs); err != nil {
		return nil, al, fmt.Errorf("storing index: %w", err)
	}

	ix := m.newIndex(collection, embedModel, len(docs), embedder)
	m.mu.Lock()
	m.indexes[cacheKey(key, embedModel)] = ix
	m.mu.Unlock()

	m.logger.Info(ctx, "built similarity index",
		zap.String("collection", collection),
		zap.String("embed_model", embedModel),
		zap.Int("examples", len(docs)),
		zap.Int("fallback_records", stats.Recovered),
		zap.Int("dropped_blocks", stats.Dropped))
	return ix, al, nil
}

// open loads a persisted index, or returns nil if the collection is empty.
func (m *Manager) open(ctx context.Context, key, embedModel string) (*Index, error) {
	collection := vectorstore.CollectionName(key, embedModel)
	n, err := m.store.Count(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("checking index %s: %w", collection, err)
	}
	if n == 0 {
		return nil, nil
	}
	embedder, err := m.embedders.ForModel(embedModel)
	if err != nil {
		return nil, err
	}
	ix := m.newIndex(collection, embedModel, n, embedder)
	m.mu.Lock()
	m.indexes[cacheKey(key, embedModel)] = ix
	m.mu.Unlock()
	m.logger.Debug(ctx, "loaded persisted index", zap.String("collection", collection), zap.Int("examples", n))
	return ix, nil
}

func (m *Manager) newIndex(collection, embedModel string, size int, embedder embeddings.Embedder) *Index {
	k := m.cfg.K
	if k <= 0 {
		k = 3
	}
	return &Index{
		collection: collection,
		embedModel: embedModel,
		size:       size,
		k:          k,
		threshold:  float32(m.cfg.ScoreThreshold),
		store:      m.store,
		embedder:   embedder,
		logger:     m.logger,
	}
}

func (m *Manager) cached(key string) *Index {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indexes[key]
}

// referenceKey returns the content key of the configured reference report.
// text is non-empty only when the report had to be read.
func (m *Manager) referenceKey() (key, text string, err error) {
	m.mu.Lock()
	key = m.refKey
	m.mu.Unlock()
	if key != "" {
		return key, "", nil
	}

	text, err = m.loadText(config.ExpandPath(m.cfg.ReferenceReport))
	if err != nil {
		return "", "", fmt.Errorf("loading reference report: %w", err)
	}
	key = ReportKey(text)
	m.mu.Lock()
	m.refKey = key
	m.mu.Unlock()
	return key, text, nil
}

// Invalidate drops cached indexes and deletes their persisted collections,
// so the next Get rebuilds from the current reference files.
func (m *Manager) Invalidate(ctx context.Context) error {
	m.mu.Lock()
	stale := make([]*Index, 0, len(m.indexes))
	for _, ix := range m.indexes {
		stale = append(stale, ix)
	}
	m.indexes = make(map[string]*Index)
	m.refKey = ""
	m.mu.Unlock()

	var errs []error
	for _, ix := range stale {
		if err := m.store.DeleteCollection(ctx, ix.collection); err != nil {
			errs = append(errs, fmt.Errorf("deleting %s: %w", ix.collection, err))
		}
	}
	m.logger.Info(ctx, "invalidated similarity indexes", zap.Int("count", len(stale)))
	return errors.Join(errs...)
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(config.ExpandPath(path))
	return err == nil && !info.IsDir()
}
