package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rsrisk/internal/classifier"
	"github.com/fyrsmithlabs/rsrisk/internal/config"
	"github.com/fyrsmithlabs/rsrisk/internal/embeddings"
	"github.com/fyrsmithlabs/rsrisk/internal/extraction"
	"github.com/fyrsmithlabs/rsrisk/internal/guardrail"
	"github.com/fyrsmithlabs/rsrisk/internal/llm"
	"github.com/fyrsmithlabs/rsrisk/internal/logging"
	"github.com/fyrsmithlabs/rsrisk/internal/pipeline"
	"github.com/fyrsmithlabs/rsrisk/internal/retrieval"
	"github.com/fyrsmithlabs/rsrisk/internal/telemetry"
	"github.com/fyrsmithlabs/rsrisk/internal/vectorstore"
)

// app holds the wired dependencies shared by the commands.
type app struct {
	cfg        *config.Config
	logger     *logging.Logger
	telemetry  *telemetry.Telemetry
	store      vectorstore.Store
	embeddings *embeddings.Service
	indexes    *retrieval.Manager
	guardrail  *guardrail.Adjudicator
	pipeline   *pipeline.Pipeline
}

// newApp loads configuration and wires every component.
//
// Order:
//  1. Config (file, then RSRISK_* env), --log-level override
//  2. Telemetry, then the logger bridged to it
//  3. LLM client, embeddings service, vector store
//  4. Segmenter, index manager, classifier, guardrail, pipeline
func newApp(ctx context.Context, opts *rootOptions) (a *app, err error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.telemetry, err = telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logging config: %w", err)
	}
	a.logger, err = logging.NewLogger(logCfg, a.telemetry.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	gen, err := llm.New(cfg.LLM, llm.WithLogger(a.logger.Named("llm")))
	if err != nil {
		return nil, fmt.Errorf("initializing llm client: %w", err)
	}

	a.embeddings, err = embeddings.New(cfg.Embeddings,
		embeddings.WithLogger(a.logger.Named("embeddings")),
		embeddings.WithMeter(a.telemetry.Meter("github.com/fyrsmithlabs/rsrisk/internal/embeddings")))
	if err != nil {
		return nil, fmt.Errorf("initializing embeddings: %w", err)
	}

	a.store, err = vectorstore.Open(ctx, cfg.VectorStore, a.logger.Named("vectorstore"))
	if err != nil {
		return nil, fmt.Errorf("opening vector store: %w", err)
	}

	segmenter := extraction.New(extraction.NewLLMFallback(gen, cfg.LLM.Model),
		extraction.WithLogger(a.logger.Named("extraction")))

	a.indexes = retrieval.NewManager(cfg.Retrieval, a.store, a.embeddings, segmenter,
		retrieval.WithManagerLogger(a.logger.Named("retrieval")))

	a.guardrail, err = guardrail.New(guardrail.Options{
		Window:   cfg.Guardrail.Window,
		Anchors:  cfg.Guardrail.Anchors,
		Failures: cfg.Guardrail.Failures,
	})
	if err != nil {
		return nil, fmt.Errorf("guardrail config: %w", err)
	}

	clf := classifier.New(gen, classifier.WithLogger(a.logger.Named("classifier")))
	a.pipeline = pipeline.New(cfg.Pipeline, segmenter, a.indexes, clf,
		pipeline.WithLogger(a.logger.Named("pipeline")),
		pipeline.WithGuardrail(a.guardrail))

	a.logger.Debug(ctx, "dependencies initialized",
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.LLM.Model),
		zap.String("embed_model", a.embeddings.DefaultModel()),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.Bool("telemetry", a.telemetry.IsEnabled()))
	return a, nil
}

// Close releases the store and flushes telemetry and logs.
func (a *app) Close() {
	var errs []error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("vector store close: %w", err))
		}
	}
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
		cancel()
	}
	if a.logger != nil {
		if err := errors.Join(errs...); err != nil {
			a.logger.Warn(context.Background(), "shutdown incomplete", zap.Error(err))
		}
		_ = a.logger.Sync()
	}
}
