package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rsrisk/internal/config"
	"github.com/fyrsmithlabs/rsrisk/internal/document"
	"github.com/fyrsmithlabs/rsrisk/internal/export"
	"github.com/fyrsmithlabs/rsrisk/internal/guardrail"
	"github.com/fyrsmithlabs/rsrisk/internal/logging"
	"github.com/fyrsmithlabs/rsrisk/internal/pipeline"
	"github.com/fyrsmithlabs/rsrisk/internal/risk"
)

// Runner classifies report text. *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, text string, opts pipeline.Options) (*pipeline.Output, error)
}

// Server serves the rsrisk tools over MCP.
type Server struct {
	mcp       *mcp.Server
	runner    Runner
	guardrail *guardrail.Adjudicator
	load      func(path string) (string, error)
	metrics   *Metrics
	logger    *logging.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "rsrisk")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *logging.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "rsrisk",
		Version: "dev",
		Logger:  logging.NewNop(),
	}
}

// NewServer creates an MCP server. adjudicator may be nil for the default
// guardrail.
func NewServer(cfg *Config, runner Runner, adjudicator *guardrail.Adjudicator) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if adjudicator == nil {
		adjudicator = guardrail.Default()
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		runner:    runner,
		guardrail: adjudicator,
		load:      loadReport,
		metrics:   NewMetrics(cfg.Logger.Underlying()),
		logger:    cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

func loadReport(path string) (string, error) {
	return document.Load(config.ExpandPath(path))
}

// Run serves on the stdio transport until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

type classifyInput struct {
	Path       string `json:"path" jsonschema:"Path to the inspection report (.pdf, .txt or .md)"`
	UseRAG     *bool  `json:"use_rag,omitempty" jsonschema:"Use retrieved reference examples. true fails when no index exists; omitted uses the configured default"`
	Model      string `json:"model,omitempty" jsonschema:"Override the classification model"`
	EmbedModel string `json:"embed_model,omitempty" jsonschema:"Embedding model of the reference index"`
}

type classifyOutput struct {
	RunID    string        `json:"run_id"`
	Count    int           `json:"count"`
	Results  []export.Item `json:"results"`
	Failures []toolFailure `json:"failures"`
	RAGUsed  bool          `json:"rag_used"`
	Notice   string        `json:"notice,omitempty"`
}

type toolFailure struct {
	Position int    `json:"position"`
	Error    string `json:"error"`
}

type adjudicateInput struct {
	Deficiency string `json:"deficiency" jsonschema:"Deficiency description"`
	RootCause  string `json:"root_cause,omitempty" jsonschema:"Root cause text"`
	Corrective string `json:"corrective,omitempty" jsonschema:"Corrective action text"`
	Preventive string `json:"preventive,omitempty" jsonschema:"Preventive action text"`
	Label      string `json:"label" jsonschema:"Proposed risk level: High, Medium or Low"`
}

type adjudicateOutput struct {
	Input    risk.Level `json:"input"`
	Final    risk.Level `json:"final"`
	Promoted bool       `json:"promoted"`
	Anchor   string     `json:"anchor,omitempty"`
	Failure  string     `json:"failure,omitempty"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "classify_report",
		Description: "Classify every deficiency in a ship inspection report as High, Medium or Low risk. Returns per-record rationale, evidence and the guardrail-adjudicated final level.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args classifyInput) (*mcp.CallToolResult, classifyOutput, error) {
		var out classifyOutput
		err := s.instrument(ctx, "classify_report", func() error {
			if args.Path == "" {
				return fmt.Errorf("path is required")
			}
			text, err := s.load(args.Path)
			if err != nil {
				return err
			}
			res, err := s.runner.Run(ctx, text, pipeline.Options{
				UseRAG:     args.UseRAG,
				Model:      args.Model,
				EmbedModel: args.EmbedModel,
			})
			if err != nil {
				return err
			}
			items := export.Items(res.Results)
			failures := make([]toolFailure, 0, len(res.Failures))
			for _, f := range res.Failures {
				failures = append(failures, toolFailure{Position: f.Position, Error: f.Err.Error()})
			}
			out = classifyOutput{
				RunID:    res.RunID,
				Count:    len(items),
				Results:  items,
				Failures: failures,
				RAGUsed:  res.RAGUsed,
				Notice:   res.Notice,
			}
			return nil
		})
		return nil, out, err
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "adjudicate",
		Description: "Apply the safety guardrail to one deficiency record and a proposed risk level. Fire-safety, life-saving or structural failures are raised to High.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args adjudicateInput) (*mcp.CallToolResult, adjudicateOutput, error) {
		var out adjudicateOutput
		err := s.instrument(ctx, "adjudicate", func() error {
			label, err := risk.ParseLevel(args.Label)
			if err != nil {
				return err
			}
			d := s.guardrail.Explain(risk.Record{
				Deficiency: args.Deficiency,
				RootCause:  args.RootCause,
				Corrective: args.Corrective,
				Preventive: args.Preventive,
			}, label)
			out = adjudicateOutput(d)
			return nil
		})
		return nil, out, err
	})
}

func (s *Server) instrument(ctx context.Context, tool string, fn func() error) error {
	start := time.Now()
	s.metrics.IncrementActive(ctx, tool)
	defer s.metrics.DecrementActive(ctx, tool)

	err := fn()
	s.metrics.RecordInvocation(ctx, tool, time.Since(start), err)
	if err != nil {
		s.logger.Warn(ctx, "tool call failed", zap.String("tool", tool), zap.Error(err))
	}
	return err
}
