package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rsrisk/internal/config"
	"github.com/fyrsmithlabs/rsrisk/internal/document"
	"github.com/fyrsmithlabs/rsrisk/internal/evaluation"
	"github.com/fyrsmithlabs/rsrisk/internal/export"
	httpapi "github.com/fyrsmithlabs/rsrisk/internal/http"
	mcpserver "github.com/fyrsmithlabs/rsrisk/internal/mcp"
	"github.com/fyrsmithlabs/rsrisk/internal/pipeline"
	"github.com/fyrsmithlabs/rsrisk/internal/retrieval"
	"github.com/fyrsmithlabs/rsrisk/internal/risk"
)

// runFlags are the classification flags shared by predict and eval.
type runFlags struct {
	useRAG     bool
	noRAG      bool
	model      string
	embedModel string
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.useRAG, "use-rag", false, "require retrieved reference examples (fails when no index exists)")
	cmd.Flags().BoolVar(&f.noRAG, "no-rag", false, "classify without reference examples")
	cmd.Flags().StringVar(&f.model, "model", "", "override llm.model")
	cmd.Flags().StringVar(&f.embedModel, "embed-model", "", "embedding model of the reference index")
	cmd.MarkFlagsMutuallyExclusive("use-rag", "no-rag")
}

// options maps the flags to pipeline options. Neither flag keeps the
// configured default.
func (f *runFlags) options() pipeline.Options {
	opts := pipeline.Options{Model: f.model, EmbedModel: f.embedModel}
	switch {
	case f.useRAG:
		v := true
		opts.UseRAG = &v
	case f.noRAG:
		v := false
		opts.UseRAG = &v
	}
	return opts
}

func newBuildIndexCmd(root *rootOptions) *cobra.Command {
	var report, labels, embedModel string

	cmd := &cobra.Command{
		Use:   "build-index",
		Short: "Build the reference example index from a labeled report",
		Long: `Segment a labeled reference report, pair each record with its gold label by
position, embed the records and persist them in the vector store.

Examples:
  rsrisk build-index --report data/sample/report.pdf --labels data/sample/labels.xlsx
  rsrisk build-index --report report.txt --labels labels.csv --embed-model text-embedding-3-small`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, root)
			if err != nil {
				return err
			}
			defer a.Close()

			text, err := document.Load(config.ExpandPath(report))
			if err != nil {
				return fmt.Errorf("reading reference report: %w", err)
			}
			gold, err := retrieval.ReadLabels(config.ExpandPath(labels))
			if err != nil {
				return err
			}

			ix, al, err := a.indexes.Build(ctx, text, gold, embedModel)
			if err != nil {
				return fmt.Errorf("building index: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderAlignment(ix, al))
			return nil
		},
	}
	cmd.Flags().StringVar(&report, "report", "", "reference report (.pdf, .txt, .md)")
	cmd.Flags().StringVar(&labels, "labels", "", "gold labels (.xlsx or .csv with a risk column)")
	cmd.Flags().StringVar(&embedModel, "embed-model", "", "override embeddings.model")
	_ = cmd.MarkFlagRequired("report")
	_ = cmd.MarkFlagRequired("labels")
	return cmd
}

func newPredictCmd(root *rootOptions) *cobra.Command {
	var (
		report, out string
		flags       runFlags
	)

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Classify every deficiency in a report",
		Long: `Classify every deficiency in a report and write the predictions.

The output format follows the --out extension:
  .csv   every field, evidence as a JSON array
  .xlsx  Deficiency ordinal and final Risk
  .json  the full run output

Examples:
  rsrisk predict --report inspection.pdf --out predictions.csv
  rsrisk predict --report inspection.pdf --out predictions.xlsx --no-rag`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, root)
			if err != nil {
				return err
			}
			defer a.Close()

			text, err := document.Load(config.ExpandPath(report))
			if err != nil {
				return fmt.Errorf("reading report: %w", err)
			}
			res, err := a.pipeline.Run(ctx, text, flags.options())
			if err != nil {
				return err
			}
			if err := export.WriteFile(config.ExpandPath(out), res.Results, res); err != nil {
				return fmt.Errorf("writing predictions: %w", err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprint(w, renderResults(res))
			fmt.Fprintf(w, "%s %s\n", sectionStyle.Render("Wrote predictions:"), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&report, "report", "", "report to classify (.pdf, .txt, .md)")
	cmd.Flags().StringVar(&out, "out", "predictions.csv", "output file (.csv, .xlsx, .json)")
	flags.register(cmd)
	_ = cmd.MarkFlagRequired("report")
	return cmd
}

func newEvalCmd(root *rootOptions) *cobra.Command {
	var (
		report, labels, out string
		flags               runFlags
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Score predictions on a labeled report",
		Long: `Classify a labeled report and compare the final risk of each record with its
gold label by position. Records without a gold label count as Low.

Defaults to retrieval.reference_report and retrieval.reference_labels.

Examples:
  rsrisk eval
  rsrisk eval --report sample.pdf --labels labels.xlsx --out eval_report.csv --no-rag`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, root)
			if err != nil {
				return err
			}
			defer a.Close()

			if report == "" {
				report = a.cfg.Retrieval.ReferenceReport
			}
			if labels == "" {
				labels = a.cfg.Retrieval.ReferenceLabels
			}
			if report == "" || labels == "" {
				return errors.New("--report and --labels are required when no reference data is configured")
			}

			text, err := document.Load(config.ExpandPath(report))
			if err != nil {
				return fmt.Errorf("reading report: %w", err)
			}
			gold, err := retrieval.ReadLabels(config.ExpandPath(labels))
			if err != nil {
				return err
			}

			res, err := a.pipeline.Run(ctx, text, flags.options())
			if err != nil {
				return err
			}

			rows, pred, want := evalRows(res.Results, gold)
			scores, err := evaluation.Evaluate(pred, want)
			if err != nil {
				return err
			}
			if err := writeEvalReport(config.ExpandPath(out), rows); err != nil {
				return err
			}
			a.logger.Info(ctx, "evaluation complete",
				zap.Float64("accuracy", scores.Accuracy),
				zap.Float64("macro_f1", scores.MacroF1),
				zap.Int("failures", len(res.Failures)))

			w := cmd.OutOrStdout()
			fmt.Fprint(w, renderEval(scores))
			if len(res.Failures) > 0 {
				fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("%d records failed classification and were not scored", len(res.Failures))))
			}
			fmt.Fprintf(w, "%s %s\n", sectionStyle.Render("Detailed report:"), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&report, "report", "", "labeled report (.pdf, .txt, .md)")
	cmd.Flags().StringVar(&labels, "labels", "", "gold labels (.xlsx or .csv)")
	cmd.Flags().StringVar(&out, "out", "eval_report.csv", "detail report (.csv)")
	flags.register(cmd)
	return cmd
}

// evalRows pairs results with gold labels by position. Missing gold labels
// count as Low.
func evalRows(results []risk.Result, gold retrieval.Labels) ([]export.EvalRow, []risk.Level, []risk.Level) {
	rows := make([]export.EvalRow, 0, len(results))
	pred := make([]risk.Level, 0, len(results))
	want := make([]risk.Level, 0, len(results))
	for _, r := range results {
		g, _ := gold.Lookup(r.Position)
		rows = append(rows, export.EvalRow{
			Index:      r.Position,
			Deficiency: r.Record.Deficiency,
			Pred:       r.Final,
			Gold:       g,
			LLM:        r.Verdict.Risk,
			Rationale:  r.Verdict.Rationale,
		})
		pred = append(pred, r.Final)
		want = append(want, g)
	}
	return rows, pred, want
}

func writeEvalReport(path string, rows []export.EvalRow) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating eval report: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return export.WriteEvalCSV(f, rows)
}

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API until interrupted.

Endpoints:
  GET  /health, /v1/health
  GET  /metrics
  POST /v1/classify   multipart field "pdf"; query model, use_rag, embed_model, excel`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, root)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := a.cfg.Server
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}

			if a.cfg.Retrieval.Watch {
				go func() {
					if err := a.indexes.Watch(ctx); err != nil {
						a.logger.Warn(ctx, "reference data watcher stopped", zap.Error(err))
					}
				}()
			}

			srv, err := httpapi.NewServer(a.pipeline, a.logger.Named("http"), cfg)
			if err != nil {
				return err
			}
			return srv.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "override server.host")
	cmd.Flags().IntVar(&port, "port", 0, "override server.port")
	return cmd
}

func newMCPCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP tool server on stdio",
		Long: `Serve the classify_report and adjudicate tools over the MCP stdio transport.
Logs go to stderr.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, root)
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := mcpserver.NewServer(&mcpserver.Config{
				Name:    "rsrisk",
				Version: version,
				Logger:  a.logger.Named("mcp"),
			}, a.pipeline, a.guardrail)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
}
