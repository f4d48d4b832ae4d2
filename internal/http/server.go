// Package http provides the HTTP API for rsrisk.
package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rsrisk/internal/config"
	"github.com/fyrsmithlabs/rsrisk/internal/document"
	"github.com/fyrsmithlabs/rsrisk/internal/export"
	"github.com/fyrsmithlabs/rsrisk/internal/logging"
	"github.com/fyrsmithlabs/rsrisk/internal/pipeline"
	"github.com/fyrsmithlabs/rsrisk/internal/risk"
)

const mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Runner classifies report text. *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, text string, opts pipeline.Options) (*pipeline.Output, error)
}

// Server provides HTTP endpoints for rsrisk.
type Server struct {
	echo    *echo.Echo
	runner  Runner
	logger  *logging.Logger
	config  config.ServerConfig
	metrics *HTTPMetrics
}

// NewServer creates a new HTTP server.
func NewServer(runner Runner, logger *logging.Logger, cfg config.ServerConfig) (*Server, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = config.Default().Server.MaxUploadBytes
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		runner:  runner,
		logger:  logger,
		config:  cfg,
		metrics: NewHTTPMetrics(logger.Underlying()),
	}

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger)
	e.Use(s.metrics.MetricsMiddleware())

	s.registerRoutes()
	return s, nil
}

// requestLogger attaches the request id to the request context and logs
// each request once it completes.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		id := c.Response().Header().Get(echo.HeaderXRequestID)
		ctx := logging.WithRequestID(req.Context(), id)
		c.SetRequest(req.WithContext(ctx))

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info(ctx, "http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/v1")
	v1.GET("/health", s.handleHealth)
	v1.POST("/classify", s.handleClassify)
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleClassify(c echo.Context) error {
	ctx := c.Request().Context()

	opts, excel, err := parseClassifyParams(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	fh, err := c.FormFile("pdf")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field \"pdf\" is required")
	}
	if !strings.HasSuffix(strings.ToLower(fh.Filename), ".pdf") {
		return echo.NewHTTPError(http.StatusBadRequest, "please upload a .pdf file")
	}
	if fh.Size > s.config.MaxUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("upload exceeds %d bytes", s.config.MaxUploadBytes))
	}

	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable upload")
	}
	data, err := io.ReadAll(io.LimitReader(f, s.config.MaxUploadBytes+1))
	_ = f.Close()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable upload")
	}

	text, err := document.ReadPDF(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		s.logger.Warn(ctx, "rejected upload", zap.String("filename", fh.Filename), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("could not read pdf: %v", err))
	}

	out, err := s.runner.Run(ctx, text, opts)
	if err != nil {
		switch {
		case errors.Is(err, risk.ErrConfiguration):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return echo.NewHTTPError(http.StatusServiceUnavailable, "request canceled")
		}
		s.logger.Error(ctx, "classification run failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	format := "json"
	if excel {
		format = "xlsx"
	}
	s.metrics.RecordClassification(ctx, int64(len(data)), format, out.RAGUsed, len(out.Results), len(out.Failures))

	if excel {
		var buf bytes.Buffer
		if err := export.WriteXLSX(&buf, out.Results); err != nil {
			s.logger.Error(ctx, "writing workbook failed", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "could not write workbook")
		}
		stem := strings.TrimSuffix(filepath.Base(fh.Filename), filepath.Ext(fh.Filename))
		if stem == "" {
			stem = "report"
		}
		c.Response().Header().Set(echo.HeaderContentDisposition,
			fmt.Sprintf("attachment; filename=%q", stem+"_predictions.xlsx"))
		return c.Blob(http.StatusOK, mimeXLSX, buf.Bytes())
	}

	return c.JSON(http.StatusOK, newClassifyResponse(out))
}

func parseClassifyParams(c echo.Context) (pipeline.Options, bool, error) {
	opts := pipeline.Options{
		Model:      c.QueryParam("model"),
		EmbedModel: c.QueryParam("embed_model"),
	}
	if v := c.QueryParam("use_rag"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, false, fmt.Errorf("use_rag must be a boolean, got %q", v)
		}
		opts.UseRAG = &b
	}
	var excel bool
	if v := c.QueryParam("excel"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, false, fmt.Errorf("excel must be a boolean, got %q", v)
		}
		excel = b
	}
	return opts, excel, nil
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Serve runs the server until ctx is done, then shuts down within the
// configured shutdown timeout.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
