package http

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/rsrisk/internal/http"

// routeUnmatched labels requests that matched no registered route, so
// scanners probing arbitrary paths add one series instead of one per path.
const routeUnmatched = "unmatched"

// HTTPMetrics records request traffic and classification uploads.
type HTTPMetrics struct {
	logger         *zap.Logger
	requests       metric.Int64Counter
	duration       metric.Float64Histogram
	activeRequests metric.Int64UpDownCounter
	uploadSize     metric.Int64Histogram
	recordsPerRun  metric.Int64Histogram
	failedRecords  metric.Int64Counter
}

// NewHTTPMetrics creates instruments on the global meter provider.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	return newHTTPMetrics(otel.Meter(httpInstrumentationName), logger)
}

func newHTTPMetrics(meter metric.Meter, logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &HTTPMetrics{logger: logger}

	var err error
	m.requests, err = meter.Int64Counter(
		"rsrisk.http.requests_total",
		metric.WithDescription("HTTP requests by method, route (/health, /v1/classify, ...) and status code"),
		metric.WithUnit("{request}"),
	)
	m.warn("requests counter", err)

	m.duration, err = meter.Float64Histogram(
		"rsrisk.http.request_duration_seconds",
		metric.WithDescription("HTTP request latency by method, route and status. Classification requests include every LLM call for the report."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.05, 0.25, 1, 5, 15, 30, 60, 120, 300),
	)
	m.warn("duration histogram", err)

	m.activeRequests, err = meter.Int64UpDownCounter(
		"rsrisk.http.active_requests",
		metric.WithDescription("HTTP requests in flight"),
		metric.WithUnit("{request}"),
	)
	m.warn("active requests counter", err)

	m.uploadSize, err = meter.Int64Histogram(
		"rsrisk.http.upload_size_bytes",
		metric.WithDescription("Size of accepted report PDFs posted to /v1/classify"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(10e3, 50e3, 100e3, 500e3, 1e6, 5e6, 10e6, 32e6),
	)
	m.warn("upload size histogram", err)

	m.recordsPerRun, err = meter.Int64Histogram(
		"rsrisk.http.classified_records",
		metric.WithDescription("Deficiency records classified per /v1/classify request, by response format and whether examples were retrieved"),
		metric.WithUnit("{record}"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250),
	)
	m.warn("classified records histogram", err)

	m.failedRecords, err = meter.Int64Counter(
		"rsrisk.http.failed_records_total",
		metric.WithDescription("Deficiency records that failed classification in /v1/classify requests"),
		metric.WithUnit("{record}"),
	)
	m.warn("failed records counter", err)

	return m
}

func (m *HTTPMetrics) warn(instrument string, err error) {
	if err != nil {
		m.logger.Warn("failed to create "+instrument, zap.Error(err))
	}
}

// MetricsMiddleware returns an Echo middleware that records request count,
// latency and in-flight requests per route.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()

			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, 1)
				defer m.activeRequests.Add(ctx, -1)
			}

			err := next(c)

			// Errors are rendered by the echo error handler after this
			// middleware returns, so derive the status from the error.
			status := c.Response().Status
			if err != nil {
				status = statusFromError(err)
			}
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", routeLabel(c.Path())),
				attribute.String("status", strconv.Itoa(status)),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			return err
		}
	}
}

// RecordClassification records one successful /v1/classify request.
func (m *HTTPMetrics) RecordClassification(ctx context.Context, uploadBytes int64, format string, ragUsed bool, results, failures int) {
	attrs := metric.WithAttributes(
		attribute.String("format", format),
		attribute.Bool("rag_used", ragUsed),
	)
	if m.uploadSize != nil {
		m.uploadSize.Record(ctx, uploadBytes)
	}
	if m.recordsPerRun != nil {
		m.recordsPerRun.Record(ctx, int64(results), attrs)
	}
	if m.failedRecords != nil && failures > 0 {
		m.failedRecords.Add(ctx, int64(failures), attrs)
	}
}

// routeLabel maps the matched route template to a metric label.
func routeLabel(path string) string {
	if path == "" || path == "/*" {
		return routeUnmatched
	}
	return path
}

func statusFromError(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return 500
}
