package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func newTestMetrics(t *testing.T) (*HTTPMetrics, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	return newHTTPMetrics(mp.Meter(httpInstrumentationName), zap.NewNop()), reader
}

func collect(t *testing.T, reader *metric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			out[md.Name] = md
		}
	}
	return out
}

func requestsByRouteStatus(t *testing.T, md metricdata.Metrics) map[string]int64 {
	t.Helper()
	sum, ok := md.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	got := map[string]int64{}
	for _, dp := range sum.DataPoints {
		route, _ := dp.Attributes.Value(attribute.Key("route"))
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		got[route.AsString()+" "+status.AsString()] += dp.Value
	}
	return got
}

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	m, reader := newTestMetrics(t)

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.POST("/v1/classify", func(echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "please upload a .pdf file")
	})

	for _, r := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/health", nil),
		httptest.NewRequest(http.MethodGet, "/health", nil),
		httptest.NewRequest(http.MethodPost, "/v1/classify", nil),
	} {
		e.ServeHTTP(httptest.NewRecorder(), r)
	}

	metrics := collect(t, reader)
	require.Contains(t, metrics, "rsrisk.http.requests_total")
	assert.Equal(t, map[string]int64{
		"/health 200":      2,
		"/v1/classify 400": 1,
	}, requestsByRouteStatus(t, metrics["rsrisk.http.requests_total"]))

	hist, ok := metrics["rsrisk.http.request_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)

	active, ok := metrics["rsrisk.http.active_requests"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	for _, dp := range active.DataPoints {
		assert.Zero(t, dp.Value, "every request finished")
	}
}

func TestHTTPMetrics_RecordClassification(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordClassification(ctx, 20_000, "json", true, 7, 0)
	m.RecordClassification(ctx, 40_000, "xlsx", false, 3, 2)

	metrics := collect(t, reader)

	uploads, ok := metrics["rsrisk.http.upload_size_bytes"].Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, uploads.DataPoints, 1)
	assert.Equal(t, uint64(2), uploads.DataPoints[0].Count)
	assert.Equal(t, int64(60_000), uploads.DataPoints[0].Sum)

	records, ok := metrics["rsrisk.http.classified_records"].Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	assert.Len(t, records.DataPoints, 2, "one series per format")

	failed, ok := metrics["rsrisk.http.failed_records_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, failed.DataPoints, 1)
	assert.Equal(t, int64(2), failed.DataPoints[0].Value)
	format, _ := failed.DataPoints[0].Attributes.Value(attribute.Key("format"))
	assert.Equal(t, "xlsx", format.AsString())
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, routeUnmatched, routeLabel(""))
	assert.Equal(t, routeUnmatched, routeLabel("/*"))
	assert.Equal(t, "/v1/classify", routeLabel("/v1/classify"))
}

func TestStatusFromError(t *testing.T) {
	assert.Equal(t, http.StatusRequestEntityTooLarge, statusFromError(echo.NewHTTPError(http.StatusRequestEntityTooLarge)))
	assert.Equal(t, http.StatusInternalServerError, statusFromError(assert.AnError))
}
