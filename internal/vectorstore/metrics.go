package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationDuration tracks store operation latency.
	// Labels: backend (chromem, qdrant), operation (upsert, query, count, delete)
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rsrisk",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"backend", "operation"},
	)

	// OperationErrors counts failed store operations.
	OperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rsrisk",
			Subsystem: "vectorstore",
			Name:      "operation_errors_total",
			Help:      "Total number of failed vector store operations",
		},
		[]string{"backend", "operation"},
	)

	// QueryResults tracks how many hits each query returns after the score cutoff.
	QueryResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rsrisk",
			Subsystem: "vectorstore",
			Name:      "query_results",
			Help:      "Number of results returned per query",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20},
		},
		[]string{"backend"},
	)
)

// observe records one operation. Call it deferred with the named error.
func observe(backend, operation string, start time.Time, err error) {
	OperationDuration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		OperationErrors.WithLabelValues(backend, operation).Inc()
	}
}
