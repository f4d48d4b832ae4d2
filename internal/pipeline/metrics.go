package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsClassified counts classified records by final (adjudicated) level.
	RecordsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rsrisk",
			Subsystem: "pipeline",
			Name:      "records_total",
			Help:      "Total number of classified records by final risk level",
		},
		[]string{"level"},
	)

	// GuardrailPromotions counts records the guardrail raised to High.
	// Labels: from (Medium, Low)
	GuardrailPromotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rsrisk",
			Subsystem: "guardrail",
			Name:      "promotions_total",
			Help:      "Total number of classifier labels raised to High by the guardrail",
		},
		[]string{"from"},
	)

	// ClassificationFailures counts records with no valid verdict.
	ClassificationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rsrisk",
			Subsystem: "pipeline",
			Name:      "classification_failures_total",
			Help:      "Total number of records that failed classification",
		},
	)

	// SegmentationDrops counts blocks dropped during segmentation.
	SegmentationDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rsrisk",
			Subsystem: "pipeline",
			Name:      "segmentation_dropped_total",
			Help:      "Total number of report blocks dropped without a usable deficiency",
		},
	)

	// RunDuration tracks end-to-end report processing time.
	// Labels: rag (true, false)
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rsrisk",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Duration of report classification runs in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"rag"},
	)
)
