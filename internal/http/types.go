package http

import (
	"github.com/fyrsmithlabs/rsrisk/internal/export"
	"github.com/fyrsmithlabs/rsrisk/internal/pipeline"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ClassifyResponse is the response body for POST /v1/classify.
type ClassifyResponse struct {
	RunID    string             `json:"run_id"`
	Count    int                `json:"count"`
	Items    []export.Item      `json:"items"`
	RAGUsed  bool               `json:"rag_used"`
	Notice   string             `json:"notice,omitempty"`
	Failures []pipeline.Failure `json:"failures"`
}

func newClassifyResponse(out *pipeline.Output) ClassifyResponse {
	items := export.Items(out.Results)
	return ClassifyResponse{
		RunID:    out.RunID,
		Count:    len(items),
		Items:    items,
		RAGUsed:  out.RAGUsed,
		Notice:   out.Notice,
		Failures: out.Failures,
	}
}
