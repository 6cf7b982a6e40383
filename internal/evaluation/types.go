package evaluation

import (
	"context"

	"github.com/pitch-perfect/backend/internal/llm"
)

// Result is the scored outcome of one criterion. It is never mutated once built.
type Result struct {
	Criteria     string   `json:"criteria"`
	Score        int      `json:"score"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	Comment      string   `json:"comment"`
	Aspects      []string `json:"aspects"`
	Degraded     bool     `json:"degraded"`
}

// Response is one full evaluation of a pitch: a result per criterion, in
// catalog order, plus the aggregate.
type Response struct {
	Evaluations     []Result `json:"evaluations"`
	OverallScore    int      `json:"overallScore"`
	OverallFeedback string   `json:"overallFeedback"`
}

// Completer is the text-generation capability the evaluator and aggregator need.
// *llm.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// Cache stores finished responses by content hash. Implementations must treat
// a miss as (false, nil).
type Cache interface {
	GetEvaluation(ctx context.Context, key string, out interface{}) (bool, error)
	SetEvaluation(ctx context.Context, key string, value interface{}) error
}

const (
	StageCriterionDone = "criterion_done"
	StageSummaryDone   = "summary_done"
)

type ProgressEvent struct {
	Stage     string `json:"stage"`
	Criterion string `json:"criterion,omitempty"`
	Score     int    `json:"score,omitempty"`
	Degraded  bool   `json:"degraded,omitempty"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// ProgressFunc receives pipeline events. Calls are serialized by the service.
type ProgressFunc func(ProgressEvent)
