package evaluation

import (
	"context"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/pitch-perfect/backend/internal/llm"
	"github.com/pitch-perfect/backend/pkg/apperrors"
	"github.com/pitch-perfect/backend/pkg/logger"
)

const noFeedbackPlaceholder = "No overall feedback available"

type AggregatorConfig struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// Aggregator combines per-criterion results into a Response.
type Aggregator struct {
	completer Completer
	cfg       AggregatorConfig
}

func NewAggregator(completer Completer, cfg AggregatorConfig) *Aggregator {
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 500
	}
	return &Aggregator{completer: completer, cfg: cfg}
}

// OverallScore is the mean score rounded half up. results must not be empty.
func OverallScore(results []Result) int {
	total := 0
	for _, r := range results {
		total += r.Score
	}
	mean := float64(total) / float64(len(results))
	return int(math.Floor(mean + 0.5))
}

// Aggregate requests the overall synthesis. Unlike per-criterion calls, a
// failure here fails the whole evaluation.
func (a *Aggregator) Aggregate(ctx context.Context, results []Result) (*Response, error) {
	resp, err := a.completer.Complete(ctx, llm.CompletionRequest{
		Model:        a.cfg.Model,
		SystemPrompt: synthesisSystemPrompt,
		UserPrompt:   buildSynthesisPrompt(results),
		Temperature:  a.cfg.Temperature,
		MaxTokens:    a.cfg.MaxTokens,
	})
	if err != nil {
		logger.Error("Overall feedback synthesis failed", zap.Error(err))
		return nil, apperrors.NewSynthesisError(err)
	}

	feedback := strings.TrimSpace(resp.Content)
	if feedback == "" {
		feedback = noFeedbackPlaceholder
	}

	return &Response{
		Evaluations:     results,
		OverallScore:    OverallScore(results),
		OverallFeedback: feedback,
	}, nil
}
