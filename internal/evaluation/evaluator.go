package evaluation

import (
	"context"

	"go.uber.org/zap"

	"github.com/pitch-perfect/backend/internal/criteria"
	"github.com/pitch-perfect/backend/internal/llm"
	"github.com/pitch-perfect/backend/internal/metrics"
	"github.com/pitch-perfect/backend/pkg/logger"
)

const degradedComment = "Evaluation failed"

type EvaluatorConfig struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// Evaluator scores a pitch against one criterion at a time.
type Evaluator struct {
	completer Completer
	parser    Parser
	cfg       EvaluatorConfig
}

func NewEvaluator(completer Completer, parser Parser, cfg EvaluatorConfig) *Evaluator {
	if parser == nil {
		parser = NewSectionParser()
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1000
	}

	return &Evaluator{
		completer: completer,
		parser:    parser,
		cfg:       cfg,
	}
}

// Evaluate never returns an error. A failed call yields a degraded result so
// that one criterion cannot sink the whole evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, pitchText string, c criteria.Criterion) Result {
	aspects := append([]string{}, c.Aspects...)

	resp, err := e.completer.Complete(ctx, llm.CompletionRequest{
		Model:        e.cfg.Model,
		SystemPrompt: evaluatorSystemPrompt,
		UserPrompt:   buildCriterionPrompt(pitchText, c),
		Temperature:  e.cfg.Temperature,
		MaxTokens:    e.cfg.MaxTokens,
	})
	if err != nil {
		logger.Error("Criterion evaluation failed",
			zap.String("criterion", c.Name),
			zap.Error(err),
		)
		metrics.CriterionDegraded.WithLabelValues(c.Name).Inc()
		return degradedResult(c.Name, aspects)
	}

	parsed := e.parser.Parse(resp.Content)
	metrics.CriterionScore.WithLabelValues(c.Name).Observe(float64(parsed.Score))

	logger.Debug("Criterion evaluated",
		zap.String("criterion", c.Name),
		zap.Int("score", parsed.Score),
		zap.Int("strengths", len(parsed.Strengths)),
		zap.Int("improvements", len(parsed.Improvements)),
	)

	return Result{
		Criteria:     c.Name,
		Score:        parsed.Score,
		Strengths:    parsed.Strengths,
		Improvements: parsed.Improvements,
		Comment:      parsed.Comment,
		Aspects:      aspects,
	}
}

func degradedResult(name string, aspects []string) Result {
	return Result{
		Criteria:     name,
		Score:        defaultScore,
		Strengths:    []string{},
		Improvements: []string{},
		Comment:      degradedComment,
		Aspects:      aspects,
		Degraded:     true,
	}
}
