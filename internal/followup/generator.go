// Package followup generates investor-style follow-up questions for a pitch.
package followup

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/pitch-perfect/backend/internal/llm"
	"github.com/pitch-perfect/backend/internal/metrics"
	"github.com/pitch-perfect/backend/pkg/apperrors"
	"github.com/pitch-perfect/backend/pkg/logger"
)

// Question pairs a generated question with the user's answer, empty until answered.
type Question struct {
	Text   string `json:"text"`
	Answer string `json:"answer"`
}

type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

type Config struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

type Generator struct {
	completer Completer
	cfg       Config
}

var numberedLine = regexp.MustCompile(`^\s*\d+\.\s*`)

const systemPrompt = `You are a seasoned venture capital investor preparing for a follow-up meeting with a founder.
You ask short, pointed questions that expose the weakest parts of a pitch.`

func NewGenerator(completer Completer, cfg Config) *Generator {
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 500
	}
	return &Generator{completer: completer, cfg: cfg}
}

// Generate asks for three numbered questions. The count is whatever the model
// returns; the list is neither padded nor truncated.
func (g *Generator) Generate(ctx context.Context, pitchText, priorSummary string) ([]string, error) {
	resp, err := g.completer.Complete(ctx, llm.CompletionRequest{
		Model:        g.cfg.Model,
		SystemPrompt: systemPrompt,
		UserPrompt:   buildPrompt(pitchText, priorSummary),
		Temperature:  g.cfg.Temperature,
		MaxTokens:    g.cfg.MaxTokens,
	})
	if err != nil {
		metrics.QuestionGenerations.WithLabelValues("error").Inc()
		logger.Error("Follow-up question generation failed", zap.Error(err))
		return nil, apperrors.NewQuestionGenerationError(err)
	}

	questions := ExtractQuestions(resp.Content)
	metrics.QuestionGenerations.WithLabelValues("success").Inc()

	logger.Debug("Follow-up questions generated", zap.Int("count", len(questions)))
	return questions, nil
}

// ExtractQuestions keeps only lines with a leading "<n>." marker and strips it.
func ExtractQuestions(text string) []string {
	questions := []string{}
	for _, line := range strings.Split(text, "\n") {
		loc := numberedLine.FindStringIndex(line)
		if loc == nil {
			continue
		}
		if q := strings.TrimSpace(line[loc[1]:]); q != "" {
			questions = append(questions, q)
		}
	}
	return questions
}

// NewQuestions wraps generated texts with empty answers.
func NewQuestions(texts []string) []Question {
	out := make([]Question, len(texts))
	for i, t := range texts {
		out[i] = Question{Text: t}
	}
	return out
}

func buildPrompt(pitchText, priorSummary string) string {
	var b strings.Builder
	b.WriteString("Read the pitch below and write exactly 3 follow-up questions an investor would ask.\n\n")
	b.WriteString("1. One question probing the depth of the market and competitive analysis.\n")
	b.WriteString("2. One question testing the viability of the business model.\n")
	b.WriteString("3. One question about the team's ability to execute.\n\n")

	if strings.TrimSpace(priorSummary) != "" {
		b.WriteString("Summary of the earlier evaluation:\n")
		b.WriteString(priorSummary)
		b.WriteString("\n\n")
	}

	b.WriteString("Pitch:\n\"\"\"\n")
	b.WriteString(pitchText)
	b.WriteString("\n\"\"\"\n\n")
	b.WriteString("Return only the questions as a numbered list (1., 2., 3.), one per line.")
	return b.String()
}
