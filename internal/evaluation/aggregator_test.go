package evaluation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitch-perfect/backend/pkg/apperrors"
)

func resultsWithScores(scores ...int) []Result {
	out := make([]Result, len(scores))
	for i, s := range scores {
		out[i] = Result{Criteria: "c", Score: s, Strengths: []string{"s"}}
	}
	return out
}

func TestOverallScore(t *testing.T) {
	tests := []struct {
		scores []int
		want   int
	}{
		{[]int{8, 7, 6}, 7},
		{[]int{8, 7, 7}, 7},
		{[]int{9, 9, 8}, 9},
		{[]int{7, 8}, 8},
		{[]int{1, 2}, 2},
		{[]int{10}, 10},
		{[]int{5, 5, 6}, 5},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, OverallScore(resultsWithScores(tt.scores...)), "%v", tt.scores)
	}
}

func TestAggregate(t *testing.T) {
	fc := &fakeCompleter{}
	agg := NewAggregator(fc, AggregatorConfig{Model: testSummaryModel, MaxTokens: 400})

	results := []Result{
		{Criteria: "Problem-Solution Fit", Score: 8, Strengths: []string{"clear pain"}},
		{Criteria: "Business Potential", Score: 7, Strengths: []string{"big market"}},
		{Criteria: "Presentation Quality", Score: 6},
	}
	resp, err := agg.Aggregate(context.Background(), results)
	require.NoError(t, err)

	assert.Equal(t, 7, resp.OverallScore)
	assert.Equal(t, "Overall a promising pitch.", resp.OverallFeedback)
	assert.Equal(t, results, resp.Evaluations)

	require.Len(t, fc.calls, 1)
	req := fc.calls[0]
	assert.Equal(t, testSummaryModel, req.Model)
	assert.Equal(t, 400, req.MaxTokens)
	assert.InDelta(t, 0.7, req.Temperature, 0.0001)
	assert.Contains(t, req.UserPrompt, "Problem-Solution Fit: 8/10")
	assert.Contains(t, req.UserPrompt, "- big market")
}

func TestAggregateEmptyFeedbackFallsBack(t *testing.T) {
	for _, content := range []string{"", "   \n"} {
		fc := &fakeCompleter{summary: func(context.Context) (string, error) { return content, nil }}
		resp, err := NewAggregator(fc, AggregatorConfig{Model: testSummaryModel}).Aggregate(context.Background(), resultsWithScores(5))
		require.NoError(t, err)
		assert.Equal(t, "No overall feedback available", resp.OverallFeedback)
	}
}

func TestAggregateFailurePropagates(t *testing.T) {
	fc := &fakeCompleter{summary: func(context.Context) (string, error) { return "", errors.New("model unavailable") }}
	resp, err := NewAggregator(fc, AggregatorConfig{Model: testSummaryModel}).Aggregate(context.Background(), resultsWithScores(5))

	assert.Nil(t, resp)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSynthesis)
	assert.Contains(t, err.Error(), "model unavailable")
}
