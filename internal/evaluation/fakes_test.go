package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pitch-perfect/backend/internal/criteria"
	"github.com/pitch-perfect/backend/internal/llm"
)

const (
	testEvalModel    = "eval-model"
	testSummaryModel = "summary-model"
)

// fakeCompleter dispatches on the request: synthesis calls use the summary
// model, criterion calls are matched by criterion name in the prompt.
type fakeCompleter struct {
	mu       sync.Mutex
	calls    []llm.CompletionRequest
	criteria func(ctx context.Context, criterion string) (string, error)
	summary  func(ctx context.Context) (string, error)
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if req.Model == testSummaryModel {
		if f.summary == nil {
			return &llm.CompletionResponse{Content: "Overall a promising pitch."}, nil
		}
		content, err := f.summary(ctx)
		if err != nil {
			return nil, err
		}
		return &llm.CompletionResponse{Content: content}, nil
	}

	name := criterionIn(req.UserPrompt)
	if f.criteria == nil {
		return &llm.CompletionResponse{Content: templateResponse(7)}, nil
	}
	content, err := f.criteria(ctx, name)
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Content: content}, nil
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func criterionIn(prompt string) string {
	for _, c := range criteria.Default() {
		if strings.Contains(prompt, fmt.Sprintf("%q", c.Name)) {
			return c.Name
		}
	}
	return ""
}

func templateResponse(score int) string {
	return fmt.Sprintf("SCORE: %d\nSTRENGTHS:\n- s1\n- s2\nIMPROVEMENTS:\n- i1\nANALYSIS:\nFine.", score)
}

// memoryCache mimics the redis cache by storing JSON.
type memoryCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	failGet bool
	sets    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: map[string][]byte{}}
}

func (m *memoryCache) GetEvaluation(_ context.Context, key string, out interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return false, errors.New("cache down")
	}
	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

func (m *memoryCache) SetEvaluation(_ context.Context, key string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = raw
	m.sets++
	return nil
}

func newTestService(fc *fakeCompleter, opts ...Option) *Service {
	evaluator := NewEvaluator(fc, nil, EvaluatorConfig{Model: testEvalModel})
	aggregator := NewAggregator(fc, AggregatorConfig{Model: testSummaryModel})
	svc, err := NewService(criteria.Default(), evaluator, aggregator, opts...)
	if err != nil {
		panic(err)
	}
	return svc
}
