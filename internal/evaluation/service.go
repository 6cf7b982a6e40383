package evaluation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pitch-perfect/backend/internal/criteria"
	"github.com/pitch-perfect/backend/internal/followup"
	"github.com/pitch-perfect/backend/internal/metrics"
	"github.com/pitch-perfect/backend/pkg/apperrors"
	"github.com/pitch-perfect/backend/pkg/logger"
	"github.com/pitch-perfect/backend/pkg/utils"
)

const DefaultTimeout = 5 * time.Minute

// Service runs the whole evaluation phase: fan-out over the catalog, hard
// join, then synthesis, all under one deadline.
type Service struct {
	catalog    criteria.Catalog
	evaluator  *Evaluator
	aggregator *Aggregator
	cache      Cache
	timeout    time.Duration
}

type Option func(*Service)

func WithCache(cache Cache) Option {
	return func(s *Service) { s.cache = cache }
}

func WithTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

func NewService(catalog criteria.Catalog, evaluator *Evaluator, aggregator *Aggregator, opts ...Option) (*Service, error) {
	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("invalid criteria catalog: %w", err)
	}

	s := &Service{
		catalog:    catalog,
		evaluator:  evaluator,
		aggregator: aggregator,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) Catalog() criteria.Catalog {
	return s.catalog
}

func (s *Service) Evaluate(ctx context.Context, text string) (*Response, error) {
	return s.EvaluateWithProgress(ctx, text, nil)
}

// EvaluateWithProgress is Evaluate with a callback for each finished stage.
func (s *Service) EvaluateWithProgress(ctx context.Context, text string, progress ProgressFunc) (*Response, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewInvalidInputError("pitch text is empty")
	}

	key := s.cacheKey(text)
	if cached := s.lookup(ctx, key); cached != nil {
		return cached, nil
	}

	start := time.Now()
	resp, err := s.run(ctx, text, progress)
	status := statusOf(err)
	metrics.EvaluationDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	metrics.EvaluationsTotal.WithLabelValues(status).Inc()
	if err != nil {
		return nil, err
	}

	logger.Info("Pitch evaluated",
		zap.Int("overall_score", resp.OverallScore),
		zap.Int("criteria", len(resp.Evaluations)),
		zap.Duration("duration", time.Since(start)),
	)

	s.store(ctx, key, resp)
	return resp, nil
}

// Reevaluate scores the pitch again with the answered follow-up questions
// appended. The caller stores the result as a separate record.
func (s *Service) Reevaluate(ctx context.Context, text string, answers []followup.Question) (*Response, error) {
	var qa strings.Builder
	for _, q := range answers {
		if strings.TrimSpace(q.Answer) == "" {
			continue
		}
		fmt.Fprintf(&qa, "Q: %s\nA: %s\n\n", q.Text, strings.TrimSpace(q.Answer))
	}
	if qa.Len() == 0 {
		return nil, apperrors.NewInvalidInputError("no answered follow-up questions")
	}

	augmented := text + "\n\nFollow-up questions answered by the founder:\n\n" + qa.String()
	return s.Evaluate(ctx, augmented)
}

func (s *Service) run(ctx context.Context, text string, progress ProgressFunc) (*Response, error) {
	phaseCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	report := serialize(progress)
	results := make([]Result, len(s.catalog))
	var completed int
	var mu sync.Mutex

	var g errgroup.Group
	for i, c := range s.catalog {
		i, c := i, c
		g.Go(func() error {
			results[i] = s.evaluator.Evaluate(phaseCtx, text, c)

			mu.Lock()
			completed++
			done := completed
			mu.Unlock()

			report(ProgressEvent{
				Stage:     StageCriterionDone,
				Criterion: c.Name,
				Score:     results[i].Score,
				Degraded:  results[i].Degraded,
				Completed: done,
				Total:     len(s.catalog),
			})
			return nil
		})
	}
	_ = g.Wait()

	if err := s.phaseErr(ctx, phaseCtx); err != nil {
		return nil, err
	}

	resp, err := s.aggregator.Aggregate(phaseCtx, results)
	if phaseErr := s.phaseErr(ctx, phaseCtx); phaseErr != nil {
		return nil, phaseErr
	}
	if err != nil {
		return nil, err
	}

	report(ProgressEvent{
		Stage:     StageSummaryDone,
		Score:     resp.OverallScore,
		Completed: len(s.catalog),
		Total:     len(s.catalog),
	})
	return resp, nil
}

// phaseErr reports a timeout when the phase deadline fired, and the caller's
// own error when the caller went away first.
func (s *Service) phaseErr(parent, phase context.Context) error {
	if err := parent.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperrors.NewEvaluationTimeoutError(s.timeout)
		}
		return err
	}
	if errors.Is(phase.Err(), context.DeadlineExceeded) {
		return apperrors.NewEvaluationTimeoutError(s.timeout)
	}
	return nil
}

// Fingerprint covers everything besides the pitch text that shapes a
// result: prompts, both models and the full catalog.
func (s *Service) Fingerprint() string {
	return utils.HashString(
		promptVersion,
		s.evaluator.cfg.Model,
		s.aggregator.cfg.Model,
		s.catalog.Fingerprint(),
	)
}

func (s *Service) cacheKey(text string) string {
	return utils.HashString(s.Fingerprint(), text)
}

func (s *Service) lookup(ctx context.Context, key string) *Response {
	if s.cache == nil {
		return nil
	}

	var cached Response
	found, err := s.cache.GetEvaluation(ctx, key, &cached)
	if err != nil {
		logger.Warn("Evaluation cache lookup failed", zap.Error(err))
		return nil
	}
	if !found {
		metrics.CacheMisses.WithLabelValues("evaluation").Inc()
		return nil
	}

	metrics.CacheHits.WithLabelValues("evaluation").Inc()
	logger.Debug("Evaluation cache hit", zap.String("key", key))
	return &cached
}

func (s *Service) store(ctx context.Context, key string, resp *Response) {
	if s.cache == nil {
		return
	}
	// degraded results are not worth replaying
	for _, r := range resp.Evaluations {
		if r.Degraded {
			return
		}
	}
	if err := s.cache.SetEvaluation(ctx, key, resp); err != nil {
		logger.Warn("Failed to cache evaluation", zap.Error(err))
	}
}

func serialize(progress ProgressFunc) ProgressFunc {
	if progress == nil {
		return func(ProgressEvent) {}
	}
	var mu sync.Mutex
	return func(ev ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		progress(ev)
	}
}

func statusOf(err error) string {
	if err == nil {
		return "success"
	}
	switch apperrors.CodeOf(err) {
	case apperrors.CodeEvaluationTimeout:
		return "timeout"
	case apperrors.CodeSynthesisFailed:
		return "synthesis_failed"
	default:
		return "error"
	}
}
