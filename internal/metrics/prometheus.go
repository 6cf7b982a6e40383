package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EvaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pitch_evaluation_duration_seconds",
			Help:    "Duration of the full evaluation phase (fan-out plus synthesis)",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"status"},
	)

	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pitch_evaluations_total",
			Help: "Pitch evaluations by outcome",
		},
		[]string{"status"},
	)

	CriterionDegraded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pitch_criterion_degraded_total",
			Help: "Per-criterion evaluations replaced by the degraded fallback result",
		},
		[]string{"criterion"},
	)

	CriterionScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pitch_criterion_score",
			Help:    "Distribution of parsed per-criterion scores",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		},
		[]string{"criterion"},
	)

	TranscriptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pitch_transcriptions_total",
			Help: "Transcription adapter calls by source kind and outcome",
		},
		[]string{"kind", "status"},
	)

	QuestionGenerations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pitch_question_generations_total",
			Help: "Follow-up question generation calls by outcome",
		},
		[]string{"status"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pitch_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	LLMRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pitch_llm_retries_total",
			Help: "Retried AI service calls by operation",
		},
		[]string{"operation"},
	)

	LLMBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pitch_llm_circuit_state",
			Help: "Circuit breaker state of the AI client (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pitch_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pitch_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	PitchesSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pitch_submissions_total",
			Help: "Pitches submitted by input type",
		},
		[]string{"type"},
	)

	VectorSearches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pitch_searches_total",
			Help: "Pitch searches by backend",
		},
		[]string{"backend"},
	)
)

var registerOnce sync.Once

// Init registers all collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			EvaluationDuration,
			EvaluationsTotal,
			CriterionDegraded,
			CriterionScore,
			TranscriptionsTotal,
			QuestionGenerations,
			LLMTokensUsed,
			LLMRetries,
			LLMBreakerState,
			CacheHits,
			CacheMisses,
			PitchesSubmitted,
			VectorSearches,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
