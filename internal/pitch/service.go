// Package pitch runs the end-to-end pitch flows: submission, evaluation,
// follow-up questions, dashboard queries and search.
package pitch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitch-perfect/backend/internal/evaluation"
	"github.com/pitch-perfect/backend/internal/followup"
	"github.com/pitch-perfect/backend/internal/metrics"
	"github.com/pitch-perfect/backend/internal/storage/models"
	"github.com/pitch-perfect/backend/internal/transcription"
	"github.com/pitch-perfect/backend/internal/vector/zilliz"
	"github.com/pitch-perfect/backend/pkg/apperrors"
	"github.com/pitch-perfect/backend/pkg/logger"
	"github.com/pitch-perfect/backend/pkg/utils"
)

const (
	maxTitleLength     = 200
	defaultTitle       = "Untitled pitch"
	defaultSearchLimit = 10
	maxEmbeddingChars  = 8000

	ErrorCodeTimeout       = "timeout"
	ErrorCodeInvalidInput  = "invalid_input"
	ErrorCodeTranscription = "transcription_failed"
	ErrorCodeEvaluation    = "evaluation_failed"
	ErrorCodeInternal      = "internal"
)

type Service struct {
	store       Store
	extractor   TextExtractor
	evaluator   Evaluator
	questions   QuestionGenerator
	embedder    Embedder
	vectorIndex VectorIndex
	searchLimit int
	now         func() time.Time
}

type Option func(*Service)

// WithVectorSearch enables semantic search and indexing. Without it Search
// falls back to keyword matching in the store.
func WithVectorSearch(embedder Embedder, index VectorIndex) Option {
	return func(s *Service) {
		s.embedder = embedder
		s.vectorIndex = index
	}
}

// WithSearchLimit sets how many results Search returns when the caller
// gives no limit.
func WithSearchLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.searchLimit = n
		}
	}
}

func NewService(store Store, extractor TextExtractor, evaluator Evaluator, questions QuestionGenerator, opts ...Option) *Service {
	s := &Service{
		store:     store,
		extractor: extractor,
		evaluator: evaluator,
		questions:   questions,
		searchLimit: defaultSearchLimit,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit creates the pitch record and runs the pipeline on it. The record is
// left "failed" with an error code when any stage fails.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Pitch, error) {
	if req.OrgID == "" {
		return nil, apperrors.NewInvalidInputError("organization is required")
	}
	if !req.Source.Kind.Valid() {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("unsupported input type %q", req.Source.Kind))
	}

	emit := req.Progress
	if emit == nil {
		emit = func(Event) {}
	}

	title := normalizeTitle(req.Title, req.Source.Filename)
	now := s.now()
	record := &models.Pitch{
		ID:        uuid.New().String(),
		OrgID:     req.OrgID,
		UserID:    req.UserID,
		Title:     title,
		Type:      string(req.Source.Kind),
		Status:    models.StatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertPitch(ctx, record); err != nil {
		return nil, err
	}

	metrics.PitchesSubmitted.WithLabelValues(record.Type).Inc()
	logger.Info("Pitch submitted",
		zap.String("pitch_id", record.ID),
		zap.String("org_id", record.OrgID),
		zap.String("type", record.Type),
	)
	emit(Event{Stage: StageCreated, PitchID: record.ID})

	emit(Event{Stage: StageTranscribing, PitchID: record.ID})
	text, err := s.extractor.ToText(ctx, req.Source)
	if err != nil {
		return nil, s.fail(ctx, record, err)
	}

	emit(Event{Stage: StageEvaluating, PitchID: record.ID})
	resp, err := s.evaluator.EvaluateWithProgress(ctx, text, func(ev evaluation.ProgressEvent) {
		emit(Event{
			Stage:     ev.Stage,
			PitchID:   record.ID,
			Criterion: ev.Criterion,
			Score:     ev.Score,
			Degraded:  ev.Degraded,
			Completed: ev.Completed,
			Total:     ev.Total,
		})
	})
	if err != nil {
		return nil, s.fail(ctx, record, err)
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, s.fail(ctx, record, fmt.Errorf("failed to encode evaluation: %w", err))
	}

	emit(Event{Stage: StageSaving, PitchID: record.ID})
	if err := s.store.CompletePitch(ctx, record.OrgID, record.ID, text, payload, resp.OverallScore); err != nil {
		return nil, s.fail(ctx, record, err)
	}

	if req.GenerateQuestions {
		emit(Event{Stage: StageQuestions, PitchID: record.ID})
		// the evaluation is already stored; questions can be regenerated later
		if _, err := s.generateAndStore(ctx, record.ID, text, resp.OverallFeedback); err != nil {
			logger.Warn("Follow-up questions not generated",
				zap.String("pitch_id", record.ID),
				zap.Error(err),
			)
		}
	}

	s.index(ctx, record, text)

	return s.Get(ctx, record.OrgID, record.ID)
}

func (s *Service) fail(ctx context.Context, record *models.Pitch, cause error) error {
	code := ErrorCodeFor(cause)

	// the request context may already be done; the failure still has to be recorded
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.store.UpdatePitchStatus(saveCtx, record.OrgID, record.ID, models.StatusFailed, code); err != nil {
		logger.Error("Failed to mark pitch as failed",
			zap.String("pitch_id", record.ID),
			zap.Error(err),
		)
	}

	logger.Warn("Pitch processing failed",
		zap.String("pitch_id", record.ID),
		zap.String("error_code", code),
		zap.Error(cause),
	)
	return cause
}

// ErrorCodeFor maps a pipeline error to the code stored on a failed pitch.
func ErrorCodeFor(err error) string {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeEvaluationTimeout:
		return ErrorCodeTimeout
	case apperrors.CodeInvalidInput:
		return ErrorCodeInvalidInput
	case apperrors.CodeTranscriptionFailed:
		return ErrorCodeTranscription
	case apperrors.CodeSynthesisFailed:
		return ErrorCodeEvaluation
	default:
		return ErrorCodeInternal
	}
}

func (s *Service) index(ctx context.Context, record *models.Pitch, text string) {
	if s.vectorIndex == nil || s.embedder == nil {
		return
	}

	embedding, err := s.embedder.GenerateEmbedding(ctx, embeddingInput(record.Title, text))
	if err != nil {
		logger.Warn("Failed to embed pitch", zap.String("pitch_id", record.ID), zap.Error(err))
		return
	}

	if err := s.vectorIndex.Upsert(ctx, zilliz.PitchVector{
		PitchID:   record.ID,
		OrgID:     record.OrgID,
		Title:     record.Title,
		Embedding: embedding,
		CreatedAt: record.CreatedAt,
	}); err != nil {
		logger.Warn("Failed to index pitch", zap.String("pitch_id", record.ID), zap.Error(err))
	}
}

func (s *Service) Get(ctx context.Context, orgID, id string) (*Pitch, error) {
	record, err := s.store.GetPitch(ctx, orgID, id)
	if err != nil {
		return nil, err
	}

	questions, err := s.store.GetQuestions(ctx, orgID, id)
	if err != nil {
		return nil, err
	}

	p := toView(record)
	p.Questions = toQuestions(questions)
	return &p, nil
}

func (s *Service) List(ctx context.Context, f models.ListFilter) (*Page, error) {
	if f.OrgID == "" {
		return nil, apperrors.NewInvalidInputError("organization is required")
	}

	records, total, err := s.store.ListPitches(ctx, f)
	if err != nil {
		return nil, err
	}

	pitches := make([]Pitch, len(records))
	for i := range records {
		pitches[i] = toView(&records[i])
	}

	return &Page{
		Pitches: pitches,
		Total:   total,
		Limit:   f.Limit,
		Offset:  f.Offset,
	}, nil
}

func (s *Service) SetFavorite(ctx context.Context, orgID, id string, favorite bool) error {
	return s.store.SetFavorite(ctx, orgID, id, favorite)
}

func (s *Service) Rename(ctx context.Context, orgID, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return apperrors.NewInvalidInputError("title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return apperrors.NewInvalidInputError(fmt.Sprintf("title exceeds %d characters", maxTitleLength))
	}
	return s.store.RenamePitch(ctx, orgID, id, title)
}

func (s *Service) Delete(ctx context.Context, orgID, id string) error {
	if err := s.store.DeletePitch(ctx, orgID, id); err != nil {
		return err
	}

	if s.vectorIndex != nil {
		if err := s.vectorIndex.Delete(ctx, id); err != nil {
			logger.Warn("Failed to remove pitch vector", zap.String("pitch_id", id), zap.Error(err))
		}
	}
	return nil
}

// Evaluations lists the initial evaluation and every follow-up re-evaluation.
func (s *Service) Evaluations(ctx context.Context, orgID, id string) ([]EvaluationRecord, error) {
	if _, err := s.store.GetPitch(ctx, orgID, id); err != nil {
		return nil, err
	}

	records, err := s.store.ListEvaluations(ctx, orgID, id)
	if err != nil {
		return nil, err
	}

	out := make([]EvaluationRecord, 0, len(records))
	for _, r := range records {
		var resp evaluation.Response
		if err := json.Unmarshal(r.Payload, &resp); err != nil {
			logger.Warn("Skipping unreadable evaluation", zap.Int64("evaluation_id", r.ID), zap.Error(err))
			continue
		}
		out = append(out, EvaluationRecord{
			ID:         r.ID,
			Kind:       r.Kind,
			Evaluation: resp,
			CreatedAt:  r.CreatedAt,
		})
	}
	return out, nil
}

// GenerateQuestions (re)generates the follow-up questions of a completed pitch.
// Existing answers are discarded.
func (s *Service) GenerateQuestions(ctx context.Context, orgID, id string) ([]followup.Question, error) {
	p, err := s.completed(ctx, orgID, id)
	if err != nil {
		return nil, err
	}

	summary := ""
	if p.Evaluation != nil {
		summary = fmt.Sprintf("Overall score %d/10. %s", p.Evaluation.OverallScore, p.Evaluation.OverallFeedback)
	}

	return s.generateAndStore(ctx, id, p.Text, summary)
}

func (s *Service) generateAndStore(ctx context.Context, id, text, summary string) ([]followup.Question, error) {
	texts, err := s.questions.Generate(ctx, text, summary)
	if err != nil {
		return nil, err
	}

	if err := s.store.ReplaceQuestions(ctx, id, texts); err != nil {
		return nil, err
	}
	return followup.NewQuestions(texts), nil
}

// AnswerQuestions stores the answers (one per question, in order) and stores a
// follow-up evaluation of the pitch with them. The initial evaluation is kept.
func (s *Service) AnswerQuestions(ctx context.Context, orgID, id string, answers []string) (*EvaluationRecord, error) {
	p, err := s.completed(ctx, orgID, id)
	if err != nil {
		return nil, err
	}

	stored, err := s.store.GetQuestions(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, apperrors.NewInvalidInputError("pitch has no follow-up questions")
	}
	if len(answers) != len(stored) {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("expected %d answers, got %d", len(stored), len(answers)))
	}

	byPosition := make(map[int]string, len(stored))
	questions := make([]followup.Question, len(stored))
	for i, q := range stored {
		answer := strings.TrimSpace(answers[i])
		byPosition[q.Position] = answer
		questions[i] = followup.Question{Text: q.Text, Answer: answer}
	}

	if err := s.store.SaveAnswers(ctx, id, byPosition); err != nil {
		return nil, err
	}

	resp, err := s.evaluator.Reevaluate(ctx, p.Text, questions)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode evaluation: %w", err)
	}

	rec := &models.EvaluationRecord{
		PitchID:      id,
		Kind:         models.EvaluationFollowUp,
		Payload:      payload,
		OverallScore: resp.OverallScore,
		CreatedAt:    s.now(),
	}
	if err := s.store.InsertEvaluation(ctx, rec); err != nil {
		return nil, err
	}

	logger.Info("Follow-up evaluation stored",
		zap.String("pitch_id", id),
		zap.Int("overall_score", resp.OverallScore),
	)

	return &EvaluationRecord{
		ID:         rec.ID,
		Kind:       rec.Kind,
		Evaluation: *resp,
		CreatedAt:  rec.CreatedAt,
	}, nil
}

func (s *Service) completed(ctx context.Context, orgID, id string) (*Pitch, error) {
	record, err := s.store.GetPitch(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if record.Status != models.StatusCompleted {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("pitch is %s", record.Status))
	}
	p := toView(record)
	return &p, nil
}

// Search finds the org's pitches related to query, semantically when a vector
// index is configured and by keyword otherwise.
func (s *Service) Search(ctx context.Context, orgID, query string, limit int) ([]Pitch, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperrors.NewInvalidInputError("search query is required")
	}
	if limit <= 0 {
		limit = s.searchLimit
	}

	if s.vectorIndex != nil && s.embedder != nil {
		found, err := s.vectorSearch(ctx, orgID, query, limit)
		if err == nil {
			metrics.VectorSearches.WithLabelValues("vector").Inc()
			return found, nil
		}
		logger.Warn("Vector search failed, falling back to keyword search", zap.Error(err))
	}

	records, err := s.store.SearchPitches(ctx, orgID, query, limit)
	if err != nil {
		return nil, err
	}
	metrics.VectorSearches.WithLabelValues("keyword").Inc()
	return toViews(records), nil
}

func (s *Service) vectorSearch(ctx context.Context, orgID, query string, limit int) ([]Pitch, error) {
	embedding, err := s.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := s.vectorIndex.Search(ctx, embedding, orgID, limit)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.PitchID
	}

	records, err := s.store.GetPitchesByIDs(ctx, orgID, ids)
	if err != nil {
		return nil, err
	}
	return toViews(records), nil
}

func toView(r *models.Pitch) Pitch {
	p := Pitch{
		ID:        r.ID,
		Title:     r.Title,
		Text:      r.Text,
		Type:      r.Type,
		Status:    r.Status,
		ErrorCode: r.ErrorCode,
		Favorite:  r.Favorite,
		OrgID:     r.OrgID,
		UserID:    r.UserID,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}

	if len(r.Evaluation) > 0 {
		var resp evaluation.Response
		if err := json.Unmarshal(r.Evaluation, &resp); err != nil {
			logger.Warn("Unreadable evaluation on pitch", zap.String("pitch_id", r.ID), zap.Error(err))
		} else {
			p.Evaluation = &resp
		}
	}
	return p
}

func toViews(records []models.Pitch) []Pitch {
	out := make([]Pitch, len(records))
	for i := range records {
		out[i] = toView(&records[i])
	}
	return out
}

func toQuestions(stored []models.Question) []followup.Question {
	out := make([]followup.Question, len(stored))
	for i, q := range stored {
		out[i] = followup.Question{Text: q.Text, Answer: q.Answer}
	}
	return out
}

func normalizeTitle(title, filename string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		title = strings.TrimSpace(strings.TrimSuffix(filename, extOf(filename)))
	}
	if title == "" {
		return defaultTitle
	}
	return utils.Truncate(title, maxTitleLength)
}

func extOf(filename string) string {
	if i := strings.LastIndex(filename, "."); i > 0 {
		return filename[i:]
	}
	return ""
}

func embeddingInput(title, text string) string {
	return utils.Truncate(title+"\n\n"+text, maxEmbeddingChars)
}

var _ TextExtractor = (*transcription.Adapter)(nil)
