package pitch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitch-perfect/backend/internal/evaluation"
	"github.com/pitch-perfect/backend/internal/followup"
	"github.com/pitch-perfect/backend/internal/storage/models"
	"github.com/pitch-perfect/backend/internal/storage/sqlite"
	"github.com/pitch-perfect/backend/internal/transcription"
	"github.com/pitch-perfect/backend/internal/vector/zilliz"
	"github.com/pitch-perfect/backend/pkg/apperrors"
)

type stubExtractor struct {
	err error
}

func (s *stubExtractor) ToText(_ context.Context, src transcription.Source) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if src.Kind == transcription.KindText {
		return src.Text, nil
	}
	return "transcribed pitch", nil
}

type stubEvaluator struct {
	resp        *evaluation.Response
	err         error
	reevalErr   error
	lastAnswers []followup.Question
}

func (s *stubEvaluator) EvaluateWithProgress(_ context.Context, _ string, progress evaluation.ProgressFunc) (*evaluation.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	for i, r := range s.resp.Evaluations {
		progress(evaluation.ProgressEvent{Stage: evaluation.StageCriterionDone, Criterion: r.Criteria, Score: r.Score, Completed: i + 1, Total: len(s.resp.Evaluations)})
	}
	progress(evaluation.ProgressEvent{Stage: evaluation.StageSummaryDone, Score: s.resp.OverallScore})
	return s.resp, nil
}

func (s *stubEvaluator) Reevaluate(_ context.Context, _ string, answers []followup.Question) (*evaluation.Response, error) {
	s.lastAnswers = answers
	if s.reevalErr != nil {
		return nil, s.reevalErr
	}
	return &evaluation.Response{
		Evaluations:     s.resp.Evaluations,
		OverallScore:    s.resp.OverallScore + 1,
		OverallFeedback: "Better with answers.",
	}, nil
}

type stubQuestions struct {
	texts []string
	err   error
	calls int
}

func (s *stubQuestions) Generate(context.Context, string, string) ([]string, error) {
	s.calls++
	return s.texts, s.err
}

type stubEmbedder struct{ err error }

func (s *stubEmbedder) GenerateEmbedding(context.Context, string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float32{0.1, 0.2}, nil
}

type stubIndex struct {
	upserted  []zilliz.PitchVector
	deleted   []string
	hits      []zilliz.SearchResult
	searchErr error
	limits    []int
}

func (s *stubIndex) Upsert(_ context.Context, v zilliz.PitchVector) error {
	s.upserted = append(s.upserted, v)
	return nil
}

func (s *stubIndex) Delete(_ context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubIndex) Search(_ context.Context, _ []float32, _ string, limit int) ([]zilliz.SearchResult, error) {
	s.limits = append(s.limits, limit)
	return s.hits, s.searchErr
}

type fixture struct {
	svc       *Service
	store     *sqlite.Client
	extractor *stubExtractor
	evaluator *stubEvaluator
	questions *stubQuestions
	index     *stubIndex
}

func newFixture(t *testing.T, withVector bool, extra ...Option) *fixture {
	t.Helper()
	store, err := sqlite.NewClient(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.InitSchema(context.Background()))

	f := &fixture{
		store:     store,
		extractor: &stubExtractor{},
		evaluator: &stubEvaluator{resp: &evaluation.Response{
			Evaluations: []evaluation.Result{
				{Criteria: "Problem-Solution Fit", Score: 8, Strengths: []string{"a"}, Improvements: []string{}},
				{Criteria: "Business Potential", Score: 6, Strengths: []string{}, Improvements: []string{"b"}},
			},
			OverallScore:    7,
			OverallFeedback: "Solid start.",
		}},
		questions: &stubQuestions{texts: []string{"Who competes?", "How do you charge?", "Who builds it?"}},
		index:     &stubIndex{},
	}

	var opts []Option
	if withVector {
		opts = append(opts, WithVectorSearch(&stubEmbedder{}, f.index))
	}
	f.svc = NewService(store, f.extractor, f.evaluator, f.questions, append(opts, extra...)...)
	return f
}

func (f *fixture) submit(t *testing.T, title, text string, questions bool) *Pitch {
	t.Helper()
	p, err := f.svc.Submit(context.Background(), SubmitRequest{
		OrgID:             "org",
		UserID:            "user",
		Title:             title,
		Source:            transcription.Source{Kind: transcription.KindText, Text: text},
		GenerateQuestions: questions,
	})
	require.NoError(t, err)
	return p
}

func TestSubmitCompletesPitch(t *testing.T) {
	f := newFixture(t, true)

	var stages []string
	p, err := f.svc.Submit(context.Background(), SubmitRequest{
		OrgID:             "org",
		UserID:            "user",
		Title:             "  Shovels  ",
		Source:            transcription.Source{Kind: transcription.KindText, Text: "We sell shovels."},
		GenerateQuestions: true,
		Progress:          func(ev Event) { stages = append(stages, ev.Stage) },
	})
	require.NoError(t, err)

	assert.Equal(t, "Shovels", p.Title)
	assert.Equal(t, models.StatusCompleted, p.Status)
	assert.Equal(t, "We sell shovels.", p.Text)
	assert.Equal(t, "text", p.Type)
	require.NotNil(t, p.Evaluation)
	assert.Equal(t, 7, p.Evaluation.OverallScore)
	assert.Equal(t, "Problem-Solution Fit", p.Evaluation.Evaluations[0].Criteria)
	require.Len(t, p.Questions, 3)
	assert.Equal(t, followup.Question{Text: "Who competes?"}, p.Questions[0])

	assert.Equal(t, []string{
		StageCreated, StageTranscribing, StageEvaluating,
		StageCriterionDone, StageCriterionDone, StageSummaryDone,
		StageSaving, StageQuestions,
	}, stages)

	require.Len(t, f.index.upserted, 1)
	assert.Equal(t, p.ID, f.index.upserted[0].PitchID)
	assert.Equal(t, "org", f.index.upserted[0].OrgID)
}

func TestSubmitDefaultsTitleFromFilename(t *testing.T) {
	f := newFixture(t, false)

	p, err := f.svc.Submit(context.Background(), SubmitRequest{
		OrgID:  "org",
		Source: transcription.Source{Kind: transcription.KindAudio, Filename: "demo-day.mp3"},
	})
	require.NoError(t, err)
	assert.Equal(t, "demo-day", p.Title)
	assert.Equal(t, "transcribed pitch", p.Text)
	assert.Empty(t, p.Questions)
	assert.Zero(t, f.questions.calls)
}

func TestSubmitFailureMarksPitch(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(f *fixture)
		wantCode string
		wantErr  error
	}{
		{
			name:     "evaluation timeout",
			setup:    func(f *fixture) { f.evaluator.err = apperrors.NewEvaluationTimeoutError(time.Minute) },
			wantCode: ErrorCodeTimeout,
			wantErr:  apperrors.ErrEvaluationTimeout,
		},
		{
			name:     "invalid input",
			setup:    func(f *fixture) { f.extractor.err = apperrors.NewInvalidInputError("empty") },
			wantCode: ErrorCodeInvalidInput,
			wantErr:  apperrors.ErrInvalidInput,
		},
		{
			name:     "transcription",
			setup:    func(f *fixture) { f.extractor.err = apperrors.NewTranscriptionServiceError(errors.New("down")) },
			wantCode: ErrorCodeTranscription,
			wantErr:  apperrors.ErrTranscription,
		},
		{
			name:     "synthesis",
			setup:    func(f *fixture) { f.evaluator.err = apperrors.NewSynthesisError(errors.New("down")) },
			wantCode: ErrorCodeEvaluation,
			wantErr:  apperrors.ErrSynthesis,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			tt.setup(f)

			_, err := f.svc.Submit(context.Background(), SubmitRequest{
				OrgID:  "org",
				Title:  "Broken",
				Source: transcription.Source{Kind: transcription.KindText, Text: "x"},
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			page, err := f.svc.List(context.Background(), models.ListFilter{OrgID: "org"})
			require.NoError(t, err)
			require.Len(t, page.Pitches, 1)
			assert.Equal(t, models.StatusFailed, page.Pitches[0].Status)
			assert.Equal(t, tt.wantCode, page.Pitches[0].ErrorCode)
			assert.Nil(t, page.Pitches[0].Evaluation)
			assert.Empty(t, f.index.upserted)
		})
	}
}

func TestSubmitQuestionFailureKeepsEvaluation(t *testing.T) {
	f := newFixture(t, false)
	f.questions.err = apperrors.NewQuestionGenerationError(errors.New("down"))

	p := f.submit(t, "T", "text", true)
	assert.Equal(t, models.StatusCompleted, p.Status)
	assert.Empty(t, p.Questions)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.svc.Submit(context.Background(), SubmitRequest{Source: transcription.Source{Kind: transcription.KindText, Text: "x"}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.svc.Submit(context.Background(), SubmitRequest{OrgID: "org", Source: transcription.Source{Kind: "pdf"}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestAnswerQuestionsStoresFollowUpEvaluation(t *testing.T) {
	f := newFixture(t, false)
	p := f.submit(t, "T", "We sell shovels.", true)
	ctx := context.Background()

	rec, err := f.svc.AnswerQuestions(ctx, "org", p.ID, []string{" Nobody ", "Monthly", "Us"})
	require.NoError(t, err)
	assert.Equal(t, models.EvaluationFollowUp, rec.Kind)
	assert.Equal(t, 8, rec.Evaluation.OverallScore)
	assert.Equal(t, followup.Question{Text: "Who competes?", Answer: "Nobody"}, f.evaluator.lastAnswers[0])

	got, err := f.svc.Get(ctx, "org", p.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Evaluation.OverallScore, "initial evaluation must not change")
	assert.Equal(t, "Monthly", got.Questions[1].Answer)

	history, err := f.svc.Evaluations(ctx, "org", p.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.EvaluationInitial, history[0].Kind)
	assert.Equal(t, models.EvaluationFollowUp, history[1].Kind)
	assert.Equal(t, "Better with answers.", history[1].Evaluation.OverallFeedback)
}

func TestAnswerQuestionsValidation(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	noQuestions := f.submit(t, "T", "text", false)
	_, err := f.svc.AnswerQuestions(ctx, "org", noQuestions.ID, []string{"a"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	withQuestions := f.submit(t, "T", "text", true)
	_, err = f.svc.AnswerQuestions(ctx, "org", withQuestions.ID, []string{"only one"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.svc.AnswerQuestions(ctx, "other-org", withQuestions.ID, []string{"a", "b", "c"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGenerateQuestionsRequiresCompletedPitch(t *testing.T) {
	f := newFixture(t, false)
	f.evaluator.err = apperrors.NewSynthesisError(errors.New("down"))

	_, err := f.svc.Submit(context.Background(), SubmitRequest{
		OrgID:  "org",
		Source: transcription.Source{Kind: transcription.KindText, Text: "x"},
	})
	require.Error(t, err)

	page, err := f.svc.List(context.Background(), models.ListFilter{OrgID: "org"})
	require.NoError(t, err)

	_, err = f.svc.GenerateQuestions(context.Background(), "org", page.Pitches[0].ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestGenerateQuestionsReplacesAnswers(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	p := f.submit(t, "T", "text", true)

	_, err := f.svc.AnswerQuestions(ctx, "org", p.ID, []string{"a", "b", "c"})
	require.NoError(t, err)

	f.questions.texts = []string{"New question?"}
	qs, err := f.svc.GenerateQuestions(ctx, "org", p.ID)
	require.NoError(t, err)
	assert.Equal(t, []followup.Question{{Text: "New question?"}}, qs)

	got, err := f.svc.Get(ctx, "org", p.ID)
	require.NoError(t, err)
	assert.Equal(t, []followup.Question{{Text: "New question?"}}, got.Questions)
}

func TestSearchUsesVectorIndexOrder(t *testing.T) {
	f := newFixture(t, true)
	a := f.submit(t, "Drones", "farm drones", false)
	b := f.submit(t, "Tutors", "AI tutors", false)

	f.index.hits = []zilliz.SearchResult{{PitchID: b.ID}, {PitchID: a.ID}}
	found, err := f.svc.Search(context.Background(), "org", "education", 5)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, b.ID, found[0].ID)
	assert.Equal(t, a.ID, found[1].ID)
}

func TestSearchFallsBackToKeyword(t *testing.T) {
	f := newFixture(t, true)
	a := f.submit(t, "Drones", "farm drones", false)
	f.submit(t, "Tutors", "AI tutors", false)
	f.index.searchErr = errors.New("milvus down")

	found, err := f.svc.Search(context.Background(), "org", "drone", 5)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, a.ID, found[0].ID)

	noVector := newFixture(t, false)
	noVector.submit(t, "Drones", "farm drones", false)
	found, err = noVector.svc.Search(context.Background(), "org", "drone", 5)
	require.NoError(t, err)
	assert.Len(t, found, 1)

	_, err = noVector.svc.Search(context.Background(), "org", "  ", 5)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestSearchDefaultLimit(t *testing.T) {
	tests := []struct {
		name  string
		opts  []Option
		limit int
		want  int
	}{
		{"caller limit", []Option{WithSearchLimit(25)}, 5, 5},
		{"configured default", []Option{WithSearchLimit(25)}, 0, 25},
		{"built-in default", nil, 0, defaultSearchLimit},
		{"non-positive setting ignored", []Option{WithSearchLimit(0)}, 0, defaultSearchLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true, tt.opts...)

			_, err := f.svc.Search(context.Background(), "org", "drones", tt.limit)
			require.NoError(t, err)
			assert.Equal(t, []int{tt.want}, f.index.limits)
		})
	}
}

func TestFavoriteRenameDelete(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	p := f.submit(t, "T", "text", false)

	require.NoError(t, f.svc.SetFavorite(ctx, "org", p.ID, true))
	require.NoError(t, f.svc.Rename(ctx, "org", p.ID, "Renamed"))
	assert.ErrorIs(t, f.svc.Rename(ctx, "org", p.ID, "  "), apperrors.ErrInvalidInput)

	got, err := f.svc.Get(ctx, "org", p.ID)
	require.NoError(t, err)
	assert.True(t, got.Favorite)
	assert.Equal(t, "Renamed", got.Title)

	page, err := f.svc.List(ctx, models.ListFilter{OrgID: "org", FavoritesOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	require.NoError(t, f.svc.Delete(ctx, "org", p.ID))
	assert.Equal(t, []string{p.ID}, f.index.deleted)
	_, err = f.svc.Get(ctx, "org", p.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestErrorCodeFor(t *testing.T) {
	assert.Equal(t, ErrorCodeInternal, ErrorCodeFor(errors.New("disk")))
	assert.Equal(t, ErrorCodeTimeout, ErrorCodeFor(apperrors.NewEvaluationTimeoutError(time.Second)))
}
