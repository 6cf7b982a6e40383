package pitch

import (
	"context"
	"time"

	"github.com/pitch-perfect/backend/internal/evaluation"
	"github.com/pitch-perfect/backend/internal/followup"
	"github.com/pitch-perfect/backend/internal/storage/models"
	"github.com/pitch-perfect/backend/internal/transcription"
	"github.com/pitch-perfect/backend/internal/vector/zilliz"
)

// Pitch is the API view of a stored pitch.
type Pitch struct {
	ID         string               `json:"id"`
	Title      string               `json:"title"`
	Text       string               `json:"text"`
	Type       string               `json:"type"`
	Status     models.PitchStatus   `json:"status"`
	ErrorCode  string               `json:"errorCode,omitempty"`
	Evaluation *evaluation.Response `json:"evaluation,omitempty"`
	Questions  []followup.Question  `json:"questions,omitempty"`
	Favorite   bool                 `json:"favorite"`
	OrgID      string               `json:"orgId"`
	UserID     string               `json:"userId,omitempty"`
	CreatedAt  time.Time            `json:"createdAt"`
	UpdatedAt  time.Time            `json:"updatedAt"`
}

type EvaluationRecord struct {
	ID         int64                 `json:"id"`
	Kind       models.EvaluationKind `json:"kind"`
	Evaluation evaluation.Response   `json:"evaluation"`
	CreatedAt  time.Time             `json:"createdAt"`
}

type Page struct {
	Pitches []Pitch `json:"pitches"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

type SubmitRequest struct {
	OrgID             string
	UserID            string
	Title             string
	Source            transcription.Source
	GenerateQuestions bool
	Progress          ProgressFunc
}

const (
	StageCreated       = "created"
	StageTranscribing  = "transcribing"
	StageEvaluating    = "evaluating"
	StageQuestions     = "generating_questions"
	StageSaving        = "saving"
	StageCriterionDone = evaluation.StageCriterionDone
	StageSummaryDone   = evaluation.StageSummaryDone
)

// Event reports pipeline progress to streaming clients.
type Event struct {
	Stage     string `json:"stage"`
	PitchID   string `json:"pitchId,omitempty"`
	Criterion string `json:"criterion,omitempty"`
	Score     int    `json:"score,omitempty"`
	Degraded  bool   `json:"degraded,omitempty"`
	Completed int    `json:"completed,omitempty"`
	Total     int    `json:"total,omitempty"`
}

type ProgressFunc func(Event)

type Store interface {
	InsertPitch(ctx context.Context, p *models.Pitch) error
	UpdatePitchStatus(ctx context.Context, orgID, id string, status models.PitchStatus, errorCode string) error
	CompletePitch(ctx context.Context, orgID, id, text string, payload []byte, overallScore int) error
	GetPitch(ctx context.Context, orgID, id string) (*models.Pitch, error)
	ListPitches(ctx context.Context, f models.ListFilter) ([]models.Pitch, int, error)
	SetFavorite(ctx context.Context, orgID, id string, favorite bool) error
	RenamePitch(ctx context.Context, orgID, id, title string) error
	DeletePitch(ctx context.Context, orgID, id string) error
	InsertEvaluation(ctx context.Context, rec *models.EvaluationRecord) error
	ListEvaluations(ctx context.Context, orgID, pitchID string) ([]models.EvaluationRecord, error)
	ReplaceQuestions(ctx context.Context, pitchID string, texts []string) error
	SaveAnswers(ctx context.Context, pitchID string, answers map[int]string) error
	GetQuestions(ctx context.Context, orgID, pitchID string) ([]models.Question, error)
	SearchPitches(ctx context.Context, orgID, query string, limit int) ([]models.Pitch, error)
	GetPitchesByIDs(ctx context.Context, orgID string, ids []string) ([]models.Pitch, error)
}

type TextExtractor interface {
	ToText(ctx context.Context, src transcription.Source) (string, error)
}

type Evaluator interface {
	EvaluateWithProgress(ctx context.Context, text string, progress evaluation.ProgressFunc) (*evaluation.Response, error)
	Reevaluate(ctx context.Context, text string, answers []followup.Question) (*evaluation.Response, error)
}

type QuestionGenerator interface {
	Generate(ctx context.Context, pitchText, priorSummary string) ([]string, error)
}

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type VectorIndex interface {
	Upsert(ctx context.Context, v zilliz.PitchVector) error
	Delete(ctx context.Context, pitchID string) error
	Search(ctx context.Context, embedding []float32, orgID string, topK int) ([]zilliz.SearchResult, error)
}
