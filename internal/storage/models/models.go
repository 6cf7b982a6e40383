package models

import (
	"encoding/json"
	"time"
)

type PitchStatus string

const (
	StatusProcessing PitchStatus = "processing"
	StatusCompleted  PitchStatus = "completed"
	StatusFailed     PitchStatus = "failed"
)

type EvaluationKind string

const (
	EvaluationInitial  EvaluationKind = "initial"
	EvaluationFollowUp EvaluationKind = "follow_up"
)

// Pitch is a stored pitch. Evaluation holds the initial evaluation as an
// opaque JSON document; OverallScore is copied out of it for sorting.
type Pitch struct {
	ID           string
	OrgID        string
	UserID       string
	Title        string
	Text         string
	Type         string
	Status       PitchStatus
	ErrorCode    string
	Evaluation   json.RawMessage
	OverallScore *int
	Favorite     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type EvaluationRecord struct {
	ID           int64
	PitchID      string
	Kind         EvaluationKind
	Payload      json.RawMessage
	OverallScore int
	CreatedAt    time.Time
}

type Question struct {
	PitchID  string
	Position int
	Text     string
	Answer   string
}

type ListFilter struct {
	OrgID         string
	Type          string
	Status        PitchStatus
	FavoritesOnly bool
	MinScore      int
	Query         string
	SortBy        string
	SortDesc      bool
	Limit         int
	Offset        int
}
