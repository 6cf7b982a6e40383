package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/pitch-perfect/backend/internal/followup"
	"github.com/pitch-perfect/backend/internal/middleware/orgscope"
	"github.com/pitch-perfect/backend/internal/pitch"
	"github.com/pitch-perfect/backend/internal/storage/models"
	"github.com/pitch-perfect/backend/internal/transcription"
	"github.com/pitch-perfect/backend/pkg/logger"
)

// PitchService is the part of *pitch.Service the HTTP layer calls.
type PitchService interface {
	Submit(ctx context.Context, req pitch.SubmitRequest) (*pitch.Pitch, error)
	Get(ctx context.Context, orgID, id string) (*pitch.Pitch, error)
	List(ctx context.Context, f models.ListFilter) (*pitch.Page, error)
	SetFavorite(ctx context.Context, orgID, id string, favorite bool) error
	Rename(ctx context.Context, orgID, id, title string) error
	Delete(ctx context.Context, orgID, id string) error
	Evaluations(ctx context.Context, orgID, id string) ([]pitch.EvaluationRecord, error)
	GenerateQuestions(ctx context.Context, orgID, id string) ([]followup.Question, error)
	AnswerQuestions(ctx context.Context, orgID, id string, answers []string) (*pitch.EvaluationRecord, error)
	Search(ctx context.Context, orgID, query string, limit int) ([]pitch.Pitch, error)
}

type PitchHandler struct {
	pitches PitchService
}

func NewPitchHandler(pitches PitchService) *PitchHandler {
	return &PitchHandler{
		pitches: pitches,
	}
}

// Submit accepts either a JSON text pitch or a multipart upload with a file
// and its type (audio or textFile). The response is the finished pitch.
func (h *PitchHandler) Submit(c *fiber.Ctx) error {
	req := pitch.SubmitRequest{
		OrgID:  orgscope.OrgID(c),
		UserID: orgscope.UserID(c),
	}

	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			return badRequest(c, "file is required")
		}

		kind := transcription.Kind(c.FormValue("type"))
		if kind != transcription.KindAudio && kind != transcription.KindTextFile {
			return badRequest(c, fmt.Sprintf("unsupported file type %q", kind))
		}

		file, err := fileHeader.Open()
		if err != nil {
			logger.Error("Failed to open uploaded file", zap.Error(err))
			return badRequest(c, "unreadable upload")
		}
		defer file.Close()

		req.Title = c.FormValue("title")
		req.GenerateQuestions = c.FormValue("generateQuestions") == "true"
		req.Source = transcription.Source{
			Kind:     kind,
			Data:     file,
			Filename: fileHeader.Filename,
			MimeType: fileHeader.Header.Get(fiber.HeaderContentType),
		}
	} else {
		var body struct {
			Title             string `json:"title"`
			Text              string `json:"text"`
			GenerateQuestions bool   `json:"generateQuestions"`
		}
		if err := c.BodyParser(&body); err != nil {
			logger.Error("Failed to parse request body", zap.Error(err))
			return badRequest(c, "invalid request body")
		}

		req.Title = body.Title
		req.GenerateQuestions = body.GenerateQuestions
		req.Source = transcription.Source{Kind: transcription.KindText, Text: body.Text}
	}

	p, err := h.pitches.Submit(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(p)
}

func (h *PitchHandler) List(c *fiber.Ctx) error {
	f := models.ListFilter{
		OrgID:         orgscope.OrgID(c),
		Type:          c.Query("type"),
		Status:        models.PitchStatus(c.Query("status")),
		FavoritesOnly: c.QueryBool("favorites"),
		Query:         c.Query("q"),
		SortBy:        c.Query("sortBy"),
		SortDesc:      !strings.EqualFold(c.Query("order"), "asc"),
	}

	var err error
	if f.MinScore, err = intParam(c, "minScore"); err != nil {
		return badRequest(c, err.Error())
	}
	if f.Limit, err = intParam(c, "limit"); err != nil {
		return badRequest(c, err.Error())
	}
	if f.Offset, err = intParam(c, "offset"); err != nil {
		return badRequest(c, err.Error())
	}

	page, err := h.pitches.List(c.UserContext(), f)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(page)
}

func (h *PitchHandler) Get(c *fiber.Ctx) error {
	p, err := h.pitches.Get(c.UserContext(), orgscope.OrgID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(p)
}

// Update renames a pitch and/or toggles its favorite flag.
func (h *PitchHandler) Update(c *fiber.Ctx) error {
	var body struct {
		Title    *string `json:"title"`
		Favorite *bool   `json:"favorite"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.Title == nil && body.Favorite == nil {
		return badRequest(c, "nothing to update")
	}

	ctx := c.UserContext()
	orgID, id := orgscope.OrgID(c), c.Params("id")

	if body.Title != nil {
		if err := h.pitches.Rename(ctx, orgID, id, *body.Title); err != nil {
			return respondError(c, err)
		}
	}
	if body.Favorite != nil {
		if err := h.pitches.SetFavorite(ctx, orgID, id, *body.Favorite); err != nil {
			return respondError(c, err)
		}
	}

	p, err := h.pitches.Get(ctx, orgID, id)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(p)
}

func (h *PitchHandler) Delete(c *fiber.Ctx) error {
	if err := h.pitches.Delete(c.UserContext(), orgscope.OrgID(c), c.Params("id")); err != nil {
		return respondError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *PitchHandler) Evaluations(c *fiber.Ctx) error {
	records, err := h.pitches.Evaluations(c.UserContext(), orgscope.OrgID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"evaluations": records,
	})
}

func (h *PitchHandler) GenerateQuestions(c *fiber.Ctx) error {
	questions, err := h.pitches.GenerateQuestions(c.UserContext(), orgscope.OrgID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"questions": questions,
	})
}

// SubmitAnswers stores answers in question order and returns the follow-up evaluation.
func (h *PitchHandler) SubmitAnswers(c *fiber.Ctx) error {
	var body struct {
		Answers []string `json:"answers"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid request body")
	}

	record, err := h.pitches.AnswerQuestions(c.UserContext(), orgscope.OrgID(c), c.Params("id"), body.Answers)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(record)
}

func (h *PitchHandler) Search(c *fiber.Ctx) error {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		return badRequest(c, "q is required")
	}

	limit, err := intParam(c, "limit")
	if err != nil {
		return badRequest(c, err.Error())
	}

	results, err := h.pitches.Search(c.UserContext(), orgscope.OrgID(c), q, limit)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"query":   q,
		"results": results,
	})
}

// intParam reads an optional non-negative integer query parameter.
func intParam(c *fiber.Ctx, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}
