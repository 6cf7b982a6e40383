package validation

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var (
	answersPath = regexp.MustCompile(`^/api/v1/pitches/[^/]+/answers/?$`)
	pitchPath   = regexp.MustCompile(`^/api/v1/pitches/[^/]+/?$`)
)

const (
	submitPath = "/api/v1/pitches"

	DefaultMaxTextLength = 100_000
)

var (
	ErrTextTooLong = errors.New("pitch text exceeds maximum length")
	ErrInvalidText = errors.New("invalid pitch text")
)

type Config struct {
	MaxTextLength       int
	MaxTitleLength      int
	MaxAnswerLength     int
	MaxAnswers          int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

type submitBody struct {
	Title             *string `json:"title"`
	Text              *string `json:"text"`
	GenerateQuestions *bool   `json:"generateQuestions"`
}

type patchBody struct {
	Title    *string `json:"title"`
	Favorite *bool   `json:"favorite"`
}

type answersBody struct {
	Answers []string `json:"answers"`
}

// Middleware checks content types on writes and the JSON shape of pitch
// submissions, renames and answers before they reach the handlers.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxTextLength == 0 {
		cfg.MaxTextLength = DefaultMaxTextLength
	}
	if cfg.MaxTitleLength == 0 {
		cfg.MaxTitleLength = 200
	}
	if cfg.MaxAnswerLength == 0 {
		cfg.MaxAnswerLength = 5000
	}
	if cfg.MaxAnswers == 0 {
		cfg.MaxAnswers = 20
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{fiber.MIMEApplicationJSON, fiber.MIMEMultipartForm}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		method := c.Method()
		if method != fiber.MethodPost && method != fiber.MethodPut && method != fiber.MethodPatch {
			return c.Next()
		}

		contentType := c.Get(fiber.HeaderContentType)
		if contentType != "" && !allowed(contentType, cfg.AllowedContentTypes) {
			return reject(c, fiber.StatusUnsupportedMediaType, "Unsupported content type")
		}

		isJSON := strings.HasPrefix(contentType, fiber.MIMEApplicationJSON)
		path := strings.TrimSuffix(c.Path(), "/")

		switch {
		case method == fiber.MethodPost && path == submitPath && isJSON:
			return validateSubmit(c, cfg)
		case method == fiber.MethodPatch && pitchPath.MatchString(path):
			return validatePatch(c, cfg)
		case method == fiber.MethodPut && answersPath.MatchString(path):
			return validateAnswers(c, cfg)
		}

		return c.Next()
	}
}

func validateSubmit(c *fiber.Ctx, cfg Config) error {
	var body submitBody
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return reject(c, fiber.StatusBadRequest, "Invalid JSON format")
	}

	if body.Text == nil {
		return reject(c, fiber.StatusBadRequest, "Text is required and must be a string")
	}
	switch err := CheckText(*body.Text, cfg.MaxTextLength); {
	case errors.Is(err, ErrTextTooLong):
		return reject(c, fiber.StatusRequestEntityTooLarge, "Pitch text exceeds maximum length")
	case err != nil:
		cfg.Logger.Warn("Rejected pitch text with NUL bytes", zap.String("ip", c.IP()))
		return reject(c, fiber.StatusBadRequest, "Invalid pitch text")
	}
	if body.Title != nil && utf8.RuneCountInString(*body.Title) > cfg.MaxTitleLength {
		return reject(c, fiber.StatusBadRequest, "Title exceeds maximum length")
	}

	return c.Next()
}

func validatePatch(c *fiber.Ctx, cfg Config) error {
	var body patchBody
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return reject(c, fiber.StatusBadRequest, "Invalid JSON format")
	}

	if body.Title == nil && body.Favorite == nil {
		return reject(c, fiber.StatusBadRequest, "Nothing to update")
	}
	if body.Title != nil && utf8.RuneCountInString(*body.Title) > cfg.MaxTitleLength {
		return reject(c, fiber.StatusBadRequest, "Title exceeds maximum length")
	}

	return c.Next()
}

func validateAnswers(c *fiber.Ctx, cfg Config) error {
	var body answersBody
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return reject(c, fiber.StatusBadRequest, "Answers must be a list of strings")
	}

	if len(body.Answers) == 0 {
		return reject(c, fiber.StatusBadRequest, "Answers are required")
	}
	if len(body.Answers) > cfg.MaxAnswers {
		return reject(c, fiber.StatusBadRequest, "Too many answers")
	}
	for _, answer := range body.Answers {
		if utf8.RuneCountInString(answer) > cfg.MaxAnswerLength {
			return reject(c, fiber.StatusRequestEntityTooLarge, "Answer exceeds maximum length")
		}
	}

	return c.Next()
}

func allowed(contentType string, types []string) bool {
	for _, t := range types {
		if strings.HasPrefix(contentType, t) {
			return true
		}
	}
	return false
}

// CheckText applies the size and content limits for typed pitch text. The
// websocket handler uses it directly since messages bypass this middleware.
func CheckText(text string, maxLength int) error {
	if maxLength <= 0 {
		maxLength = DefaultMaxTextLength
	}
	if utf8.RuneCountInString(text) > maxLength {
		return ErrTextTooLong
	}
	if strings.ContainsRune(text, '\x00') {
		return ErrInvalidText
	}
	return nil
}

func reject(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{
			"code":      "INVALID_INPUT",
			"message":   message,
			"retryable": false,
		},
	})
}
