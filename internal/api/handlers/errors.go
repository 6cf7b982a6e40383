package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/pitch-perfect/backend/pkg/apperrors"
	"github.com/pitch-perfect/backend/pkg/logger"
)

type errorBody struct {
	Code      apperrors.Code `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
}

func toErrorBody(err error) errorBody {
	return errorBody{
		Code:      apperrors.CodeOf(err),
		Message:   apperrors.Message(err),
		Retryable: apperrors.IsRetryable(err),
	}
}

// respondError writes err as {error:{code,message,retryable}} with the mapped status.
func respondError(c *fiber.Ctx, err error) error {
	status := apperrors.HTTPStatus(err)
	if status >= fiber.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err),
		)
	}

	return c.Status(status).JSON(fiber.Map{"error": toErrorBody(err)})
}

func badRequest(c *fiber.Ctx, details string) error {
	return respondError(c, apperrors.NewInvalidInputError(details))
}
