// Package apperrors defines the coded errors surfaced by the pitch pipeline and
// the HTTP status each one maps to.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code is a stable, user-visible error code.
type Code string

const (
	CodeInvalidInput           Code = "INVALID_INPUT"
	CodeTranscriptionFailed    Code = "TRANSCRIPTION_FAILED"
	CodeSynthesisFailed        Code = "SYNTHESIS_FAILED"
	CodeEvaluationTimeout      Code = "EVALUATION_TIMEOUT"
	CodeQuestionGenerationFail Code = "QUESTION_GENERATION_FAILED"
	CodeNotFound               Code = "NOT_FOUND"
	CodeRateLimited            Code = "RATE_LIMITED"
	CodeInternal               Code = "INTERNAL"
)

// Error is a structured application error. Err, when set, is the upstream cause.
type Error struct {
	Code      Code      `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
	Err       error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so callers can compare against the
// exported sentinels below.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrInvalidInput       = &Error{Code: CodeInvalidInput}
	ErrTranscription      = &Error{Code: CodeTranscriptionFailed}
	ErrSynthesis          = &Error{Code: CodeSynthesisFailed}
	ErrEvaluationTimeout  = &Error{Code: CodeEvaluationTimeout}
	ErrQuestionGeneration = &Error{Code: CodeQuestionGenerationFail}
	ErrNotFound           = &Error{Code: CodeNotFound}
	ErrRateLimited        = &Error{Code: CodeRateLimited}
)

func newError(code Code, message string, retryable bool, cause error) *Error {
	e := &Error{
		Code:      code,
		Message:   message,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		Err:       cause,
	}
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// NewInvalidInputError reports malformed or empty input. Not retryable.
func NewInvalidInputError(details string) *Error {
	e := newError(CodeInvalidInput, "Invalid pitch input", false, nil)
	e.Details = details
	return e
}

// NewTranscriptionServiceError wraps a failed speech-to-text call, keeping the upstream message.
func NewTranscriptionServiceError(err error) *Error {
	return newError(CodeTranscriptionFailed, "Transcription service failed", true, err)
}

// NewSynthesisError wraps a failed overall-feedback call.
func NewSynthesisError(err error) *Error {
	return newError(CodeSynthesisFailed, "Overall feedback generation failed", true, err)
}

// NewEvaluationTimeoutError reports that the evaluation phase exceeded its deadline.
func NewEvaluationTimeoutError(timeout time.Duration) *Error {
	e := newError(CodeEvaluationTimeout, "Evaluation timed out", true, nil)
	e.Details = fmt.Sprintf("deadline: %s", timeout)
	return e
}

// NewQuestionGenerationError wraps a failed follow-up question call.
func NewQuestionGenerationError(err error) *Error {
	return newError(CodeQuestionGenerationFail, "Follow-up question generation failed", true, err)
}

func NewNotFoundError(resource, id string) *Error {
	e := newError(CodeNotFound, resource+" not found", false, nil)
	e.Details = fmt.Sprintf("id: %s", id)
	return e
}

// NewRateLimitedError reports that the organization used up its request budget.
func NewRateLimitedError() *Error {
	return newError(CodeRateLimited, "Too many requests. Please try again later.", true, nil)
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsRetryable reports whether the caller may offer a retry for err.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// HTTPStatus maps an error to the status code the API responds with.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeEvaluationTimeout:
		return http.StatusGatewayTimeout
	case CodeTranscriptionFailed, CodeSynthesisFailed, CodeQuestionGenerationFail:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Message returns a message that is safe to show to end users.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "Something went wrong"
}
