package api

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"docqa/types"
)

// NewErrorHandler renders API, validation and domain errors as JSON.
func NewErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var valErr ValidationError
		if errors.As(err, &valErr) {
			return c.Status(valErr.Status).JSON(valErr)
		}

		apiErr := toAPIError(err)
		ev := logger.Warn()
		if apiErr.Code >= fiber.StatusInternalServerError {
			ev = logger.Error()
		}
		ev.Err(err).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", apiErr.Code).
			Msg("request failed")
		return c.Status(apiErr.Code).JSON(apiErr)
	}
}

func toAPIError(err error) Error {
	var apiErr Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return NewError(fiberErr.Code, fiberErr.Message)
	}

	switch {
	case errors.Is(err, types.ErrEmptyQuery):
		return NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, types.ErrRetrievalUnavailable),
		errors.Is(err, types.ErrEmbeddingService),
		errors.Is(err, types.ErrIndexNotReady):
		return NewError(fiber.StatusServiceUnavailable, err.Error())
	case errors.Is(err, types.ErrInconsistentEmbeddingSpace),
		errors.Is(err, types.ErrDimensionMismatch),
		errors.Is(err, types.ErrDuplicateChunk):
		return NewError(fiber.StatusConflict, err.Error())
	default:
		return NewError(fiber.StatusInternalServerError, "internal server error")
	}
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{
		Status: fiber.StatusBadRequest,
		Errors: errors,
	}
}

// Error implements the Error interface
func (e Error) Error() string {
	return e.Message
}

func NewError(code int, err string) Error {
	return Error{
		Code:    code,
		Message: err,
	}
}

func ErrBadRequest() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid JSON request",
	}
}

func ErrMissingFile(field string) Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: fmt.Sprintf("multipart field %q with a PDF file is required", field),
	}
}

func ErrUnsupportedMedia(name string) Error {
	return Error{
		Code:    fiber.StatusUnsupportedMediaType,
		Message: fmt.Sprintf("%s is not a PDF document", name),
	}
}
