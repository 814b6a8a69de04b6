package response

import (
	"errors"

	"commissions-backend/internal/domain"

	"github.com/gofiber/fiber/v2"
)

// SuccessBody is the standardized success JSON shape.
type SuccessBody struct {
	Status   string      `json:"status"`
	Message  string      `json:"message"`
	Data     interface{} `json:"data"`
	Metadata interface{} `json:"metadata,omitempty"`
}

// ErrorBody is the standardized error JSON shape.
type ErrorBody struct {
	Status string      `json:"status"`
	Error  ErrorDetail `json:"error"`
}

// ErrorDetail is the nested error object.
type ErrorDetail struct {
	Message    string      `json:"message"`
	StatusCode int         `json:"statusCode"`
	Details    interface{} `json:"details,omitempty"`
}

const statusSuccess = "success"
const statusError = "error"

func success(c *fiber.Ctx, code int, message string, data, metadata interface{}) error {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return c.Status(code).JSON(SuccessBody{
		Status:   statusSuccess,
		Message:  message,
		Data:     data,
		Metadata: metadata,
	})
}

// Success sends a 200 OK response with the standard success format.
func Success(c *fiber.Ctx, message string, data interface{}, metadata interface{}) error {
	return success(c, fiber.StatusOK, message, data, metadata)
}

// SuccessCreated sends a 201 Created response with the standard success format.
func SuccessCreated(c *fiber.Ctx, message string, data interface{}, metadata interface{}) error {
	return success(c, fiber.StatusCreated, message, data, metadata)
}

// Error sends a response with the standard error format.
func Error(c *fiber.Ctx, message string, statusCode int, details interface{}) error {
	if details == nil {
		details = map[string]interface{}{}
	}
	return c.Status(statusCode).JSON(ErrorBody{
		Status: statusError,
		Error: ErrorDetail{
			Message:    message,
			StatusCode: statusCode,
			Details:    details,
		},
	})
}

// Unauthorized sends 401 for a missing or invalid session.
func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, message, fiber.StatusUnauthorized, nil)
}

var statusByError = []struct {
	err  error
	code int
}{
	{domain.ErrInvalidTransition, fiber.StatusConflict},
	{domain.ErrUnauthorized, fiber.StatusForbidden},
	{domain.ErrInsufficientFunds, fiber.StatusUnprocessableEntity},
	{domain.ErrDuplicateReference, fiber.StatusConflict},
	{domain.ErrNotReviewable, fiber.StatusConflict},
	{domain.ErrAlreadySettled, fiber.StatusConflict},
	{domain.ErrBusy, fiber.StatusServiceUnavailable},
	{domain.ErrNotFound, fiber.StatusNotFound},
	{domain.ErrInvalidInput, fiber.StatusBadRequest},
	{domain.ErrUnbalanced, fiber.StatusBadRequest},
	{domain.ErrConsistency, fiber.StatusLocked},
	{domain.ErrAccountFrozen, fiber.StatusLocked},
}

// StatusFor returns the HTTP status for a domain error, 500 for anything unknown.
func StatusFor(err error) int {
	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			return m.code
		}
	}
	return fiber.StatusInternalServerError
}

// FromError writes the error envelope for err. Unknown errors become a generic 500 so internal
// messages never reach clients.
func FromError(c *fiber.Ctx, err error) error {
	code := StatusFor(err)
	if code == fiber.StatusInternalServerError {
		return Error(c, "Internal Server Error", code, nil)
	}
	return Error(c, err.Error(), code, nil)
}
