package response

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/orchestrator/internal/model"
)

// Error codes
const (
	CodeValidationError        = "VALIDATION_ERROR"
	CodeInvalidRequest         = "INVALID_REQUEST"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeForbidden              = "FORBIDDEN"
	CodeNotFound               = "NOT_FOUND"
	CodeNotConnected           = "NOT_CONNECTED"
	CodeInvalidTransition      = "INVALID_TRANSITION"
	CodeRateLimited            = "RATE_LIMITED"
	CodeInsufficientBalance    = "INSUFFICIENT_BALANCE"
	CodeUserRejected           = "USER_REJECTED"
	CodeTransactionReverted    = "TRANSACTION_REVERTED"
	CodeGenerationServiceError = "GENERATION_SERVICE_ERROR"
	CodeChainUnavailable       = "CHAIN_UNAVAILABLE"
	CodeServiceError           = "SERVICE_ERROR"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func Error(c *fiber.Ctx, status int, code, message string, details interface{}) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// FromError writes the envelope for an error returned by the orchestrator
func FromError(c *fiber.Ctx, err error) error {
	status, code := Classify(err)
	return Error(c, status, code, err.Error(), nil)
}

// Classify maps a sentinel error onto an HTTP status and error code
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrInvalidRequest):
		return fiber.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, model.ErrInsufficientBalance):
		return fiber.StatusPaymentRequired, CodeInsufficientBalance
	case errors.Is(err, model.ErrUserRejected):
		return fiber.StatusConflict, CodeUserRejected
	case errors.Is(err, model.ErrInvalidTransition):
		return fiber.StatusConflict, CodeInvalidTransition
	case errors.Is(err, model.ErrTransactionReverted):
		return fiber.StatusConflict, CodeTransactionReverted
	case errors.Is(err, model.ErrGenerationService), errors.Is(err, model.ErrServiceUnavailable):
		return fiber.StatusBadGateway, CodeGenerationServiceError
	case errors.Is(err, model.ErrChainUnavailable):
		return fiber.StatusServiceUnavailable, CodeChainUnavailable
	case errors.Is(err, model.ErrTaskNotFound):
		return fiber.StatusNotFound, CodeNotFound
	case errors.Is(err, model.ErrNotConnected):
		return fiber.StatusPreconditionFailed, CodeNotConnected
	}
	return fiber.StatusInternalServerError, CodeServiceError
}

func ValidationError(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusBadRequest, CodeValidationError, message, details)
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusUnauthorized, CodeUnauthorized, message, nil)
}

func Forbidden(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusForbidden, CodeForbidden, message, nil)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, CodeNotFound, message, nil)
}

func RateLimited(c *fiber.Ctx) error {
	return Error(c, fiber.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded", nil)
}

func ServiceError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, CodeServiceError, message, nil)
}

func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(data)
}

func Created(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(data)
}

func Accepted(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusAccepted).JSON(data)
}

func NoContent(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}
