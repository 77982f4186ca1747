package response

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/orchestrator/internal/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: prompt", model.ErrInvalidRequest), fiber.StatusBadRequest, CodeInvalidRequest},
		{fmt.Errorf("%w: gateway", model.ErrInsufficientBalance), fiber.StatusPaymentRequired, CodeInsufficientBalance},
		{model.ErrUserRejected, fiber.StatusConflict, CodeUserRejected},
		{fmt.Errorf("%w: 503", model.ErrServiceUnavailable), fiber.StatusBadGateway, CodeGenerationServiceError},
		{model.ErrGenerationService, fiber.StatusBadGateway, CodeGenerationServiceError},
		{model.ErrChainUnavailable, fiber.StatusServiceUnavailable, CodeChainUnavailable},
		{fmt.Errorf("%w: t1", model.ErrTaskNotFound), fiber.StatusNotFound, CodeNotFound},
		{model.ErrNotConnected, fiber.StatusPreconditionFailed, CodeNotConnected},
		{errors.New("boom"), fiber.StatusInternalServerError, CodeServiceError},
	}
	for _, tt := range tests {
		status, code := Classify(tt.err)
		if status != tt.status || code != tt.code {
			t.Errorf("Classify(%v) = %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
		}
	}
}
