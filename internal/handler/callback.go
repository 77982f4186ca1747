package handler

import (
	"crypto/subtle"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/makeasinger/orchestrator/internal/client"
	"github.com/makeasinger/orchestrator/internal/logging"
	"github.com/makeasinger/orchestrator/internal/model"
	"github.com/makeasinger/orchestrator/internal/orchestrator"
	"github.com/makeasinger/orchestrator/pkg/response"
)

// CallbackHandler receives push notifications from the generation service
type CallbackHandler struct {
	orch  *orchestrator.Orchestrator
	token string
	log   *zerolog.Logger
}

func NewCallbackHandler(orch *orchestrator.Orchestrator, token string, logger *zerolog.Logger) *CallbackHandler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &CallbackHandler{
		orch:  orch,
		token: token,
		log:   logging.Component(logger, "callback"),
	}
}

// Generation handles POST /api/callbacks/generation
// @Summary      Generation callback
// @Description  Push status update from the generation service
// @Tags         Callbacks
// @Accept       json
// @Produce      json
// @Success      200 {object} map[string]string
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Router       /api/callbacks/generation [post]
func (h *CallbackHandler) Generation(c *fiber.Ctx) error {
	if h.token != "" && subtle.ConstantTimeCompare([]byte(c.Get("X-Callback-Token")), []byte(h.token)) != 1 {
		return response.Unauthorized(c, "Invalid callback token")
	}

	result, err := client.ParseCallback(c.Body())
	if err != nil {
		return response.ValidationError(c, err.Error(), nil)
	}

	log := h.log.With().Str("task_id", result.TaskID).Str("status", result.RawStatus).Int("items", len(result.Items)).Logger()
	log.Debug().Msg("callback received")

	err = h.orch.HandleCallback(c.Context(), result)
	switch {
	case err == nil:
		return response.OK(c, fiber.Map{"status": "accepted"})
	case errors.Is(err, model.ErrTaskNotFound):
		// The provider retries non-2xx responses; nobody is waiting for this task here.
		return response.OK(c, fiber.Map{"status": "ignored"})
	default:
		log.Warn().Err(err).Msg("callback not applied")
		return response.FromError(c, err)
	}
}
