package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/orchestrator/internal/middleware"
	"github.com/makeasinger/orchestrator/internal/model"
	"github.com/makeasinger/orchestrator/internal/orchestrator"
	"github.com/makeasinger/orchestrator/pkg/response"
)

type GenerationHandler struct {
	orch      *orchestrator.Orchestrator
	validator *validator.Validate
}

func NewGenerationHandler(orch *orchestrator.Orchestrator, v *validator.Validate) *GenerationHandler {
	return &GenerationHandler{
		orch:      orch,
		validator: v,
	}
}

// ItemsResponse lists the caller's generated items
type ItemsResponse struct {
	Items []model.GeneratedItem `json:"items"`
	Total int                   `json:"total"`
}

// TasksResponse lists the caller's tasks and the derived pending set
type TasksResponse struct {
	Tasks   []model.GenerationTask `json:"tasks"`
	Pending []string               `json:"pending"`
	Synced  bool                   `json:"synced"`
}

// Submit handles POST /api/generations
// @Summary      Submit generation
// @Description  Request a generation and broadcast its fee transaction
// @Tags         Generations
// @Accept       json
// @Produce      json
// @Param        request body model.RequestParams true "Generation parameters"
// @Success      202 {object} model.SubmitResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      402 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      412 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Failure      503 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generations [post]
func (h *GenerationHandler) Submit(c *fiber.Ctx) error {
	var req model.RequestParams
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	session, err := h.orch.Session(middleware.GetAccount(c))
	if err != nil {
		return response.FromError(c, err)
	}

	result, err := session.Submit(c.Context(), &req)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.Accepted(c, result)
}

// Items handles GET /api/generations/items
// @Summary      List generated items
// @Tags         Generations
// @Produce      json
// @Success      200 {object} ItemsResponse
// @Failure      412 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generations/items [get]
func (h *GenerationHandler) Items(c *fiber.Ctx) error {
	session, err := h.orch.Session(middleware.GetAccount(c))
	if err != nil {
		return response.FromError(c, err)
	}

	items := session.Items()
	return response.OK(c, ItemsResponse{Items: items, Total: len(items)})
}

// Tasks handles GET /api/generations/tasks
// @Summary      List tasks
// @Tags         Generations
// @Produce      json
// @Success      200 {object} TasksResponse
// @Failure      412 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generations/tasks [get]
func (h *GenerationHandler) Tasks(c *fiber.Ctx) error {
	session, err := h.orch.Session(middleware.GetAccount(c))
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, TasksResponse{
		Tasks:   session.Tasks(),
		Pending: session.PendingTaskIDs(),
		Synced:  session.Synced(),
	})
}

// Task handles GET /api/generations/tasks/:taskId
// @Summary      Get task
// @Tags         Generations
// @Produce      json
// @Param        taskId path string true "Task ID"
// @Success      200 {object} model.GenerationTask
// @Failure      404 {object} response.ErrorResponse
// @Failure      412 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generations/tasks/{taskId} [get]
func (h *GenerationHandler) Task(c *fiber.Ctx) error {
	taskID := c.Params("taskId")
	if taskID == "" {
		return response.ValidationError(c, "Task ID is required", nil)
	}

	session, err := h.orch.Session(middleware.GetAccount(c))
	if err != nil {
		return response.FromError(c, err)
	}

	task, err := session.Task(taskID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, task)
}

// ForceComplete handles POST /api/generations/tasks/:taskId/force-complete
// @Summary      Force-complete task
// @Description  Manual override for a task the user knows has finished
// @Tags         Generations
// @Produce      json
// @Param        taskId path string true "Task ID"
// @Success      200 {object} model.GenerationTask
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      412 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generations/tasks/{taskId}/force-complete [post]
func (h *GenerationHandler) ForceComplete(c *fiber.Ctx) error {
	taskID := c.Params("taskId")
	if taskID == "" {
		return response.ValidationError(c, "Task ID is required", nil)
	}

	session, err := h.orch.Session(middleware.GetAccount(c))
	if err != nil {
		return response.FromError(c, err)
	}

	task, err := session.ForceComplete(c.Context(), taskID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, task)
}

// Refresh handles POST /api/generations/refresh
// @Summary      Refresh from ledger
// @Tags         Generations
// @Produce      json
// @Success      200 {object} TasksResponse
// @Failure      412 {object} response.ErrorResponse
// @Failure      503 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generations/refresh [post]
func (h *GenerationHandler) Refresh(c *fiber.Ctx) error {
	session, err := h.orch.Session(middleware.GetAccount(c))
	if err != nil {
		return response.FromError(c, err)
	}

	if err := session.ForceRefresh(c.Context()); err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, TasksResponse{
		Tasks:   session.Tasks(),
		Pending: session.PendingTaskIDs(),
		Synced:  session.Synced(),
	})
}

// Clear handles DELETE /api/generations
// @Summary      Clear generations
// @Tags         Generations
// @Produce      json
// @Success      200 {object} map[string]int
// @Failure      412 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generations [delete]
func (h *GenerationHandler) Clear(c *fiber.Ctx) error {
	session, err := h.orch.Session(middleware.GetAccount(c))
	if err != nil {
		return response.FromError(c, err)
	}

	removed := session.Clear(c.Context())
	return response.OK(c, fiber.Map{"removed": removed})
}
