package handler

import (
	"context"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/makeasinger/orchestrator/internal/logging"
	"github.com/makeasinger/orchestrator/internal/middleware"
	"github.com/makeasinger/orchestrator/internal/model"
	"github.com/makeasinger/orchestrator/internal/orchestrator"
	ws "github.com/makeasinger/orchestrator/internal/websocket"
	"github.com/makeasinger/orchestrator/pkg/response"
)

// SessionHandler connects and disconnects accounts. A login that shows up
// with a different wallet than last time is treated as an account switch.
type SessionHandler struct {
	orch *orchestrator.Orchestrator
	hub  *ws.Hub
	log  *zerolog.Logger

	mu       sync.Mutex
	accounts map[string]string // user id -> last connected account
}

// ConnectResponse is the state a freshly connected client renders
type ConnectResponse struct {
	Account string                 `json:"account"`
	Items   []model.GeneratedItem  `json:"items"`
	Tasks   []model.GenerationTask `json:"tasks"`
	Synced  bool                   `json:"synced"`
}

func NewSessionHandler(orch *orchestrator.Orchestrator, hub *ws.Hub, logger *zerolog.Logger) *SessionHandler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &SessionHandler{
		orch:     orch,
		hub:      hub,
		log:      logging.Component(logger, "session-handler"),
		accounts: make(map[string]string),
	}
}

// Connect handles POST /api/session/connect
// @Summary      Connect account
// @Description  Start the reconciliation session for the caller's account
// @Tags         Session
// @Produce      json
// @Success      200 {object} ConnectResponse
// @Failure      401 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/session/connect [post]
func (h *SessionHandler) Connect(c *fiber.Ctx) error {
	account := middleware.GetAccount(c)
	session, err := h.connect(c, middleware.GetUserID(c), account)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, ConnectResponse{
		Account: session.User(),
		Items:   session.Items(),
		Tasks:   session.Tasks(),
		Synced:  session.Synced(),
	})
}

// Disconnect handles POST /api/session/disconnect
// @Summary      Disconnect account
// @Tags         Session
// @Success      204
// @Security     BearerAuth
// @Router       /api/session/disconnect [post]
func (h *SessionHandler) Disconnect(c *fiber.Ctx) error {
	account := middleware.GetAccount(c)

	h.mu.Lock()
	if prev, ok := h.accounts[middleware.GetUserID(c)]; ok && orchestrator.AccountKey(prev) == orchestrator.AccountKey(account) {
		delete(h.accounts, middleware.GetUserID(c))
	}
	h.mu.Unlock()

	h.orch.Disconnect(account)
	return response.NoContent(c)
}

// Notifications handles GET /ws/notifications. Opening the stream connects
// the account if it is not connected yet.
func (h *SessionHandler) Notifications(c *websocket.Conn) {
	userID, _ := c.Locals("userId").(string)
	account, _ := c.Locals("account").(string)
	if account == "" {
		account = userID
	}

	if _, err := h.orch.Session(account); err != nil {
		if _, err := h.orch.Connect(context.Background(), account); err != nil {
			h.log.Warn().Err(err).Str("user", account).Msg("websocket connect failed")
			_ = c.Close()
			return
		}
	}
	h.hub.HandleConnection(c, account)
}

func (h *SessionHandler) connect(c *fiber.Ctx, userID, account string) (*orchestrator.Session, error) {
	h.mu.Lock()
	prev := h.accounts[userID]
	if userID != "" {
		h.accounts[userID] = account
	}
	h.mu.Unlock()

	if prev != "" && orchestrator.AccountKey(prev) != orchestrator.AccountKey(account) {
		h.log.Info().Str("from", prev).Str("to", account).Msg("account switched")
	}
	return h.orch.SwitchAccount(c.Context(), prev, account)
}
