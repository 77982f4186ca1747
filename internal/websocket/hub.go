package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"

	"github.com/makeasinger/orchestrator/internal/logging"
	"github.com/makeasinger/orchestrator/internal/model"
	"github.com/makeasinger/orchestrator/internal/orchestrator"
)

// Client represents a WebSocket client. Send is never closed; done marks the
// client as removed and stops its writer.
type Client struct {
	User string
	Conn *websocket.Conn
	Send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a client with a send buffer of size messages
func NewClient(user string, conn *websocket.Conn, size int) *Client {
	return &Client{
		User: user,
		Conn: conn,
		Send: make(chan []byte, size),
		done: make(chan struct{}),
	}
}

// Done is closed once the hub has dropped the client
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// queue hands data to the writer without blocking. It reports false when the
// buffer is full or the client is gone.
func (c *Client) queue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// Hub maintains active WebSocket connections and fans notifications out per account
type Hub struct {
	// Clients grouped by account
	clients map[string]map[*Client]bool

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Broadcast messages to an account's clients
	broadcast chan *BroadcastMessage

	done chan struct{}
	log  *zerolog.Logger
	mu   sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	User    string
	Message []byte
}

// NewHub creates a new Hub
func NewHub(logger *zerolog.Logger) *Hub {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
		log:        logging.Component(logger, "ws"),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.User] == nil {
				h.clients[client.User] = make(map[*Client]bool)
			}
			h.clients[client.User][client] = true
			h.mu.Unlock()
			h.log.Debug().Str("user", client.User).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.User]; ok {
				delete(clients, client)
				if len(clients) == 0 {
					delete(h.clients, client.User)
				}
			}
			h.mu.Unlock()
			client.close()
			h.log.Debug().Str("user", client.User).Msg("client unregistered")

		case msg := <-h.broadcast:
			h.mu.Lock()
			if clients, ok := h.clients[msg.User]; ok {
				for client := range clients {
					if !client.queue(msg.Message) {
						delete(clients, client)
						client.close()
						h.log.Warn().Str("user", msg.User).Msg("slow client dropped")
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.User)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop ends the main loop
func (h *Hub) Stop() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.close()
	}
}

// Connections returns the number of sockets open for user
func (h *Hub) Connections(user string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[orchestrator.AccountKey(user)])
}

// Notify sends a notification to every socket of user
func (h *Hub) Notify(user string, n model.Notification) {
	h.send(user, model.WSNotificationMessage{
		Type:         model.WSMessageTypeNotification,
		Notification: n,
	})
}

// TaskUpdated sends a task snapshot to every socket of user
func (h *Hub) TaskUpdated(user string, task model.GenerationTask) {
	h.send(user, model.WSTaskUpdateMessage{
		Type: model.WSMessageTypeTaskUpdate,
		Task: task,
	})
}

func (h *Hub) send(user string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal message")
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{User: orchestrator.AccountKey(user), Message: data}:
	default:
		h.log.Warn().Str("user", user).Msg("broadcast queue full, message dropped")
	}
}

// HandleConnection handles a WebSocket connection for an authenticated account
func (h *Hub) HandleConnection(c *websocket.Conn, user string) {
	client := NewClient(orchestrator.AccountKey(user), c, 256)

	h.Register(client)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(client)
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Str("user", client.User).Msg("websocket error")
			}
			break
		}

		// Handle client messages (ping/pong)
		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			data, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			client.queue(data)
		}
	}

	h.Unregister(client)
	<-writerDone
}

// writePump is the only goroutine writing to the client's connection
func (h *Hub) writePump(client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-client.done:
			client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-client.Send:
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			// Send ping for keep-alive
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
