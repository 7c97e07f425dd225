package ws

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// outgoingMessage is the envelope pushed to attached connections.
type outgoingMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId,omitempty"`
	Text           string `json:"text,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

// client wraps a websocket connection with a write lock; gorilla connections
// do not allow concurrent writers.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(msg outgoingMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

// Hub tracks which websocket connections are attached to which conversation
// and pushes replies to them. Delivery is fire-and-forget: with no attached
// connection the text is dropped, and write errors are only logged.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

// NewHub builds an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*client]struct{})}
}

// Deliver implements the engine's delivery collaborator.
func (h *Hub) Deliver(conversationKey, text string) {
	msg := outgoingMessage{
		Type:           "reply",
		ConversationID: conversationKey,
		MessageID:      uuid.NewString(),
		Text:           text,
		Timestamp:      time.Now().UnixMilli(),
	}

	h.mu.RLock()
	attached := make([]*client, 0, len(h.clients[conversationKey]))
	for c := range h.clients[conversationKey] {
		attached = append(attached, c)
	}
	h.mu.RUnlock()

	if len(attached) == 0 {
		log.Printf("[ws] no connection attached, dropping delivery key=%s", conversationKey)
		return
	}

	for _, c := range attached {
		if err := c.send(msg); err != nil {
			log.Printf("[ws] delivery failed key=%s: %v", conversationKey, err)
		}
	}
}

func (h *Hub) attach(conversationKey string, conn *websocket.Conn) *client {
	c := &client{conn: conn}
	h.mu.Lock()
	if h.clients[conversationKey] == nil {
		h.clients[conversationKey] = make(map[*client]struct{})
	}
	h.clients[conversationKey][c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) detach(conversationKey string, c *client) {
	h.mu.Lock()
	if set, ok := h.clients[conversationKey]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, conversationKey)
		}
	}
	h.mu.Unlock()
}

// Attached returns the number of connections for a conversation.
func (h *Hub) Attached(conversationKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[conversationKey])
}
