package ws

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/vtrenkov/chatrelay/pkg/utils"
)

// Dispatcher is the inbound entry point the handler feeds.
type Dispatcher interface {
	HandleInbound(conversationKey, text string)
}

// Handler upgrades conversation websockets and bridges frames to the
// dispatcher.
type Handler struct {
	hub      *Hub
	dispatch Dispatcher
	upgrader websocket.Upgrader
}

// New creates the websocket handler.
func New(hub *Hub, dispatch Dispatcher) *Handler {
	return &Handler{
		hub:      hub,
		dispatch: dispatch,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{conversationID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		utils.RespondError(w, http.StatusBadRequest, "conversationID is required")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed key=%s: %v", conversationID, err)
		return
	}

	c := h.hub.attach(conversationID, conn)
	defer func() {
		h.hub.detach(conversationID, c)
		conn.Close()
	}()

	log.Printf("[ws] connection attached key=%s", conversationID)

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] read failed key=%s: %v", conversationID, err)
			}
			return
		}

		switch msg.Type {
		case "message", "":
			if msg.Text != "" {
				h.dispatch.HandleInbound(conversationID, msg.Text)
			}
		default:
			// Unknown frame types are ignored so clients can evolve.
		}
	}
}
