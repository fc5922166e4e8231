package handlers

import (
	"encoding/json"
	"net/http"

	"joy-journal/internal/middleware"
	"joy-journal/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler streams session and collection changes to the view layer
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	hub      *services.WSHub
	sessions *services.SessionManager
	moments  *services.MomentService
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(
	hub *services.WSHub,
	sessions *services.SessionManager,
	moments *services.MomentService,
	allowedOrigins []string,
) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return middleware.OriginAllowed(allowedOrigins, r)
			},
		},
		hub:      hub,
		sessions: sessions,
		moments:  moments,
	}
}

// HandleWebSocket handles WebSocket connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	connID := h.hub.Register(conn)
	defer h.hub.Unregister(connID)

	// Bring the new client up to date
	hello := []services.WSMessage{
		{
			Type: "session_changed",
			Data: services.SessionPayload{Status: h.sessions.Status(), User: h.sessions.Current()},
		},
		{
			Type: "moments_loaded",
			Data: h.moments.Moments(),
		},
	}
	for _, msg := range hello {
		if err := h.hub.Send(connID, msg); err != nil {
			log.Error().Err(err).Str("conn_id", connID).Msg("Failed to send initial state")
			return
		}
	}

	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("conn_id", connID).Msg("WebSocket error")
			}
			break
		}

		var msg services.WSMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			h.sendError(connID, "Invalid message format")
			continue
		}

		switch msg.Type {
		case "ping":
			h.hub.Send(connID, services.WSMessage{Type: "pong"})
		case "refresh":
			if err := h.moments.Load(r.Context()); err != nil {
				h.sendError(connID, err.Error())
			}
		default:
			h.sendError(connID, "Unknown message type")
		}
	}
}

// sendError sends an error message to one connection
func (h *WebSocketHandler) sendError(connID, message string) {
	if err := h.hub.Send(connID, services.WSMessage{Type: "error", Message: message}); err != nil {
		log.Warn().Err(err).Str("conn_id", connID).Msg("Failed to send error message")
	}
}
