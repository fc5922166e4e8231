package services

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"joy-journal/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 10 * time.Second

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp,omitempty"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// SessionPayload is the data of a session_changed message
type SessionPayload struct {
	Event  models.AuthEventType `json:"event,omitempty"`
	Status AuthStatus           `json:"status"`
	User   *models.Identity     `json:"user"`
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WSHub manages the view layer's WebSocket connections
type WSHub struct {
	mu          sync.RWMutex
	connections map[string]*wsClient
}

// NewWSHub creates a new WebSocket hub
func NewWSHub() *WSHub {
	return &WSHub{
		connections: make(map[string]*wsClient),
	}
}

// Register adds a connection and returns its ID
func (h *WSHub) Register(conn *websocket.Conn) string {
	id := uuid.NewString()

	h.mu.Lock()
	h.connections[id] = &wsClient{conn: conn}
	h.mu.Unlock()

	log.Info().Str("conn_id", id).Msg("WebSocket connection registered")
	return id
}

// Unregister closes and removes a connection
func (h *WSHub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client, exists := h.connections[id]; exists {
		client.conn.Close()
		delete(h.connections, id)
		log.Info().Str("conn_id", id).Msg("WebSocket connection unregistered")
	}
}

// Count returns the number of open connections
func (h *WSHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Send sends a message to one connection
func (h *WSHub) Send(id string, message WSMessage) error {
	h.mu.RLock()
	client, exists := h.connections[id]
	h.mu.RUnlock()

	if !exists {
		return fmt.Errorf("connection %s is not registered", id)
	}

	data, err := encodeMessage(message)
	if err != nil {
		return err
	}

	if err := client.write(data); err != nil {
		h.Unregister(id)
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Broadcast sends a message to every connection. Connections that fail are dropped.
func (h *WSHub) Broadcast(message WSMessage) {
	data, err := encodeMessage(message)
	if err != nil {
		log.Error().Err(err).Str("type", message.Type).Msg("Failed to encode broadcast")
		return
	}

	h.mu.RLock()
	targets := make(map[string]*wsClient, len(h.connections))
	for id, client := range h.connections {
		targets[id] = client
	}
	h.mu.RUnlock()

	for id, client := range targets {
		if err := client.write(data); err != nil {
			log.Warn().Err(err).Str("conn_id", id).Msg("Failed to deliver broadcast")
			h.Unregister(id)
		}
	}
}

// NotifySession tells the view layer about an identity change
func (h *WSHub) NotifySession(event models.AuthEventType, status AuthStatus, user *models.Identity) {
	h.Broadcast(WSMessage{
		Type: "session_changed",
		Data: SessionPayload{Event: event, Status: status, User: user},
	})
}

// NotifyMomentsLoaded pushes a freshly loaded collection to the view layer
func (h *WSHub) NotifyMomentsLoaded(moments []models.Moment) {
	if moments == nil {
		moments = []models.Moment{}
	}
	h.Broadcast(WSMessage{
		Type: "moments_loaded",
		Data: moments,
	})
}

func encodeMessage(message WSMessage) ([]byte, error) {
	if message.Timestamp == 0 {
		message.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}
