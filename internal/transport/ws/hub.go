// Package ws serves the websocket UI channel: a hub fanning conversation
// events out to connections, and the inbound client protocol.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/neary-ai/neary-sub000/internal/domain"
	"github.com/neary-ai/neary-sub000/internal/service"
)

// Connection represents a single WebSocket connection.
type Connection struct {
	ID             string
	ConversationID string
	Conn           *websocket.Conn
	Send           chan []byte
	mu             sync.Mutex
}

// Hub manages all WebSocket connections.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// Conversations maps conversation_id to set of connection IDs
	conversations map[string]map[string]bool

	unregister chan *Connection

	// Broadcast channel for sending to a conversation, in send order
	broadcast chan *conversationMessage
	done      chan struct{}

	logger *slog.Logger
	mu     sync.RWMutex
	closed bool
}

type conversationMessage struct {
	ConversationID string
	Data           []byte
}

var _ service.ChannelSource = (*Hub)(nil)

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		connections:   make(map[string]*Connection),
		conversations: make(map[string]map[string]bool),
		unregister:    make(chan *Connection),
		broadcast:     make(chan *conversationMessage, 256),
		done:          make(chan struct{}),
		logger:        logger,
	}
}

// Run starts the hub's main loop and returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			h.closed = true
			for id, conn := range h.connections {
				delete(h.connections, id)
				close(conn.Send)
			}
			h.conversations = make(map[string]map[string]bool)
			h.mu.Unlock()
			return

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				h.unbind(conn)
				close(conn.Send)
			}
			h.mu.Unlock()
			h.logger.Debug("connection unregistered", "connection_id", conn.ID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for connID := range h.conversations[msg.ConversationID] {
				conn, exists := h.connections[connID]
				if !exists {
					continue
				}
				select {
				case conn.Send <- msg.Data:
				default:
					h.logger.Warn("connection buffer full, closing", "connection_id", connID)
					go h.Unregister(conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// bind and unbind require h.mu.
func (h *Hub) bind(conn *Connection, conversationID string) {
	conn.ConversationID = conversationID
	if conversationID == "" {
		return
	}
	if h.conversations[conversationID] == nil {
		h.conversations[conversationID] = make(map[string]bool)
	}
	h.conversations[conversationID][conn.ID] = true
}

func (h *Hub) unbind(conn *Connection) {
	if set := h.conversations[conn.ConversationID]; set != nil {
		delete(set, conn.ID)
		if len(set) == 0 {
			delete(h.conversations, conn.ConversationID)
		}
	}
}

// NewConnection creates a new connection. Register it to receive events.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:   "wsc_" + uuid.New().String()[:8],
		Conn: ws,
		Send: make(chan []byte, 256),
	}
}

// Register registers a connection with the hub. Once the hub stopped the
// connection's send channel is closed right away.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(conn.Send)
		return
	}
	h.connections[conn.ID] = conn
	h.bind(conn, conn.ConversationID)
	h.logger.Debug("connection registered", "connection_id", conn.ID)
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Bind moves a connection to a conversation.
func (h *Hub) Bind(conn *Connection, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unbind(conn)
	h.bind(conn, conversationID)
}

// ConversationOf returns the conversation a connection is bound to.
func (h *Hub) ConversationOf(conn *Connection) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return conn.ConversationID
}

// Broadcast sends data to every connection of a conversation. Messages to
// one conversation are delivered in call order.
func (h *Hub) Broadcast(conversationID string, data []byte) {
	select {
	case h.broadcast <- &conversationMessage{ConversationID: conversationID, Data: data}:
	case <-h.done:
	}
}

// BroadcastJSON sends a JSON message to all connections of a conversation.
func (h *Hub) BroadcastJSON(conversationID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(conversationID, data)
	return nil
}

// SendJSONToConnection sends a JSON message to a specific connection.
func (h *Hub) SendJSONToConnection(conn *Connection, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.connections[conn.ID]; !ok {
		return ErrConnectionClosed
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// Channel returns the UI channel of a conversation.
func (h *Hub) Channel(conversationID string) service.Channel {
	return conversationChannel{hub: h, conversationID: conversationID}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// HasActiveConnections checks if a conversation has any active connections.
func (h *Hub) HasActiveConnections(conversationID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conversations[conversationID]) > 0
}

type conversationChannel struct {
	hub            *Hub
	conversationID string
}

// Send fans ev out to the conversation's connections. Events for a
// conversation nobody watches are dropped.
func (c conversationChannel) Send(ev domain.Event) {
	if ev.ConversationID == "" {
		ev.ConversationID = c.conversationID
	}
	if err := c.hub.BroadcastJSON(c.conversationID, ev); err != nil {
		c.hub.logger.Error("failed to encode event", "conversation_id", c.conversationID, "error", err)
	}
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ErrConnectionClosed is returned when sending to an unregistered connection.
var ErrConnectionClosed = errors.New("connection closed")

// ErrBufferFull is returned when the send buffer is full.
var ErrBufferFull = &BufferFullError{}

// BufferFullError represents a buffer full error.
type BufferFullError struct{}

func (e *BufferFullError) Error() string {
	return "send buffer full"
}
