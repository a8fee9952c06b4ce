package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/neary-ai/neary-sub000/internal/config"
	"github.com/neary-ai/neary-sub000/internal/domain"
	"github.com/neary-ai/neary-sub000/internal/service"
)

// Backend runs turns and resolves approvals for the websocket server.
type Backend interface {
	HandleUserMessage(ctx context.Context, conversationID, content string, ch service.Channel) (*service.TurnResult, error)
	ResolveApproval(ctx context.Context, requestID, response string, ch service.Channel) (*service.ResolveResult, error)
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
	GetApproval(ctx context.Context, id string) (*domain.ApprovalRequest, error)
}

// Server handles WebSocket connections.
type Server struct {
	cfg      config.WSConfig
	hub      *Hub
	backend  Backend
	logger   *slog.Logger
	upgrader websocket.Upgrader
	// queue keeps a conversation's frames in arrival order.
	queue *convQueue
	// ctx outlives single connections so a disconnect never aborts a turn.
	ctx context.Context
}

// NewServer creates a new WebSocket server. Work started by clients runs
// under ctx.
func NewServer(ctx context.Context, cfg config.WSConfig, h *Hub, backend Backend, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Server{
		cfg:     cfg,
		hub:     h,
		backend: backend,
		logger:  logger,
		queue:   newConvQueue(),
		ctx:     ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", "error", err)
		return err
	}

	conn := s.hub.NewConnection(ws)
	if id := c.QueryParam("conversation_id"); id != "" {
		conn.ConversationID = id
	}
	s.hub.Register(conn)

	if s.cfg.MaxMessageSize > 0 {
		ws.SetReadLimit(s.cfg.MaxMessageSize)
	}

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(conn *Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket error", "connection_id", conn.ID, "error", err)
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		s.handleMessage(conn, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Warn("failed to write message", "connection_id", conn.ID, "error", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches incoming messages. Malformed frames are logged
// and answered with an error frame; the connection stays open.
func (s *Server) handleMessage(conn *Connection, data []byte) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		s.logger.Warn("dropping malformed frame", "connection_id", conn.ID, "error", err)
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch base.Type {
	case TypeHello:
		s.handleHello(conn, data)
	case TypeUserMessage:
		s.handleUserMessage(conn, data)
	case TypeApprovalResponse:
		s.handleApprovalResponse(conn, data)
	default:
		s.logger.Warn("dropping frame of unknown type", "connection_id", conn.ID, "type", base.Type)
		s.sendError(conn, base.RequestID, ErrorCodeInvalidMessage, "unknown message type: "+base.Type)
	}
}

// handleHello binds the connection to a conversation.
func (s *Server) handleHello(conn *Connection, data []byte) {
	var msg HelloMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.ConversationID == "" {
		s.sendError(conn, msg.RequestID, ErrorCodeInvalidMessage, "hello requires conversation_id")
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()
	if _, err := s.backend.GetConversation(ctx, msg.ConversationID); err != nil {
		s.sendError(conn, msg.RequestID, errorCode(err), err.Error())
		return
	}

	s.hub.Bind(conn, msg.ConversationID)
	ack := HelloAckMessage{
		BaseMessage: BaseMessage{
			Type:           TypeHelloAck,
			Ts:             time.Now().UnixMilli(),
			RequestID:      msg.RequestID,
			ConversationID: msg.ConversationID,
		},
	}
	s.hub.SendJSONToConnection(conn, ack)
	s.logger.Info("hello handshake completed", "connection_id", conn.ID, "conversation_id", msg.ConversationID)
}

// handleUserMessage queues a turn without blocking the read loop. Turns of
// one conversation run in the order their frames arrived.
func (s *Server) handleUserMessage(conn *Connection, data []byte) {
	var msg UserMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("dropping malformed user_message", "connection_id", conn.ID, "error", err)
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid user_message")
		return
	}

	conversationID := msg.ConversationID
	if conversationID == "" {
		conversationID = s.hub.ConversationOf(conn)
	}
	if conversationID == "" {
		s.sendError(conn, msg.RequestID, ErrorCodeConversationRequired, "send hello or set conversation_id")
		return
	}

	s.queue.Submit(conversationID, func() {
		if _, err := s.backend.HandleUserMessage(s.ctx, conversationID, msg.Content, s.hub.Channel(conversationID)); err != nil {
			s.logger.Warn("user message failed", "conversation_id", conversationID, "error", err)
			s.sendErrorToConversation(conversationID, msg.RequestID, errorCode(err), err.Error())
		}
	})
}

// handleApprovalResponse forwards an approve or reject decision. Unknown
// or repeated decisions are ignored by the service.
func (s *Server) handleApprovalResponse(conn *Connection, data []byte) {
	var msg ApprovalResponseMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.RequestID == "" {
		s.logger.Warn("dropping malformed approval_response", "connection_id", conn.ID)
		s.sendError(conn, "", ErrorCodeInvalidMessage, "approval_response requires request_id")
		return
	}

	// The approval's conversation decides which queue the decision joins.
	// Unknown requests still reach the service, which ignores them.
	var conversationID string
	var ch service.Channel = service.NopChannel{}
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	ap, err := s.backend.GetApproval(ctx, msg.RequestID)
	cancel()
	if err == nil && ap != nil {
		conversationID = ap.ConversationID
		ch = s.hub.Channel(conversationID)
	}

	s.queue.Submit(conversationID, func() {
		res, err := s.backend.ResolveApproval(s.ctx, msg.RequestID, msg.Response, ch)
		if err != nil {
			s.logger.Error("approval response failed", "approval_id", msg.RequestID, "error", err)
			return
		}
		s.logger.Info("approval response handled", "approval_id", msg.RequestID, "applied", res.Applied)
	})
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return ErrorCodeNotFound
	case errors.Is(err, domain.ErrMalformedInput):
		return ErrorCodeInvalidMessage
	}
	return ErrorCodeInternalError
}

// sendError sends an error message to a connection.
func (s *Server) sendError(conn *Connection, requestID, code, message string) {
	errMsg := ErrorMessage{
		BaseMessage: BaseMessage{
			Type:           TypeError,
			Ts:             time.Now().UnixMilli(),
			RequestID:      requestID,
			ConversationID: s.hub.ConversationOf(conn),
		},
		Code:    code,
		Message: message,
	}
	s.hub.SendJSONToConnection(conn, errMsg)
}

// sendErrorToConversation sends an error message to all connections of a
// conversation.
func (s *Server) sendErrorToConversation(conversationID, requestID, code, message string) {
	errMsg := ErrorMessage{
		BaseMessage: BaseMessage{
			Type:           TypeError,
			Ts:             time.Now().UnixMilli(),
			RequestID:      requestID,
			ConversationID: conversationID,
		},
		Code:    code,
		Message: message,
	}
	s.hub.BroadcastJSON(conversationID, errMsg)
}
