package ws

// Message types from client to server
const (
	TypeHello            = "hello"
	TypeUserMessage      = "user_message"
	TypeApprovalResponse = "approval_response"
)

// Message types from server to client, next to the conversation events
const (
	TypeHelloAck = "hello_ack"
	TypeError    = "error"
)

// BaseMessage contains common fields for all client messages.
type BaseMessage struct {
	Type           string `json:"type"`
	Ts             int64  `json:"ts,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// HelloMessage binds the connection to a conversation.
type HelloMessage struct {
	BaseMessage
}

// HelloAckMessage is sent after a successful hello.
type HelloAckMessage struct {
	BaseMessage
}

// UserMessage submits user input to the bound or named conversation.
type UserMessage struct {
	BaseMessage
	Content string `json:"content"`
}

// ApprovalResponseMessage carries the user's decision on an approval
// request. RequestID is the approval request id.
type ApprovalResponseMessage struct {
	BaseMessage
	Response string `json:"response"`
}

// ErrorMessage is sent when a frame cannot be handled. The connection stays
// open.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrorCodeInvalidMessage       = "invalid_message"
	ErrorCodeConversationRequired = "conversation_required"
	ErrorCodeNotFound             = "not_found"
	ErrorCodeInternalError        = "internal_error"
)
