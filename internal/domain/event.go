package domain

import "time"

// Alert is a three-state UI alert correlated by ID across start, success
// and error phases of one tool run.
type Alert struct {
	ID      string       `json:"id"`
	State   AlertState   `json:"state"`
	Variant AlertVariant `json:"variant"`
	Message string       `json:"message"`
}

// Status reports a state change the UI should reflect, such as a resolved
// approval.
type Status struct {
	Kind           string         `json:"kind"`
	ApprovalID     string         `json:"approval_id,omitempty"`
	ApprovalStatus ApprovalStatus `json:"approval_status,omitempty"`
	NotificationID string         `json:"notification_id,omitempty"`
}

// Command instructs the UI to perform a client-side action.
type Command struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// File is an artifact produced by a tool.
type File struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	Content  string `json:"content,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Event is the envelope of everything pushed to a conversation's UI channel.
type Event struct {
	Type           EventKind     `json:"type"`
	ConversationID string        `json:"conversation_id"`
	Ts             int64         `json:"ts"`
	Message        *Message      `json:"message,omitempty"`
	Alert          *Alert        `json:"alert,omitempty"`
	Notification   *Notification `json:"notification,omitempty"`
	Status         *Status       `json:"status,omitempty"`
	Command        *Command      `json:"command,omitempty"`
	File           *File         `json:"file,omitempty"`
}

// NewEvent returns an event of the given kind stamped with the current time.
func NewEvent(kind EventKind, conversationID string) Event {
	return Event{
		Type:           kind,
		ConversationID: conversationID,
		Ts:             time.Now().UnixMilli(),
	}
}
