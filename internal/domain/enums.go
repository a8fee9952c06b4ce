// Package domain defines the core domain models for the conversation service.
package domain

// Role is the author of a message in a conversation chain.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleFunction marks the output of a tool execution.
	RoleFunction Role = "function"
	// RoleSnippet marks context text contributed by a snippet. Snippet
	// messages are folded into the system block and never persisted.
	RoleSnippet Role = "snippet"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleFunction, RoleSnippet:
		return true
	}
	return false
}

// ApprovalStatus represents the status of an approval request.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

// NotificationStatus represents the lifecycle of a persisted notification.
type NotificationStatus string

const (
	NotificationStatusActive     NotificationStatus = "active"
	NotificationStatusSuperseded NotificationStatus = "superseded"
)

// EventKind represents the type of an event pushed to the UI channel.
type EventKind string

const (
	EventAssistantDelta EventKind = "assistant-delta"
	EventAssistantFinal EventKind = "assistant-final"
	EventAlert          EventKind = "alert"
	EventNotification   EventKind = "notification"
	EventStatus         EventKind = "status"
	EventCommand        EventKind = "command"
	EventFile           EventKind = "file"
)

// AlertState is the phase of a tool-execution alert.
type AlertState string

const (
	AlertStateStart   AlertState = "start"
	AlertStateSuccess AlertState = "success"
	AlertStateError   AlertState = "error"
)

// AlertVariant controls how the UI renders an alert.
type AlertVariant string

const (
	AlertVariantInfo    AlertVariant = "info"
	AlertVariantSuccess AlertVariant = "success"
	AlertVariantWarning AlertVariant = "warning"
	AlertVariantError   AlertVariant = "error"
)
