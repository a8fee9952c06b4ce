package service

import (
	"github.com/google/uuid"

	"github.com/neary-ai/neary-sub000/internal/domain"
)

func send(ch Channel, ev domain.Event) {
	if ch == nil {
		return
	}
	ch.Send(ev)
}

func newAlertID() string {
	return "alert_" + uuid.New().String()[:8]
}

// sendAlert pushes one phase of an alert. Alerts are never persisted.
func sendAlert(ch Channel, conversationID string, alert domain.Alert) {
	ev := domain.NewEvent(domain.EventAlert, conversationID)
	ev.Alert = &alert
	send(ch, ev)
}

func sendError(ch Channel, conversationID, message string) {
	sendAlert(ch, conversationID, domain.Alert{
		ID:      newAlertID(),
		State:   domain.AlertStateError,
		Variant: domain.AlertVariantError,
		Message: message,
	})
}

func sendMessage(ch Channel, kind domain.EventKind, msg domain.Message) {
	ev := domain.NewEvent(kind, msg.ConversationID)
	ev.Message = &msg
	send(ch, ev)
}
