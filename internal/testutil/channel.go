package testutil

import (
	"sync"

	"github.com/neary-ai/neary-sub000/internal/domain"
)

// RecordingChannel records every event sent to it.
type RecordingChannel struct {
	mu     sync.Mutex
	events []domain.Event
}

func (c *RecordingChannel) Send(ev domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// Events returns the recorded events in send order.
func (c *RecordingChannel) Events() []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Event(nil), c.events...)
}

// OfType returns the recorded events of kind.
func (c *RecordingChannel) OfType(kind domain.EventKind) []domain.Event {
	var out []domain.Event
	for _, ev := range c.Events() {
		if ev.Type == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Alerts returns the alerts in send order.
func (c *RecordingChannel) Alerts() []domain.Alert {
	var out []domain.Alert
	for _, ev := range c.OfType(domain.EventAlert) {
		out = append(out, *ev.Alert)
	}
	return out
}
