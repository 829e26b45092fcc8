package core

import (
	"context"
	"time"
)

// Event is a domain event published after a state change.
type Event struct {
	Type       string      `json:"type"`
	TenantID   string      `json:"tenant_id"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// EventPublisher is implemented by services/events.
type EventPublisher interface {
	Publish(ctx context.Context, evt Event) error
}

// NewEvent stamps a new Event.
func NewEvent(typ, tenantID string, payload interface{}) Event {
	return Event{Type: typ, TenantID: tenantID, OccurredAt: time.Now().UTC(), Payload: payload}
}
