package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-laundry/internal/events"
)

// StatusUpdate is the message fanned out to downstream consumers whenever an
// order is placed or changes status.
type StatusUpdate struct {
	EventID     uuid.UUID `json:"eventId"`
	Topic       string    `json:"topic"`
	OrderID     uuid.UUID `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	OldStatus   string    `json:"oldStatus,omitempty"`
	NewStatus   string    `json:"newStatus"`
	CustomerID  string    `json:"customerId,omitempty"`
	Email       string    `json:"email,omitempty"`
	ChangedBy   string    `json:"changedBy,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

type eventPayload struct {
	OrderNumber string `json:"orderNumber"`
	Status      string `json:"status"`
	From        string `json:"from"`
	To          string `json:"to"`
	CustomerID  string `json:"customerId"`
	Email       string `json:"email"`
	Actor       string `json:"actor"`
}

// FromEvent builds the status update carried by an order event.
func FromEvent(ev events.Event) (StatusUpdate, error) {
	var p eventPayload
	if len(ev.Payload) > 0 {
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return StatusUpdate{}, fmt.Errorf("decode %s payload: %w", ev.Topic, err)
		}
	}
	next := p.To
	if next == "" {
		next = p.Status
	}
	return StatusUpdate{
		EventID:     ev.ID,
		Topic:       ev.Topic,
		OrderID:     ev.AggregateID,
		OrderNumber: p.OrderNumber,
		OldStatus:   p.From,
		NewStatus:   next,
		CustomerID:  p.CustomerID,
		Email:       p.Email,
		ChangedBy:   p.Actor,
		OccurredAt:  ev.OccurredAt,
	}, nil
}
