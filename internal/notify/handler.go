package notify

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-laundry/internal/events"
	"github.com/noah-isme/backend-laundry/internal/queue"
)

// StatusPublisher delivers a status update to the broker.
type StatusPublisher interface {
	Publish(ctx context.Context, msg StatusUpdate) error
}

// Handler is the queue handler for TaskKind.
type Handler struct {
	Publisher StatusPublisher
	Logger    zerolog.Logger
}

// Handle decodes the queued event and publishes it. Malformed payloads are
// dead-lettered immediately; broker failures are retried by the queue.
func (h Handler) Handle(ctx context.Context, task queue.Task) error {
	if h.Publisher == nil {
		return errors.New("notify: publisher not configured")
	}
	var ev events.Event
	if err := json.Unmarshal(task.Payload, &ev); err != nil {
		return queue.Permanent(err)
	}
	msg, err := FromEvent(ev)
	if err != nil {
		return queue.Permanent(err)
	}
	if err := h.Publisher.Publish(ctx, msg); err != nil {
		return err
	}
	h.Logger.Info().
		Str("order_number", msg.OrderNumber).
		Str("topic", msg.Topic).
		Str("status", msg.NewStatus).
		Int("attempt", task.Attempt).
		Msg("status update published")
	return nil
}
