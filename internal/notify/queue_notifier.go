package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/noah-isme/backend-laundry/internal/events"
	"github.com/noah-isme/backend-laundry/internal/queue"
)

// TaskKind is the queue kind carrying order status notifications.
const TaskKind = "notify.order_status"

// Enqueuer accepts background tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// QueueNotifier enqueues order status events for the notify worker.
type QueueNotifier struct {
	Queue       Enqueuer
	MaxAttempts int
	// Topics defaults to events.StatusTopics.
	Topics []string
}

// Notify implements events.Notifier.
func (n QueueNotifier) Notify(ctx context.Context, ev events.Event) error {
	if n.Queue == nil {
		return nil
	}
	topics := n.Topics
	if len(topics) == 0 {
		topics = events.StatusTopics()
	}
	if !slices.Contains(topics, ev.Topic) {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}
	return n.Queue.Enqueue(ctx, queue.Task{
		Kind:        TaskKind,
		Key:         ev.ID.String(),
		Payload:     payload,
		MaxAttempts: n.MaxAttempts,
	})
}
