package order

import (
	"fmt"
	"time"
)

type stepTemplate struct {
	status      Status
	title       string
	description string
}

var timeline = []stepTemplate{
	{StatusPending, "Order Placed", "Your order has been placed successfully"},
	{StatusConfirmed, "Order Confirmed", "We have confirmed your order and will pickup soon"},
	{StatusPickedUp, "Items Picked Up", "Your items have been collected from your location"},
	{StatusInProgress, "Processing", "Your items are being cleaned with care"},
	{StatusReady, "Ready for Delivery", "Your items are clean and ready for delivery"},
	{StatusDelivered, "Delivered", "Your items have been delivered successfully"},
}

// forward lists the statuses reachable from each status when transitions are strict.
var forward = map[Status][]Status{
	StatusPending:        {StatusConfirmed},
	StatusConfirmed:      {StatusPickedUp},
	StatusPickedUp:       {StatusInProgress},
	StatusInProgress:     {StatusReady},
	StatusReady:          {StatusOutForDelivery, StatusDelivered},
	StatusOutForDelivery: {StatusDelivered},
	StatusDelivered:      {StatusCompleted},
}

// Tracker applies status changes and keeps the tracking timeline in step.
type Tracker struct {
	// Strict rejects transitions that skip or rewind lifecycle stages.
	Strict bool
}

// Initialize seeds the timeline at pending: "Order Placed" is completed and
// "Order Confirmed" is the active, next-up step.
func (t Tracker) Initialize(o *Order, now time.Time) {
	o.Tracking = make([]TrackingStep, len(timeline))
	for i, tpl := range timeline {
		o.Tracking[i] = TrackingStep{
			Status:      tpl.status,
			Title:       tpl.title,
			Description: tpl.description,
		}
	}
	o.Status = StatusPending
	placed := now
	o.Tracking[0].Completed = true
	o.Tracking[0].Timestamp = &placed
	o.Tracking[1].Active = true
	o.Tracking[1].Next = true
}

// Transition moves the order to status. Statuses without a timeline step
// (out-for-delivery, completed, cancelled) leave the timeline untouched.
func (t Tracker) Transition(o *Order, status Status, now time.Time) error {
	if _, err := ParseStatus(string(status)); err != nil {
		return err
	}
	if t.Strict && !allowed(o.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.Status, status)
	}
	o.Status = status
	if status == StatusDelivered && o.ActualDelivery == nil {
		delivered := now
		o.ActualDelivery = &delivered
	}
	for i, step := range o.Tracking {
		if step.Status == status {
			advance(o, i, now)
			break
		}
	}
	return nil
}

// Current returns the active timeline step, if any.
func Current(o Order) (TrackingStep, bool) {
	for _, step := range o.Tracking {
		if step.Active {
			return step, true
		}
	}
	return TrackingStep{}, false
}

func advance(o *Order, idx int, now time.Time) {
	for i := range o.Tracking {
		step := &o.Tracking[i]
		step.Next = false
		step.Active = false
		if i <= idx {
			step.Completed = true
		}
	}
	ts := now
	o.Tracking[idx].Active = true
	o.Tracking[idx].Timestamp = &ts
	if idx+1 < len(o.Tracking) {
		o.Tracking[idx+1].Next = true
	}
}

func allowed(from, to Status) bool {
	if from == to {
		return true
	}
	if to == StatusCancelled {
		return !from.Terminal()
	}
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}
