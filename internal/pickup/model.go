package pickup

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-laundry/internal/order"
)

var (
	ErrNotFound        = errors.New("pickup not found")
	ErrAlreadyTerminal = errors.New("pickup cannot be cancelled at this stage")
	ErrInvalidStatus   = errors.New("invalid pickup status")
	ErrInvalidSlot     = errors.New("time slot must end after it starts")
	ErrStaffRequired   = errors.New("staff member id is required")
)

// Status is the lifecycle state of a pickup request.
type Status string

const (
	StatusRequested  Status = "requested"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StatusRequested, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled:
		return s, nil
	}
	return "", ErrInvalidStatus
}

// Terminal reports whether the pickup is finished and can no longer be cancelled.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// TimeSlot is the window the customer picked, e.g. "Morning" 09:00-11:00.
type TimeSlot struct {
	Label string `json:"label"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// EstimatedItem is what the customer expects to hand over.
type EstimatedItem struct {
	Type     string `json:"type"`
	Quantity int    `json:"quantity"`
	Notes    string `json:"notes,omitempty"`
}

// ActualItem is what staff collected.
type ActualItem struct {
	Type      string `json:"type"`
	Quantity  int    `json:"quantity"`
	Condition string `json:"condition,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// Pickup is a request to collect laundry from a customer's address.
type Pickup struct {
	ID             uuid.UUID       `json:"id"`
	CustomerID     string          `json:"customerId"`
	Address        order.Address   `json:"address"`
	Date           time.Time       `json:"date"`
	TimeSlot       TimeSlot        `json:"timeSlot"`
	Instructions   string          `json:"instructions,omitempty"`
	Status         Status          `json:"status"`
	AssignedTo     *string         `json:"assignedTo,omitempty"`
	EstimatedItems []EstimatedItem `json:"estimatedItems"`
	ActualItems    []ActualItem    `json:"actualItems"`
	PickupNotes    string          `json:"pickupNotes,omitempty"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// ListFilter narrows pickup listings. Date matches the whole UTC day.
type ListFilter struct {
	CustomerID string
	Status     *Status
	Date       *time.Time
	AssignedTo string
	Page       int
	PerPage    int
}

// DayRange returns the half-open UTC day covering f.Date.
func (f ListFilter) DayRange() (time.Time, time.Time, bool) {
	if f.Date == nil {
		return time.Time{}, time.Time{}, false
	}
	d := f.Date.UTC()
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1), true
}
