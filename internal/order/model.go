package order

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-laundry/internal/pricing"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrConflict          = errors.New("order number already exists")
	ErrAlreadyTerminal   = errors.New("order cannot be cancelled at this stage")
	ErrInvalidStatus     = errors.New("invalid order status")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrPromoNotFound     = errors.New("promo code not found")
	ErrNotReviewable     = errors.New("order can only be reviewed after delivery")
	ErrInvalidRating     = errors.New("rating must be between 1 and 5")
	ErrInvalidNote       = errors.New("invalid note")
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusPickedUp       Status = "picked-up"
	StatusInProgress     Status = "in-progress"
	StatusReady          Status = "ready"
	StatusOutForDelivery Status = "out-for-delivery"
	StatusDelivered      Status = "delivered"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
)

var allStatuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusPickedUp,
	StatusInProgress,
	StatusReady,
	StatusOutForDelivery,
	StatusDelivered,
	StatusCompleted,
	StatusCancelled,
}

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range allStatuses {
		if s == known {
			return s, nil
		}
	}
	return "", ErrInvalidStatus
}

// Terminal reports whether the order can no longer be cancelled.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCompleted || s == StatusCancelled
}

type PaymentMethod string

const (
	PaymentCard PaymentMethod = "card"
	PaymentUPI  PaymentMethod = "upi"
	PaymentCOD  PaymentMethod = "cod"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// Address is where items are picked up from and delivered to.
type Address struct {
	Street   string `json:"street"`
	Area     string `json:"area"`
	City     string `json:"city"`
	Pincode  string `json:"pincode"`
	Landmark string `json:"landmark,omitempty"`
}

// CustomerInfo is a snapshot of the customer's contact details at order time.
type CustomerInfo struct {
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Email     string  `json:"email"`
	Phone     string  `json:"phone"`
	Address   Address `json:"address"`
}

// Item is one priced line of an order.
type Item struct {
	ServiceID           string        `json:"serviceId"`
	ServiceName         string        `json:"serviceName"`
	ItemName            string        `json:"itemName"`
	Quantity            int           `json:"quantity"`
	UnitPrice           pricing.Money `json:"unitPrice"`
	Image               string        `json:"image,omitempty"`
	SpecialInstructions string        `json:"specialInstructions,omitempty"`
}

// Schedule captures pickup and delivery preferences.
type Schedule struct {
	PickupDate   time.Time  `json:"pickupDate"`
	DeliveryDate *time.Time `json:"deliveryDate,omitempty"`
	TimeSlot     string     `json:"timeSlot"`
	Instructions string     `json:"instructions,omitempty"`
	Express      bool       `json:"express"`
}

// TrackingStep is one entry of the customer-facing timeline.
type TrackingStep struct {
	Status      Status     `json:"status"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Completed   bool       `json:"completed"`
	Active      bool       `json:"active"`
	Next        bool       `json:"next"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
}

// Note is an append-only staff remark.
type Note struct {
	Message   string    `json:"message"`
	AddedBy   string    `json:"addedBy"`
	Timestamp time.Time `json:"timestamp"`
}

// Order is a customer's laundry order.
type Order struct {
	ID                uuid.UUID       `json:"id"`
	Number            string          `json:"orderNumber"`
	CustomerID        *string         `json:"customerId,omitempty"`
	Customer          CustomerInfo    `json:"customerInfo"`
	Items             []Item          `json:"items"`
	Schedule          Schedule        `json:"schedule"`
	Summary           pricing.Summary `json:"pricing"`
	PaymentMethod     PaymentMethod   `json:"paymentMethod"`
	PaymentStatus     PaymentStatus   `json:"paymentStatus"`
	Status            Status          `json:"status"`
	PromoCode         string          `json:"promoCode,omitempty"`
	Tracking          []TrackingStep  `json:"tracking"`
	EstimatedDelivery *time.Time      `json:"estimatedDelivery,omitempty"`
	ActualDelivery    *time.Time      `json:"actualDelivery,omitempty"`
	Rating            *int            `json:"rating,omitempty"`
	Review            string          `json:"review,omitempty"`
	Notes             []Note          `json:"notes"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// OwnedBy reports whether userID placed the order.
func (o Order) OwnedBy(userID string) bool {
	return userID != "" && o.CustomerID != nil && *o.CustomerID == userID
}

// PricingItems converts the order lines for the pricing engine.
func (o Order) PricingItems() []pricing.Item {
	items := make([]pricing.Item, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, pricing.Item{Qty: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return items
}

// ServiceIDs returns the distinct service ids of the order lines.
func (o Order) ServiceIDs() []string {
	seen := make(map[string]struct{}, len(o.Items))
	ids := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		if it.ServiceID == "" {
			continue
		}
		if _, ok := seen[it.ServiceID]; ok {
			continue
		}
		seen[it.ServiceID] = struct{}{}
		ids = append(ids, it.ServiceID)
	}
	return ids
}

// ListFilter narrows order listings. An empty CustomerID lists every order.
type ListFilter struct {
	CustomerID string
	Status     *Status
	Page       int
	PerPage    int
}
