package promo

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-laundry/internal/pricing"
)

var (
	// ErrNotFound is returned when no promo matches the lookup.
	ErrNotFound = errors.New("promo not found")
	// ErrConflict indicates a promo with the same code already exists.
	ErrConflict = errors.New("promo code already exists")
	// ErrNotEligible wraps every eligibility failure.
	ErrNotEligible = errors.New("promo not eligible")
	// ErrCapacityExceeded is returned when a redemption lost the race for the last slot.
	ErrCapacityExceeded = errors.New("promo capacity exceeded")
)

// DiscountType selects how DiscountValue is interpreted.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountPercentage || t == DiscountFixed
}

// Promo is a discount code with its eligibility rules and usage counter.
type Promo struct {
	ID                 uuid.UUID      `json:"id"`
	Code               string         `json:"code"`
	Description        string         `json:"description"`
	DiscountType       DiscountType   `json:"discountType"`
	DiscountValue      int64          `json:"discountValue"`
	MaxDiscount        *pricing.Money `json:"maxDiscount,omitempty"`
	MinOrderAmount     pricing.Money  `json:"minOrderAmount"`
	MaxUsage           *int           `json:"maxUsage,omitempty"`
	UsageCount         int            `json:"usageCount"`
	MaxUsagePerUser    int            `json:"maxUsagePerUser"`
	ValidFrom          time.Time      `json:"validFrom"`
	ValidUntil         time.Time      `json:"validUntil"`
	Active             bool           `json:"isActive"`
	ApplicableServices []string       `json:"applicableServices"`
	ExcludedServices   []string       `json:"excludedServices"`
	NewUsersOnly       bool           `json:"newUsersOnly"`
	ExistingUsersOnly  bool           `json:"existingUsersOnly"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

// Usage is one entry of a promo's append-only redemption history.
type Usage struct {
	PromoID         uuid.UUID     `json:"promoId"`
	UserID          string        `json:"userId,omitempty"`
	OrderID         uuid.UUID     `json:"orderId"`
	DiscountApplied pricing.Money `json:"discountApplied"`
	UsedAt          time.Time     `json:"usedAt"`
}

// Reason names the first rule a promo failed.
type Reason string

const (
	ReasonNotActive            Reason = "not_active"
	ReasonOutOfWindow          Reason = "out_of_window"
	ReasonBelowMinimum         Reason = "below_minimum"
	ReasonUsageCapReached      Reason = "usage_cap_reached"
	ReasonUserCapReached       Reason = "user_cap_reached"
	ReasonServiceNotApplicable Reason = "service_not_applicable"
	ReasonNewUsersOnly         Reason = "new_users_only"
	ReasonExistingUsersOnly    Reason = "existing_users_only"
)

// Message renders the customer-facing explanation for r.
func (r Reason) Message(p Promo) string {
	switch r {
	case ReasonNotActive:
		return "Promo code is not active"
	case ReasonOutOfWindow:
		return "Promo code has expired"
	case ReasonBelowMinimum:
		return "Minimum order amount is ₹" + pricing.Rupees(p.MinOrderAmount)
	case ReasonUsageCapReached:
		return "Promo code usage limit exceeded"
	case ReasonUserCapReached:
		return "You have already used this promo code"
	case ReasonServiceNotApplicable:
		return "Promo code is not applicable to the selected services"
	case ReasonNewUsersOnly:
		return "Promo code is valid for new customers only"
	case ReasonExistingUsersOnly:
		return "Promo code is valid for returning customers only"
	}
	return "Promo code is not valid"
}

// Check is the context a promo is evaluated against.
type Check struct {
	UserID      string
	OrderAmount pricing.Money
	// UserUsage is how many times UserID has already redeemed the promo.
	UserUsage  int
	ServiceIDs []string
	// UserOrderCount is nil when the caller does not know the user's history.
	UserOrderCount *int
}

// Eligibility is the outcome of Validate.
type Eligibility struct {
	Eligible bool   `json:"eligible"`
	Reason   Reason `json:"reason,omitempty"`
}

// IneligibleError carries the failed rule through error returns.
type IneligibleError struct {
	Reason  Reason
	Message string
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("promo not eligible: %s", e.Reason)
}

// Is lets errors.Is match ErrNotEligible.
func (e *IneligibleError) Is(target error) bool { return target == ErrNotEligible }

// CapacityError is returned by a conditional increment that found no free slot.
type CapacityError struct {
	Reason Reason
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("promo capacity exceeded: %s", e.Reason)
}

// Is lets errors.Is match ErrCapacityExceeded.
func (e *CapacityError) Is(target error) bool { return target == ErrCapacityExceeded }

// Validate runs the eligibility rules in order and stops at the first failure.
// Service and user-history rules are only applied when the check carries that data.
func Validate(now time.Time, p Promo, c Check) Eligibility {
	if !p.Active {
		return ineligible(ReasonNotActive)
	}
	if now.Before(p.ValidFrom) || now.After(p.ValidUntil) {
		return ineligible(ReasonOutOfWindow)
	}
	if c.OrderAmount < p.MinOrderAmount {
		return ineligible(ReasonBelowMinimum)
	}
	if p.MaxUsage != nil && p.UsageCount >= *p.MaxUsage {
		return ineligible(ReasonUsageCapReached)
	}
	if c.UserID != "" && p.MaxUsagePerUser > 0 && c.UserUsage >= p.MaxUsagePerUser {
		return ineligible(ReasonUserCapReached)
	}
	if len(c.ServiceIDs) > 0 && !servicesApplicable(p, c.ServiceIDs) {
		return ineligible(ReasonServiceNotApplicable)
	}
	if c.UserOrderCount != nil {
		if p.NewUsersOnly && *c.UserOrderCount > 0 {
			return ineligible(ReasonNewUsersOnly)
		}
		if p.ExistingUsersOnly && *c.UserOrderCount == 0 {
			return ineligible(ReasonExistingUsersOnly)
		}
	}
	return Eligibility{Eligible: true}
}

func ineligible(r Reason) Eligibility {
	return Eligibility{Eligible: false, Reason: r}
}

func servicesApplicable(p Promo, serviceIDs []string) bool {
	for _, id := range serviceIDs {
		if slices.Contains(p.ExcludedServices, id) {
			return false
		}
	}
	if len(p.ApplicableServices) == 0 {
		return true
	}
	for _, id := range serviceIDs {
		if slices.Contains(p.ApplicableServices, id) {
			return true
		}
	}
	return false
}

// CountUserUsage counts history entries recorded for userID.
func CountUserUsage(history []Usage, userID string) int {
	if userID == "" {
		return 0
	}
	var n int
	for _, u := range history {
		if u.UserID == userID {
			n++
		}
	}
	return n
}

// CalculateDiscount computes the discount for orderAmount. It never exceeds the
// order amount and is never negative.
func CalculateDiscount(p Promo, orderAmount pricing.Money) pricing.Money {
	if orderAmount <= 0 {
		return 0
	}
	var discount pricing.Money
	switch p.DiscountType {
	case DiscountPercentage:
		discount = decimal.NewFromInt(orderAmount).
			Mul(decimal.NewFromInt(p.DiscountValue)).
			Div(decimal.NewFromInt(100)).
			Round(0).
			IntPart()
		if p.MaxDiscount != nil && discount > *p.MaxDiscount {
			discount = *p.MaxDiscount
		}
	case DiscountFixed:
		discount = p.DiscountValue
	}
	if discount > orderAmount {
		discount = orderAmount
	}
	if discount < 0 {
		return 0
	}
	return discount
}

// NormalizeCode upper-cases and trims a user supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
