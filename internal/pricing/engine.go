package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value stored in minor units (paise).
type Money = int64

// ErrInvalidCart is returned when the line items cannot be priced.
var ErrInvalidCart = errors.New("pricing: invalid cart")

var (
	hundred  = decimal.NewFromInt(100)
	maxMoney = decimal.NewFromInt(math.MaxInt64)

	// defaultTaxRate is GST applied to services plus delivery.
	defaultTaxRate = decimal.RequireFromString("0.18")
)

// Item describes a line item used for pricing calculation.
type Item struct {
	Qty       int
	UnitPrice Money
}

// Summary aggregates computed pricing components.
type Summary struct {
	Subtotal      Money `json:"subtotal"`
	DeliveryFee   Money `json:"deliveryFee"`
	ExpressCharge Money `json:"expressCharge"`
	Tax           Money `json:"tax"`
	Discount      Money `json:"discount"`
	Total         Money `json:"total"`
}

// Policy carries the business rules used to price an order.
type Policy struct {
	FreeDeliveryAbove Money
	DeliveryFee       Money
	ExpressCharge     Money
	TaxRate           decimal.Decimal
}

// DefaultPolicy returns free delivery above ₹500, a ₹50 fee otherwise, 18% tax
// and a ₹99 express surcharge.
func DefaultPolicy() Policy {
	return Policy{
		FreeDeliveryAbove: 500_00,
		DeliveryFee:       50_00,
		ExpressCharge:     99_00,
		TaxRate:           defaultTaxRate,
	}
}

// Compute calculates order totals given the provided inputs.
func (p Policy) Compute(items []Item, discount, express Money) (Summary, error) {
	if len(items) == 0 {
		return Summary{}, fmt.Errorf("%w: at least one item is required", ErrInvalidCart)
	}
	var subtotal Money
	for i, it := range items {
		if it.Qty < 1 {
			return Summary{}, fmt.Errorf("%w: item %d quantity must be at least 1", ErrInvalidCart, i)
		}
		if it.UnitPrice < 0 {
			return Summary{}, fmt.Errorf("%w: item %d unit price must not be negative", ErrInvalidCart, i)
		}
		line, ok := mul(Money(it.Qty), it.UnitPrice)
		if !ok {
			return Summary{}, fmt.Errorf("%w: item %d amount is out of range", ErrInvalidCart, i)
		}
		if subtotal, ok = add(subtotal, line); !ok {
			return Summary{}, fmt.Errorf("%w: subtotal is out of range", ErrInvalidCart)
		}
	}
	if discount < 0 || express < 0 {
		return Summary{}, fmt.Errorf("%w: adjustments must not be negative", ErrInvalidCart)
	}
	fee := p.DeliveryFee
	if subtotal > p.FreeDeliveryAbove {
		fee = 0
	}
	base, ok := add(subtotal, fee)
	if !ok {
		return Summary{}, fmt.Errorf("%w: subtotal is out of range", ErrInvalidCart)
	}
	tax, ok := p.tax(base)
	if !ok {
		return Summary{}, fmt.Errorf("%w: tax is out of range", ErrInvalidCart)
	}
	gross, ok := add(base, express)
	if ok {
		_, ok = add(gross, tax)
	}
	if !ok {
		return Summary{}, fmt.Errorf("%w: total is out of range", ErrInvalidCart)
	}
	s := Summary{
		Subtotal:      subtotal,
		DeliveryFee:   fee,
		ExpressCharge: express,
		Tax:           tax,
		Discount:      discount,
	}
	return s.Recompute(), nil
}

// mul and add report false when the non-negative result would not fit in Money.
func mul(a, b Money) (Money, bool) {
	if a != 0 && b > math.MaxInt64/a {
		return 0, false
	}
	return a * b, true
}

func add(a, b Money) (Money, bool) {
	if b > math.MaxInt64-a {
		return 0, false
	}
	return a + b, true
}

// Tax applies the policy rate to base and rounds half-up to whole rupees.
// Amounts whose tax does not fit in Money yield zero; Compute rejects them.
func (p Policy) Tax(base Money) Money {
	tax, _ := p.tax(base)
	return tax
}

func (p Policy) tax(base Money) (Money, bool) {
	rate := p.TaxRate
	if rate.IsZero() {
		return 0, true
	}
	paise := decimal.NewFromInt(base).Mul(rate).Div(hundred).Round(0).Mul(hundred)
	if paise.GreaterThan(maxMoney) || paise.IsNegative() {
		return 0, false
	}
	return paise.IntPart(), true
}

// Recompute derives Total from the other components, clamping at zero.
func (s Summary) Recompute() Summary {
	total := s.Subtotal + s.DeliveryFee + s.ExpressCharge + s.Tax - s.Discount
	if total < 0 {
		total = 0
	}
	s.Total = total
	return s
}

// WithDiscount replaces the discount component and re-derives the total.
func (s Summary) WithDiscount(discount Money) Summary {
	if discount < 0 {
		discount = 0
	}
	s.Discount = discount
	return s.Recompute()
}

// Rupees formats an amount for user-facing messages, e.g. 30000 -> "300".
func Rupees(m Money) string {
	return decimal.New(m, -2).String()
}
