package pricing_test

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-laundry/internal/pricing"
)

func TestComputeFreeDeliveryAboveThreshold(t *testing.T) {
	s, err := pricing.DefaultPolicy().Compute([]pricing.Item{{Qty: 2, UnitPrice: 500_00}}, 0, 0)
	require.NoError(t, err)
	require.Equal(t, pricing.Money(1000_00), s.Subtotal)
	require.Zero(t, s.DeliveryFee)
	require.Equal(t, pricing.Money(180_00), s.Tax)
	require.Equal(t, pricing.Money(1180_00), s.Total)
}

func TestComputeDeliveryFeeBoundary(t *testing.T) {
	policy := pricing.DefaultPolicy()

	atThreshold, err := policy.Compute([]pricing.Item{{Qty: 1, UnitPrice: 500_00}}, 0, 0)
	require.NoError(t, err)
	require.Equal(t, pricing.Money(50_00), atThreshold.DeliveryFee)
	require.Equal(t, pricing.Money(99_00), atThreshold.Tax)
	require.Equal(t, pricing.Money(649_00), atThreshold.Total)

	justAbove, err := policy.Compute([]pricing.Item{{Qty: 1, UnitPrice: 500_01}}, 0, 0)
	require.NoError(t, err)
	require.Zero(t, justAbove.DeliveryFee)
}

func TestComputeTaxRoundsHalfUp(t *testing.T) {
	// 25 + 50 delivery = 75 -> 13.5 tax -> 14
	s, err := pricing.DefaultPolicy().Compute([]pricing.Item{{Qty: 1, UnitPrice: 25_00}}, 0, 0)
	require.NoError(t, err)
	require.Equal(t, pricing.Money(14_00), s.Tax)

	// 10 + 50 = 60 -> 10.8 -> 11
	s, err = pricing.DefaultPolicy().Compute([]pricing.Item{{Qty: 1, UnitPrice: 10_00}}, 0, 0)
	require.NoError(t, err)
	require.Equal(t, pricing.Money(11_00), s.Tax)
}

func TestComputeDiscountAndExpress(t *testing.T) {
	s, err := pricing.DefaultPolicy().Compute([]pricing.Item{{Qty: 3, UnitPrice: 150_00}}, 90_00, 99_00)
	require.NoError(t, err)
	require.Equal(t, pricing.Money(450_00), s.Subtotal)
	require.Equal(t, pricing.Money(50_00), s.DeliveryFee)
	require.Equal(t, pricing.Money(90_00), s.Tax)
	require.Equal(t, pricing.Money(99_00), s.ExpressCharge)
	require.Equal(t, pricing.Money(599_00), s.Total)
}

func TestComputeClampsTotalAtZero(t *testing.T) {
	s, err := pricing.DefaultPolicy().Compute([]pricing.Item{{Qty: 1, UnitPrice: 0}}, 1000_00, 0)
	require.NoError(t, err)
	require.Zero(t, s.Total)
}

func TestComputeRejectsInvalidCart(t *testing.T) {
	policy := pricing.DefaultPolicy()
	cases := map[string][]pricing.Item{
		"empty":          nil,
		"zero quantity":  {{Qty: 0, UnitPrice: 10_00}},
		"negative price": {{Qty: 1, UnitPrice: -1}},
	}
	for name, items := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := policy.Compute(items, 0, 0)
			require.ErrorIs(t, err, pricing.ErrInvalidCart)
		})
	}
}

func TestWithDiscountRecomputesTotal(t *testing.T) {
	s, err := pricing.DefaultPolicy().Compute([]pricing.Item{{Qty: 1, UnitPrice: 450_00}}, 90_00, 0)
	require.NoError(t, err)
	require.Equal(t, pricing.Money(500_00), s.Total)

	cleared := s.WithDiscount(0)
	require.Equal(t, pricing.Money(590_00), cleared.Total)

	tampered := s
	tampered.Total = 1
	require.Equal(t, s.Total, tampered.Recompute().Total)
}

func TestZeroTaxRatePolicy(t *testing.T) {
	policy := pricing.Policy{FreeDeliveryAbove: 100_00, DeliveryFee: 20_00, TaxRate: decimal.Zero}
	s, err := policy.Compute([]pricing.Item{{Qty: 1, UnitPrice: 50_00}}, 0, 0)
	require.NoError(t, err)
	require.Zero(t, s.Tax)
	require.Equal(t, pricing.Money(70_00), s.Total)
}

func TestRupees(t *testing.T) {
	require.Equal(t, "300", pricing.Rupees(300_00))
	require.Equal(t, "12.5", pricing.Rupees(12_50))
}

func TestComputeRejectsOverflow(t *testing.T) {
	policy := pricing.DefaultPolicy()
	const maxMoney = pricing.Money(math.MaxInt64)

	_, err := policy.Compute([]pricing.Item{{Qty: 2, UnitPrice: maxMoney/2 + 1}}, 0, 0)
	require.ErrorIs(t, err, pricing.ErrInvalidCart)

	_, err = policy.Compute([]pricing.Item{{Qty: 1, UnitPrice: maxMoney}, {Qty: 1, UnitPrice: 1}}, 0, 0)
	require.ErrorIs(t, err, pricing.ErrInvalidCart)

	// fits as a subtotal but the tax and total push it out of range
	_, err = policy.Compute([]pricing.Item{{Qty: 1, UnitPrice: maxMoney - 10}}, 0, 0)
	require.ErrorIs(t, err, pricing.ErrInvalidCart)

	_, err = policy.Compute([]pricing.Item{{Qty: 1, UnitPrice: 1000_00}}, 0, maxMoney)
	require.ErrorIs(t, err, pricing.ErrInvalidCart)
}
