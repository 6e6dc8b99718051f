package repo_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-laundry/internal/order"
	"github.com/noah-isme/backend-laundry/internal/pickup"
	"github.com/noah-isme/backend-laundry/internal/pricing"
	"github.com/noah-isme/backend-laundry/internal/promo"
	"github.com/noah-isme/backend-laundry/internal/repo"
)

func seedPromo(t *testing.T, store promo.Repository, maxUsage *int, perUser int) promo.Promo {
	t.Helper()
	now := time.Now().UTC()
	p, err := store.Create(context.Background(), promo.Promo{
		ID:              uuid.New(),
		Code:            "save50",
		Description:     "Flat fifty off",
		DiscountType:    promo.DiscountFixed,
		DiscountValue:   50_00,
		MaxUsage:        maxUsage,
		MaxUsagePerUser: perUser,
		ValidFrom:       now.Add(-time.Hour),
		ValidUntil:      now.Add(time.Hour),
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	require.NoError(t, err)
	return p
}

func TestMemoryPromosConcurrentRedemptionRespectsCap(t *testing.T) {
	mem := repo.NewMemory()
	one := 1
	p := seedPromo(t, mem.Promos, &one, 0)

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- mem.Promos.ConditionalIncrementUsage(context.Background(), promo.Redemption{
				PromoID: p.ID, OrderID: uuid.New(), Discount: 50_00, At: time.Now(),
			})
		}()
	}
	wg.Wait()
	close(results)

	var redeemed, rejected int
	for err := range results {
		switch {
		case err == nil:
			redeemed++
		case errors.Is(err, promo.ErrCapacityExceeded):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, redeemed)
	require.Equal(t, workers-1, rejected)

	stored, err := mem.Promos.FindByID(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, 1, stored.UsageCount)
	totals, err := mem.Promos.UsageTotals(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, stored.UsageCount, totals.Count)
}

func TestMemoryPromosPerUserCap(t *testing.T) {
	mem := repo.NewMemory()
	p := seedPromo(t, mem.Promos, nil, 1)
	ctx := context.Background()

	require.NoError(t, mem.Promos.ConditionalIncrementUsage(ctx, promo.Redemption{PromoID: p.ID, UserID: "u1", OrderID: uuid.New()}))
	err := mem.Promos.ConditionalIncrementUsage(ctx, promo.Redemption{PromoID: p.ID, UserID: "u1", OrderID: uuid.New()})
	var capErr *promo.CapacityError
	require.ErrorAs(t, err, &capErr)
	require.Equal(t, promo.ReasonUserCapReached, capErr.Reason)

	require.NoError(t, mem.Promos.ConditionalIncrementUsage(ctx, promo.Redemption{PromoID: p.ID, UserID: "u2", OrderID: uuid.New()}))
	require.NoError(t, mem.Promos.ConditionalIncrementUsage(ctx, promo.Redemption{PromoID: p.ID, OrderID: uuid.New()}))
	require.NoError(t, mem.Promos.ConditionalIncrementUsage(ctx, promo.Redemption{PromoID: p.ID, OrderID: uuid.New()}))

	err = mem.Promos.ConditionalIncrementUsage(ctx, promo.Redemption{PromoID: uuid.New()})
	require.ErrorIs(t, err, promo.ErrNotFound)
}

func TestMemoryPromosCodeIsUnique(t *testing.T) {
	mem := repo.NewMemory()
	seedPromo(t, mem.Promos, nil, 1)
	_, err := mem.Promos.Create(context.Background(), promo.Promo{ID: uuid.New(), Code: "SAVE50"})
	require.ErrorIs(t, err, promo.ErrConflict)

	found, err := mem.Promos.FindByCode(context.Background(), " save50 ")
	require.NoError(t, err)
	require.Equal(t, "SAVE50", found.Code)
}

func TestMemoryPromosRecentUsageNewestFirst(t *testing.T) {
	mem := repo.NewMemory()
	p := seedPromo(t, mem.Promos, nil, 0)
	ctx := context.Background()
	var orders []uuid.UUID
	for i := 0; i < 12; i++ {
		id := uuid.New()
		orders = append(orders, id)
		require.NoError(t, mem.Promos.ConditionalIncrementUsage(ctx, promo.Redemption{PromoID: p.ID, OrderID: id}))
	}
	recent, err := mem.Promos.RecentUsage(ctx, p.ID, 10)
	require.NoError(t, err)
	require.Len(t, recent, 10)
	require.Equal(t, orders[11], recent[0].OrderID)
	require.Equal(t, orders[2], recent[9].OrderID)
}

func newOrder(customer string, created time.Time) order.Order {
	c := customer
	return order.Order{
		ID:         uuid.New(),
		Number:     order.NewNumber(created),
		CustomerID: &c,
		Items:      []order.Item{{ServiceID: "wash-fold", Quantity: 1, UnitPrice: 300_00}},
		Summary:    pricing.Summary{Subtotal: 300_00, DeliveryFee: 50_00, Tax: 63_00, Total: 1},
		Status:     order.StatusPending,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func TestMemoryOrdersRoundTrip(t *testing.T) {
	mem := repo.NewMemory()
	ctx := context.Background()
	o := newOrder("u1", time.Now())

	created, err := mem.Orders.Create(ctx, o)
	require.NoError(t, err)
	require.EqualValues(t, 413_00, created.Summary.Total)

	dup := newOrder("u2", time.Now())
	dup.Number = o.Number
	_, err = mem.Orders.Create(ctx, dup)
	require.ErrorIs(t, err, order.ErrConflict)

	created.Items[0].Quantity = 99
	loaded, err := mem.Orders.FindByID(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Items[0].Quantity)

	loaded.Status = order.StatusConfirmed
	loaded.Number = "ORD-CHANGED"
	updated, err := mem.Orders.Update(ctx, loaded)
	require.NoError(t, err)
	require.Equal(t, order.StatusConfirmed, updated.Status)
	require.Equal(t, o.Number, updated.Number)

	_, err = mem.Orders.FindByID(ctx, uuid.New())
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestMemoryOrdersListFiltersAndPaginates(t *testing.T) {
	mem := repo.NewMemory()
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		_, err := mem.Orders.Create(ctx, newOrder("u1", base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	other := newOrder("u2", base)
	other.Status = order.StatusDelivered
	_, err := mem.Orders.Create(ctx, other)
	require.NoError(t, err)

	page, total, err := mem.Orders.List(ctx, order.ListFilter{CustomerID: "u1", Page: 1, PerPage: 2})
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, page, 2)
	require.True(t, page[0].CreatedAt.After(page[1].CreatedAt))

	last, _, err := mem.Orders.List(ctx, order.ListFilter{CustomerID: "u1", Page: 3, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, last, 1)

	delivered := order.StatusDelivered
	all, total, err := mem.Orders.List(ctx, order.ListFilter{Status: &delivered, Page: 1, PerPage: 10})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, other.ID, all[0].ID)
}

func newPickup(customer string, date, created time.Time) pickup.Pickup {
	return pickup.Pickup{
		ID:             uuid.New(),
		CustomerID:     customer,
		Address:        order.Address{Street: "12 MG Road", Area: "Indiranagar", City: "Bengaluru", Pincode: "560038"},
		Date:           date,
		TimeSlot:       pickup.TimeSlot{Label: "Morning", From: "09:00", To: "11:00"},
		Status:         pickup.StatusRequested,
		EstimatedItems: []pickup.EstimatedItem{{Type: "shirts", Quantity: 4}},
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

func TestMemoryPickupsFilters(t *testing.T) {
	mem := repo.NewMemory()
	ctx := context.Background()
	day := time.Date(2024, 7, 2, 0, 0, 0, 0, time.UTC)
	base := time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)

	morning, err := mem.Pickups.Create(ctx, newPickup("u1", day.Add(9*time.Hour), base))
	require.NoError(t, err)
	nextDay, err := mem.Pickups.Create(ctx, newPickup("u1", day.Add(24*time.Hour), base.Add(time.Minute)))
	require.NoError(t, err)
	assigned := newPickup("u2", day.Add(15*time.Hour), base.Add(2*time.Minute))
	staff := "staff-7"
	assigned.AssignedTo = &staff
	assigned.Status = pickup.StatusConfirmed
	_, err = mem.Pickups.Create(ctx, assigned)
	require.NoError(t, err)

	mine, total, err := mem.Pickups.List(ctx, pickup.ListFilter{CustomerID: "u1", Page: 1, PerPage: 10})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Equal(t, nextDay.ID, mine[0].ID)

	onDay, total, err := mem.Pickups.List(ctx, pickup.ListFilter{Date: &day, Page: 1, PerPage: 10})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Equal(t, assigned.ID, onDay[0].ID)
	require.Equal(t, morning.ID, onDay[1].ID)

	byStaff, total, err := mem.Pickups.List(ctx, pickup.ListFilter{AssignedTo: staff, Page: 1, PerPage: 10})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, assigned.ID, byStaff[0].ID)

	requested := pickup.StatusRequested
	_, total, err = mem.Pickups.List(ctx, pickup.ListFilter{Status: &requested, Page: 1, PerPage: 10})
	require.NoError(t, err)
	require.Equal(t, 2, total)

	byStaff[0].CustomerID = "someone-else"
	updated, err := mem.Pickups.Update(ctx, byStaff[0])
	require.NoError(t, err)
	require.Equal(t, "u2", updated.CustomerID)

	_, err = mem.Pickups.FindByID(ctx, uuid.New())
	require.ErrorIs(t, err, pickup.ErrNotFound)
}

func TestMemoryUsersAccumulate(t *testing.T) {
	mem := repo.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.Users.IncrementOrderStats(ctx, "u1", 500_00, 50))
	require.NoError(t, mem.Users.IncrementOrderStats(ctx, "u1", 250_00, 25))
	totals, err := mem.Users.Totals(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 2, totals.TotalOrders)
	require.EqualValues(t, 750_00, totals.TotalSpent)
	require.EqualValues(t, 75, totals.LoyaltyPoints)

	empty, err := mem.Users.Totals(ctx, "nobody")
	require.NoError(t, err)
	require.Zero(t, empty.TotalOrders)
}
