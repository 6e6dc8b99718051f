package order_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-laundry/internal/events"
	"github.com/noah-isme/backend-laundry/internal/lock"
	"github.com/noah-isme/backend-laundry/internal/order"
	"github.com/noah-isme/backend-laundry/internal/pricing"
	"github.com/noah-isme/backend-laundry/internal/promo"
	"github.com/noah-isme/backend-laundry/internal/repo"
	"github.com/noah-isme/backend-laundry/internal/user"
)

var fixedNow = time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)

type recordedOrder struct {
	userID string
	amount pricing.Money
}

type stubStats struct {
	mu    sync.Mutex
	calls []recordedOrder
	err   error
}

func (s *stubStats) RecordOrder(ctx context.Context, userID string, amount pricing.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, recordedOrder{userID: userID, amount: amount})
	return s.err
}

type fixture struct {
	mem    *repo.Memory
	svc    *order.Service
	promos *promo.Service
	stats  *stubStats
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mem := repo.NewMemory()
	bus := &events.Bus{Store: mem.Events, Now: func() time.Time { return fixedNow }}
	promos := &promo.Service{
		Repo:   mem.Promos,
		Events: bus,
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return fixedNow },
	}
	stats := &stubStats{}
	svc := &order.Service{
		Repo:    mem.Orders,
		Promos:  promos,
		Pricing: pricing.DefaultPolicy(),
		Locker:  &lock.Keyed{},
		Stats:   stats,
		Events:  bus,
		Logger:  zerolog.Nop(),
		Now:     func() time.Time { return fixedNow },
	}
	return fixture{mem: mem, svc: svc, promos: promos, stats: stats}
}

func (f fixture) seedPromo(t *testing.T, code string, maxUsage *int) promo.Promo {
	t.Helper()
	p, err := f.mem.Promos.Create(context.Background(), promo.Promo{
		ID:              uuid.New(),
		Code:            code,
		Description:     "20% off your order",
		DiscountType:    promo.DiscountPercentage,
		DiscountValue:   20,
		MinOrderAmount:  200_00,
		MaxUsage:        maxUsage,
		MaxUsagePerUser: 1,
		ValidFrom:       fixedNow.Add(-24 * time.Hour),
		ValidUntil:      fixedNow.Add(24 * time.Hour),
		Active:          true,
		CreatedAt:       fixedNow,
		UpdatedAt:       fixedNow,
	})
	require.NoError(t, err)
	return p
}

func strPtr(s string) *string { return &s }

func sampleInput(customer *string, unitPrice pricing.Money, code string) order.CreateInput {
	return order.CreateInput{
		CustomerID: customer,
		Customer: order.CustomerInfo{
			FirstName: "Asha",
			LastName:  "Rao",
			Email:     "asha@example.com",
			Phone:     "9876543210",
			Address:   order.Address{Street: "12 MG Road", Area: "Indiranagar", City: "Bengaluru", Pincode: "560038"},
		},
		Items:         []order.Item{{ServiceID: "wash-fold", ServiceName: "Wash & Fold", ItemName: "Shirts", Quantity: 1, UnitPrice: unitPrice}},
		Schedule:      order.Schedule{PickupDate: fixedNow.Add(24 * time.Hour), TimeSlot: "09:00-11:00"},
		PaymentMethod: order.PaymentUPI,
		PromoCode:     code,
	}
}

func TestCreateWithoutPromo(t *testing.T) {
	f := newFixture(t)
	placement, err := f.svc.Create(context.Background(), sampleInput(strPtr("u1"), 300_00, ""))
	require.NoError(t, err)

	o := placement.Order
	require.False(t, placement.PromoApplied)
	require.Equal(t, pricing.Summary{Subtotal: 300_00, DeliveryFee: 50_00, Tax: 63_00, Total: 413_00}, o.Summary)
	require.Equal(t, order.StatusPending, o.Status)
	require.Equal(t, order.PaymentPending, o.PaymentStatus)
	require.Regexp(t, `^ORD-\d{6}[A-Z0-9]{4}$`, o.Number)
	require.Len(t, o.Tracking, 6)
	require.Equal(t, []recordedOrder{{userID: "u1", amount: 413_00}}, f.stats.calls)

	evs := f.mem.Events.All()
	require.Len(t, evs, 1)
	require.Equal(t, events.TopicOrderCreated, evs[0].Topic)
	require.Equal(t, o.ID, evs[0].AggregateID)
}

func TestCreateWithPromoAppliesDiscount(t *testing.T) {
	f := newFixture(t)
	p := f.seedPromo(t, "FIRST20", nil)

	placement, err := f.svc.Create(context.Background(), sampleInput(strPtr("u1"), 450_00, "first20"))
	require.NoError(t, err)
	require.True(t, placement.PromoApplied)
	require.Equal(t, pricing.Summary{Subtotal: 450_00, DeliveryFee: 50_00, Tax: 90_00, Discount: 90_00, Total: 500_00}, placement.Order.Summary)
	require.Equal(t, "FIRST20", placement.Order.PromoCode)

	stored, err := f.mem.Promos.FindByID(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, 1, stored.UsageCount)

	stats, err := (&promo.Service{Repo: f.mem.Promos}).Stats(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, stats.RecentUsage, 1)
	require.Equal(t, placement.Order.ID, stats.RecentUsage[0].OrderID)
	require.EqualValues(t, 90_00, stats.TotalDiscountGiven)
}

func TestCreateNewUsersOnlyPromoUsesOrderHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	users := &user.Service{Store: f.mem.Users, Logger: zerolog.Nop()}
	f.promos.History = users
	f.svc.Stats = users

	p := f.seedPromo(t, "FIRST20", nil)
	p.NewUsersOnly = true
	_, err := f.mem.Promos.Update(ctx, p)
	require.NoError(t, err)

	placement, err := f.svc.Create(ctx, sampleInput(strPtr("new-user"), 450_00, "FIRST20"))
	require.NoError(t, err)
	require.True(t, placement.PromoApplied)
	require.Equal(t, pricing.Money(90_00), placement.Order.Summary.Discount)

	require.NoError(t, users.Apply(ctx, "regular", 300_00))
	_, err = f.svc.Create(ctx, sampleInput(strPtr("regular"), 450_00, "FIRST20"))
	var inel *promo.IneligibleError
	require.ErrorAs(t, err, &inel)
	require.Equal(t, promo.ReasonNewUsersOnly, inel.Reason)

	stored, err := f.mem.Promos.FindByID(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 1, stored.UsageCount)
}

func TestCreateRejectsIneligiblePromo(t *testing.T) {
	f := newFixture(t)
	f.seedPromo(t, "FIRST20", nil)

	_, err := f.svc.Create(context.Background(), sampleInput(strPtr("u1"), 150_00, "FIRST20"))
	var inel *promo.IneligibleError
	require.ErrorAs(t, err, &inel)
	require.Equal(t, promo.ReasonBelowMinimum, inel.Reason)

	list, total, err := f.mem.Orders.List(context.Background(), order.ListFilter{})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, list)
}

func TestCreateUnknownPromo(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), sampleInput(nil, 450_00, "NOPE"))
	require.ErrorIs(t, err, order.ErrPromoNotFound)
}

func TestCreateRejectsInvalidCart(t *testing.T) {
	f := newFixture(t)
	in := sampleInput(nil, 100_00, "")
	in.Items[0].Quantity = 0
	_, err := f.svc.Create(context.Background(), in)
	require.ErrorIs(t, err, pricing.ErrInvalidCart)
}

func TestCreateExpressCharge(t *testing.T) {
	f := newFixture(t)
	in := sampleInput(nil, 600_00, "")
	in.Schedule.Express = true
	placement, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, pricing.Summary{Subtotal: 600_00, ExpressCharge: 99_00, Tax: 108_00, Total: 807_00}, placement.Order.Summary)
	require.Nil(t, placement.Order.CustomerID)
	require.Empty(t, f.stats.calls)
}

// blockingPromos evaluates every order before any redemption happens so both
// orders see the last free slot.
type blockingPromos struct {
	order.Promos
	ready sync.WaitGroup
}

func (b *blockingPromos) Evaluate(ctx context.Context, code string, c promo.Check) (promo.Quote, error) {
	q, err := b.Promos.Evaluate(ctx, code, c)
	b.ready.Done()
	b.ready.Wait()
	return q, err
}

func TestCreateFallsBackWhenCapacityIsGone(t *testing.T) {
	f := newFixture(t)
	one := 1
	p := f.seedPromo(t, "LAST1", &one)
	gate := &blockingPromos{Promos: f.svc.Promos}
	gate.ready.Add(2)
	f.svc.Promos = gate

	var wg sync.WaitGroup
	placements := make([]order.Placement, 2)
	errs := make([]error, 2)
	for i, user := range []string{"u1", "u2"} {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			placements[i], errs[i] = f.svc.Create(context.Background(), sampleInput(strPtr(user), 450_00, "LAST1"))
		}(i, user)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	var applied, fallback int
	for _, pl := range placements {
		if pl.PromoApplied {
			applied++
			require.EqualValues(t, 500_00, pl.Order.Summary.Total)
			continue
		}
		fallback++
		require.ErrorIs(t, pl.PromoError, promo.ErrCapacityExceeded)
		require.Zero(t, pl.Order.Summary.Discount)
		require.EqualValues(t, 590_00, pl.Order.Summary.Total)
		require.Empty(t, pl.Order.PromoCode)

		stored, err := f.mem.Orders.FindByID(context.Background(), pl.Order.ID)
		require.NoError(t, err)
		require.EqualValues(t, 590_00, stored.Summary.Total)
	}
	require.Equal(t, 1, applied)
	require.Equal(t, 1, fallback)

	stored, err := f.mem.Promos.FindByID(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, 1, stored.UsageCount)
}

type conflictingRepo struct {
	order.Repository
	failures int
	numbers  []string
}

func (c *conflictingRepo) Create(ctx context.Context, o order.Order) (order.Order, error) {
	c.numbers = append(c.numbers, o.Number)
	if c.failures > 0 {
		c.failures--
		return order.Order{}, order.ErrConflict
	}
	return c.Repository.Create(ctx, o)
}

func TestCreateRetriesNumberCollisions(t *testing.T) {
	f := newFixture(t)
	stub := &conflictingRepo{Repository: f.mem.Orders, failures: 2}
	f.svc.Repo = stub
	placement, err := f.svc.Create(context.Background(), sampleInput(nil, 100_00, ""))
	require.NoError(t, err)
	require.Len(t, stub.numbers, 3)
	require.Equal(t, stub.numbers[2], placement.Order.Number)

	stub.failures = 3
	_, err = f.svc.Create(context.Background(), sampleInput(nil, 100_00, ""))
	require.ErrorIs(t, err, order.ErrConflict)
}

func TestCancelRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	placement, err := f.svc.Create(ctx, sampleInput(strPtr("u1"), 300_00, ""))
	require.NoError(t, err)
	id := placement.Order.ID

	_, err = f.svc.Cancel(ctx, id, order.Actor{UserID: "intruder"})
	require.ErrorIs(t, err, order.ErrNotFound)

	cancelled, err := f.svc.Cancel(ctx, id, order.Actor{UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, order.StatusCancelled, cancelled.Status)
	require.Equal(t, placement.Order.Tracking, cancelled.Tracking)

	_, err = f.svc.Cancel(ctx, id, order.Actor{UserID: "admin", Admin: true})
	require.ErrorIs(t, err, order.ErrAlreadyTerminal)

	evs := f.mem.Events.All()
	require.Equal(t, events.TopicOrderCancelled, evs[len(evs)-1].Topic)
}

func TestCancelDeliveredOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	placement, err := f.svc.Create(ctx, sampleInput(strPtr("u1"), 300_00, ""))
	require.NoError(t, err)
	admin := order.Actor{UserID: "staff", Admin: true}
	_, err = f.svc.SetStatus(ctx, placement.Order.ID, order.StatusDelivered, admin)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, placement.Order.ID, order.Actor{UserID: "u1"})
	require.ErrorIs(t, err, order.ErrAlreadyTerminal)
}

func TestSetStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	placement, err := f.svc.Create(ctx, sampleInput(strPtr("u1"), 300_00, ""))
	require.NoError(t, err)
	admin := order.Actor{UserID: "staff", Admin: true}

	_, err = f.svc.SetStatus(ctx, placement.Order.ID, order.Status("washing"), admin)
	require.ErrorIs(t, err, order.ErrInvalidStatus)

	updated, err := f.svc.SetStatus(ctx, placement.Order.ID, order.StatusPickedUp, admin)
	require.NoError(t, err)
	require.Equal(t, order.StatusPickedUp, updated.Status)
	require.True(t, updated.Tracking[2].Active)
	require.True(t, updated.Tracking[3].Next)

	_, err = f.svc.SetStatus(ctx, uuid.New(), order.StatusReady, admin)
	require.ErrorIs(t, err, order.ErrNotFound)

	evs := f.mem.Events.All()
	require.Equal(t, events.TopicOrderStatusChanged, evs[len(evs)-1].Topic)
}

func TestStrictSetStatus(t *testing.T) {
	f := newFixture(t)
	f.svc.Tracker = order.Tracker{Strict: true}
	ctx := context.Background()
	placement, err := f.svc.Create(ctx, sampleInput(strPtr("u1"), 300_00, ""))
	require.NoError(t, err)

	_, err = f.svc.SetStatus(ctx, placement.Order.ID, order.StatusDelivered, order.Actor{Admin: true})
	require.ErrorIs(t, err, order.ErrIllegalTransition)
}

func TestConcurrentStatusUpdatesAreSerialized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	placement, err := f.svc.Create(ctx, sampleInput(strPtr("u1"), 300_00, ""))
	require.NoError(t, err)
	admin := order.Actor{Admin: true}

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := order.StatusConfirmed
			if i%2 == 0 {
				status = order.StatusInProgress
			}
			_, err := f.svc.SetStatus(ctx, placement.Order.ID, status, admin)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	final, err := f.mem.Orders.FindByID(ctx, placement.Order.ID)
	require.NoError(t, err)
	var active int
	for _, step := range final.Tracking {
		if step.Active {
			active++
			require.Equal(t, final.Status, step.Status)
		}
	}
	require.Equal(t, 1, active)
}

func TestAddNoteAndReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	placement, err := f.svc.Create(ctx, sampleInput(strPtr("u1"), 300_00, ""))
	require.NoError(t, err)
	id := placement.Order.ID

	noted, err := f.svc.AddNote(ctx, id, "Handle silk with care", "staff")
	require.NoError(t, err)
	require.Len(t, noted.Notes, 1)
	require.Equal(t, "staff", noted.Notes[0].AddedBy)
	_, err = f.svc.AddNote(ctx, id, "  ", "staff")
	require.ErrorIs(t, err, order.ErrInvalidNote)

	_, err = f.svc.Review(ctx, id, 5, "Great", order.Actor{UserID: "u1"})
	require.ErrorIs(t, err, order.ErrNotReviewable)

	_, err = f.svc.SetStatus(ctx, id, order.StatusDelivered, order.Actor{Admin: true})
	require.NoError(t, err)
	_, err = f.svc.Review(ctx, id, 6, "", order.Actor{UserID: "u1"})
	require.ErrorIs(t, err, order.ErrInvalidRating)
	_, err = f.svc.Review(ctx, id, 4, "ok", order.Actor{UserID: "u2"})
	require.ErrorIs(t, err, order.ErrNotFound)

	reviewed, err := f.svc.Review(ctx, id, 4, " Crisp shirts ", order.Actor{UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, 4, *reviewed.Rating)
	require.Equal(t, "Crisp shirts", reviewed.Review)
	require.Len(t, reviewed.Notes, 1)
}

func TestListScopesToCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, user := range []string{"u1", "u1", "u2"} {
		_, err := f.svc.Create(ctx, sampleInput(strPtr(user), 300_00, ""))
		require.NoError(t, err)
	}
	mine, total, err := f.svc.List(ctx, order.ListFilter{}, order.Actor{UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, mine, 2)

	all, total, err := f.svc.List(ctx, order.ListFilter{CustomerID: "ignored"}, order.Actor{Admin: true})
	require.NoError(t, err)
	require.Equal(t, 0, total)
	require.Empty(t, all)

	all, total, err = f.svc.List(ctx, order.ListFilter{}, order.Actor{Admin: true})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, all, 3)
}
