package repo_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/noah-isme/backend-laundry/internal/events"
	"github.com/noah-isme/backend-laundry/internal/order"
	"github.com/noah-isme/backend-laundry/internal/pickup"
	"github.com/noah-isme/backend-laundry/internal/promo"
	"github.com/noah-isme/backend-laundry/internal/repo"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration tests skipped in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "laundry",
				"POSTGRES_PASSWORD": "laundry",
				"POSTGRES_DB":       "laundry",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://laundry:laundry@%s:%s/laundry?sslmode=disable", host, port.Port())

	m, err := repo.NewMigrator(dsn)
	require.NoError(t, err)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("migrate up: %v", err)
	}
	_, _ = m.Close()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresRepositories(t *testing.T) {
	pool := startPostgres(t)
	store := repo.NewPostgres(pool)
	ctx := context.Background()

	t.Run("concurrent redemption", func(t *testing.T) {
		one := 1
		p := seedPromo(t, store.Promos, &one, 0)

		_, err := store.Promos.Create(ctx, promo.Promo{
			ID: uuid.New(), Code: "SAVE50", Description: "duplicate", DiscountType: promo.DiscountFixed,
			ValidFrom: time.Now(), ValidUntil: time.Now().Add(time.Hour), CreatedAt: time.Now(), UpdatedAt: time.Now(),
		})
		require.ErrorIs(t, err, promo.ErrConflict)

		const workers = 6
		var wg sync.WaitGroup
		var mu sync.Mutex
		var redeemed, rejected int
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := store.Promos.ConditionalIncrementUsage(ctx, promo.Redemption{
					PromoID: p.ID, UserID: uuid.NewString(), OrderID: uuid.New(), Discount: 50_00, At: time.Now(),
				})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					redeemed++
				case errors.Is(err, promo.ErrCapacityExceeded):
					rejected++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		require.Equal(t, 1, redeemed)
		require.Equal(t, workers-1, rejected)

		stored, err := store.Promos.FindByCode(ctx, "save50")
		require.NoError(t, err)
		require.Equal(t, 1, stored.UsageCount)
		totals, err := store.Promos.UsageTotals(ctx, p.ID)
		require.NoError(t, err)
		require.Equal(t, 1, totals.Count)
		require.EqualValues(t, 50_00, totals.DiscountGiven)
	})

	t.Run("orders round trip", func(t *testing.T) {
		o := newOrder("u1", time.Now().UTC().Truncate(time.Microsecond))
		o.PaymentMethod = order.PaymentUPI
		o.PaymentStatus = order.PaymentPending
		order.Tracker{}.Initialize(&o, o.CreatedAt)

		created, err := store.Orders.Create(ctx, o)
		require.NoError(t, err)
		require.EqualValues(t, 413_00, created.Summary.Total)
		require.Len(t, created.Tracking, 6)

		dup := newOrder("u1", time.Now())
		dup.Number = o.Number
		dup.PaymentMethod = order.PaymentCOD
		dup.PaymentStatus = order.PaymentPending
		_, err = store.Orders.Create(ctx, dup)
		require.ErrorIs(t, err, order.ErrConflict)

		require.NoError(t, order.Tracker{}.Transition(&created, order.StatusConfirmed, time.Now()))
		created.Notes = append(created.Notes, order.Note{Message: "fragile", AddedBy: "admin", Timestamp: time.Now().UTC()})
		updated, err := store.Orders.Update(ctx, created)
		require.NoError(t, err)
		require.Equal(t, order.StatusConfirmed, updated.Status)
		require.Len(t, updated.Notes, 1)

		list, total, err := store.Orders.List(ctx, order.ListFilter{CustomerID: "u1", Page: 1, PerPage: 10})
		require.NoError(t, err)
		require.Equal(t, 1, total)
		require.Equal(t, o.ID, list[0].ID)

		_, err = store.Orders.FindByID(ctx, uuid.New())
		require.ErrorIs(t, err, order.ErrNotFound)
	})

	t.Run("pickups round trip", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Microsecond)
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
		created, err := store.Pickups.Create(ctx, newPickup("u7", day.Add(10*time.Hour), now))
		require.NoError(t, err)
		require.Equal(t, pickup.StatusRequested, created.Status)
		require.Equal(t, "560038", created.Address.Pincode)
		require.Len(t, created.EstimatedItems, 1)
		require.Empty(t, created.ActualItems)
		require.Nil(t, created.AssignedTo)

		staff := "staff-3"
		created.AssignedTo = &staff
		created.Status = pickup.StatusCompleted
		created.ActualItems = []pickup.ActualItem{{Type: "shirts", Quantity: 5, Condition: "good"}}
		done := now.Add(time.Hour)
		created.CompletedAt = &done
		updated, err := store.Pickups.Update(ctx, created)
		require.NoError(t, err)
		require.Equal(t, pickup.StatusCompleted, updated.Status)
		require.Equal(t, staff, *updated.AssignedTo)
		require.Equal(t, 5, updated.ActualItems[0].Quantity)
		require.True(t, done.Equal(*updated.CompletedAt))

		list, total, err := store.Pickups.List(ctx, pickup.ListFilter{Date: &day, AssignedTo: staff, Page: 1, PerPage: 10})
		require.NoError(t, err)
		require.Equal(t, 1, total)
		require.Equal(t, created.ID, list[0].ID)

		_, err = store.Pickups.FindByID(ctx, uuid.New())
		require.ErrorIs(t, err, pickup.ErrNotFound)
	})

	t.Run("events and user stats", func(t *testing.T) {
		bus := &events.Bus{Store: store.Events}
		_, err := bus.Emit(ctx, events.TopicOrderCreated, uuid.New(), map[string]any{"orderNumber": "ORD-1"})
		require.NoError(t, err)

		require.NoError(t, store.Users.IncrementOrderStats(ctx, "u9", 600_00, 60))
		require.NoError(t, store.Users.IncrementOrderStats(ctx, "u9", 400_00, 40))
		totals, err := store.Users.Totals(ctx, "u9")
		require.NoError(t, err)
		require.Equal(t, 2, totals.TotalOrders)
		require.EqualValues(t, 100, totals.LoyaltyPoints)
	})
}
