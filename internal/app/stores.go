package app

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-laundry/internal/events"
	"github.com/noah-isme/backend-laundry/internal/health"
	"github.com/noah-isme/backend-laundry/internal/lock"
	"github.com/noah-isme/backend-laundry/internal/order"
	"github.com/noah-isme/backend-laundry/internal/pickup"
	"github.com/noah-isme/backend-laundry/internal/promo"
	"github.com/noah-isme/backend-laundry/internal/repo"
	"github.com/noah-isme/backend-laundry/internal/user"
)

// Stores groups the repositories selected by STORAGE_DRIVER.
type Stores struct {
	Orders  order.Repository
	Pickups pickup.Repository
	Promos  promo.Repository
	Events  events.EventStore
	Users   user.Store
}

// NewStores returns Postgres-backed stores when pool is set and in-memory ones otherwise.
func NewStores(pool *pgxpool.Pool) Stores {
	if pool == nil {
		mem := repo.NewMemory()
		return Stores{Orders: mem.Orders, Pickups: mem.Pickups, Promos: mem.Promos, Events: mem.Events, Users: mem.Users}
	}
	pg := repo.NewPostgres(pool)
	return Stores{Orders: pg.Orders, Pickups: pg.Pickups, Promos: pg.Promos, Events: pg.Events, Users: pg.Users}
}

// NewLocker picks the Redis lock when available and an in-process keyed lock otherwise.
func NewLocker(rdb *redis.Client, retry time.Duration) order.Locker {
	if rdb == nil {
		return &lock.Keyed{}
	}
	return lock.Locker{R: rdb, RetryBackoff: retry}
}

// Probes builds readiness checks for the configured backends.
func Probes(pool *pgxpool.Pool, rdb *redis.Client) []health.Probe {
	var probes []health.Probe
	if pool != nil {
		probes = append(probes, health.Probe{Name: "db", Timeout: 500 * time.Millisecond, Check: pool.Ping})
	}
	if rdb != nil {
		probes = append(probes, health.Probe{Name: "redis", Timeout: 300 * time.Millisecond, Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	return probes
}

// ErrRedisRequired is returned by components that cannot run without Redis.
var ErrRedisRequired = errors.New("app: REDIS_URL is required")
