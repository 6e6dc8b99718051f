package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/noah-isme/backend-laundry/internal/events"
	"github.com/noah-isme/backend-laundry/internal/pricing"
	"github.com/noah-isme/backend-laundry/internal/user"
)

const uniqueViolation = "23505"

// DB is the subset of *pgxpool.Pool used by the Postgres repositories.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres bundles the pgx backed stores.
type Postgres struct {
	Orders  *PostgresOrders
	Pickups *PostgresPickups
	Promos  *PostgresPromos
	Events  *PostgresEvents
	Users   *PostgresUsers
}

// NewPostgres wires every store to db.
func NewPostgres(db DB) *Postgres {
	return &Postgres{
		Orders:  &PostgresOrders{DB: db},
		Pickups: &PostgresPickups{DB: db},
		Promos:  &PostgresPromos{DB: db},
		Events:  &PostgresEvents{DB: db},
		Users:   &PostgresUsers{DB: db},
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// where accumulates positional filter clauses.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// page appends LIMIT/OFFSET placeholders and returns the SQL suffix with its args.
func (w *where) page(page, perPage int) (string, []any) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 10
	}
	args := append(append([]any{}, w.args...), perPage, (page-1)*perPage)
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(w.args)+1, len(w.args)+2), args
}

const insertEventQuery = `
	INSERT INTO domain_events (id, topic, aggregate_id, payload, occurred_at)
	VALUES ($1, $2, $3, $4, $5)
`

// PostgresEvents implements events.EventStore.
type PostgresEvents struct {
	DB DB
}

func (s *PostgresEvents) InsertEvent(ctx context.Context, ev events.Event) error {
	if _, err := s.DB.Exec(ctx, insertEventQuery, ev.ID, ev.Topic, ev.AggregateID, []byte(ev.Payload), ev.OccurredAt); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

const (
	incrementUserStatsQuery = `
	INSERT INTO user_order_stats (user_id, total_orders, total_spent, loyalty_points, updated_at)
	VALUES ($1, 1, $2, $3, $4)
	ON CONFLICT (user_id) DO UPDATE SET
		total_orders   = user_order_stats.total_orders + 1,
		total_spent    = user_order_stats.total_spent + EXCLUDED.total_spent,
		loyalty_points = user_order_stats.loyalty_points + EXCLUDED.loyalty_points,
		updated_at     = EXCLUDED.updated_at
`
	selectUserStatsQuery = `
	SELECT total_orders, total_spent, loyalty_points FROM user_order_stats WHERE user_id = $1
`
)

// PostgresUsers implements user.Store.
type PostgresUsers struct {
	DB DB
}

func (s *PostgresUsers) IncrementOrderStats(ctx context.Context, userID string, amount pricing.Money, points int64) error {
	_, err := s.DB.Exec(ctx, incrementUserStatsQuery, userID, amount, points, time.Now().UTC())
	return err
}

func (s *PostgresUsers) Totals(ctx context.Context, userID string) (user.Totals, error) {
	var t user.Totals
	err := s.DB.QueryRow(ctx, selectUserStatsQuery, userID).Scan(&t.TotalOrders, &t.TotalSpent, &t.LoyaltyPoints)
	if errors.Is(err, pgx.ErrNoRows) {
		return user.Totals{}, nil
	}
	return t, err
}
