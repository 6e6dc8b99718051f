package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-laundry/internal/promo"
)

const promoColumns = `
	id, code, description, discount_type, discount_value, max_discount, min_order_amount,
	max_usage, usage_count, max_usage_per_user, valid_from, valid_until, is_active,
	applicable_services, excluded_services, new_users_only, existing_users_only, created_at, updated_at
`

const (
	selectPromoByCodeQuery = `SELECT ` + promoColumns + ` FROM promo_codes WHERE code = $1`
	selectPromoByIDQuery   = `SELECT ` + promoColumns + ` FROM promo_codes WHERE id = $1`

	insertPromoQuery = `
	INSERT INTO promo_codes (
		id, code, description, discount_type, discount_value, max_discount, min_order_amount,
		max_usage, usage_count, max_usage_per_user, valid_from, valid_until, is_active,
		applicable_services, excluded_services, new_users_only, existing_users_only, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	RETURNING ` + promoColumns

	updatePromoQuery = `
	UPDATE promo_codes SET
		description = $2, discount_type = $3, discount_value = $4, max_discount = $5,
		min_order_amount = $6, max_usage = $7, max_usage_per_user = $8,
		valid_from = $9, valid_until = $10, is_active = $11,
		applicable_services = $12, excluded_services = $13,
		new_users_only = $14, existing_users_only = $15, updated_at = $16
	WHERE id = $1
	RETURNING ` + promoColumns

	countUserUsageQuery = `SELECT count(*) FROM promo_usages WHERE promo_id = $1 AND user_id = $2`

	lockPromoQuery = `
	SELECT max_usage, usage_count, max_usage_per_user FROM promo_codes WHERE id = $1 FOR UPDATE
`
	insertUsageQuery = `
	INSERT INTO promo_usages (promo_id, user_id, order_id, discount_applied, used_at)
	VALUES ($1, NULLIF($2, ''), $3, $4, $5)
`
	incrementUsageQuery = `
	UPDATE promo_codes SET usage_count = usage_count + 1, updated_at = $2 WHERE id = $1
`
	recentUsageQuery = `
	SELECT promo_id, COALESCE(user_id, ''), order_id, discount_applied, used_at
	FROM promo_usages WHERE promo_id = $1
	ORDER BY used_at DESC, id DESC
	LIMIT $2
`
	usageTotalsQuery = `
	SELECT count(*), COALESCE(sum(discount_applied), 0), count(DISTINCT user_id)
	FROM promo_usages WHERE promo_id = $1
`
)

// PostgresPromos implements promo.Repository.
type PostgresPromos struct {
	DB DB
}

func (s *PostgresPromos) FindByCode(ctx context.Context, code string) (promo.Promo, error) {
	return s.findOne(ctx, selectPromoByCodeQuery, promo.NormalizeCode(code))
}

func (s *PostgresPromos) FindByID(ctx context.Context, id uuid.UUID) (promo.Promo, error) {
	return s.findOne(ctx, selectPromoByIDQuery, id)
}

func (s *PostgresPromos) findOne(ctx context.Context, query string, arg any) (promo.Promo, error) {
	p, err := scanPromo(s.DB.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return promo.Promo{}, promo.ErrNotFound
	}
	return p, err
}

func (s *PostgresPromos) List(ctx context.Context, filter promo.ListFilter) ([]promo.Promo, int, error) {
	var w where
	if filter.Active != nil {
		w.add("is_active = $%d", *filter.Active)
	}
	var total int
	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM promo_codes`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count promos: %w", err)
	}
	suffix, args := w.page(filter.Page, filter.PerPage)
	rows, err := s.DB.Query(ctx, `SELECT `+promoColumns+` FROM promo_codes`+w.String()+` ORDER BY created_at DESC`+suffix, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list promos: %w", err)
	}
	defer rows.Close()
	out := make([]promo.Promo, 0)
	for rows.Next() {
		p, err := scanPromo(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *PostgresPromos) Create(ctx context.Context, p promo.Promo) (promo.Promo, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	row := s.DB.QueryRow(ctx, insertPromoQuery,
		p.ID, promo.NormalizeCode(p.Code), p.Description, string(p.DiscountType), p.DiscountValue, p.MaxDiscount, p.MinOrderAmount,
		p.MaxUsage, p.MaxUsagePerUser, p.ValidFrom, p.ValidUntil, p.Active,
		nonNil(p.ApplicableServices), nonNil(p.ExcludedServices), p.NewUsersOnly, p.ExistingUsersOnly, p.CreatedAt, p.UpdatedAt,
	)
	created, err := scanPromo(row)
	if err != nil {
		if isUniqueViolation(err) {
			return promo.Promo{}, promo.ErrConflict
		}
		return promo.Promo{}, err
	}
	return created, nil
}

func (s *PostgresPromos) Update(ctx context.Context, p promo.Promo) (promo.Promo, error) {
	row := s.DB.QueryRow(ctx, updatePromoQuery,
		p.ID, p.Description, string(p.DiscountType), p.DiscountValue, p.MaxDiscount,
		p.MinOrderAmount, p.MaxUsage, p.MaxUsagePerUser,
		p.ValidFrom, p.ValidUntil, p.Active,
		nonNil(p.ApplicableServices), nonNil(p.ExcludedServices),
		p.NewUsersOnly, p.ExistingUsersOnly, p.UpdatedAt,
	)
	updated, err := scanPromo(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return promo.Promo{}, promo.ErrNotFound
	}
	return updated, err
}

func (s *PostgresPromos) CountUserUsage(ctx context.Context, promoID uuid.UUID, userID string) (int, error) {
	if userID == "" {
		return 0, nil
	}
	var n int
	err := s.DB.QueryRow(ctx, countUserUsageQuery, promoID, userID).Scan(&n)
	return n, err
}

// ConditionalIncrementUsage locks the promo row, re-checks both caps and
// records the usage in one transaction.
func (s *PostgresPromos) ConditionalIncrementUsage(ctx context.Context, r promo.Redemption) (err error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin redemption: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var (
		maxUsage   *int
		usageCount int
		perUser    int
	)
	if err = tx.QueryRow(ctx, lockPromoQuery, r.PromoID).Scan(&maxUsage, &usageCount, &perUser); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return promo.ErrNotFound
		}
		return fmt.Errorf("lock promo: %w", err)
	}
	if maxUsage != nil && usageCount >= *maxUsage {
		return &promo.CapacityError{Reason: promo.ReasonUsageCapReached}
	}
	if r.UserID != "" && perUser > 0 {
		var used int
		if err = tx.QueryRow(ctx, countUserUsageQuery, r.PromoID, r.UserID).Scan(&used); err != nil {
			return fmt.Errorf("count user usage: %w", err)
		}
		if used >= perUser {
			return &promo.CapacityError{Reason: promo.ReasonUserCapReached}
		}
	}
	if _, err = tx.Exec(ctx, insertUsageQuery, r.PromoID, r.UserID, r.OrderID, r.Discount, r.At); err != nil {
		return fmt.Errorf("insert usage: %w", err)
	}
	if _, err = tx.Exec(ctx, incrementUsageQuery, r.PromoID, r.At); err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit redemption: %w", err)
	}
	return nil
}

func (s *PostgresPromos) RecentUsage(ctx context.Context, promoID uuid.UUID, limit int) ([]promo.Usage, error) {
	rows, err := s.DB.Query(ctx, recentUsageQuery, promoID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent usage: %w", err)
	}
	defer rows.Close()
	out := make([]promo.Usage, 0, limit)
	for rows.Next() {
		var u promo.Usage
		if err := rows.Scan(&u.PromoID, &u.UserID, &u.OrderID, &u.DiscountApplied, &u.UsedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PostgresPromos) UsageTotals(ctx context.Context, promoID uuid.UUID) (promo.UsageTotals, error) {
	var t promo.UsageTotals
	err := s.DB.QueryRow(ctx, usageTotalsQuery, promoID).Scan(&t.Count, &t.DiscountGiven, &t.UniqueUsers)
	return t, err
}

func scanPromo(row pgx.Row) (promo.Promo, error) {
	var (
		p            promo.Promo
		discountType string
	)
	err := row.Scan(
		&p.ID, &p.Code, &p.Description, &discountType, &p.DiscountValue, &p.MaxDiscount, &p.MinOrderAmount,
		&p.MaxUsage, &p.UsageCount, &p.MaxUsagePerUser, &p.ValidFrom, &p.ValidUntil, &p.Active,
		&p.ApplicableServices, &p.ExcludedServices, &p.NewUsersOnly, &p.ExistingUsersOnly, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return promo.Promo{}, err
	}
	p.DiscountType = promo.DiscountType(discountType)
	return p, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
