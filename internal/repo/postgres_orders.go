package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-laundry/internal/order"
)

const orderColumns = `
	id, order_number, customer_id, customer, items, schedule,
	subtotal, delivery_fee, express_charge, tax, discount, total,
	payment_method, payment_status, status, COALESCE(promo_code, ''), tracking,
	estimated_delivery, actual_delivery, rating, review, notes, created_at, updated_at
`

const (
	insertOrderQuery = `
	INSERT INTO orders (
		id, order_number, customer_id, customer, items, schedule,
		subtotal, delivery_fee, express_charge, tax, discount, total,
		payment_method, payment_status, status, promo_code, tracking,
		estimated_delivery, actual_delivery, rating, review, notes, created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		$13, $14, $15, NULLIF($16, ''), $17, $18, $19, $20, $21, $22, $23, $24
	)
	RETURNING ` + orderColumns

	selectOrderByIDQuery = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	updateOrderQuery = `
	UPDATE orders SET
		customer = $2, items = $3, schedule = $4,
		subtotal = $5, delivery_fee = $6, express_charge = $7, tax = $8, discount = $9, total = $10,
		payment_method = $11, payment_status = $12, status = $13, promo_code = NULLIF($14, ''),
		tracking = $15, estimated_delivery = $16, actual_delivery = $17,
		rating = $18, review = $19, notes = $20, updated_at = $21
	WHERE id = $1
	RETURNING ` + orderColumns
)

// PostgresOrders implements order.Repository. Nested documents are stored as JSONB.
type PostgresOrders struct {
	DB DB
}

func (s *PostgresOrders) Create(ctx context.Context, o order.Order) (order.Order, error) {
	o.Summary = o.Summary.Recompute()
	sm := o.Summary
	row := s.DB.QueryRow(ctx, insertOrderQuery,
		o.ID, o.Number, o.CustomerID, o.Customer, o.Items, o.Schedule,
		sm.Subtotal, sm.DeliveryFee, sm.ExpressCharge, sm.Tax, sm.Discount, sm.Total,
		o.PaymentMethod, o.PaymentStatus, o.Status, o.PromoCode, o.Tracking,
		o.EstimatedDelivery, o.ActualDelivery, o.Rating, o.Review, notesOrEmpty(o.Notes), o.CreatedAt, o.UpdatedAt,
	)
	created, err := scanOrder(row)
	if err != nil {
		if isUniqueViolation(err) {
			return order.Order{}, order.ErrConflict
		}
		return order.Order{}, err
	}
	return created, nil
}

func (s *PostgresOrders) FindByID(ctx context.Context, id uuid.UUID) (order.Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, selectOrderByIDQuery, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return order.Order{}, order.ErrNotFound
	}
	return o, err
}

func (s *PostgresOrders) Update(ctx context.Context, o order.Order) (order.Order, error) {
	o.Summary = o.Summary.Recompute()
	sm := o.Summary
	row := s.DB.QueryRow(ctx, updateOrderQuery,
		o.ID, o.Customer, o.Items, o.Schedule,
		sm.Subtotal, sm.DeliveryFee, sm.ExpressCharge, sm.Tax, sm.Discount, sm.Total,
		o.PaymentMethod, o.PaymentStatus, o.Status, o.PromoCode,
		o.Tracking, o.EstimatedDelivery, o.ActualDelivery,
		o.Rating, o.Review, notesOrEmpty(o.Notes), o.UpdatedAt,
	)
	updated, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return order.Order{}, order.ErrNotFound
	}
	return updated, err
}

func (s *PostgresOrders) List(ctx context.Context, filter order.ListFilter) ([]order.Order, int, error) {
	var w where
	if filter.CustomerID != "" {
		w.add("customer_id = $%d", filter.CustomerID)
	}
	if filter.Status != nil {
		w.add("status = $%d", string(*filter.Status))
	}
	var total int
	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM orders`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}
	suffix, args := w.page(filter.Page, filter.PerPage)
	rows, err := s.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders`+w.String()+` ORDER BY created_at DESC`+suffix, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	out := make([]order.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func scanOrder(row pgx.Row) (order.Order, error) {
	var o order.Order
	sm := &o.Summary
	err := row.Scan(
		&o.ID, &o.Number, &o.CustomerID, &o.Customer, &o.Items, &o.Schedule,
		&sm.Subtotal, &sm.DeliveryFee, &sm.ExpressCharge, &sm.Tax, &sm.Discount, &sm.Total,
		&o.PaymentMethod, &o.PaymentStatus, &o.Status, &o.PromoCode, &o.Tracking,
		&o.EstimatedDelivery, &o.ActualDelivery, &o.Rating, &o.Review, &o.Notes, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return order.Order{}, err
	}
	o.Summary = o.Summary.Recompute()
	return o, nil
}

func notesOrEmpty(notes []order.Note) []order.Note {
	if notes == nil {
		return []order.Note{}
	}
	return notes
}
