package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-laundry/internal/pickup"
)

const pickupColumns = `
	id, customer_id, address, pickup_date, time_slot, instructions, status, assigned_to,
	estimated_items, actual_items, pickup_notes, completed_at, created_at, updated_at
`

const (
	insertPickupQuery = `
	INSERT INTO pickups (
		id, customer_id, address, pickup_date, time_slot, instructions, status, assigned_to,
		estimated_items, actual_items, pickup_notes, completed_at, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	RETURNING ` + pickupColumns

	selectPickupByIDQuery = `SELECT ` + pickupColumns + ` FROM pickups WHERE id = $1`

	updatePickupQuery = `
	UPDATE pickups SET
		address = $2, pickup_date = $3, time_slot = $4, instructions = $5, status = $6,
		assigned_to = $7, estimated_items = $8, actual_items = $9, pickup_notes = $10,
		completed_at = $11, updated_at = $12
	WHERE id = $1
	RETURNING ` + pickupColumns
)

// PostgresPickups implements pickup.Repository. Address, slot and item lists are JSONB.
type PostgresPickups struct {
	DB DB
}

func (s *PostgresPickups) Create(ctx context.Context, p pickup.Pickup) (pickup.Pickup, error) {
	return scanPickup(s.DB.QueryRow(ctx, insertPickupQuery,
		p.ID, p.CustomerID, p.Address, p.Date, p.TimeSlot, p.Instructions, p.Status, p.AssignedTo,
		estimatedOrEmpty(p.EstimatedItems), actualOrEmpty(p.ActualItems), p.PickupNotes, p.CompletedAt,
		p.CreatedAt, p.UpdatedAt,
	))
}

func (s *PostgresPickups) FindByID(ctx context.Context, id uuid.UUID) (pickup.Pickup, error) {
	p, err := scanPickup(s.DB.QueryRow(ctx, selectPickupByIDQuery, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return pickup.Pickup{}, pickup.ErrNotFound
	}
	return p, err
}

func (s *PostgresPickups) Update(ctx context.Context, p pickup.Pickup) (pickup.Pickup, error) {
	updated, err := scanPickup(s.DB.QueryRow(ctx, updatePickupQuery,
		p.ID, p.Address, p.Date, p.TimeSlot, p.Instructions, p.Status,
		p.AssignedTo, estimatedOrEmpty(p.EstimatedItems), actualOrEmpty(p.ActualItems), p.PickupNotes,
		p.CompletedAt, p.UpdatedAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return pickup.Pickup{}, pickup.ErrNotFound
	}
	return updated, err
}

func (s *PostgresPickups) List(ctx context.Context, filter pickup.ListFilter) ([]pickup.Pickup, int, error) {
	var w where
	if filter.CustomerID != "" {
		w.add("customer_id = $%d", filter.CustomerID)
	}
	if filter.Status != nil {
		w.add("status = $%d", string(*filter.Status))
	}
	if filter.AssignedTo != "" {
		w.add("assigned_to = $%d", filter.AssignedTo)
	}
	if start, end, ok := filter.DayRange(); ok {
		w.add("pickup_date >= $%d", start)
		w.add("pickup_date < $%d", end)
	}
	var total int
	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM pickups`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count pickups: %w", err)
	}
	suffix, args := w.page(filter.Page, filter.PerPage)
	rows, err := s.DB.Query(ctx, `SELECT `+pickupColumns+` FROM pickups`+w.String()+` ORDER BY created_at DESC`+suffix, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list pickups: %w", err)
	}
	defer rows.Close()
	out := make([]pickup.Pickup, 0)
	for rows.Next() {
		p, err := scanPickup(rows)
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

func scanPickup(row pgx.Row) (pickup.Pickup, error) {
	var p pickup.Pickup
	err := row.Scan(
		&p.ID, &p.CustomerID, &p.Address, &p.Date, &p.TimeSlot, &p.Instructions, &p.Status, &p.AssignedTo,
		&p.EstimatedItems, &p.ActualItems, &p.PickupNotes, &p.CompletedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return pickup.Pickup{}, err
	}
	return p, nil
}

func estimatedOrEmpty(items []pickup.EstimatedItem) []pickup.EstimatedItem {
	if items == nil {
		return []pickup.EstimatedItem{}
	}
	return items
}

func actualOrEmpty(items []pickup.ActualItem) []pickup.ActualItem {
	if items == nil {
		return []pickup.ActualItem{}
	}
	return items
}
