package pickup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-laundry/internal/events"
	"github.com/noah-isme/backend-laundry/internal/obs"
	"github.com/noah-isme/backend-laundry/internal/order"
)

const defaultLockTTL = 10 * time.Second

// Repository is the persistence contract for pickups.
type Repository interface {
	Create(ctx context.Context, p Pickup) (Pickup, error)
	FindByID(ctx context.Context, id uuid.UUID) (Pickup, error)
	Update(ctx context.Context, p Pickup) (Pickup, error)
	List(ctx context.Context, filter ListFilter) ([]Pickup, int, error)
}

// CreateInput is a validated pickup request.
type CreateInput struct {
	CustomerID     string
	Address        order.Address
	Date           time.Time
	TimeSlot       TimeSlot
	Instructions   string
	EstimatedItems []EstimatedItem
}

// StatusUpdate is an admin status change. Nil and empty fields keep their
// current value.
type StatusUpdate struct {
	Status      Status
	AssignedTo  *string
	ActualItems []ActualItem
	PickupNotes string
}

// Service schedules pickups and moves them through their lifecycle. Status
// changes share the order lock so concurrent admin edits serialize.
type Service struct {
	Repo    Repository
	Locker  order.Locker
	LockTTL time.Duration
	Events  order.Emitter
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Create stores a new pickup in the requested state.
func (s *Service) Create(ctx context.Context, in CreateInput) (Pickup, error) {
	if s == nil || s.Repo == nil {
		return Pickup{}, errors.New("pickup service not configured")
	}
	if strings.TrimSpace(in.CustomerID) == "" {
		return Pickup{}, ErrNotFound
	}
	if in.TimeSlot.To <= in.TimeSlot.From {
		return Pickup{}, ErrInvalidSlot
	}
	now := s.now()
	p := Pickup{
		ID:             uuid.New(),
		CustomerID:     in.CustomerID,
		Address:        in.Address,
		Date:           in.Date,
		TimeSlot:       in.TimeSlot,
		Instructions:   in.Instructions,
		Status:         StatusRequested,
		EstimatedItems: in.EstimatedItems,
		ActualItems:    []ActualItem{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if p.EstimatedItems == nil {
		p.EstimatedItems = []EstimatedItem{}
	}
	created, err := s.Repo.Create(ctx, p)
	if err != nil {
		return Pickup{}, fmt.Errorf("create pickup: %w", err)
	}
	s.Logger.Info().Str("pickup_id", created.ID.String()).Str("customer_id", created.CustomerID).
		Time("date", created.Date).Msg("pickup requested")
	s.emit(ctx, events.TopicPickupRequested, created, map[string]any{
		"customerId": created.CustomerID,
		"date":       created.Date,
		"timeSlot":   created.TimeSlot,
	})
	return created, nil
}

// Get loads a pickup visible to actor.
func (s *Service) Get(ctx context.Context, id uuid.UUID, actor order.Actor) (Pickup, error) {
	p, err := s.Repo.FindByID(ctx, id)
	if err != nil {
		return Pickup{}, err
	}
	if !actor.Admin && (actor.UserID == "" || p.CustomerID != actor.UserID) {
		return Pickup{}, ErrNotFound
	}
	return p, nil
}

// List returns pickups newest first. Non-admin actors only see their own.
func (s *Service) List(ctx context.Context, filter ListFilter, actor order.Actor) ([]Pickup, int, error) {
	if !actor.Admin {
		if actor.UserID == "" {
			return nil, 0, ErrNotFound
		}
		filter.CustomerID = actor.UserID
		filter.AssignedTo = ""
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PerPage <= 0 {
		filter.PerPage = 10
	}
	return s.Repo.List(ctx, filter)
}

// Cancel cancels a pickup that has not completed. Non-admin actors may only
// cancel their own pickups.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor order.Actor) (Pickup, error) {
	return s.mutate(ctx, id, actor, func(p *Pickup) error {
		if !actor.Admin && p.CustomerID != actor.UserID {
			return ErrNotFound
		}
		if p.Status.Terminal() {
			return ErrAlreadyTerminal
		}
		p.Status = StatusCancelled
		return nil
	})
}

// SetStatus applies an admin status change. Any status may follow any other;
// completion stamps CompletedAt.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, upd StatusUpdate, actor order.Actor) (Pickup, error) {
	if _, err := ParseStatus(string(upd.Status)); err != nil {
		return Pickup{}, err
	}
	return s.mutate(ctx, id, actor, func(p *Pickup) error {
		p.Status = upd.Status
		if upd.AssignedTo != nil && strings.TrimSpace(*upd.AssignedTo) != "" {
			staff := strings.TrimSpace(*upd.AssignedTo)
			p.AssignedTo = &staff
		}
		if len(upd.ActualItems) > 0 {
			p.ActualItems = upd.ActualItems
		}
		if notes := strings.TrimSpace(upd.PickupNotes); notes != "" {
			p.PickupNotes = notes
		}
		if upd.Status == StatusCompleted {
			done := s.now()
			p.CompletedAt = &done
		}
		return nil
	})
}

// Assign hands the pickup to a staff member and confirms it. Finished
// pickups cannot be reassigned.
func (s *Service) Assign(ctx context.Context, id uuid.UUID, staffID string, actor order.Actor) (Pickup, error) {
	staffID = strings.TrimSpace(staffID)
	if staffID == "" {
		return Pickup{}, ErrStaffRequired
	}
	return s.mutate(ctx, id, actor, func(p *Pickup) error {
		if p.Status.Terminal() {
			return ErrAlreadyTerminal
		}
		p.AssignedTo = &staffID
		p.Status = StatusConfirmed
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, id uuid.UUID, actor order.Actor, apply func(*Pickup) error) (Pickup, error) {
	var out Pickup
	err := s.withLock(ctx, id, func(ctx context.Context) error {
		p, err := s.Repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		from := p.Status
		if err := apply(&p); err != nil {
			return err
		}
		p.UpdatedAt = s.now()
		out, err = s.Repo.Update(ctx, p)
		if err != nil {
			return fmt.Errorf("update pickup: %w", err)
		}
		obs.IncCounter(obs.PickupTransitionsTotal, string(out.Status))
		payload := map[string]any{"customerId": out.CustomerID, "from": from, "to": out.Status}
		if out.AssignedTo != nil {
			payload["assignedTo"] = *out.AssignedTo
		}
		if actor.UserID != "" {
			payload["actor"] = actor.UserID
		}
		s.emit(ctx, events.TopicPickupStatusChanged, out, payload)
		return nil
	})
	return out, err
}

func (s *Service) withLock(ctx context.Context, id uuid.UUID, fn func(context.Context) error) error {
	if s.Locker == nil {
		return fn(ctx)
	}
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return s.Locker.WithLock(ctx, "lock:pickup:"+id.String(), ttl, fn)
}

func (s *Service) emit(ctx context.Context, topic string, p Pickup, payload any) {
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, p.ID, payload); err != nil {
		s.Logger.Error().Err(err).Str("topic", topic).Str("pickup_id", p.ID.String()).Msg("emit pickup event")
	}
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
