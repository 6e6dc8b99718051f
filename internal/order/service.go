package order

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-laundry/internal/events"
	"github.com/noah-isme/backend-laundry/internal/obs"
	"github.com/noah-isme/backend-laundry/internal/pricing"
	"github.com/noah-isme/backend-laundry/internal/promo"
)

const (
	numberAttempts = 3
	defaultLockTTL = 10 * time.Second
)

// Repository is the persistence contract for orders.
type Repository interface {
	Create(ctx context.Context, o Order) (Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (Order, error)
	Update(ctx context.Context, o Order) (Order, error)
	List(ctx context.Context, filter ListFilter) ([]Order, int, error)
}

// Promos evaluates and redeems promo codes.
type Promos interface {
	Evaluate(ctx context.Context, code string, c promo.Check) (promo.Quote, error)
	RecordUsage(ctx context.Context, r promo.Redemption) error
}

// StatsRecorder updates a customer's order statistics out of band.
type StatsRecorder interface {
	RecordOrder(ctx context.Context, userID string, amount pricing.Money) error
}

// Locker serializes work on a key.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) (events.Event, error)
}

// Actor identifies who is acting on an order.
type Actor struct {
	UserID string
	Admin  bool
}

// CreateInput is a validated order request.
type CreateInput struct {
	CustomerID    *string
	Customer      CustomerInfo
	Items         []Item
	Schedule      Schedule
	PaymentMethod PaymentMethod
	PromoCode     string
}

// Placement is the outcome of Create. PromoError is set when a requested promo
// could not be redeemed after the order was stored; the order is then kept at
// full price.
type Placement struct {
	Order        Order
	PromoApplied bool
	PromoError   error
}

// Service orchestrates pricing, promo redemption and status tracking.
type Service struct {
	Repo    Repository
	Promos  Promos
	Pricing pricing.Policy
	Tracker Tracker
	Locker  Locker
	LockTTL time.Duration
	Stats   StatsRecorder
	Events  Emitter
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Create prices, stores and (when a code is supplied) redeems a promo for a new order.
func (s *Service) Create(ctx context.Context, in CreateInput) (Placement, error) {
	if s == nil || s.Repo == nil {
		return Placement{}, errors.New("order service not configured")
	}
	now := s.now()
	o := Order{
		ID:            uuid.New(),
		CustomerID:    in.CustomerID,
		Customer:      in.Customer,
		Items:         in.Items,
		Schedule:      in.Schedule,
		PaymentMethod: in.PaymentMethod,
		PaymentStatus: PaymentPending,
		Notes:         []Note{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if in.Schedule.DeliveryDate != nil {
		eta := *in.Schedule.DeliveryDate
		o.EstimatedDelivery = &eta
	}

	var express pricing.Money
	if in.Schedule.Express {
		express = s.Pricing.ExpressCharge
	}
	summary, err := s.Pricing.Compute(o.PricingItems(), 0, express)
	if err != nil {
		return Placement{}, err
	}

	var quote *promo.Quote
	if code := strings.TrimSpace(in.PromoCode); code != "" {
		if s.Promos == nil {
			return Placement{}, errors.New("promo service not configured")
		}
		q, err := s.Promos.Evaluate(ctx, code, promo.Check{
			UserID:      customerID(in.CustomerID),
			OrderAmount: summary.Subtotal,
			ServiceIDs:  o.ServiceIDs(),
		})
		if err != nil {
			if errors.Is(err, promo.ErrNotFound) {
				return Placement{}, ErrPromoNotFound
			}
			return Placement{}, err
		}
		quote = &q
		summary = summary.WithDiscount(q.Discount)
		o.PromoCode = q.Promo.Code
	}
	o.Summary = summary
	s.Tracker.Initialize(&o, now)

	created, err := s.insert(ctx, o, now)
	if err != nil {
		return Placement{}, err
	}
	placement := Placement{Order: created}

	if quote != nil {
		placement, err = s.redeem(ctx, created, *quote)
		if err != nil {
			return Placement{}, err
		}
	}
	obs.IncCounter(obs.OrdersCreatedTotal, strconv.FormatBool(placement.PromoApplied))

	if in.CustomerID != nil && s.Stats != nil {
		if err := s.Stats.RecordOrder(ctx, *in.CustomerID, placement.Order.Summary.Total); err != nil {
			s.Logger.Error().Err(err).Str("order_number", placement.Order.Number).Msg("record user order stats")
		}
	}
	s.emit(ctx, events.TopicOrderCreated, placement.Order, map[string]any{
		"orderNumber": placement.Order.Number,
		"status":      placement.Order.Status,
		"total":       placement.Order.Summary.Total,
		"promoCode":   placement.Order.PromoCode,
	})
	s.Logger.Info().
		Str("order_number", placement.Order.Number).
		Int64("total", placement.Order.Summary.Total).
		Bool("promo_applied", placement.PromoApplied).
		Msg("order created")
	return placement, nil
}

func (s *Service) insert(ctx context.Context, o Order, now time.Time) (Order, error) {
	var lastErr error
	for attempt := 0; attempt < numberAttempts; attempt++ {
		o.Number = NewNumber(now)
		created, err := s.Repo.Create(ctx, o)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, ErrConflict) {
			return Order{}, fmt.Errorf("create order: %w", err)
		}
		lastErr = err
	}
	return Order{}, fmt.Errorf("create order after %d attempts: %w", numberAttempts, lastErr)
}

// redeem records promo usage for a stored order. When the usage cannot be
// recorded the discount is removed and the order re-saved at full price.
func (s *Service) redeem(ctx context.Context, o Order, q promo.Quote) (Placement, error) {
	err := s.Promos.RecordUsage(ctx, promo.Redemption{
		PromoID:  q.Promo.ID,
		Code:     q.Promo.Code,
		UserID:   customerID(o.CustomerID),
		OrderID:  o.ID,
		Discount: q.Discount,
		At:       o.CreatedAt,
	})
	if err == nil {
		return Placement{Order: o, PromoApplied: true}, nil
	}
	if !errors.Is(err, promo.ErrCapacityExceeded) && !errors.Is(err, promo.ErrNotFound) {
		s.Logger.Error().Err(err).Str("order_number", o.Number).Str("code", q.Promo.Code).Msg("record promo usage")
	}
	o.Summary = o.Summary.WithDiscount(0)
	o.PromoCode = ""
	o.UpdatedAt = s.now()
	updated, uerr := s.Repo.Update(ctx, o)
	if uerr != nil {
		return Placement{}, fmt.Errorf("reprice order %s: %w", o.Number, uerr)
	}
	return Placement{Order: updated, PromoApplied: false, PromoError: err}, nil
}

// Get loads an order visible to actor.
func (s *Service) Get(ctx context.Context, id uuid.UUID, actor Actor) (Order, error) {
	o, err := s.Repo.FindByID(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if !actor.Admin && !o.OwnedBy(actor.UserID) {
		return Order{}, ErrNotFound
	}
	return o, nil
}

// List returns orders newest first. Non-admin actors only see their own orders.
func (s *Service) List(ctx context.Context, filter ListFilter, actor Actor) ([]Order, int, error) {
	if !actor.Admin {
		if actor.UserID == "" {
			return nil, 0, ErrNotFound
		}
		filter.CustomerID = actor.UserID
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PerPage <= 0 {
		filter.PerPage = 10
	}
	return s.Repo.List(ctx, filter)
}

// SetStatus moves an order to status and updates its timeline.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, status Status, actor Actor) (Order, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return Order{}, err
	}
	var out Order
	err := s.withOrderLock(ctx, id, func(ctx context.Context) error {
		o, err := s.Repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		from := o.Status
		if err := s.Tracker.Transition(&o, status, s.now()); err != nil {
			return err
		}
		o.UpdatedAt = s.now()
		out, err = s.Repo.Update(ctx, o)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		obs.IncCounter(obs.OrderTransitionsTotal, string(status))
		s.emit(ctx, events.TopicOrderStatusChanged, out, statusPayload(out, from, actor))
		return nil
	})
	return out, err
}

// Cancel cancels an order that has not been delivered. Non-admin actors may
// only cancel their own orders.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor Actor) (Order, error) {
	var out Order
	err := s.withOrderLock(ctx, id, func(ctx context.Context) error {
		o, err := s.Repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if !actor.Admin && !o.OwnedBy(actor.UserID) {
			return ErrNotFound
		}
		if o.Status.Terminal() {
			return ErrAlreadyTerminal
		}
		from := o.Status
		if err := s.Tracker.Transition(&o, StatusCancelled, s.now()); err != nil {
			return err
		}
		o.UpdatedAt = s.now()
		out, err = s.Repo.Update(ctx, o)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		obs.IncCounter(obs.OrderTransitionsTotal, string(StatusCancelled))
		s.emit(ctx, events.TopicOrderCancelled, out, statusPayload(out, from, actor))
		return nil
	})
	return out, err
}

// AddNote appends a staff note.
func (s *Service) AddNote(ctx context.Context, id uuid.UUID, message, addedBy string) (Order, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Order{}, fmt.Errorf("%w: note message is required", ErrInvalidNote)
	}
	var out Order
	err := s.withOrderLock(ctx, id, func(ctx context.Context) error {
		o, err := s.Repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		now := s.now()
		o.Notes = append(o.Notes, Note{Message: message, AddedBy: addedBy, Timestamp: now})
		o.UpdatedAt = now
		out, err = s.Repo.Update(ctx, o)
		return err
	})
	return out, err
}

// Review records the customer's rating once the order has been delivered.
func (s *Service) Review(ctx context.Context, id uuid.UUID, rating int, text string, actor Actor) (Order, error) {
	if rating < 1 || rating > 5 {
		return Order{}, ErrInvalidRating
	}
	var out Order
	err := s.withOrderLock(ctx, id, func(ctx context.Context) error {
		o, err := s.Repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if !o.OwnedBy(actor.UserID) {
			return ErrNotFound
		}
		if o.Status != StatusDelivered && o.Status != StatusCompleted {
			return ErrNotReviewable
		}
		r := rating
		o.Rating = &r
		o.Review = strings.TrimSpace(text)
		o.UpdatedAt = s.now()
		out, err = s.Repo.Update(ctx, o)
		return err
	})
	return out, err
}

func (s *Service) withOrderLock(ctx context.Context, id uuid.UUID, fn func(context.Context) error) error {
	if s.Locker == nil {
		return fn(ctx)
	}
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return s.Locker.WithLock(ctx, "lock:order:"+id.String(), ttl, fn)
}

func statusPayload(o Order, from Status, actor Actor) map[string]any {
	payload := map[string]any{
		"orderNumber": o.Number,
		"from":        from,
		"to":          o.Status,
		"updatedAt":   o.UpdatedAt,
	}
	if o.CustomerID != nil {
		payload["customerId"] = *o.CustomerID
	}
	if o.Customer.Email != "" {
		payload["email"] = o.Customer.Email
	}
	if actor.UserID != "" {
		payload["actor"] = actor.UserID
	}
	return payload
}

func (s *Service) emit(ctx context.Context, topic string, o Order, payload any) {
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, o.ID, payload); err != nil {
		s.Logger.Error().Err(err).Str("topic", topic).Str("order_number", o.Number).Msg("emit order event")
	}
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func customerID(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}
