package promo

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
	"github.com/noah-isme/backend-laundry/internal/pricing"
)

// ErrInvalid is returned when a promo definition breaks a field rule.
var ErrInvalid = errors.New("invalid promo")

const recentUsageLimit = 10

// Repository captures the storage operations required by the promo service.
type Repository interface {
	FindByCode(ctx context.Context, code string) (Promo, error)
	FindByID(ctx context.Context, id uuid.UUID) (Promo, error)
	List(ctx context.Context, filter ListFilter) ([]Promo, int, error)
	Create(ctx context.Context, p Promo) (Promo, error)
	Update(ctx context.Context, p Promo) (Promo, error)
	CountUserUsage(ctx context.Context, promoID uuid.UUID, userID string) (int, error)
	// ConditionalIncrementUsage appends the usage and bumps the counter only if
	// both caps still hold, atomically with respect to concurrent callers.
	ConditionalIncrementUsage(ctx context.Context, r Redemption) error
	RecentUsage(ctx context.Context, promoID uuid.UUID, limit int) ([]Usage, error)
	UsageTotals(ctx context.Context, promoID uuid.UUID) (UsageTotals, error)
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) (events.Event, error)
}

// UserHistory reports how many orders a user has placed before.
type UserHistory interface {
	OrderCount(ctx context.Context, userID string) (int, error)
}

// ListFilter narrows admin listings.
type ListFilter struct {
	Active  *bool
	Page    int
	PerPage int
}

// UsageTotals aggregates a promo's usage history.
type UsageTotals struct {
	Count         int
	DiscountGiven pricing.Money
	UniqueUsers   int
}

// Redemption is a single usage being recorded.
type Redemption struct {
	PromoID  uuid.UUID
	Code     string
	UserID   string
	OrderID  uuid.UUID
	Discount pricing.Money
	At       time.Time
}

// Quote is the result of a successful evaluation.
type Quote struct {
	Promo       Promo
	Discount    pricing.Money
	Eligibility Eligibility
}

// Stats summarises usage of a single promo.
type Stats struct {
	Code               string        `json:"code"`
	TotalUsage         int           `json:"totalUsage"`
	MaxUsage           *int          `json:"maxUsage"`
	RemainingUsage     *int          `json:"remainingUsage"`
	TotalDiscountGiven pricing.Money `json:"totalDiscountGiven"`
	UniqueUsers        int           `json:"uniqueUsers"`
	RecentUsage        []Usage       `json:"recentUsage"`
}

// Service encapsulates promo evaluation, redemption and administration.
type Service struct {
	Repo    Repository
	Events  Emitter
	History UserHistory
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Evaluate looks the code up and checks it against c. Inactive promos are
// evaluated and rejected with ReasonNotActive.
func (s *Service) Evaluate(ctx context.Context, code string, c Check) (Quote, error) {
	p, err := s.lookup(ctx, code)
	if err != nil {
		return Quote{}, err
	}
	return s.evaluate(ctx, p, c)
}

// Preview backs the public validation endpoint: unknown and inactive codes are
// both reported as not found.
func (s *Service) Preview(ctx context.Context, code string, c Check) (Quote, error) {
	p, err := s.lookup(ctx, code)
	if err != nil {
		return Quote{}, err
	}
	if !p.Active {
		return Quote{}, ErrNotFound
	}
	return s.evaluate(ctx, p, c)
}

func (s *Service) lookup(ctx context.Context, code string) (Promo, error) {
	if s == nil || s.Repo == nil {
		return Promo{}, errors.New("promo service not configured")
	}
	normalized := NormalizeCode(code)
	if normalized == "" {
		return Promo{}, ErrNotFound
	}
	return s.Repo.FindByCode(ctx, normalized)
}

func (s *Service) evaluate(ctx context.Context, p Promo, c Check) (Quote, error) {
	if c.UserID != "" && p.MaxUsagePerUser > 0 {
		used, err := s.Repo.CountUserUsage(ctx, p.ID, c.UserID)
		if err != nil {
			return Quote{}, fmt.Errorf("count user usage: %w", err)
		}
		c.UserUsage = used
	}
	if c.UserID != "" && c.UserOrderCount == nil && s.History != nil && (p.NewUsersOnly || p.ExistingUsersOnly) {
		count, err := s.History.OrderCount(ctx, c.UserID)
		if err != nil {
			return Quote{}, fmt.Errorf("load order history: %w", err)
		}
		c.UserOrderCount = &count
	}
	elig := Validate(s.now(), p, c)
	if !elig.Eligible {
		obs.IncCounter(obs.PromoValidationsTotal, string(elig.Reason))
		return Quote{Promo: p, Eligibility: elig}, &IneligibleError{Reason: elig.Reason, Message: elig.Reason.Message(p)}
	}
	obs.IncCounter(obs.PromoValidationsTotal, "eligible")
	return Quote{Promo: p, Discount: CalculateDiscount(p, c.OrderAmount), Eligibility: elig}, nil
}

// RecordUsage performs the conditional increment for r. ErrCapacityExceeded
// and ErrNotFound are returned unchanged so callers can compensate.
func (s *Service) RecordUsage(ctx context.Context, r Redemption) error {
	if s == nil || s.Repo == nil {
		return errors.New("promo service not configured")
	}
	if r.At.IsZero() {
		r.At = s.now()
	}
	err := s.Repo.ConditionalIncrementUsage(ctx, r)
	result := "redeemed"
	topic := events.TopicPromoRedeemed
	switch {
	case err == nil:
	case errors.Is(err, ErrCapacityExceeded):
		result, topic = "capacity_exceeded", events.TopicPromoRedemptionRejected
	case errors.Is(err, ErrNotFound):
		result, topic = "not_found", events.TopicPromoRedemptionRejected
	default:
		obs.IncCounter(obs.PromoRedemptionsTotal, "error")
		return fmt.Errorf("record promo usage: %w", err)
	}
	obs.IncCounter(obs.PromoRedemptionsTotal, result)
	s.emit(ctx, topic, r.PromoID, map[string]any{
		"promoId":  r.PromoID,
		"code":     r.Code,
		"orderId":  r.OrderID,
		"userId":   r.UserID,
		"discount": r.Discount,
		"result":   result,
	})
	return err
}

// List returns promos newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Promo, int, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PerPage <= 0 {
		filter.PerPage = 10
	}
	return s.Repo.List(ctx, filter)
}

// Get returns a promo by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Promo, error) {
	return s.Repo.FindByID(ctx, id)
}

// CreateInput describes a new promo.
type CreateInput struct {
	Code               string
	Description        string
	DiscountType       DiscountType
	DiscountValue      int64
	MaxDiscount        *pricing.Money
	MinOrderAmount     pricing.Money
	MaxUsage           *int
	MaxUsagePerUser    *int
	ValidFrom          *time.Time
	ValidUntil         time.Time
	ApplicableServices []string
	ExcludedServices   []string
	NewUsersOnly       bool
	ExistingUsersOnly  bool
}

// Create stores a new active promo. The code is upper-cased.
func (s *Service) Create(ctx context.Context, in CreateInput) (Promo, error) {
	now := s.now()
	p := Promo{
		ID:                 uuid.New(),
		Code:               NormalizeCode(in.Code),
		Description:        strings.TrimSpace(in.Description),
		DiscountType:       in.DiscountType,
		DiscountValue:      in.DiscountValue,
		MaxDiscount:        in.MaxDiscount,
		MinOrderAmount:     in.MinOrderAmount,
		MaxUsage:           in.MaxUsage,
		MaxUsagePerUser:    1,
		ValidFrom:          now,
		ValidUntil:         in.ValidUntil,
		Active:             true,
		ApplicableServices: in.ApplicableServices,
		ExcludedServices:   in.ExcludedServices,
		NewUsersOnly:       in.NewUsersOnly,
		ExistingUsersOnly:  in.ExistingUsersOnly,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if in.MaxUsagePerUser != nil {
		p.MaxUsagePerUser = *in.MaxUsagePerUser
	}
	if in.ValidFrom != nil {
		p.ValidFrom = *in.ValidFrom
	}
	if err := check(p); err != nil {
		return Promo{}, err
	}
	created, err := s.Repo.Create(ctx, p)
	if err != nil {
		return Promo{}, err
	}
	s.Logger.Info().Str("code", created.Code).Str("promo_id", created.ID.String()).Msg("promo created")
	return created, nil
}

// Patch carries optional field updates for a promo. ClearMaxDiscount and
// ClearMaxUsage reset the caps to unset and cannot be combined with a new value.
type Patch struct {
	Description        *string
	DiscountType       *DiscountType
	DiscountValue      *int64
	MaxDiscount        *pricing.Money
	MinOrderAmount     *pricing.Money
	MaxUsage           *int
	MaxUsagePerUser    *int
	ValidFrom          *time.Time
	ValidUntil         *time.Time
	Active             *bool
	ApplicableServices []string
	ExcludedServices   []string
	NewUsersOnly       *bool
	ExistingUsersOnly  *bool
	ClearMaxDiscount   bool
	ClearMaxUsage      bool
}

// Update applies the non-nil fields of patch. Code and usage counters are immutable.
func (s *Service) Update(ctx context.Context, id uuid.UUID, patch Patch) (Promo, error) {
	if patch.ClearMaxDiscount && patch.MaxDiscount != nil {
		return Promo{}, fmt.Errorf("%w: maxDiscount cannot be set and cleared together", ErrInvalid)
	}
	if patch.ClearMaxUsage && patch.MaxUsage != nil {
		return Promo{}, fmt.Errorf("%w: maxUsage cannot be set and cleared together", ErrInvalid)
	}
	p, err := s.Repo.FindByID(ctx, id)
	if err != nil {
		return Promo{}, err
	}
	if patch.Description != nil {
		p.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.DiscountType != nil {
		p.DiscountType = *patch.DiscountType
	}
	if patch.DiscountValue != nil {
		p.DiscountValue = *patch.DiscountValue
	}
	if patch.MaxDiscount != nil {
		p.MaxDiscount = patch.MaxDiscount
	}
	if patch.ClearMaxDiscount {
		p.MaxDiscount = nil
	}
	if patch.MinOrderAmount != nil {
		p.MinOrderAmount = *patch.MinOrderAmount
	}
	if patch.MaxUsage != nil {
		p.MaxUsage = patch.MaxUsage
	}
	if patch.ClearMaxUsage {
		p.MaxUsage = nil
	}
	if patch.MaxUsagePerUser != nil {
		p.MaxUsagePerUser = *patch.MaxUsagePerUser
	}
	if patch.ValidFrom != nil {
		p.ValidFrom = *patch.ValidFrom
	}
	if patch.ValidUntil != nil {
		p.ValidUntil = *patch.ValidUntil
	}
	if patch.Active != nil {
		p.Active = *patch.Active
	}
	if patch.ApplicableServices != nil {
		p.ApplicableServices = patch.ApplicableServices
	}
	if patch.ExcludedServices != nil {
		p.ExcludedServices = patch.ExcludedServices
	}
	if patch.NewUsersOnly != nil {
		p.NewUsersOnly = *patch.NewUsersOnly
	}
	if patch.ExistingUsersOnly != nil {
		p.ExistingUsersOnly = *patch.ExistingUsersOnly
	}
	if err := check(p); err != nil {
		return Promo{}, err
	}
	p.UpdatedAt = s.now()
	return s.Repo.Update(ctx, p)
}

// Deactivate switches a promo off. Promos are never removed so their usage
// history stays intact.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (Promo, error) {
	inactive := false
	return s.Update(ctx, id, Patch{Active: &inactive})
}

// Stats reports usage figures for a promo.
func (s *Service) Stats(ctx context.Context, id uuid.UUID) (Stats, error) {
	p, err := s.Repo.FindByID(ctx, id)
	if err != nil {
		return Stats{}, err
	}
	totals, err := s.Repo.UsageTotals(ctx, id)
	if err != nil {
		return Stats{}, fmt.Errorf("usage totals: %w", err)
	}
	recent, err := s.Repo.RecentUsage(ctx, id, recentUsageLimit)
	if err != nil {
		return Stats{}, fmt.Errorf("recent usage: %w", err)
	}
	if recent == nil {
		recent = []Usage{}
	}
	stats := Stats{
		Code:               p.Code,
		TotalUsage:         p.UsageCount,
		MaxUsage:           p.MaxUsage,
		TotalDiscountGiven: totals.DiscountGiven,
		UniqueUsers:        totals.UniqueUsers,
		RecentUsage:        recent,
	}
	if p.MaxUsage != nil {
		remaining := *p.MaxUsage - p.UsageCount
		if remaining < 0 {
			remaining = 0
		}
		stats.RemainingUsage = &remaining
	}
	return stats, nil
}

func check(p Promo) error {
	if len(p.Code) < 3 || len(p.Code) > 20 {
		return fmt.Errorf("%w: code must be 3-20 alphanumeric characters", ErrInvalid)
	}
	for _, r := range p.Code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return fmt.Errorf("%w: code must be 3-20 alphanumeric characters", ErrInvalid)
		}
	}
	if !p.DiscountType.Valid() {
		return fmt.Errorf("%w: discount type must be percentage or fixed", ErrInvalid)
	}
	if p.DiscountValue < 0 {
		return fmt.Errorf("%w: discount value cannot be negative", ErrInvalid)
	}
	if p.DiscountType == DiscountPercentage && p.DiscountValue > 100 {
		return fmt.Errorf("%w: percentage discount cannot exceed 100", ErrInvalid)
	}
	if p.MaxDiscount != nil && *p.MaxDiscount < 0 {
		return fmt.Errorf("%w: maximum discount cannot be negative", ErrInvalid)
	}
	if p.MinOrderAmount < 0 {
		return fmt.Errorf("%w: minimum order amount cannot be negative", ErrInvalid)
	}
	if p.MaxUsage != nil && *p.MaxUsage < 0 {
		return fmt.Errorf("%w: max usage cannot be negative", ErrInvalid)
	}
	if p.MaxUsagePerUser < 0 {
		return fmt.Errorf("%w: max usage per user cannot be negative", ErrInvalid)
	}
	if p.ValidUntil.IsZero() || !p.ValidUntil.After(p.ValidFrom) {
		return fmt.Errorf("%w: validUntil must be after validFrom", ErrInvalid)
	}
	if p.NewUsersOnly && p.ExistingUsersOnly {
		return fmt.Errorf("%w: newUsersOnly and existingUsersOnly are mutually exclusive", ErrInvalid)
	}
	return nil
}

func (s *Service) emit(ctx context.Context, topic string, aggregate uuid.UUID, payload any) {
	if s.Events == nil || aggregate == uuid.Nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, aggregate, payload); err != nil {
		s.Logger.Error().Err(err).Str("topic", topic).Msg("emit promo event")
	}
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
