package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-laundry/internal/pricing"
)

// TaskRecordOrder is the asynq task type carrying a placed order's total.
const TaskRecordOrder = "user:record_order"

const (
	goldPoints   = 1000
	silverPoints = 500
	// pointsDivisor awards one loyalty point per ₹10 spent.
	pointsDivisor = 10_00
)

// Totals are the persisted per-customer counters.
type Totals struct {
	TotalOrders   int           `json:"totalOrders"`
	TotalSpent    pricing.Money `json:"totalSpent"`
	LoyaltyPoints int64         `json:"loyaltyPoints"`
}

// Stats is the customer-facing summary returned by the API.
type Stats struct {
	TotalOrders       int           `json:"totalOrders"`
	TotalSpent        pricing.Money `json:"totalSpent"`
	LoyaltyPoints     int64         `json:"loyaltyPoints"`
	LoyaltyLevel      string        `json:"loyaltyLevel"`
	AverageOrderValue pricing.Money `json:"averageOrderValue"`
}

// Store persists customer order counters.
type Store interface {
	// IncrementOrderStats adds one order of amount and points to userID, creating the row if needed.
	IncrementOrderStats(ctx context.Context, userID string, amount pricing.Money, points int64) error
	// Totals returns zero values for users without orders.
	Totals(ctx context.Context, userID string) (Totals, error)
}

// TaskEnqueuer is the subset of *asynq.Client used to defer stat updates.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type recordOrderPayload struct {
	UserID string        `json:"userId"`
	Amount pricing.Money `json:"amount"`
}

// Service maintains customer order statistics with a Redis read cache.
type Service struct {
	Store       Store
	R           *redis.Client
	TTL         time.Duration
	Tasks       TaskEnqueuer
	MaxAttempts int
	Logger      zerolog.Logger
}

// RecordOrder schedules the increment for a placed order. Without a task
// client the increment is applied inline.
func (s *Service) RecordOrder(ctx context.Context, userID string, amount pricing.Money) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user: id is required")
	}
	if s.Tasks == nil {
		return s.Apply(ctx, userID, amount)
	}
	body, err := json.Marshal(recordOrderPayload{UserID: userID, Amount: amount})
	if err != nil {
		return fmt.Errorf("encode record order task: %w", err)
	}
	opts := []asynq.Option{asynq.Queue("stats")}
	if s.MaxAttempts > 0 {
		opts = append(opts, asynq.MaxRetry(s.MaxAttempts))
	}
	if _, err := s.Tasks.EnqueueContext(ctx, asynq.NewTask(TaskRecordOrder, body), opts...); err != nil {
		return fmt.Errorf("enqueue record order: %w", err)
	}
	return nil
}

// HandleRecordOrder is the asynq handler for TaskRecordOrder.
func (s *Service) HandleRecordOrder(ctx context.Context, task *asynq.Task) error {
	var payload recordOrderPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode record order task: %v: %w", err, asynq.SkipRetry)
	}
	if payload.UserID == "" {
		return fmt.Errorf("record order task without user: %w", asynq.SkipRetry)
	}
	return s.Apply(ctx, payload.UserID, payload.Amount)
}

// Apply increments the counters and drops the cached summary.
func (s *Service) Apply(ctx context.Context, userID string, amount pricing.Money) error {
	if s == nil || s.Store == nil {
		return errors.New("user stats store not configured")
	}
	if amount < 0 {
		amount = 0
	}
	if err := s.Store.IncrementOrderStats(ctx, userID, amount, amount/pointsDivisor); err != nil {
		return fmt.Errorf("increment order stats: %w", err)
	}
	if s.R != nil {
		if err := s.R.Del(ctx, cacheKey(userID)).Err(); err != nil {
			s.Logger.Warn().Err(err).Str("user_id", userID).Msg("invalidate user stats cache")
		}
	}
	return nil
}

// Stats returns the summary for userID, served from cache when fresh.
func (s *Service) Stats(ctx context.Context, userID string) (Stats, error) {
	if s == nil || s.Store == nil {
		return Stats{}, errors.New("user stats store not configured")
	}
	key := cacheKey(userID)
	if stats, ok := s.fromCache(ctx, key); ok {
		return stats, nil
	}
	totals, err := s.Store.Totals(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	stats := Summarize(totals)
	s.store(ctx, key, stats)
	return stats, nil
}

// OrderCount reports how many orders userID has placed.
func (s *Service) OrderCount(ctx context.Context, userID string) (int, error) {
	if s == nil || s.Store == nil {
		return 0, errors.New("user stats store not configured")
	}
	totals, err := s.Store.Totals(ctx, userID)
	if err != nil {
		return 0, err
	}
	return totals.TotalOrders, nil
}

// Summarize derives the loyalty level and average order value.
func Summarize(t Totals) Stats {
	stats := Stats{
		TotalOrders:   t.TotalOrders,
		TotalSpent:    t.TotalSpent,
		LoyaltyPoints: t.LoyaltyPoints,
		LoyaltyLevel:  LoyaltyLevel(t.LoyaltyPoints),
	}
	if t.TotalOrders > 0 {
		stats.AverageOrderValue = t.TotalSpent / pricing.Money(t.TotalOrders)
	}
	return stats
}

// LoyaltyLevel maps points onto Bronze, Silver or Gold.
func LoyaltyLevel(points int64) string {
	switch {
	case points >= goldPoints:
		return "Gold"
	case points >= silverPoints:
		return "Silver"
	default:
		return "Bronze"
	}
}

func cacheKey(userID string) string {
	return "user:stats:" + userID
}

func (s *Service) fromCache(ctx context.Context, key string) (Stats, bool) {
	if s.R == nil || s.TTL <= 0 {
		return Stats{}, false
	}
	data, err := s.R.Get(ctx, key).Bytes()
	if err != nil {
		return Stats{}, false
	}
	var stats Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		return Stats{}, false
	}
	return stats, true
}

func (s *Service) store(ctx context.Context, key string, stats Stats) {
	if s.R == nil || s.TTL <= 0 {
		return
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return
	}
	_ = s.R.Set(ctx, key, data, s.TTL).Err()
}
