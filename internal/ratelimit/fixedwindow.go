package ratelimit

import (
	"context"
	"fmt"
	"time"

	limiter "github.com/ulule/limiter/v3"
)

// FixedWindow adapts a ulule limiter to the Allower interface.
type FixedWindow struct {
	limiter *limiter.Limiter
}

// NewFixedWindow builds a fixed-window limiter from a formatted rate such as "20-M".
func NewFixedWindow(store limiter.Store, formatted string) (*FixedWindow, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("parse rate %q: %w", formatted, err)
	}
	return &FixedWindow{limiter: limiter.New(store, rate)}, nil
}

// Allow consumes one slot for key.
func (f *FixedWindow) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := f.limiter.Get(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:   !res.Reached,
		Limit:     int(res.Limit),
		Remaining: int(res.Remaining),
		ResetAt:   time.Unix(res.Reset, 0),
	}, nil
}

// NewFixedWindowRate builds a fixed-window limiter for an arbitrary period.
func NewFixedWindowRate(store limiter.Store, max int, period time.Duration) *FixedWindow {
	return &FixedWindow{limiter: limiter.New(store, limiter.Rate{Period: period, Limit: int64(max)})}
}
