package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-laundry/internal/resilience"
)

const (
	defaultMaxAttempts  = 10
	defaultDedupTTL     = 24 * time.Hour
	defaultVisibility   = 30 * time.Second
	defaultRetryBase    = 200 * time.Millisecond
	defaultPollInterval = 100 * time.Millisecond
)

// ErrPermanent marks a handler failure that must not be retried.
var ErrPermanent = errors.New("queue: permanent failure")

// Permanent wraps err so the worker moves the task straight to the dead-letter list.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Task represents a job to be processed asynchronously.
type Task struct {
	Kind string
	// Key deduplicates enqueues of the same logical job while it is pending.
	Key         string
	Payload     []byte
	Attempt     int
	MaxAttempts int
	Delay       time.Duration
}

// DeadLetter is a task that exhausted its attempts.
type DeadLetter struct {
	Task     Task
	Error    string
	FailedAt time.Time
}

// Enqueuer publishes tasks to Redis sorted sets scored by their due time.
type Enqueuer struct {
	R           *redis.Client
	Prefix      string
	DedupTTL    time.Duration
	MaxAttempts int
}

// Enqueue inserts the task. Tasks with a Key are only enqueued once within the
// deduplication window; a duplicate returns nil.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	kind := sanitizeKind(t.Kind)
	if kind == "" {
		return errors.New("queue: task kind is required")
	}
	k := keys{prefix: e.Prefix, kind: kind}
	msg := message{
		Kind:        kind,
		Key:         t.Key,
		Payload:     t.Payload,
		MaxAttempts: t.MaxAttempts,
		AvailableAt: time.Now().Add(t.Delay).UnixNano(),
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = e.MaxAttempts
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = defaultMaxAttempts
	}
	if msg.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = defaultDedupTTL
		}
		ok, err := e.R.SetNX(ctx, k.dedup(msg.Key), "1", ttl).Result()
		if err != nil {
			return fmt.Errorf("queue: dedup %s: %w", kind, err)
		}
		if !ok {
			return nil
		}
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := e.R.ZAdd(ctx, k.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: raw}).Err(); err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", kind, err)
	}
	return nil
}

// Worker consumes tasks of a single kind. Claimed tasks sit in a processing
// set until acknowledged; entries whose visibility timeout passes are
// redelivered.
type Worker struct {
	R                 *redis.Client
	Prefix            string
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	RetryBase         time.Duration
	RetryJitter       float64
	PollInterval      time.Duration
	Handler           func(context.Context, Task) error
	Logger            zerolog.Logger
}

// Run processes tasks until ctx is cancelled and waits for in-flight handlers.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil {
		return errors.New("queue: worker redis client not configured")
	}
	if w.Handler == nil {
		return errors.New("queue: worker handler not configured")
	}
	kind := sanitizeKind(w.Kind)
	if kind == "" {
		return errors.New("queue: worker kind is required")
	}
	k := keys{prefix: w.Prefix, kind: kind}
	concurrency := w.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	poll := w.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	requeue := time.NewTicker(time.Second)
	defer requeue.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-requeue.C:
			if err := w.requeueExpired(ctx, k); err != nil && ctx.Err() == nil {
				return err
			}
			continue
		case sem <- struct{}{}:
		}

		msg, raw, ok, err := w.claim(ctx, k)
		if err != nil || !ok {
			<-sem
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if !sleep(ctx, poll) {
				return nil
			}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.process(ctx, k, raw, msg)
		}()
	}
}

// claim pops the earliest due task and records it in the processing set.
func (w Worker) claim(ctx context.Context, k keys) (message, string, bool, error) {
	res, err := w.R.ZPopMin(ctx, k.ready(), 1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return message{}, "", false, nil
		}
		return message{}, "", false, err
	}
	if len(res) == 0 {
		return message{}, "", false, nil
	}
	member, ok := res[0].Member.(string)
	if !ok {
		return message{}, "", false, nil
	}
	msg, err := decodeMessage(member)
	if err != nil {
		w.Logger.Error().Err(err).Str("kind", k.kind).Msg("drop undecodable task")
		return message{}, "", false, nil
	}
	if msg.AvailableAt > time.Now().UnixNano() {
		if err := w.R.ZAdd(ctx, k.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: member}).Err(); err != nil {
			return message{}, "", false, err
		}
		return message{}, "", false, nil
	}
	msg.Attempt++
	encoded, err := json.Marshal(msg)
	if err != nil {
		return message{}, "", false, err
	}
	deadline := time.Now().Add(w.visibility()).UnixNano()
	if err := w.R.ZAdd(ctx, k.processing(), redis.Z{Score: float64(deadline), Member: encoded}).Err(); err != nil {
		return message{}, "", false, err
	}
	return msg, string(encoded), true, nil
}

func (w Worker) process(ctx context.Context, k keys, raw string, msg message) {
	jobCtx, cancel := context.WithTimeout(ctx, w.visibility())
	defer cancel()
	err := w.Handler(jobCtx, msg.task())
	// Ack and retry writes still run when ctx was cancelled mid-job.
	bg := context.WithoutCancel(ctx)
	if err == nil {
		w.ack(bg, k, raw, msg)
		QueueProcessedTotal.WithLabelValues(k.kind, "success").Inc()
		return
	}
	w.fail(bg, k, raw, msg, err)
}

func (w Worker) fail(ctx context.Context, k keys, raw string, msg message, cause error) {
	_ = w.R.ZRem(ctx, k.processing(), raw).Err()
	log := w.Logger.With().Str("kind", k.kind).Str("key", msg.Key).Int("attempt", msg.Attempt).Logger()
	if errors.Is(cause, ErrPermanent) || (msg.MaxAttempts > 0 && msg.Attempt >= msg.MaxAttempts) {
		entry := deadLetter{Message: msg, Error: cause.Error(), FailedAt: time.Now().UTC()}
		encoded, err := json.Marshal(entry)
		if err == nil {
			err = w.R.LPush(ctx, k.dlq(), encoded).Err()
		}
		if err != nil {
			log.Error().Err(err).Msg("store dead letter")
		}
		if msg.Key != "" {
			_ = w.R.Del(ctx, k.dedup(msg.Key)).Err()
		}
		if size, err := w.R.LLen(ctx, k.dlq()).Result(); err == nil {
			QueueDLQSize.WithLabelValues(k.kind).Set(float64(size))
		}
		QueueProcessedTotal.WithLabelValues(k.kind, "dead").Inc()
		log.Error().Err(cause).Msg("task moved to dead-letter list")
		return
	}
	delay := resilience.Backoff(w.retryBase(), msg.Attempt, w.RetryJitter)
	msg.AvailableAt = time.Now().Add(delay).UnixNano()
	encoded, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := w.R.ZAdd(ctx, k.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: string(encoded)}).Err(); err != nil {
		log.Error().Err(err).Msg("schedule retry")
		return
	}
	QueueProcessedTotal.WithLabelValues(k.kind, "retry").Inc()
	log.Warn().Err(cause).Dur("retry_in", delay).Msg("task failed, retrying")
}

func (w Worker) ack(ctx context.Context, k keys, raw string, msg message) {
	_ = w.R.ZRem(ctx, k.processing(), raw).Err()
	if msg.Key != "" {
		_ = w.R.Del(ctx, k.dedup(msg.Key)).Err()
	}
}

func (w Worker) requeueExpired(ctx context.Context, k keys) error {
	now := strconv.FormatInt(time.Now().UnixNano(), 10)
	due, err := w.R.ZRangeByScore(ctx, k.processing(), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, raw := range due {
		removed, err := w.R.ZRem(ctx, k.processing(), raw).Result()
		if err != nil || removed == 0 {
			continue
		}
		msg, err := decodeMessage(raw)
		if err != nil {
			continue
		}
		msg.AvailableAt = time.Now().UnixNano()
		encoded, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		_ = w.R.ZAdd(ctx, k.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: string(encoded)}).Err()
		w.Logger.Warn().Str("kind", k.kind).Str("key", msg.Key).Msg("visibility timeout expired, task requeued")
	}
	if depth, err := w.R.ZCard(ctx, k.ready()).Result(); err == nil {
		QueueDepth.WithLabelValues(k.kind).Set(float64(depth))
	}
	return nil
}

func (w Worker) visibility() time.Duration {
	if w.VisibilityTimeout > 0 {
		return w.VisibilityTimeout
	}
	return defaultVisibility
}

func (w Worker) retryBase() time.Duration {
	if w.RetryBase > 0 {
		return w.RetryBase
	}
	return defaultRetryBase
}

// DeadLetters returns up to limit dead-lettered tasks of kind, newest first.
func DeadLetters(ctx context.Context, r *redis.Client, prefix, kind string, limit int) ([]DeadLetter, error) {
	if r == nil {
		return nil, errors.New("queue: redis client not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	k := keys{prefix: prefix, kind: sanitizeKind(kind)}
	raws, err := r.LRange(ctx, k.dlq(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]DeadLetter, 0, len(raws))
	for _, raw := range raws {
		var entry deadLetter
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		out = append(out, DeadLetter{Task: entry.Message.task(), Error: entry.Error, FailedAt: entry.FailedAt})
	}
	return out, nil
}

type keys struct {
	prefix string
	kind   string
}

func (k keys) base() string {
	if k.prefix == "" {
		return "queue"
	}
	return k.prefix + ":queue"
}

func (k keys) ready() string      { return k.base() + ":" + k.kind }
func (k keys) processing() string { return k.base() + ":" + k.kind + ":processing" }
func (k keys) dlq() string        { return k.base() + ":" + k.kind + ":dlq" }
func (k keys) dedup(key string) string {
	return k.base() + ":dedup:" + k.kind + ":" + key
}

func sanitizeKind(kind string) string {
	for i := 0; i < len(kind); i++ {
		c := kind[i]
		if c >= 'a' && c <= 'z' {
			continue
		}
		if c >= '0' && c <= '9' {
			continue
		}
		if c == '-' || c == '_' || c == ':' || c == '.' {
			continue
		}
		return ""
	}
	return kind
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func decodeMessage(raw string) (message, error) {
	var msg message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return message{}, err
	}
	return msg, nil
}

type message struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
}

func (m message) task() Task {
	return Task{Kind: m.Kind, Key: m.Key, Payload: m.Payload, Attempt: m.Attempt, MaxAttempts: m.MaxAttempts}
}

type deadLetter struct {
	Message  message   `json:"message"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}
