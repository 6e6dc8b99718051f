package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/backend-laundry/internal/app"
	"github.com/noah-isme/backend-laundry/internal/config"
	"github.com/noah-isme/backend-laundry/internal/notify"
	"github.com/noah-isme/backend-laundry/internal/obs"
	"github.com/noah-isme/backend-laundry/internal/queue"
	"github.com/noah-isme/backend-laundry/internal/resilience"
	"github.com/noah-isme/backend-laundry/internal/user"
)

func main() {
	inspectDLQ := flag.Int("dead-letters", 0, "print up to N dead-lettered notifications and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.Component(obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel), "worker")
	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if cfg.RedisURL == "" {
		logger.Fatal().Err(app.ErrRedisRequired).Msg("worker cannot start")
	}
	redisClient, err := app.OpenRedis(startCtx, cfg.RedisURL, cfg.Obs.MetricsEnabled, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open redis")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	if *inspectDLQ > 0 {
		letters, err := queue.DeadLetters(startCtx, redisClient, cfg.QueuePrefix, notify.TaskKind, *inspectDLQ)
		if err != nil {
			logger.Fatal().Err(err).Msg("read dead letters")
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(letters)
		return
	}

	var pool *pgxpool.Pool
	if cfg.UsesPostgres() {
		pool, err = app.OpenPostgres(startCtx, cfg.DatabaseURL, "laundry-worker")
		if err != nil {
			logger.Fatal().Err(err).Msg("open database")
		}
		defer pool.Close()
	}
	stores := app.NewStores(pool)

	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect rabbitmq")
	}
	defer func() { _ = conn.Close() }()

	breaker := resilience.NewBreaker(cfg.CircuitNotify.MinRequests, cfg.CircuitNotify.FailureRatio, cfg.CircuitNotify.OpenFor).
		WithTarget("notify").
		WithLogger(logger)
	publisher := notify.NewPublisher(conn, cfg.NotifyExchange, breaker)
	defer func() { _ = publisher.Close() }()

	notifyWorker := queue.Worker{
		R:           redisClient,
		Prefix:      cfg.QueuePrefix,
		Kind:        notify.TaskKind,
		Concurrency: cfg.QueueConcurrency,
		Handler:     notify.Handler{Publisher: publisher, Logger: obs.Component(logger, "notify")}.Handle,
		Logger:      obs.Component(logger, "queue"),
	}

	userService := &user.Service{
		Store:  stores.Users,
		R:      redisClient,
		TTL:    cfg.UserStatsCacheTTL,
		Logger: obs.Component(logger, "user"),
	}
	redisOpt, err := app.TaskRedisOpt(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("asynq redis options")
	}
	taskServer := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.QueueConcurrency,
		Logger:      asynqLogger{logger: obs.Component(logger, "asynq")},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error().Err(err).Str("task", task.Type()).Msg("task failed")
		}),
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(user.TaskRecordOrder, userService.HandleRecordOrder)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return notifyWorker.Run(gctx)
	})
	g.Go(func() error {
		if err := taskServer.Start(mux); err != nil {
			return fmt.Errorf("start asynq server: %w", err)
		}
		<-gctx.Done()
		taskServer.Shutdown()
		return nil
	})

	logger.Info().Str("exchange", cfg.NotifyExchange).Msg("worker starting")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
		return
	}
	logger.Info().Msg("worker shutdown complete")
}

// asynqLogger routes asynq's internal logging through zerolog.
type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{}) { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{}) { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
