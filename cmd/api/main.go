package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-laundry/internal/app"
	"github.com/noah-isme/backend-laundry/internal/auth"
	"github.com/noah-isme/backend-laundry/internal/common"
	"github.com/noah-isme/backend-laundry/internal/config"
	"github.com/noah-isme/backend-laundry/internal/events"
	"github.com/noah-isme/backend-laundry/internal/health"
	"github.com/noah-isme/backend-laundry/internal/notify"
	"github.com/noah-isme/backend-laundry/internal/obs"
	"github.com/noah-isme/backend-laundry/internal/order"
	"github.com/noah-isme/backend-laundry/internal/pickup"
	"github.com/noah-isme/backend-laundry/internal/promo"
	"github.com/noah-isme/backend-laundry/internal/queue"
	"github.com/noah-isme/backend-laundry/internal/ratelimit"
	"github.com/noah-isme/backend-laundry/internal/security"
	"github.com/noah-isme/backend-laundry/internal/user"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)

	tracingEnabled := cfg.Obs.TracingEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "laundry-api",
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Exporter:      "otlp",
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var pool *pgxpool.Pool
	if cfg.UsesPostgres() {
		if cfg.MigrateOnStart {
			if err := app.RunMigrations(cfg.DatabaseURL); err != nil {
				logger.Fatal().Err(err).Msg("run migrations")
			}
		}
		pool, err = app.OpenPostgres(startCtx, cfg.DatabaseURL, "laundry-api")
		if err != nil {
			logger.Fatal().Err(err).Msg("open database")
		}
		defer pool.Close()
	} else {
		logger.Warn().Msg("using in-memory storage; data is lost on restart")
	}

	redisClient, err := app.OpenRedis(startCtx, cfg.RedisURL, cfg.Obs.MetricsEnabled, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open redis")
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
	} else {
		logger.Warn().Msg("REDIS_URL not set; locks, rate limits and notifications run in-process")
	}

	stores := app.NewStores(pool)
	validate := common.NewValidator()

	authService, err := auth.NewService(auth.Config{
		Secret:         cfg.JWTSecret,
		AccessTokenTTL: cfg.AccessTokenTTL,
		Issuer:         cfg.JWTIssuer,
		Audience:       cfg.JWTAudience,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth service")
	}
	authMiddleware := auth.Middleware{Service: authService}

	var notifiers []events.Notifier
	if redisClient != nil {
		notifiers = append(notifiers, notify.QueueNotifier{
			Queue: queue.Enqueuer{
				R:           redisClient,
				Prefix:      cfg.QueuePrefix,
				DedupTTL:    cfg.IdempotencyTTL,
				MaxAttempts: cfg.QueueMaxAttempts,
			},
			MaxAttempts: cfg.QueueMaxAttempts,
		})
	}
	bus := &events.Bus{Store: stores.Events, Notifiers: notifiers}

	userService := &user.Service{
		Store:       stores.Users,
		R:           redisClient,
		TTL:         cfg.UserStatsCacheTTL,
		MaxAttempts: cfg.QueueMaxAttempts,
		Logger:      obs.Component(logger, "user"),
	}
	taskClient, err := app.NewTaskClient(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise task client")
	}
	if taskClient != nil {
		userService.Tasks = taskClient
		defer func() { _ = taskClient.Close() }()
	}

	promoService := &promo.Service{
		Repo:    stores.Promos,
		Events:  bus,
		History: userService,
		Logger:  obs.Component(logger, "promo"),
	}
	orderService := &order.Service{
		Repo:    stores.Orders,
		Promos:  promoService,
		Pricing: cfg.Pricing,
		Tracker: order.Tracker{Strict: cfg.StrictTransitions},
		Locker:  app.NewLocker(redisClient, cfg.LockRetryBackoff),
		LockTTL: cfg.LockTTL,
		Stats:   userService,
		Events:  bus,
		Logger:  obs.Component(logger, "order"),
		Now:     time.Now,
	}

	pickupService := &pickup.Service{
		Repo:    stores.Pickups,
		Locker:  orderService.Locker,
		LockTTL: cfg.LockTTL,
		Events:  bus,
		Logger:  obs.Component(logger, "pickup"),
		Now:     time.Now,
	}

	orderHandler := &order.Handler{Svc: orderService, Validate: validate}
	orderAdmin := &order.AdminHandler{Svc: orderService, Validate: validate}
	pickupHandler := &pickup.Handler{Svc: pickupService, Validate: validate}
	pickupAdmin := &pickup.AdminHandler{Svc: pickupService, Validate: validate}
	promoHandler := &promo.Handler{Svc: promoService, Validate: validate}
	promoAdmin := &promo.AdminHandler{Svc: promoService, Validate: validate}
	userHandler := &user.Handler{Service: userService}

	orderLimit, promoLimit := mustRateLimits(cfg, redisClient, logger)
	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	var httpMetrics *obs.HTTPMetrics
	if cfg.Obs.MetricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, nil, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(authMiddleware.Authenticate)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.AppEnv == "production"}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Total-Count", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if cfg.Obs.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	healthHandler := health.Handler{Probes: app.Probes(pool, redisClient)}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.With(orderLimit.Middleware, idem.Middleware).Post("/orders", orderHandler.Create)
		v.With(promoLimit.Middleware).Post("/promos/validate", promoHandler.ValidateCode)

		v.Group(func(authR chi.Router) {
			authR.Use(authMiddleware.RequireAuth)
			authR.Get("/orders", orderHandler.List)
			authR.Get("/orders/{orderId}", orderHandler.Get)
			authR.Put("/orders/{orderId}/cancel", orderHandler.Cancel)
			authR.Post("/orders/{orderId}/review", orderHandler.Review)
			authR.Post("/pickups", pickupHandler.Create)
			authR.Get("/pickups", pickupHandler.List)
			authR.Get("/pickups/{pickupId}", pickupHandler.Get)
			authR.Put("/pickups/{pickupId}/cancel", pickupHandler.Cancel)
			authR.Get("/users/me/stats", userHandler.Stats)
		})

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(authMiddleware.RequireRole(common.RoleAdmin))
			admin.Get("/orders", orderAdmin.List)
			admin.Get("/orders/{id}", orderAdmin.Get)
			admin.Put("/orders/{id}/status", orderAdmin.PatchStatus)
			admin.Put("/orders/{id}/cancel", orderAdmin.Cancel)
			admin.Post("/orders/{id}/notes", orderAdmin.AddNote)

			admin.Get("/pickups", pickupAdmin.List)
			admin.Put("/pickups/{id}/status", pickupAdmin.PatchStatus)
			admin.Put("/pickups/{id}/assign", pickupAdmin.Assign)

			admin.Get("/promos", promoAdmin.List)
			admin.Post("/promos", promoAdmin.Create)
			admin.Get("/promos/{id}", promoAdmin.Get)
			admin.Put("/promos/{id}", promoAdmin.Update)
			admin.Delete("/promos/{id}", promoAdmin.Delete)
			admin.Get("/promos/{id}/stats", promoAdmin.Stats)
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("storage", cfg.StorageDriver).Msg("server starting")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
		health.SetReady(false)
		logger.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}
	logger.Info().Msg("server stopped")
}

func mustRateLimits(cfg *config.Config, rdb *redis.Client, logger zerolog.Logger) (ratelimit.Handler, ratelimit.Handler) {
	store, err := app.NewLimiterStore(rdb)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise limiter store")
	}
	orders, err := ratelimit.NewFixedWindow(store, cfg.OrderCreateRate)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse RATE_LIMIT_ORDER_CREATE")
	}
	onError := func(err error) {
		logger.Error().Err(err).Msg("rate limiter unavailable")
	}

	var promos ratelimit.Allower = ratelimit.Limiter{
		Client: rdb,
		Prefix: "laundry:ratelimit:",
		Window: cfg.PromoValidateLimit.Period,
		Max:    cfg.PromoValidateLimit.Max,
	}
	if rdb == nil {
		promos = ratelimit.NewFixedWindowRate(store, cfg.PromoValidateLimit.Max, cfg.PromoValidateLimit.Period)
	}
	return ratelimit.Handler{Limiter: orders, Key: ratelimit.KeyByUserOrIP("order-create"), OnError: onError},
		ratelimit.Handler{Limiter: promos, Key: ratelimit.KeyByUserOrIP("promo-validate"), OnError: onError}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}
