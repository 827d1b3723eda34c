package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/vending-relay/internal/checkout"
	"github.com/noah-isme/vending-relay/internal/common"
	"github.com/noah-isme/vending-relay/internal/config"
	"github.com/noah-isme/vending-relay/internal/events"
	"github.com/noah-isme/vending-relay/internal/feedback"
	"github.com/noah-isme/vending-relay/internal/gateway"
	"github.com/noah-isme/vending-relay/internal/health"
	"github.com/noah-isme/vending-relay/internal/lock"
	"github.com/noah-isme/vending-relay/internal/obs"
	"github.com/noah-isme/vending-relay/internal/push"
	"github.com/noah-isme/vending-relay/internal/ratelimit"
	"github.com/noah-isme/vending-relay/internal/reconcile"
	"github.com/noah-isme/vending-relay/internal/txn"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "vending_relay")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.StoreDriver == "redis" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse redis url")
		}
		redisClient = redis.NewClient(opts)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
		pingCtx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("ping redis")
		}
	}

	var store txn.Store
	var locker lock.Locker
	var limiter ratelimit.Limiter
	switch cfg.StoreDriver {
	case "redis":
		store = txn.NewRedisStore(redisClient, cfg.TxnTTL)
		locker = lock.RedisLocker{R: redisClient, Prefix: "lock:"}
		limiter = ratelimit.Redis{Client: redisClient, Prefix: "rl:create:"}
	default:
		memStore := txn.NewMemoryStore(cfg.TxnTTL)
		memStore.StartSweeper(rootCtx, cfg.SweepEvery)
		store = memStore
		locker = lock.NewKeyedMutex()
		limiter = ratelimit.NewMemory()
	}

	gatewayClient := gateway.NewHTTPClient(cfg.GatewayAccessToken, cfg.GatewayBaseURL, cfg.GatewayTimeout, cfg.GatewaySandbox)

	registry := push.NewRegistry(logger)
	pushHandler := push.NewHandler(registry, cfg.PushPingInterval, cfg.PushPongWait, cfg.PushWriteTimeout, logger)

	bus := &events.Bus{
		Notifiers: []events.Notifier{push.ApprovedNotifier{Registry: registry}},
		Logger:    logger,
	}

	checkoutSvc := checkout.NewService(store, gatewayClient, locker, cfg.LockTTL, cfg.PublicBaseURL, cfg.FrontendBaseURL, logger)
	checkoutHandler := checkout.Handler{Service: checkoutSvc}

	reconciler := &reconcile.Reconciler{
		Store:   store,
		Gateway: gatewayClient,
		Locker:  locker,
		LockTTL: cfg.LockTTL,
		Events:  bus,
		Logger:  logger,
	}
	webhookHandler := reconcile.Webhook{
		Reconciler: reconciler,
		Replay:     redisClient,
		ReplayTTL:  cfg.WebhookReplayTTL,
		Logger:     logger,
	}

	feedbackPage := feedback.NewPage()

	createLimiter := ratelimit.Handler{
		Limiter: limiter,
		Config: ratelimit.Config{
			Key:    common.ClientIP,
			Window: cfg.CreateRateWindow,
			Max:    cfg.CreateRateMax,
		},
		OnError: func(err error) {
			logger.Warn().Err(err).Msg("rate limiter unavailable")
		},
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{redis: redisClient},
		StoreTimeout: envDurationMillis("HEALTH_READY_STORE_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.With(createLimiter.Middleware).Post("/create-payment", checkoutHandler.Create)
	r.Get("/payment-status", checkoutHandler.Status)
	r.Post("/payment-webhook", webhookHandler.Handle)
	r.Get("/payment-webhook", webhookHandler.Handle)
	r.Get("/payment-feedback", feedbackPage.Handle)
	r.Get("/ws", pushHandler.Serve)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	go func() {
		<-rootCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown server")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Str("store", cfg.StoreDriver).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

// readinessChecker probes the transaction store. A nil redis client means the
// in-memory store is in use, which has nothing to probe.
type readinessChecker struct {
	redis *redis.Client
}

func (c readinessChecker) PingStore(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int64) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(strings.TrimSpace(val) + "ms"); err == nil {
			return parsed
		}
	}
	return time.Duration(fallback) * time.Millisecond
}
