package main

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/payment-core/internal/common"
	"github.com/noah-isme/payment-core/internal/config"
	"github.com/noah-isme/payment-core/internal/health"
	"github.com/noah-isme/payment-core/internal/obs"
	"github.com/noah-isme/payment-core/internal/payment"
	"github.com/noah-isme/payment-core/internal/ratelimit"
	"github.com/noah-isme/payment-core/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)

	if cfg.TracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "payment-core",
			Endpoint:      cfg.OTLPEndpoint,
			Exporter:      "otlp",
			SamplingRatio: cfg.TraceSampleRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse redis url")
		}
		redisClient = redis.NewClient(redisOpts)
		if err := redisotel.InstrumentTracing(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis tracing")
		}
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("ping redis")
		}
	} else {
		logger.Warn().Msg("REDIS_URL not set, webhook replay dedupe and idempotency disabled")
	}

	providers := buildProviders(cfg, logger)
	active, ok := providers[cfg.Provider]
	if !ok {
		logger.Fatal().Str("provider", cfg.Provider).Msg("active provider not configured")
	}

	store := payment.NewMemoryStore()
	orders := payment.LogNotifier{Logger: logger}

	gateway, err := payment.NewGateway(active, store, orders, logger, cfg.ProviderTimeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise payment gateway")
	}

	dispatcher := &payment.Dispatcher{
		Providers: providers,
		Store:     store,
		Orders:    orders,
		ReplayTTL: cfg.WebhookTTL,
		Logger:    logger,
	}
	if redisClient != nil {
		dispatcher.Replay = redisClient
	}

	paymentHandlers := &payment.Handlers{Gateway: gateway, Store: store}

	httpMetrics := obs.NewHTTPMetrics(cfg.MetricsNamespace, nil, nil)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	healthHandler := health.Handler{
		Provider:     cfg.Provider,
		RedisTimeout: 300 * time.Millisecond,
	}
	if redisClient != nil {
		healthHandler.Checker = readinessChecker{redis: redisClient}
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	webhookLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "ratelimit:webhook:"},
		Config: ratelimit.Config{
			Key:    ratelimit.KeyByProviderIP,
			Window: cfg.WebhookRateLimitWindow,
			Max:    cfg.WebhookRateLimit,
		},
		OnError: func(err error) {
			logger.Error().Err(err).Msg("webhook rate limiter")
		},
	}

	r.Route("/api/v1", func(v chi.Router) {
		v.Route("/payments", func(p chi.Router) {
			p.Get("/{intentId}", paymentHandlers.Get)
			p.Group(func(writes chi.Router) {
				if redisClient != nil {
					writes.Use(common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}.Middleware)
				}
				writes.Post("/intent", paymentHandlers.Intent)
				writes.Post("/process", paymentHandlers.Process)
			})
		})
		v.With(webhookLimit.Middleware).Post("/webhooks/payment/{provider}", dispatcher.Handle)
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	logger.Info().Str("addr", srv.Addr).Str("provider", cfg.Provider).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
}

// buildProviders constructs every adapter that has enough configuration to
// operate. The mock is always available so webhook flows can be exercised in
// development.
func buildProviders(cfg *config.Config, logger zerolog.Logger) map[string]payment.Provider {
	providers := map[string]payment.Provider{
		"mock": payment.NewMock(payment.MockConfig{
			MinLatency:    cfg.MockMinLatency,
			MaxLatency:    cfg.MockMaxLatency,
			WebhookSecret: cfg.MockWebhookSecret,
			Rates: payment.OutcomeRates{
				Decline:           cfg.MockDeclineRate,
				InsufficientFunds: cfg.MockInsufficientRate,
				AuthRequired:      cfg.MockAuthRequiredRate,
			},
		}, rand.New(rand.NewSource(time.Now().UnixNano()))),
	}

	if cfg.StripeAPIKey != "" {
		providers["stripe"] = &payment.Stripe{
			APIKey:        cfg.StripeAPIKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			Client:        providerHTTPClient("stripe", logger),
		}
	}
	if cfg.PayPalAPIKey != "" {
		providers["paypal"] = &payment.PayPal{
			APIKey:        cfg.PayPalAPIKey,
			WebhookSecret: cfg.PayPalWebhookSecret,
			Client:        providerHTTPClient("paypal", logger),
		}
	}
	if cfg.SquareAPIKey != "" {
		providers["square"] = &payment.Square{
			APIKey:          cfg.SquareAPIKey,
			WebhookSecret:   cfg.SquareWebhookSecret,
			NotificationURL: cfg.SquareNotifyURL,
			Client:          providerHTTPClient("square", logger),
		}
	}
	return providers
}

func providerHTTPClient(name string, logger zerolog.Logger) *resilience.HTTPClient {
	breaker := resilience.NewBreaker(10, 0.5, 30*time.Second).
		WithTarget(name).
		WithLogger(logger)
	return &resilience.HTTPClient{
		Client:      &http.Client{Timeout: 30 * time.Second},
		Breaker:     breaker,
		BaseBackoff: 200 * time.Millisecond,
		MaxAttempts: 3,
		Jitter:      0.2,
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

type readinessChecker struct {
	redis *redis.Client
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}
