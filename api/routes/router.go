package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/storefront-checkout/api/controllers"
	webhookcontrollers "github.com/angelmondragon/storefront-checkout/api/controllers/webhooks"
	"github.com/angelmondragon/storefront-checkout/api/middleware"
	checkoutsvc "github.com/angelmondragon/storefront-checkout/internal/checkout"
	"github.com/angelmondragon/storefront-checkout/pkg/config"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/redis"
)

// RedisDeps is the slice of the Redis client the HTTP surface uses.
type RedisDeps interface {
	redis.IdempotencyStore
	Ping(ctx context.Context) error
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

type Params struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       controllers.Pinger
	Redis    RedisDeps
	Checkout checkoutsvc.Service
	Webhook  webhookcontrollers.PaymentWebhookParams
	// Metrics serves /metrics; promhttp.Handler() when nil.
	Metrics http.Handler
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	readiness := map[string]controllers.Pinger{"db": p.DB}
	if p.Redis != nil {
		readiness["redis"] = p.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg.App.Env))
		r.Get("/ready", controllers.HealthReady(cfg.App.Env, logg, readiness))
	})

	metricsHandler := p.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	checkoutPolicy := middleware.NewRateLimitPolicy(
		"checkout",
		cfg.Checkout.RateLimitWindow,
		cfg.Checkout.RateLimitPerIP,
	)

	var (
		limiter middleware.FixedWindowLimiter
		store   redis.IdempotencyStore
	)
	if p.Redis != nil {
		limiter, store = p.Redis, p.Redis
	}

	r.With(
		middleware.RateLimit(checkoutPolicy, limiter, logg),
		middleware.Idempotency(store, cfg.Checkout.IdempotencyTTL, logg),
	).Post("/stores/{slug}/checkout", controllers.Checkout(p.Checkout, cfg.Checkout.Timeout, logg))

	webhookParams := p.Webhook
	if webhookParams.Logger == nil {
		webhookParams.Logger = logg
	}
	r.Post("/webhooks/payment", webhookcontrollers.PaymentWebhook(webhookParams))

	return r
}
