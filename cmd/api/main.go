package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-checkout/api/controllers/webhooks"
	"github.com/angelmondragon/storefront-checkout/api/routes"
	"github.com/angelmondragon/storefront-checkout/internal/cart"
	"github.com/angelmondragon/storefront-checkout/internal/checkout"
	"github.com/angelmondragon/storefront-checkout/internal/fulfillment"
	"github.com/angelmondragon/storefront-checkout/internal/orders"
	product "github.com/angelmondragon/storefront-checkout/internal/products"
	"github.com/angelmondragon/storefront-checkout/internal/stores"
	paymentwebhook "github.com/angelmondragon/storefront-checkout/internal/webhooks/payment"
	"github.com/angelmondragon/storefront-checkout/pkg/config"
	"github.com/angelmondragon/storefront-checkout/pkg/db"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/metrics"
	"github.com/angelmondragon/storefront-checkout/pkg/migrate"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox"
	"github.com/angelmondragon/storefront-checkout/pkg/redis"
	pkgstripe "github.com/angelmondragon/storefront-checkout/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api exited with error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, dbClient.Close())
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, redisClient.Close())
	}()

	reg := prometheus.DefaultRegisterer

	storeRepo := stores.NewRepository(dbClient.DB())
	storeService, err := stores.NewService(storeRepo)
	if err != nil {
		return err
	}
	productRepo := product.NewRepository(dbClient.DB())
	pricer, err := cart.NewPricer(productRepo)
	if err != nil {
		return err
	}

	writer, err := fulfillment.NewWriter(fulfillment.WriterParams{
		TxRunner: dbClient,
		Stores:   storeRepo,
		Products: productRepo,
		Orders:   orders.NewRepository(dbClient.DB()),
		Outbox:   outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Metrics:  metrics.NewFulfillmentMetrics(reg),
		Logger:   logg,
	})
	if err != nil {
		return err
	}

	mode, err := checkout.ModeFromConfig(cfg.Stripe, func() (checkout.Gateway, error) {
		client, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
		if err != nil {
			return nil, err
		}
		return client, nil
	})
	if err != nil {
		return err
	}
	logg.Info(logg.WithField(ctx, "payment_mode", mode.Name()), "payment mode selected")

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		Stores:        storeService,
		Pricer:        pricer,
		Fulfiller:     writer,
		Mode:          mode,
		PublicBaseURL: cfg.App.PublicBaseURL,
		Metrics:       metrics.NewCheckoutMetrics(reg),
		Logger:        logg,
	})
	if err != nil {
		return err
	}

	webhookService, err := paymentwebhook.NewService(paymentwebhook.ServiceParams{
		Fulfiller: writer,
		Logger:    logg,
	})
	if err != nil {
		return err
	}
	guard, err := paymentwebhook.NewIdempotencyGuard(redisClient, cfg.Webhook.IdempotencyTTL, "payment-webhook")
	if err != nil {
		return err
	}
	if cfg.Stripe.WebhookSecret == "" {
		logg.Warn(ctx, "payment webhook secret not set; webhook deliveries will be rejected")
	}

	handler := routes.NewRouter(routes.Params{
		Config:   cfg,
		Logger:   logg,
		DB:       dbClient,
		Redis:    redisClient,
		Checkout: checkoutService,
		Webhook: webhooks.PaymentWebhookParams{
			Verifier: paymentwebhook.NewVerifier(cfg.Webhook.Tolerance, nil),
			Service:  webhookService,
			Guard:    guard,
			Secret:   cfg.Stripe.WebhookSecret,
			Timeout:  cfg.Webhook.Timeout,
			Metrics:  metrics.NewWebhookMetrics(reg),
			Logger:   logg,
		},
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	serverCtx := logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
		"mode": mode.Name(),
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(serverCtx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logg.Info(serverCtx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
