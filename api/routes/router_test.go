package routes

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/stripe/stripe-go/v84"

	webhookcontrollers "github.com/angelmondragon/storefront-checkout/api/controllers/webhooks"
	checkoutsvc "github.com/angelmondragon/storefront-checkout/internal/checkout"
	paymentwebhook "github.com/angelmondragon/storefront-checkout/internal/webhooks/payment"
	"github.com/angelmondragon/storefront-checkout/pkg/config"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type fakeRedis struct {
	mu     sync.Mutex
	data   map[string]string
	counts map[string]int64
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, counts: map[string]int64{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = fmt.Sprintf("%v", value)
	return nil
}

func (f *fakeRedis) IdempotencyKey(scope, id string) string {
	return "test:idem:" + scope + ":" + id
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeRedis) Ping(context.Context) error { return nil }

func (f *fakeRedis) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[scope]++
	return f.counts[scope] <= limit, f.counts[scope], nil
}

type countingCheckout struct {
	mu    sync.Mutex
	calls int
}

func (c *countingCheckout) Initiate(_ context.Context, slug string, _ checkoutsvc.Request) (*checkoutsvc.Session, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return &checkoutsvc.Session{
		CheckoutURL: "http://localhost/stores/" + slug + "/checkout/success?session_id=test_cs_x",
		SessionID:   "test_cs_x",
		Mode:        checkoutsvc.ModeNameTest,
		TotalCents:  1000,
		Currency:    enums.Currency("usd"),
	}, nil
}

type ignoringWebhookService struct{}

func (ignoringWebhookService) HandleEvent(context.Context, *stripe.Event) (paymentwebhook.Outcome, error) {
	return paymentwebhook.OutcomeIgnored, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test"},
		Checkout: config.CheckoutConfig{
			RateLimitWindow: time.Minute,
			RateLimitPerIP:  2,
			Timeout:         time.Second,
			IdempotencyTTL:  time.Hour,
		},
	}
}

func newTestRouter(checkout *countingCheckout) http.Handler {
	reg := prometheus.NewRegistry()
	return NewRouter(Params{
		Config:   testConfig(),
		DB:       stubPinger{},
		Redis:    newFakeRedis(),
		Checkout: checkout,
		Webhook: webhookcontrollers.PaymentWebhookParams{
			Verifier: paymentwebhook.NewVerifier(0, nil),
			Service:  ignoringWebhookService{},
			Secret:   "whsec_test",
		},
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
}

func checkoutBody() string {
	return `{"items":[{"productId":"` + uuid.NewString() + `","quantity":1}],"email":"a@b.co"}`
}

func TestRouterHealthAndMetrics(t *testing.T) {
	router := newTestRouter(&countingCheckout{})

	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown route, got %d", rec.Code)
	}
}

func TestRouterCheckoutIsRateLimited(t *testing.T) {
	checkout := &countingCheckout{}
	router := newTestRouter(checkout)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/stores/acme/checkout", strings.NewReader(checkoutBody()))
		req.RemoteAddr = "10.1.1.1:4000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}
	if checkout.calls != 2 {
		t.Fatalf("expected 2 checkouts, got %d", checkout.calls)
	}
}

func TestRouterCheckoutReplaysIdempotencyKey(t *testing.T) {
	checkout := &countingCheckout{}
	router := newTestRouter(checkout)
	body := checkoutBody()

	var last *httptest.ResponseRecorder
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/stores/acme/checkout", strings.NewReader(body))
		req.Header.Set("Idempotency-Key", "order-attempt-1")
		last = httptest.NewRecorder()
		router.ServeHTTP(last, req)
		if last.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i, last.Code)
		}
	}
	if checkout.calls != 1 {
		t.Fatalf("expected a single checkout, got %d", checkout.calls)
	}
	if !strings.Contains(last.Body.String(), `"sessionId":"test_cs_x"`) {
		t.Fatalf("unexpected replay body %s", last.Body.String())
	}
}

func TestRouterWebhookRejectsUnsigned(t *testing.T) {
	router := newTestRouter(&countingCheckout{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(`{"id":"evt_1"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id middleware on webhook route")
	}
}
