package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/pkg/config"
	dbpkg "github.com/angelmondragon/storefront-checkout/pkg/db"
	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox/payloads"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox/registry"
)

func TestRelayDeliversPaidOrderWithFilterAttributes(t *testing.T) {
	gdb := newRelayTestDB(t)
	storeID := uuid.New()
	reason := enums.ReviewInsufficientStock
	row := emitEvent(t, gdb, enums.EventOrderPaid, &storeID, payloads.OrderPaidEvent{
		OrderID:           uuid.New(),
		StoreID:           storeID,
		CheckoutSessionID: "cs_test_deliver",
		Currency:          "usd",
		TotalCents:        2599,
		AmountPaidCents:   2599,
		ItemCount:         2,
		ReviewReason:      &reason,
		Source:            "webhook",
	})
	sender := &recordingSender{}
	relay := newTestRelay(t, gdb, sender, config.OutboxConfig{BatchSize: 10, MaxAttempts: 3})

	handled, err := relay.drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, handled)

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	attrs := msgs[0].Attributes
	assert.Equal(t, string(enums.EventOrderPaid), attrs["event_type"])
	assert.Equal(t, row.AggregateID.String(), attrs["aggregate_id"])
	assert.Equal(t, storeID.String(), attrs["store_id"])
	assert.Equal(t, "cs_test_deliver", attrs["checkout_session_id"])
	assert.Equal(t, "usd", attrs["currency"])
	assert.Equal(t, "insufficient_stock", attrs["review_reason"])
	assert.Equal(t, "1", attrs["schema_version"])
	assert.NotEmpty(t, attrs["event_id"])
	assert.JSONEq(t, string(row.Payload), string(msgs[0].Data))

	stored := reloadEvent(t, gdb, row.ID)
	require.NotNil(t, stored.PublishedAt)
	assert.Nil(t, stored.LastError)

	handled, err = relay.drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, handled, "delivered rows are not picked up again")
	assert.Len(t, sender.messages(), 1)
}

func TestRelayOmitsReviewReasonForCleanOrders(t *testing.T) {
	gdb := newRelayTestDB(t)
	emitEvent(t, gdb, enums.EventOrderPaid, nil, payloads.OrderPaidEvent{
		OrderID:           uuid.New(),
		CheckoutSessionID: "cs_test_clean",
		Currency:          "eur",
	})
	sender := &recordingSender{}
	relay := newTestRelay(t, gdb, sender, config.OutboxConfig{BatchSize: 10, MaxAttempts: 3})

	_, err := relay.drain(context.Background())
	require.NoError(t, err)

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.NotContains(t, msgs[0].Attributes, "review_reason")
	assert.NotContains(t, msgs[0].Attributes, "store_id")
	assert.Equal(t, "eur", msgs[0].Attributes["currency"])
}

func TestRelayRetriesTransientFailuresPerRow(t *testing.T) {
	gdb := newRelayTestDB(t)
	failing := emitEvent(t, gdb, enums.EventOrderPaid, nil, payloads.OrderPaidEvent{OrderID: uuid.New(), CheckoutSessionID: "cs_test_fail"})
	healthy := emitEvent(t, gdb, enums.EventOrderPaid, nil, payloads.OrderPaidEvent{OrderID: uuid.New(), CheckoutSessionID: "cs_test_ok"})

	sender := &recordingSender{fail: func(msg *gcppubsub.Message) error {
		if msg.Attributes["checkout_session_id"] == "cs_test_fail" {
			return errors.New("broker unavailable")
		}
		return nil
	}}
	relay := newTestRelay(t, gdb, sender, config.OutboxConfig{BatchSize: 10, MaxAttempts: 3})

	handled, err := relay.drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, handled)

	retried := reloadEvent(t, gdb, failing.ID)
	assert.Nil(t, retried.PublishedAt)
	assert.Equal(t, 1, retried.AttemptCount)
	require.NotNil(t, retried.LastError)
	assert.Contains(t, *retried.LastError, "broker unavailable")
	assert.NotNil(t, reloadEvent(t, gdb, healthy.ID).PublishedAt)

	sender.setFail(nil)
	handled, err = relay.drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, handled)

	recovered := reloadEvent(t, gdb, failing.ID)
	require.NotNil(t, recovered.PublishedAt)
	assert.Nil(t, recovered.LastError)
}

func TestRelayParksAfterFinalAttempt(t *testing.T) {
	gdb := newRelayTestDB(t)
	row := emitEvent(t, gdb, enums.EventOrderPaid, nil, payloads.OrderPaidEvent{OrderID: uuid.New(), CheckoutSessionID: "cs_test_exhausted"})
	require.NoError(t, gdb.Model(&models.OutboxEvent{}).Where("id = ?", row.ID).Update("attempt_count", 1).Error)

	sender := &recordingSender{fail: func(*gcppubsub.Message) error { return errors.New("deadline exceeded") }}
	relay := newTestRelay(t, gdb, sender, config.OutboxConfig{BatchSize: 10, MaxAttempts: 2})

	handled, err := relay.drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, handled)

	parked := reloadEvent(t, gdb, row.ID)
	assert.Nil(t, parked.PublishedAt)
	assert.Equal(t, 2, parked.AttemptCount)
	require.NotNil(t, parked.LastError)
	assert.Contains(t, *parked.LastError, "gave up after 2 attempts")

	handled, err = relay.drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, handled)
	assert.Len(t, sender.messages(), 1)
}

func TestRelayParksUnknownEventWithoutSending(t *testing.T) {
	gdb := newRelayTestDB(t)
	row := emitEvent(t, gdb, enums.OutboxEventType("order_refunded"), nil, map[string]any{"orderId": uuid.NewString()})
	sender := &recordingSender{}
	relay := newTestRelay(t, gdb, sender, config.OutboxConfig{BatchSize: 10, MaxAttempts: 3})

	handled, err := relay.drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, handled)
	assert.Empty(t, sender.messages())

	parked := reloadEvent(t, gdb, row.ID)
	assert.Nil(t, parked.PublishedAt)
	assert.Equal(t, 3, parked.AttemptCount)
	require.NotNil(t, parked.LastError)
	assert.Contains(t, *parked.LastError, "unsupported event type")
}

func TestRelayPurgeHonoursRetentionAndInterval(t *testing.T) {
	gdb := newRelayTestDB(t)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	relay := newTestRelay(t, gdb, &recordingSender{}, config.OutboxConfig{
		MaxAttempts:   3,
		RetentionDays: 30,
		PurgeInterval: time.Hour,
	})
	relay.now = func() time.Time { return clock }

	stale := insertRow(t, gdb, clock.AddDate(0, 0, -45), ptrTime(clock.AddDate(0, 0, -40)), 0)
	fresh := insertRow(t, gdb, clock.AddDate(0, 0, -6), ptrTime(clock.AddDate(0, 0, -5)), 0)
	pending := insertRow(t, gdb, clock.AddDate(0, 0, -40), nil, 1)
	parked := insertRow(t, gdb, clock.AddDate(0, 0, -40), nil, 3)

	relay.purgeIfDue(context.Background())

	assert.False(t, rowExists(t, gdb, stale))
	assert.True(t, rowExists(t, gdb, fresh))
	assert.True(t, rowExists(t, gdb, pending), "undelivered rows are never purged")
	assert.True(t, rowExists(t, gdb, parked), "parked rows stay for replay")

	late := insertRow(t, gdb, clock.AddDate(0, 0, -50), ptrTime(clock.AddDate(0, 0, -50)), 0)
	clock = clock.Add(30 * time.Minute)
	relay.purgeIfDue(context.Background())
	assert.True(t, rowExists(t, gdb, late), "purge runs at most once per interval")

	clock = clock.Add(31 * time.Minute)
	relay.purgeIfDue(context.Background())
	assert.False(t, rowExists(t, gdb, late))
}

func TestRelayPurgeDisabledWithoutRetention(t *testing.T) {
	gdb := newRelayTestDB(t)
	relay := newTestRelay(t, gdb, &recordingSender{}, config.OutboxConfig{MaxAttempts: 3})
	old := time.Now().UTC().AddDate(-1, 0, 0)
	id := insertRow(t, gdb, old, &old, 0)

	relay.purgeIfDue(context.Background())

	assert.True(t, rowExists(t, gdb, id))
}

func TestRelayRunDeliversUntilContextEnds(t *testing.T) {
	gdb := newRelayTestDB(t)
	row := emitEvent(t, gdb, enums.EventOrderPaid, nil, payloads.OrderPaidEvent{OrderID: uuid.New(), CheckoutSessionID: "cs_test_run"})
	sender := &recordingSender{}
	relay := newTestRelay(t, gdb, sender, config.OutboxConfig{BatchSize: 5, MaxAttempts: 3, PollIntervalMS: 20})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := relay.Run(ctx)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, sender.wasStopped())
	require.Len(t, sender.messages(), 1)
	assert.NotNil(t, reloadEvent(t, gdb, row.ID).PublishedAt)
}

func TestRelayRunFailsFastWhenPubSubUnreachable(t *testing.T) {
	gdb := newRelayTestDB(t)
	sender := &recordingSender{}
	reg, err := registry.NewEventRegistry(config.PubSubConfig{OrdersTopic: "order-events"})
	require.NoError(t, err)
	relay, err := NewRelay(RelayParams{
		Logger:   discardLogger(),
		DB:       dbpkg.Wrap(gdb),
		PubSub:   stubTopics{pingErr: errors.New("topic order-events not found")},
		Store:    outbox.NewRepository(gdb),
		Registry: reg,
		Sender:   sender,
	})
	require.NoError(t, err)

	err = relay.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "pubsub ping failed")
	assert.True(t, sender.wasStopped())
}

func TestNewRelayAppliesDefaults(t *testing.T) {
	_, err := NewRelay(RelayParams{})
	require.Error(t, err)

	gdb := newRelayTestDB(t)
	relay := newTestRelay(t, gdb, &recordingSender{}, config.OutboxConfig{})
	assert.Equal(t, 50, relay.batchSize)
	assert.Equal(t, 10, relay.maxAttempts)
	assert.Equal(t, 500*time.Millisecond, relay.poll)
	assert.Equal(t, time.Hour, relay.purgeEvery)
	assert.Zero(t, relay.retention)
}

func TestTopicSenderRejectsUnknownTopic(t *testing.T) {
	s := newTopicSender(stubTopics{})

	err := s.Send(context.Background(), "missing", &gcppubsub.Message{Data: []byte(`{}`)})

	var permanent registry.NonRetryableError
	require.ErrorAs(t, err, &permanent)
	s.Stop()
}

func TestJitteredStaysWithinWindow(t *testing.T) {
	assert.Zero(t, jittered(0))
	for i := 0; i < 100; i++ {
		d := jittered(100 * time.Millisecond)
		require.GreaterOrEqual(t, d, 100*time.Millisecond)
		require.Less(t, d, 100*time.Millisecond+jitterWindow)
	}
}

func newRelayTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:relay_" + uuid.NewString() + "?mode=memory&cache=shared"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&models.OutboxEvent{}))
	return gdb
}

func newTestRelay(t *testing.T, gdb *gorm.DB, sender *recordingSender, cfg config.OutboxConfig) *Relay {
	t.Helper()
	reg, err := registry.NewEventRegistry(config.PubSubConfig{OrdersTopic: "order-events"})
	require.NoError(t, err)
	relay, err := NewRelay(RelayParams{
		Outbox:   cfg,
		Logger:   discardLogger(),
		DB:       dbpkg.Wrap(gdb),
		PubSub:   stubTopics{},
		Store:    outbox.NewRepository(gdb),
		Registry: reg,
		Sender:   sender,
	})
	require.NoError(t, err)
	return relay
}

func discardLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "order-event-relay-test", Output: io.Discard})
}

func emitEvent(t *testing.T, gdb *gorm.DB, eventType enums.OutboxEventType, storeID *uuid.UUID, data any) models.OutboxEvent {
	t.Helper()
	aggregateID := uuid.New()
	if paid, ok := data.(payloads.OrderPaidEvent); ok {
		aggregateID = paid.OrderID
	}
	emitter := outbox.NewService(outbox.NewRepository(gdb), nil)
	require.NoError(t, gdb.Transaction(func(tx *gorm.DB) error {
		return emitter.Emit(context.Background(), tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateOrder,
			AggregateID:   aggregateID,
			StoreID:       storeID,
			Data:          data,
		})
	}))
	var row models.OutboxEvent
	require.NoError(t, gdb.Where("aggregate_id = ?", aggregateID).First(&row).Error)
	return row
}

func insertRow(t *testing.T, gdb *gorm.DB, createdAt time.Time, publishedAt *time.Time, attempts int) uuid.UUID {
	t.Helper()
	row := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
		CreatedAt:     createdAt,
		PublishedAt:   publishedAt,
		AttemptCount:  attempts,
	}
	require.NoError(t, gdb.Create(&row).Error)
	return row.ID
}

func reloadEvent(t *testing.T, gdb *gorm.DB, id uuid.UUID) models.OutboxEvent {
	t.Helper()
	var row models.OutboxEvent
	require.NoError(t, gdb.First(&row, "id = ?", id).Error)
	return row
}

func rowExists(t *testing.T, gdb *gorm.DB, id uuid.UUID) bool {
	t.Helper()
	var count int64
	require.NoError(t, gdb.Model(&models.OutboxEvent{}).Where("id = ?", id).Count(&count).Error)
	return count == 1
}

func ptrTime(v time.Time) *time.Time {
	return &v
}

type recordingSender struct {
	mu      sync.Mutex
	sent    []*gcppubsub.Message
	fail    func(*gcppubsub.Message) error
	stopped bool
}

func (s *recordingSender) Send(_ context.Context, _ string, msg *gcppubsub.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	if s.fail != nil {
		return s.fail(msg)
	}
	return nil
}

func (s *recordingSender) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *recordingSender) setFail(fn func(*gcppubsub.Message) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fn
}

func (s *recordingSender) messages() []*gcppubsub.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*gcppubsub.Message(nil), s.sent...)
}

func (s *recordingSender) wasStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type stubTopics struct {
	pingErr error
}

func (s stubTopics) Ping(context.Context) error {
	return s.pingErr
}

func (stubTopics) Publisher(string) *gcppubsub.Publisher {
	return nil
}
