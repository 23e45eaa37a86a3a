package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/pkg/config"
	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/metrics"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox/payloads"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox/registry"
)

const (
	publishTimeout = 15 * time.Second
	errorCeiling   = 10 * time.Second
	jitterWindow   = 250 * time.Millisecond
)

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type topicClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type eventStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// sender publishes msg on topic and blocks until the server acks it.
type sender interface {
	Send(ctx context.Context, topic string, msg *gcppubsub.Message) error
	Stop()
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeRetry
	outcomeParked
)

type delivery struct {
	row     models.OutboxEvent
	topic   string
	eventID string
	result  outcome
	cause   error
}

type RelayParams struct {
	Outbox   config.OutboxConfig
	Logger   *logger.Logger
	DB       txRunner
	PubSub   topicClient
	Store    eventStore
	Registry eventResolver
	Sender   sender
	Metrics  *metrics.OutboxMetrics
	Now      func() time.Time
}

// Relay moves committed order events from outbox_events onto Pub/Sub and
// purges delivered rows once they age past the retention window.
type Relay struct {
	logg     *logger.Logger
	db       txRunner
	pubsub   topicClient
	store    eventStore
	registry eventResolver
	sender   sender
	metrics  *metrics.OutboxMetrics
	now      func() time.Time

	batchSize   int
	maxAttempts int
	poll        time.Duration
	retention   time.Duration
	purgeEvery  time.Duration
	lastPurge   time.Time
}

func NewRelay(p RelayParams) (*Relay, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database client is required")
	case p.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case p.Store == nil:
		return nil, errors.New("outbox store is required")
	case p.Registry == nil:
		return nil, errors.New("event registry is required")
	}

	r := &Relay{
		logg:        p.Logger,
		db:          p.DB,
		pubsub:      p.PubSub,
		store:       p.Store,
		registry:    p.Registry,
		sender:      p.Sender,
		metrics:     p.Metrics,
		now:         p.Now,
		batchSize:   positiveOr(p.Outbox.BatchSize, 50),
		maxAttempts: positiveOr(p.Outbox.MaxAttempts, 10),
		poll:        time.Duration(positiveOr(p.Outbox.PollIntervalMS, 500)) * time.Millisecond,
		retention:   time.Duration(p.Outbox.RetentionDays) * 24 * time.Hour,
		purgeEvery:  p.Outbox.PurgeInterval,
	}
	if r.sender == nil {
		r.sender = newTopicSender(p.PubSub)
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.purgeEvery <= 0 {
		r.purgeEvery = time.Hour
	}
	return r, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// Run drains pending events until ctx is canceled. A full batch is followed
// immediately by the next one; errors back off up to errorCeiling.
func (r *Relay) Run(ctx context.Context) error {
	defer r.sender.Stop()

	if err := r.db.Ping(ctx); err != nil {
		r.logg.Error(ctx, "database ping failed", err)
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := r.pubsub.Ping(ctx); err != nil {
		r.logg.Error(ctx, "pubsub ping failed", err)
		return fmt.Errorf("pubsub ping failed: %w", err)
	}

	wait := r.poll
	for {
		if err := ctx.Err(); err != nil {
			r.logg.Info(ctx, "order event relay stopping")
			return err
		}

		r.purgeIfDue(ctx)

		handled, err := r.drain(ctx)
		switch {
		case err != nil:
			r.logg.Error(ctx, "order event relay batch failed", err)
			wait = min(wait*2, errorCeiling)
		case handled > 0:
			wait = r.poll
			continue
		default:
			wait = r.poll
		}

		if err := sleepCtx(ctx, jittered(wait)); err != nil {
			return err
		}
	}
}

// drain settles one batch of pending rows inside a single transaction and
// returns how many rows it touched.
func (r *Relay) drain(ctx context.Context) (int, error) {
	handled := 0
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.store.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch pending order events: %w", err)
		}
		for _, row := range rows {
			if err := r.settle(ctx, tx, r.deliver(ctx, row)); err != nil {
				return err
			}
		}
		handled = len(rows)
		return nil
	})
	return handled, err
}

func (r *Relay) deliver(ctx context.Context, row models.OutboxEvent) delivery {
	d := delivery{row: row}
	resolved, err := r.registry.Resolve(row)
	if err != nil {
		d.result, d.cause = r.classify(err, row.AttemptCount+1)
		return d
	}
	d.topic = resolved.Descriptor.Topic
	d.eventID = resolved.Envelope.EventID

	sendCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := r.sender.Send(sendCtx, d.topic, orderMessage(row, resolved)); err != nil {
		d.result, d.cause = r.classify(err, row.AttemptCount+1)
		return d
	}
	d.result = outcomeDelivered
	return d
}

func (r *Relay) classify(err error, attempt int) (outcome, error) {
	var permanent registry.NonRetryableError
	if errors.As(err, &permanent) {
		return outcomeParked, err
	}
	if attempt >= r.maxAttempts {
		return outcomeParked, fmt.Errorf("gave up after %d attempts: %w", attempt, err)
	}
	return outcomeRetry, err
}

func (r *Relay) settle(ctx context.Context, tx *gorm.DB, d delivery) error {
	eventType := string(d.row.EventType)
	logCtx := r.logg.WithFields(ctx, d.fields())

	switch d.result {
	case outcomeDelivered:
		if err := r.store.MarkPublishedTx(tx, d.row.ID); err != nil {
			return fmt.Errorf("mark %s published: %w", d.row.ID, err)
		}
		r.metrics.IncPublished(eventType)
		r.logg.Info(logCtx, "order event delivered")
	case outcomeRetry:
		if err := r.store.MarkFailedTx(tx, d.row.ID, d.cause); err != nil {
			return fmt.Errorf("mark %s failed: %w", d.row.ID, err)
		}
		r.metrics.IncFailed(eventType)
		r.logg.Warn(r.logg.WithField(logCtx, "error", d.cause.Error()), "order event delivery failed, will retry")
	case outcomeParked:
		// Parked rows keep payload and last_error for manual replay.
		if err := r.store.MarkTerminalTx(tx, d.row.ID, d.cause, r.maxAttempts); err != nil {
			return fmt.Errorf("park %s: %w", d.row.ID, err)
		}
		r.metrics.IncTerminal(eventType)
		r.logg.Error(logCtx, "order event parked", d.cause)
	}
	return nil
}

func (d delivery) fields() map[string]any {
	f := map[string]any{
		"outbox_id":  d.row.ID.String(),
		"event_type": string(d.row.EventType),
		"attempt":    d.row.AttemptCount + 1,
	}
	if d.row.AggregateType == enums.AggregateOrder {
		f["order_id"] = d.row.AggregateID.String()
	} else {
		f["aggregate_id"] = d.row.AggregateID.String()
	}
	if d.topic != "" {
		f["topic"] = d.topic
	}
	if d.eventID != "" {
		f["event_id"] = d.eventID
	}
	return f
}

// orderMessage carries the stored envelope as the body. Attributes let
// subscribers filter without decoding it, e.g. on review_reason.
func orderMessage(row models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	env := resolved.Envelope
	attrs := map[string]string{
		"event_id":       env.EventID,
		"event_type":     string(row.EventType),
		"aggregate_type": string(row.AggregateType),
		"aggregate_id":   row.AggregateID.String(),
		"occurred_at":    env.OccurredAt.UTC().Format(time.RFC3339Nano),
		"schema_version": strconv.Itoa(env.Version),
	}
	if env.StoreID != nil {
		attrs["store_id"] = env.StoreID.String()
	}
	if paid, ok := resolved.Payload.(*payloads.OrderPaidEvent); ok {
		attrs["checkout_session_id"] = paid.CheckoutSessionID
		attrs["currency"] = paid.Currency
		if paid.ReviewReason != nil {
			attrs["review_reason"] = paid.ReviewReason.String()
		}
	}
	return &gcppubsub.Message{Data: row.Payload, Attributes: attrs}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func jittered(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}
