// Package registry validates outbox rows before they leave the database and
// routes each event type to its Pub/Sub topic.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-checkout/pkg/config"
	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox/payloads"
)

type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string

	decode func(row models.OutboxEvent, data json.RawMessage) (any, error)
}

// ResolvedEvent is a row that passed validation, with its typed payload.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	byType map[enums.OutboxEventType]EventDescriptor
}

func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if strings.TrimSpace(cfg.OrdersTopic) == "" {
		return nil, errors.New("orders topic is required")
	}
	return newRegistry(
		describe(enums.EventOrderPaid, enums.AggregateOrder, cfg.OrdersTopic, checkOrderPaid),
	), nil
}

func newRegistry(descs ...EventDescriptor) *EventRegistry {
	r := &EventRegistry{byType: make(map[enums.OutboxEventType]EventDescriptor, len(descs))}
	for _, d := range descs {
		r.byType[d.EventType] = d
	}
	return r
}

// describe builds a descriptor that decodes data into a *T and runs check on
// it. Unknown JSON fields are tolerated so producers can add fields first.
func describe[T any](eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string, check func(models.OutboxEvent, *T) error) EventDescriptor {
	return EventDescriptor{
		EventType:     eventType,
		AggregateType: aggregate,
		Topic:         topic,
		decode: func(row models.OutboxEvent, data json.RawMessage) (any, error) {
			payload := new(T)
			if err := json.Unmarshal(data, payload); err != nil {
				return nil, err
			}
			if check != nil {
				if err := check(row, payload); err != nil {
					return nil, err
				}
			}
			return payload, nil
		},
	}
}

func checkOrderPaid(row models.OutboxEvent, p *payloads.OrderPaidEvent) error {
	if p.OrderID != row.AggregateID {
		return fmt.Errorf("payload order %s does not match aggregate %s", p.OrderID, row.AggregateID)
	}
	if strings.TrimSpace(p.CheckoutSessionID) == "" {
		return errors.New("payload has no checkoutSessionId")
	}
	return nil
}

// Resolve returns a NonRetryableError for any row that can never be
// published as stored.
func (r *EventRegistry) Resolve(row models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.byType[row.EventType]
	switch {
	case !ok:
		return nil, permanent("unsupported event type %s", row.EventType)
	case row.AggregateType != desc.AggregateType:
		return nil, permanent("%s expects aggregate %s, row has %s", row.EventType, desc.AggregateType, row.AggregateType)
	case row.AggregateID == uuid.Nil:
		return nil, permanent("%s row has no aggregate_id", row.EventType)
	}

	var env outbox.PayloadEnvelope
	if err := json.Unmarshal(row.Payload, &env); err != nil {
		return nil, permanent("decode envelope: %v", err)
	}
	if data := bytes.TrimSpace(env.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, permanent("%s row has no data", row.EventType)
	}
	payload, err := desc.decode(row, env.Data)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", row.EventType, err))
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: env, Payload: payload}, nil
}

func permanent(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}
