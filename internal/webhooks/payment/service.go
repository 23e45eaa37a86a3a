package paymentwebhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/storefront-checkout/internal/checkout/metadata"
	"github.com/angelmondragon/storefront-checkout/internal/fulfillment"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
)

// Outcome describes how an authenticated event was handled. Every outcome is
// acknowledged to the processor; only errors ask for a retry.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomePending   Outcome = "pending"
	OutcomeMalformed Outcome = "malformed"
)

var ErrMalformedEvent = errors.New("payment event malformed")

type ServiceParams struct {
	Fulfiller fulfillment.Fulfiller
	Logger    *logger.Logger
}

type Service struct {
	fulfiller fulfillment.Fulfiller
	logg      *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Fulfiller == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "fulfiller required")
	}
	return &Service{fulfiller: params.Fulfiller, logg: params.Logger}, nil
}

// HandleEvent dispatches a verified event. Completed sessions that are paid
// (or need no payment) and async successes are fulfilled; everything else is
// acknowledged without writes.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (Outcome, error) {
	if event == nil || event.Data == nil {
		return s.malformed(ctx, errors.New("event data missing"))
	}
	if s.logg != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{
			"event_id":   event.ID,
			"event_type": string(event.Type),
		})
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
	default:
		return OutcomeIgnored, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return s.malformed(ctx, err)
	}

	if event.Type == stripe.EventTypeCheckoutSessionCompleted &&
		sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid &&
		sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
		if s.logg != nil {
			s.logg.Info(s.logg.WithCheckoutSession(ctx, sess.ID), "checkout completed without payment yet; waiting for async result")
		}
		return OutcomePending, nil
	}

	completion, err := completionFromSession(&sess)
	if err != nil {
		return s.malformed(ctx, err)
	}

	result, err := s.fulfiller.Fulfill(ctx, completion)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeMalformed) {
			return s.malformed(ctx, err)
		}
		return "", err
	}
	if result.Duplicate {
		return OutcomeDuplicate, nil
	}
	return OutcomeProcessed, nil
}

func (s *Service) malformed(ctx context.Context, cause error) (Outcome, error) {
	if s.logg != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", cause.Error()), "payment event malformed; acknowledging without retry")
	}
	return OutcomeMalformed, nil
}

func completionFromSession(sess *stripe.CheckoutSession) (fulfillment.Completion, error) {
	if sess.ID == "" {
		return fulfillment.Completion{}, errors.Join(ErrMalformedEvent, errors.New("checkout session id missing"))
	}
	md, err := metadata.Decode(sess.Metadata)
	if err != nil {
		return fulfillment.Completion{}, errors.Join(ErrMalformedEvent, err)
	}
	currency, err := enums.ParseCurrency(string(sess.Currency))
	if err != nil {
		return fulfillment.Completion{}, errors.Join(ErrMalformedEvent, err)
	}

	email := strings.TrimSpace(sess.CustomerEmail)
	if email == "" && sess.CustomerDetails != nil {
		email = strings.TrimSpace(sess.CustomerDetails.Email)
	}

	var paymentIntentID *string
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		id := sess.PaymentIntent.ID
		paymentIntentID = &id
	}

	items := make([]fulfillment.Item, 0, len(md.Items))
	for _, item := range md.Items {
		items = append(items, fulfillment.Item{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	return fulfillment.Completion{
		StoreID:           md.StoreID,
		CheckoutSessionID: sess.ID,
		PaymentIntentID:   paymentIntentID,
		Email:             email,
		AmountTotalCents:  sess.AmountTotal,
		Currency:          currency,
		Items:             items,
		ShippingAddress:   md.ShippingAddress,
		Source:            fulfillment.SourceWebhook,
	}, nil
}
