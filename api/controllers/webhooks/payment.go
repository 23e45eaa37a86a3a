package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/storefront-checkout/api/responses"
	paymentwebhook "github.com/angelmondragon/storefront-checkout/internal/webhooks/payment"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/metrics"
)

// SignatureHeader carries the processor's signature over the raw body.
const SignatureHeader = "Stripe-Signature"

const maxPayloadBytes = 256 << 10

type signatureVerifier interface {
	Verify(payload []byte, header, secret string) error
}

type eventHandler interface {
	HandleEvent(ctx context.Context, event *stripe.Event) (paymentwebhook.Outcome, error)
}

type eventGuard interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

type PaymentWebhookParams struct {
	Verifier signatureVerifier
	Service  eventHandler
	// Guard is optional; the orders table stays the authoritative duplicate
	// check. Events are marked only after HandleEvent returns without error.
	Guard   eventGuard
	Secret  string
	Timeout time.Duration
	Metrics *metrics.WebhookMetrics
	Logger  *logger.Logger
}

type ack struct {
	Received bool `json:"received"`
}

// PaymentWebhook authenticates a processor notification on its raw bytes and
// hands the parsed event to the fulfillment dispatcher. Every authenticated
// event that does not fail transiently is acknowledged with 200.
func PaymentWebhook(p PaymentWebhookParams) http.HandlerFunc {
	logg := p.Logger
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if p.Verifier == nil || p.Service == nil || p.Secret == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment webhook not configured"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
		if err != nil {
			p.Metrics.IncOutcome("unreadable")
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		if err := p.Verifier.Verify(payload, r.Header.Get(SignatureHeader), p.Secret); err != nil {
			switch {
			case errors.Is(err, paymentwebhook.ErrStaleTimestamp):
				p.Metrics.IncOutcome("stale_timestamp")
			default:
				p.Metrics.IncOutcome("invalid_signature")
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var event stripe.Event
		if err := json.Unmarshal(payload, &event); err != nil || event.ID == "" {
			if logg != nil {
				logg.Warn(ctx, "payment webhook payload unparseable; acknowledging")
			}
			p.Metrics.IncOutcome(string(paymentwebhook.OutcomeMalformed))
			responses.WriteSuccess(w, ack{Received: true})
			return
		}
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"event_id":   event.ID,
				"event_type": string(event.Type),
			})
		}

		if p.Guard != nil {
			seen, err := p.Guard.Seen(ctx, event.ID)
			switch {
			case err != nil:
				if logg != nil {
					logg.Error(ctx, "payment webhook idempotency check failed; continuing", err)
				}
			case seen:
				p.Metrics.IncOutcome(string(paymentwebhook.OutcomeDuplicate))
				responses.WriteSuccess(w, ack{Received: true})
				return
			}
		}

		handleCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			handleCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}

		outcome, err := p.Service.HandleEvent(handleCtx, &event)
		if err != nil {
			p.Metrics.IncOutcome("error")
			if pkgerrors.As(err) == nil {
				err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "process payment event")
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if p.Guard != nil {
			if markErr := p.Guard.MarkProcessed(ctx, event.ID); markErr != nil && logg != nil {
				logg.Error(ctx, "failed to mark payment webhook processed", markErr)
			}
		}

		p.Metrics.IncOutcome(string(outcome))
		if logg != nil {
			logg.Info(logg.WithField(ctx, "outcome", string(outcome)), "payment webhook handled")
		}
		responses.WriteSuccess(w, ack{Received: true})
	}
}
