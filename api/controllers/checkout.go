package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-checkout/api/responses"
	"github.com/angelmondragon/storefront-checkout/api/validators"
	"github.com/angelmondragon/storefront-checkout/internal/cart"
	checkoutsvc "github.com/angelmondragon/storefront-checkout/internal/checkout"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/types"
)

// Checkout starts a checkout for the store named by the {slug} path value.
// Client-sent prices are never read; the body type has no field for them.
func Checkout(svc checkoutsvc.Service, timeout time.Duration, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		slug := strings.TrimSpace(chi.URLParam(r, "slug"))
		if slug == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "store slug is required"))
			return
		}
		if logg != nil {
			ctx = logg.WithField(ctx, "store_slug", slug)
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		session, err := svc.Initiate(ctx, slug, payload.toServiceRequest())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCheckoutResponse(session))
	}
}

type checkoutItemRequest struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
}

type checkoutRequest struct {
	Items           []checkoutItemRequest  `json:"items" validate:"max=100"`
	Email           string                 `json:"email"`
	ShippingAddress *types.ShippingAddress `json:"shippingAddress,omitempty"`
	SuccessURL      string                 `json:"successUrl,omitempty" validate:"omitempty,url"`
	CancelURL       string                 `json:"cancelUrl,omitempty" validate:"omitempty,url"`
}

func (c checkoutRequest) toServiceRequest() checkoutsvc.Request {
	items := make([]cart.LineItem, 0, len(c.Items))
	for _, item := range c.Items {
		items = append(items, cart.LineItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return checkoutsvc.Request{
		Items:           items,
		Email:           validators.SanitizeString(c.Email, 254),
		ShippingAddress: c.ShippingAddress,
		SuccessURL:      strings.TrimSpace(c.SuccessURL),
		CancelURL:       strings.TrimSpace(c.CancelURL),
	}
}

type checkoutResponse struct {
	CheckoutURL string     `json:"checkoutUrl"`
	SessionID   string     `json:"sessionId"`
	Mode        string     `json:"mode"`
	Total       string     `json:"total"`
	Currency    string     `json:"currency"`
	OrderID     *uuid.UUID `json:"orderId,omitempty"`
}

func newCheckoutResponse(s *checkoutsvc.Session) checkoutResponse {
	if s == nil {
		return checkoutResponse{}
	}
	return checkoutResponse{
		CheckoutURL: s.CheckoutURL,
		SessionID:   s.SessionID,
		Mode:        s.Mode,
		Total:       types.FormatMinorUnits(s.TotalCents, s.Currency.String()),
		Currency:    s.Currency.String(),
		OrderID:     s.OrderID,
	}
}
