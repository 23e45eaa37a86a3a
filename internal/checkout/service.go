package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/storefront-checkout/internal/cart"
	"github.com/angelmondragon/storefront-checkout/internal/checkout/metadata"
	"github.com/angelmondragon/storefront-checkout/internal/fulfillment"
	"github.com/angelmondragon/storefront-checkout/internal/stores"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/metrics"
	"github.com/angelmondragon/storefront-checkout/pkg/types"
)

// SessionIDPlaceholder is substituted by the processor in success URLs.
const SessionIDPlaceholder = "{CHECKOUT_SESSION_ID}"

var (
	ErrMissingEmail = errors.New("email is required")
	ErrCartTooLarge = metadata.ErrCartTooLarge
)

type storeResolver interface {
	ResolveActive(ctx context.Context, slug string) (*stores.StoreDTO, error)
}

type cartPricer interface {
	Price(ctx context.Context, store *stores.StoreDTO, items []cart.LineItem) (*cart.PricedCart, error)
}

// Request is a buyer's checkout submission. Items never carry prices.
type Request struct {
	Items           []cart.LineItem
	Email           string
	ShippingAddress *types.ShippingAddress
	SuccessURL      string
	CancelURL       string
}

// Session is what the buyer is redirected to.
type Session struct {
	CheckoutURL string
	SessionID   string
	Mode        string
	TotalCents  int64
	Currency    enums.Currency
	OrderID     *uuid.UUID
}

// Service starts checkouts.
type Service interface {
	Initiate(ctx context.Context, slug string, req Request) (*Session, error)
}

type ServiceParams struct {
	Stores        storeResolver
	Pricer        cartPricer
	Fulfiller     fulfillment.Fulfiller
	Mode          PaymentMode
	PublicBaseURL string
	Metrics       *metrics.CheckoutMetrics
	Logger        *logger.Logger
	Now           func() time.Time
}

type service struct {
	stores    storeResolver
	pricer    cartPricer
	fulfiller fulfillment.Fulfiller
	mode      PaymentMode
	baseURL   string
	metrics   *metrics.CheckoutMetrics
	logg      *logger.Logger
	now       func() time.Time
}

// NewService builds the checkout service.
func NewService(params ServiceParams) (Service, error) {
	if params.Stores == nil {
		return nil, fmt.Errorf("store resolver required")
	}
	if params.Pricer == nil {
		return nil, fmt.Errorf("cart pricer required")
	}
	if params.Mode == nil {
		return nil, fmt.Errorf("payment mode required")
	}
	switch m := params.Mode.(type) {
	case TestMode:
		if params.Fulfiller == nil {
			return nil, fmt.Errorf("fulfiller required in test mode")
		}
	case LiveMode:
		if m.Gateway == nil {
			return nil, fmt.Errorf("gateway required in live mode")
		}
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		stores:    params.Stores,
		pricer:    params.Pricer,
		fulfiller: params.Fulfiller,
		mode:      params.Mode,
		baseURL:   strings.TrimRight(params.PublicBaseURL, "/"),
		metrics:   params.Metrics,
		logg:      params.Logger,
		now:       now,
	}, nil
}

// Initiate validates and prices the cart server-side, then either completes
// it locally (test mode) or opens a hosted checkout session (live mode).
func (s *service) Initiate(ctx context.Context, slug string, req Request) (*Session, error) {
	started := s.now()
	session, err := s.initiate(ctx, slug, req)
	s.metrics.ObserveInitiate(s.mode.Name(), outcomeFor(err), s.now().Sub(started))
	return session, err
}

func (s *service) initiate(ctx context.Context, slug string, req Request) (*Session, error) {
	if err := cart.ValidateLineItems(req.Items); err != nil {
		return nil, err
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, ErrMissingEmail, "a valid email is required")
	}

	store, err := s.stores.ResolveActive(ctx, slug)
	if err != nil {
		return nil, err
	}
	if s.logg != nil {
		ctx = s.logg.WithStoreID(ctx, store.ID.String())
	}

	priced, err := s.pricer.Price(ctx, store, req.Items)
	if err != nil {
		return nil, err
	}

	var shipping *types.ShippingAddress
	if req.ShippingAddress != nil {
		normalized := req.ShippingAddress.Normalize()
		shipping = &normalized
	}

	successURL := req.SuccessURL
	if strings.TrimSpace(successURL) == "" {
		successURL = fmt.Sprintf("%s/stores/%s/checkout/success?session_id=%s", s.baseURL, store.Slug, SessionIDPlaceholder)
	}
	cancelURL := req.CancelURL
	if strings.TrimSpace(cancelURL) == "" {
		cancelURL = fmt.Sprintf("%s/stores/%s/cart", s.baseURL, store.Slug)
	}

	switch m := s.mode.(type) {
	case LiveMode:
		return s.openHostedSession(ctx, m.Gateway, store, priced, email, shipping, successURL, cancelURL)
	default:
		return s.completeLocally(ctx, store, priced, email, shipping, successURL)
	}
}

func (s *service) completeLocally(
	ctx context.Context,
	store *stores.StoreDTO,
	priced *cart.PricedCart,
	email string,
	shipping *types.ShippingAddress,
	successURL string,
) (*Session, error) {
	sessionID := "test_cs_" + uuid.NewString()
	paymentRef := "test_pi_" + uuid.NewString()

	items := make([]fulfillment.Item, 0, len(priced.Lines))
	for _, line := range priced.Lines {
		items = append(items, fulfillment.Item{ProductID: line.ProductID, Quantity: line.Quantity})
	}

	result, err := s.fulfiller.Fulfill(ctx, fulfillment.Completion{
		StoreID:           store.ID,
		CheckoutSessionID: sessionID,
		PaymentIntentID:   &paymentRef,
		Email:             email,
		AmountTotalCents:  priced.TotalCents,
		Currency:          priced.Currency,
		Items:             items,
		ShippingAddress:   shipping,
		Source:            fulfillment.SourceTestMode,
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"checkout_session_id": sessionID,
			"order_id":            result.OrderID.String(),
			"total_cents":         priced.TotalCents,
		}), "test mode checkout completed")
	}

	orderID := result.OrderID
	return &Session{
		CheckoutURL: withSessionID(successURL, sessionID),
		SessionID:   sessionID,
		Mode:        ModeNameTest,
		TotalCents:  priced.TotalCents,
		Currency:    priced.Currency,
		OrderID:     &orderID,
	}, nil
}

func (s *service) openHostedSession(
	ctx context.Context,
	gateway Gateway,
	store *stores.StoreDTO,
	priced *cart.PricedCart,
	email string,
	shipping *types.ShippingAddress,
	successURL, cancelURL string,
) (*Session, error) {
	refs := make([]metadata.Item, 0, len(priced.Lines))
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(priced.Lines))
	for _, line := range priced.Lines {
		refs = append(refs, metadata.Item{ProductID: line.ProductID, Quantity: line.Quantity})
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(int64(line.Quantity)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(string(priced.Currency)),
				UnitAmount: stripe.Int64(line.UnitPriceCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(line.Title),
				},
			},
		})
	}

	md, err := metadata.Encode(metadata.Checkout{
		StoreID:         store.ID,
		StoreSlug:       store.Slug,
		Items:           refs,
		ShippingAddress: shipping,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "cart is too large for a single checkout").
			WithDetails(map[string]any{"maxMetadataLength": metadata.MaxValueLength})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		CustomerEmail:     stripe.String(email),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(store.ID.String()),
		LineItems:         lineItems,
		Metadata:          md,
	}

	sess, err := gateway.CreateCheckoutSession(ctx, params)
	if err != nil {
		if s.logg != nil {
			s.logg.Error(ctx, "create checkout session failed", err)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment processor unavailable")
	}
	if sess == nil || sess.URL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment processor returned no checkout url")
	}

	if s.logg != nil {
		s.logg.Info(s.logg.WithCheckoutSession(ctx, sess.ID), "hosted checkout session created")
	}

	return &Session{
		CheckoutURL: sess.URL,
		SessionID:   sess.ID,
		Mode:        ModeNameLive,
		TotalCents:  priced.TotalCents,
		Currency:    priced.Currency,
	}, nil
}

// withSessionID fills the processor placeholder or appends session_id.
func withSessionID(raw, sessionID string) string {
	if strings.Contains(raw, SessionIDPlaceholder) {
		return strings.ReplaceAll(raw, SessionIDPlaceholder, url.QueryEscape(sessionID))
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String()
}

func outcomeFor(err error) string {
	if err == nil {
		return "created"
	}
	if typed := pkgerrors.As(err); typed != nil {
		return strings.ToLower(string(typed.Code()))
	}
	return "error"
}
