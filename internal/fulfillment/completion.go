package fulfillment

import (
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/types"
)

// Source names the path that produced a completion.
type Source string

const (
	SourceWebhook  Source = "webhook"
	SourceTestMode Source = "test_mode"
)

var (
	ErrMalformedCompletion = errors.New("malformed payment completion")
	ErrUnknownStore        = errors.New("store referenced by payment does not exist")
)

// Item is one product line carried through the payment processor.
type Item struct {
	ProductID uuid.UUID
	Quantity  int
}

// Completion is a confirmed payment for a checkout session.
type Completion struct {
	StoreID           uuid.UUID
	CheckoutSessionID string
	PaymentIntentID   *string
	Email             string
	AmountTotalCents  int64
	Currency          enums.Currency
	Items             []Item
	ShippingAddress   *types.ShippingAddress
	Source            Source
}

// Result reports what Fulfill did. Duplicate is true when an order already
// existed for the checkout session and nothing was written.
type Result struct {
	OrderID      uuid.UUID
	Duplicate    bool
	TotalCents   int64
	ReviewReason *enums.OrderReviewReason
}

func (c Completion) validate() error {
	fail := func(reason string) error {
		return pkgerrors.Wrap(pkgerrors.CodeMalformed, ErrMalformedCompletion, reason)
	}
	if strings.TrimSpace(c.CheckoutSessionID) == "" {
		return fail("checkout session id is required")
	}
	if c.StoreID == uuid.Nil {
		return fail("store id is required")
	}
	if len(c.Items) == 0 {
		return fail("at least one item is required")
	}
	for _, item := range c.Items {
		if item.ProductID == uuid.Nil || item.Quantity <= 0 {
			return fail("items must reference a product with a positive quantity")
		}
	}
	if c.AmountTotalCents < 0 {
		return fail("amount total cannot be negative")
	}
	if !c.Currency.IsValid() {
		return fail("currency is invalid")
	}
	return nil
}
