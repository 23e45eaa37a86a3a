package checkout

import (
	"context"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/storefront-checkout/pkg/config"
	pkgstripe "github.com/angelmondragon/storefront-checkout/pkg/stripe"
)

const (
	ModeNameTest = "test"
	ModeNameLive = "live"
)

// Gateway creates hosted checkout sessions with the payment processor.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// PaymentMode is either TestMode or LiveMode. It is chosen once at startup.
type PaymentMode interface {
	Name() string
	paymentMode()
}

// TestMode completes checkouts locally through the fulfillment writer.
type TestMode struct{}

func (TestMode) Name() string { return ModeNameTest }
func (TestMode) paymentMode() {}

// LiveMode redirects buyers to the processor's hosted checkout.
type LiveMode struct {
	Gateway Gateway
}

func (LiveMode) Name() string { return ModeNameLive }
func (LiveMode) paymentMode() {}

// ModeFromConfig returns LiveMode when real processor credentials are
// configured, building the gateway with newGateway. Anything else falls back
// to TestMode.
func ModeFromConfig(cfg config.StripeConfig, newGateway func() (Gateway, error)) (PaymentMode, error) {
	if !pkgstripe.HasLiveCredentials(cfg) || newGateway == nil {
		return TestMode{}, nil
	}
	gateway, err := newGateway()
	if err != nil {
		return nil, err
	}
	return LiveMode{Gateway: gateway}, nil
}
