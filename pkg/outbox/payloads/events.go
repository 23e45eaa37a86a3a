package payloads

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-checkout/pkg/enums"
)

// OrderPaidEvent is published once per fulfilled checkout session.
type OrderPaidEvent struct {
	OrderID           uuid.UUID                `json:"orderId"`
	StoreID           uuid.UUID                `json:"storeId"`
	CheckoutSessionID string                   `json:"checkoutSessionId"`
	PaymentIntentID   *string                  `json:"paymentIntentId,omitempty"`
	UserEmail         string                   `json:"userEmail"`
	TotalCents        int64                    `json:"totalCents"`
	AmountPaidCents   int64                    `json:"amountPaidCents"`
	Currency          string                   `json:"currency"`
	ItemCount         int                      `json:"itemCount"`
	ReviewReason      *enums.OrderReviewReason `json:"reviewReason,omitempty"`
	Source            string                   `json:"source"`
}
