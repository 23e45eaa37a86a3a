package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	"github.com/angelmondragon/storefront-checkout/pkg/types"
)

// Order is created once per paid checkout session. The unique index on the
// checkout session id is the authoritative idempotency key for fulfillment.
type Order struct {
	ID                      uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	StoreID                 uuid.UUID                `gorm:"column:store_id;type:uuid;not null;index:idx_orders_store_id"`
	UserEmail               string                   `gorm:"column:user_email;type:text;not null"`
	Status                  enums.OrderStatus        `gorm:"column:status;type:text;not null"`
	TotalCents              int64                    `gorm:"column:total_cents;not null"`
	Currency                enums.Currency           `gorm:"column:currency;type:text;not null"`
	StripeCheckoutSessionID string                   `gorm:"column:stripe_checkout_session_id;type:text;not null;uniqueIndex:ux_orders_checkout_session"`
	StripePaymentIntentID   *string                  `gorm:"column:stripe_payment_intent_id;type:text"`
	ShippingAddress         *types.ShippingAddress   `gorm:"column:shipping_address;type:jsonb"`
	ReviewReason            *enums.OrderReviewReason `gorm:"column:review_reason;type:text"`
	Items                   []OrderItem              `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt               time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
