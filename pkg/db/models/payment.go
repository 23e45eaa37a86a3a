package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/pkg/enums"
)

// Payment records one successful processor notification for an order.
type Payment struct {
	ID                      uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	StoreID                 uuid.UUID           `gorm:"column:store_id;type:uuid;not null;index:idx_payments_store_id"`
	OrderID                 uuid.UUID           `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_payments_order"`
	AmountCents             int64               `gorm:"column:amount_cents;not null"`
	Currency                enums.Currency      `gorm:"column:currency;type:text;not null"`
	Status                  enums.PaymentStatus `gorm:"column:status;type:text;not null"`
	StripePaymentIntentID   *string             `gorm:"column:stripe_payment_intent_id;type:text"`
	StripeCheckoutSessionID string              `gorm:"column:stripe_checkout_session_id;type:text;not null;uniqueIndex:ux_payments_checkout_session"`
	CreatedAt               time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
