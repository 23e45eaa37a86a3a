package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderItem snapshots the unit price at the time of sale. StockCommitted is
// false when the conditional stock decrement could not be applied.
type OrderItem struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;not null;index:idx_order_items_order_id"`
	StoreID        uuid.UUID `gorm:"column:store_id;type:uuid;not null"`
	ProductID      uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	Title          string    `gorm:"column:title;type:text;not null"`
	Quantity       int       `gorm:"column:quantity;not null"`
	PriceCents     int64     `gorm:"column:price_cents;not null"`
	StockCommitted bool      `gorm:"column:stock_committed;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// LineTotalCents returns PriceCents * Quantity.
func (i OrderItem) LineTotalCents() int64 {
	return i.PriceCents * int64(i.Quantity)
}
