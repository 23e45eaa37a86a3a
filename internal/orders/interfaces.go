package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
)

// Repository defines persistence operations for orders, order items and
// payments. Reads other than the idempotency lookup are scoped by store.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	CreateOrderItems(ctx context.Context, items []models.OrderItem) error
	CreatePayment(ctx context.Context, payment *models.Payment) (*models.Payment, error)
	FlagForReview(ctx context.Context, storeID, orderID uuid.UUID, totalCents int64, reason enums.OrderReviewReason) error
	FindByCheckoutSession(ctx context.Context, sessionID string) (*models.Order, error)
	FindOrder(ctx context.Context, storeID, orderID uuid.UUID) (*models.Order, error)
	ListOrderItems(ctx context.Context, storeID, orderID uuid.UUID) ([]models.OrderItem, error)
	FindPaymentByOrder(ctx context.Context, storeID, orderID uuid.UUID) (*models.Payment, error)
}
