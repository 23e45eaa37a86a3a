package product

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/internal/repo"
	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
)

// Repository exposes the catalog primitives checkout and fulfillment need.
// Every query is scoped by store id.
type Repository struct {
	repo.Base
}

// NewRepository binds a GORM DB to product operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{Base: r.Base.WithTx(tx)}
}

// FindInStore loads a product owned by storeID. Products of other stores are
// reported as not found even when the id exists.
func (r *Repository) FindInStore(ctx context.Context, storeID, productID uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.DB(ctx).
		Where("id = ? AND store_id = ?", productID, storeID).
		First(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// DecrementStock subtracts qty from a finite stock in one conditional
// statement. It reports false when the product is missing, belongs to another
// store, has unlimited stock or holds fewer than qty units.
func (r *Repository) DecrementStock(ctx context.Context, storeID, productID uuid.UUID, qty int) (bool, error) {
	if qty <= 0 {
		return false, nil
	}
	res := r.DB(ctx).
		Model(&models.Product{}).
		Where("id = ? AND store_id = ? AND stock IS NOT NULL AND stock >= ?", productID, storeID, qty).
		Updates(map[string]any{
			"stock":      gorm.Expr("stock - ?", qty),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
