package cart

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
)

// MaxLineQuantity caps a single line so money arithmetic stays well inside int64.
const MaxLineQuantity = 9999

var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrCurrencyMismatch  = errors.New("product currency does not match store currency")
)

// LineItem is the client-submitted cart line. It deliberately has no price:
// prices always come from the catalog.
type LineItem struct {
	ProductID uuid.UUID
	Quantity  int
}

// ValidateLineItems checks the shape of a cart before any catalog lookup.
func ValidateLineItems(items []LineItem) error {
	if len(items) == 0 {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, ErrEmptyCart, "cart must contain at least one item")
	}
	for i, item := range items {
		if item.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: productId is required", i)).
				WithDetails(map[string]any{"index": i})
		}
		if item.Quantity <= 0 || item.Quantity > MaxLineQuantity {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, ErrInvalidQuantity,
				fmt.Sprintf("item %d: quantity must be between 1 and %d", i, MaxLineQuantity)).
				WithDetails(map[string]any{"index": i, "productId": item.ProductID.String(), "quantity": item.Quantity})
		}
	}
	return nil
}
