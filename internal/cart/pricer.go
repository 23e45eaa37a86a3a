package cart

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-checkout/internal/stores"
	"github.com/angelmondragon/storefront-checkout/pkg/db"
	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
)

type productLookup interface {
	FindInStore(ctx context.Context, storeID, productID uuid.UUID) (*models.Product, error)
}

// PricedLine is one cart line priced from the catalog.
type PricedLine struct {
	ProductID      uuid.UUID
	Title          string
	Quantity       int
	UnitPriceCents int64
	LineTotalCents int64
}

// PricedCart is the authoritative, server-priced view of a cart.
type PricedCart struct {
	StoreID    uuid.UUID
	Currency   enums.Currency
	Lines      []PricedLine
	TotalCents int64
}

// Audit re-derives every line total and the cart total from unit prices and
// quantities.
func (c *PricedCart) Audit() error {
	if c == nil {
		return fmt.Errorf("priced cart is nil")
	}
	var total int64
	for i, line := range c.Lines {
		if want := line.UnitPriceCents * int64(line.Quantity); want != line.LineTotalCents {
			return fmt.Errorf("line %d: total %d does not match %d x %d", i, line.LineTotalCents, line.UnitPriceCents, line.Quantity)
		}
		total += line.LineTotalCents
	}
	if total != c.TotalCents {
		return fmt.Errorf("cart total %d does not match sum of lines %d", c.TotalCents, total)
	}
	return nil
}

// Pricer prices carts against the catalog of a single store. It never writes.
type Pricer struct {
	products productLookup
}

// NewPricer builds a Pricer backed by the provided product lookup.
func NewPricer(products productLookup) (*Pricer, error) {
	if products == nil {
		return nil, fmt.Errorf("product lookup required")
	}
	return &Pricer{products: products}, nil
}

// Price validates items and prices them with current catalog values. Stock is
// checked against the quantity requested across all lines of the same product.
func (p *Pricer) Price(ctx context.Context, store *stores.StoreDTO, items []LineItem) (*PricedCart, error) {
	if store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "store context required")
	}
	if !store.Active {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, stores.ErrStoreInactive, "store is not accepting orders")
	}
	if err := ValidateLineItems(items); err != nil {
		return nil, err
	}

	catalog := make(map[uuid.UUID]*models.Product, len(items))
	requested := make(map[uuid.UUID]int64, len(items))
	order := make([]uuid.UUID, 0, len(items))

	for _, item := range items {
		if _, seen := catalog[item.ProductID]; !seen {
			product, err := p.load(ctx, store, item.ProductID)
			if err != nil {
				return nil, err
			}
			catalog[item.ProductID] = product
			order = append(order, item.ProductID)
		}
		requested[item.ProductID] += int64(item.Quantity)
	}

	for _, id := range order {
		product := catalog[id]
		if product.Stock != nil && *product.Stock < requested[id] {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, ErrInsufficientStock,
				fmt.Sprintf("only %d of %q available", max(*product.Stock, 0), product.Title)).
				WithDetails(map[string]any{
					"productId": id.String(),
					"available": max(*product.Stock, 0),
					"requested": requested[id],
				})
		}
	}

	cart := &PricedCart{
		StoreID:  store.ID,
		Currency: store.Currency,
		Lines:    make([]PricedLine, 0, len(items)),
	}
	for _, item := range items {
		product := catalog[item.ProductID]
		qty := int64(item.Quantity)
		if product.PriceCents < 0 || (product.PriceCents > 0 && product.PriceCents > math.MaxInt64/qty) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("price of %q cannot be charged", product.Title))
		}
		lineTotal := product.PriceCents * qty
		if cart.TotalCents > math.MaxInt64-lineTotal {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart total is too large")
		}
		cart.Lines = append(cart.Lines, PricedLine{
			ProductID:      product.ID,
			Title:          product.Title,
			Quantity:       item.Quantity,
			UnitPriceCents: product.PriceCents,
			LineTotalCents: lineTotal,
		})
		cart.TotalCents += lineTotal
	}
	return cart, nil
}

func (p *Pricer) load(ctx context.Context, store *stores.StoreDTO, productID uuid.UUID) (*models.Product, error) {
	product, err := p.products.FindInStore(ctx, store.ID, productID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, notFound(productID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	if !product.Active || product.StoreID != store.ID {
		return nil, notFound(productID)
	}
	if !product.Currency.Equal(store.Currency) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, ErrCurrencyMismatch,
			fmt.Sprintf("%q is priced in %s but the store sells in %s", product.Title, product.Currency, store.Currency))
	}
	return product, nil
}

func notFound(productID uuid.UUID) error {
	return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrProductNotFound, "product not found").
		WithDetails(map[string]any{"productId": productID.String()})
}
