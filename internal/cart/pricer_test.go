package cart

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	product "github.com/angelmondragon/storefront-checkout/internal/products"
	"github.com/angelmondragon/storefront-checkout/internal/stores"
	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
)

type stubCatalog struct {
	products map[uuid.UUID]*models.Product
	err      error
	calls    int
}

func newStubCatalog(products ...*models.Product) *stubCatalog {
	c := &stubCatalog{products: map[uuid.UUID]*models.Product{}}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (s *stubCatalog) FindInStore(_ context.Context, storeID, productID uuid.UUID) (*models.Product, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.products[productID]
	if !ok || p.StoreID != storeID {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *p
	return &clone, nil
}

func activeStore() *stores.StoreDTO {
	return &stores.StoreDTO{ID: uuid.New(), Slug: "acme", Currency: "usd", Active: true}
}

func stock(v int64) *int64 { return &v }

func newProduct(storeID uuid.UUID, price int64, s *int64) *models.Product {
	return &models.Product{ID: uuid.New(), StoreID: storeID, Title: "Mug", PriceCents: price, Currency: "usd", Stock: s, Active: true}
}

func TestNewPricerRequiresLookup(t *testing.T) {
	_, err := NewPricer(nil)
	require.Error(t, err)
}

func TestPriceComputesIntegerTotals(t *testing.T) {
	store := activeStore()
	mug := newProduct(store.ID, 2500, stock(10))
	pen := newProduct(store.ID, 199, nil)
	pricer, err := NewPricer(newStubCatalog(mug, pen))
	require.NoError(t, err)

	cart, err := pricer.Price(context.Background(), store, []LineItem{
		{ProductID: mug.ID, Quantity: 2},
		{ProductID: pen.ID, Quantity: 3},
	})
	require.NoError(t, err)
	require.Len(t, cart.Lines, 2)
	assert.Equal(t, int64(5000), cart.Lines[0].LineTotalCents)
	assert.Equal(t, int64(597), cart.Lines[1].LineTotalCents)
	assert.Equal(t, int64(5597), cart.TotalCents)
	assert.Equal(t, store.ID, cart.StoreID)
	assert.EqualValues(t, "usd", cart.Currency)
	require.NoError(t, cart.Audit())
}

func TestPriceRejectsBadQuantityBeforeLookup(t *testing.T) {
	store := activeStore()
	catalog := newStubCatalog(newProduct(store.ID, 100, nil))
	pricer, err := NewPricer(catalog)
	require.NoError(t, err)

	for _, qty := range []int{0, -1, MaxLineQuantity + 1} {
		_, err := pricer.Price(context.Background(), store, []LineItem{{ProductID: uuid.New(), Quantity: qty}})
		require.ErrorIs(t, err, ErrInvalidQuantity)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	}
	assert.Zero(t, catalog.calls)
}

func TestPriceRejectsEmptyCart(t *testing.T) {
	pricer, err := NewPricer(newStubCatalog())
	require.NoError(t, err)

	_, err = pricer.Price(context.Background(), activeStore(), nil)
	require.ErrorIs(t, err, ErrEmptyCart)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestPriceInsufficientStock(t *testing.T) {
	store := activeStore()
	mug := newProduct(store.ID, 2500, stock(1))
	pricer, err := NewPricer(newStubCatalog(mug))
	require.NoError(t, err)

	_, err = pricer.Price(context.Background(), store, []LineItem{{ProductID: mug.ID, Quantity: 2}})
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestPriceAggregatesDuplicateLinesForStock(t *testing.T) {
	store := activeStore()
	mug := newProduct(store.ID, 2500, stock(3))
	pricer, err := NewPricer(newStubCatalog(mug))
	require.NoError(t, err)

	_, err = pricer.Price(context.Background(), store, []LineItem{
		{ProductID: mug.ID, Quantity: 2},
		{ProductID: mug.ID, Quantity: 2},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	cart, err := pricer.Price(context.Background(), store, []LineItem{
		{ProductID: mug.ID, Quantity: 1},
		{ProductID: mug.ID, Quantity: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7500), cart.TotalCents)
}

func TestPriceProductNotFoundCases(t *testing.T) {
	store := activeStore()
	inactive := newProduct(store.ID, 100, nil)
	inactive.Active = false
	foreign := newProduct(uuid.New(), 100, nil)
	pricer, err := NewPricer(newStubCatalog(inactive, foreign))
	require.NoError(t, err)

	for name, id := range map[string]uuid.UUID{
		"missing":     uuid.New(),
		"inactive":    inactive.ID,
		"other store": foreign.ID,
	} {
		_, err := pricer.Price(context.Background(), store, []LineItem{{ProductID: id, Quantity: 1}})
		require.ErrorIs(t, err, ErrProductNotFound, name)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), name)
	}
}

func TestPriceCurrencyMismatch(t *testing.T) {
	store := activeStore()
	euro := newProduct(store.ID, 100, nil)
	euro.Currency = "eur"
	pricer, err := NewPricer(newStubCatalog(euro))
	require.NoError(t, err)

	_, err = pricer.Price(context.Background(), store, []LineItem{{ProductID: euro.ID, Quantity: 1}})
	require.ErrorIs(t, err, ErrCurrencyMismatch)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestPriceRejectsInactiveStore(t *testing.T) {
	store := activeStore()
	store.Active = false
	catalog := newStubCatalog()
	pricer, err := NewPricer(catalog)
	require.NoError(t, err)

	_, err = pricer.Price(context.Background(), store, []LineItem{{ProductID: uuid.New(), Quantity: 1}})
	require.ErrorIs(t, err, stores.ErrStoreInactive)
	assert.Zero(t, catalog.calls)
}

func TestPriceDependencyFailure(t *testing.T) {
	catalog := newStubCatalog()
	catalog.err = errors.New("db down")
	pricer, err := NewPricer(catalog)
	require.NoError(t, err)

	_, err = pricer.Price(context.Background(), activeStore(), []LineItem{{ProductID: uuid.New(), Quantity: 1}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestAuditDetectsTampering(t *testing.T) {
	cart := &PricedCart{
		Lines:      []PricedLine{{UnitPriceCents: 2500, Quantity: 2, LineTotalCents: 5000}},
		TotalCents: 5000,
	}
	require.NoError(t, cart.Audit())

	cart.TotalCents = 4999
	require.Error(t, cart.Audit())

	cart.TotalCents = 5000
	cart.Lines[0].LineTotalCents = 4000
	require.Error(t, cart.Audit())
}

func TestPriceAgainstCatalogTablesPerformsNoWrites(t *testing.T) {
	dsn := "file:pricer_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.Product{}))

	storeA := activeStore()
	storeB := activeStore()
	mug := newProduct(storeA.ID, 2500, stock(10))
	require.NoError(t, conn.Create(mug).Error)

	pricer, err := NewPricer(product.NewRepository(conn))
	require.NoError(t, err)

	cart, err := pricer.Price(context.Background(), storeA, []LineItem{{ProductID: mug.ID, Quantity: 2}})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), cart.TotalCents)

	_, err = pricer.Price(context.Background(), storeA, []LineItem{{ProductID: mug.ID, Quantity: 11}})
	require.ErrorIs(t, err, ErrInsufficientStock)

	_, err = pricer.Price(context.Background(), storeB, []LineItem{{ProductID: mug.ID, Quantity: 1}})
	require.ErrorIs(t, err, ErrProductNotFound)

	var reloaded models.Product
	require.NoError(t, conn.First(&reloaded, "id = ?", mug.ID).Error)
	require.NotNil(t, reloaded.Stock)
	assert.Equal(t, int64(10), *reloaded.Stock)
}
