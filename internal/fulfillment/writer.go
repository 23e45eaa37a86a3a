package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/internal/orders"
	product "github.com/angelmondragon/storefront-checkout/internal/products"
	"github.com/angelmondragon/storefront-checkout/internal/stores"
	dbpkg "github.com/angelmondragon/storefront-checkout/pkg/db"
	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/metrics"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Fulfiller turns a confirmed payment into an order exactly once.
type Fulfiller interface {
	Fulfill(ctx context.Context, completion Completion) (*Result, error)
}

// Writer is the single place orders, order items and payments are created.
type Writer struct {
	tx       txRunner
	stores   *stores.Repository
	products *product.Repository
	orders   orders.Repository
	outbox   outbox.Emitter
	metrics  *metrics.FulfillmentMetrics
	logg     *logger.Logger
}

type WriterParams struct {
	TxRunner txRunner
	Stores   *stores.Repository
	Products *product.Repository
	Orders   orders.Repository
	Outbox   outbox.Emitter
	Metrics  *metrics.FulfillmentMetrics
	Logger   *logger.Logger
}

func NewWriter(params WriterParams) (*Writer, error) {
	if params.TxRunner == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Stores == nil {
		return nil, fmt.Errorf("stores repository required")
	}
	if params.Products == nil {
		return nil, fmt.Errorf("products repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &Writer{
		tx:       params.TxRunner,
		stores:   params.Stores,
		products: params.Products,
		orders:   params.Orders,
		outbox:   params.Outbox,
		metrics:  params.Metrics,
		logg:     params.Logger,
	}, nil
}

// errDuplicateDelivery aborts the transaction when a concurrent delivery of
// the same session won the unique index race.
var errDuplicateDelivery = errors.New("checkout session already fulfilled")

// Fulfill records the order, its items, the payment and the order_paid event
// in one transaction. Replays of the same checkout session return the
// existing order with Duplicate set and write nothing.
func (w *Writer) Fulfill(ctx context.Context, completion Completion) (*Result, error) {
	source := string(completion.Source)
	if err := completion.validate(); err != nil {
		w.metrics.IncOutcome(source, "malformed")
		return nil, err
	}
	if w.logg != nil {
		ctx = w.logg.WithCheckoutSession(ctx, completion.CheckoutSessionID)
		ctx = w.logg.WithStoreID(ctx, completion.StoreID.String())
	}

	var result *Result
	err := w.tx.WithTx(ctx, func(tx *gorm.DB) error {
		res, err := w.fulfillTx(ctx, tx, completion)
		if err != nil {
			return err
		}
		result = res
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, errDuplicateDelivery):
		existing, findErr := w.orders.FindByCheckoutSession(ctx, completion.CheckoutSessionID)
		if findErr != nil {
			w.metrics.IncOutcome(source, "failed")
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load fulfilled order")
		}
		result = duplicateResult(existing)
	case pkgerrors.IsCode(err, pkgerrors.CodeMalformed):
		w.metrics.IncOutcome(source, "malformed")
		return nil, err
	default:
		w.metrics.IncOutcome(source, "failed")
		if w.logg != nil {
			w.logg.Error(ctx, "fulfillment transaction failed", err)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fulfillment failed")
	}

	if result.Duplicate {
		w.metrics.IncOutcome(source, "duplicate")
		if w.logg != nil {
			w.logg.Info(w.logg.WithField(ctx, "order_id", result.OrderID.String()), "checkout session already fulfilled")
		}
		return result, nil
	}

	w.metrics.IncOutcome(source, "created")
	logCtx := ctx
	if w.logg != nil {
		logCtx = w.logg.WithFields(ctx, map[string]any{
			"order_id":    result.OrderID.String(),
			"total_cents": result.TotalCents,
			"source":      source,
		})
	}
	if result.ReviewReason != nil {
		w.metrics.IncReview(string(*result.ReviewReason))
		if w.logg != nil {
			w.logg.Warn(w.logg.WithField(logCtx, "review_reason", *result.ReviewReason), "order flagged for review")
		}
	} else if w.logg != nil {
		w.logg.Info(logCtx, "order fulfilled")
	}
	return result, nil
}

func (w *Writer) fulfillTx(ctx context.Context, tx *gorm.DB, c Completion) (*Result, error) {
	ordersRepo := w.orders.WithTx(tx)
	productsRepo := w.products.WithTx(tx)

	existing, err := ordersRepo.FindByCheckoutSession(ctx, c.CheckoutSessionID)
	if err == nil {
		return duplicateResult(existing), nil
	}
	if !dbpkg.IsNotFound(err) {
		return nil, err
	}

	store, err := w.stores.WithTx(tx).FindByID(ctx, c.StoreID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeMalformed, ErrUnknownStore, "payment references an unknown store").
				WithDetails(map[string]any{"storeId": c.StoreID.String()})
		}
		return nil, err
	}

	order := &models.Order{
		StoreID:                 store.ID,
		UserEmail:               c.Email,
		Status:                  enums.OrderStatusPaid,
		TotalCents:              c.AmountTotalCents,
		Currency:                c.Currency,
		StripeCheckoutSessionID: c.CheckoutSessionID,
		StripePaymentIntentID:   c.PaymentIntentID,
		ShippingAddress:         c.ShippingAddress,
	}
	if _, err := ordersRepo.CreateOrder(ctx, order); err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_orders_checkout_session") {
			return nil, errDuplicateDelivery
		}
		return nil, err
	}

	var (
		items   = make([]models.OrderItem, 0, len(c.Items))
		itemSum int64
		reason  *enums.OrderReviewReason
	)
	flag := func(r enums.OrderReviewReason) {
		if reason == nil {
			reason = &r
		}
	}

	for _, line := range c.Items {
		p, err := productsRepo.FindInStore(ctx, store.ID, line.ProductID)
		if err != nil {
			if dbpkg.IsNotFound(err) {
				flag(enums.ReviewProductMissing)
				continue
			}
			return nil, err
		}

		committed := true
		if p.Stock != nil {
			ok, err := productsRepo.DecrementStock(ctx, store.ID, p.ID, line.Quantity)
			if err != nil {
				return nil, err
			}
			if !ok {
				committed = false
				flag(enums.ReviewInsufficientStock)
			}
		}

		item := models.OrderItem{
			OrderID:        order.ID,
			StoreID:        store.ID,
			ProductID:      p.ID,
			Title:          p.Title,
			Quantity:       line.Quantity,
			PriceCents:     p.PriceCents,
			StockCommitted: committed,
		}
		items = append(items, item)
		itemSum += item.LineTotalCents()
	}

	if err := ordersRepo.CreateOrderItems(ctx, items); err != nil {
		return nil, err
	}

	if itemSum != c.AmountTotalCents || !c.Currency.Equal(store.Currency) {
		flag(enums.ReviewAmountMismatch)
	}
	if reason != nil {
		if err := ordersRepo.FlagForReview(ctx, store.ID, order.ID, itemSum, *reason); err != nil {
			return nil, err
		}
		order.TotalCents = itemSum
		order.ReviewReason = reason
	}

	payment := &models.Payment{
		StoreID:                 store.ID,
		OrderID:                 order.ID,
		AmountCents:             c.AmountTotalCents,
		Currency:                c.Currency,
		Status:                  enums.PaymentStatusSucceeded,
		StripePaymentIntentID:   c.PaymentIntentID,
		StripeCheckoutSessionID: c.CheckoutSessionID,
	}
	if _, err := ordersRepo.CreatePayment(ctx, payment); err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return nil, errDuplicateDelivery
		}
		return nil, err
	}

	storeID := store.ID
	event := outbox.DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		StoreID:       &storeID,
		Version:       1,
		Data: payloads.OrderPaidEvent{
			OrderID:           order.ID,
			StoreID:           store.ID,
			CheckoutSessionID: c.CheckoutSessionID,
			PaymentIntentID:   c.PaymentIntentID,
			UserEmail:         c.Email,
			TotalCents:        order.TotalCents,
			AmountPaidCents:   c.AmountTotalCents,
			Currency:          string(c.Currency),
			ItemCount:         len(items),
			ReviewReason:      reason,
			Source:            string(c.Source),
		},
	}
	if err := w.outbox.Emit(ctx, tx, event); err != nil {
		return nil, err
	}

	return &Result{
		OrderID:      order.ID,
		TotalCents:   order.TotalCents,
		ReviewReason: reason,
	}, nil
}

func duplicateResult(order *models.Order) *Result {
	return &Result{
		OrderID:      order.ID,
		Duplicate:    true,
		TotalCents:   order.TotalCents,
		ReviewReason: order.ReviewReason,
	}
}

var _ Fulfiller = (*Writer)(nil)
