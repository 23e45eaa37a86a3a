// Package metadata encodes the cart reference carried on a hosted checkout
// session and decodes it again when the payment completes.
package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-checkout/pkg/types"
)

const (
	KeyStoreID         = "storeId"
	KeyStoreSlug       = "storeSlug"
	KeyItems           = "items"
	KeyShippingAddress = "shippingAddress"

	// MaxValueLength is the processor's limit for a single metadata value.
	MaxValueLength = 500
)

var (
	ErrCartTooLarge    = errors.New("cart does not fit in checkout metadata")
	ErrMissingStore    = errors.New("metadata missing store id")
	ErrInvalidItems    = errors.New("metadata items invalid")
	ErrInvalidShipping = errors.New("metadata shipping address invalid")
)

// Item is a product reference without price. Prices are always re-read from
// the catalog.
type Item struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
}

// Checkout is everything fulfillment needs besides what the payment itself
// reports.
type Checkout struct {
	StoreID         uuid.UUID
	StoreSlug       string
	Items           []Item
	ShippingAddress *types.ShippingAddress
}

// Encode renders c as processor metadata. Every value must stay within
// MaxValueLength.
func Encode(c Checkout) (map[string]string, error) {
	if c.StoreID == uuid.Nil {
		return nil, ErrMissingStore
	}
	if len(c.Items) == 0 {
		return nil, ErrInvalidItems
	}
	items, err := json.Marshal(c.Items)
	if err != nil {
		return nil, fmt.Errorf("encode items: %w", err)
	}
	md := map[string]string{
		KeyStoreID:   c.StoreID.String(),
		KeyStoreSlug: c.StoreSlug,
		KeyItems:     string(items),
	}
	if c.ShippingAddress != nil {
		addr, err := json.Marshal(c.ShippingAddress)
		if err != nil {
			return nil, fmt.Errorf("encode shipping address: %w", err)
		}
		md[KeyShippingAddress] = string(addr)
	}
	for key, value := range md {
		if len(value) > MaxValueLength {
			return nil, fmt.Errorf("%w: %s is %d characters", ErrCartTooLarge, key, len(value))
		}
	}
	return md, nil
}

// Decode parses metadata written by Encode.
func Decode(md map[string]string) (*Checkout, error) {
	rawStore := strings.TrimSpace(md[KeyStoreID])
	if rawStore == "" {
		return nil, ErrMissingStore
	}
	storeID, err := uuid.Parse(rawStore)
	if err != nil || storeID == uuid.Nil {
		return nil, fmt.Errorf("%w: %q", ErrMissingStore, rawStore)
	}

	var items []Item
	if err := json.Unmarshal([]byte(md[KeyItems]), &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidItems, err)
	}
	if len(items) == 0 {
		return nil, ErrInvalidItems
	}
	for _, item := range items {
		if item.ProductID == uuid.Nil || item.Quantity <= 0 {
			return nil, ErrInvalidItems
		}
	}

	out := &Checkout{
		StoreID:   storeID,
		StoreSlug: md[KeyStoreSlug],
		Items:     items,
	}
	if raw := strings.TrimSpace(md[KeyShippingAddress]); raw != "" {
		var addr types.ShippingAddress
		if err := json.Unmarshal([]byte(raw), &addr); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidShipping, err)
		}
		out.ShippingAddress = &addr
	}
	return out, nil
}
