package stores

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
)

// StoreDTO is the tenant configuration consumed by pricing and checkout.
type StoreDTO struct {
	ID       uuid.UUID      `json:"id"`
	Slug     string         `json:"slug"`
	Name     string         `json:"name"`
	Currency enums.Currency `json:"currency"`
	Active   bool           `json:"active"`
}

// FromModel maps the persisted store into the DTO.
func FromModel(m *models.Store) *StoreDTO {
	if m == nil {
		return nil
	}
	return &StoreDTO{
		ID:       m.ID,
		Slug:     m.Slug,
		Name:     m.Name,
		Currency: m.Currency,
		Active:   m.Active,
	}
}
