package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/pkg/enums"
)

// Store represents the canonical tenant model.
type Store struct {
	ID        uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	Slug      string         `gorm:"column:slug;type:text;not null;uniqueIndex:ux_stores_slug"`
	Name      string         `gorm:"column:name;type:text;not null"`
	Currency  enums.Currency `gorm:"column:currency;type:text;not null"`
	Active    bool           `gorm:"column:active;not null"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Store) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
