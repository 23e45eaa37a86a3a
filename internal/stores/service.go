package stores

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-checkout/pkg/db"
	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
)

var (
	ErrStoreNotFound = errors.New("store not found")
	ErrStoreInactive = errors.New("store is inactive")
)

type storeRepository interface {
	FindBySlug(ctx context.Context, slug string) (*models.Store, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Store, error)
}

// Service resolves tenants. It never caches: a store deactivated between
// browse and checkout must be rejected at checkout time.
type Service interface {
	ResolveActive(ctx context.Context, slug string) (*StoreDTO, error)
	GetByID(ctx context.Context, id uuid.UUID) (*StoreDTO, error)
}

type service struct {
	repo storeRepository
}

// NewService builds a store service with the provided repository.
func NewService(repo storeRepository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("store repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) ResolveActive(ctx context.Context, slug string) (*StoreDTO, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrStoreNotFound, "store not found")
	}

	store, err := s.repo.FindBySlug(ctx, slug)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrStoreNotFound, "store not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load store")
	}
	if !store.Active {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrStoreInactive, "store is not accepting orders")
	}
	return FromModel(store), nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*StoreDTO, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrStoreNotFound, "store not found")
	}
	store, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrStoreNotFound, "store not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load store")
	}
	return FromModel(store), nil
}
