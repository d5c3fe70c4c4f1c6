package product

import (
	"context"

	"storefront/internal/domain"
)

// Repository is the catalog store. Prices are read from here at checkout.
type Repository interface {
	ListAll(ctx context.Context) ([]domain.Product, error)
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	Upsert(ctx context.Context, product domain.Product) (*domain.Product, error)
}
