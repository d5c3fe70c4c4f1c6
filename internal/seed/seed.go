package seed

import (
	"context"
	"fmt"

	"storefront/internal/domain"
)

type ProductWriter interface {
	Upsert(ctx context.Context, product domain.Product) (*domain.Product, error)
}

// Products is the featured catalog the storefront ships with.
func Products() []domain.Product {
	return []domain.Product{
		{
			ID:          "1",
			Name:        "Premium Laptop",
			Description: "High-performance laptop with a 16-inch display and all-day battery",
			PriceCents:  129999,
			Currency:    "usd",
			Image:       "/images/laptop.jpg",
			Category:    "electronics",
		},
		{
			ID:          "2",
			Name:        "Wireless Headphones",
			Description: "Noise-cancelling over-ear headphones",
			PriceCents:  19999,
			Currency:    "usd",
			Image:       "/images/headphones.jpg",
			Category:    "audio",
		},
		{
			ID:          "3",
			Name:        "Smart Fitness Watch",
			Description: "Heart-rate, sleep and workout tracking",
			PriceCents:  24999,
			Currency:    "usd",
			Image:       "/images/watch.jpg",
			Category:    "wearables",
		},
		{
			ID:          "4",
			Name:        "Smartphone",
			Description: "Unlocked smartphone with a triple camera",
			PriceCents:  80000,
			Currency:    "usd",
			Image:       "/images/phone.jpg",
			Category:    "electronics",
		},
	}
}

// Apply upserts the featured catalog. It is idempotent.
func Apply(ctx context.Context, repo ProductWriter) (int, error) {
	products := Products()
	for _, p := range products {
		if _, err := repo.Upsert(ctx, p); err != nil {
			return 0, fmt.Errorf("upsert product %s: %w", p.ID, err)
		}
	}
	return len(products), nil
}
