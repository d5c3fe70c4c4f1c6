package anomaly

import (
	"context"

	"storefront/internal/domain"
)

// Repository keeps the operator-visible list of processor/ledger divergences.
type Repository interface {
	Record(ctx context.Context, a domain.Anomaly) (*domain.Anomaly, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Anomaly, error)
}
