package anomaly

import (
	"context"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"storefront/internal/domain"
)

const maxListLimit = 500

type postgresRepo struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) Repository {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &postgresRepo{pool: pool, logger: logger}
}

func (r *postgresRepo) Record(ctx context.Context, a domain.Anomaly) (*domain.Anomaly, error) {
	const q = `
INSERT INTO anomalies (kind, payment_id, event_type, detail)
VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4)
RETURNING id, created_at
`
	res := a
	if err := r.pool.QueryRow(ctx, q, string(a.Kind), a.PaymentID, a.EventType, a.Detail).Scan(&res.ID, &res.CreatedAt); err != nil {
		r.logger.Error("anomaly repo: record",
			slog.String("kind", string(a.Kind)),
			slog.String("payment_id", a.PaymentID),
			slog.Any("error", err))
		return nil, err
	}
	return &res, nil
}

func (r *postgresRepo) ListRecent(ctx context.Context, limit int) ([]domain.Anomaly, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	const q = `
SELECT id, kind, COALESCE(payment_id, ''), COALESCE(event_type, ''), COALESCE(detail, ''), created_at
FROM anomalies
ORDER BY created_at DESC, id DESC
LIMIT $1
`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		r.logger.Error("anomaly repo: list", slog.Any("error", err))
		return nil, err
	}
	defer rows.Close()

	result := []domain.Anomaly{}
	for rows.Next() {
		var a domain.Anomaly
		var kind string
		if err := rows.Scan(&a.ID, &kind, &a.PaymentID, &a.EventType, &a.Detail, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Kind = domain.AnomalyKind(kind)
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("anomaly repo: list rows", slog.Any("error", err))
		return nil, err
	}
	return result, nil
}
