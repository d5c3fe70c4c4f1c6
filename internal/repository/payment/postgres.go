package payment

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"storefront/internal/domain"
)

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

const stateColumns = `payment_id, status, COALESCE(payment_intent_id, ''), COALESCE(last_event_id, ''), updated_at`

func scanState(row pgx.Row) (*domain.PaymentState, error) {
	var s domain.PaymentState
	var status string
	if err := row.Scan(&s.PaymentID, &status, &s.PaymentIntentID, &s.LastEventID, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Status = domain.InvoiceStatus(status)
	return &s, nil
}

func (r *postgresRepo) GetState(ctx context.Context, paymentID string) (*domain.PaymentState, error) {
	q := `SELECT ` + stateColumns + ` FROM payment_states WHERE payment_id = $1`
	s, err := scanState(r.pool.QueryRow(ctx, q, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.Error("payment repo: get state", slog.String("payment_id", paymentID), slog.Any("error", err))
		return nil, err
	}
	return s, nil
}

func (r *postgresRepo) SaveState(ctx context.Context, state domain.PaymentState) (*domain.PaymentState, error) {
	const q = `
INSERT INTO payment_states (payment_id, status, payment_intent_id, last_event_id, updated_at)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), now())
ON CONFLICT (payment_id) DO UPDATE SET
    status = EXCLUDED.status,
    payment_intent_id = COALESCE(EXCLUDED.payment_intent_id, payment_states.payment_intent_id),
    last_event_id = COALESCE(EXCLUDED.last_event_id, payment_states.last_event_id),
    updated_at = now()
RETURNING ` + stateColumns
	s, err := scanState(r.pool.QueryRow(ctx, q, state.PaymentID, string(state.Status), state.PaymentIntentID, state.LastEventID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			r.logger.Warn("payment repo: intent already linked",
				slog.String("payment_id", state.PaymentID),
				slog.String("payment_intent_id", state.PaymentIntentID))
			return nil, domain.ErrAlreadyExists
		}
		r.logger.Error("payment repo: save state", slog.String("payment_id", state.PaymentID), slog.Any("error", err))
		return nil, err
	}
	r.logger.Debug("payment repo: saved state", slog.String("payment_id", s.PaymentID), slog.String("status", string(s.Status)))
	return s, nil
}

func (r *postgresRepo) ResolveIntent(ctx context.Context, intentID string) (*domain.PaymentState, error) {
	if intentID == "" {
		return nil, domain.ErrNotFound
	}
	q := `SELECT ` + stateColumns + ` FROM payment_states WHERE payment_intent_id = $1`
	s, err := scanState(r.pool.QueryRow(ctx, q, intentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.Error("payment repo: resolve intent", slog.String("payment_intent_id", intentID), slog.Any("error", err))
		return nil, err
	}
	return s, nil
}
