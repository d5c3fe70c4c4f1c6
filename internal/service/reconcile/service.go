package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"storefront/internal/domain"
	"storefront/internal/ledger"
	"storefront/internal/payment"
)

const anomalyWriteTimeout = 5 * time.Second

// Outcome is how one notification was resolved.
type Outcome string

const (
	OutcomeApplied                Outcome = "accepted_applied"
	OutcomeNoOp                   Outcome = "accepted_noop"
	OutcomeRejectedSignature      Outcome = "rejected_signature"
	OutcomeRejectedUnknownSubject Outcome = "rejected_unknown_subject"
)

type statusUpdater interface {
	UpdateInvoiceStatus(ctx context.Context, paymentID string, status domain.InvoiceStatus, paymentDate *time.Time) (*ledger.Confirmation, error)
}

type journal interface {
	GetState(ctx context.Context, paymentID string) (*domain.PaymentState, error)
	SaveState(ctx context.Context, state domain.PaymentState) (*domain.PaymentState, error)
	ResolveIntent(ctx context.Context, intentID string) (*domain.PaymentState, error)
}

type anomalyRecorder interface {
	Record(ctx context.Context, a domain.Anomaly) (*domain.Anomaly, error)
}

type Service struct {
	verifier  payment.Verifier
	ledger    statusUpdater
	journal   journal
	anomalies anomalyRecorder
	logger    *slog.Logger
	now       func() time.Time
}

func New(verifier payment.Verifier, ledger statusUpdater, journal journal, anomalies anomalyRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		verifier:  verifier,
		ledger:    ledger,
		journal:   journal,
		anomalies: anomalies,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleEvent authenticates a raw notification and applies at most one
// invoice transition for it. A returned error is transient and the processor
// should redeliver; every other case resolves to an Outcome.
func (s *Service) HandleEvent(ctx context.Context, payload []byte, signatureHeader string) (Outcome, error) {
	ev, err := s.verifier.VerifyEvent(payload, signatureHeader)
	if err != nil {
		if errors.Is(err, payment.ErrSignatureInvalid) {
			s.logger.Warn("reconcile: signature rejected", slog.Int("bytes", len(payload)), slog.Any("error", err))
			countEvent("", OutcomeRejectedSignature, nil)
			return OutcomeRejectedSignature, err
		}
		s.logger.Error("reconcile: undecodable event", slog.Any("error", err))
		countEvent("", "", err)
		return "", err
	}

	log := s.logger.With(
		slog.String("event_id", ev.ID),
		slog.String("event_type", ev.ProcessorType),
	)
	outcome, err := s.apply(ctx, log, ev)
	countEvent(string(ev.Type), outcome, err)
	if err != nil {
		log.Error("reconcile: transient failure, awaiting redelivery", slog.Any("error", err))
		return "", err
	}
	return outcome, nil
}

func (s *Service) apply(ctx context.Context, log *slog.Logger, ev *domain.PaymentEvent) (Outcome, error) {
	switch ev.Type {
	case domain.EventSessionCompleted:
		return s.applySession(ctx, log, ev, domain.InvoicePaid)
	case domain.EventSessionPaymentFailed:
		return s.applySession(ctx, log, ev, domain.InvoiceFailed)
	case domain.EventChargeRefunded:
		return s.applyRefund(ctx, log, ev)
	default:
		log.Info("reconcile: event needs no ledger change", slog.String("subject_id", ev.SubjectID))
		return OutcomeNoOp, nil
	}
}

func (s *Service) applySession(ctx context.Context, log *slog.Logger, ev *domain.PaymentEvent, target domain.InvoiceStatus) (Outcome, error) {
	if ev.SubjectID == "" {
		s.recordAnomaly(ctx, log, domain.Anomaly{
			Kind:      domain.AnomalyUnknownSubject,
			EventType: ev.ProcessorType,
			Detail:    "session event without session id",
		})
		return OutcomeRejectedUnknownSubject, nil
	}
	current, err := s.currentStatus(ctx, ev.SubjectID)
	if err != nil {
		return "", err
	}
	return s.transition(ctx, log, ev, ev.SubjectID, current, target, ev.PaymentIntentID)
}

// applyRefund maps the charge's payment intent back to the session that
// produced it. Only a paid invoice can be refunded.
func (s *Service) applyRefund(ctx context.Context, log *slog.Logger, ev *domain.PaymentEvent) (Outcome, error) {
	if ev.PaymentIntentID == "" {
		s.recordAnomaly(ctx, log, domain.Anomaly{
			Kind:      domain.AnomalyUnknownSubject,
			EventType: ev.ProcessorType,
			Detail:    "refund without payment intent",
		})
		return OutcomeRejectedUnknownSubject, nil
	}

	state, err := s.journal.ResolveIntent(ctx, ev.PaymentIntentID)
	if errors.Is(err, domain.ErrNotFound) {
		s.recordAnomaly(ctx, log, domain.Anomaly{
			Kind:      domain.AnomalyRefundBeforePaid,
			PaymentID: ev.PaymentIntentID,
			EventType: ev.ProcessorType,
			Detail:    "refund for a payment intent with no paid invoice",
		})
		return OutcomeRejectedUnknownSubject, nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve payment intent: %w", err)
	}

	if state.Status != domain.InvoicePaid && state.Status != domain.InvoiceRefunded {
		s.recordAnomaly(ctx, log, domain.Anomaly{
			Kind:      domain.AnomalyRefundBeforePaid,
			PaymentID: state.PaymentID,
			EventType: ev.ProcessorType,
			Detail:    fmt.Sprintf("refund for invoice in status %s", state.Status),
		})
		return OutcomeRejectedUnknownSubject, nil
	}
	return s.transition(ctx, log, ev, state.PaymentID, state.Status, domain.InvoiceRefunded, "")
}

// currentStatus returns "" when nothing has been journaled for paymentID.
func (s *Service) currentStatus(ctx context.Context, paymentID string) (domain.InvoiceStatus, error) {
	state, err := s.journal.GetState(ctx, paymentID)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read journal: %w", err)
	}
	return state.Status, nil
}

func (s *Service) transition(ctx context.Context, log *slog.Logger, ev *domain.PaymentEvent, paymentID string, current, target domain.InvoiceStatus, intentID string) (Outcome, error) {
	log = log.With(slog.String("payment_id", paymentID), slog.String("target", string(target)))

	if current != "" && domain.Reached(current, target) {
		log.Info("reconcile: already applied", slog.String("status", string(current)))
		return OutcomeNoOp, nil
	}
	if !domain.CanTransition(current, target) {
		s.recordAnomaly(ctx, log, domain.Anomaly{
			Kind:      domain.AnomalyTransitionRejected,
			PaymentID: paymentID,
			EventType: ev.ProcessorType,
			Detail:    fmt.Sprintf("cannot move %s to %s", current, target),
		})
		return OutcomeNoOp, nil
	}

	var paymentDate *time.Time
	if target == domain.InvoicePaid || target == domain.InvoiceRefunded {
		at := s.now().UTC()
		paymentDate = &at
	}

	_, err := s.ledger.UpdateInvoiceStatus(ctx, paymentID, target, paymentDate)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrNotFound):
		s.recordAnomaly(ctx, log, domain.Anomaly{
			Kind:      domain.AnomalyUnknownSubject,
			PaymentID: paymentID,
			EventType: ev.ProcessorType,
			Detail:    "ledger has no invoice for this payment",
		})
		return OutcomeRejectedUnknownSubject, nil
	case errors.Is(err, ledger.ErrRejected):
		s.recordAnomaly(ctx, log, domain.Anomaly{
			Kind:      domain.AnomalyTransitionRejected,
			PaymentID: paymentID,
			EventType: ev.ProcessorType,
			Detail:    err.Error(),
		})
		return OutcomeNoOp, nil
	default:
		return "", err
	}

	if _, err := s.journal.SaveState(ctx, domain.PaymentState{
		PaymentID:       paymentID,
		Status:          target,
		PaymentIntentID: intentID,
		LastEventID:     ev.ID,
	}); err != nil {
		// The ledger already holds the transition.
		log.Error("reconcile: journal write failed after ledger update", slog.Any("error", err))
	}

	log.Info("reconcile: invoice updated")
	return OutcomeApplied, nil
}

func (s *Service) recordAnomaly(ctx context.Context, log *slog.Logger, a domain.Anomaly) {
	level := slog.LevelError
	if a.Kind == domain.AnomalyTransitionRejected {
		level = slog.LevelWarn
	}
	log.Log(ctx, level, "reconcile: anomaly",
		slog.String("kind", string(a.Kind)),
		slog.String("payment_id", a.PaymentID),
		slog.String("detail", a.Detail))

	if s.anomalies == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), anomalyWriteTimeout)
	defer cancel()
	if _, err := s.anomalies.Record(ctx, a); err != nil {
		log.Error("reconcile: record anomaly", slog.Any("error", err))
	}
}
