package checkout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"storefront/internal/domain"
	"storefront/internal/ledger"
	"storefront/internal/payment"
)

const (
	priceLookupConcurrency = 8
	anomalyWriteTimeout    = 5 * time.Second
)

type catalog interface {
	Get(ctx context.Context, id string) (*domain.Product, error)
}

type invoiceCreator interface {
	CreateInvoice(ctx context.Context, inv domain.Invoice) (*ledger.Confirmation, error)
}

type anomalyRecorder interface {
	Record(ctx context.Context, a domain.Anomaly) (*domain.Anomaly, error)
}

type Options struct {
	Currency      string
	PublicBaseURL string
	// RetryAttempts bounds ledger CreateInvoice attempts, including the first.
	RetryAttempts int
	Logger        *slog.Logger
	// NewBackOff builds the retry schedule for one checkout.
	NewBackOff func() backoff.BackOff
	NewID      func() string
}

type Service struct {
	catalog   catalog
	processor payment.Processor
	ledger    invoiceCreator
	anomalies anomalyRecorder

	currency   string
	successURL string
	cancelURL  string
	attempts   int
	logger     *slog.Logger
	newBackOff func() backoff.BackOff
	newID      func() string
	validate   *validator.Validate
}

func New(catalog catalog, processor payment.Processor, ledger invoiceCreator, anomalies anomalyRecorder, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	currency := strings.ToLower(strings.TrimSpace(opts.Currency))
	if currency == "" {
		currency = "usd"
	}
	attempts := opts.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	newBackOff := opts.NewBackOff
	if newBackOff == nil {
		newBackOff = defaultBackOff
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	base := strings.TrimRight(opts.PublicBaseURL, "/")

	return &Service{
		catalog:    catalog,
		processor:  processor,
		ledger:     ledger,
		anomalies:  anomalies,
		currency:   currency,
		successURL: base + "/order/success?session_id={CHECKOUT_SESSION_ID}",
		cancelURL:  base + "/order/canceled",
		attempts:   attempts,
		logger:     logger,
		newBackOff: newBackOff,
		newID:      newID,
		validate:   newValidator(),
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 10 * time.Second
	return b
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Checkout prices the submitted items from the catalog and starts a payment
// session for them.
func (s *Service) Checkout(ctx context.Context, items []domain.CheckoutItem, customer domain.Customer) (*domain.PaymentSession, error) {
	lines, err := s.PriceCart(ctx, items)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			checkoutsTotal.WithLabelValues(outcomeInvalid).Inc()
		} else {
			checkoutsTotal.WithLabelValues(outcomeCatalogError).Inc()
		}
		return nil, err
	}
	return s.start(ctx, lines, customer)
}

// PriceCart resolves each item against the catalog, keeping the submitted
// order. Duplicate product ids stay separate lines.
func (s *Service) PriceCart(ctx context.Context, items []domain.CheckoutItem) ([]domain.CartLine, error) {
	if len(items) == 0 {
		return nil, domain.Invalid("items", "cart is empty")
	}
	for i, it := range items {
		if strings.TrimSpace(string(it.ProductID)) == "" {
			return nil, domain.Invalid(fmt.Sprintf("items[%d].id", i), "is required")
		}
		if it.Quantity < 1 {
			return nil, domain.Invalid(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
		}
		if it.Quantity > domain.MaxLineQuantity {
			return nil, domain.Invalid(fmt.Sprintf("items[%d].quantity", i), fmt.Sprintf("must be at most %d", domain.MaxLineQuantity))
		}
	}

	lines := make([]domain.CartLine, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(priceLookupConcurrency)
	for i, it := range items {
		i := i
		id := strings.TrimSpace(string(it.ProductID))
		qty := it.Quantity
		g.Go(func() error {
			p, err := s.catalog.Get(gctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				return domain.Invalid(fmt.Sprintf("items[%d].id", i), "unknown product "+id)
			}
			if err != nil {
				return fmt.Errorf("price product %s: %w", id, err)
			}
			if p.Currency != "" && !strings.EqualFold(p.Currency, s.currency) {
				return domain.Invalid(fmt.Sprintf("items[%d].id", i), fmt.Sprintf("product %s is not sold in %s", id, s.currency))
			}
			lines[i] = domain.CartLine{
				ProductID:           p.ID,
				Name:                p.Name,
				Quantity:            qty,
				UnitPriceMinorUnits: p.PriceCents,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return lines, nil
}

// StartCheckout creates the payment session and then the pending invoice
// keyed by its id. The session id is returned only when both exist.
func (s *Service) StartCheckout(ctx context.Context, lines []domain.CartLine, customer domain.Customer) (string, error) {
	sess, err := s.start(ctx, lines, customer)
	if err != nil {
		return "", err
	}
	return sess.SessionID, nil
}

func (s *Service) start(ctx context.Context, lines []domain.CartLine, customer domain.Customer) (*domain.PaymentSession, error) {
	customer.Name = strings.TrimSpace(customer.Name)
	customer.Email = strings.TrimSpace(customer.Email)
	customer.Phone = strings.TrimSpace(customer.Phone)
	if err := s.validateInput(lines, customer); err != nil {
		checkoutsTotal.WithLabelValues(outcomeInvalid).Inc()
		return nil, err
	}

	total, err := domain.TotalMinorUnits(lines)
	if err != nil {
		checkoutsTotal.WithLabelValues(outcomeInvalid).Inc()
		return nil, err
	}
	checkoutID := s.newID()
	log := s.logger.With(slog.String("checkout_id", checkoutID))

	sess, err := s.processor.CreateSession(ctx, payment.SessionRequest{
		CheckoutID: checkoutID,
		Lines:      lines,
		Currency:   s.currency,
		Customer:   customer,
		SuccessURL: s.successURL,
		CancelURL:  s.cancelURL,
	})
	if err != nil {
		checkoutsTotal.WithLabelValues(outcomeProcessorError).Inc()
		log.Error("checkout: create payment session", slog.Any("error", err))
		if !errors.Is(err, payment.ErrProcessor) {
			err = &payment.ProcessorError{Op: "create session", Err: err}
		}
		return nil, err
	}
	log = log.With(slog.String("session_id", sess.SessionID))

	inv := domain.Invoice{
		PaymentID:       sess.SessionID,
		Customer:        customer,
		Lines:           lines,
		TotalMinorUnits: total,
		Currency:        s.currency,
		Status:          domain.InvoicePending,
	}
	if err := s.recordInvoice(ctx, log, inv); err != nil {
		checkoutsTotal.WithLabelValues(outcomePartialFailure).Inc()
		log.Error("checkout: session created but invoice not recorded",
			slog.Int64("total_minor_units", total),
			slog.Any("error", err))
		s.recordAnomaly(ctx, domain.Anomaly{
			Kind:      domain.AnomalyPartialCheckout,
			PaymentID: sess.SessionID,
			Detail:    err.Error(),
		})
		return nil, &PartialFailureError{SessionID: sess.SessionID, Err: err}
	}

	checkoutsTotal.WithLabelValues(outcomeCreated).Inc()
	log.Info("checkout: session created",
		slog.Int("lines", len(lines)),
		slog.Int64("total_minor_units", total),
		slog.String("currency", s.currency))
	return sess, nil
}

func (s *Service) validateInput(lines []domain.CartLine, customer domain.Customer) error {
	if len(lines) == 0 {
		return domain.Invalid("items", "cart is empty")
	}
	for i, l := range lines {
		if err := s.validate.Struct(l); err != nil {
			return toValidationError(fmt.Sprintf("items[%d].", i), err)
		}
	}
	if err := s.validate.Struct(customer); err != nil {
		return toValidationError("customer.", err)
	}
	return nil
}

func toValidationError(prefix string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.Invalid(strings.TrimSuffix(prefix, "."), err.Error())
	}
	fe := verrs[0]
	var reason string
	switch fe.Tag() {
	case "required":
		reason = "is required"
	case "email":
		reason = "must be a valid email address"
	case "gte":
		reason = "must be at least " + fe.Param()
	case "lte":
		reason = "must be at most " + fe.Param()
	default:
		reason = "is invalid"
	}
	return domain.Invalid(prefix+fe.Field(), reason)
}

// recordInvoice retries transient ledger failures with backoff. Retrying is
// safe because the ledger reports an existing payment id as a duplicate.
func (s *Service) recordInvoice(ctx context.Context, log *slog.Logger, inv domain.Invoice) error {
	attempt := 0
	op := func() error {
		attempt++
		conf, err := s.ledger.CreateInvoice(ctx, inv)
		if err == nil {
			if conf != nil && conf.Duplicate {
				log.Info("checkout: invoice already recorded")
			}
			return nil
		}
		if !ledger.Retryable(err) {
			return backoff.Permanent(err)
		}
		log.Warn("checkout: ledger create failed", slog.Int("attempt", attempt), slog.Any("error", err))
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(s.attempts-1)), ctx)
	err := backoff.Retry(op, b)
	invoiceAttempts.Observe(float64(attempt))
	return err
}

// recordAnomaly outlives request cancellation so an abandoned client does not
// lose the record.
func (s *Service) recordAnomaly(ctx context.Context, a domain.Anomaly) {
	if s.anomalies == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), anomalyWriteTimeout)
	defer cancel()
	if _, err := s.anomalies.Record(ctx, a); err != nil {
		s.logger.Error("checkout: record anomaly",
			slog.String("kind", string(a.Kind)),
			slog.String("payment_id", a.PaymentID),
			slog.Any("error", err))
	}
}
