package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"storefront/internal/domain"
)

const (
	typeSessionCompleted     = "checkout.session.completed"
	typeSessionExpired       = "checkout.session.expired"
	typeSessionPaymentFailed = "checkout.session.async_payment_failed"
	typePaymentSucceeded     = "payment_intent.succeeded"
	typeChargeRefunded       = "charge.refunded"
)

type StripeOptions struct {
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
	// Tolerance bounds the signature timestamp age; zero uses the library default.
	Tolerance time.Duration
	// Backends overrides the API endpoints, mainly for tests.
	Backends *stripe.Backends
}

// Stripe implements Processor and Verifier with Stripe Checkout.
type Stripe struct {
	api           *client.API
	webhookSecret string
	timeout       time.Duration
	tolerance     time.Duration
}

func NewStripe(opts StripeOptions) *Stripe {
	api := &client.API{}
	api.Init(opts.SecretKey, opts.Backends)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	tolerance := opts.Tolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Stripe{
		api:           api,
		webhookSecret: opts.WebhookSecret,
		timeout:       timeout,
		tolerance:     tolerance,
	}
}

func (s *Stripe) CreateSession(ctx context.Context, req SessionRequest) (*domain.PaymentSession, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := sessionParams(req)
	params.Context = ctx

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, &ProcessorError{Op: "create session", Err: err}
	}
	if sess.ID == "" {
		return nil, &ProcessorError{Op: "create session", Err: fmt.Errorf("empty session id")}
	}

	currency := string(sess.Currency)
	if currency == "" {
		currency = req.Currency
	}
	total := sess.AmountTotal
	if total == 0 {
		if sum, err := domain.TotalMinorUnits(req.Lines); err == nil {
			total = sum
		}
	}
	return &domain.PaymentSession{
		SessionID:       sess.ID,
		URL:             sess.URL,
		Currency:        currency,
		TotalMinorUnits: total,
		SuccessURL:      req.SuccessURL,
		CancelURL:       req.CancelURL,
	}, nil
}

// sessionParams maps one checkout attempt to a card-only payment session with
// a line item per cart line.
func sessionParams(req SessionRequest) *stripe.CheckoutSessionParams {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
		CustomerEmail:      stripe.String(req.Customer.Email),
		ClientReferenceID:  stripe.String(req.CheckoutID),
	}
	for _, line := range req.Lines {
		name := line.Name
		if name == "" {
			name = "Product " + line.ProductID
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(req.Currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:     stripe.String(name),
					Metadata: map[string]string{"product_id": line.ProductID},
				},
				UnitAmount: stripe.Int64(line.UnitPriceMinorUnits),
			},
			Quantity: stripe.Int64(line.Quantity),
		})
	}

	metadata := map[string]string{
		"customer_name": req.Customer.Name,
		"checkout_id":   req.CheckoutID,
	}
	if req.Customer.Phone != "" {
		metadata["customer_phone"] = req.Customer.Phone
	}
	params.Metadata = metadata
	if req.CheckoutID != "" {
		params.SetIdempotencyKey(req.CheckoutID)
	}
	return params
}

// VerifyEvent checks the signature over the raw, unparsed body before
// decoding anything.
func (s *Stripe) VerifyEvent(payload []byte, signatureHeader string) (*domain.PaymentEvent, error) {
	if err := webhook.ValidatePayloadWithTolerance(payload, signatureHeader, s.webhookSecret, s.tolerance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	var ev stripe.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return toPaymentEvent(ev, payload)
}

func toPaymentEvent(ev stripe.Event, raw []byte) (*domain.PaymentEvent, error) {
	out := &domain.PaymentEvent{
		ID:            ev.ID,
		Type:          domain.EventOther,
		ProcessorType: string(ev.Type),
		Raw:           raw,
	}
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return out, nil
	}

	switch string(ev.Type) {
	case typeSessionCompleted, typeSessionExpired, typeSessionPaymentFailed:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("%w: decode session: %v", ErrMalformedEvent, err)
		}
		out.SubjectID = sess.ID
		if sess.PaymentIntent != nil {
			out.PaymentIntentID = sess.PaymentIntent.ID
		}
		switch string(ev.Type) {
		case typeSessionCompleted:
			out.Type = domain.EventSessionCompleted
		case typeSessionExpired:
			out.Type = domain.EventSessionExpired
		default:
			out.Type = domain.EventSessionPaymentFailed
		}
	case typePaymentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: decode payment intent: %v", ErrMalformedEvent, err)
		}
		out.Type = domain.EventPaymentSucceeded
		out.SubjectID = pi.ID
		out.PaymentIntentID = pi.ID
	case typeChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(ev.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("%w: decode charge: %v", ErrMalformedEvent, err)
		}
		out.Type = domain.EventChargeRefunded
		if ch.PaymentIntent != nil {
			out.SubjectID = ch.PaymentIntent.ID
			out.PaymentIntentID = ch.PaymentIntent.ID
		}
	}
	return out, nil
}
