package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"

	"storefront/internal/domain"
	"storefront/internal/ledger"
	"storefront/internal/payment"
)

type stubVerifier struct {
	event *domain.PaymentEvent
	err   error
}

func (s *stubVerifier) VerifyEvent(_ []byte, _ string) (*domain.PaymentEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	ev := *s.event
	return &ev, nil
}

type statusCall struct {
	paymentID string
	status    domain.InvoiceStatus
	date      *time.Time
}

type stubLedger struct {
	errs  []error
	calls []statusCall
}

func (s *stubLedger) UpdateInvoiceStatus(_ context.Context, paymentID string, status domain.InvoiceStatus, date *time.Time) (*ledger.Confirmation, error) {
	s.calls = append(s.calls, statusCall{paymentID: paymentID, status: status, date: date})
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &ledger.Confirmation{PaymentID: paymentID, Status: string(status)}, nil
}

type memJournal struct {
	states  map[string]domain.PaymentState
	getErr  error
	saveErr error
	saves   int
}

func newJournal(states ...domain.PaymentState) *memJournal {
	j := &memJournal{states: map[string]domain.PaymentState{}}
	for _, st := range states {
		j.states[st.PaymentID] = st
	}
	return j
}

func (j *memJournal) GetState(_ context.Context, paymentID string) (*domain.PaymentState, error) {
	if j.getErr != nil {
		return nil, j.getErr
	}
	st, ok := j.states[paymentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &st, nil
}

func (j *memJournal) SaveState(_ context.Context, state domain.PaymentState) (*domain.PaymentState, error) {
	j.saves++
	if j.saveErr != nil {
		return nil, j.saveErr
	}
	if prev, ok := j.states[state.PaymentID]; ok && state.PaymentIntentID == "" {
		state.PaymentIntentID = prev.PaymentIntentID
	}
	j.states[state.PaymentID] = state
	return &state, nil
}

func (j *memJournal) ResolveIntent(_ context.Context, intentID string) (*domain.PaymentState, error) {
	if j.getErr != nil {
		return nil, j.getErr
	}
	for _, st := range j.states {
		if st.PaymentIntentID == intentID {
			return &st, nil
		}
	}
	return nil, domain.ErrNotFound
}

type stubAnomalies struct {
	recorded []domain.Anomaly
}

func (s *stubAnomalies) Record(_ context.Context, a domain.Anomaly) (*domain.Anomaly, error) {
	s.recorded = append(s.recorded, a)
	return &a, nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(v payment.Verifier, l *stubLedger, j *memJournal, a *stubAnomalies) *Service {
	svc := New(v, l, j, a, nil)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func completed(sessionID, intentID string) *domain.PaymentEvent {
	return &domain.PaymentEvent{
		ID:              "evt_" + sessionID,
		Type:            domain.EventSessionCompleted,
		ProcessorType:   "checkout.session.completed",
		SubjectID:       sessionID,
		PaymentIntentID: intentID,
	}
}

func refunded(intentID string) *domain.PaymentEvent {
	return &domain.PaymentEvent{
		ID:              "evt_refund_" + intentID,
		Type:            domain.EventChargeRefunded,
		ProcessorType:   "charge.refunded",
		SubjectID:       intentID,
		PaymentIntentID: intentID,
	}
}

func TestCompletedSessionMarksInvoicePaidOnce(t *testing.T) {
	l := &stubLedger{}
	j := newJournal()
	svc := newService(&stubVerifier{event: completed("sess_1", "pi_1")}, l, j, &stubAnomalies{})

	outcome, err := svc.HandleEvent(context.Background(), []byte("{}"), "sig")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", outcome)
	}
	if len(l.calls) != 1 {
		t.Fatalf("expected one ledger call, got %d", len(l.calls))
	}
	call := l.calls[0]
	if call.paymentID != "sess_1" || call.status != domain.InvoicePaid || call.date == nil || !call.date.Equal(fixedNow) {
		t.Fatalf("unexpected ledger call %+v", call)
	}
	st := j.states["sess_1"]
	if st.Status != domain.InvoicePaid || st.PaymentIntentID != "pi_1" || st.LastEventID != "evt_sess_1" {
		t.Fatalf("unexpected journal state %+v", st)
	}
}

func TestRedeliveredEventIsNoOp(t *testing.T) {
	l := &stubLedger{}
	svc := newService(&stubVerifier{event: completed("sess_1", "pi_1")}, l, newJournal(), &stubAnomalies{})

	for i := 0; i < 3; i++ {
		if _, err := svc.HandleEvent(context.Background(), []byte("{}"), "sig"); err != nil {
			t.Fatalf("delivery %d: unexpected error: %v", i, err)
		}
	}
	outcome, err := svc.HandleEvent(context.Background(), []byte("{}"), "sig")
	if err != nil || outcome != OutcomeNoOp {
		t.Fatalf("expected noop, got %s %v", outcome, err)
	}
	if len(l.calls) != 1 {
		t.Fatalf("expected exactly one ledger call across deliveries, got %d", len(l.calls))
	}
}

func TestCompletedAfterRefundIsNoOp(t *testing.T) {
	l := &stubLedger{}
	j := newJournal(domain.PaymentState{PaymentID: "sess_1", Status: domain.InvoiceRefunded, PaymentIntentID: "pi_1"})
	svc := newService(&stubVerifier{event: completed("sess_1", "pi_1")}, l, j, &stubAnomalies{})

	outcome, err := svc.HandleEvent(context.Background(), nil, "sig")
	if err != nil || outcome != OutcomeNoOp {
		t.Fatalf("expected noop, got %s %v", outcome, err)
	}
	if len(l.calls) != 0 {
		t.Fatalf("expected no ledger calls, got %d", len(l.calls))
	}
}

func TestInvalidSignatureTouchesNothing(t *testing.T) {
	l := &stubLedger{}
	j := newJournal()
	a := &stubAnomalies{}
	svc := newService(&stubVerifier{err: payment.ErrSignatureInvalid}, l, j, a)

	outcome, err := svc.HandleEvent(context.Background(), []byte("{}"), "bad")
	if outcome != OutcomeRejectedSignature || !errors.Is(err, payment.ErrSignatureInvalid) {
		t.Fatalf("expected signature rejection, got %s %v", outcome, err)
	}
	if len(l.calls) != 0 || j.saves != 0 || len(a.recorded) != 0 {
		t.Fatalf("expected no side effects, ledger=%d saves=%d anomalies=%d", len(l.calls), j.saves, len(a.recorded))
	}
}

func TestMalformedEventIsError(t *testing.T) {
	svc := newService(&stubVerifier{err: payment.ErrMalformedEvent}, &stubLedger{}, newJournal(), &stubAnomalies{})

	outcome, err := svc.HandleEvent(context.Background(), []byte("x"), "sig")
	if !errors.Is(err, payment.ErrMalformedEvent) || outcome != "" {
		t.Fatalf("expected malformed error, got %s %v", outcome, err)
	}
}

func TestRefundBeforePaidIsAnomaly(t *testing.T) {
	l := &stubLedger{}
	a := &stubAnomalies{}
	svc := newService(&stubVerifier{event: refunded("pi_unknown")}, l, newJournal(), a)

	outcome, err := svc.HandleEvent(context.Background(), nil, "sig")
	if err != nil || outcome != OutcomeRejectedUnknownSubject {
		t.Fatalf("expected unknown subject, got %s %v", outcome, err)
	}
	if len(l.calls) != 0 {
		t.Fatalf("expected no ledger calls, got %d", len(l.calls))
	}
	if len(a.recorded) != 1 || a.recorded[0].Kind != domain.AnomalyRefundBeforePaid {
		t.Fatalf("expected refund_before_paid anomaly, got %+v", a.recorded)
	}
}

func TestRefundOfFailedInvoiceIsAnomaly(t *testing.T) {
	l := &stubLedger{}
	a := &stubAnomalies{}
	j := newJournal(domain.PaymentState{PaymentID: "sess_2", Status: domain.InvoiceFailed, PaymentIntentID: "pi_2"})
	svc := newService(&stubVerifier{event: refunded("pi_2")}, l, j, a)

	outcome, err := svc.HandleEvent(context.Background(), nil, "sig")
	if err != nil || outcome != OutcomeRejectedUnknownSubject {
		t.Fatalf("expected unknown subject, got %s %v", outcome, err)
	}
	if len(l.calls) != 0 || len(a.recorded) != 1 || a.recorded[0].PaymentID != "sess_2" {
		t.Fatalf("unexpected side effects ledger=%d anomalies=%+v", len(l.calls), a.recorded)
	}
}

func TestRefundAfterPaidResolvesSession(t *testing.T) {
	l := &stubLedger{}
	j := newJournal(domain.PaymentState{PaymentID: "sess_1", Status: domain.InvoicePaid, PaymentIntentID: "pi_1"})
	svc := newService(&stubVerifier{event: refunded("pi_1")}, l, j, &stubAnomalies{})

	outcome, err := svc.HandleEvent(context.Background(), nil, "sig")
	if err != nil || outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s %v", outcome, err)
	}
	if len(l.calls) != 1 || l.calls[0].paymentID != "sess_1" || l.calls[0].status != domain.InvoiceRefunded {
		t.Fatalf("unexpected ledger calls %+v", l.calls)
	}
	if st := j.states["sess_1"]; st.Status != domain.InvoiceRefunded || st.PaymentIntentID != "pi_1" {
		t.Fatalf("unexpected journal state %+v", st)
	}

	outcome, err = svc.HandleEvent(context.Background(), nil, "sig")
	if err != nil || outcome != OutcomeNoOp {
		t.Fatalf("expected duplicate refund to be noop, got %s %v", outcome, err)
	}
	if len(l.calls) != 1 {
		t.Fatalf("expected no further ledger calls, got %d", len(l.calls))
	}
}

func TestLedgerNotFoundIsUnknownSubject(t *testing.T) {
	l := &stubLedger{errs: []error{&ledger.Error{Op: "update invoice status", StatusCode: 404, Kind: ledger.ErrNotFound}}}
	a := &stubAnomalies{}
	j := newJournal()
	svc := newService(&stubVerifier{event: completed("sess_9", "pi_9")}, l, j, a)

	outcome, err := svc.HandleEvent(context.Background(), nil, "sig")
	if err != nil || outcome != OutcomeRejectedUnknownSubject {
		t.Fatalf("expected unknown subject, got %s %v", outcome, err)
	}
	if len(a.recorded) != 1 || a.recorded[0].Kind != domain.AnomalyUnknownSubject || a.recorded[0].PaymentID != "sess_9" {
		t.Fatalf("unexpected anomalies %+v", a.recorded)
	}
	if j.saves != 0 {
		t.Fatalf("expected no journal write, got %d", j.saves)
	}
}

func TestLedgerRejectionIsBenign(t *testing.T) {
	l := &stubLedger{errs: []error{&ledger.Error{Op: "update invoice status", StatusCode: 409, Kind: ledger.ErrRejected}}}
	a := &stubAnomalies{}
	j := newJournal()
	svc := newService(&stubVerifier{event: completed("sess_1", "pi_1")}, l, j, a)

	outcome, err := svc.HandleEvent(context.Background(), nil, "sig")
	if err != nil || outcome != OutcomeNoOp {
		t.Fatalf("expected noop, got %s %v", outcome, err)
	}
	if len(a.recorded) != 1 || a.recorded[0].Kind != domain.AnomalyTransitionRejected {
		t.Fatalf("expected transition_rejected anomaly, got %+v", a.recorded)
	}
	if j.saves != 0 {
		t.Fatalf("expected no journal write, got %d", j.saves)
	}
}

func TestLedgerUnavailableIsRetriedByRedelivery(t *testing.T) {
	l := &stubLedger{errs: []error{&ledger.Error{Op: "update invoice status", StatusCode: 503, Kind: ledger.ErrUnavailable}}}
	j := newJournal()
	svc := newService(&stubVerifier{event: completed("sess_1", "pi_1")}, l, j, &stubAnomalies{})

	outcome, err := svc.HandleEvent(context.Background(), nil, "sig")
	if !errors.Is(err, ledger.ErrUnavailable) || outcome != "" {
		t.Fatalf("expected transient error, got %s %v", outcome, err)
	}
	if j.saves != 0 {
		t.Fatalf("expected no journal write after failure")
	}

	outcome, err = svc.HandleEvent(context.Background(), nil, "sig")
	if err != nil || outcome != OutcomeApplied {
		t.Fatalf("expected redelivery to apply, got %s %v", outcome, err)
	}
	if len(l.calls) != 2 {
		t.Fatalf("expected two ledger calls, got %d", len(l.calls))
	}
}

func TestJournalFailureIsTransient(t *testing.T) {
	l := &stubLedger{}
	j := newJournal()
	j.getErr = errors.New("db down")
	svc := newService(&stubVerifier{event: completed("sess_1", "pi_1")}, l, j, &stubAnomalies{})

	if _, err := svc.HandleEvent(context.Background(), nil, "sig"); err == nil {
		t.Fatalf("expected error")
	}
	if len(l.calls) != 0 {
		t.Fatalf("expected no ledger calls, got %d", len(l.calls))
	}
}

func TestJournalWriteFailureStillApplied(t *testing.T) {
	l := &stubLedger{}
	j := newJournal()
	j.saveErr = errors.New("db down")
	svc := newService(&stubVerifier{event: completed("sess_1", "pi_1")}, l, j, &stubAnomalies{})

	outcome, err := svc.HandleEvent(context.Background(), nil, "sig")
	if err != nil || outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s %v", outcome, err)
	}
}

func TestPaymentFailedMovesPendingToFailed(t *testing.T) {
	l := &stubLedger{}
	ev := &domain.PaymentEvent{ID: "evt_f", Type: domain.EventSessionPaymentFailed, ProcessorType: "checkout.session.async_payment_failed", SubjectID: "sess_3"}
	svc := newService(&stubVerifier{event: ev}, l, newJournal(), &stubAnomalies{})

	outcome, err := svc.HandleEvent(context.Background(), nil, "sig")
	if err != nil || outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s %v", outcome, err)
	}
	if len(l.calls) != 1 || l.calls[0].status != domain.InvoiceFailed || l.calls[0].date != nil {
		t.Fatalf("unexpected ledger calls %+v", l.calls)
	}
}

func TestPaidAfterFailedIsRejectedLocally(t *testing.T) {
	l := &stubLedger{}
	a := &stubAnomalies{}
	j := newJournal(domain.PaymentState{PaymentID: "sess_1", Status: domain.InvoiceFailed})
	svc := newService(&stubVerifier{event: completed("sess_1", "pi_1")}, l, j, a)

	outcome, err := svc.HandleEvent(context.Background(), nil, "sig")
	if err != nil || outcome != OutcomeNoOp {
		t.Fatalf("expected noop, got %s %v", outcome, err)
	}
	if len(l.calls) != 0 || len(a.recorded) != 1 || a.recorded[0].Kind != domain.AnomalyTransitionRejected {
		t.Fatalf("unexpected side effects ledger=%d anomalies=%+v", len(l.calls), a.recorded)
	}
}

func TestInformationalEventsAreNoOp(t *testing.T) {
	events := []*domain.PaymentEvent{
		{ID: "evt_e", Type: domain.EventSessionExpired, ProcessorType: "checkout.session.expired", SubjectID: "sess_1"},
		{ID: "evt_p", Type: domain.EventPaymentSucceeded, ProcessorType: "payment_intent.succeeded", SubjectID: "pi_1"},
		{ID: "evt_o", Type: domain.EventOther, ProcessorType: "customer.created"},
	}
	for _, ev := range events {
		t.Run(ev.ProcessorType, func(t *testing.T) {
			l := &stubLedger{}
			j := newJournal()
			svc := newService(&stubVerifier{event: ev}, l, j, &stubAnomalies{})
			outcome, err := svc.HandleEvent(context.Background(), nil, "sig")
			if err != nil || outcome != OutcomeNoOp {
				t.Fatalf("expected noop, got %s %v", outcome, err)
			}
			if len(l.calls) != 0 || j.saves != 0 {
				t.Fatalf("expected no side effects")
			}
		})
	}
}

func TestSessionEventWithoutIDIsUnknownSubject(t *testing.T) {
	a := &stubAnomalies{}
	svc := newService(&stubVerifier{event: completed("", "")}, &stubLedger{}, newJournal(), a)

	outcome, err := svc.HandleEvent(context.Background(), nil, "sig")
	if err != nil || outcome != OutcomeRejectedUnknownSubject {
		t.Fatalf("expected unknown subject, got %s %v", outcome, err)
	}
	if len(a.recorded) != 1 {
		t.Fatalf("expected one anomaly, got %d", len(a.recorded))
	}
}

func TestSignedStripeEventEndToEnd(t *testing.T) {
	const secret = "whsec_reconcile"
	verifier := payment.NewStripe(payment.StripeOptions{WebhookSecret: secret})
	l := &stubLedger{}
	svc := newService(verifier, l, newJournal(), &stubAnomalies{})

	body := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"sess_1","object":"checkout.session","payment_intent":"pi_1"}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: body, Secret: secret})

	outcome, err := svc.HandleEvent(context.Background(), signed.Payload, signed.Header)
	if err != nil || outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s %v", outcome, err)
	}
	if len(l.calls) != 1 || l.calls[0].paymentID != "sess_1" || l.calls[0].status != domain.InvoicePaid {
		t.Fatalf("unexpected ledger calls %+v", l.calls)
	}

	tampered := append([]byte(nil), signed.Payload...)
	tampered[len(tampered)/2] ^= 0x20
	outcome, err = svc.HandleEvent(context.Background(), tampered, signed.Header)
	if outcome != OutcomeRejectedSignature || !errors.Is(err, payment.ErrSignatureInvalid) {
		t.Fatalf("expected signature rejection, got %s %v", outcome, err)
	}
	if len(l.calls) != 1 {
		t.Fatalf("expected tampered delivery to make no ledger calls")
	}
}
