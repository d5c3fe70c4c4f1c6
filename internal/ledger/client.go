package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"storefront/internal/domain"
)

const (
	maxResponseBytes = 1 << 20
	// tokenSkew renews a cached token slightly before the ledger expires it.
	tokenSkew = 15 * time.Second
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	Username   string
	Password   string
	Timeout    time.Duration
	TokenTTL   time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Confirmation is the ledger's acknowledgement of a write.
type Confirmation struct {
	PaymentID string          `json:"payment_id,omitempty"`
	Status    string          `json:"status,omitempty"`
	Duplicate bool            `json:"-"`
	Raw       json.RawMessage `json:"-"`
}

// cachedToken is never mutated after it is stored.
type cachedToken struct {
	value     string
	expiresAt time.Time
}

// Client talks to the accounting ledger. It is safe for concurrent use.
type Client struct {
	baseURL  string
	username string
	password string
	timeout  time.Duration
	tokenTTL time.Duration
	http     *http.Client
	logger   *slog.Logger
	now      func() time.Time

	token   atomic.Pointer[cachedToken]
	refresh singleflight.Group
}

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := opts.TokenTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Client{
		baseURL:  opts.BaseURL,
		username: opts.Username,
		password: opts.Password,
		timeout:  timeout,
		tokenTTL: ttl,
		http:     httpClient,
		logger:   logger,
		now:      time.Now,
	}
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// Authenticate exchanges the configured credentials for a fresh bearer token
// and caches it until it expires.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	tok, err := c.authenticate(ctx)
	if err != nil {
		return "", err
	}
	return tok.value, nil
}

func (c *Client) authenticate(ctx context.Context) (*cachedToken, error) {
	body, err := json.Marshal(authRequest{Username: c.username, Password: c.password})
	if err != nil {
		return nil, &Error{Op: "authenticate", Kind: ErrAuth, Err: err}
	}
	status, respBody, err := c.send(ctx, http.MethodPost, "/auth", body, "")
	if err != nil {
		return nil, &Error{Op: "authenticate", Kind: ErrAuth, Err: err}
	}
	if status < 200 || status >= 300 {
		return nil, &Error{Op: "authenticate", StatusCode: status, Kind: ErrAuth}
	}
	var resp authResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &Error{Op: "authenticate", StatusCode: status, Kind: ErrAuth, Err: fmt.Errorf("decode token: %w", err)}
	}
	if resp.Token == "" {
		return nil, &Error{Op: "authenticate", StatusCode: status, Kind: ErrAuth, Err: errors.New("empty token")}
	}
	tok := &cachedToken{
		value:     resp.Token,
		expiresAt: c.tokenExpiry(resp.Token, resp.ExpiresIn),
	}
	c.token.Store(tok)
	c.logger.Debug("ledger token issued", slog.Time("expires_at", tok.expiresAt))
	return tok, nil
}

// tokenExpiry prefers the JWT exp claim, then expires_in, then the configured TTL.
func (c *Client) tokenExpiry(raw string, expiresIn int64) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	if expiresIn > 0 {
		return c.now().Add(time.Duration(expiresIn) * time.Second)
	}
	return c.now().Add(c.tokenTTL)
}

// bearer returns a usable token, collapsing concurrent refreshes into one
// authentication round trip.
func (c *Client) bearer(ctx context.Context) (*cachedToken, error) {
	if tok := c.token.Load(); tok != nil && c.now().Add(tokenSkew).Before(tok.expiresAt) {
		return tok, nil
	}
	// The shared refresh must not inherit one caller's cancellation; send
	// still bounds it with the client timeout.
	refreshCtx := context.WithoutCancel(ctx)
	ch := c.refresh.DoChan("token", func() (interface{}, error) {
		return c.authenticate(refreshCtx)
	})
	select {
	case <-ctx.Done():
		return nil, &Error{Op: "authenticate", Kind: ErrAuth, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*cachedToken), nil
	}
}

type invoiceCustomer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type invoiceLine struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name,omitempty"`
	Quantity   int64  `json:"quantity"`
	UnitAmount int64  `json:"unit_amount"`
}

type invoiceRequest struct {
	Customer    invoiceCustomer      `json:"customer"`
	Lines       []invoiceLine        `json:"lines"`
	PaymentID   string               `json:"payment_id"`
	TotalAmount int64                `json:"total_amount"`
	Currency    string               `json:"currency"`
	Status      domain.InvoiceStatus `json:"status"`
}

type statusRequest struct {
	PaymentID   string               `json:"payment_id"`
	Status      domain.InvoiceStatus `json:"status"`
	PaymentDate string               `json:"payment_date,omitempty"`
}

// CreateInvoice records a new pending invoice. A 409 means the ledger already
// holds an invoice for this payment id, so the call is reported as a
// duplicate success and callers may retry freely.
func (c *Client) CreateInvoice(ctx context.Context, inv domain.Invoice) (*Confirmation, error) {
	const op = "create invoice"
	if inv.PaymentID == "" {
		return nil, &Error{Op: op, Kind: ErrRejected, Err: errors.New("payment id required")}
	}
	if inv.Status != "" && inv.Status != domain.InvoicePending {
		return nil, &Error{Op: op, Kind: ErrRejected, Err: fmt.Errorf("new invoices must be pending, got %s", inv.Status)}
	}

	lines := make([]invoiceLine, 0, len(inv.Lines))
	for _, l := range inv.Lines {
		lines = append(lines, invoiceLine{
			ProductID:  l.ProductID,
			Name:       l.Name,
			Quantity:   l.Quantity,
			UnitAmount: l.UnitPriceMinorUnits,
		})
	}
	req := invoiceRequest{
		Customer:    invoiceCustomer{Name: inv.Customer.Name, Email: inv.Customer.Email, Phone: inv.Customer.Phone},
		Lines:       lines,
		PaymentID:   inv.PaymentID,
		TotalAmount: inv.TotalMinorUnits,
		Currency:    inv.Currency,
		Status:      domain.InvoicePending,
	}

	status, body, err := c.call(ctx, op, http.MethodPost, "/document/invoice", req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusConflict {
		c.logger.Info("ledger invoice already exists", slog.String("payment_id", inv.PaymentID))
		return &Confirmation{PaymentID: inv.PaymentID, Status: string(domain.InvoicePending), Duplicate: true, Raw: body}, nil
	}
	if status < 200 || status >= 300 {
		return nil, classify(op, status, body, false)
	}
	return confirmation(body, inv.PaymentID), nil
}

// UpdateInvoiceStatus moves the invoice for paymentID to status.
func (c *Client) UpdateInvoiceStatus(ctx context.Context, paymentID string, status domain.InvoiceStatus, paymentDate *time.Time) (*Confirmation, error) {
	const op = "update invoice status"
	if paymentID == "" {
		return nil, &Error{Op: op, Kind: ErrRejected, Err: errors.New("payment id required")}
	}
	req := statusRequest{PaymentID: paymentID, Status: status}
	if paymentDate != nil {
		req.PaymentDate = paymentDate.UTC().Format(time.RFC3339)
	}

	code, body, err := c.call(ctx, op, http.MethodPatch, "/document/invoice/status", req)
	if err != nil {
		return nil, err
	}
	if code < 200 || code >= 300 {
		return nil, classify(op, code, body, true)
	}
	return confirmation(body, paymentID), nil
}

// call performs one authenticated exchange. On a 401 the cached token is
// dropped and the exchange is retried exactly once with a fresh token.
func (c *Client) call(ctx context.Context, op, method, path string, payload interface{}) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, &Error{Op: op, Kind: ErrRejected, Err: err}
	}

	start := c.now()
	status, respBody, err := c.exchange(ctx, op, method, path, body)
	observe(op, status, err, c.now().Sub(start))
	return status, respBody, err
}

func (c *Client) exchange(ctx context.Context, op, method, path string, body []byte) (int, []byte, error) {
	tok, err := c.bearer(ctx)
	if err != nil {
		return 0, nil, err
	}
	status, respBody, err := c.send(ctx, method, path, body, tok.value)
	if err != nil {
		return 0, nil, &Error{Op: op, Kind: ErrUnavailable, Err: err}
	}
	if status != http.StatusUnauthorized {
		return status, respBody, nil
	}

	c.logger.Info("ledger token rejected, re-authenticating", slog.String("op", op))
	c.token.CompareAndSwap(tok, nil)
	tok, err = c.bearer(ctx)
	if err != nil {
		return 0, nil, err
	}
	status, respBody, err = c.send(ctx, method, path, body, tok.value)
	if err != nil {
		return 0, nil, &Error{Op: op, Kind: ErrUnavailable, Err: err}
	}
	if status == http.StatusUnauthorized {
		return 0, nil, &Error{Op: op, StatusCode: status, Kind: ErrAuth}
	}
	return status, respBody, nil
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, token string) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func confirmation(body []byte, paymentID string) *Confirmation {
	conf := &Confirmation{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, conf); err != nil {
			conf = &Confirmation{}
		}
		conf.Raw = body
	}
	if conf.PaymentID == "" {
		conf.PaymentID = paymentID
	}
	return conf
}

func statusLabel(status int, err error) string {
	if err != nil && status == 0 {
		switch {
		case errors.Is(err, ErrAuth):
			return "auth_error"
		default:
			return "error"
		}
	}
	return strconv.Itoa(status)
}
