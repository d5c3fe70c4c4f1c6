package httpserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"storefront/internal/domain"
	"storefront/internal/payment"
	"storefront/internal/service/checkout"
	"storefront/internal/service/reconcile"
)

const (
	maxWebhookBytes      = 1 << 20
	defaultAnomalyLimit  = 50
	genericCheckoutError = "unable to start checkout, please try again"
)

type handlers struct {
	logger    *slog.Logger
	products  productService
	checkout  checkoutService
	events    eventHandler
	anomalies anomalyLister
	clientCfg clientConfig
}

type clientConfig struct {
	PublishableKey string `json:"publishableKey"`
	Currency       string `json:"currency"`
}

type checkoutRequest struct {
	Items    []domain.CheckoutItem `json:"items"`
	Customer domain.Customer       `json:"customer"`
}

type checkoutResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url,omitempty"`
}

func (h *handlers) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.clientCfg)
}

func (h *handlers) listProducts(c *gin.Context) {
	products, err := h.products.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list products", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list products"})
		return
	}
	if products == nil {
		products = []domain.Product{}
	}
	c.JSON(http.StatusOK, gin.H{"results": products, "count": len(products)})
}

func (h *handlers) getProduct(c *gin.Context) {
	p, err := h.products.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
			return
		}
		h.logger.Error("get product", slog.String("id", c.Param("id")), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load product"})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *handlers) createCheckout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	sess, err := h.checkout.Checkout(c.Request.Context(), req.Items, req.Customer)
	if err != nil {
		var verr *domain.ValidationError
		var perr *checkout.PartialFailureError
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
		case errors.As(err, &perr):
			// Already logged with the orphaned session id by the service.
			c.JSON(http.StatusInternalServerError, gin.H{"error": genericCheckoutError})
		case errors.Is(err, payment.ErrProcessor):
			c.JSON(http.StatusBadGateway, gin.H{"error": genericCheckoutError})
		default:
			h.logger.Error("checkout", slog.Any("error", err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": genericCheckoutError})
		}
		return
	}
	c.JSON(http.StatusOK, checkoutResponse{SessionID: sess.SessionID, URL: sess.URL})
}

// receiveWebhook passes the body through untouched; the signature covers
// the exact bytes the processor sent.
func (h *handlers) receiveWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes)
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	outcome, err := h.events.HandleEvent(c.Request.Context(), payload, c.GetHeader(payment.SignatureHeader))
	switch {
	case errors.Is(err, payment.ErrSignatureInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": "webhook signature verification failed"})
	case errors.Is(err, payment.ErrMalformedEvent):
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event"})
	case err != nil:
		h.logger.Error("webhook", slog.Any("error", err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unable to process event"})
	case outcome == reconcile.OutcomeRejectedUnknownSubject:
		c.JSON(http.StatusOK, gin.H{"received": false})
	default:
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}

func (h *handlers) listAnomalies(c *gin.Context) {
	limit := defaultAnomalyLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	list, err := h.anomalies.ListRecent(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("list anomalies", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list anomalies"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": list, "count": len(list)})
}
