package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"storefront/internal/domain"
	"storefront/internal/service/reconcile"
)

type productService interface {
	List(ctx context.Context) ([]domain.Product, error)
	Get(ctx context.Context, id string) (*domain.Product, error)
}

type checkoutService interface {
	Checkout(ctx context.Context, items []domain.CheckoutItem, customer domain.Customer) (*domain.PaymentSession, error)
}

type eventHandler interface {
	HandleEvent(ctx context.Context, payload []byte, signatureHeader string) (reconcile.Outcome, error)
}

type anomalyLister interface {
	ListRecent(ctx context.Context, limit int) ([]domain.Anomaly, error)
}

// Deps are the services the routes call into.
type Deps struct {
	ProductSvc  productService
	CheckoutSvc checkoutService
	Reconciler  eventHandler
	Anomalies   anomalyLister
}

// Options holds router settings that come from configuration.
type Options struct {
	AllowedOrigins []string
	PublishableKey string
	Currency       string
	// CheckoutRatePerSec limits checkout attempts per client IP; zero disables it.
	CheckoutRatePerSec float64
	CheckoutRateBurst  int
	// OpsJWTSecret verifies HS256 bearer tokens on /api/ops; without it the
	// ops routes are not mounted.
	OpsJWTSecret string
}

// buildRouter wires routes for the API.
func buildRouter(logger *slog.Logger, db pinger, deps Deps, opts Options) (*gin.Engine, error) {
	if deps.ProductSvc == nil || deps.CheckoutSvc == nil || deps.Reconciler == nil {
		return nil, errors.New("product, checkout and reconciler services are required")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(requestLogger(logger), gin.Recovery())
	if len(opts.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     opts.AllowedOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", healthHandler)
	router.GET("/readyz", readyHandler(db))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := &handlers{
		logger:    logger,
		products:  deps.ProductSvc,
		checkout:  deps.CheckoutSvc,
		events:    deps.Reconciler,
		anomalies: deps.Anomalies,
		clientCfg: clientConfig{PublishableKey: opts.PublishableKey, Currency: opts.Currency},
	}

	api := router.Group("/api")
	api.GET("/config", h.getConfig)
	api.GET("/products", h.listProducts)
	api.GET("/products/:id", h.getProduct)

	checkoutChain := []gin.HandlerFunc{}
	if opts.CheckoutRatePerSec > 0 {
		limiter := newIPRateLimiter(opts.CheckoutRatePerSec, opts.CheckoutRateBurst)
		checkoutChain = append(checkoutChain, limiter.middleware())
	}
	checkoutChain = append(checkoutChain, h.createCheckout)
	api.POST("/checkout", checkoutChain...)
	postOnly(api, "/checkout")

	api.POST("/webhooks", h.receiveWebhook)
	postOnly(api, "/webhooks")

	if deps.Anomalies != nil && opts.OpsJWTSecret != "" {
		ops := api.Group("/ops", bearerAuth([]byte(opts.OpsJWTSecret)))
		ops.GET("/anomalies", h.listAnomalies)
	} else if deps.Anomalies != nil {
		logger.Warn("ops routes disabled: no ops token secret configured")
	}

	return router, nil
}

// postOnly answers other methods with 405 and an Allow header.
func postOnly(r gin.IRoutes, path string) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions} {
		r.Handle(method, path, methodNotAllowed)
	}
}

func methodNotAllowed(c *gin.Context) {
	c.Header("Allow", http.MethodPost)
	c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
}
