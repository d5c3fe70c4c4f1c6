package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"storefront/internal/config"
	"storefront/internal/db"
	"storefront/internal/httpserver"
	"storefront/internal/ledger"
	"storefront/internal/logger"
	"storefront/internal/migrate"
	"storefront/internal/payment"
	anomalyrepo "storefront/internal/repository/anomaly"
	paymentrepo "storefront/internal/repository/payment"
	productrepo "storefront/internal/repository/product"
	checkoutsvc "storefront/internal/service/checkout"
	productsvc "storefront/internal/service/product"
	reconcilesvc "storefront/internal/service/reconcile"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(logger.Options{
		Service:   "storefront-api",
		Env:       cfg.AppEnv,
		Level:     cfg.LogLevel,
		AddSource: cfg.AppEnv != "production",
	})

	if cfg.StripeSecretKey == "" || cfg.StripeWebhookSecret == "" {
		log.Warn("stripe keys not configured; checkout and webhooks will fail")
	}
	if cfg.LedgerBaseURL == "" {
		log.Warn("ACCOUNTING_URL not configured; invoices cannot be recorded")
	}

	ctx := context.Background()
	dbpool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		log.Error("connect to db", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if cfg.AutoMigrate {
		if err := migrate.Apply(ctx, dbpool); err != nil {
			log.Error("apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
		log.Info("migrations applied")
	}

	productRepo := productrepo.NewPostgres(dbpool, log)
	paymentRepo := paymentrepo.NewPostgres(dbpool, log)
	anomalyRepo := anomalyrepo.NewPostgres(dbpool, log)

	ledgerClient := ledger.New(ledger.Options{
		BaseURL:  cfg.LedgerBaseURL,
		Username: cfg.LedgerUsername,
		Password: cfg.LedgerPassword,
		Timeout:  cfg.LedgerTimeout,
		TokenTTL: cfg.LedgerTokenTTL,
		Logger:   log.With(slog.String("component", "ledger")),
	})
	stripe := payment.NewStripe(payment.StripeOptions{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		Timeout:       cfg.ProcessorTimeout,
	})

	productService := productsvc.New(productRepo)
	checkoutService := checkoutsvc.New(productService, stripe, ledgerClient, anomalyRepo, checkoutsvc.Options{
		Currency:      cfg.Currency,
		PublicBaseURL: cfg.PublicBaseURL,
		RetryAttempts: cfg.LedgerRetryAttempts,
		Logger:        log.With(slog.String("component", "checkout")),
	})
	reconciler := reconcilesvc.New(stripe, ledgerClient, paymentRepo, anomalyRepo, log.With(slog.String("component", "reconcile")))

	srv, err := httpserver.New(cfg.HTTPAddr, log, dbpool, httpserver.Deps{
		ProductSvc:  productService,
		CheckoutSvc: checkoutService,
		Reconciler:  reconciler,
		Anomalies:   anomalyRepo,
	}, httpserver.Options{
		AllowedOrigins:     cfg.CORSAllowedOrigins,
		PublishableKey:     cfg.StripePublishableKey,
		Currency:           cfg.Currency,
		CheckoutRatePerSec: cfg.CheckoutRatePerSec,
		CheckoutRateBurst:  cfg.CheckoutRateBurst,
		OpsJWTSecret:       cfg.OpsJWTSecret,
	})
	if err != nil {
		log.Error("init server", slog.Any("error", err))
		os.Exit(1)
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting http server", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stopCh:
		log.Info("shutting down", slog.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server error", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", slog.Any("error", err))
	} else {
		log.Info("server stopped")
	}
}
