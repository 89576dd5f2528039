// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"edu-billing/internal/config"
	"edu-billing/internal/domain/model"
	"edu-billing/internal/domain/ports/adapter"
	"edu-billing/internal/infra/alert"
	pg "edu-billing/internal/infra/db/postgres"
	"edu-billing/internal/infra/gateway"
	"edu-billing/internal/infra/i18n"
	"edu-billing/internal/infra/logging"
	"edu-billing/internal/infra/metrics"
	red "edu-billing/internal/infra/redis"
	"edu-billing/internal/infra/sched"
	"edu-billing/internal/infra/security"
	"edu-billing/internal/infra/web"
	"edu-billing/internal/infra/worker"
	"edu-billing/internal/usecase"
)

// Overridden at build time via -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	go pg.SamplePoolStats(ctx, pool, 15*time.Second)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	rateLimiter := red.NewRateLimiter(redisClient)
	bindingRepo := red.NewBindingSessionRepo(redisClient)

	// ---- Repositories ----
	encSvc, err := security.NewEncryptionService(cfg.Security.EncryptionKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("encryption service")
	}
	txRepo := pg.NewTransactionRepo(pool)
	userRepo := pg.NewPostgresUserRepo(pool)
	cardRepo := pg.NewSavedCardRepo(pool, encSvc)
	txManager := pg.NewTxManager(pool)

	// ---- Gateways ----
	checkoutTokens := gateway.NewTokenCache(model.GatewayCheckout, cfg.Gateways.Checkout, logger)
	scanpayTokens := gateway.NewTokenCache(model.GatewayScanPay, cfg.Gateways.ScanPay, logger)
	gateways := map[model.Gateway]adapter.GatewayClient{
		model.GatewayCheckout: gateway.NewCheckoutClient(cfg.Gateways.Checkout, checkoutTokens, logger),
		model.GatewayScanPay:  gateway.NewScanPayClient(cfg.Gateways.ScanPay, scanpayTokens, logger),
	}
	verifiers := map[model.Gateway]adapter.CallbackVerifier{
		model.GatewayCheckout: gateway.NewSignatureVerifier(
			model.GatewayCheckout,
			cfg.Gateways.Checkout.StoreID,
			cfg.Gateways.Checkout.WebhookSecret,
			cfg.Gateways.Checkout.SkipSignatureCheck,
			logger,
		),
		model.GatewayScanPay: gateway.NewSignatureVerifier(
			model.GatewayScanPay,
			cfg.Gateways.ScanPay.StoreID,
			cfg.Gateways.ScanPay.WebhookSecret,
			cfg.Gateways.ScanPay.SkipSignatureCheck,
			logger,
		),
	}

	// ---- Alerts ----
	var alerter adapter.Alerter
	if cfg.Alerts.TelegramToken != "" {
		alerter, err = alert.NewTelegramAlerter(cfg.Alerts.TelegramToken, cfg.Alerts.ChatID, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram alerter")
		}
	} else {
		alerter = alert.NewNoopAlerter(logger)
	}

	// ---- Use cases ----
	subUC := usecase.NewSubscriptionUseCase(userRepo, txManager, logger)
	core := usecase.NewProcessor(txRepo, bindingRepo, cardRepo, subUC, txManager, logger)
	paymentUC := usecase.NewPaymentUseCase(txRepo, userRepo, gateways, cfg.Plans, core, cfg.Server.PublicBaseURL, logger)
	bindingUC := usecase.NewCardBindingUseCase(txRepo, bindingRepo, cardRepo, gateways, core, cfg.Server.PublicBaseURL, logger)
	webhookUC := usecase.NewWebhookUseCase(verifiers, txRepo, core, alerter, logger)
	catalogUC := usecase.NewCatalogUseCase(cfg.Plans, logger)
	statsUC := usecase.NewStatsUseCase(userRepo, txRepo, logger)

	// ---- Background workers ----
	wpool := worker.NewPool(cfg.Reconciler.Workers, logger)
	wpool.Start(ctx)
	defer wpool.Stop()

	reconciler := sched.NewPaymentReconciler(paymentUC, txRepo, wpool, cfg.Reconciler.Interval, cfg.Reconciler.StaleAfter, logger)
	go func() {
		if err := reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("payment reconciler stopped")
		}
	}()

	expiry := sched.NewExpiryWorker(cfg.Expiry.Interval, subUC, logger)
	go func() {
		if err := expiry.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("expiry worker stopped")
		}
	}()

	// ---- HTTP ----
	pages, err := i18n.NewBundle(i18n.LocalesFS, "en")
	if err != nil {
		logger.Fatal().Err(err).Msg("locales")
	}
	authMgr := web.NewAuthManager(cfg.Auth.JWTSecret, 0)
	srv := web.NewServer(
		paymentUC,
		bindingUC,
		webhookUC,
		catalogUC,
		statsUC,
		pages,
		authMgr,
		rateLimiter,
		cfg.Server.AdminAPIKey,
		cfg.Server.RequestTimeout,
		logger,
	)
	go func() {
		if err := srv.Start(cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
}
