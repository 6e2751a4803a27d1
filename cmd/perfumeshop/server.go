package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/antonminaichev/perfume-checkout/internal/admin"
	"github.com/antonminaichev/perfume-checkout/internal/currency"
	"github.com/antonminaichev/perfume-checkout/internal/logger"
	"github.com/antonminaichev/perfume-checkout/internal/mailer"
	"github.com/antonminaichev/perfume-checkout/internal/middleware"
	"github.com/antonminaichev/perfume-checkout/internal/order"
	"github.com/antonminaichev/perfume-checkout/internal/payment"
	"github.com/antonminaichev/perfume-checkout/internal/paypal"
	"github.com/antonminaichev/perfume-checkout/internal/router"
	"github.com/antonminaichev/perfume-checkout/internal/storage"
	"github.com/antonminaichev/perfume-checkout/internal/storage/memory"
	pgstorage "github.com/antonminaichev/perfume-checkout/internal/storage/postgres"
	redisstore "github.com/antonminaichev/perfume-checkout/internal/storage/redis"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func openStorage(ctx context.Context, cfg *Config) (storage.Storage, error) {
	if cfg.DatabaseConnection == "" {
		logger.Log.Warn("DATABASE_URI not set, orders are kept in memory")
		return memory.New(), nil
	}
	store, err := pgstorage.NewPostgresStorage(cfg.DatabaseConnection)
	if err != nil {
		return nil, err
	}
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func run() error {
	cfg, err := NewConfig()
	if err != nil {
		return err
	}
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		return err
	}
	defer logger.Log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initCtx, cancelInit := context.WithTimeout(ctx, 5*time.Second)
	defer cancelInit()

	store, err := openStorage(initCtx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Log.Warn("failed to close storage", zap.Error(err))
		}
	}()

	var events payment.EventStore = store
	if cfg.RedisAddress != "" {
		rs := redisstore.NewEventStore(cfg.RedisAddress, cfg.RedisPassword, cfg.RedisDB, cfg.EventTTL)
		if err := rs.Ping(initCtx); err != nil {
			logger.Log.Warn("redis unavailable, webhook dedup falls back to the order store", zap.Error(err))
			rs.Close()
		} else {
			defer rs.Close()
			events = rs
		}
	}

	adminSvc := admin.NewService(store, []byte(cfg.JWTSecret), cfg.JWTTTL)
	if err := adminSvc.EnsureAdmin(initCtx, cfg.AdminLogin, cfg.AdminPassword); err != nil {
		return err
	}
	adminHandler := admin.NewHandler(adminSvc)

	orderSvc := order.NewService(store)
	orderHandler := order.NewHandler(orderSvc)

	var rates currency.RateSource
	if cfg.RatesURL != "" {
		rates = &currency.HTTPRateSource{Client: &http.Client{Timeout: 5 * time.Second}, BaseURL: cfg.RatesURL}
	}
	converter := currency.NewConverter(rates, cfg.SettlementCurrency, cfg.SupportedCurrencies, cfg.RatesTTL)

	var sender payment.Mailer = mailer.LogSender{}
	if cfg.SMTPHost != "" {
		sender = mailer.NewSMTPSender(mailer.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	}

	gateway := paypal.NewClient(cfg.PayPalBaseURL, cfg.PayPalTimeout)
	creds := paypal.StaticCredentials{
		ClientID:  cfg.PayPalClientID,
		Secret:    cfg.PayPalSecret,
		WebhookID: cfg.PayPalWebhookID,
	}
	if creds.WebhookID == "" {
		logger.Log.Warn("PAYPAL_WEBHOOK_ID not set, webhook signatures will not be verified")
	}

	workflow := payment.NewWorkflow(orderSvc, gateway, creds, converter, sender, events, payment.Config{
		ReturnURL:      cfg.ReturnURL,
		CancelURL:      cfg.CancelURL,
		BrandName:      cfg.BrandName,
		OrphanTTL:      cfg.OrphanTTL,
		RemoteOrderTTL: cfg.RemoteOrderTTL,
	})
	paymentHandler := payment.NewHandler(workflow, orderSvc)

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.Cleanup(ctx, time.Minute)

	r := router.NewRouter(adminHandler, orderHandler, paymentHandler, limiter, []byte(cfg.JWTSecret), store)

	srv := &http.Server{
		Addr:         cfg.Address,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go payment.DispatcherLoop(
		ctx,
		workflow,
		orderSvc,
		cfg.ReconcileWorkers,
		cfg.ReconcileInterval,
		cfg.ReconcileAge,
	)

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info("starting server", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	logger.Log.Info("shutting down server")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		return err
	}

	logger.Log.Info("server stopped gracefully")
	return nil
}
