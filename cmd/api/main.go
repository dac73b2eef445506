package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"domainvault/auth"
	"domainvault/checkout"
	"domainvault/db"
	"domainvault/listing"
	"domainvault/payments"
	"domainvault/payout"
	"domainvault/sale"
	"domainvault/seller"
	"domainvault/settlement"
)

func main() {
	cfg, err := db.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("bootstrap database pool", zap.Error(err))
	}
	defer pool.Close()

	stripeClient, err := payments.NewClient(cfg.StripeSecretKey, logger)
	if err != nil {
		logger.Fatal("bootstrap stripe client", zap.Error(err))
	}
	verifier, err := payments.NewSigningVerifier(cfg.StripeWebhookSecret)
	if err != nil {
		logger.Fatal("bootstrap webhook verifier", zap.Error(err))
	}

	authService := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	listingRepo := listing.NewRepository(pool)
	listingService := listing.NewService(listingRepo, logger)
	sellerRepo := seller.NewRepository(pool)
	saleRepo := sale.NewRepository(pool)
	payoutRepo := payout.NewRepository(pool)

	checkoutService := checkout.NewService(
		pool,
		listingRepo,
		sellerRepo,
		saleRepo,
		checkout.NewCustomerRepository(pool),
		stripeClient,
		cfg.MinFeeCents,
		logger,
	)

	reconciler := settlement.NewReconciler(
		listingRepo,
		saleRepo,
		payoutRepo,
		sellerRepo,
		stripeClient,
		cfg.MinFeeCents,
		cfg.PendingSaleTTL,
		logger,
	)

	server := &Server{
		authService:     authService,
		listingService:  listingService,
		checkoutService: checkoutService,
		payouts:         payoutRepo,
		webhook:         settlement.NewReceiver(verifier, reconciler, logger),
		logger:          logger,
	}

	go runExpirySweep(ctx, reconciler, cfg.SweepInterval, logger)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	}()

	logger.Info("api listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("serve", zap.Error(err))
	}
}

// runExpirySweep reclaims listings stuck pending after an abandoned checkout.
func runExpirySweep(ctx context.Context, reconciler *settlement.Reconciler, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := reconciler.ExpireStale(ctx)
			if err != nil {
				logger.Error("expiry sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("expiry sweep reclaimed sales", zap.Int("count", n))
			}
		}
	}
}
