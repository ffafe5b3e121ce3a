package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agent-payment-gateway/config"
	"agent-payment-gateway/docs"
	httpHandler "agent-payment-gateway/internal/adapter/http/handler"
	"agent-payment-gateway/internal/adapter/http/middleware"
	"agent-payment-gateway/internal/adapter/ledger/signer"
	"agent-payment-gateway/internal/adapter/ledger/smartwallet"
	pgStorage "agent-payment-gateway/internal/adapter/storage/postgres"
	redisStorage "agent-payment-gateway/internal/adapter/storage/redis"
	"agent-payment-gateway/internal/core/ports"
	"agent-payment-gateway/internal/service"
	"agent-payment-gateway/pkg/logger"
	"agent-payment-gateway/pkg/tracing"

	"github.com/gin-gonic/gin"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("network", cfg.Wallet.Network).
		Str("version", version).
		Msg("Starting Agent Payment Gateway")

	ctx := context.Background()

	if cfg.Tracing.Enabled {
		shutdownTracing, err := tracing.Init(cfg.Tracing.ServiceName, version, os.Stdout)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracing")
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(flushCtx); err != nil {
				log.Warn().Err(err).Msg("Failed to flush traces")
			}
		}()
	}

	var (
		approvalRepo   ports.ApprovalRepository
		paymentRepo    ports.PaymentRepository
		auditRepo      ports.AuditRepository
		refGuard       ports.ReferenceGuard
		rateLimiter    middleware.Limiter
		healthCheckers []ports.HealthChecker
	)

	// PostgreSQL is an audit trail; the gateway runs without it.
	if cfg.Database.Enabled {
		pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()

		if err := pgStorage.Migrate(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply database schema")
		}

		approvalRepo = pgStorage.NewApprovalRepo(pool)
		paymentRepo = pgStorage.NewPaymentRepo(pool)
		auditRepo = pgStorage.NewAuditRepository(pool)
		healthCheckers = append(healthCheckers, pgStorage.HealthCheck(pool))
	} else {
		log.Warn().Msg("PostgreSQL disabled, approvals and payments are kept in memory only")
	}

	if cfg.Redis.Enabled {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()

		refGuard = redisStorage.NewReferenceGuard(rdb)
		rateLimiter = redisStorage.NewRateLimitStore(rdb)
		healthCheckers = append(healthCheckers, redisStorage.HealthCheck(rdb))
	} else {
		log.Warn().Msg("Redis disabled, payment references and rate limits are not enforced")
	}

	auditSvc := service.NewAuditService(auditRepo, logger.Component(log, "audit"))

	// Wallet backends in preference order: smart wallet first, key signer as fallback.
	primary := smartwallet.New(smartwallet.Config{
		APIKeyID:     cfg.Wallet.SmartWallet.APIKeyID,
		APIKeySecret: cfg.Wallet.SmartWallet.APIKeySecret,
		WalletSecret: cfg.Wallet.SmartWallet.WalletSecret,
		OwnerKey:     cfg.Wallet.PrivateKey,
		Network:      cfg.Wallet.Network,
		BaseURL:      cfg.Wallet.SmartWallet.BaseURL,
	}, &http.Client{Timeout: cfg.Wallet.SmartWallet.Timeout}, log)
	fallback := signer.New(signer.Config{
		PrivateKey: cfg.Wallet.PrivateKey,
		RPCURL:     cfg.Wallet.RPCURL,
		Network:    cfg.Wallet.Network,
	}, nil, log)
	defer fallback.Close()

	walletMgr := service.NewWalletManager([]ports.Ledger{primary, fallback}, auditSvc, logger.Component(log, "wallet"))
	healthCheckers = append(healthCheckers, walletMgr)

	gate := service.NewApprovalGate(approvalRepo, auditSvc, service.ApprovalGateConfig{
		Timeout:      cfg.Approval.Timeout,
		TombstoneTTL: cfg.Approval.TombstoneTTL,
	}, logger.Component(log, "approval"))

	// Requests left PENDING by a previous process can never be answered.
	if n, err := gate.ExpireOrphaned(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to expire orphaned approvals")
	} else if n > 0 {
		log.Info().Int64("count", n).Msg("Expired orphaned approvals")
	}

	sigSvc := service.NewHMACSignatureService()
	notifier := service.NewWebhookService(sigSvc, cfg.Webhook.Secret,
		&http.Client{Timeout: cfg.Webhook.Timeout}, cfg.Webhook.RetryIntervals, logger.Component(log, "webhook"))

	paymentSvc := service.NewPaymentService(walletMgr, gate, paymentRepo, refGuard, notifier, auditSvc, service.PaymentConfig{
		Network:              cfg.Wallet.Network,
		ApprovalTimeout:      cfg.Approval.Timeout,
		BalanceAttempts:      cfg.Payment.BalanceAttempts,
		BalanceRetryInterval: cfg.Payment.BalanceRetryInterval,
		ReferenceTTL:         cfg.Payment.ReferenceTTL,
	}, logger.Component(log, "payment"))

	toolGuard := service.NewToolGuard(gate, auditSvc, cfg.Approval.Timeout, cfg.Approval.TombstoneTTL, logger.Component(log, "tools"))

	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	if cfg.Server.Mode == gin.ReleaseMode || cfg.Server.Mode == gin.TestMode {
		gin.SetMode(cfg.Server.Mode)
	}

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		WalletSvc:      walletMgr,
		PaymentSvc:     paymentSvc,
		Gate:           gate,
		ToolGuard:      toolGuard,
		TokenSvc:       tokenSvc,
		RateLimiter:    rateLimiter,
		RateLimitRules: middleware.RateLimitRules(cfg.RateLimit),
		HealthCheckers: healthCheckers,
		AuditSvc:       auditSvc,
		OpenAPISpec:    docs.OpenAPI,
		Logger:         logger.Component(log, "http"),
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Pending approvals expire; in-flight transfers finish and are recorded.
	gate.Shutdown()
	paymentSvc.Close()
	toolGuard.Close()

	log.Info().Msg("Server exited")
}
