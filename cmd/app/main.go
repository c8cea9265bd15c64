package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trocswap-bot/internal/cache"
	"trocswap-bot/internal/config"
	"trocswap-bot/internal/convo"
	"trocswap-bot/internal/httpserver"
	"trocswap-bot/internal/ledger"
	"trocswap-bot/internal/logging"
	"trocswap-bot/internal/metrics"
	"trocswap-bot/internal/repo"
	"trocswap-bot/internal/session"
	"trocswap-bot/internal/trade"
	"trocswap-bot/internal/vault"
	"trocswap-bot/internal/wa"
	"trocswap-bot/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting trocswap-bot", "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	repository, err := repo.New(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repository.Close()

	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	redisClient := cache.New(cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		UseTLS:   cfg.RedisTLS,
	}, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed closing redis", "error", err)
		}
	}()
	if err := redisClient.Ping(ctx); err != nil {
		logger.Warn("redis ping failed", "error", err)
	}

	credentialVault := vault.New(cfg.BcryptCost)

	ledgerClient, err := ledger.Dial(ledger.Config{
		RPCURL:           cfg.ChainRPCURL,
		ChainID:          cfg.ChainID,
		EscrowAddress:    cfg.EscrowAddress,
		EscrowPrivateKey: cfg.EscrowPrivateKey,
		WeiPerUnit:       cfg.WeiPerBamekap,
		Timeout:          cfg.LedgerTimeout,
		Confirmations:    cfg.LedgerConfirmations,
	}, logger, metricRegistry, redisClient)
	if err != nil {
		return fmt.Errorf("init ledger client: %w", err)
	}
	defer ledgerClient.Close()

	tradeManager := trade.NewManager(repository, ledgerClient, credentialVault, metricRegistry, logger)
	sessions := session.NewRedisStore(redisClient, cfg.SessionTTL)

	waClient, err := wa.New(ctx, wa.Config{
		StorePath: cfg.WhatsAppStorePath,
		LogLevel:  cfg.WhatsAppLogLevel,
		Metrics:   metricRegistry,
	}, logger)
	if err != nil {
		return fmt.Errorf("init whatsapp client: %w", err)
	}
	defer waClient.Close()

	convoEngine := convo.New(repository, sessions, tradeManager, ledgerClient, credentialVault, waClient, metricRegistry, logger)
	waClient.SetRouter(convoEngine)

	webhookHandler := ledger.NewWebhookHandler(logger, metricRegistry, cfg.WebhookUsernameMD5, cfg.WebhookPasswordMD5, tradeManager)

	waCtx, waCancel := context.WithCancel(ctx)
	defer waCancel()
	go func() {
		if err := waClient.Start(waCtx); err != nil {
			logger.Error("whatsapp client stopped", "error", err)
			stop()
		}
	}()

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, httpserver.Handlers{
		LedgerWebhook: webhookHandler,
	}, cfg.PublicBasePath)
	httpSrv.SetDependencies(httpserver.Dependencies{
		Repository: repository,
		Redis:      redisClient,
		Ledger:     ledgerClient,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}
