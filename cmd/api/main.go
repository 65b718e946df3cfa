// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finkeeper/trustgate/internal/config"
	"github.com/finkeeper/trustgate/internal/logging"
	"github.com/finkeeper/trustgate/internal/notifier"
	"github.com/finkeeper/trustgate/internal/persistence/postgres"
	"github.com/finkeeper/trustgate/internal/repository"
	httptransport "github.com/finkeeper/trustgate/internal/transport/http"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
			log.Fatalf("schema migration failed: %v", err)
		}
	}

	apiKeyRepo := repository.NewAPIKeyRepository(pool, logger)
	rateLimitRepo := repository.NewRateLimitRepository(pool, logger)
	usageRepo := repository.NewUsageLogRepository(pool, logger)
	webhookRepo := repository.NewWebhookRepository(pool, logger)
	deliveryLogRepo := repository.NewDeliveryLogRepository(pool, logger)
	transactionRepo := repository.NewTransactionRepository(pool, logger)

	events := notifier.New(notifier.Deps{
		Webhooks: webhookRepo,
		Logs:     deliveryLogRepo,
		Logger:   logger,
	})

	handler := httptransport.NewRouter(httptransport.Deps{
		APIKeyAdmin:  apiKeyRepo,
		Transactions: transactionRepo,
		Webhooks:     webhookRepo,
		DeliveryLogs: deliveryLogRepo,
		Notifier:     events,
		Credentials:  apiKeyRepo,
		RateLimiter:  rateLimitRepo,
		Usage:        usageRepo,
		Health:       postgres.NewSchemaHealthChecker(pool),
		Logger:       logger,
		AdminToken:   cfg.AdminToken,
		Version:      Version,
		Commit:       Commit,
		BuildDate:    BuildDate,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api listening",
			"addr", cfg.HTTPAddr,
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)

		if err := srv.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
}
