// SPDX-License-Identifier: Apache-2.0

// Sweeper trims rows the request path only ever appends: expired rate-limit
// windows and aged usage logs. Runs as a standalone process on an interval.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finkeeper/trustgate/internal/config"
	"github.com/finkeeper/trustgate/internal/logging"
	"github.com/finkeeper/trustgate/internal/persistence/postgres"
	"github.com/finkeeper/trustgate/internal/repository"
)

const sweepInterval = 5 * time.Minute

// usageRetention keeps usage rows long enough for billing reconciliation.
const usageRetention = 90 * 24 * time.Hour

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

	rateLimitRepo := repository.NewRateLimitRepository(pool, logger)
	usageRepo := repository.NewUsageLogRepository(pool, logger)

	logger.Info("sweeper started", "interval", sweepInterval.String())

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		sweepOnce(ctx, logger, rateLimitRepo, usageRepo)

		select {
		case <-ctx.Done():
			logger.Info("sweeper shutting down")
			return
		case <-ticker.C:
		}
	}
}

func sweepOnce(
	ctx context.Context,
	logger *slog.Logger,
	rateLimits *repository.RateLimitRepository,
	usage *repository.UsageLogRepository,
) {
	now := time.Now()

	windows, err := rateLimits.PurgeExpired(ctx, now.Add(-time.Minute))
	if err != nil {
		logger.Error("purge rate limit windows failed", "error", err)
	} else if windows > 0 {
		logger.Info("purged rate limit windows", "rows", windows)
	}

	usageRows, err := usage.PurgeOlderThan(ctx, now.Add(-usageRetention))
	if err != nil {
		logger.Error("purge usage logs failed", "error", err)
	} else if usageRows > 0 {
		logger.Info("purged usage logs", "rows", usageRows)
	}
}
