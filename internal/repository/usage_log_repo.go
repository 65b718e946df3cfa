// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UsageLogRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewUsageLogRepository(pool *pgxpool.Pool, logger *slog.Logger) *UsageLogRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &UsageLogRepository{
		pool:   pool,
		logger: logger,
	}
}

// RecordUsage appends one usage row for an authenticated request. Runs
// detached from the request; failures are logged and dropped.
func (r *UsageLogRepository) RecordUsage(
	ctx context.Context,
	apiKeyID uuid.UUID,
	endpoint string,
	method string,
	statusCode int,
	duration time.Duration,
) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO api_usage_logs (id, api_key_id, endpoint, method, status_code, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		uuid.New(),
		apiKeyID,
		endpoint,
		method,
		statusCode,
		duration.Milliseconds(),
	)
	if err != nil {
		r.logger.Error("record api usage failed",
			"api_key_id", apiKeyID,
			"endpoint", endpoint,
			"error", err,
		)
	}
	return err
}

// PurgeOlderThan trims usage rows past the retention cutoff.
func (r *UsageLogRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM api_usage_logs
		WHERE created_at < $1
	`, cutoff)
	if err != nil {
		r.logger.Error("purge api usage logs failed", "error", err)
		return 0, err
	}
	return tag.RowsAffected(), nil
}
