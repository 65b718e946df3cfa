// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finkeeper/trustgate/internal/domain"
)

// RateLimitDecision is the outcome of consuming one slot of a credential's
// rolling-minute quota for an endpoint.
type RateLimitDecision struct {
	Allowed        bool
	LimitPerMinute int
	Remaining      int
}

type RateLimitRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewRateLimitRepository(pool *pgxpool.Pool, logger *slog.Logger) *RateLimitRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &RateLimitRepository{
		pool:   pool,
		logger: logger,
	}
}

// Allow consumes one request slot from the rolling 60-second window for
// (credential, endpoint). The newest window row past the cutoff wins; once
// its count reaches the ceiling further requests are denied until the
// window ages out. Concurrent requests can race the read and push a window
// slightly past the ceiling; this imprecision is accepted.
func (r *RateLimitRepository) Allow(
	ctx context.Context,
	apiKeyID uuid.UUID,
	endpoint string,
	limitPerMinute int,
	now time.Time,
) (RateLimitDecision, error) {
	if limitPerMinute <= 0 {
		limitPerMinute = domain.DefaultMaxRequestsPerMin
	}

	cutoff := now.Add(-time.Minute)

	var windowID uuid.UUID
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT id, count
		FROM rate_limit_windows
		WHERE api_key_id = $1
		  AND endpoint = $2
		  AND window_start >= $3
		ORDER BY window_start DESC
		LIMIT 1
	`, apiKeyID, endpoint, cutoff).Scan(&windowID, &count)

	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := r.pool.Exec(ctx, `
			INSERT INTO rate_limit_windows (id, api_key_id, endpoint, window_start, count)
			VALUES ($1, $2, $3, $4, 1)
		`, uuid.New(), apiKeyID, endpoint, now); err != nil {
			r.logger.Error("create rate limit window failed",
				"api_key_id", apiKeyID,
				"endpoint", endpoint,
				"error", err,
			)
			return RateLimitDecision{}, err
		}
		return RateLimitDecision{
			Allowed:        true,
			LimitPerMinute: limitPerMinute,
			Remaining:      limitPerMinute - 1,
		}, nil
	}
	if err != nil {
		r.logger.Error("rate limit window lookup failed",
			"api_key_id", apiKeyID,
			"endpoint", endpoint,
			"error", err,
		)
		return RateLimitDecision{}, err
	}

	if count >= limitPerMinute {
		return RateLimitDecision{
			Allowed:        false,
			LimitPerMinute: limitPerMinute,
			Remaining:      0,
		}, nil
	}

	var newCount int
	if err := r.pool.QueryRow(ctx, `
		UPDATE rate_limit_windows
		SET count = count + 1
		WHERE id = $1
		RETURNING count
	`, windowID).Scan(&newCount); err != nil {
		r.logger.Error("increment rate limit window failed",
			"api_key_id", apiKeyID,
			"endpoint", endpoint,
			"error", err,
		)
		return RateLimitDecision{}, err
	}

	remaining := limitPerMinute - newCount
	if remaining < 0 {
		remaining = 0
	}

	return RateLimitDecision{
		Allowed:        true,
		LimitPerMinute: limitPerMinute,
		Remaining:      remaining,
	}, nil
}

// PurgeExpired removes window rows older than the cutoff. Superseded
// windows are never read again; this keeps the table from growing without
// bound.
func (r *RateLimitRepository) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM rate_limit_windows
		WHERE window_start < $1
	`, cutoff)
	if err != nil {
		r.logger.Error("purge rate limit windows failed", "error", err)
		return 0, err
	}
	return tag.RowsAffected(), nil
}
