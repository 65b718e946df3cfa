// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finkeeper/trustgate/internal/domain"
)

type DeliveryLogRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewDeliveryLogRepository(pool *pgxpool.Pool, logger *slog.Logger) *DeliveryLogRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &DeliveryLogRepository{
		pool:   pool,
		logger: logger,
	}
}

// AppendAttempt records one physical delivery attempt. The log is
// append-only; rows are never updated or deleted by the notifier.
func (r *DeliveryLogRepository) AppendAttempt(ctx context.Context, attempt domain.DeliveryAttempt) error {
	id := attempt.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO webhook_delivery_logs
			(id, webhook_id, event_type, payload, status_code, response_body, error, attempt, success, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		id,
		attempt.WebhookID,
		attempt.EventType,
		attempt.Payload,
		attempt.StatusCode,
		attempt.ResponseBody,
		attempt.Error,
		attempt.Attempt,
		attempt.Success,
		attempt.DurationMS,
	)
	if err != nil {
		r.logger.Error("append delivery attempt failed",
			"webhook_id", attempt.WebhookID,
			"event_type", attempt.EventType,
			"attempt", attempt.Attempt,
			"error", err,
		)
	}
	return err
}

func (r *DeliveryLogRepository) ListAttempts(ctx context.Context, webhookID uuid.UUID, limit int) ([]domain.DeliveryAttempt, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, webhook_id, event_type, payload, status_code, response_body, error, attempt, success, duration_ms, created_at
		FROM webhook_delivery_logs
		WHERE webhook_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, webhookID, limit)
	if err != nil {
		r.logger.Error("list delivery attempts query failed", "webhook_id", webhookID, "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.DeliveryAttempt, 0, limit)
	for rows.Next() {
		var attempt domain.DeliveryAttempt
		if err := rows.Scan(
			&attempt.ID,
			&attempt.WebhookID,
			&attempt.EventType,
			&attempt.Payload,
			&attempt.StatusCode,
			&attempt.ResponseBody,
			&attempt.Error,
			&attempt.Attempt,
			&attempt.Success,
			&attempt.DurationMS,
			&attempt.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}
