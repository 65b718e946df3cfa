// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finkeeper/trustgate/internal/domain"
)

type TransactionRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewTransactionRepository(pool *pgxpool.Pool, logger *slog.Logger) *TransactionRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &TransactionRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *TransactionRepository) CreateTransaction(ctx context.Context, params domain.CreateTransactionParams) (domain.TransactionRecord, error) {
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if len(currency) != 3 {
		return domain.TransactionRecord{}, domain.ErrInvalidCurrency
	}

	occurredAt := params.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	record := domain.TransactionRecord{
		ID:          uuid.New(),
		UserID:      params.UserID,
		AmountCents: params.AmountCents,
		Currency:    currency,
		Description: strings.TrimSpace(params.Description),
		OccurredAt:  occurredAt,
	}

	if err := r.pool.QueryRow(ctx, `
		INSERT INTO transactions (id, user_id, amount_cents, currency, description, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`,
		record.ID,
		record.UserID,
		record.AmountCents,
		record.Currency,
		record.Description,
		record.OccurredAt,
	).Scan(&record.CreatedAt); err != nil {
		r.logger.Error("create transaction failed", "user_id", params.UserID, "error", err)
		return domain.TransactionRecord{}, err
	}

	return record, nil
}

func (r *TransactionRepository) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]domain.TransactionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, amount_cents, currency, description, occurred_at, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		r.logger.Error("list transactions query failed", "user_id", userID, "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.TransactionRecord, 0, limit)
	for rows.Next() {
		var record domain.TransactionRecord
		if err := rows.Scan(
			&record.ID,
			&record.UserID,
			&record.AmountCents,
			&record.Currency,
			&record.Description,
			&record.OccurredAt,
			&record.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}
