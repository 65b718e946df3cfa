// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finkeeper/trustgate/internal/domain"
)

type WebhookRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewWebhookRepository(pool *pgxpool.Pool, logger *slog.Logger) *WebhookRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &WebhookRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *WebhookRepository) CreateWebhook(ctx context.Context, params domain.CreateWebhookParams) (domain.WebhookRegistration, error) {
	targetURL, err := validateWebhookURL(params.URL)
	if err != nil {
		return domain.WebhookRegistration{}, err
	}
	events, err := normalizeEvents(params.Events)
	if err != nil {
		return domain.WebhookRegistration{}, err
	}

	secret := strings.TrimSpace(params.Secret)
	if secret == "" {
		secret, err = generateWebhookSecret()
		if err != nil {
			r.logger.Error("generate webhook secret failed", "error", err)
			return domain.WebhookRegistration{}, err
		}
	}

	retryCount := params.RetryCount
	if retryCount <= 0 {
		retryCount = domain.DefaultWebhookRetryCount
	}
	timeoutSeconds := params.TimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = domain.DefaultWebhookTimeoutSeconds
	}

	reg := domain.WebhookRegistration{
		ID:             uuid.New(),
		UserID:         params.UserID,
		URL:            targetURL,
		Secret:         secret,
		Events:         events,
		RetryCount:     retryCount,
		TimeoutSeconds: timeoutSeconds,
		Active:         true,
	}

	if err := r.pool.QueryRow(ctx, `
		INSERT INTO webhook_registrations (id, user_id, url, secret, events, retry_count, timeout_seconds, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		RETURNING created_at
	`,
		reg.ID,
		reg.UserID,
		reg.URL,
		reg.Secret,
		reg.Events,
		reg.RetryCount,
		reg.TimeoutSeconds,
	).Scan(&reg.CreatedAt); err != nil {
		r.logger.Error("create webhook failed", "user_id", params.UserID, "error", err)
		return domain.WebhookRegistration{}, err
	}

	return reg, nil
}

func (r *WebhookRepository) GetWebhook(ctx context.Context, id, userID uuid.UUID) (domain.WebhookRegistration, error) {
	var reg domain.WebhookRegistration
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, url, secret, events, retry_count, timeout_seconds, active, created_at
		FROM webhook_registrations
		WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(
		&reg.ID,
		&reg.UserID,
		&reg.URL,
		&reg.Secret,
		&reg.Events,
		&reg.RetryCount,
		&reg.TimeoutSeconds,
		&reg.Active,
		&reg.CreatedAt,
	)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			r.logger.Error("get webhook failed", "webhook_id", id, "error", err)
		}
		return domain.WebhookRegistration{}, err
	}
	return reg, nil
}

func (r *WebhookRepository) ListWebhooks(ctx context.Context, userID uuid.UUID) ([]domain.WebhookRegistration, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, url, secret, events, retry_count, timeout_seconds, active, created_at
		FROM webhook_registrations
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		r.logger.Error("list webhooks query failed", "user_id", userID, "error", err)
		return nil, err
	}
	defer rows.Close()

	return scanWebhookRows(rows)
}

// ListActiveSubscriptions returns the active registrations of a principal
// subscribed to the given event type. Read-only from the notifier's side.
func (r *WebhookRepository) ListActiveSubscriptions(ctx context.Context, userID uuid.UUID, eventType string) ([]domain.WebhookRegistration, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, url, secret, events, retry_count, timeout_seconds, active, created_at
		FROM webhook_registrations
		WHERE user_id = $1
		  AND active
		  AND $2 = ANY(events)
	`, userID, eventType)
	if err != nil {
		r.logger.Error("list subscriptions query failed",
			"user_id", userID,
			"event_type", eventType,
			"error", err,
		)
		return nil, err
	}
	defer rows.Close()

	return scanWebhookRows(rows)
}

func (r *WebhookRepository) UpdateWebhook(ctx context.Context, id, userID uuid.UUID, params domain.UpdateWebhookParams) error {
	targetURL, err := validateWebhookURL(params.URL)
	if err != nil {
		return err
	}
	events, err := normalizeEvents(params.Events)
	if err != nil {
		return err
	}

	retryCount := params.RetryCount
	if retryCount <= 0 {
		retryCount = domain.DefaultWebhookRetryCount
	}
	timeoutSeconds := params.TimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = domain.DefaultWebhookTimeoutSeconds
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE webhook_registrations
		SET url = $3, events = $4, retry_count = $5, timeout_seconds = $6, active = $7
		WHERE id = $1 AND user_id = $2
	`, id, userID, targetURL, events, retryCount, timeoutSeconds, params.Active)
	if err != nil {
		r.logger.Error("update webhook failed", "webhook_id", id, "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *WebhookRepository) DeleteWebhook(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM webhook_registrations
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		r.logger.Error("delete webhook failed", "webhook_id", id, "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanWebhookRows(rows pgx.Rows) ([]domain.WebhookRegistration, error) {
	out := make([]domain.WebhookRegistration, 0, 8)
	for rows.Next() {
		var reg domain.WebhookRegistration
		if err := rows.Scan(
			&reg.ID,
			&reg.UserID,
			&reg.URL,
			&reg.Secret,
			&reg.Events,
			&reg.RetryCount,
			&reg.TimeoutSeconds,
			&reg.Active,
			&reg.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func validateWebhookURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", domain.ErrInvalidWebhookURL
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", domain.ErrInvalidWebhookURL
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", domain.ErrInvalidWebhookURL
	}
	return raw, nil
}

func normalizeEvents(events []string) ([]string, error) {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		ev = strings.TrimSpace(ev)
		if ev == "" {
			continue
		}
		out = append(out, ev)
	}
	if len(out) == 0 {
		return nil, domain.ErrNoWebhookEvents
	}
	return out, nil
}

func generateWebhookSecret() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(raw), nil
}
