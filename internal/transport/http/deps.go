// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"

	"github.com/google/uuid"

	"github.com/finkeeper/trustgate/internal/domain"
)

type APIKeyAdmin interface {
	CreateAPIKey(ctx context.Context, params domain.CreateAPIKeyParams) (domain.CreatedAPIKey, error)
	ListAPIKeys(ctx context.Context) ([]domain.APIKeyRecord, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
	DeleteAPIKey(ctx context.Context, id uuid.UUID) error
}

type TransactionStore interface {
	CreateTransaction(ctx context.Context, params domain.CreateTransactionParams) (domain.TransactionRecord, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]domain.TransactionRecord, error)
}

type WebhookManager interface {
	CreateWebhook(ctx context.Context, params domain.CreateWebhookParams) (domain.WebhookRegistration, error)
	GetWebhook(ctx context.Context, id, userID uuid.UUID) (domain.WebhookRegistration, error)
	ListWebhooks(ctx context.Context, userID uuid.UUID) ([]domain.WebhookRegistration, error)
	UpdateWebhook(ctx context.Context, id, userID uuid.UUID, params domain.UpdateWebhookParams) error
	DeleteWebhook(ctx context.Context, id, userID uuid.UUID) error
}

type DeliveryLogLister interface {
	ListAttempts(ctx context.Context, webhookID uuid.UUID, limit int) ([]domain.DeliveryAttempt, error)
}

// EventNotifier dispatches domain events to subscribed webhook registrations.
// Trigger is fire-and-forget; Deliver runs one sequence synchronously and is
// only used by the webhook test endpoint.
type EventNotifier interface {
	Trigger(ctx context.Context, eventType string, data map[string]any, userID uuid.UUID)
	Deliver(ctx context.Context, reg domain.WebhookRegistration, event domain.DeliveryEvent) bool
}

type HealthChecker interface {
	Check(ctx context.Context) error
}
