// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultWebhookRetryCount     = 3
	DefaultWebhookTimeoutSeconds = 10

	// MaxLoggedResponseBody bounds the response-body snapshot stored per
	// delivery attempt.
	MaxLoggedResponseBody = 1000
)

const (
	EventTransactionCreated = "transaction.created"
	EventWebhookTest        = "webhook.test"
)

type WebhookRegistration struct {
	ID             uuid.UUID `json:"id"`
	UserID         uuid.UUID `json:"user_id"`
	URL            string    `json:"url"`
	Secret         string    `json:"-"`
	Events         []string  `json:"events"`
	RetryCount     int       `json:"retry_count"`
	TimeoutSeconds int       `json:"timeout_seconds"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

// Subscribed reports whether the registration wants the given event type.
func (w WebhookRegistration) Subscribed(eventType string) bool {
	for _, ev := range w.Events {
		if ev == eventType {
			return true
		}
	}
	return false
}

type CreateWebhookParams struct {
	UserID         uuid.UUID
	URL            string
	Secret         string
	Events         []string
	RetryCount     int
	TimeoutSeconds int
}

type UpdateWebhookParams struct {
	URL            string
	Events         []string
	RetryCount     int
	TimeoutSeconds int
	Active         bool
}

// DeliveryEvent is constructed when a domain action completes and passed by
// value to the notifier; only attempts against it are persisted.
type DeliveryEvent struct {
	Type       string
	Data       map[string]any
	UserID     uuid.UUID
	OccurredAt time.Time
}

// DeliveryAttempt records one physical POST against a registration.
// A logical event retried three times produces three rows.
type DeliveryAttempt struct {
	ID           uuid.UUID       `json:"id"`
	WebhookID    uuid.UUID       `json:"webhook_id"`
	EventType    string          `json:"event_type"`
	Payload      json.RawMessage `json:"payload"`
	StatusCode   *int            `json:"status_code,omitempty"`
	ResponseBody string          `json:"response_body,omitempty"`
	Error        *string         `json:"error,omitempty"`
	Attempt      int             `json:"attempt"`
	Success      bool            `json:"success"`
	DurationMS   int64           `json:"duration_ms"`
	CreatedAt    time.Time       `json:"created_at"`
}
