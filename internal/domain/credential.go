// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	DefaultMaxRequestsPerMin = 60

	// TokenPrefix identifies generated API keys on sight without
	// revealing anything about the secret itself.
	TokenPrefix = "fk_"

	// TokenSecretLength is the number of random alphanumeric characters
	// appended to TokenPrefix at creation time.
	TokenSecretLength = 48

	// MinPresentedSecretLength is enforced before any hash lookup; no
	// generated key can be shorter, so shorter inputs are rejected
	// without touching the credential store.
	MinPresentedSecretLength = 20
)

const (
	ScopeWildcard = "*"
	ScopeRead     = "read"
	ScopeWrite    = "write"
	ScopeWebhooks = "webhooks"
)

type CreateAPIKeyParams struct {
	UserID            uuid.UUID
	Name              string
	Scopes            []string
	MaxRequestsPerMin int
	ExpiresAt         *time.Time
}

type CreatedAPIKey struct {
	ID    uuid.UUID
	Token string
}

type APIKeyRecord struct {
	ID                uuid.UUID  `json:"id"`
	UserID            uuid.UUID  `json:"user_id"`
	Name              string     `json:"name"`
	Scopes            []string   `json:"scopes"`
	MaxRequestsPerMin int        `json:"max_requests_per_min"`
	Active            bool       `json:"active"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}
