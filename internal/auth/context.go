// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/finkeeper/trustgate/internal/domain"
)

type apiKeyIDContextKey struct{}
type apiKeyContextKey struct{}

var ctxAPIKeyIDKey apiKeyIDContextKey
var ctxAPIKeyKey apiKeyContextKey

// APIKey is the authenticated credential carried on request context after
// the guard middleware has resolved the presented secret.
type APIKey struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	Scopes            []string
	MaxRequestsPerMin int
}

// HasScope reports whether the credential grants the required scope, either
// literally or through the wildcard marker. An empty scope list denies
// every non-wildcard check.
func (k APIKey) HasScope(required string) bool {
	for _, scope := range k.Scopes {
		if scope == domain.ScopeWildcard || scope == required {
			return true
		}
	}
	return false
}

// WithAPIKey stores the resolved API key and limits on request context.
func WithAPIKey(ctx context.Context, key APIKey) context.Context {
	ctx = context.WithValue(ctx, ctxAPIKeyKey, key)
	return context.WithValue(ctx, ctxAPIKeyIDKey, key.ID)
}

// APIKeyIDFromContext reads the authenticated credential id from context.
func APIKeyIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if key, ok := APIKeyFromContext(ctx); ok {
		return key.ID, true
	}

	v := ctx.Value(ctxAPIKeyIDKey)
	id, ok := v.(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// APIKeyFromContext reads the resolved API key and limits from context.
func APIKeyFromContext(ctx context.Context) (APIKey, bool) {
	v := ctx.Value(ctxAPIKeyKey)
	key, ok := v.(APIKey)
	if !ok || key.ID == uuid.Nil {
		return APIKey{}, false
	}
	return key, true
}
