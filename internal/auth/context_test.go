// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/finkeeper/trustgate/internal/domain"
)

func TestAPIKeyContextRoundTrip(t *testing.T) {
	key := APIKey{
		ID:                uuid.New(),
		UserID:            uuid.New(),
		Scopes:            []string{domain.ScopeRead},
		MaxRequestsPerMin: 60,
	}

	ctx := WithAPIKey(context.Background(), key)

	got, ok := APIKeyFromContext(ctx)
	if !ok {
		t.Fatal("expected api key in context")
	}
	if got.ID != key.ID || got.UserID != key.UserID {
		t.Fatalf("expected key %v got %v", key, got)
	}

	id, ok := APIKeyIDFromContext(ctx)
	if !ok || id != key.ID {
		t.Fatalf("expected api key id %s got %s", key.ID, id)
	}
}

func TestAPIKeyFromEmptyContext(t *testing.T) {
	if _, ok := APIKeyFromContext(context.Background()); ok {
		t.Fatal("expected no api key on empty context")
	}
	if _, ok := APIKeyIDFromContext(context.Background()); ok {
		t.Fatal("expected no api key id on empty context")
	}
}

func TestHasScope(t *testing.T) {
	cases := []struct {
		name     string
		scopes   []string
		required string
		want     bool
	}{
		{name: "literal match", scopes: []string{"read", "write"}, required: "write", want: true},
		{name: "missing scope", scopes: []string{"read"}, required: "write", want: false},
		{name: "wildcard grants everything", scopes: []string{domain.ScopeWildcard}, required: "webhooks", want: true},
		{name: "empty list denies", scopes: nil, required: "read", want: false},
		{name: "no partial match", scopes: []string{"readonly"}, required: "read", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			key := APIKey{Scopes: tc.scopes}
			if got := key.HasScope(tc.required); got != tc.want {
				t.Fatalf("HasScope(%q) with %v: expected %v got %v", tc.required, tc.scopes, tc.want, got)
			}
		})
	}
}
