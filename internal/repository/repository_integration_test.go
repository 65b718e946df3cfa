//go:build integration

// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finkeeper/trustgate/internal/domain"
	"github.com/finkeeper/trustgate/internal/persistence/postgres"
)

func integrationPool(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		t.Skip("set DATABASE_URL to run integration tests")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		t.Skipf("skip integration test: cannot create pool (%v)", err)
	}
	t.Cleanup(pool.Close)

	if err := pool.Ping(ctx); err != nil {
		t.Skipf("skip integration test: cannot reach database (%v)", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	return pool
}

func TestAPIKeyLifecycleIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool := integrationPool(t, ctx)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := NewAPIKeyRepository(pool, logger)

	userID := uuid.New()
	created, err := repo.CreateAPIKey(ctx, domain.CreateAPIKeyParams{
		UserID: userID,
		Name:   "integration-key",
		Scopes: []string{domain.ScopeRead, domain.ScopeWrite},
	})
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}

	key, found, err := repo.ResolveAPIKey(ctx, created.Token)
	if err != nil {
		t.Fatalf("resolve api key: %v", err)
	}
	if !found {
		t.Fatal("expected freshly created key to resolve")
	}
	if key.ID != created.ID {
		t.Fatalf("expected key id %s got %s", created.ID, key.ID)
	}
	if key.UserID != userID {
		t.Fatalf("expected user id %s got %s", userID, key.UserID)
	}
	if len(key.Scopes) != 2 {
		t.Fatalf("expected 2 scopes got %v", key.Scopes)
	}

	if _, found, _ := repo.ResolveAPIKey(ctx, "fk_definitely-not-a-real-token-value"); found {
		t.Fatal("expected unknown token to not resolve")
	}

	if err := repo.TouchLastUsed(ctx, created.ID); err != nil {
		t.Fatalf("touch last used: %v", err)
	}

	if err := repo.RevokeAPIKey(ctx, created.ID); err != nil {
		t.Fatalf("revoke api key: %v", err)
	}
	if _, found, _ := repo.ResolveAPIKey(ctx, created.Token); found {
		t.Fatal("expected revoked key to not resolve")
	}

	if err := repo.DeleteAPIKey(ctx, created.ID); err != nil {
		t.Fatalf("delete api key: %v", err)
	}
	if err := repo.DeleteAPIKey(ctx, created.ID); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("expected ErrNoRows on double delete, got %v", err)
	}
}

func TestExpiredAPIKeyDoesNotResolveIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool := integrationPool(t, ctx)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := NewAPIKeyRepository(pool, logger)

	expired := time.Now().Add(-time.Hour)
	created, err := repo.CreateAPIKey(ctx, domain.CreateAPIKeyParams{
		UserID:    uuid.New(),
		Name:      "expired-key",
		ExpiresAt: &expired,
	})
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}
	defer func() { _ = repo.DeleteAPIKey(ctx, created.ID) }()

	if _, found, _ := repo.ResolveAPIKey(ctx, created.Token); found {
		t.Fatal("expected expired key to not resolve")
	}
}

func TestRateLimitWindowIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool := integrationPool(t, ctx)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	keys := NewAPIKeyRepository(pool, logger)
	limits := NewRateLimitRepository(pool, logger)

	created, err := keys.CreateAPIKey(ctx, domain.CreateAPIKeyParams{
		UserID: uuid.New(),
		Name:   "rate-limit-key",
	})
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}
	defer func() { _ = keys.DeleteAPIKey(ctx, created.ID) }()

	const ceiling = 3
	endpoint := "/v1/transactions"
	now := time.Now()

	for i := 0; i < ceiling; i++ {
		decision, err := limits.Allow(ctx, created.ID, endpoint, ceiling, now)
		if err != nil {
			t.Fatalf("allow %d: %v", i+1, err)
		}
		if !decision.Allowed {
			t.Fatalf("expected request %d to be allowed", i+1)
		}
		if want := ceiling - i - 1; decision.Remaining != want {
			t.Fatalf("expected remaining %d after request %d, got %d", want, i+1, decision.Remaining)
		}
	}

	decision, err := limits.Allow(ctx, created.ID, endpoint, ceiling, now)
	if err != nil {
		t.Fatalf("allow over ceiling: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected request over ceiling to be denied")
	}
	if decision.Remaining != 0 {
		t.Fatalf("expected remaining 0 at ceiling, got %d", decision.Remaining)
	}

	// A fresh window starts once the old one ages past the cutoff.
	later := now.Add(61 * time.Second)
	decision, err = limits.Allow(ctx, created.ID, endpoint, ceiling, later)
	if err != nil {
		t.Fatalf("allow in fresh window: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("expected request in fresh window to be allowed")
	}
	if decision.Remaining != ceiling-1 {
		t.Fatalf("expected remaining %d in fresh window, got %d", ceiling-1, decision.Remaining)
	}

	purged, err := limits.PurgeExpired(ctx, later.Add(-time.Minute))
	if err != nil {
		t.Fatalf("purge expired: %v", err)
	}
	if purged < 1 {
		t.Fatalf("expected at least one purged window, got %d", purged)
	}
}

func TestWebhookAndDeliveryLogIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool := integrationPool(t, ctx)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	webhooks := NewWebhookRepository(pool, logger)
	logs := NewDeliveryLogRepository(pool, logger)

	userID := uuid.New()
	reg, err := webhooks.CreateWebhook(ctx, domain.CreateWebhookParams{
		UserID: userID,
		URL:    "https://example.com/hooks",
		Events: []string{domain.EventTransactionCreated},
	})
	if err != nil {
		t.Fatalf("create webhook: %v", err)
	}
	defer func() { _ = webhooks.DeleteWebhook(ctx, reg.ID, userID) }()

	if !strings.HasPrefix(reg.Secret, "whsec_") {
		t.Fatalf("expected generated secret, got %q", reg.Secret)
	}

	subs, err := webhooks.ListActiveSubscriptions(ctx, userID, domain.EventTransactionCreated)
	if err != nil {
		t.Fatalf("list subscriptions: %v", err)
	}
	if len(subs) != 1 || subs[0].ID != reg.ID {
		t.Fatalf("expected the created registration, got %v", subs)
	}

	subs, err = webhooks.ListActiveSubscriptions(ctx, userID, "unrelated.event")
	if err != nil {
		t.Fatalf("list subscriptions for unrelated event: %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("expected no subscriptions for unrelated event, got %d", len(subs))
	}

	status := 500
	errText := "upstream returned 500"
	if err := logs.AppendAttempt(ctx, domain.DeliveryAttempt{
		WebhookID:    reg.ID,
		EventType:    domain.EventTransactionCreated,
		Payload:      []byte(`{"event":"transaction.created"}`),
		StatusCode:   &status,
		ResponseBody: "fail",
		Error:        &errText,
		Attempt:      1,
		Success:      false,
		DurationMS:   12,
	}); err != nil {
		t.Fatalf("append attempt: %v", err)
	}

	attempts, err := logs.ListAttempts(ctx, reg.ID, 10)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt row, got %d", len(attempts))
	}
	if attempts[0].StatusCode == nil || *attempts[0].StatusCode != 500 {
		t.Fatalf("expected status 500, got %v", attempts[0].StatusCode)
	}
	if attempts[0].Success {
		t.Fatal("expected failed attempt")
	}

	if err := webhooks.UpdateWebhook(ctx, reg.ID, userID, domain.UpdateWebhookParams{
		URL:    reg.URL,
		Events: reg.Events,
		Active: false,
	}); err != nil {
		t.Fatalf("deactivate webhook: %v", err)
	}

	subs, err = webhooks.ListActiveSubscriptions(ctx, userID, domain.EventTransactionCreated)
	if err != nil {
		t.Fatalf("list subscriptions after deactivate: %v", err)
	}
	if len(subs) != 0 {
		t.Fatal("expected inactive registration to be excluded")
	}
}
