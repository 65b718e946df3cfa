// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finkeeper/trustgate/internal/auth"
	"github.com/finkeeper/trustgate/internal/domain"
)

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

type APIKeyRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewAPIKeyRepository(pool *pgxpool.Pool, logger *slog.Logger) *APIKeyRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &APIKeyRepository{
		pool:   pool,
		logger: logger,
	}
}

// ResolveAPIKey looks up the credential whose stored hash matches the
// presented secret. Lookup is always by hash; the identifier never comes
// from the caller. Absent, short, unknown, inactive, and expired secrets
// all resolve to "not found" rather than an error.
func (r *APIKeyRepository) ResolveAPIKey(ctx context.Context, bearerToken string) (auth.APIKey, bool, error) {
	if len(bearerToken) < domain.MinPresentedSecretLength {
		return auth.APIKey{}, false, nil
	}
	tokenHash := sha256Hex(bearerToken)

	var key auth.APIKey
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, scopes, max_requests_per_min
		 FROM api_keys
		 WHERE token_hash=$1
		   AND active
		   AND revoked_at IS NULL
		   AND (expires_at IS NULL OR expires_at > NOW())`,
		tokenHash,
	).Scan(&key.ID, &key.UserID, &key.Scopes, &key.MaxRequestsPerMin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.APIKey{}, false, nil
		}
		r.logger.Error("resolve api key failed", "error", err)
		return auth.APIKey{}, false, err
	}

	if key.MaxRequestsPerMin <= 0 {
		key.MaxRequestsPerMin = domain.DefaultMaxRequestsPerMin
	}

	return key, true, nil
}

// TouchLastUsed stamps the credential's last-used timestamp. Callers run
// this detached; its failure must never affect the request.
func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE api_keys
		SET last_used_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		r.logger.Error("touch api key last_used failed", "api_key_id", id, "error", err)
	}
	return err
}

func (r *APIKeyRepository) CreateAPIKey(ctx context.Context, params domain.CreateAPIKeyParams) (domain.CreatedAPIKey, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return domain.CreatedAPIKey{}, domain.ErrInvalidAPIKeyName
	}

	scopes := params.Scopes
	if len(scopes) == 0 {
		scopes = []string{domain.ScopeRead}
	}
	for _, scope := range scopes {
		if strings.TrimSpace(scope) == "" {
			return domain.CreatedAPIKey{}, domain.ErrInvalidScope
		}
	}

	maxRequestsPerMin := params.MaxRequestsPerMin
	if maxRequestsPerMin <= 0 {
		maxRequestsPerMin = domain.DefaultMaxRequestsPerMin
	}

	token, tokenHash, err := generateAPIKeyToken()
	if err != nil {
		r.logger.Error("generate api key token failed", "error", err)
		return domain.CreatedAPIKey{}, err
	}

	apiKeyID := uuid.New()
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO api_keys (id, user_id, name, token_hash, scopes, max_requests_per_min, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		apiKeyID,
		params.UserID,
		name,
		tokenHash,
		scopes,
		maxRequestsPerMin,
		params.ExpiresAt,
	); err != nil {
		r.logger.Error("create api key failed", "name", name, "error", err)
		return domain.CreatedAPIKey{}, err
	}

	return domain.CreatedAPIKey{
		ID:    apiKeyID,
		Token: token,
	}, nil
}

func (r *APIKeyRepository) ListAPIKeys(ctx context.Context) ([]domain.APIKeyRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, name, scopes, max_requests_per_min, active, expires_at, last_used_at, created_at
		FROM api_keys
		WHERE revoked_at IS NULL
		ORDER BY created_at DESC
	`)
	if err != nil {
		r.logger.Error("list api keys query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	keys := make([]domain.APIKeyRecord, 0, 32)
	for rows.Next() {
		var record domain.APIKeyRecord
		if err := rows.Scan(
			&record.ID,
			&record.UserID,
			&record.Name,
			&record.Scopes,
			&record.MaxRequestsPerMin,
			&record.Active,
			&record.ExpiresAt,
			&record.LastUsedAt,
			&record.CreatedAt,
		); err != nil {
			return nil, err
		}
		keys = append(keys, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return keys, nil
}

func (r *APIKeyRepository) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE api_keys
		SET active = FALSE, revoked_at = NOW()
		WHERE id = $1 AND revoked_at IS NULL
	`, id)
	if err != nil {
		r.logger.Error("revoke api key failed", "api_key_id", id, "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *APIKeyRepository) DeleteAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM api_keys
		WHERE id = $1
	`, id)
	if err != nil {
		r.logger.Error("delete api key failed", "api_key_id", id, "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func generateAPIKeyToken() (string, string, error) {
	raw := make([]byte, domain.TokenSecretLength)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	for i, b := range raw {
		raw[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	token := domain.TokenPrefix + string(raw)
	return token, sha256Hex(token), nil
}

func sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
