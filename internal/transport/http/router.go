// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/finkeeper/trustgate/internal/auth"
	"github.com/finkeeper/trustgate/internal/domain"
	"github.com/finkeeper/trustgate/internal/metrics"
	"github.com/finkeeper/trustgate/internal/transport/middleware"
)

type createAPIKeyRequest struct {
	UserID            string     `json:"user_id"`
	Name              string     `json:"name"`
	Scopes            []string   `json:"scopes"`
	MaxRequestsPerMin int        `json:"max_requests_per_min"`
	ExpiresAt         *time.Time `json:"expires_at"`
}

type createTransactionRequest struct {
	AmountCents int64      `json:"amount_cents"`
	Currency    string     `json:"currency"`
	Description string     `json:"description"`
	OccurredAt  *time.Time `json:"occurred_at"`
}

type webhookRequest struct {
	URL            string   `json:"url"`
	Secret         string   `json:"secret"`
	Events         []string `json:"events"`
	RetryCount     int      `json:"retry_count"`
	TimeoutSeconds int      `json:"timeout_seconds"`
	Active         *bool    `json:"active"`
}

type Deps struct {
	APIKeyAdmin  APIKeyAdmin
	Transactions TransactionStore
	Webhooks     WebhookManager
	DeliveryLogs DeliveryLogLister
	Notifier     EventNotifier

	Credentials middleware.CredentialResolver
	RateLimiter middleware.RateLimiter
	Usage       middleware.UsageRecorder

	Health     HealthChecker
	Logger     *slog.Logger
	AdminToken string
	Version    string
	Commit     string
	BuildDate  string
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Health != nil {
			if err := deps.Health.Check(r.Context()); err != nil {
				logger.Error("health check failed", "error", err)
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- API KEY LIFECYCLE (ADMIN) ----------------

	if deps.APIKeyAdmin != nil {
		r.Route("/api-keys", func(admin chi.Router) {
			admin.Use(middleware.AdminTokenAuth(deps.AdminToken, logger))

			admin.Post("/", func(w http.ResponseWriter, r *http.Request) {
				reqBody, err := decodeCreateAPIKeyRequest(r)
				if err != nil {
					http.Error(w, "invalid request body", http.StatusBadRequest)
					return
				}

				userID, err := uuid.Parse(reqBody.UserID)
				if err != nil {
					http.Error(w, "invalid user_id", http.StatusBadRequest)
					return
				}

				created, err := deps.APIKeyAdmin.CreateAPIKey(r.Context(), domain.CreateAPIKeyParams{
					UserID:            userID,
					Name:              reqBody.Name,
					Scopes:            reqBody.Scopes,
					MaxRequestsPerMin: reqBody.MaxRequestsPerMin,
					ExpiresAt:         reqBody.ExpiresAt,
				})
				if err != nil {
					if errors.Is(err, domain.ErrInvalidAPIKeyName) {
						http.Error(w, "invalid api key name", http.StatusBadRequest)
						return
					}
					if errors.Is(err, domain.ErrInvalidScope) {
						http.Error(w, "invalid scope", http.StatusBadRequest)
						return
					}
					logger.Error("create api key failed", "error", err)
					http.Error(w, "failed to create api key", http.StatusInternalServerError)
					return
				}

				// The plaintext token appears exactly once, in this response.
				writeJSON(w, http.StatusOK, map[string]string{
					"api_key_id": created.ID.String(),
					"token":      created.Token,
				})
			})

			admin.Get("/", func(w http.ResponseWriter, r *http.Request) {
				keys, err := deps.APIKeyAdmin.ListAPIKeys(r.Context())
				if err != nil {
					logger.Error("list api keys failed", "error", err)
					http.Error(w, "failed to list api keys", http.StatusInternalServerError)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{
					"api_keys": keys,
				})
			})

			admin.Post("/{id}/revoke", func(w http.ResponseWriter, r *http.Request) {
				id, err := uuid.Parse(chi.URLParam(r, "id"))
				if err != nil {
					http.Error(w, "invalid api key ID", http.StatusBadRequest)
					return
				}

				if err := deps.APIKeyAdmin.RevokeAPIKey(r.Context(), id); err != nil {
					if errors.Is(err, pgx.ErrNoRows) {
						http.Error(w, "api key not found", http.StatusNotFound)
						return
					}
					logger.Error("revoke api key failed", "api_key_id", id, "error", err)
					http.Error(w, "failed to revoke api key", http.StatusInternalServerError)
					return
				}

				w.WriteHeader(http.StatusNoContent)
			})

			admin.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
				id, err := uuid.Parse(chi.URLParam(r, "id"))
				if err != nil {
					http.Error(w, "invalid api key ID", http.StatusBadRequest)
					return
				}

				if err := deps.APIKeyAdmin.DeleteAPIKey(r.Context(), id); err != nil {
					if errors.Is(err, pgx.ErrNoRows) {
						http.Error(w, "api key not found", http.StatusNotFound)
						return
					}
					logger.Error("delete api key failed", "api_key_id", id, "error", err)
					http.Error(w, "failed to delete api key", http.StatusInternalServerError)
					return
				}

				w.WriteHeader(http.StatusNoContent)
			})
		})
	}

	// ---------------- GUARDED API (API KEY AUTH) ----------------

	r.Route("/v1", func(v1 chi.Router) {
		if deps.Credentials != nil {
			v1.Use(middleware.APITokenAuth(deps.Credentials, deps.RateLimiter, deps.Usage, logger))
		}

		// ---------------- TRANSACTIONS ----------------

		v1.With(middleware.RequireScope(domain.ScopeWrite, logger)).Post("/transactions", func(w http.ResponseWriter, r *http.Request) {
			key, ok := auth.APIKeyFromContext(r.Context())
			if !ok {
				http.Error(w, "missing authentication context", http.StatusUnauthorized)
				return
			}

			reqBody, err := decodeCreateTransactionRequest(r)
			if err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}

			params := domain.CreateTransactionParams{
				UserID:      key.UserID,
				AmountCents: reqBody.AmountCents,
				Currency:    reqBody.Currency,
				Description: reqBody.Description,
			}
			if reqBody.OccurredAt != nil {
				params.OccurredAt = *reqBody.OccurredAt
			}

			tx, err := deps.Transactions.CreateTransaction(r.Context(), params)
			if err != nil {
				if errors.Is(err, domain.ErrInvalidCurrency) {
					http.Error(w, "invalid currency code", http.StatusBadRequest)
					return
				}
				logger.Error("create transaction failed", "error", err)
				http.Error(w, "failed to create transaction", http.StatusInternalServerError)
				return
			}

			if deps.Notifier != nil {
				deps.Notifier.Trigger(r.Context(), domain.EventTransactionCreated, map[string]any{
					"transaction_id": tx.ID.String(),
					"amount_cents":   tx.AmountCents,
					"currency":       tx.Currency,
					"description":    tx.Description,
					"occurred_at":    tx.OccurredAt.Format(time.RFC3339),
				}, key.UserID)
			}

			writeJSON(w, http.StatusCreated, tx)
		})

		v1.With(middleware.RequireScope(domain.ScopeRead, logger)).Get("/transactions", func(w http.ResponseWriter, r *http.Request) {
			key, ok := auth.APIKeyFromContext(r.Context())
			if !ok {
				http.Error(w, "missing authentication context", http.StatusUnauthorized)
				return
			}

			limit := parseLimit(r.URL.Query().Get("limit"))
			txs, err := deps.Transactions.ListTransactions(r.Context(), key.UserID, limit)
			if err != nil {
				logger.Error("list transactions failed", "error", err)
				http.Error(w, "failed to list transactions", http.StatusInternalServerError)
				return
			}

			writeJSON(w, http.StatusOK, map[string]any{
				"transactions": txs,
			})
		})

		// ---------------- WEBHOOK REGISTRATIONS ----------------

		v1.Route("/webhooks", func(wh chi.Router) {
			wh.Use(middleware.RequireScope(domain.ScopeWebhooks, logger))

			wh.Post("/", func(w http.ResponseWriter, r *http.Request) {
				key, ok := auth.APIKeyFromContext(r.Context())
				if !ok {
					http.Error(w, "missing authentication context", http.StatusUnauthorized)
					return
				}

				reqBody, err := decodeWebhookRequest(r)
				if err != nil {
					http.Error(w, "invalid request body", http.StatusBadRequest)
					return
				}

				reg, err := deps.Webhooks.CreateWebhook(r.Context(), domain.CreateWebhookParams{
					UserID:         key.UserID,
					URL:            reqBody.URL,
					Secret:         reqBody.Secret,
					Events:         reqBody.Events,
					RetryCount:     reqBody.RetryCount,
					TimeoutSeconds: reqBody.TimeoutSeconds,
				})
				if err != nil {
					if errors.Is(err, domain.ErrInvalidWebhookURL) || errors.Is(err, domain.ErrNoWebhookEvents) {
						http.Error(w, err.Error(), http.StatusBadRequest)
						return
					}
					logger.Error("create webhook failed", "error", err)
					http.Error(w, "failed to create webhook", http.StatusInternalServerError)
					return
				}

				// Secret is returned once at creation and never again.
				writeJSON(w, http.StatusCreated, struct {
					domain.WebhookRegistration
					Secret string `json:"secret"`
				}{
					WebhookRegistration: reg,
					Secret:              reg.Secret,
				})
			})

			wh.Get("/", func(w http.ResponseWriter, r *http.Request) {
				key, ok := auth.APIKeyFromContext(r.Context())
				if !ok {
					http.Error(w, "missing authentication context", http.StatusUnauthorized)
					return
				}

				regs, err := deps.Webhooks.ListWebhooks(r.Context(), key.UserID)
				if err != nil {
					logger.Error("list webhooks failed", "error", err)
					http.Error(w, "failed to list webhooks", http.StatusInternalServerError)
					return
				}

				writeJSON(w, http.StatusOK, map[string]any{
					"webhooks": regs,
				})
			})

			wh.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
				key, webhookID, ok := webhookRequestContext(w, r)
				if !ok {
					return
				}

				reg, err := deps.Webhooks.GetWebhook(r.Context(), webhookID, key.UserID)
				if err != nil {
					if errors.Is(err, pgx.ErrNoRows) {
						http.Error(w, "webhook not found", http.StatusNotFound)
						return
					}
					logger.Error("get webhook failed", "webhook_id", webhookID, "error", err)
					http.Error(w, "failed to get webhook", http.StatusInternalServerError)
					return
				}

				writeJSON(w, http.StatusOK, reg)
			})

			wh.Put("/{id}", func(w http.ResponseWriter, r *http.Request) {
				key, webhookID, ok := webhookRequestContext(w, r)
				if !ok {
					return
				}

				reqBody, err := decodeWebhookRequest(r)
				if err != nil {
					http.Error(w, "invalid request body", http.StatusBadRequest)
					return
				}

				active := true
				if reqBody.Active != nil {
					active = *reqBody.Active
				}

				err = deps.Webhooks.UpdateWebhook(r.Context(), webhookID, key.UserID, domain.UpdateWebhookParams{
					URL:            reqBody.URL,
					Events:         reqBody.Events,
					RetryCount:     reqBody.RetryCount,
					TimeoutSeconds: reqBody.TimeoutSeconds,
					Active:         active,
				})
				if err != nil {
					if errors.Is(err, pgx.ErrNoRows) {
						http.Error(w, "webhook not found", http.StatusNotFound)
						return
					}
					if errors.Is(err, domain.ErrInvalidWebhookURL) || errors.Is(err, domain.ErrNoWebhookEvents) {
						http.Error(w, err.Error(), http.StatusBadRequest)
						return
					}
					logger.Error("update webhook failed", "webhook_id", webhookID, "error", err)
					http.Error(w, "failed to update webhook", http.StatusInternalServerError)
					return
				}

				w.WriteHeader(http.StatusNoContent)
			})

			wh.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
				key, webhookID, ok := webhookRequestContext(w, r)
				if !ok {
					return
				}

				if err := deps.Webhooks.DeleteWebhook(r.Context(), webhookID, key.UserID); err != nil {
					if errors.Is(err, pgx.ErrNoRows) {
						http.Error(w, "webhook not found", http.StatusNotFound)
						return
					}
					logger.Error("delete webhook failed", "webhook_id", webhookID, "error", err)
					http.Error(w, "failed to delete webhook", http.StatusInternalServerError)
					return
				}

				w.WriteHeader(http.StatusNoContent)
			})

			wh.Get("/{id}/deliveries", func(w http.ResponseWriter, r *http.Request) {
				key, webhookID, ok := webhookRequestContext(w, r)
				if !ok {
					return
				}

				// Ownership check before exposing the delivery log.
				if _, err := deps.Webhooks.GetWebhook(r.Context(), webhookID, key.UserID); err != nil {
					if errors.Is(err, pgx.ErrNoRows) {
						http.Error(w, "webhook not found", http.StatusNotFound)
						return
					}
					logger.Error("get webhook failed", "webhook_id", webhookID, "error", err)
					http.Error(w, "failed to list deliveries", http.StatusInternalServerError)
					return
				}

				limit := parseLimit(r.URL.Query().Get("limit"))
				attempts, err := deps.DeliveryLogs.ListAttempts(r.Context(), webhookID, limit)
				if err != nil {
					logger.Error("list delivery attempts failed", "webhook_id", webhookID, "error", err)
					http.Error(w, "failed to list deliveries", http.StatusInternalServerError)
					return
				}

				writeJSON(w, http.StatusOK, map[string]any{
					"deliveries": attempts,
				})
			})

			wh.Post("/{id}/test", func(w http.ResponseWriter, r *http.Request) {
				key, webhookID, ok := webhookRequestContext(w, r)
				if !ok {
					return
				}

				reg, err := deps.Webhooks.GetWebhook(r.Context(), webhookID, key.UserID)
				if err != nil {
					if errors.Is(err, pgx.ErrNoRows) {
						http.Error(w, "webhook not found", http.StatusNotFound)
						return
					}
					logger.Error("get webhook failed", "webhook_id", webhookID, "error", err)
					http.Error(w, "failed to test webhook", http.StatusInternalServerError)
					return
				}

				delivered := deps.Notifier.Deliver(r.Context(), reg, domain.DeliveryEvent{
					Type: domain.EventWebhookTest,
					Data: map[string]any{
						"webhook_id": reg.ID.String(),
						"message":    "test delivery",
					},
					UserID:     key.UserID,
					OccurredAt: time.Now().UTC(),
				})

				writeJSON(w, http.StatusOK, map[string]any{
					"webhook_id": reg.ID.String(),
					"delivered":  delivered,
				})
			})
		})
	})

	return r
}

// webhookRequestContext extracts the authenticated key and the {id} route
// parameter, writing the error response itself on failure.
func webhookRequestContext(w http.ResponseWriter, r *http.Request) (auth.APIKey, uuid.UUID, bool) {
	key, ok := auth.APIKeyFromContext(r.Context())
	if !ok {
		http.Error(w, "missing authentication context", http.StatusUnauthorized)
		return auth.APIKey{}, uuid.Nil, false
	}

	webhookID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid webhook ID", http.StatusBadRequest)
		return auth.APIKey{}, uuid.Nil, false
	}

	return key, webhookID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeCreateAPIKeyRequest(r *http.Request) (createAPIKeyRequest, error) {
	var req createAPIKeyRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return createAPIKeyRequest{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return createAPIKeyRequest{}, domain.ErrInvalidAPIKeyName
	}

	return req, nil
}

func decodeCreateTransactionRequest(r *http.Request) (createTransactionRequest, error) {
	var req createTransactionRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return createTransactionRequest{}, err
	}
	return req, nil
}

func decodeWebhookRequest(r *http.Request) (webhookRequest, error) {
	var req webhookRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return webhookRequest{}, err
	}

	req.URL = strings.TrimSpace(req.URL)
	return req, nil
}

func decodeJSONBody(r *http.Request, v any) error {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return errors.New("request body is required")
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}

	// Ensure there is only one JSON object.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain exactly one JSON object")
	}

	return nil
}

func parseLimit(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
