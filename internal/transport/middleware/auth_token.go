// SPDX-License-Identifier: Apache-2.0

// Package middleware holds the inbound request guard: bearer credential
// validation, scope authorization, and per-credential rate limiting. The
// guard's synchronous checks run before any business handler; usage logging
// and last-used touches are detached so they can never delay a response.
package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/finkeeper/trustgate/internal/auth"
	"github.com/finkeeper/trustgate/internal/metrics"
	"github.com/finkeeper/trustgate/internal/repository"
	"github.com/finkeeper/trustgate/internal/task"
)

const healthzPath = "/healthz"
const metricsPath = "/metrics"
const versionPath = "/version"
const headerRateLimitLimit = "X-RateLimit-Limit"
const headerRateLimitRemaining = "X-RateLimit-Remaining"
const headerRetryAfter = "Retry-After"

// rateLimitRetrySeconds is the fixed Retry-After value on 429 responses; the
// rolling window is one minute, so the worst case is a full window.
const rateLimitRetrySeconds = 60

type CredentialResolver interface {
	ResolveAPIKey(ctx context.Context, bearerToken string) (auth.APIKey, bool, error)
	TouchLastUsed(ctx context.Context, id uuid.UUID) error
}

type RateLimiter interface {
	Allow(ctx context.Context, apiKeyID uuid.UUID, endpoint string, limitPerMinute int, now time.Time) (repository.RateLimitDecision, error)
}

type UsageRecorder interface {
	RecordUsage(ctx context.Context, apiKeyID uuid.UUID, endpoint, method string, statusCode int, duration time.Duration) error
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, errText, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errText, Message: message})
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, "Unauthorized", "Invalid or missing API key")
}

// APITokenAuth gates every route except /healthz, /metrics, and /version
// behind bearer credential validation and rate limiting. On success it stores
// the resolved key on the request context, touches the credential's last-used
// timestamp, and records a usage row after the wrapped handler returns; both
// writes run detached from the request.
func APITokenAuth(
	resolver CredentialResolver,
	limiter RateLimiter,
	usage UsageRecorder,
	logger *slog.Logger,
) func(http.Handler) http.Handler {
	if resolver == nil {
		panic("middleware.APITokenAuth requires a resolver")
	}
	if limiter == nil {
		panic("middleware.APITokenAuth requires a limiter")
	}
	if usage == nil {
		panic("middleware.APITokenAuth requires a usage recorder")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == healthzPath || r.URL.Path == metricsPath || r.URL.Path == versionPath {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				metrics.IncGuardDecision(metrics.OutcomeUnauthorized)
				logger.Warn("request blocked by api token middleware",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				writeUnauthorized(w)
				return
			}

			key, found, err := resolver.ResolveAPIKey(r.Context(), token)
			if err != nil {
				logger.Error("api key resolution failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", err,
				)
				writeError(w, http.StatusInternalServerError, "Internal Server Error", "Authentication lookup failed")
				return
			}

			if !found {
				metrics.IncGuardDecision(metrics.OutcomeUnauthorized)
				logger.Warn("request blocked by api key lookup",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				writeUnauthorized(w)
				return
			}

			keyID := key.ID
			task.Go(logger, "api_key_touch_last_used", func(ctx context.Context) error {
				return resolver.TouchLastUsed(ctx, keyID)
			})

			decision, err := limiter.Allow(r.Context(), key.ID, r.URL.Path, key.MaxRequestsPerMin, time.Now())
			if err != nil {
				// Fail open: an unreachable rate-limit store must not block
				// legitimate traffic.
				metrics.IncRateLimitFailOpen()
				logger.Error("rate limit check failed, allowing request",
					"path", r.URL.Path,
					"api_key_id", key.ID,
					"error", err,
				)
				decision = repository.RateLimitDecision{
					Allowed:        true,
					LimitPerMinute: key.MaxRequestsPerMin,
					Remaining:      key.MaxRequestsPerMin,
				}
			}

			w.Header().Set(headerRateLimitLimit, strconv.Itoa(decision.LimitPerMinute))
			w.Header().Set(headerRateLimitRemaining, strconv.Itoa(decision.Remaining))
			if !decision.Allowed {
				metrics.IncGuardDecision(metrics.OutcomeRateLimited)
				w.Header().Set(headerRetryAfter, strconv.Itoa(rateLimitRetrySeconds))
				writeError(w, http.StatusTooManyRequests, "Too Many Requests",
					"Rate limit exceeded. Try again in 60 seconds.")
				return
			}

			metrics.IncGuardDecision(metrics.OutcomeAllowed)

			// Preserve authenticated context on the current request pointer so
			// outer middleware (request logging) can read api_key_id after next returns.
			*r = *r.WithContext(auth.WithAPIKey(r.Context(), key))

			rec := &guardStatusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)

			endpoint := r.URL.Path
			method := r.Method
			status := rec.status
			task.Go(logger, "api_usage_log", func(ctx context.Context) error {
				return usage.RecordUsage(ctx, keyID, endpoint, method, status, elapsed)
			})
		})
	}
}

// RequireScope authorizes the already-authenticated credential for one
// route's required scope. A wildcard scope on the credential passes every
// check.
func RequireScope(scope string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := auth.APIKeyFromContext(r.Context())
			if !ok {
				writeUnauthorized(w)
				return
			}

			if !key.HasScope(scope) {
				metrics.IncGuardDecision(metrics.OutcomeForbidden)
				logger.Warn("request blocked by scope check",
					"path", r.URL.Path,
					"api_key_id", key.ID,
					"required_scope", scope,
				)
				writeError(w, http.StatusForbidden, "Forbidden", "Required scope: "+scope)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type guardStatusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *guardStatusRecorder) WriteHeader(code int) {
	if s.wroteHeader {
		return
	}
	s.status = code
	s.wroteHeader = true
	s.ResponseWriter.WriteHeader(code)
}

func (s *guardStatusRecorder) Write(p []byte) (int, error) {
	if !s.wroteHeader {
		s.WriteHeader(http.StatusOK)
	}
	return s.ResponseWriter.Write(p)
}

func bearerToken(header string) (string, bool) {
	schemeToken := strings.SplitN(header, " ", 2)
	if len(schemeToken) != 2 {
		return "", false
	}
	if !strings.EqualFold(schemeToken[0], "Bearer") {
		return "", false
	}
	if schemeToken[1] == "" {
		return "", false
	}
	return schemeToken[1], true
}
