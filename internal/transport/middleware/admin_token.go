// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// AdminTokenAuth enforces the operator bearer token on the key-management
// surface. Admin routes are never gated by API-key scopes or rate limits.
func AdminTokenAuth(adminToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.TrimSpace(adminToken) == "" {
				logger.Error("admin token not configured")
				writeError(w, http.StatusInternalServerError, "Internal Server Error", "Admin auth not configured")
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, "Unauthorized", "Invalid or missing admin token")
				return
			}

			if subtle.ConstantTimeCompare([]byte(token), []byte(adminToken)) != 1 {
				logger.Warn("request blocked by admin token middleware",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, "Unauthorized", "Invalid or missing admin token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
