// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// AdminTokenAuth guards destructive queue routes with a bearer token. With no
// token configured the routes are disabled and answer 403.
func AdminTokenAuth(adminToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	adminToken = strings.TrimSpace(adminToken)
	want := sha256.Sum256([]byte(adminToken))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminToken == "" {
				logger.Warn("admin route called but ADMIN_TOKEN is unset", "path", r.URL.Path)
				http.Error(w, "admin endpoints disabled", http.StatusForbidden)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			got := sha256.Sum256([]byte(token))
			// Compare digests so the check does not leak the token length.
			if !ok || subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
				logger.Warn("admin token rejected",
					"path", r.URL.Path,
					"client", clientKey(r),
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="vault-flow-admin"`)
				http.Error(w, "missing or invalid admin token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
