package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/JonMunkholm/Reconcile/internal/core"
)

// OwnerHeader names the operator when API keys are not required.
const OwnerHeader = "X-Owner-ID"

// DefaultOwner is the operator used when neither a key nor OwnerHeader
// identifies one.
const DefaultOwner = "local"

// APIKeyAuth returns middleware that resolves the acting operator and stores
// it with core.ContextWithOperator.
//
// With required set, the X-API-Key header must match a configured key and the
// key's owner becomes the operator. Otherwise a valid key still wins, then
// OwnerHeader, then DefaultOwner.
func APIKeyAuth(keyOwners map[string]string, required bool) func(http.Handler) http.Handler {
	keys := make([]string, 0, len(keyOwners))
	for k := range keyOwners {
		keys = append(keys, k)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-API-Key")

			var owner string
			if apiKey != "" {
				if key, ok := matchAPIKey(apiKey, keys); ok {
					owner = keyOwners[key]
				} else {
					slog.Warn("auth: invalid API key",
						"path", r.URL.Path,
						"method", r.Method,
						"remote_addr", r.RemoteAddr,
					)
					http.Error(w, `{"error":"invalid API key","code":"AUTH_INVALID_KEY"}`, http.StatusForbidden)
					return
				}
			}

			if owner == "" {
				if required {
					slog.Warn("auth: missing API key",
						"path", r.URL.Path,
						"method", r.Method,
						"remote_addr", r.RemoteAddr,
					)
					http.Error(w, `{"error":"missing API key","code":"AUTH_MISSING_KEY"}`, http.StatusUnauthorized)
					return
				}
				owner = strings.TrimSpace(r.Header.Get(OwnerHeader))
				if owner == "" {
					owner = DefaultOwner
				}
			}

			ctx := core.ContextWithOperator(r.Context(), owner)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// matchAPIKey finds the configured key equal to key. Every key is compared in
// constant time so timing does not reveal which one matched.
func matchAPIKey(key string, validKeys []string) (string, bool) {
	var matched string
	found := 0
	for _, validKey := range validKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(validKey)) == 1 {
			matched = validKey
			found = 1
		}
	}
	return matched, found == 1
}
