package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AdminKeyHeader carries the operator key on administrative requests.
const AdminKeyHeader = "X-Admin-Key"

// RequireAdminKey rejects requests that do not present key, either in
// AdminKeyHeader or as a bearer token.
func RequireAdminKey(key string) func(http.Handler) http.Handler {
	want := []byte(key)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(AdminKeyHeader)
			if got == "" {
				got = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if len(want) == 0 || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				writeError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
