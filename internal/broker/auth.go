// Package broker holds the pieces shared by every per-execution loopback
// HTTP endpoint (C7 tool-call, C8 discovery, C9 sampling, C10 output
// stream): bearer-token middleware and a request-id stamp, so the four
// brokers don't each reimplement auth.
package broker

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey int

const requestIDKey contextKey = iota

// BearerAuth returns middleware that requires "Authorization: Bearer
// <token>" with a constant-time comparison against token, grounded on the
// pack's own subtle.ConstantTimeCompare auth idiom
// (haasonsaas-nexus/internal/auth.Authenticator).
func BearerAuth(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				WriteError(w, http.StatusUnauthorized, "Forbidden", "missing or invalid bearer token", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID stamps each request with a fresh UUID, attached to the request
// context so handlers can fold it into tracked invocation/audit records.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), requestIDKey, uuid.NewString())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext returns the request ID stamped by RequestID, or ""
// if none is present (e.g. in a unit test that calls a handler directly).
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
