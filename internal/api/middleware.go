package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/zlingapp/server-sub000/internal/auth"
	"github.com/zlingapp/server-sub000/internal/metrics"
)

type contextKey string

const identityContextKey contextKey = "identity"

// requireAuth verifies the bearer token and stores the resulting identity
// on the request context. Expired and malformed tokens are rejected with
// the same message.
func requireAuth(tokens *auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const prefix = "Bearer "
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, prefix) {
				unauthorized(w, "missing bearer token")
				return
			}

			identity, err := tokens.VerifyAccess(strings.TrimPrefix(header, prefix))
			if err != nil {
				unauthorized(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// identityFrom returns the identity requireAuth stored on the context. Only
// meaningful below the auth middleware.
func identityFrom(r *http.Request) auth.Identity {
	identity, _ := r.Context().Value(identityContextKey).(auth.Identity)
	return identity
}

func requestMetrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			m.RequestsTotal.WithLabelValues(r.Method, statusClass(ww.Status())).Inc()
		})
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
