// Package admin gates the operator routes (job triggers, manual merges).
package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"supporterhub/pkg/requestcontext"
)

// TokenHeader carries the operator token.
const TokenHeader = "X-Admin-Token"

// Rejection reasons, also used as metric labels.
const (
	ReasonMissingToken = "missing_token"
	ReasonWrongToken   = "wrong_token"
)

// RejectionRecorder counts refused operator calls.
type RejectionRecorder interface {
	RecordOperatorRejection(reason string)
}

// RequireAdminToken lets a request through to an operator action only when it
// presents the configured token. An empty expected token disables the check.
// recorder may be nil.
func RequireAdminToken(expectedToken string, logger *slog.Logger, recorder RejectionRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if expectedToken == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(TokenHeader)
			if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) == 1 {
				next.ServeHTTP(w, r)
				return
			}

			reason := ReasonWrongToken
			if token == "" {
				reason = ReasonMissingToken
			}
			ctx := r.Context()
			logger.WarnContext(ctx, "operator action refused",
				"reason", reason,
				"action", operatorAction(r),
				"correlation_id", requestcontext.CorrelationID(ctx),
			)
			if recorder != nil {
				recorder.RecordOperatorRejection(reason)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"operator token required"}`))
		})
	}
}

// operatorAction names the route pattern so logs don't carry supporter ids.
func operatorAction(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return r.Method + " " + pattern
		}
	}
	return r.Method + " " + r.URL.Path
}
