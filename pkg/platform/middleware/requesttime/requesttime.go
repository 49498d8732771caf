// Package requesttime pins one "now" and one correlation id per operator
// request so every log line and audit record of the request agree.
package requesttime

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"supporterhub/pkg/requestcontext"
)

// Middleware stores the request start time in the context. Place it after
// chi's RequestID middleware to reuse its id as the correlation id.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = requestcontext.WithCorrelationID(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
