// Package requesttime pins "now" for the lifetime of a request so every
// timestamp written by one action (stage completion, version created_at,
// lifecycle started_at) agrees.
package requesttime

import (
	"net/http"
	"time"

	"grc/pkg/requestcontext"
)

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
