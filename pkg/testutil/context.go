package testutil

import (
	"net/http"

	"grc/pkg/requestcontext"
)

// AsPrincipal attaches p to the request the way the auth middleware would.
// Handler tests use it to skip token signing.
func AsPrincipal(req *http.Request, p requestcontext.Principal) *http.Request {
	ctx := requestcontext.WithPrincipal(req.Context(), p)
	return req.WithContext(ctx)
}
