// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets the authenticated principal, request ID and request time;
// services read them without importing net/http.
//
// Usage in services (read values):
//
//	p, ok := requestcontext.PrincipalFrom(ctx)
//	requestID := requestcontext.RequestID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithPrincipal(ctx, requestcontext.Principal{...})
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"slices"
	"time"

	id "grc/pkg/domain"
)

type (
	principalKey   struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

var (
	ContextKeyPrincipal   = principalKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// Role names recognised by the engine. Role enforcement happens in services.
const (
	RoleAdmin     = "admin"
	RoleTPRMAdmin = "tprm_admin"
)

// Principal is the authenticated caller as established by the auth layer.
type Principal struct {
	UserID   id.UserID
	Username string
	TenantID id.TenantID
	Roles    []string
}

func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

func (p Principal) IsAdmin() bool {
	return p.HasRole(RoleAdmin) || p.HasRole(RoleTPRMAdmin)
}

// PrimaryRole is recorded as created_by_role on version rows.
func (p Principal) PrimaryRole() string {
	if p.HasRole(RoleAdmin) {
		return RoleAdmin
	}
	if p.HasRole(RoleTPRMAdmin) {
		return RoleTPRMAdmin
	}
	if len(p.Roles) > 0 {
		return p.Roles[0]
	}
	return "user"
}

// -----------------------------------------------------------------------------
// Principal
// -----------------------------------------------------------------------------

// PrincipalFrom retrieves the authenticated principal from the context.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ContextKeyPrincipal).(Principal)
	return p, ok
}

// WithPrincipal injects the authenticated principal into the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ContextKeyPrincipal, p)
}

// TenantID returns the principal's tenant, or the nil tenant when unauthenticated.
func TenantID(ctx context.Context) id.TenantID {
	if p, ok := PrincipalFrom(ctx); ok {
		return p.TenantID
	}
	return id.TenantID{}
}

// UserID returns the principal's user ID, or the nil ID when unauthenticated.
func UserID(ctx context.Context) id.UserID {
	if p, ok := PrincipalFrom(ctx); ok {
		return p.UserID
	}
	return id.UserID{}
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// -----------------------------------------------------------------------------
// Request time
// -----------------------------------------------------------------------------

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (workers, CLI, background hooks).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}

// Detach returns a context carrying the same request-scoped values as ctx but
// without its cancellation, for work that must outlive the HTTP request.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
