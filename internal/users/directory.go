package users

import (
	"context"
	"errors"
	"log/slog"

	id "grc/pkg/domain"
	"grc/pkg/platform/sentinel"
)

// Directory answers the two questions the engine asks about users: what to
// call them and where to email them. Lookup failures degrade to empty values
// because both answers are cosmetic or best-effort.
type Directory struct {
	store  Store
	logger *slog.Logger
}

func NewDirectory(store Store, logger *slog.Logger) *Directory {
	return &Directory{store: store, logger: logger}
}

func (d *Directory) Lookup(ctx context.Context, tenantID id.TenantID, userID id.UserID) (*User, bool) {
	if d == nil || d.store == nil || userID.IsNil() {
		return nil, false
	}
	u, err := d.store.FindByID(ctx, tenantID, userID)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			d.logger.WarnContext(ctx, "user lookup failed",
				"tenant_id", tenantID.String(),
				"user_id", userID.String(),
				"error", err,
			)
		}
		return nil, false
	}
	return u, true
}

// DisplayName returns the user's name, or the ID string when unknown.
func (d *Directory) DisplayName(ctx context.Context, tenantID id.TenantID, userID id.UserID) string {
	if u, ok := d.Lookup(ctx, tenantID, userID); ok {
		return u.DisplayName()
	}
	return userID.String()
}

// Email returns the user's email, or "" when unknown.
func (d *Directory) Email(ctx context.Context, tenantID id.TenantID, userID id.UserID) string {
	if u, ok := d.Lookup(ctx, tenantID, userID); ok {
		return u.Email
	}
	return ""
}
