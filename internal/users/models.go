// Package users is the read-only user directory backed by the primary
// database. PII is decrypted at the store boundary; callers only ever see
// plaintext.
package users

import (
	"context"
	"strings"

	id "grc/pkg/domain"
	"grc/pkg/email"
)

type User struct {
	ID        id.UserID   `json:"user_id"`
	TenantID  id.TenantID `json:"tenant_id"`
	Username  string      `json:"username"`
	Email     string      `json:"email"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	Roles     []string    `json:"roles"`
	IsActive  bool        `json:"is_active"`
}

// DisplayName prefers the full name, then the username, then a name derived
// from the email address.
func (u *User) DisplayName() string {
	full := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if full != "" {
		return full
	}
	if u.Username != "" {
		return u.Username
	}
	return email.DisplayName(u.Email)
}

// Store loads users by ID within a tenant.
type Store interface {
	FindByID(ctx context.Context, tenantID id.TenantID, userID id.UserID) (*User, error)
	FindByIDs(ctx context.Context, tenantID id.TenantID, userIDs []id.UserID) (map[id.UserID]*User, error)
}
