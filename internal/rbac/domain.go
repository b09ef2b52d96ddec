// Package rbac resolves a user's effective permissions from their role
// defaults and active custom grants, and enforces them on HTTP routes.
package rbac

import (
	"github.com/odyssey-erp/odyssey-access/internal/grants"
	"github.com/odyssey-erp/odyssey-access/internal/permissions"
	"github.com/odyssey-erp/odyssey-access/internal/users"
)

// UserPermissions is the full permission picture of one user.
type UserPermissions struct {
	User                 users.User      `json:"user"`
	RolePermissions      permissions.Set `json:"rolePermissions"`
	CustomGrants         []grants.Grant  `json:"customGrants"`
	EffectivePermissions permissions.Set `json:"effectivePermissions"`
}

// ClearScope selects what ClearCache drops. With neither field set every
// snapshot is cleared.
type ClearScope struct {
	UserID  *int64 `json:"userId" validate:"omitempty,gt=0"`
	RoleKey string `json:"roleKey" validate:"omitempty,max=64"`
}

type clearSnapshot struct {
	Scope   string `json:"scope"`
	UserID  *int64 `json:"userId,omitempty"`
	RoleKey string `json:"roleKey,omitempty"`
}
