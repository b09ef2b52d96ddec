// Package grants manages custom per-user permission grants layered on top of
// a user's role defaults.
package grants

import (
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-access/internal/permissions"
)

// Grant is one custom permission granted to one user.
type Grant struct {
	ID            uuid.UUID  `json:"id"`
	UserID        int64      `json:"userId"`
	PermissionKey string     `json:"permissionKey"`
	GrantedBy     int64      `json:"grantedBy"`
	Reason        string     `json:"reason"`
	GrantedAt     time.Time  `json:"grantedAt"`
	ExpiresAt     *time.Time `json:"expiresAt"`
	Revoked       bool       `json:"revoked"`
	RevokedBy     *int64     `json:"revokedBy,omitempty"`
	RevokedAt     *time.Time `json:"revokedAt,omitempty"`
	RevokeReason  string     `json:"revokeReason,omitempty"`
}

// ActiveAt reports whether g confers its permission at now.
func (g Grant) ActiveAt(now time.Time) bool {
	return !g.Revoked && (g.ExpiresAt == nil || g.ExpiresAt.After(now))
}

// ActiveKeys returns the keys of the grants active at now.
func ActiveKeys(list []Grant, now time.Time) permissions.Set {
	keys := make([]string, 0, len(list))
	for _, g := range list {
		if g.ActiveAt(now) {
			keys = append(keys, g.PermissionKey)
		}
	}
	return permissions.NewSet(keys...)
}

// ResetResult reports how many grants a reset revoked.
type ResetResult struct {
	RevokedCount int `json:"revokedCount"`
}

type grantSnapshot struct {
	PermissionKey string     `json:"permissionKey"`
	ExpiresAt     *time.Time `json:"expiresAt"`
}

type revokedSnapshot struct {
	Revoked bool `json:"revoked"`
}
