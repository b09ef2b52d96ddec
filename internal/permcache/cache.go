// Package permcache caches resolved permission snapshots. A snapshot carries
// the generation stamps read before it was loaded; it is only served while
// the global, role and user generations still match those stamps.
package permcache

import (
	"context"
	"time"

	"github.com/odyssey-erp/odyssey-access/internal/permissions"
)

// Invalidation scopes.
const (
	ScopeUser   = "user"
	ScopeRole   = "role"
	ScopeGlobal = "all"
)

// Stamp is the set of generations a snapshot was computed under.
type Stamp struct {
	Global int64 `json:"global"`
	Role   int64 `json:"role"`
	User   int64 `json:"user"`
}

// GrantRef is the part of a custom grant needed to evaluate it.
type GrantRef struct {
	Key       string     `json:"key"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Snapshot is a user's role defaults and unrevoked grants. Expiry is not
// applied when the snapshot is built so a cached copy stays correct over time.
type Snapshot struct {
	UserID   int64      `json:"userId"`
	RoleKey  string     `json:"roleKey"`
	Stamp    Stamp      `json:"stamp"`
	Defaults []string   `json:"defaults"`
	Grants   []GrantRef `json:"grants"`
}

// Effective evaluates the snapshot at now.
func (s Snapshot) Effective(now time.Time) permissions.Set {
	keys := make([]string, 0, len(s.Defaults)+len(s.Grants))
	keys = append(keys, s.Defaults...)
	for _, g := range s.Grants {
		if g.ExpiresAt == nil || g.ExpiresAt.After(now) {
			keys = append(keys, g.Key)
		}
	}
	return permissions.NewSet(keys...)
}

// Cache stores snapshots and the generation counters guarding them.
type Cache interface {
	Get(ctx context.Context, userID int64) (Snapshot, bool, error)
	Set(ctx context.Context, snap Snapshot) error
	// Stamp returns the current generations for userID holding roleKey.
	Stamp(ctx context.Context, userID int64, roleKey string) (Stamp, error)
	Invalidate(ctx context.Context, userID int64) error
	InvalidateRole(ctx context.Context, roleKey string) error
	InvalidateAll(ctx context.Context) error
}
