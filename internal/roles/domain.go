// Package roles holds the role catalog: the fixed role hierarchy, each role's
// default permission set, and the rules for who may change it.
package roles

import (
	"context"
	"errors"
	"time"

	"github.com/odyssey-erp/odyssey-access/internal/permissions"
)

// ErrProtectedRole marks an attempted edit of a protected role.
var ErrProtectedRole = errors.New("roles: role is protected")

// Level is a role's position in the hierarchy. Higher is more privileged.
type Level int

// IsStrictlyAbove reports whether l outranks other.
func (l Level) IsStrictlyAbove(other Level) bool { return l > other }

// IsAtLeast reports whether l is other or higher.
func (l Level) IsAtLeast(other Level) bool { return l >= other }

// Role is one entry of the catalog.
type Role struct {
	Key         string          `json:"key"`
	DisplayName string          `json:"name"`
	Level       Level           `json:"hierarchy"`
	Permissions permissions.Set `json:"permissions"`
	Protected   bool            `json:"protected"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// ModifiableBy reports whether actor may change the role's defaults.
func (r Role) ModifiableBy(actor Actor) bool {
	return !r.Protected && actor.Level.IsStrictlyAbove(r.Level)
}

// Actor is the authenticated caller performing an administrative action.
type Actor struct {
	UserID  int64  `json:"userId"`
	RoleKey string `json:"role"`
	Level   Level  `json:"hierarchy"`
}

type actorKey struct{}

// ContextWithActor stores actor in ctx.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor stored by ContextWithActor.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}
