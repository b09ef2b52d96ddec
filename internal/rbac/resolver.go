package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-access/internal/audit"
	"github.com/odyssey-erp/odyssey-access/internal/grants"
	"github.com/odyssey-erp/odyssey-access/internal/observability"
	"github.com/odyssey-erp/odyssey-access/internal/permcache"
	"github.com/odyssey-erp/odyssey-access/internal/permissions"
	"github.com/odyssey-erp/odyssey-access/internal/roles"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
	"github.com/odyssey-erp/odyssey-access/internal/users"
)

// UserLookup loads users.
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (users.User, error)
}

// RoleLookup loads roles.
type RoleLookup interface {
	GetRole(ctx context.Context, key string) (roles.Role, error)
}

// GrantSource lists custom grants.
type GrantSource interface {
	ListGrants(ctx context.Context, userID int64) ([]grants.Grant, error)
	ListUnrevoked(ctx context.Context, userID int64) ([]grants.Grant, error)
}

// AuditAppender records cache clears.
type AuditAppender interface {
	Append(ctx context.Context, e audit.Entry) (int64, error)
}

// Observer records cache lookups and resolution latency.
type Observer interface {
	CacheLookup(result string)
	ObserveResolve(d time.Duration)
}

// Resolver computes effective permission sets.
type Resolver struct {
	users   UserLookup
	roles   RoleLookup
	grants  GrantSource
	cache   permcache.Cache
	audit   AuditAppender
	group   singleflight.Group
	metrics Observer
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMetrics sets the lookup and latency observer.
func WithMetrics(m Observer) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the clock grant expiry is evaluated against.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver builds a Resolver. cache may be nil to always load from the stores.
func NewResolver(userLookup UserLookup, roleLookup RoleLookup, grantSource GrantSource, cache permcache.Cache, auditor AuditAppender, opts ...Option) *Resolver {
	r := &Resolver{
		users:  userLookup,
		roles:  roleLookup,
		grants: grantSource,
		cache:  cache,
		audit:  auditor,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the user's role defaults joined with their active grants.
// Expiry is evaluated on every call, cached or not.
func (r *Resolver) Resolve(ctx context.Context, userID int64) (permissions.Set, error) {
	start := time.Now()
	snap, err := r.snapshot(ctx, userID)
	if r.metrics != nil {
		r.metrics.ObserveResolve(time.Since(start))
	}
	if err != nil {
		return permissions.Set{}, err
	}
	return snap.Effective(r.now()), nil
}

// HasPermission reports exact membership of key.
func (r *Resolver) HasPermission(ctx context.Context, userID int64, key string) (bool, error) {
	set, err := r.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.Contains(key), nil
}

// HasAny reports whether the user holds at least one of keys.
func (r *Resolver) HasAny(ctx context.Context, userID int64, keys ...string) (bool, error) {
	set, err := r.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return AuthorizeAny(set, keys...), nil
}

// HasAll reports whether the user holds every key.
func (r *Resolver) HasAll(ctx context.Context, userID int64, keys ...string) (bool, error) {
	set, err := r.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return Authorize(set, keys...), nil
}

// Detail loads the user's permissions straight from the stores, listing every
// custom grant including revoked and expired ones.
func (r *Resolver) Detail(ctx context.Context, userID int64) (UserPermissions, error) {
	u, err := r.users.GetUser(ctx, userID)
	if err != nil {
		return UserPermissions{}, err
	}
	role, err := r.roles.GetRole(ctx, u.RoleKey)
	if err != nil {
		return UserPermissions{}, err
	}
	list, err := r.grants.ListGrants(ctx, userID)
	if err != nil {
		return UserPermissions{}, fmt.Errorf("rbac: list grants %d: %w", userID, err)
	}
	return UserPermissions{
		User:                 u,
		RolePermissions:      role.Permissions,
		CustomGrants:         list,
		EffectivePermissions: role.Permissions.Union(grants.ActiveKeys(list, r.now())),
	}, nil
}

// Actor describes userID as the acting principal of a request.
func (r *Resolver) Actor(ctx context.Context, userID int64) (roles.Actor, error) {
	u, err := r.users.GetUser(ctx, userID)
	if err != nil {
		return roles.Actor{}, err
	}
	return r.actorFor(ctx, u)
}

func (r *Resolver) actorFor(ctx context.Context, u users.User) (roles.Actor, error) {
	role, err := r.roles.GetRole(ctx, u.RoleKey)
	if err != nil {
		return roles.Actor{}, err
	}
	return roles.Actor{UserID: u.ID, RoleKey: role.Key, Level: role.Level}, nil
}

// ClearCache drops cached snapshots for one user, one role or everyone and
// records the clear. The actor must hold cache.clear.
func (r *Resolver) ClearCache(ctx context.Context, actor roles.Actor, scope ClearScope) error {
	if scope.UserID != nil && scope.RoleKey != "" {
		return shared.E(shared.KindValidation, "set at most one of userId and roleKey")
	}
	allowed, err := r.HasPermission(ctx, actor.UserID, shared.PermCacheClear)
	if err != nil {
		return err
	}
	if !allowed {
		return shared.E(shared.KindAuthorization, "%s permission required", shared.PermCacheClear)
	}
	if r.cache == nil {
		return nil
	}

	entry := audit.Entry{
		ActionType:  audit.ActionCacheClear,
		PerformedBy: actor.UserID,
	}
	snap := clearSnapshot{UserID: scope.UserID, RoleKey: scope.RoleKey}
	switch {
	case scope.UserID != nil:
		if _, err := r.users.GetUser(ctx, *scope.UserID); err != nil {
			return err
		}
		snap.Scope = permcache.ScopeUser
		entry.TargetType, entry.TargetID = audit.TargetUser, strconv.FormatInt(*scope.UserID, 10)
		err = r.cache.Invalidate(ctx, *scope.UserID)
	case scope.RoleKey != "":
		if _, err := r.roles.GetRole(ctx, scope.RoleKey); err != nil {
			return err
		}
		snap.Scope = permcache.ScopeRole
		entry.TargetType, entry.TargetID = audit.TargetRole, scope.RoleKey
		err = r.cache.InvalidateRole(ctx, scope.RoleKey)
	default:
		snap.Scope = permcache.ScopeGlobal
		entry.TargetType, entry.TargetID = audit.TargetSystem, audit.SystemTarget
		err = r.cache.InvalidateAll(ctx)
	}
	if err != nil {
		return fmt.Errorf("rbac: clear cache: %w", err)
	}

	entry.NewValue = audit.Snapshot(snap)
	if _, err := r.audit.Append(ctx, entry); err != nil {
		return err
	}
	r.logger.Info("permission cache cleared",
		slog.String("scope", snap.Scope),
		slog.String("target_id", entry.TargetID),
		slog.Int64("actor_id", actor.UserID))
	return nil
}

func (r *Resolver) snapshot(ctx context.Context, userID int64) (permcache.Snapshot, error) {
	if r.cache != nil {
		if snap, ok := r.cached(ctx, userID); ok {
			return snap, nil
		}
	}
	v, err, joined := r.group.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		return r.load(context.WithoutCancel(ctx), userID)
	})
	if err != nil {
		return permcache.Snapshot{}, err
	}
	snap := v.(permcache.Snapshot)
	if joined && r.cache != nil && r.joinedStale(ctx, snap) {
		r.count(observability.LookupStale)
		return r.load(ctx, userID)
	}
	return snap, nil
}

// joinedStale reports whether a flight this caller joined was stamped before
// a bump that committed since. A failed stamp read keeps the joined result.
func (r *Resolver) joinedStale(ctx context.Context, snap permcache.Snapshot) bool {
	stamp, err := r.cache.Stamp(ctx, snap.UserID, snap.RoleKey)
	if err != nil {
		r.lookupFailed(snap.UserID, err)
		return false
	}
	return stamp != snap.Stamp
}

func (r *Resolver) cached(ctx context.Context, userID int64) (permcache.Snapshot, bool) {
	snap, ok, err := r.cache.Get(ctx, userID)
	if err != nil {
		r.lookupFailed(userID, err)
		return permcache.Snapshot{}, false
	}
	if !ok {
		r.count(observability.LookupMiss)
		return permcache.Snapshot{}, false
	}
	stamp, err := r.cache.Stamp(ctx, userID, snap.RoleKey)
	if err != nil {
		r.lookupFailed(userID, err)
		return permcache.Snapshot{}, false
	}
	if stamp != snap.Stamp {
		r.count(observability.LookupStale)
		return permcache.Snapshot{}, false
	}
	r.count(observability.LookupHit)
	return snap, true
}

// load reads the generations before the stores, so a bump racing the load
// leaves the stored snapshot already stale.
func (r *Resolver) load(ctx context.Context, userID int64) (permcache.Snapshot, error) {
	u, err := r.users.GetUser(ctx, userID)
	if err != nil {
		return permcache.Snapshot{}, err
	}
	var (
		stamp    permcache.Stamp
		stampErr error
	)
	if r.cache != nil {
		stamp, stampErr = r.cache.Stamp(ctx, userID, u.RoleKey)
	}
	role, err := r.roles.GetRole(ctx, u.RoleKey)
	if err != nil {
		return permcache.Snapshot{}, err
	}
	list, err := r.grants.ListUnrevoked(ctx, userID)
	if err != nil {
		return permcache.Snapshot{}, fmt.Errorf("rbac: list grants %d: %w", userID, err)
	}

	snap := permcache.Snapshot{
		UserID:   userID,
		RoleKey:  role.Key,
		Stamp:    stamp,
		Defaults: role.Permissions.Sorted(),
		Grants:   make([]permcache.GrantRef, 0, len(list)),
	}
	for _, g := range list {
		snap.Grants = append(snap.Grants, permcache.GrantRef{Key: g.PermissionKey, ExpiresAt: g.ExpiresAt})
	}
	if r.cache == nil || stampErr != nil {
		return snap, nil
	}
	if err := r.cache.Set(ctx, snap); err != nil {
		r.logger.Warn("permission cache fill failed", slog.Int64("user_id", userID), slog.Any("error", err))
	}
	return snap, nil
}

func (r *Resolver) lookupFailed(userID int64, err error) {
	r.count(observability.LookupError)
	r.logger.Warn("permission cache lookup failed",
		slog.Int64("user_id", userID),
		slog.Any("error", err))
}

func (r *Resolver) count(result string) {
	if r.metrics != nil {
		r.metrics.CacheLookup(result)
	}
}
