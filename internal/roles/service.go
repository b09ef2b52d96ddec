package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/odyssey-erp/odyssey-access/internal/audit"
	"github.com/odyssey-erp/odyssey-access/internal/permissions"
	"github.com/odyssey-erp/odyssey-access/internal/platform/db"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	GetRole(ctx context.Context, key string) (Role, error)
	// GetRoleForUpdate loads the role and locks its row for the transaction in ctx.
	GetRoleForUpdate(ctx context.Context, key string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	ReplacePermissions(ctx context.Context, key string, set permissions.Set, at time.Time) error
	// InsertIfAbsent stores role unless its key exists and reports whether it did.
	InsertIfAbsent(ctx context.Context, role Role) (bool, error)
}

// AuditAppender records catalog mutations.
type AuditAppender interface {
	Append(ctx context.Context, e audit.Entry) (int64, error)
}

// Invalidator drops cached permission snapshots of a role's holders.
type Invalidator interface {
	InvalidateRole(ctx context.Context, roleKey string)
}

// WarmupEnqueuer schedules re-priming of a role's holders.
type WarmupEnqueuer interface {
	EnqueueRoleWarmup(ctx context.Context, roleKey string) error
}

// MutationObserver counts mutation outcomes.
type MutationObserver interface {
	ObserveMutation(operation string, err error)
}

// Service handles role business logic.
type Service struct {
	repo        RepositoryPort
	registry    *permissions.Registry
	tx          db.Transactor
	audit       AuditAppender
	locker      shared.Locker
	invalidator Invalidator
	warmup      WarmupEnqueuer
	metrics     MutationObserver
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLocker replaces the in-process role lock, e.g. with a Redis lease.
func WithLocker(l shared.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithInvalidator sets the cache invalidator run after commit.
func WithInvalidator(inv Invalidator) Option {
	return func(s *Service) { s.invalidator = inv }
}

// WithWarmup enables cache warmup after role updates.
func WithWarmup(w WarmupEnqueuer) Option {
	return func(s *Service) { s.warmup = w }
}

// WithMetrics sets the mutation observer.
func WithMetrics(m MutationObserver) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, registry *permissions.Registry, tx db.Transactor, auditor AuditAppender, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		registry: registry,
		tx:       tx,
		audit:    auditor,
		locker:   shared.NewLocalLocker(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetRole returns one role.
func (s *Service) GetRole(ctx context.Context, key string) (Role, error) {
	role, err := s.repo.GetRole(ctx, key)
	if err != nil {
		return Role{}, notFound(key, err)
	}
	return role, nil
}

// ListRoles returns all roles, highest level first.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	list, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("roles: list: %w", err)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Level > list[j].Level })
	return list, nil
}

// UpdateDefaultPermissions replaces the role's default set with keys.
func (s *Service) UpdateDefaultPermissions(ctx context.Context, roleKey string, keys []string, actor Actor, reason string) (Role, error) {
	return s.update(ctx, "update_default_permissions", roleKey, actor, reason, func(Role) (permissions.Set, error) {
		if err := s.registry.Validate(keys...); err != nil {
			return permissions.Set{}, err
		}
		return permissions.NewSet(keys...), nil
	})
}

// UpdateCategoryPermissions replaces only the part of the role's default set
// that lies in categoryKey. Every key must belong to that category.
func (s *Service) UpdateCategoryPermissions(ctx context.Context, roleKey, categoryKey string, keys []string, actor Actor, reason string) (Role, error) {
	return s.update(ctx, "update_category_permissions", roleKey, actor, reason, func(current Role) (permissions.Set, error) {
		catKeys, err := s.registry.CategoryKeys(categoryKey)
		if err != nil {
			return permissions.Set{}, err
		}
		if err := s.registry.Validate(keys...); err != nil {
			return permissions.Set{}, err
		}
		for _, key := range keys {
			if !catKeys.Contains(key) {
				return permissions.Set{}, shared.E(shared.KindValidation,
					"permission %q does not belong to category %q", key, categoryKey)
			}
		}
		return current.Permissions.Difference(catKeys).Union(permissions.NewSet(keys...)), nil
	})
}

func (s *Service) update(ctx context.Context, op, roleKey string, actor Actor, reason string,
	compute func(current Role) (permissions.Set, error)) (Role, error) {
	unlock, err := s.locker.Lock(ctx, shared.RoleLockKey(roleKey))
	if err != nil {
		return Role{}, fmt.Errorf("roles: lock %s: %w", roleKey, err)
	}
	defer unlock()

	var result Role
	changed := false
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetRoleForUpdate(ctx, roleKey)
		if err != nil {
			return notFound(roleKey, err)
		}
		if current.Protected {
			return shared.Wrap(shared.KindProtectedResource,
				fmt.Sprintf("role %q is protected and cannot be modified", roleKey), ErrProtectedRole)
		}
		if !actor.Level.IsStrictlyAbove(current.Level) {
			return shared.E(shared.KindAuthorization,
				"actor level %d must be strictly above role level %d", actor.Level, current.Level)
		}
		next, err := compute(current)
		if err != nil {
			return err
		}
		result = current
		if next.Equal(current.Permissions) {
			return nil
		}

		at := s.now().UTC()
		if err := s.repo.ReplacePermissions(ctx, roleKey, next, at); err != nil {
			return fmt.Errorf("roles: replace permissions of %s: %w", roleKey, err)
		}
		if _, err := s.audit.Append(ctx, audit.Entry{
			ActionType:  audit.ActionRoleUpdate,
			TargetType:  audit.TargetRole,
			TargetID:    roleKey,
			PerformedBy: actor.UserID,
			OldValue:    audit.Snapshot(current.Permissions),
			NewValue:    audit.Snapshot(next),
			Reason:      reason,
		}); err != nil {
			return err
		}
		result.Permissions = next
		result.UpdatedAt = at
		changed = true
		return nil
	})
	if s.metrics != nil {
		s.metrics.ObserveMutation(op, err)
	}
	if err != nil {
		return Role{}, err
	}
	if !changed {
		return result, nil
	}

	s.logger.Info("role permissions updated",
		slog.String("role_key", roleKey),
		slog.Int64("actor_id", actor.UserID),
		slog.Int("permission_count", result.Permissions.Len()))
	if s.invalidator != nil {
		s.invalidator.InvalidateRole(ctx, roleKey)
	}
	if s.warmup != nil {
		if err := s.warmup.EnqueueRoleWarmup(ctx, roleKey); err != nil {
			s.logger.Warn("enqueue role warmup", slog.String("role_key", roleKey), slog.Any("error", err))
		}
	}
	return result, nil
}

// Provision inserts every seed whose key is missing. Existing roles keep
// their current defaults.
func (s *Service) Provision(ctx context.Context, seeds []Seed) (int, error) {
	built, err := BuildAll(s.registry, seeds)
	if err != nil {
		return 0, err
	}
	inserted := 0
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		for _, role := range built {
			role.UpdatedAt = s.now().UTC()
			ok, err := s.repo.InsertIfAbsent(ctx, role)
			if err != nil {
				return fmt.Errorf("roles: provision %s: %w", role.Key, err)
			}
			if ok {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if inserted > 0 {
		s.logger.Info("roles provisioned", slog.Int("inserted", inserted))
	}
	return inserted, nil
}

func notFound(key string, err error) error {
	if errors.Is(err, shared.ErrNotFound) {
		return shared.Wrap(shared.KindNotFound, fmt.Sprintf("role %q not found", key), err)
	}
	return fmt.Errorf("roles: get %s: %w", key, err)
}
