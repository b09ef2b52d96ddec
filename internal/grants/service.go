package grants

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-access/internal/audit"
	"github.com/odyssey-erp/odyssey-access/internal/permissions"
	"github.com/odyssey-erp/odyssey-access/internal/platform/db"
	"github.com/odyssey-erp/odyssey-access/internal/roles"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
	"github.com/odyssey-erp/odyssey-access/internal/users"
)

// RepositoryPort defines data access methods for grants.
type RepositoryPort interface {
	// LockUser serializes grant writers of userID for the transaction in ctx.
	LockUser(ctx context.Context, userID int64) error
	Insert(ctx context.Context, g Grant) error
	// ListByUser returns every grant of the user, newest first.
	ListByUser(ctx context.Context, userID int64) ([]Grant, error)
	// ListUnrevoked returns the user's grants that were never revoked, expired ones included.
	ListUnrevoked(ctx context.Context, userID int64) ([]Grant, error)
	MarkRevoked(ctx context.Context, ids []uuid.UUID, by int64, at time.Time, reason string) error
}

// UserLookup resolves grant targets.
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (users.User, error)
}

// RoleLookup resolves the target user's role level.
type RoleLookup interface {
	GetRole(ctx context.Context, key string) (roles.Role, error)
}

// AuditAppender records grant mutations.
type AuditAppender interface {
	Append(ctx context.Context, e audit.Entry) (int64, error)
}

// Invalidator drops a user's cached permission snapshot.
type Invalidator interface {
	Invalidate(ctx context.Context, userID int64)
}

// MutationObserver counts mutation outcomes.
type MutationObserver interface {
	ObserveMutation(operation string, err error)
}

// Service is the grant and revoke manager.
type Service struct {
	repo        RepositoryPort
	registry    *permissions.Registry
	users       UserLookup
	roles       RoleLookup
	tx          db.Transactor
	audit       AuditAppender
	locker      shared.Locker
	invalidator Invalidator
	metrics     MutationObserver
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLocker replaces the in-process user lock.
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
func NewService(repo RepositoryPort, registry *permissions.Registry, userLookup UserLookup, roleLookup RoleLookup,
	tx db.Transactor, auditor AuditAppender, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		registry: registry,
		users:    userLookup,
		roles:    roleLookup,
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

// Grant gives userID the custom permission key until expiresAt, or
// indefinitely when expiresAt is nil.
func (s *Service) Grant(ctx context.Context, userID int64, key string, actor roles.Actor, reason string, expiresAt *time.Time) (Grant, error) {
	if err := s.registry.Validate(key); err != nil {
		return Grant{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Grant{}, shared.E(shared.KindValidation, "reason is required")
	}
	if expiresAt != nil {
		exp := expiresAt.UTC().Truncate(time.Microsecond)
		if err := checkExpiry(exp, s.now()); err != nil {
			return Grant{}, err
		}
		expiresAt = &exp
	}
	if err := s.checkActor(ctx, userID, actor); err != nil {
		return Grant{}, err
	}

	g := Grant{
		ID:            uuid.New(),
		UserID:        userID,
		PermissionKey: key,
		GrantedBy:     actor.UserID,
		Reason:        reason,
		ExpiresAt:     expiresAt,
	}
	err := s.mutate(ctx, "grant", userID, func(ctx context.Context) (bool, error) {
		now := s.now().UTC().Truncate(time.Microsecond)
		if expiresAt != nil {
			if err := checkExpiry(*expiresAt, now); err != nil {
				return false, err
			}
		}
		g.GrantedAt = now
		current, err := s.repo.ListUnrevoked(ctx, userID)
		if err != nil {
			return false, fmt.Errorf("grants: list %d: %w", userID, err)
		}
		if ActiveKeys(current, now).Contains(key) {
			return false, shared.E(shared.KindConflict, "user %d already holds an active grant for %q", userID, key)
		}
		if err := s.repo.Insert(ctx, g); err != nil {
			if db.IsUniqueViolation(err) {
				return false, shared.Wrap(shared.KindConflict, fmt.Sprintf("user %d already holds an active grant for %q", userID, key), err)
			}
			return false, fmt.Errorf("grants: insert: %w", err)
		}
		_, err = s.audit.Append(ctx, audit.Entry{
			ActionType:  audit.ActionGrant,
			TargetType:  audit.TargetUser,
			TargetID:    strconv.FormatInt(userID, 10),
			PerformedBy: actor.UserID,
			NewValue:    audit.Snapshot(grantSnapshot{PermissionKey: key, ExpiresAt: expiresAt}),
			Reason:      reason,
		})
		return err == nil, err
	})
	if err != nil {
		return Grant{}, err
	}
	s.logger.Info("permission granted",
		slog.Int64("user_id", userID),
		slog.String("permission_key", key),
		slog.Int64("actor_id", actor.UserID))
	return g, nil
}

func checkExpiry(exp, now time.Time) error {
	if !exp.After(now) {
		return shared.E(shared.KindValidation, "expiresAt must be in the future")
	}
	return nil
}

// Revoke ends the user's active grant of key. Role defaults cannot be revoked.
func (s *Service) Revoke(ctx context.Context, userID int64, key string, actor roles.Actor, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return shared.E(shared.KindValidation, "reason is required")
	}
	if err := s.checkActor(ctx, userID, actor); err != nil {
		return err
	}
	return s.mutate(ctx, "revoke", userID, func(ctx context.Context) (bool, error) {
		now := s.now().UTC().Truncate(time.Microsecond)
		current, err := s.repo.ListUnrevoked(ctx, userID)
		if err != nil {
			return false, fmt.Errorf("grants: list %d: %w", userID, err)
		}
		var target *Grant
		for i := range current {
			if current[i].PermissionKey == key && current[i].ActiveAt(now) {
				target = &current[i]
				break
			}
		}
		if target == nil {
			return false, shared.E(shared.KindNotFound, "user %d has no active custom grant for %q", userID, key)
		}
		if err := s.repo.MarkRevoked(ctx, []uuid.UUID{target.ID}, actor.UserID, now, reason); err != nil {
			return false, fmt.Errorf("grants: revoke %s: %w", target.ID, err)
		}
		_, err = s.audit.Append(ctx, audit.Entry{
			ActionType:  audit.ActionRevoke,
			TargetType:  audit.TargetUser,
			TargetID:    strconv.FormatInt(userID, 10),
			PerformedBy: actor.UserID,
			OldValue:    audit.Snapshot(grantSnapshot{PermissionKey: key, ExpiresAt: target.ExpiresAt}),
			NewValue:    audit.Snapshot(revokedSnapshot{Revoked: true}),
			Reason:      reason,
		})
		return err == nil, err
	})
}

// ResetCustom revokes every active grant of the user in one audited step.
func (s *Service) ResetCustom(ctx context.Context, userID int64, actor roles.Actor, reason string) (ResetResult, error) {
	if err := s.checkActor(ctx, userID, actor); err != nil {
		return ResetResult{}, err
	}
	reason = strings.TrimSpace(reason)
	var result ResetResult
	err := s.mutate(ctx, "reset", userID, func(ctx context.Context) (bool, error) {
		now := s.now().UTC().Truncate(time.Microsecond)
		current, err := s.repo.ListUnrevoked(ctx, userID)
		if err != nil {
			return false, fmt.Errorf("grants: list %d: %w", userID, err)
		}
		ids := make([]uuid.UUID, 0, len(current))
		keys := make([]string, 0, len(current))
		for _, g := range current {
			if g.ActiveAt(now) {
				ids = append(ids, g.ID)
				keys = append(keys, g.PermissionKey)
			}
		}
		if len(ids) == 0 {
			return false, nil
		}
		if err := s.repo.MarkRevoked(ctx, ids, actor.UserID, now, reason); err != nil {
			return false, fmt.Errorf("grants: reset %d: %w", userID, err)
		}
		if _, err := s.audit.Append(ctx, audit.Entry{
			ActionType:  audit.ActionReset,
			TargetType:  audit.TargetUser,
			TargetID:    strconv.FormatInt(userID, 10),
			PerformedBy: actor.UserID,
			OldValue:    audit.Snapshot(permissions.NewSet(keys...)),
			NewValue:    audit.Snapshot(permissions.NewSet()),
			Reason:      reason,
		}); err != nil {
			return false, err
		}
		result.RevokedCount = len(ids)
		return true, nil
	})
	if err != nil {
		return ResetResult{}, err
	}
	return result, nil
}

// ListGrants returns every grant of the user, expired and revoked included,
// newest first.
func (s *Service) ListGrants(ctx context.Context, userID int64) ([]Grant, error) {
	list, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("grants: list %d: %w", userID, err)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].GrantedAt.After(list[j].GrantedAt) })
	return list, nil
}

// ListUnrevoked returns the grants that may still be active. Expiry is left
// to the caller so cached results can be re-evaluated against a later clock.
func (s *Service) ListUnrevoked(ctx context.Context, userID int64) ([]Grant, error) {
	return s.repo.ListUnrevoked(ctx, userID)
}

// ListActive returns the grants active at now.
func (s *Service) ListActive(ctx context.Context, userID int64, now time.Time) ([]Grant, error) {
	list, err := s.repo.ListUnrevoked(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("grants: list %d: %w", userID, err)
	}
	out := make([]Grant, 0, len(list))
	for _, g := range list {
		if g.ActiveAt(now) {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *Service) checkActor(ctx context.Context, userID int64, actor roles.Actor) error {
	target, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	role, err := s.roles.GetRole(ctx, target.RoleKey)
	if err != nil {
		return err
	}
	if !actor.Level.IsStrictlyAbove(role.Level) {
		return shared.E(shared.KindAuthorization,
			"actor level %d must be strictly above the level %d of user %d", actor.Level, role.Level, userID)
	}
	return nil
}

// mutate runs fn under the user lock and one transaction. fn reports whether
// it changed anything; only changes invalidate the cache.
func (s *Service) mutate(ctx context.Context, op string, userID int64, fn func(ctx context.Context) (bool, error)) error {
	unlock, err := s.locker.Lock(ctx, shared.UserLockKey(userID))
	if err != nil {
		return fmt.Errorf("grants: lock user %d: %w", userID, err)
	}
	defer unlock()

	changed := false
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.LockUser(ctx, userID); err != nil {
			return fmt.Errorf("grants: lock user row %d: %w", userID, err)
		}
		c, err := fn(ctx)
		changed = c
		return err
	})
	if s.metrics != nil {
		s.metrics.ObserveMutation(op, err)
	}
	if err != nil {
		return err
	}
	if changed && s.invalidator != nil {
		s.invalidator.Invalidate(ctx, userID)
	}
	return nil
}
