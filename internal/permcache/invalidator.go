package permcache

import (
	"context"
	"log/slog"
	"strconv"
)

// InvalidationObserver counts invalidations per scope.
type InvalidationObserver interface {
	Invalidation(scope string, err error)
}

// Invalidator runs post-commit invalidations. Failures are logged and counted
// but never returned: the mutation has committed and the snapshot TTL bounds
// the stale window.
type Invalidator struct {
	cache   Cache
	logger  *slog.Logger
	metrics InvalidationObserver
}

// NewInvalidator wraps cache. metrics may be nil.
func NewInvalidator(cache Cache, logger *slog.Logger, metrics InvalidationObserver) *Invalidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invalidator{cache: cache, logger: logger, metrics: metrics}
}

// Invalidate drops the snapshot of userID.
func (i *Invalidator) Invalidate(ctx context.Context, userID int64) {
	i.record(ScopeUser, strconv.FormatInt(userID, 10), i.cache.Invalidate(ctx, userID))
}

// InvalidateRole stales the snapshots of every holder of roleKey.
func (i *Invalidator) InvalidateRole(ctx context.Context, roleKey string) {
	i.record(ScopeRole, roleKey, i.cache.InvalidateRole(ctx, roleKey))
}

// InvalidateAll stales every snapshot.
func (i *Invalidator) InvalidateAll(ctx context.Context) {
	i.record(ScopeGlobal, "*", i.cache.InvalidateAll(ctx))
}

func (i *Invalidator) record(scope, target string, err error) {
	if i.metrics != nil {
		i.metrics.Invalidation(scope, err)
	}
	if err != nil {
		i.logger.Error("permission cache invalidation failed",
			slog.String("scope", scope),
			slog.String("target", target),
			slog.Any("error", err))
	}
}
