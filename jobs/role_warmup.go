package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-access/internal/jobs"
	"github.com/odyssey-erp/odyssey-access/internal/permissions"
	"github.com/odyssey-erp/odyssey-access/internal/users"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// HolderLister lists the users holding a role.
type HolderLister interface {
	ListByRole(ctx context.Context, roleKey string) ([]users.User, error)
}

// Warmer resolves and caches a user's effective permissions.
type Warmer interface {
	Resolve(ctx context.Context, userID int64) (permissions.Set, error)
}

// RoleWarmupJob re-primes the permission cache for every holder of a role.
type RoleWarmupJob struct {
	Users    HolderLister
	Resolver Warmer
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewRoleWarmupJob wires dependencies for the warmup handler.
func NewRoleWarmupJob(holders HolderLister, resolver Warmer, logger *slog.Logger, metrics *jobmetrics.Metrics) *RoleWarmupJob {
	return &RoleWarmupJob{Users: holders, Resolver: resolver, Logger: logger, Metrics: metrics}
}

// Handle processes role warmup tasks.
func (j *RoleWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Users == nil || j.Resolver == nil {
		return errors.New("role warmup: handler not configured")
	}
	var payload RoleWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.RoleKey == "" {
		return fmt.Errorf("role warmup: bad payload: %w", asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskRoleWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	logger := j.logger().With(slog.String("role_key", payload.RoleKey))
	holders, err := j.Users.ListByRole(ctx, payload.RoleKey)
	if err != nil {
		resultErr = err
		logger.Error("list role holders", slog.Any("error", err))
		return resultErr
	}

	warmed := 0
	for _, u := range holders {
		if _, err := j.Resolver.Resolve(ctx, u.ID); err != nil {
			resultErr = err
			logger.Error("warm user", slog.Int64("user_id", u.ID), slog.Any("error", err))
			break
		}
		warmed++
	}
	j.metrics().AddWarmed(payload.RoleKey, warmed)
	logger.Info("completed role warmup",
		slog.Int("holders", len(holders)),
		slog.Int("warmed", warmed),
		slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *RoleWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskRoleWarmup))
	}
	return slog.Default().With(slog.String("job", TaskRoleWarmup))
}

func (j *RoleWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
