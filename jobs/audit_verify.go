package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-access/internal/audit"
	jobmetrics "github.com/odyssey-erp/odyssey-access/internal/jobs"
)

// ErrChainBroken reports a failed audit chain verification.
var ErrChainBroken = errors.New("audit chain broken")

// ChainVerifier walks the audit checksum chain.
type ChainVerifier interface {
	Verify(ctx context.Context) (audit.VerifyReport, error)
}

// AuditVerifyJob verifies the audit chain and fails loudly on a broken link.
type AuditVerifyJob struct {
	Audit   ChainVerifier
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAuditVerifyJob wires dependencies for the verification handler.
func NewAuditVerifyJob(verifier ChainVerifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditVerifyJob {
	return &AuditVerifyJob{Audit: verifier, Logger: logger, Metrics: metrics}
}

// Handle processes audit verification tasks. A broken chain is not retried.
func (j *AuditVerifyJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Audit == nil {
		return errors.New("audit verify: handler not configured")
	}
	tracker := j.metrics().Track(TaskAuditVerify)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	report, err := j.Audit.Verify(ctx)
	if err != nil {
		resultErr = err
		logger.Error("verify audit chain", slog.Any("error", err))
		return resultErr
	}
	if !report.Valid {
		resultErr = fmt.Errorf("%w at entry %d: %s: %w", ErrChainBroken, report.BrokenAt, report.Problem, asynq.SkipRetry)
		logger.Error("audit chain broken",
			slog.Int64("entry_id", report.BrokenAt),
			slog.String("problem", report.Problem),
			slog.Int("checked", report.Checked))
		return resultErr
	}
	logger.Info("audit chain verified", slog.Int("checked", report.Checked))
	return resultErr
}

func (j *AuditVerifyJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAuditVerify))
	}
	return slog.Default().With(slog.String("job", TaskAuditVerify))
}

func (j *AuditVerifyJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
