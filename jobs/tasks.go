package jobs

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRoleWarmup re-primes the permission snapshots of a role's holders.
	TaskRoleWarmup = "authz:role:warmup"
	// TaskAuditVerify walks the audit checksum chain.
	TaskAuditVerify = "authz:audit:verify"
)

// AuditVerifyCron runs the chain verification nightly.
const AuditVerifyCron = "30 2 * * *"

// RoleWarmupPayload names the role whose holders are warmed.
type RoleWarmupPayload struct {
	RoleKey string `json:"roleKey"`
}

// AuditVerifyPayload is empty; the whole chain is always verified.
type AuditVerifyPayload struct{}

// NewRoleWarmupTask constructs the role warmup task.
func NewRoleWarmupTask(roleKey string) (*asynq.Task, error) {
	roleKey = strings.TrimSpace(roleKey)
	if roleKey == "" {
		return nil, fmt.Errorf("jobs: role warmup requires a role key")
	}
	data, err := json.Marshal(RoleWarmupPayload{RoleKey: roleKey})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRoleWarmup, data, asynq.MaxRetry(3)), nil
}

// NewAuditVerifyTask constructs the audit verification task.
func NewAuditVerifyTask() (*asynq.Task, error) {
	data, err := json.Marshal(AuditVerifyPayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditVerify, data, asynq.MaxRetry(1)), nil
}

// BuildTask maps a CLI job name and its arguments to a task.
func BuildTask(name string, args []string) (*asynq.Task, error) {
	switch name {
	case "role-warmup", TaskRoleWarmup:
		if len(args) != 1 {
			return nil, fmt.Errorf("jobs: %s requires exactly one role key", name)
		}
		return NewRoleWarmupTask(args[0])
	case "audit-verify", TaskAuditVerify:
		return NewAuditVerifyTask()
	default:
		return nil, fmt.Errorf("jobs: unknown job %q", name)
	}
}
