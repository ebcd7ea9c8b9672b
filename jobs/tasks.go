package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/inventra/internal/authz"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReapOverrides flips expired overrides to inactive.
	TaskReapOverrides = "authz:overrides:reap"
	// TaskApplyOverride performs a deferred override upsert on behalf of an actor.
	TaskApplyOverride = "authz:overrides:apply"
)

// ApplyOverridePayload describes a deferred override write. The actor's role
// is captured at enqueue time and re-checked when the task runs.
type ApplyOverridePayload struct {
	ActorID    int64               `json:"actor_id"`
	ActorRole  authz.Role          `json:"actor_role"`
	UserID     int64               `json:"user_id"`
	BusinessID int64               `json:"business_id"`
	Added      authz.PermissionMap `json:"added"`
	Removed    authz.PermissionMap `json:"removed"`
	Reason     string              `json:"reason"`
	ExpiresAt  *time.Time          `json:"expires_at,omitempty"`
}

// NewReapOverridesTask constructs the reaper task.
func NewReapOverridesTask() *asynq.Task {
	return asynq.NewTask(TaskReapOverrides, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(3))
}

// NewApplyOverrideTask constructs a deferred override write.
func NewApplyOverrideTask(payload ApplyOverridePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskApplyOverride, data, asynq.Queue(QueueDefault)), nil
}
