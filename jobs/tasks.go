package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuthzWarmup is the task type that pre-populates authorization caches.
	TaskAuthzWarmup = "authz:warmup"
)

// AuthzWarmupPayload selects which roles the warmup run touches.
type AuthzWarmupPayload struct {
	// Scope is "active" (default) or "all".
	Scope string `json:"scope"`
}

// NewAuthzWarmupTask constructs an Asynq task for a cache warmup run.
func NewAuthzWarmupTask(scope string) (*asynq.Task, error) {
	data, err := json.Marshal(AuthzWarmupPayload{Scope: scope})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuthzWarmup, data), nil
}
