package jobs

import (
	"encoding/json"
	"errors"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuthorityInvalidate asks the worker to broadcast an authority cache
	// invalidation to every API process.
	TaskAuthorityInvalidate = "rbac:invalidate"
)

// NewAuthorityInvalidateTask constructs an Asynq task for inv.
func NewAuthorityInvalidateTask(inv rbac.Invalidation) (*asynq.Task, error) {
	if !inv.Valid() {
		return nil, errors.New("jobs: invalidation needs a principal id or all")
	}
	data, err := json.Marshal(inv)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuthorityInvalidate, data, asynq.MaxRetry(5)), nil
}

// AuthorityPurgeCron schedules a full authority cache purge on spec. It bounds
// how long a missed invalidation can leave stale authorities cached. An empty
// spec schedules nothing.
func AuthorityPurgeCron(spec string) ([]CronRegistration, error) {
	if spec == "" {
		return nil, nil
	}
	task, err := NewAuthorityInvalidateTask(rbac.Invalidation{All: true})
	if err != nil {
		return nil, err
	}
	// A missed run is superseded by the next one.
	return []CronRegistration{{Spec: spec, Task: task, Options: []asynq.Option{asynq.Queue(QueueDefault), asynq.MaxRetry(0)}}}, nil
}
