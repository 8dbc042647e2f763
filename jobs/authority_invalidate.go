package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-iam/internal/jobs"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
)

// Publisher broadcasts invalidations; *rbac.Invalidator implements it.
type Publisher interface {
	Publish(ctx context.Context, inv rbac.Invalidation) error
}

// AuthorityInvalidateJob relays queued invalidation requests onto the pub/sub
// channel the API processes listen on.
type AuthorityInvalidateJob struct {
	Publisher Publisher
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewAuthorityInvalidateJob wires dependencies for the invalidation handler.
// metrics may be nil.
func NewAuthorityInvalidateJob(publisher Publisher, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuthorityInvalidateJob {
	return &AuthorityInvalidateJob{Publisher: publisher, Logger: logger, Metrics: metrics}
}

// Handle processes TaskAuthorityInvalidate tasks. Undecodable or empty
// payloads are not retried.
func (j *AuthorityInvalidateJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Publisher == nil {
		return errors.New("authority invalidate: handler not configured")
	}
	var inv rbac.Invalidation
	if err := json.Unmarshal(t.Payload(), &inv); err != nil {
		j.logger().Warn("authority invalidate: bad payload", slog.Any("error", err))
		return fmt.Errorf("authority invalidate: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if !inv.Valid() {
		return fmt.Errorf("authority invalidate: empty invalidation: %w", asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskAuthorityInvalidate)
	defer func() {
		err = tracker.End(err)
	}()

	scope := "principal"
	if inv.All {
		scope = "all"
	}
	logger := j.logger().With(slog.String("scope", scope), slog.Int64("principal_id", inv.PrincipalID))
	if err := j.Publisher.Publish(ctx, inv); err != nil {
		logger.Error("publish authority invalidation", slog.Any("error", err))
		return err
	}
	j.Metrics.AddInvalidation(scope)
	logger.Info("authority invalidation published")
	return nil
}

func (j *AuthorityInvalidateJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
