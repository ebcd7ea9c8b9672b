package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/inventra/internal/authz"
	"github.com/odyssey-erp/inventra/internal/guard"
	jobmetrics "github.com/odyssey-erp/inventra/internal/jobs"
)

// OverrideService is the subset of authz.Service the jobs need.
type OverrideService interface {
	UpsertOverride(ctx context.Context, in authz.UpsertInput) (authz.Override, error)
	DeactivateExpired(ctx context.Context) (int64, error)
}

// OverrideJobs handles override maintenance tasks.
type OverrideJobs struct {
	Service OverrideService
	Guard   *guard.Guard
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewOverrideJobs constructs the job handlers.
func NewOverrideJobs(service OverrideService, g *guard.Guard, logger *slog.Logger, metrics *jobmetrics.Metrics) *OverrideJobs {
	return &OverrideJobs{Service: service, Guard: g, Logger: logger, Metrics: metrics}
}

// Handlers returns the task registrations for the worker.
func (j *OverrideJobs) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskReapOverrides, Handler: j.HandleReap},
		{Type: TaskApplyOverride, Handler: j.HandleApply},
	}
}

// HandleReap deactivates expired overrides. Resolution already ignores them,
// so a missed run changes no decision.
func (j *OverrideJobs) HandleReap(ctx context.Context, _ *asynq.Task) (resultErr error) {
	if j == nil || j.Service == nil {
		return errors.New("override reaper: dependencies not configured")
	}
	tracker := j.Metrics.Track(TaskReapOverrides)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	n, err := j.Service.DeactivateExpired(ctx)
	if err != nil {
		j.log().Error("override reaper", slog.Any("error", err))
		return err
	}
	j.Metrics.AddDeactivated(n)
	j.log().Info("override reaper completed", slog.Int64("deactivated", n))
	return nil
}

// HandleApply re-authorizes the actor and performs the upsert. Authorization
// and validation failures are permanent and skip retries.
func (j *OverrideJobs) HandleApply(ctx context.Context, task *asynq.Task) (resultErr error) {
	if j == nil || j.Service == nil || j.Guard == nil {
		return errors.New("override apply: dependencies not configured")
	}
	var payload ApplyOverridePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("override apply: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskApplyOverride)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	actor := guard.Identity{UserID: payload.ActorID, Role: payload.ActorRole, BusinessID: payload.BusinessID}
	policy := guard.RequireAll(authz.ResourcePermissions, authz.ActionUpdate)
	if err := j.Guard.Check(ctx, actor, policy); err != nil {
		j.log().Warn("override apply denied", slog.Int64("actor_id", payload.ActorID), slog.Any("error", err))
		return fmt.Errorf("override apply: %w: %w", err, asynq.SkipRetry)
	}

	_, err := j.Service.UpsertOverride(ctx, authz.UpsertInput{
		UserID:     payload.UserID,
		BusinessID: payload.BusinessID,
		ActorID:    payload.ActorID,
		Added:      payload.Added,
		Removed:    payload.Removed,
		Reason:     payload.Reason,
		ExpiresAt:  payload.ExpiresAt,
	})
	if errors.Is(err, authz.ErrValidation) {
		return fmt.Errorf("override apply: %w: %w", err, asynq.SkipRetry)
	}
	return err
}

func (j *OverrideJobs) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
