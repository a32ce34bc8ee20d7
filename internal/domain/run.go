package domain

import (
	"context"
	"fmt"
	"time"
)

// RunID identifies one pipeline run.
type RunID string

// RunStatus is the lifecycle state of a run. The three non-pending
// statuses are terminal.
type RunStatus string

const (
	RunStatusPending          RunStatus = "pending"
	RunStatusSucceeded        RunStatus = "succeeded"
	RunStatusBuildFailed      RunStatus = "build_failed"
	RunStatusDeploymentFailed RunStatus = "deployment_failed"
)

// Terminal reports whether a status accepts no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusBuildFailed || s == RunStatusDeploymentFailed
}

// PipelineRun is the archived execution record of one run. Stage
// workers never touch it; the workflow records results through the
// complete-run activity once the run is terminal.
type PipelineRun struct {
	ID        RunID
	Record    TriggerRecord
	Stage     StageID
	Results   map[StageID]StageResult
	Status    RunStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Complete transitions the run to a terminal status and records the
// per-stage results. A run that is already terminal accepts no further
// transitions.
func (r *PipelineRun) Complete(status RunStatus, stage StageID, results map[StageID]StageResult, now time.Time) error {
	if r.Status.Terminal() {
		return fmt.Errorf("%w: run %s is already %s", ErrInvalidArgument, r.ID, r.Status)
	}
	if !status.Terminal() {
		return fmt.Errorf("%w: %q is not a terminal status", ErrInvalidArgument, status)
	}
	r.Status = status
	r.Stage = stage
	r.Results = results
	r.UpdatedAt = now
	return nil
}

// RunRepository persists pipeline runs.
type RunRepository interface {
	Create(ctx context.Context, run PipelineRun) error
	Get(ctx context.Context, id RunID) (PipelineRun, error)
	List(ctx context.Context) ([]PipelineRun, error)
	Update(ctx context.Context, run PipelineRun) error
}
