package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/githubflow/githubflow-server/internal/domain"
)

// TriggerService starts one pipeline run per qualifying trigger record.
// Every qualifying event starts an independent run; no deduplication
// across rapid repeated events is attempted.
type TriggerService struct {
	Runs     domain.RunRepository
	Pipeline domain.PipelineRunner
	Now      func() time.Time
}

// Start persists a pending run for the record and hands it to the
// workflow engine. It returns as soon as the engine accepts the run;
// a rejected or unreachable engine wraps [domain.ErrDispatch].
func (s *TriggerService) Start(ctx context.Context, record domain.TriggerRecord) (domain.RunID, error) {
	now := s.now()
	run := domain.PipelineRun{
		ID:        domain.RunID(uuid.NewString()),
		Record:    record,
		Stage:     domain.StageNotifyPending,
		Status:    domain.RunStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Runs.Create(ctx, run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}

	if _, err := s.Pipeline.Run(ctx, domain.StartInput{RunID: run.ID, Record: record}); err != nil {
		return "", fmt.Errorf("%w: start run %s: %v", domain.ErrDispatch, run.ID, err)
	}
	return run.ID, nil
}

func (s *TriggerService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// RunService answers queries about archived and in-flight runs.
type RunService struct {
	Runs domain.RunRepository
}

func (s *RunService) Get(ctx context.Context, id domain.RunID) (domain.PipelineRun, error) {
	return s.Runs.Get(ctx, id)
}

func (s *RunService) List(ctx context.Context) ([]domain.PipelineRun, error) {
	return s.Runs.List(ctx)
}
