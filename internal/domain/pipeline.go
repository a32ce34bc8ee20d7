package domain

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Stage ids of the delivery pipeline.
const (
	StageNotifyPending       StageID = "NotifyPending"
	StageBuild               StageID = "Build"
	StageBuildApplication    StageID = "BuildApplication"
	StageBuildInfrastructure StageID = "BuildInfrastructure"
	StageDeploy              StageID = "DeployInfrastructure"
	StageNotifySucceeded     StageID = "NotifySucceeded"
	StageSucceeded           StageID = "Succeeded"
	StageFailed              StageID = "Fail"
)

// infrastructureBranch is the index of the infrastructure arm in the
// build region. The deploy stage consumes this branch's artifact;
// branch declaration order is significant.
const infrastructureBranch = 1

// JobSet holds the static specs of the three build jobs the pipeline
// invokes.
type JobSet struct {
	Application    JobSpec
	Infrastructure JobSpec
	Deployment     JobSpec
}

// StartInput is the input of one workflow run.
type StartInput struct {
	RunID  RunID         `json:"runId"`
	Record TriggerRecord `json:"record"`
}

// RunOutcome is the terminal result of one workflow run.
type RunOutcome struct {
	RunID  RunID     `json:"runId"`
	Status RunStatus `json:"status"`
}

// NotifyInput is the input of the notify-status activity.
type NotifyInput struct {
	Status Status        `json:"status"`
	Record TriggerRecord `json:"record"`
}

// BuildStageInput is the input of the two build-branch activities.
type BuildStageInput struct {
	Record TriggerRecord `json:"record"`
}

// DeployStageInput is the input of the deploy activity. SourceLocation
// is the infrastructure branch's artifact location.
type DeployStageInput struct {
	Record         TriggerRecord `json:"record"`
	SourceLocation string        `json:"sourceLocation"`
}

// CompleteRunInput is the input of the archive activity that records
// the terminal state of a run.
type CompleteRunInput struct {
	RunID   RunID                   `json:"runId"`
	Status  RunStatus               `json:"status"`
	Stage   StageID                 `json:"stage"`
	Results map[StageID]StageResult `json:"results"`
}

// PipelineWorkflow is the delivery pipeline: one trigger record fans
// out into two concurrent builds, gates on their joint success, runs
// the deployment, and emits a status notification at every
// intermediate and terminal point. The workflow body only describes
// the graph and records results; stage work happens in activities.
type PipelineWorkflow struct {
	Builds   BuildService
	Notifier Notifier
	Runs     RunRepository
	Jobs     JobSet
	Logger   *slog.Logger

	graph StageGraph
}

// NewPipelineWorkflow builds the pipeline definition. The stage graph
// and the status notification routing are constructed once here and
// owned by the returned instance.
func NewPipelineWorkflow(builds BuildService, notifier Notifier, runs RunRepository, jobs JobSet, logger *slog.Logger) *PipelineWorkflow {
	w := &PipelineWorkflow{
		Builds:   builds,
		Notifier: notifier,
		Runs:     runs,
		Jobs:     jobs,
		Logger:   logger,
	}
	w.graph = w.definition()
	return w
}

func (w *PipelineWorkflow) Name() string { return "github-flow" }

// Graph exposes the stage graph, primarily for validation in tests and
// at composition time.
func (w *PipelineWorkflow) Graph() StageGraph {
	if w.graph.Stages == nil {
		w.graph = w.definition()
	}
	return w.graph
}

// NotifyStatus publishes a status event for the run's trigger record.
// Publishing is best-effort: failures are logged and never propagated,
// so a broken notification channel cannot alter stage transitions.
func (w *PipelineWorkflow) NotifyStatus() Activity[NotifyInput, struct{}] {
	return NewActivity("notify-status", func(ctx context.Context, in NotifyInput) (struct{}, error) {
		event := NotificationEvent{Status: in.Status, Webhook: in.Record}
		if err := w.Notifier.Publish(ctx, event); err != nil {
			w.logger().Warn("status notification failed",
				slog.String("status", string(in.Status)),
				slog.String("error", err.Error()),
			)
		}
		return struct{}{}, nil
	})
}

// BuildApplication builds the runtime image from the trigger's commit,
// tagging it with the short commit version.
func (w *PipelineWorkflow) BuildApplication() Activity[BuildStageInput, StageResult] {
	return NewActivity("build-application", func(ctx context.Context, in BuildStageInput) (StageResult, error) {
		return w.Builds.StartBuild(ctx, BuildRequest{
			Job: w.Jobs.Application,
			Overrides: BuildOverrides{
				SourceVersion: in.Record.Commit.ID,
				Env: map[string]string{
					"IMAGE_TAG": in.Record.Commit.Version,
				},
			},
		})
	})
}

// BuildInfrastructure synthesizes the deployment manifest referencing
// the application image's coordinates and packages it as an artifact.
func (w *PipelineWorkflow) BuildInfrastructure() Activity[BuildStageInput, StageResult] {
	return NewActivity("build-infrastructure", func(ctx context.Context, in BuildStageInput) (StageResult, error) {
		return w.Builds.StartBuild(ctx, BuildRequest{
			Job: w.Jobs.Infrastructure,
			Overrides: BuildOverrides{
				SourceVersion: in.Record.Commit.ID,
				Env: map[string]string{
					"APP_IMAGE_TAG": in.Record.Commit.Version,
					"APP_HOSTNAME":  in.Record.Deployment.Hostname,
				},
			},
		})
	})
}

// DeployInfrastructure applies the packaged manifest produced by the
// infrastructure branch to the trigger's deployment target.
func (w *PipelineWorkflow) DeployInfrastructure() Activity[DeployStageInput, StageResult] {
	return NewActivity("deploy-infrastructure", func(ctx context.Context, in DeployStageInput) (StageResult, error) {
		return w.Builds.StartBuild(ctx, BuildRequest{
			Job: w.Jobs.Deployment,
			Overrides: BuildOverrides{
				SourceType:     "S3",
				SourceLocation: in.SourceLocation,
				Env: map[string]string{
					"CLUSTER_NAME":      in.Record.Deployment.Cluster,
					"CLUSTER_NAMESPACE": in.Record.Deployment.Namespace,
				},
			},
		})
	})
}

// CompleteRun archives the terminal status and stage results of a run.
func (w *PipelineWorkflow) CompleteRun() Activity[CompleteRunInput, struct{}] {
	return NewActivity("complete-run", func(ctx context.Context, in CompleteRunInput) (struct{}, error) {
		run, err := w.Runs.Get(ctx, in.RunID)
		if err != nil {
			return struct{}{}, fmt.Errorf("load run %s: %w", in.RunID, err)
		}
		if err := run.Complete(in.Status, in.Stage, in.Results, time.Now().UTC()); err != nil {
			return struct{}{}, err
		}
		if err := w.Runs.Update(ctx, run); err != nil {
			return struct{}{}, fmt.Errorf("archive run %s: %w", in.RunID, err)
		}
		return struct{}{}, nil
	})
}

// definition builds the stage graph:
//
//	NotifyPending -> Build {BuildApplication || BuildInfrastructure} -> DeployInfrastructure -> NotifySucceeded -> Succeeded
//	                 Build --BuildFailed--> Fail
//	                 DeployInfrastructure --DeploymentFailed--> Fail
func (w *PipelineWorkflow) definition() StageGraph {
	return StageGraph{
		Start: StageNotifyPending,
		Stages: map[StageID]Stage{
			StageNotifyPending: {
				ID:   StageNotifyPending,
				Kind: StageTask,
				Invoke: func(s *RunState) ActivityCall {
					return Call(w.NotifyStatus(), NotifyInput{Status: StatusPending, Record: s.Record})
				},
				Next: StageBuild,
			},
			StageBuild: {
				ID:   StageBuild,
				Kind: StageParallel,
				Branches: []Branch{
					{
						ID: StageBuildApplication,
						Invoke: func(s *RunState) ActivityCall {
							return Call(w.BuildApplication(), BuildStageInput{Record: s.Record})
						},
					},
					{
						ID: StageBuildInfrastructure,
						Invoke: func(s *RunState) ActivityCall {
							return Call(w.BuildInfrastructure(), BuildStageInput{Record: s.Record})
						},
					},
				},
				Next:  StageDeploy,
				Catch: &CatchEdge{Status: StatusBuildFailed, Next: StageFailed},
			},
			StageDeploy: {
				ID:   StageDeploy,
				Kind: StageTask,
				Invoke: func(s *RunState) ActivityCall {
					return Call(w.DeployInfrastructure(), DeployStageInput{
						Record:         s.Record,
						SourceLocation: s.Branches[StageBuild][infrastructureBranch].ArtifactLocation,
					})
				},
				Next:  StageNotifySucceeded,
				Catch: &CatchEdge{Status: StatusDeploymentFailed, Next: StageFailed},
			},
			StageNotifySucceeded: {
				ID:   StageNotifySucceeded,
				Kind: StageTask,
				Invoke: func(s *RunState) ActivityCall {
					return Call(w.NotifyStatus(), NotifyInput{Status: StatusSucceeded, Record: s.Record})
				},
				Next: StageSucceeded,
			},
			StageSucceeded: {ID: StageSucceeded, Kind: StageSucceed},
			StageFailed:    {ID: StageFailed, Kind: StageFail},
		},
	}
}

// Run interprets the stage graph for one trigger record. Stage
// transitions are strictly ordered; the only concurrency is inside the
// build region, delegated to the runner. Every terminal path archives
// the run and has emitted exactly one terminal notification.
func (w *PipelineWorkflow) Run(runner DurableRunner, in StartInput) (RunOutcome, error) {
	if w.graph.Stages == nil {
		w.graph = w.definition()
	}
	state := &RunState{
		RunID:    in.RunID,
		Record:   in.Record,
		Results:  make(map[StageID]StageResult),
		Branches: make(map[StageID][]StageResult),
	}
	outcome := RunOutcome{RunID: in.RunID}

	current := w.graph.Start
	for {
		stage, ok := w.graph.Stages[current]
		if !ok {
			return outcome, fmt.Errorf("pipeline stage %q not defined", current)
		}

		switch stage.Kind {
		case StageSucceed:
			outcome.Status = RunStatusSucceeded
			return outcome, w.archive(runner, state, outcome.Status, current)

		case StageFail:
			return outcome, w.archive(runner, state, outcome.Status, current)

		case StageTask:
			call := stage.Invoke(state)
			raw, err := runner.Run(call.Activity, call.In)
			if err != nil {
				next, rerr := w.routeFailure(runner, state, stage, err, &outcome)
				if rerr != nil {
					return outcome, rerr
				}
				current = next
				continue
			}
			if result, ok := raw.(StageResult); ok {
				state.Results[stage.ID] = result
			}
			current = stage.Next

		case StageParallel:
			calls := make([]ActivityCall, len(stage.Branches))
			for i, branch := range stage.Branches {
				calls[i] = branch.Invoke(state)
			}
			outs, err := runner.RunAll(calls)
			if err != nil {
				next, rerr := w.routeFailure(runner, state, stage, err, &outcome)
				if rerr != nil {
					return outcome, rerr
				}
				current = next
				continue
			}
			results := make([]StageResult, len(outs))
			for i, raw := range outs {
				result := raw.(StageResult)
				results[i] = result
				state.Results[stage.Branches[i].ID] = result
			}
			state.Branches[stage.ID] = results
			current = stage.Next

		default:
			return outcome, fmt.Errorf("pipeline stage %q has unknown kind %q", current, stage.Kind)
		}
	}
}

// routeFailure maps the first failure of a stage or region onto its
// declared catch edge: notify the catch status, mark the outcome, and
// transfer control. A failure with no catch edge propagates.
func (w *PipelineWorkflow) routeFailure(runner DurableRunner, state *RunState, stage Stage, cause error, outcome *RunOutcome) (StageID, error) {
	if stage.Catch == nil {
		return "", fmt.Errorf("stage %s: %w", stage.ID, cause)
	}
	w.logger().Info("routing stage failure",
		slog.String("stage", string(stage.ID)),
		slog.String("status", string(stage.Catch.Status)),
		slog.String("cause", cause.Error()),
	)
	if _, err := RunActivity(runner, w.NotifyStatus(), NotifyInput{Status: stage.Catch.Status, Record: state.Record}); err != nil {
		return "", fmt.Errorf("notify %s: %w", stage.Catch.Status, err)
	}
	outcome.Status = runStatusFor(stage.Catch.Status)
	return stage.Catch.Next, nil
}

func (w *PipelineWorkflow) archive(runner DurableRunner, state *RunState, status RunStatus, stage StageID) error {
	_, err := RunActivity(runner, w.CompleteRun(), CompleteRunInput{
		RunID:   state.RunID,
		Status:  status,
		Stage:   stage,
		Results: state.Results,
	})
	return err
}

// runStatusFor maps a catch-edge notification status onto the terminal
// run status it implies.
func runStatusFor(status Status) RunStatus {
	switch status {
	case StatusBuildFailed:
		return RunStatusBuildFailed
	case StatusDeploymentFailed:
		return RunStatusDeploymentFailed
	case StatusSucceeded:
		return RunStatusSucceeded
	default:
		return RunStatusPending
	}
}

func (w *PipelineWorkflow) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}
