// Package goworkflows implements [domain.WorkflowEngine] using
// cschleiden/go-workflows for durable workflow execution.
package goworkflows

import (
	"context"
	"fmt"
	"time"

	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/registry"
	"github.com/cschleiden/go-workflows/worker"
	"github.com/cschleiden/go-workflows/workflow"
	"github.com/google/uuid"

	"github.com/githubflow/githubflow-server/internal/domain"
)

// awaitFunc resolves a started activity to its result from the
// workflow context.
type awaitFunc func(wfCtx workflow.Context) (any, error)

// activityInvoker starts an activity from the workflow context with the
// correct generic types and returns an awaiter for its future. Created
// at construction time when concrete types are known. Splitting start
// from await is what lets the parallel build region run both branches
// concurrently under deterministic replay.
type activityInvoker func(wfCtx workflow.Context, in any) awaitFunc

// Engine implements [domain.WorkflowEngine] backed by go-workflows.
type Engine struct {
	Worker  *worker.Worker
	Client  *client.Client
	Timeout time.Duration
}

func (e *Engine) timeout() time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return 30 * time.Minute
}

func (e *Engine) PipelineRunner(wf *domain.PipelineWorkflow) (domain.PipelineRunner, error) {
	invokers := make(map[string]activityInvoker)

	if err := registerActivity(e.Worker, invokers, wf.NotifyStatus()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, wf.BuildApplication()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, wf.BuildInfrastructure()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, wf.DeployInfrastructure()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, wf.CompleteRun()); err != nil {
		return nil, err
	}

	wfFunc := func(ctx workflow.Context, in domain.StartInput) (domain.RunOutcome, error) {
		runner := &durableRunner{wfCtx: ctx, invokers: invokers}
		return wf.Run(runner, in)
	}

	if err := e.Worker.RegisterWorkflow(wfFunc, registry.WithName(wf.Name())); err != nil {
		return nil, fmt.Errorf("register workflow %q: %w", wf.Name(), err)
	}

	return &pipelineRunner{
		client:  e.Client,
		wfName:  wf.Name(),
		timeout: e.timeout(),
	}, nil
}

// registerActivity registers a typed activity with go-workflows and
// creates a corresponding typed invoker.
func registerActivity[I, O any](
	w *worker.Worker,
	invokers map[string]activityInvoker,
	activity domain.Activity[I, O],
) error {
	activityFn := func(ctx context.Context, in I) (O, error) {
		return activity.Run(ctx, in)
	}

	if err := w.RegisterActivity(activityFn, registry.WithName(activity.Name())); err != nil {
		return fmt.Errorf("register activity %q: %w", activity.Name(), err)
	}

	invokers[activity.Name()] = func(wfCtx workflow.Context, in any) awaitFunc {
		future := workflow.ExecuteActivity[O](
			wfCtx, workflow.DefaultActivityOptions, activity.Name(), in,
		)
		return func(wfCtx workflow.Context) (any, error) {
			return future.Get(wfCtx)
		}
	}

	return nil
}

type durableRunner struct {
	wfCtx    workflow.Context
	invokers map[string]activityInvoker
}

func (r *durableRunner) ID() string {
	return workflow.WorkflowInstance(r.wfCtx).InstanceID
}

func (r *durableRunner) Context() context.Context {
	return context.Background()
}

func (r *durableRunner) Run(activity domain.Activity[any, any], in any) (any, error) {
	invoke, ok := r.invokers[activity.Name()]
	if !ok {
		return nil, fmt.Errorf("activity %q not registered", activity.Name())
	}
	return invoke(r.wfCtx, in)(r.wfCtx)
}

// RunAll starts every activity before awaiting any of them, so the
// branches of the build region execute concurrently on the worker.
// Awaiting in declaration order keeps the reported failure stable
// across replays.
func (r *durableRunner) RunAll(calls []domain.ActivityCall) ([]any, error) {
	awaiters := make([]awaitFunc, len(calls))
	for i, call := range calls {
		invoke, ok := r.invokers[call.Activity.Name()]
		if !ok {
			return nil, fmt.Errorf("activity %q not registered", call.Activity.Name())
		}
		awaiters[i] = invoke(r.wfCtx, call.In)
	}

	results := make([]any, len(awaiters))
	var firstErr error
	for i, await := range awaiters {
		result, err := await(r.wfCtx)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		results[i] = result
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

type pipelineRunner struct {
	client  *client.Client
	wfName  string
	timeout time.Duration
}

func (r *pipelineRunner) Run(ctx context.Context, in domain.StartInput) (domain.WorkflowHandle[domain.RunOutcome], error) {
	instanceID := string(in.RunID)
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	instance, err := r.client.CreateWorkflowInstance(ctx, client.WorkflowInstanceOptions{
		InstanceID: instanceID,
	}, r.wfName, in)
	if err != nil {
		return nil, fmt.Errorf("create workflow instance: %w", err)
	}

	return &workflowHandle{
		client:   r.client,
		instance: instance,
		timeout:  r.timeout,
	}, nil
}

type workflowHandle struct {
	client   *client.Client
	instance *workflow.Instance
	timeout  time.Duration
}

func (h *workflowHandle) WorkflowID() string {
	return h.instance.InstanceID
}

func (h *workflowHandle) AwaitResult(ctx context.Context) (domain.RunOutcome, error) {
	return client.GetWorkflowResult[domain.RunOutcome](ctx, h.client, h.instance, h.timeout)
}
