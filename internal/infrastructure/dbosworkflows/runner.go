// Package dbosworkflows implements [domain.WorkflowEngine] using
// the DBOS Transact Go SDK.
package dbosworkflows

import (
	"context"
	"fmt"
	"sync"

	"github.com/dbos-inc/dbos-transact-golang/dbos"

	"github.com/githubflow/githubflow-server/internal/domain"
)

// activityInvoker calls RunAsStep with the correct concrete output type.
// Created at construction time when concrete types are known.
type activityInvoker func(ctx dbos.DBOSContext, in any) (any, error)

// Engine implements [domain.WorkflowEngine] backed by DBOS.
//
// The caller must call [dbos.Launch] after creating runners and before
// invoking them.
type Engine struct {
	DBOSCtx dbos.DBOSContext
}

func (e *Engine) PipelineRunner(wf *domain.PipelineWorkflow) (domain.PipelineRunner, error) {
	invokers := make(map[string]activityInvoker)

	registerActivity(invokers, wf.NotifyStatus())
	registerActivity(invokers, wf.BuildApplication())
	registerActivity(invokers, wf.BuildInfrastructure())
	registerActivity(invokers, wf.DeployInfrastructure())
	registerActivity(invokers, wf.CompleteRun())

	wfFunc := func(ctx dbos.DBOSContext, in domain.StartInput) (domain.RunOutcome, error) {
		runner := &durableRunner{ctx: ctx, invokers: invokers}
		return wf.Run(runner, in)
	}

	dbos.RegisterWorkflow(e.DBOSCtx, wfFunc, dbos.WithWorkflowName(wf.Name()))

	return &pipelineRunner{
		dbosCtx: e.DBOSCtx,
		wfFunc:  wfFunc,
	}, nil
}

// registerActivity creates a typed invoker that calls [dbos.RunAsStep]
// with the concrete output type O, ensuring correct JSON deserialization
// during workflow replay.
func registerActivity[I, O any](invokers map[string]activityInvoker, activity domain.Activity[I, O]) {
	invokers[activity.Name()] = func(ctx dbos.DBOSContext, in any) (any, error) {
		return dbos.RunAsStep(ctx, func(stepCtx context.Context) (O, error) {
			return activity.Run(stepCtx, in.(I))
		}, dbos.WithStepName(activity.Name()))
	}
}

type durableRunner struct {
	ctx      dbos.DBOSContext
	invokers map[string]activityInvoker
}

func (r *durableRunner) ID() string {
	id, _ := dbos.GetWorkflowID(r.ctx)
	return id
}

func (r *durableRunner) Context() context.Context {
	return r.ctx
}

func (r *durableRunner) Run(activity domain.Activity[any, any], in any) (any, error) {
	invoke, ok := r.invokers[activity.Name()]
	if !ok {
		return nil, fmt.Errorf("activity %q not registered", activity.Name())
	}
	return invoke(r.ctx, in)
}

// RunAll executes the calls as concurrent steps and reports results in
// declaration order; the lowest-indexed failing step wins.
func (r *durableRunner) RunAll(calls []domain.ActivityCall) ([]any, error) {
	results := make([]any, len(calls))
	errs := make([]error, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		invoke, ok := r.invokers[call.Activity.Name()]
		if !ok {
			return nil, fmt.Errorf("activity %q not registered", call.Activity.Name())
		}
		wg.Add(1)
		go func(i int, invoke activityInvoker, in any) {
			defer wg.Done()
			results[i], errs[i] = invoke(r.ctx, in)
		}(i, invoke, call.In)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

type pipelineRunner struct {
	dbosCtx dbos.DBOSContext
	wfFunc  dbos.Workflow[domain.StartInput, domain.RunOutcome]
}

func (r *pipelineRunner) Run(ctx context.Context, in domain.StartInput) (domain.WorkflowHandle[domain.RunOutcome], error) {
	handle, err := dbos.RunWorkflow(r.dbosCtx, r.wfFunc, in)
	if err != nil {
		return nil, fmt.Errorf("run DBOS workflow: %w", err)
	}
	return &workflowHandle{handle: handle}, nil
}

type workflowHandle struct {
	handle dbos.WorkflowHandle[domain.RunOutcome]
}

func (h *workflowHandle) WorkflowID() string {
	return h.handle.GetWorkflowID()
}

func (h *workflowHandle) AwaitResult(_ context.Context) (domain.RunOutcome, error) {
	return h.handle.GetResult()
}
