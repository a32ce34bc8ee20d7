// Package syncworkflow provides a synchronous, in-process [domain.WorkflowEngine].
// Activities execute inline with no persistence or replay; the parallel
// build region runs its branches on plain goroutines.
package syncworkflow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/githubflow/githubflow-server/internal/domain"
)

var runCounter atomic.Int64

// Engine implements [domain.WorkflowEngine] with synchronous, in-process
// execution. No durable state is kept.
type Engine struct{}

func (e *Engine) PipelineRunner(wf *domain.PipelineWorkflow) (domain.PipelineRunner, error) {
	return &runner{wf: wf}, nil
}

type runner struct {
	wf *domain.PipelineWorkflow
}

func (r *runner) Run(ctx context.Context, in domain.StartInput) (domain.WorkflowHandle[domain.RunOutcome], error) {
	id := runCounter.Add(1)
	sr := &syncRunner{id: id, ctx: ctx}
	outcome, err := r.wf.Run(sr, in)
	return &handle{id: id, outcome: outcome, err: err}, nil
}

type syncRunner struct {
	id  int64
	ctx context.Context
}

func (r *syncRunner) ID() string               { return fmt.Sprintf("sync-%d", r.id) }
func (r *syncRunner) Context() context.Context { return r.ctx }

func (r *syncRunner) Run(activity domain.Activity[any, any], in any) (any, error) {
	return activity.Run(r.ctx, in)
}

// RunAll runs every call on its own goroutine and waits for all of
// them, then reports results in declaration order. The lowest-indexed
// failing call wins, whatever the completion order was.
func (r *syncRunner) RunAll(calls []domain.ActivityCall) ([]any, error) {
	results := make([]any, len(calls))
	errs := make([]error, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call domain.ActivityCall) {
			defer wg.Done()
			results[i], errs[i] = call.Activity.Run(r.ctx, call.In)
		}(i, call)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

type handle struct {
	id      int64
	outcome domain.RunOutcome
	err     error
}

func (h *handle) WorkflowID() string { return fmt.Sprintf("sync-%d", h.id) }
func (h *handle) AwaitResult(_ context.Context) (domain.RunOutcome, error) {
	return h.outcome, h.err
}
