package domain

import "context"

// Activity is a named, typed, idempotent operation. Implementations must
// be safe for at-least-once invocation.
type Activity[I any, O any] interface {
	Name() string
	Run(ctx context.Context, in I) (O, error)
}

// ActivityCall pairs an adapted activity with its input. The parallel
// build region submits a slice of these to [DurableRunner.RunAll].
type ActivityCall struct {
	Activity Activity[any, any]
	In       any
}

// DurableRunner is the capability object provided to a running workflow.
// It durably runs activities and provides a context for pure operations
// that need cancellation propagation.
type DurableRunner interface {
	ID() string

	// Context returns the workflow execution context. In a durable
	// engine this is the deterministic replay context; in the
	// synchronous backend it is the caller's context.
	Context() context.Context

	// Run durably runs an activity. The engine provides the activity's
	// context internally; callers should use [RunActivity] for type safety.
	Run(activity Activity[any, any], in any) (any, error)

	// RunAll runs every call concurrently and awaits them in declaration
	// order. Results are returned in declaration order. If any call
	// fails, the error of the lowest-indexed failing call is returned
	// and the sibling results are discarded; index order keeps the
	// reported failure stable under deterministic replay.
	RunAll(calls []ActivityCall) ([]any, error)
}

// RunActivity provides type-safe durable activity execution from within
// a workflow body. It is a thin wrapper around [DurableRunner.Run].
func RunActivity[I any, O any](runner DurableRunner, activity Activity[I, O], in I) (O, error) {
	result, err := runner.Run(&activityAdapter[I, O]{activity: activity}, in)
	if err != nil {
		var zero O
		return zero, err
	}
	return result.(O), nil
}

// Call adapts a typed activity and its input into an [ActivityCall] for
// [DurableRunner.RunAll].
func Call[I any, O any](activity Activity[I, O], in I) ActivityCall {
	return ActivityCall{Activity: &activityAdapter[I, O]{activity: activity}, In: in}
}

// WorkflowHandle is a handle to a running or completed workflow execution.
type WorkflowHandle[O any] interface {
	WorkflowID() string
	AwaitResult(ctx context.Context) (O, error)
}

// PipelineRunner starts pipeline workflow runs. Run returns as soon as
// the engine has accepted the run; awaiting the terminal outcome is the
// handle's job.
type PipelineRunner interface {
	Run(ctx context.Context, in StartInput) (WorkflowHandle[RunOutcome], error)
}

// WorkflowEngine creates runners for the workflow types known to the
// domain. Infrastructure packages provide engine-specific implementations.
type WorkflowEngine interface {
	PipelineRunner(wf *PipelineWorkflow) (PipelineRunner, error)
}

// NewActivity creates an [Activity] from a stable name and a function.
// Workflow types use this to define their activities as methods.
func NewActivity[I, O any](name string, fn func(context.Context, I) (O, error)) Activity[I, O] {
	return &activityFunc[I, O]{name: name, fn: fn}
}

type activityFunc[I, O any] struct {
	name string
	fn   func(context.Context, I) (O, error)
}

func (a *activityFunc[I, O]) Name() string                             { return a.name }
func (a *activityFunc[I, O]) Run(ctx context.Context, in I) (O, error) { return a.fn(ctx, in) }

// activityAdapter bridges a typed [Activity] to the any-typed
// [DurableRunner.Run] interface.
type activityAdapter[I any, O any] struct{ activity Activity[I, O] }

func (a *activityAdapter[I, O]) Name() string { return a.activity.Name() }
func (a *activityAdapter[I, O]) Run(ctx context.Context, in any) (any, error) {
	return a.activity.Run(ctx, in.(I))
}
