package domain

import "fmt"

// StageID names a node in the pipeline graph.
type StageID string

// StageKind classifies a stage descriptor.
type StageKind string

const (
	// StageTask runs a single activity and moves to the successor.
	StageTask StageKind = "task"
	// StageParallel fans out into branches and rejoins once all
	// complete; any branch failure fails the region as a whole.
	StageParallel StageKind = "parallel"
	// StageSucceed terminates the run successfully.
	StageSucceed StageKind = "succeed"
	// StageFail terminates the run in failure.
	StageFail StageKind = "fail"
)

// CatchEdge is a declared failure route: the status to notify and the
// stage control transfers to. Catch routing is per stage or per region,
// never per branch.
type CatchEdge struct {
	Status Status
	Next   StageID
}

// RunState is the interpreter state threaded through one run: the
// immutable trigger record plus the results produced so far. Branch
// results of a parallel region are kept in declaration order because
// successor stages address them by index.
type RunState struct {
	RunID    RunID
	Record   TriggerRecord
	Results  map[StageID]StageResult
	Branches map[StageID][]StageResult
}

// Branch is one concurrent arm of a parallel region.
type Branch struct {
	ID     StageID
	Invoke func(state *RunState) ActivityCall
}

// Stage is one descriptor in the pipeline graph. Exactly the fields for
// its kind are set: Invoke for tasks, Branches for parallel regions,
// neither for terminal stages.
type Stage struct {
	ID       StageID
	Kind     StageKind
	Invoke   func(state *RunState) ActivityCall
	Branches []Branch
	Next     StageID
	Catch    *CatchEdge
}

// StageGraph is the explicit directed graph of stage descriptors that
// defines the pipeline. It is interpreted by the workflow's executor
// loop; the topology lives in data, not in code structure.
type StageGraph struct {
	Start  StageID
	Stages map[StageID]Stage
}

// Validate checks the graph for dangling successors and malformed
// descriptors.
func (g StageGraph) Validate() error {
	if _, ok := g.Stages[g.Start]; !ok {
		return fmt.Errorf("%w: start stage %q not defined", ErrInvalidArgument, g.Start)
	}
	for id, stage := range g.Stages {
		if stage.ID != id {
			return fmt.Errorf("%w: stage %q registered under id %q", ErrInvalidArgument, stage.ID, id)
		}
		switch stage.Kind {
		case StageTask:
			if stage.Invoke == nil {
				return fmt.Errorf("%w: task stage %q has no invocation", ErrInvalidArgument, id)
			}
		case StageParallel:
			if len(stage.Branches) == 0 {
				return fmt.Errorf("%w: parallel stage %q has no branches", ErrInvalidArgument, id)
			}
			for _, b := range stage.Branches {
				if b.Invoke == nil {
					return fmt.Errorf("%w: branch %q of %q has no invocation", ErrInvalidArgument, b.ID, id)
				}
			}
		case StageSucceed, StageFail:
			continue
		default:
			return fmt.Errorf("%w: stage %q has unknown kind %q", ErrInvalidArgument, id, stage.Kind)
		}
		if _, ok := g.Stages[stage.Next]; !ok {
			return fmt.Errorf("%w: stage %q points to undefined successor %q", ErrInvalidArgument, id, stage.Next)
		}
		if stage.Catch != nil {
			if _, ok := g.Stages[stage.Catch.Next]; !ok {
				return fmt.Errorf("%w: stage %q catch points to undefined stage %q", ErrInvalidArgument, id, stage.Catch.Next)
			}
		}
	}
	return nil
}
