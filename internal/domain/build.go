package domain

import "context"

// BuildStatus is the terminal state an external build job reports.
type BuildStatus string

const (
	BuildStatusSucceeded BuildStatus = "succeeded"
	BuildStatusFailed    BuildStatus = "failed"
)

// SourceSpec locates the input of a build job.
type SourceSpec struct {
	Type     string `json:"type"`
	Location string `json:"location"`
	Version  string `json:"version"`
}

// ArtifactSpec describes where a job writes its output artifact.
type ArtifactSpec struct {
	Bucket     string `json:"bucket"`
	Path       string `json:"path"`
	PackageZip bool   `json:"packageZip"`
}

// JobSpec is the static configuration of a build job on the external
// execution service. Role is an opaque credential identifier carried
// through to the service untouched.
type JobSpec struct {
	Project   string            `json:"project"`
	Role      string            `json:"role"`
	Source    SourceSpec        `json:"source"`
	Env       map[string]string `json:"env"`
	Artifacts *ArtifactSpec     `json:"artifacts,omitempty"`
}

// BuildOverrides is a sparse per-invocation override set merged over a
// job's declared defaults. Unset fields retain the static value.
type BuildOverrides struct {
	SourceType     string
	SourceLocation string
	SourceVersion  string
	Role           string
	Env            map[string]string
	Artifacts      *ArtifactSpec
}

// Merge applies the overrides over the job's defaults and returns the
// effective spec. The merge is total and order-independent per key: an
// explicitly overridden field always wins, everything else keeps the
// job's static configuration. Neither input is mutated.
func (s JobSpec) Merge(o BuildOverrides) JobSpec {
	merged := s
	merged.Env = make(map[string]string, len(s.Env)+len(o.Env))
	for k, v := range s.Env {
		merged.Env[k] = v
	}
	for k, v := range o.Env {
		merged.Env[k] = v
	}
	if o.SourceType != "" {
		merged.Source.Type = o.SourceType
	}
	if o.SourceLocation != "" {
		merged.Source.Location = o.SourceLocation
	}
	if o.SourceVersion != "" {
		merged.Source.Version = o.SourceVersion
	}
	if o.Role != "" {
		merged.Role = o.Role
	}
	if o.Artifacts != nil {
		artifacts := *o.Artifacts
		merged.Artifacts = &artifacts
	}
	return merged
}

// BuildRequest is one build invocation: a job plus its per-invocation
// overrides.
type BuildRequest struct {
	Job       JobSpec
	Overrides BuildOverrides
}

// StageResult is the normalized outcome of one build invocation. For
// artifact-producing jobs, ArtifactLocation is the location descriptor
// the next stage consumes as its input source.
type StageResult struct {
	JobID            string      `json:"jobId"`
	Status           BuildStatus `json:"status"`
	ArtifactLocation string      `json:"artifactLocation,omitempty"`
}

// BuildService invokes jobs on the external build execution service.
type BuildService interface {
	// StartBuild submits the build and waits for the job to reach a
	// terminal state. This can block for the duration of the external
	// job; callers run inside a durable executor and must not assume a
	// fixed timeout. A non-success terminal state is reported as a
	// [*BuildError]; a submission failure wraps [ErrDispatch].
	StartBuild(ctx context.Context, req BuildRequest) (StageResult, error)

	// SubmitBuild submits the build and returns the external job id as
	// soon as the service accepts it.
	SubmitBuild(ctx context.Context, req BuildRequest) (string, error)
}
