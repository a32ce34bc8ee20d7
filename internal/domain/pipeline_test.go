package domain_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/githubflow/githubflow-server/internal/domain"
)

// recordingRunner runs activities through a delegate and records their
// names in invocation order so tests can assert execution sequence.
type recordingRunner struct {
	ctx      context.Context
	delegate domain.DurableRunner

	mu        sync.Mutex
	names     []string
	runAllErr error
}

func (r *recordingRunner) ID() string               { return r.delegate.ID() }
func (r *recordingRunner) Context() context.Context { return r.ctx }

func (r *recordingRunner) Run(activity domain.Activity[any, any], in any) (any, error) {
	r.record(activity.Name())
	return r.delegate.Run(activity, in)
}

func (r *recordingRunner) RunAll(calls []domain.ActivityCall) ([]any, error) {
	for _, call := range calls {
		r.record(call.Activity.Name())
	}
	outs, err := r.delegate.RunAll(calls)
	r.mu.Lock()
	r.runAllErr = err
	r.mu.Unlock()
	return outs, err
}

func (r *recordingRunner) record(name string) {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
}

func (r *recordingRunner) activityNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func (r *recordingRunner) lastRunAllErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runAllErr
}

// syncRunnerImpl runs activities synchronously (no durability).
type syncRunnerImpl struct {
	ctx context.Context
}

func (s *syncRunnerImpl) ID() string               { return "test-sync" }
func (s *syncRunnerImpl) Context() context.Context { return s.ctx }

func (s *syncRunnerImpl) Run(activity domain.Activity[any, any], in any) (any, error) {
	return activity.Run(s.ctx, in)
}

// RunAll fans the calls out concurrently, then reports the error of
// the lowest-indexed failing call, like the production backends.
func (s *syncRunnerImpl) RunAll(calls []domain.ActivityCall) ([]any, error) {
	results := make([]any, len(calls))
	errs := make([]error, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call domain.ActivityCall) {
			defer wg.Done()
			results[i], errs[i] = call.Activity.Run(s.ctx, call.In)
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

// stubBuildService resolves builds by project name: either a canned
// result or a canned error, optionally after a canned delay.
type stubBuildService struct {
	mu       sync.Mutex
	results  map[string]domain.StageResult
	failures map[string]error
	delays   map[string]time.Duration
	requests []domain.BuildRequest
}

func (s *stubBuildService) StartBuild(_ context.Context, req domain.BuildRequest) (domain.StageResult, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if d, ok := s.delays[req.Job.Project]; ok {
		time.Sleep(d)
	}
	if err, ok := s.failures[req.Job.Project]; ok {
		return domain.StageResult{}, err
	}
	return s.results[req.Job.Project], nil
}

func (s *stubBuildService) SubmitBuild(ctx context.Context, req domain.BuildRequest) (string, error) {
	result, err := s.StartBuild(ctx, req)
	return result.JobID, err
}

func (s *stubBuildService) requestFor(project string) (domain.BuildRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, req := range s.requests {
		if req.Job.Project == project {
			return req, true
		}
	}
	return domain.BuildRequest{}, false
}

// capturingNotifier records every published status. Err, when set, is
// returned from every Publish call.
type capturingNotifier struct {
	mu       sync.Mutex
	statuses []domain.Status
	Err      error
}

func (n *capturingNotifier) Publish(_ context.Context, event domain.NotificationEvent) error {
	n.mu.Lock()
	n.statuses = append(n.statuses, event.Status)
	n.mu.Unlock()
	return n.Err
}

func (n *capturingNotifier) published() []domain.Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Status(nil), n.statuses...)
}

// stubRunRepo keeps a single run in memory.
type stubRunRepo struct {
	run domain.PipelineRun
}

func (s *stubRunRepo) Create(_ context.Context, run domain.PipelineRun) error {
	s.run = run
	return nil
}

func (s *stubRunRepo) Get(_ context.Context, id domain.RunID) (domain.PipelineRun, error) {
	if id != s.run.ID {
		return domain.PipelineRun{}, domain.ErrNotFound
	}
	return s.run, nil
}

func (s *stubRunRepo) List(_ context.Context) ([]domain.PipelineRun, error) {
	return []domain.PipelineRun{s.run}, nil
}

func (s *stubRunRepo) Update(_ context.Context, run domain.PipelineRun) error {
	s.run = run
	return nil
}

func testJobs() domain.JobSet {
	return domain.JobSet{
		Application:    domain.JobSpec{Project: "app"},
		Infrastructure: domain.JobSpec{Project: "infra"},
		Deployment:     domain.JobSpec{Project: "deploy"},
	}
}

func testRecord() domain.TriggerRecord {
	return domain.TriggerRecord{
		Commit: domain.Commit{
			ID:      "abc123def456789",
			Version: "abc123def456",
			Ref:     "refs/heads/main",
		},
		Deployment: domain.DeploymentTarget{
			Hostname:  "app.example.com",
			Cluster:   "prod",
			Namespace: "default",
		},
	}
}

func newTestHarness(builds domain.BuildService, notifier domain.Notifier) (*domain.PipelineWorkflow, *stubRunRepo, *recordingRunner) {
	runs := &stubRunRepo{
		run: domain.PipelineRun{
			ID:        "r1",
			Record:    testRecord(),
			Stage:     domain.StageNotifyPending,
			Status:    domain.RunStatusPending,
			CreatedAt: time.Now().UTC(),
		},
	}
	wf := domain.NewPipelineWorkflow(builds, notifier, runs, testJobs(), nil)
	ctx := context.Background()
	recorder := &recordingRunner{ctx: ctx, delegate: &syncRunnerImpl{ctx: ctx}}
	return wf, runs, recorder
}

func TestPipeline_SuccessPath(t *testing.T) {
	builds := &stubBuildService{
		results: map[string]domain.StageResult{
			"app":    {JobID: "b-app", Status: domain.BuildStatusSucceeded},
			"infra":  {JobID: "b-infra", Status: domain.BuildStatusSucceeded, ArtifactLocation: "bucket/infra/abc123def456.zip"},
			"deploy": {JobID: "b-deploy", Status: domain.BuildStatusSucceeded},
		},
	}
	notifier := &capturingNotifier{}
	wf, runs, recorder := newTestHarness(builds, notifier)

	outcome, err := wf.Run(recorder, domain.StartInput{RunID: "r1", Record: testRecord()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Status != domain.RunStatusSucceeded {
		t.Fatalf("outcome.Status = %q, want %q", outcome.Status, domain.RunStatusSucceeded)
	}

	want := []string{
		"notify-status",
		"build-application",
		"build-infrastructure",
		"deploy-infrastructure",
		"notify-status",
		"complete-run",
	}
	got := recorder.activityNames()
	if len(got) != len(want) {
		t.Fatalf("activity names = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("activity[%d] = %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}

	statuses := notifier.published()
	if len(statuses) != 2 || statuses[0] != domain.StatusPending || statuses[1] != domain.StatusSucceeded {
		t.Fatalf("published statuses = %v, want [Pending Succeeded]", statuses)
	}

	if runs.run.Status != domain.RunStatusSucceeded {
		t.Errorf("archived status = %q, want %q", runs.run.Status, domain.RunStatusSucceeded)
	}
	if runs.run.Stage != domain.StageSucceeded {
		t.Errorf("archived stage = %q, want %q", runs.run.Stage, domain.StageSucceeded)
	}
}

func TestPipeline_DeployConsumesInfrastructureArtifact(t *testing.T) {
	builds := &stubBuildService{
		results: map[string]domain.StageResult{
			"app":    {JobID: "b-app", Status: domain.BuildStatusSucceeded, ArtifactLocation: "bucket/app/image.txt"},
			"infra":  {JobID: "b-infra", Status: domain.BuildStatusSucceeded, ArtifactLocation: "bucket/infra/manifest.zip"},
			"deploy": {JobID: "b-deploy", Status: domain.BuildStatusSucceeded},
		},
	}
	wf, _, recorder := newTestHarness(builds, &capturingNotifier{})

	if _, err := wf.Run(recorder, domain.StartInput{RunID: "r1", Record: testRecord()}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	req, ok := builds.requestFor("deploy")
	if !ok {
		t.Fatal("deploy job never invoked")
	}
	if req.Overrides.SourceLocation != "bucket/infra/manifest.zip" {
		t.Errorf("deploy SourceLocation = %q, want the infrastructure artifact", req.Overrides.SourceLocation)
	}
	if req.Overrides.SourceType != "S3" {
		t.Errorf("deploy SourceType = %q, want %q", req.Overrides.SourceType, "S3")
	}
	if req.Overrides.Env["CLUSTER_NAME"] != "prod" {
		t.Errorf("deploy CLUSTER_NAME = %q, want %q", req.Overrides.Env["CLUSTER_NAME"], "prod")
	}
}

func TestPipeline_InfrastructureBuildFailure(t *testing.T) {
	builds := &stubBuildService{
		results: map[string]domain.StageResult{
			"app": {JobID: "b-app", Status: domain.BuildStatusSucceeded},
		},
		failures: map[string]error{
			"infra": &domain.BuildError{JobID: "b-infra", Reason: "synth error"},
		},
	}
	notifier := &capturingNotifier{}
	wf, runs, recorder := newTestHarness(builds, notifier)

	outcome, err := wf.Run(recorder, domain.StartInput{RunID: "r1", Record: testRecord()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Status != domain.RunStatusBuildFailed {
		t.Fatalf("outcome.Status = %q, want %q", outcome.Status, domain.RunStatusBuildFailed)
	}

	if _, ok := builds.requestFor("deploy"); ok {
		t.Error("deploy must not run after a build failure")
	}

	statuses := notifier.published()
	if len(statuses) != 2 || statuses[1] != domain.StatusBuildFailed {
		t.Fatalf("published statuses = %v, want exactly one terminal BuildFailed after Pending", statuses)
	}

	if runs.run.Status != domain.RunStatusBuildFailed {
		t.Errorf("archived status = %q, want %q", runs.run.Status, domain.RunStatusBuildFailed)
	}
	if runs.run.Stage != domain.StageFailed {
		t.Errorf("archived stage = %q, want %q", runs.run.Stage, domain.StageFailed)
	}
}

func TestPipeline_ApplicationBuildFailure(t *testing.T) {
	builds := &stubBuildService{
		results: map[string]domain.StageResult{
			"infra": {JobID: "b-infra", Status: domain.BuildStatusSucceeded, ArtifactLocation: "bucket/infra/manifest.zip"},
		},
		failures: map[string]error{
			"app": &domain.BuildError{JobID: "b-app", Reason: "compile error"},
		},
	}
	notifier := &capturingNotifier{}
	wf, runs, recorder := newTestHarness(builds, notifier)

	outcome, err := wf.Run(recorder, domain.StartInput{RunID: "r1", Record: testRecord()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Status != domain.RunStatusBuildFailed {
		t.Fatalf("outcome.Status = %q, want %q", outcome.Status, domain.RunStatusBuildFailed)
	}

	if _, ok := builds.requestFor("deploy"); ok {
		t.Error("deploy must not run after a build failure")
	}

	statuses := notifier.published()
	if len(statuses) != 2 || statuses[1] != domain.StatusBuildFailed {
		t.Fatalf("published statuses = %v, want [Pending BuildFailed]", statuses)
	}

	if runs.run.Status != domain.RunStatusBuildFailed {
		t.Errorf("archived status = %q, want %q", runs.run.Status, domain.RunStatusBuildFailed)
	}
	if runs.run.Stage != domain.StageFailed {
		t.Errorf("archived stage = %q, want %q", runs.run.Stage, domain.StageFailed)
	}
}

// Both build branches fail, with the infrastructure branch failing
// first. The reported error must still be the application branch's:
// RunAll awaits in declaration order, so the lowest-indexed failure
// wins regardless of completion order.
func TestPipeline_BothBuildBranchesFail(t *testing.T) {
	builds := &stubBuildService{
		failures: map[string]error{
			"app":   &domain.BuildError{JobID: "b-app", Reason: "compile error"},
			"infra": &domain.BuildError{JobID: "b-infra", Reason: "synth error"},
		},
		delays: map[string]time.Duration{
			"app": 20 * time.Millisecond,
		},
	}
	notifier := &capturingNotifier{}
	wf, runs, recorder := newTestHarness(builds, notifier)

	outcome, err := wf.Run(recorder, domain.StartInput{RunID: "r1", Record: testRecord()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Status != domain.RunStatusBuildFailed {
		t.Fatalf("outcome.Status = %q, want %q", outcome.Status, domain.RunStatusBuildFailed)
	}

	var buildErr *domain.BuildError
	if !errors.As(recorder.lastRunAllErr(), &buildErr) {
		t.Fatalf("RunAll error = %v, want a *domain.BuildError", recorder.lastRunAllErr())
	}
	if buildErr.JobID != "b-app" {
		t.Errorf("RunAll reported job %q, want the application branch %q", buildErr.JobID, "b-app")
	}

	if runs.run.Status != domain.RunStatusBuildFailed {
		t.Errorf("archived status = %q, want %q", runs.run.Status, domain.RunStatusBuildFailed)
	}
}

func TestPipeline_DeploymentFailure(t *testing.T) {
	builds := &stubBuildService{
		results: map[string]domain.StageResult{
			"app":   {JobID: "b-app", Status: domain.BuildStatusSucceeded},
			"infra": {JobID: "b-infra", Status: domain.BuildStatusSucceeded, ArtifactLocation: "bucket/infra/manifest.zip"},
		},
		failures: map[string]error{
			"deploy": &domain.BuildError{JobID: "b-deploy", Reason: "apply error"},
		},
	}
	notifier := &capturingNotifier{}
	wf, runs, recorder := newTestHarness(builds, notifier)

	outcome, err := wf.Run(recorder, domain.StartInput{RunID: "r1", Record: testRecord()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Status != domain.RunStatusDeploymentFailed {
		t.Fatalf("outcome.Status = %q, want %q", outcome.Status, domain.RunStatusDeploymentFailed)
	}

	statuses := notifier.published()
	if len(statuses) != 2 || statuses[1] != domain.StatusDeploymentFailed {
		t.Fatalf("published statuses = %v, want [Pending DeploymentFailed]", statuses)
	}

	if runs.run.Status != domain.RunStatusDeploymentFailed {
		t.Errorf("archived status = %q, want %q", runs.run.Status, domain.RunStatusDeploymentFailed)
	}
}

func TestPipeline_NotifierFailureDoesNotFailRun(t *testing.T) {
	builds := &stubBuildService{
		results: map[string]domain.StageResult{
			"app":    {JobID: "b-app", Status: domain.BuildStatusSucceeded},
			"infra":  {JobID: "b-infra", Status: domain.BuildStatusSucceeded, ArtifactLocation: "bucket/infra/manifest.zip"},
			"deploy": {JobID: "b-deploy", Status: domain.BuildStatusSucceeded},
		},
	}
	notifier := &capturingNotifier{Err: errors.New("broker unreachable")}
	wf, runs, recorder := newTestHarness(builds, notifier)

	outcome, err := wf.Run(recorder, domain.StartInput{RunID: "r1", Record: testRecord()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Status != domain.RunStatusSucceeded {
		t.Fatalf("outcome.Status = %q, want %q", outcome.Status, domain.RunStatusSucceeded)
	}
	if runs.run.Status != domain.RunStatusSucceeded {
		t.Errorf("archived status = %q, want %q", runs.run.Status, domain.RunStatusSucceeded)
	}
}
