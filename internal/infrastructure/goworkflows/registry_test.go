package goworkflows_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cschleiden/go-workflows/backend"
	wfsqlite "github.com/cschleiden/go-workflows/backend/sqlite"
	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/worker"

	"github.com/githubflow/githubflow-server/internal/domain"
	"github.com/githubflow/githubflow-server/internal/infrastructure/goworkflows"
	"github.com/githubflow/githubflow-server/internal/infrastructure/sqlite"
)

func startWorker(t *testing.T, b backend.Backend) *worker.Worker {
	t.Helper()
	w := worker.New(b, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = w.WaitForCompletion()
	})
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start worker: %v", err)
	}
	return w
}

type stubBuildService struct {
	mu      sync.Mutex
	results map[string]domain.StageResult
}

func (s *stubBuildService) StartBuild(_ context.Context, req domain.BuildRequest) (domain.StageResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[req.Job.Project], nil
}

func (s *stubBuildService) SubmitBuild(ctx context.Context, req domain.BuildRequest) (string, error) {
	result, err := s.StartBuild(ctx, req)
	return result.JobID, err
}

type capturingNotifier struct {
	mu       sync.Mutex
	statuses []domain.Status
}

func (n *capturingNotifier) Publish(_ context.Context, event domain.NotificationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, event.Status)
	return nil
}

func TestPipeline_GoWorkflows(t *testing.T) {
	b := wfsqlite.NewInMemoryBackend()
	w := startWorker(t, b)
	c := client.New(b)

	db := sqlite.OpenTestDB(t)
	runRepo := &sqlite.RunRepo{DB: db}

	builds := &stubBuildService{
		results: map[string]domain.StageResult{
			"app":    {JobID: "b-app", Status: domain.BuildStatusSucceeded},
			"infra":  {JobID: "b-infra", Status: domain.BuildStatusSucceeded, ArtifactLocation: "bucket/infra/manifest.zip"},
			"deploy": {JobID: "b-deploy", Status: domain.BuildStatusSucceeded},
		},
	}
	notifier := &capturingNotifier{}

	jobs := domain.JobSet{
		Application:    domain.JobSpec{Project: "app"},
		Infrastructure: domain.JobSpec{Project: "infra"},
		Deployment:     domain.JobSpec{Project: "deploy"},
	}
	wf := domain.NewPipelineWorkflow(builds, notifier, runRepo, jobs, nil)

	engine := &goworkflows.Engine{Worker: w, Client: c, Timeout: 10 * time.Second}
	runner, err := engine.PipelineRunner(wf)
	if err != nil {
		t.Fatalf("PipelineRunner: %v", err)
	}

	ctx := context.Background()

	record := domain.TriggerRecord{
		Commit: domain.Commit{ID: "abc123def456789", Version: "abc123def456", Ref: "refs/heads/main"},
		Deployment: domain.DeploymentTarget{
			Hostname:  "app.example.com",
			Cluster:   "prod",
			Namespace: "default",
		},
	}
	run := domain.PipelineRun{
		ID:        "r1",
		Record:    record,
		Stage:     domain.StageNotifyPending,
		Status:    domain.RunStatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := runRepo.Create(ctx, run); err != nil {
		t.Fatalf("Create run: %v", err)
	}

	handle, err := runner.Run(ctx, domain.StartInput{RunID: "r1", Record: record})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	outcome, err := handle.AwaitResult(ctx)
	if err != nil {
		t.Fatalf("AwaitResult: %v", err)
	}
	if outcome.Status != domain.RunStatusSucceeded {
		t.Fatalf("outcome.Status = %q, want %q", outcome.Status, domain.RunStatusSucceeded)
	}

	archived, err := runRepo.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if archived.Status != domain.RunStatusSucceeded {
		t.Errorf("archived status = %q, want %q", archived.Status, domain.RunStatusSucceeded)
	}
	if archived.Results[domain.StageBuildInfrastructure].ArtifactLocation != "bucket/infra/manifest.zip" {
		t.Errorf("infrastructure result not archived: %+v", archived.Results)
	}

	notifier.mu.Lock()
	statuses := append([]domain.Status(nil), notifier.statuses...)
	notifier.mu.Unlock()
	if len(statuses) != 2 || statuses[0] != domain.StatusPending || statuses[1] != domain.StatusSucceeded {
		t.Fatalf("published statuses = %v, want [Pending Succeeded]", statuses)
	}
}
