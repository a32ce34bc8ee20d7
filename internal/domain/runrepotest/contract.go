// Package runrepotest holds the contract test every
// [domain.RunRepository] implementation must pass.
package runrepotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/githubflow/githubflow-server/internal/domain"
)

// Factory creates a fresh, empty repository for one test.
type Factory func(t *testing.T) domain.RunRepository

// Run exercises the RunRepository contract against the given factory.
func Run(t *testing.T, factory Factory) {
	t.Run("CreateAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		run := sampleRun("r1")
		if err := repo.Create(ctx, run); err != nil {
			t.Fatalf("Create: %v", err)
		}

		got, err := repo.Get(ctx, "r1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.ID != run.ID {
			t.Errorf("ID = %q, want %q", got.ID, run.ID)
		}
		if got.Status != domain.RunStatusPending {
			t.Errorf("Status = %q, want %q", got.Status, domain.RunStatusPending)
		}
		if got.Record.Commit.Version != "abc123def456" {
			t.Errorf("Commit.Version = %q, want %q", got.Record.Commit.Version, "abc123def456")
		}
		if got.Record.Deployment.Hostname != "app.example.com" {
			t.Errorf("Deployment.Hostname = %q, want %q", got.Record.Deployment.Hostname, "app.example.com")
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Create(ctx, sampleRun("r1")); err != nil {
			t.Fatalf("Create: %v", err)
		}
		err := repo.Create(ctx, sampleRun("r1"))
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("duplicate Create: got %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		repo := factory(t)

		_, err := repo.Get(context.Background(), "missing")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get missing: got %v, want ErrNotFound", err)
		}
	})

	t.Run("UpdateTerminal", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		run := sampleRun("r1")
		if err := repo.Create(ctx, run); err != nil {
			t.Fatalf("Create: %v", err)
		}

		results := map[domain.StageID]domain.StageResult{
			domain.StageBuildApplication:    {JobID: "job-a", Status: domain.BuildStatusSucceeded},
			domain.StageBuildInfrastructure: {JobID: "job-i", Status: domain.BuildStatusSucceeded, ArtifactLocation: "bucket/key.zip"},
		}
		if err := run.Complete(domain.RunStatusSucceeded, domain.StageSucceeded, results, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)); err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if err := repo.Update(ctx, run); err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, err := repo.Get(ctx, "r1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status != domain.RunStatusSucceeded {
			t.Errorf("Status = %q, want %q", got.Status, domain.RunStatusSucceeded)
		}
		if got.Stage != domain.StageSucceeded {
			t.Errorf("Stage = %q, want %q", got.Stage, domain.StageSucceeded)
		}
		if got.Results[domain.StageBuildInfrastructure].ArtifactLocation != "bucket/key.zip" {
			t.Errorf("infrastructure artifact = %q, want %q",
				got.Results[domain.StageBuildInfrastructure].ArtifactLocation, "bucket/key.zip")
		}
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		repo := factory(t)

		err := repo.Update(context.Background(), sampleRun("ghost"))
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Update missing: got %v, want ErrNotFound", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		for _, id := range []domain.RunID{"r1", "r2", "r3"} {
			if err := repo.Create(ctx, sampleRun(id)); err != nil {
				t.Fatalf("Create %s: %v", id, err)
			}
		}

		runs, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(runs) != 3 {
			t.Fatalf("List: got %d runs, want 3", len(runs))
		}
	})
}

func sampleRun(id domain.RunID) domain.PipelineRun {
	return domain.PipelineRun{
		ID: id,
		Record: domain.TriggerRecord{
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
		},
		Stage:     domain.StageNotifyPending,
		Status:    domain.RunStatusPending,
		CreatedAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}
