package domain_test

import (
	"errors"
	"testing"

	"github.com/githubflow/githubflow-server/internal/domain"
)

func TestCommitVersion_TruncatesToTwelveCharacters(t *testing.T) {
	version, err := domain.CommitVersion("abc123def456789abcdef0123456789abcdef012")
	if err != nil {
		t.Fatal(err)
	}
	if version != "abc123def456" {
		t.Fatalf("version = %q, want %q", version, "abc123def456")
	}
}

func TestCommitVersion_Idempotent(t *testing.T) {
	first, err := domain.CommitVersion("abc123def456789")
	if err != nil {
		t.Fatal(err)
	}
	second, err := domain.CommitVersion(first)
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Fatalf("re-projection changed the version: %q -> %q", first, second)
	}
}

func TestCommitVersion_ShortShaRejected(t *testing.T) {
	_, err := domain.CommitVersion("abc123")
	if err == nil {
		t.Fatal("expected error for sha shorter than the version length")
	}
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("error = %v, want ErrInvalidArgument", err)
	}
}

func TestDeploymentDefaults_ProductionNamespaceFallsBack(t *testing.T) {
	d := domain.DeploymentDefaults{
		ProductionHostname: "app.example.com",
		ProductionCluster:  "prod",
	}
	target := d.Production()
	if target.Namespace != "default" {
		t.Fatalf("Namespace = %q, want %q", target.Namespace, "default")
	}
	if target.Hostname != "app.example.com" {
		t.Fatalf("Hostname = %q, want %q", target.Hostname, "app.example.com")
	}
}

func TestDeploymentDefaults_PreviewHostname(t *testing.T) {
	d := domain.DeploymentDefaults{
		ProductionHostname:  "app.example.com",
		DevelopmentHostname: "dev.example.com",
		DevelopmentCluster:  "dev",
	}
	target := d.Preview(42)
	if target.Hostname != "pr-42.dev.example.com" {
		t.Fatalf("Hostname = %q, want %q", target.Hostname, "pr-42.dev.example.com")
	}
	if target.Cluster != "dev" {
		t.Fatalf("Cluster = %q, want %q", target.Cluster, "dev")
	}
}

func TestDeploymentDefaults_PreviewFallsBackToProduction(t *testing.T) {
	d := domain.DeploymentDefaults{
		ProductionHostname:  "app.example.com",
		ProductionCluster:   "prod",
		ProductionNamespace: "apps",
	}
	target := d.Preview(7)
	if target.Hostname != "pr-7.app.example.com" {
		t.Fatalf("Hostname = %q, want %q", target.Hostname, "pr-7.app.example.com")
	}
	if target.Cluster != "prod" {
		t.Fatalf("Cluster = %q, want %q", target.Cluster, "prod")
	}
	if target.Namespace != "apps" {
		t.Fatalf("Namespace = %q, want %q", target.Namespace, "apps")
	}
}
