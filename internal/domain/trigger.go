package domain

import "fmt"

// commitVersionLen is the length of the short commit version projected
// from a commit SHA.
const commitVersionLen = 12

// Commit identifies the source revision a run builds.
type Commit struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	Ref     string `json:"ref"`
}

// PullRequestRef carries the pull-request coordinates of a preview run.
type PullRequestRef struct {
	Number      int    `json:"number"`
	URL         string `json:"url"`
	CommentsURL string `json:"commentsUrl"`
	StatusesURL string `json:"statusesUrl"`
}

// DeploymentTarget is the fully resolved destination of a run. It is
// bound before the run starts; nothing inside the pipeline rebinds it.
type DeploymentTarget struct {
	Hostname  string `json:"hostname"`
	Cluster   string `json:"cluster"`
	Namespace string `json:"namespace"`
}

// TriggerRecord is the canonical, immutable input to one pipeline run.
// Every stage reads it; no stage mutates it.
type TriggerRecord struct {
	Commit      Commit           `json:"commit"`
	PullRequest *PullRequestRef  `json:"pullRequest,omitempty"`
	Deployment  DeploymentTarget `json:"deployment"`
}

// CommitVersion projects a commit SHA onto its short, fixed-length
// version identifier: the first 12 characters. The projection is
// deterministic and idempotent; SHAs shorter than 12 characters are
// rejected.
func CommitVersion(sha string) (string, error) {
	if len(sha) < commitVersionLen {
		return "", fmt.Errorf("%w: commit sha %q shorter than %d characters", ErrInvalidArgument, sha, commitVersionLen)
	}
	return sha[:commitVersionLen], nil
}

// resolveFirst returns the first non-empty value. It is the single
// expression of the configuration fallback chain (explicit development
// value, then production value, then hard default).
func resolveFirst(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// DeploymentDefaults holds the configured production and development
// deployment coordinates from which per-run targets are derived.
type DeploymentDefaults struct {
	ProductionHostname   string
	ProductionCluster    string
	ProductionNamespace  string
	DevelopmentHostname  string
	DevelopmentCluster   string
	DevelopmentNamespace string
}

// Production returns the production deployment target used by
// default-branch push runs.
func (d DeploymentDefaults) Production() DeploymentTarget {
	return DeploymentTarget{
		Hostname:  d.ProductionHostname,
		Cluster:   d.ProductionCluster,
		Namespace: resolveFirst(d.ProductionNamespace, "default"),
	}
}

// Preview returns the preview deployment target for a pull request.
// The hostname is pr-<number>.<development-hostname>; cluster and
// namespace fall back to the production values, the namespace finally
// to "default".
func (d DeploymentDefaults) Preview(number int) DeploymentTarget {
	host := resolveFirst(d.DevelopmentHostname, d.ProductionHostname)
	return DeploymentTarget{
		Hostname:  fmt.Sprintf("pr-%d.%s", number, host),
		Cluster:   resolveFirst(d.DevelopmentCluster, d.ProductionCluster),
		Namespace: resolveFirst(d.DevelopmentNamespace, d.ProductionNamespace, "default"),
	}
}
