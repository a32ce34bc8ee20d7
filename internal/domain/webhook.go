package domain

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// Webhook event kinds as delivered in the x-github-event header.
const (
	EventKindPush        = "push"
	EventKindPullRequest = "pull_request"
)

// pushEvent is the subset of a push webhook payload the normalizer reads.
type pushEvent struct {
	Ref        string `json:"ref"`
	Repository struct {
		DefaultBranch string `json:"default_branch"`
	} `json:"repository"`
	HeadCommit struct {
		ID string `json:"id"`
	} `json:"head_commit"`
}

// pullRequestEvent is the subset of a pull_request webhook payload the
// normalizer reads.
type pullRequestEvent struct {
	Action      string `json:"action"`
	PullRequest struct {
		Number int    `json:"number"`
		URL    string `json:"url"`
		Head   struct {
			SHA string `json:"sha"`
			Ref string `json:"ref"`
		} `json:"head"`
		CommentsURL string `json:"comments_url"`
		StatusesURL string `json:"statuses_url"`
	} `json:"pull_request"`
}

// Normalizer maps inbound webhook payloads onto trigger records and
// decides whether an event qualifies for a run at all.
type Normalizer struct {
	Defaults DeploymentDefaults
	Logger   *slog.Logger
}

// Normalize shapes one webhook delivery into a trigger record. The
// second return value reports whether the event qualifies for a run;
// a disqualifying event is a deliberate no-op, not an error. Errors are
// reserved for malformed payloads.
func (n *Normalizer) Normalize(kind string, payload []byte) (TriggerRecord, bool, error) {
	switch kind {
	case EventKindPush:
		return n.normalizePush(payload)
	case EventKindPullRequest:
		return n.normalizePullRequest(payload)
	default:
		n.logger().Info("ignoring webhook event", slog.String("kind", kind))
		return TriggerRecord{}, false, nil
	}
}

func (n *Normalizer) normalizePush(payload []byte) (TriggerRecord, bool, error) {
	var ev pushEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return TriggerRecord{}, false, fmt.Errorf("%w: parse push event: %v", ErrInvalidArgument, err)
	}
	if ev.Ref == "" || ev.Repository.DefaultBranch == "" || ev.HeadCommit.ID == "" {
		return TriggerRecord{}, false, fmt.Errorf("%w: push event missing ref, default_branch or head_commit.id", ErrInvalidArgument)
	}

	// Only the default branch triggers the pipeline.
	if ev.Ref != "refs/heads/"+ev.Repository.DefaultBranch {
		return TriggerRecord{}, false, nil
	}

	version, err := CommitVersion(ev.HeadCommit.ID)
	if err != nil {
		return TriggerRecord{}, false, err
	}

	n.logger().Info("handling push event", slog.String("ref", ev.Ref))
	return TriggerRecord{
		Commit: Commit{
			ID:      ev.HeadCommit.ID,
			Version: version,
			Ref:     ev.Ref,
		},
		Deployment: n.Defaults.Production(),
	}, true, nil
}

func (n *Normalizer) normalizePullRequest(payload []byte) (TriggerRecord, bool, error) {
	var ev pullRequestEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return TriggerRecord{}, false, fmt.Errorf("%w: parse pull_request event: %v", ErrInvalidArgument, err)
	}

	// Only newly opened pull requests and pushes to existing ones
	// produce a preview run.
	if ev.Action != "opened" && ev.Action != "synchronize" {
		return TriggerRecord{}, false, nil
	}

	if ev.PullRequest.Number == 0 || ev.PullRequest.Head.SHA == "" || ev.PullRequest.Head.Ref == "" {
		return TriggerRecord{}, false, fmt.Errorf("%w: pull_request event missing number, head.sha or head.ref", ErrInvalidArgument)
	}

	version, err := CommitVersion(ev.PullRequest.Head.SHA)
	if err != nil {
		return TriggerRecord{}, false, err
	}

	n.logger().Info("handling pull request event",
		slog.Int("number", ev.PullRequest.Number),
		slog.String("ref", ev.PullRequest.Head.Ref),
	)
	return TriggerRecord{
		Commit: Commit{
			ID:      ev.PullRequest.Head.SHA,
			Version: version,
			Ref:     ev.PullRequest.Head.Ref,
		},
		PullRequest: &PullRequestRef{
			Number:      ev.PullRequest.Number,
			URL:         ev.PullRequest.URL,
			CommentsURL: ev.PullRequest.CommentsURL,
			StatusesURL: ev.PullRequest.StatusesURL,
		},
		Deployment: n.Defaults.Preview(ev.PullRequest.Number),
	}, true, nil
}

func (n *Normalizer) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slog.Default()
}
