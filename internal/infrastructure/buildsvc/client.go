// Package buildsvc is the HTTP adapter for the external build
// execution service. It submits build invocations with per-invocation
// overrides merged over the job's declared defaults and polls the job
// to a terminal state.
package buildsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/githubflow/githubflow-server/internal/domain"
)

// Client implements [domain.BuildService] against the execution
// service's REST API.
type Client struct {
	BaseURL      string
	HTTP         *http.Client
	PollInterval time.Duration
	Logger       *slog.Logger
}

// buildPayload is the submit request body: the fully merged job spec.
type buildPayload struct {
	Role      string               `json:"role,omitempty"`
	Source    domain.SourceSpec    `json:"source"`
	Env       []envVar             `json:"env,omitempty"`
	Artifacts *domain.ArtifactSpec `json:"artifacts,omitempty"`
}

// envVar is one environment variable override. Type defaults to
// PLAINTEXT; the service accepts typed values but the pipeline only
// carries plain ones.
type envVar struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// buildState is the service's view of one build job.
type buildState struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Artifacts struct {
		Location string `json:"location,omitempty"`
	} `json:"artifacts"`
}

const (
	stateSucceeded = "succeeded"
	stateFailed    = "failed"
	stateStopped   = "stopped"
)

// StartBuild submits the build and blocks until the external job
// reaches a terminal state. The call can take as long as the job does;
// cancellation comes solely from ctx.
func (c *Client) StartBuild(ctx context.Context, req domain.BuildRequest) (domain.StageResult, error) {
	jobID, err := c.SubmitBuild(ctx, req)
	if err != nil {
		return domain.StageResult{}, err
	}
	return c.awaitBuild(ctx, jobID)
}

// SubmitBuild submits the build and returns the external job id as soon
// as the service accepts it. Submission failures wrap
// [domain.ErrDispatch].
func (c *Client) SubmitBuild(ctx context.Context, req domain.BuildRequest) (string, error) {
	merged := req.Job.Merge(req.Overrides)

	payload := buildPayload{
		Role:      merged.Role,
		Source:    merged.Source,
		Artifacts: merged.Artifacts,
	}
	for name, value := range merged.Env {
		payload.Env = append(payload.Env, envVar{Name: name, Type: "PLAINTEXT", Value: value})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal build payload: %w", err)
	}

	url := fmt.Sprintf("%s/projects/%s/builds", c.BaseURL, merged.Project)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: submit build for %s: %v", domain.ErrDispatch, merged.Project, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusCreated {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: submit build for %s: status %d: %s", domain.ErrDispatch, merged.Project, resp.StatusCode, detail)
	}

	var state buildState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return "", fmt.Errorf("%w: decode submit response: %v", domain.ErrDispatch, err)
	}
	if state.ID == "" {
		return "", fmt.Errorf("%w: submit response carries no job id", domain.ErrDispatch)
	}

	c.logger().Info("build submitted",
		slog.String("project", merged.Project),
		slog.String("job_id", state.ID),
	)
	return state.ID, nil
}

// awaitBuild polls the job until it reaches a terminal state. A
// non-success terminal state is a [*domain.BuildError].
func (c *Client) awaitBuild(ctx context.Context, jobID string) (domain.StageResult, error) {
	ticker := time.NewTicker(c.pollInterval())
	defer ticker.Stop()

	for {
		state, err := c.getBuild(ctx, jobID)
		if err != nil {
			return domain.StageResult{}, err
		}

		switch state.Status {
		case stateSucceeded:
			return domain.StageResult{
				JobID:            state.ID,
				Status:           domain.BuildStatusSucceeded,
				ArtifactLocation: state.Artifacts.Location,
			}, nil
		case stateFailed, stateStopped:
			reason := state.Reason
			if reason == "" {
				reason = state.Status
			}
			return domain.StageResult{}, &domain.BuildError{JobID: state.ID, Reason: reason}
		}

		select {
		case <-ctx.Done():
			return domain.StageResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) getBuild(ctx context.Context, jobID string) (buildState, error) {
	url := fmt.Sprintf("%s/builds/%s", c.BaseURL, jobID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return buildState{}, fmt.Errorf("build status request: %w", err)
	}

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return buildState{}, fmt.Errorf("%w: poll build %s: %v", domain.ErrDispatch, jobID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return buildState{}, fmt.Errorf("%w: poll build %s: status %d: %s", domain.ErrDispatch, jobID, resp.StatusCode, detail)
	}

	var state buildState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return buildState{}, fmt.Errorf("%w: decode build state: %v", domain.ErrDispatch, err)
	}
	return state, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return 5 * time.Second
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
