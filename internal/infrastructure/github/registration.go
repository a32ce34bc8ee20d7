// Package github manages the webhook registration on the source-control
// host: the side channel that keeps a repository webhook pointing at
// the pipeline's intake endpoint.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// RequestType is the reconcile operation for a webhook registration.
type RequestType int

const (
	RequestCreate RequestType = iota + 1
	RequestUpdate
	RequestDelete
)

func (t RequestType) String() string {
	switch t {
	case RequestCreate:
		return "Create"
	case RequestUpdate:
		return "Update"
	case RequestDelete:
		return "Delete"
	default:
		return fmt.Sprintf("RequestType(%d)", int(t))
	}
}

// UnknownRequestTypeError reports a reconcile request whose type is not
// one of the closed set.
type UnknownRequestTypeError struct {
	Type RequestType
}

func (e *UnknownRequestTypeError) Error() string {
	return fmt.Sprintf("unknown webhook request type %s", e.Type)
}

// Registration identifies one existing webhook registration.
type Registration struct {
	Owner      string
	Repository string
	ID         int64
}

// ReconcileRequest describes the desired registration state. Current is
// only consulted for updates and deletes.
type ReconcileRequest struct {
	Type       RequestType
	Current    Registration
	Owner      string
	Repository string
	Endpoint   string
	Events     []string
}

// Client talks to the source-control host's REST API.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
	Logger  *slog.Logger
}

// hook is the API representation of a webhook.
type hook struct {
	ID     int64    `json:"id,omitempty"`
	Name   string   `json:"name,omitempty"`
	Active bool     `json:"active"`
	Events []string `json:"events"`
	Config struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
	} `json:"config"`
}

// Reconcile applies one registration request. Updates that change the
// owner or repository recreate the registration under a new identifier
// instead of patching in place; delete failures are swallowed as
// best-effort cleanup.
func (c *Client) Reconcile(ctx context.Context, req ReconcileRequest) (Registration, error) {
	switch req.Type {
	case RequestCreate:
		return c.create(ctx, req)
	case RequestUpdate:
		return c.update(ctx, req)
	case RequestDelete:
		c.delete(ctx, req.Current)
		return Registration{}, nil
	default:
		return Registration{}, &UnknownRequestTypeError{Type: req.Type}
	}
}

func (c *Client) create(ctx context.Context, req ReconcileRequest) (Registration, error) {
	payload := hook{Name: "web", Active: true, Events: req.Events}
	payload.Config.URL = req.Endpoint
	payload.Config.ContentType = "json"

	path := fmt.Sprintf("/repos/%s/%s/hooks", req.Owner, req.Repository)
	created, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return Registration{}, fmt.Errorf("create webhook for %s/%s: %w", req.Owner, req.Repository, err)
	}

	c.logger().Info("webhook registered",
		slog.String("owner", req.Owner),
		slog.String("repository", req.Repository),
		slog.Int64("id", created.ID),
	)
	return Registration{Owner: req.Owner, Repository: req.Repository, ID: created.ID}, nil
}

func (c *Client) update(ctx context.Context, req ReconcileRequest) (Registration, error) {
	// A registration is keyed by (owner, repository, id); moving it to
	// another repository means a new registration, not a patch.
	if req.Current.Owner != req.Owner || req.Current.Repository != req.Repository {
		reg, err := c.create(ctx, req)
		if err != nil {
			return Registration{}, err
		}
		c.delete(ctx, req.Current)
		return reg, nil
	}

	payload := hook{Active: true, Events: req.Events}
	payload.Config.URL = req.Endpoint
	payload.Config.ContentType = "json"

	path := fmt.Sprintf("/repos/%s/%s/hooks/%d", req.Owner, req.Repository, req.Current.ID)
	if _, err := c.do(ctx, http.MethodPatch, path, payload); err != nil {
		return Registration{}, fmt.Errorf("update webhook %d on %s/%s: %w", req.Current.ID, req.Owner, req.Repository, err)
	}
	return Registration{Owner: req.Owner, Repository: req.Repository, ID: req.Current.ID}, nil
}

// delete removes a registration; failures are logged only.
func (c *Client) delete(ctx context.Context, reg Registration) {
	if reg.ID == 0 {
		return
	}
	path := fmt.Sprintf("/repos/%s/%s/hooks/%d", reg.Owner, reg.Repository, reg.ID)
	if _, err := c.do(ctx, http.MethodDelete, path, nil); err != nil {
		c.logger().Warn("webhook cleanup failed",
			slog.String("owner", reg.Owner),
			slog.String("repository", reg.Repository),
			slog.Int64("id", reg.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (hook, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return hook{}, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return hook{}, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return hook{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return hook{}, fmt.Errorf("status %d: %s", resp.StatusCode, detail)
	}

	var out hook
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
			return hook{}, fmt.Errorf("decode response: %w", err)
		}
	}
	return out, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
