package domain

import "context"

// Status is the label of a pipeline status notification.
type Status string

const (
	StatusPending          Status = "Pending"
	StatusSucceeded        Status = "Succeeded"
	StatusBuildFailed      Status = "BuildFailed"
	StatusDeploymentFailed Status = "DeploymentFailed"
)

// NotificationEvent is the payload published on the status channel. It
// carries the original trigger record verbatim and no run-internal
// state, so consumers correlate status with the causing commit or pull
// request without understanding pipeline internals.
type NotificationEvent struct {
	Status  Status        `json:"status"`
	Webhook TriggerRecord `json:"webhook"`
}

// Notifier publishes status events to the external notification
/// channel. Publishing is an observability side channel: the pipeline
// treats failures as log-only and never blocks on them.
type Notifier interface {
	Publish(ctx context.Context, event NotificationEvent) error
}
