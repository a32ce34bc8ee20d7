package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that a requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a resource with the same identity
	// already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates that a caller-provided value violates
	// a precondition, including malformed webhook payloads.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDispatch indicates that a run or a build invocation could not
	// be submitted to the external engine or execution service.
	ErrDispatch = errors.New("dispatch failed")
)

// BuildError reports that an external build job reached a terminal
// failure state. It is caught by the pipeline's catch edges and never
// retried.
type BuildError struct {
	JobID  string
	Reason string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build %s failed: %s", e.JobID, e.Reason)
}
