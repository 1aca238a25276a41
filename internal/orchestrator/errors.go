package orchestrator

import (
	"errors"
	"fmt"
)

// Error codes reported by the orchestrator REST API.
const (
	codeNotFound           = "not_found_error"
	codeCreationPending    = "deployment_environment_creation_pending_error"
	codeCreationInProgress = "deployment_environment_creation_in_progress_error"
)

// ErrEnvironmentTimeout is returned when a workflow start keeps hitting the
// deployment-environment-creation window past the retry budget.
var ErrEnvironmentTimeout = errors.New("deployment environment was not ready within the retry budget")

// ClientError is a structured failure from the orchestrator REST API. Remote
// and transport errors never escape the adapter in any other form.
type ClientError struct {
	StatusCode int
	ErrorCode  string
	Message    string
}

func (e *ClientError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("orchestrator error %s (HTTP %d): %s", e.ErrorCode, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("orchestrator error (HTTP %d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err means the entity is unknown to the
// orchestrator.
func IsNotFound(err error) bool {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.StatusCode == 404 || ce.ErrorCode == codeNotFound
	}
	return false
}

// isCreationPending reports whether err is the transient
// environment-still-being-prepared condition worth retrying.
func isCreationPending(err error) bool {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.ErrorCode == codeCreationPending || ce.ErrorCode == codeCreationInProgress
	}
	return false
}
